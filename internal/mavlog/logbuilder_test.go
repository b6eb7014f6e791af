package mavlog

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// Default-layout builders for synthetic log files. Offsets follow the
// canonical FMT body: type, length, name[4], format[16], columns[64].

func buildFMT(t *testing.T, typeID uint8, length int, name, format, columns string) []byte {
	t.Helper()
	rec := make([]byte, 89)
	rec[0], rec[1] = 0xA3, 0x95
	rec[2] = 128
	rec[3] = typeID
	rec[4] = uint8(length)
	copy(rec[5:9], name)
	copy(rec[9:25], format)
	copy(rec[25:89], columns)
	return rec
}

func buildRecord(typeID uint8, payload []byte) []byte {
	rec := make([]byte, 0, 3+len(payload))
	rec = append(rec, 0xA3, 0x95, typeID)
	return append(rec, payload...)
}

// gpsPayload encodes the BIL test layout: Status u8, TimeMS u32, Lat i32/1e7.
func gpsPayload(status uint8, timeMS uint32, latRaw int32) []byte {
	buf := make([]byte, 9)
	buf[0] = status
	binary.LittleEndian.PutUint32(buf[1:5], timeMS)
	binary.LittleEndian.PutUint32(buf[5:9], uint32(latRaw))
	return buf
}

// imuPayload encodes the ffh test layout: AccX f32, AccY f32, Temp i16.
func imuPayload(accX, accY float32, temp int16) []byte {
	buf := make([]byte, 10)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(accX))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(accY))
	binary.LittleEndian.PutUint16(buf[8:10], uint16(temp))
	return buf
}

func writeLog(t *testing.T, chunks ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.bin")
	var data []byte
	for _, chunk := range chunks {
		data = append(data, chunk...)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

const (
	gpsType uint8 = 0x10
	imuType uint8 = 0x11
)

func gpsFMT(t *testing.T) []byte {
	t.Helper()
	return buildFMT(t, gpsType, 12, "GPS", "BIL", "Status,TimeMS,Lat")
}

func imuFMT(t *testing.T) []byte {
	t.Helper()
	return buildFMT(t, imuType, 13, "IMU", "ffh", "AccX,AccY,Temp")
}

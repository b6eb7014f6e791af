package mavlog

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"reflect"
	"strings"
	"testing"
)

func TestDecodeEmptyFile(t *testing.T) {
	path := writeLog(t)
	p, err := Open(path, DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()
	msgs, err := p.DecodeAll("")
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("empty file decoded %d messages", len(msgs))
	}
}

func TestDecodeSingleMessage(t *testing.T) {
	path := writeLog(t,
		gpsFMT(t),
		buildRecord(gpsType, gpsPayload(3, 123456, 473566201)),
	)
	p, err := Open(path, DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()
	msgs, err := p.DecodeAll("")
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("decoded %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Name != "GPS" {
		t.Fatalf("Name = %q, want GPS", m.Name)
	}
	if m.Offset != 89 {
		t.Fatalf("Offset = %d, want 89", m.Offset)
	}
	wantFields := []string{"Status", "TimeMS", "Lat"}
	if !reflect.DeepEqual(m.Fields, wantFields) {
		t.Fatalf("Fields = %v, want %v", m.Fields, wantFields)
	}
	if v, _ := m.Get("Status"); v != uint8(3) {
		t.Fatalf("Status = %v (%T), want uint8 3", v, v)
	}
	if v, _ := m.Get("TimeMS"); v != uint32(123456) {
		t.Fatalf("TimeMS = %v (%T), want uint32 123456", v, v)
	}
	if v, _ := m.Get("Lat"); v != float64(473566201)/1e7 {
		t.Fatalf("Lat = %v, want %v", v, float64(473566201)/1e7)
	}
}

func TestScaleFactors(t *testing.T) {
	// cCeE divide by 100, L by 1e7, M stays an integer.
	fmtRec := buildFMT(t, 0x30, 3+2+2+4+4+4+1, "SCL", "cCeELM", "A,B,C,D,E,F")
	payload := make([]byte, 17)
	binary.LittleEndian.PutUint16(payload[0:2], uint16(int16(1234)))
	binary.LittleEndian.PutUint16(payload[2:4], 5678)
	binary.LittleEndian.PutUint32(payload[4:8], uint32(int32(12345678)))
	binary.LittleEndian.PutUint32(payload[8:12], 12345678)
	mVal := int32(-1425285255)
	binary.LittleEndian.PutUint32(payload[12:16], uint32(mVal))
	payload[16] = 7
	path := writeLog(t, fmtRec, buildRecord(0x30, payload))

	p, err := Open(path, DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()
	msgs, err := p.DecodeAll("")
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("decoded %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	checks := []struct {
		field string
		want  any
	}{
		{field: "A", want: 1234.0 / 100},
		{field: "B", want: 5678.0 / 100},
		{field: "C", want: 12345678.0 / 100},
		{field: "D", want: 12345678.0 / 100},
		{field: "E", want: float64(-1425285255) / 1e7},
		{field: "F", want: uint8(7)},
	}
	for _, c := range checks {
		got, ok := m.Get(c.field)
		if !ok {
			t.Fatalf("field %s missing", c.field)
		}
		if got != c.want {
			t.Fatalf("field %s = %v (%T), want %v", c.field, got, got, c.want)
		}
	}
}

func TestOpaqueField(t *testing.T) {
	fmtRec := buildFMT(t, 0x31, 3+1+64, "BLB", "BZ", "Id,Data")
	payload := make([]byte, 65)
	payload[0] = 9
	for i := 1; i < 65; i++ {
		payload[i] = byte(i)
	}
	path := writeLog(t, fmtRec, buildRecord(0x31, payload))

	p, err := Open(path, DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()
	msgs, err := p.DecodeAll("")
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("decoded %d messages, want 1", len(msgs))
	}
	v, _ := msgs[0].Get("Data")
	raw, ok := v.([]byte)
	if !ok {
		t.Fatalf("Data = %T, want []byte", v)
	}
	if len(raw) != 64 || raw[0] != 1 || raw[63] != 64 {
		t.Fatalf("Data bytes wrong: len=%d first=%d last=%d", len(raw), raw[0], raw[63])
	}
}

func TestCharAndArrayFields(t *testing.T) {
	fmtRec := buildFMT(t, 0x32, 3+4+64, "ARR", "na", "Id,Samples")
	payload := make([]byte, 68)
	copy(payload[0:4], "AB\x00\x00")
	payload[4], payload[5] = 0xFF, 0xFF // samples[0] = -1
	path := writeLog(t, fmtRec, buildRecord(0x32, payload))

	p, err := Open(path, DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()
	msgs, err := p.DecodeAll("")
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("decoded %d messages, want 1", len(msgs))
	}
	if v, _ := msgs[0].Get("Id"); v != "AB" {
		t.Fatalf("Id = %v, want AB", v)
	}
	v, _ := msgs[0].Get("Samples")
	samples, ok := v.([]int16)
	if !ok {
		t.Fatalf("Samples = %T, want []int16", v)
	}
	if len(samples) != 32 || samples[0] != -1 || samples[1] != 0 {
		t.Fatalf("Samples wrong: len=%d [0]=%d [1]=%d", len(samples), samples[0], samples[1])
	}
}

func TestNaNFloat(t *testing.T) {
	path := writeLog(t,
		imuFMT(t),
		buildRecord(imuType, imuPayload(float32(math.NaN()), 1.5, -40)),
	)
	p, err := Open(path, DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()
	msgs, err := p.DecodeAll("")
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("decoded %d messages, want 1", len(msgs))
	}
	v, _ := msgs[0].Get("AccX")
	f, ok := v.(float32)
	if !ok || !math.IsNaN(float64(f)) {
		t.Fatalf("AccX = %v (%T), want NaN float32", v, v)
	}
	if v, _ := msgs[0].Get("AccY"); v != float32(1.5) {
		t.Fatalf("AccY = %v, want 1.5", v)
	}
	if v, _ := msgs[0].Get("Temp"); v != int16(-40) {
		t.Fatalf("Temp = %v, want -40", v)
	}

	// A NaN-bearing message must still serialize for NDJSON output.
	b, err := msgs[0].MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON with NaN: %v", err)
	}
	if !strings.Contains(string(b), `"AccX":null`) {
		t.Fatalf("NaN not encoded as null: %s", b)
	}
}

func TestPhantomSyncRejected(t *testing.T) {
	// A payload carrying the sync marker followed by a known type id looks
	// like a record start. A scan beginning at that phantom must reject it
	// via the tail-sync check and recover at the next real record.
	rec1 := buildRecord(gpsType, gpsPayload(1, 0, 100))
	rec1[5], rec1[6] = 0xA3, 0x95 // phantom marker in the payload
	rec1[7] = gpsType             // with a known type id
	rec2 := buildRecord(gpsType, gpsPayload(2, 200, 200))
	rec3 := buildRecord(gpsType, gpsPayload(3, 300, 300))
	path := writeLog(t, gpsFMT(t), rec1, rec2, rec3)

	p, err := Open(path, DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	// The aligned sequential scan never even looks at the phantom.
	msgs, err := p.DecodeAll("")
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("decoded %d messages, want 3", len(msgs))
	}

	// A scan starting on the phantom itself must not emit a record for it.
	table, err := p.ScanFormats()
	if err != nil {
		t.Fatalf("ScanFormats: %v", err)
	}
	s := p.Section(89+5, p.Size(), table, "")
	var recovered []*Message
	for {
		m, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		recovered = append(recovered, m)
	}
	if len(recovered) != 2 {
		t.Fatalf("recovered %d messages, want 2", len(recovered))
	}
	for i, wantStatus := range []uint8{2, 3} {
		if v, _ := recovered[i].Get("Status"); v != wantStatus {
			t.Fatalf("message %d Status = %v, want %d", i, v, wantStatus)
		}
	}
}

func TestTruncatedTail(t *testing.T) {
	rec2 := buildRecord(gpsType, gpsPayload(2, 200, 200))
	path := writeLog(t,
		gpsFMT(t),
		buildRecord(gpsType, gpsPayload(1, 100, 100)),
		rec2[:7], // cut mid-record
	)
	p, err := Open(path, DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()
	msgs, err := p.DecodeAll("")
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("decoded %d messages, want 1", len(msgs))
	}
	if v, _ := msgs[0].Get("Status"); v != uint8(1) {
		t.Fatalf("Status = %v, want 1", v)
	}
}

func TestFilterCommutesWithDecoding(t *testing.T) {
	path := writeLog(t,
		gpsFMT(t),
		imuFMT(t),
		buildRecord(gpsType, gpsPayload(1, 100, 100)),
		buildRecord(imuType, imuPayload(0.5, -0.5, 21)),
		buildRecord(gpsType, gpsPayload(2, 200, 200)),
		buildRecord(imuType, imuPayload(1.5, -1.5, 22)),
	)
	p, err := Open(path, DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	all, err := p.DecodeAll("")
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	p.Close()
	if len(all) != 4 {
		t.Fatalf("decoded %d messages, want 4", len(all))
	}

	p2, err := Open(path, DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p2.Close()
	filtered, err := p2.DecodeAll("GPS")
	if err != nil {
		t.Fatalf("DecodeAll(GPS): %v", err)
	}
	var manual []*Message
	for _, m := range all {
		if m.Name == "GPS" {
			manual = append(manual, m)
		}
	}
	if !reflect.DeepEqual(filtered, manual) {
		t.Fatalf("filter does not commute: got %d, want %d", len(filtered), len(manual))
	}
}

func TestEndOffsetMidRecord(t *testing.T) {
	path := writeLog(t,
		gpsFMT(t),
		buildRecord(gpsType, gpsPayload(1, 100, 100)),
		buildRecord(gpsType, gpsPayload(2, 200, 200)),
	)
	p, err := Open(path, DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	// End inside the second record: only the first is wholly contained.
	scan := p.Messages("", 89+12+6)
	var msgs []*Message
	for {
		m, err := scan.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		msgs = append(msgs, m)
	}
	if len(msgs) != 1 {
		t.Fatalf("decoded %d messages, want 1", len(msgs))
	}
	if v, _ := msgs[0].Get("Status"); v != uint8(1) {
		t.Fatalf("Status = %v, want 1", v)
	}
}

func TestOffsetsStrictlyIncreasing(t *testing.T) {
	chunks := [][]byte{gpsFMT(t), imuFMT(t)}
	for i := 0; i < 50; i++ {
		chunks = append(chunks, buildRecord(gpsType, gpsPayload(uint8(i), uint32(i), int32(i))))
		chunks = append(chunks, buildRecord(imuType, imuPayload(float32(i), -float32(i), int16(i))))
	}
	path := writeLog(t, chunks...)
	p, err := Open(path, DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()
	msgs, err := p.DecodeAll("")
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(msgs) != 100 {
		t.Fatalf("decoded %d messages, want 100", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Offset <= msgs[i-1].Offset {
			t.Fatalf("offsets not strictly increasing at %d: %d then %d",
				i, msgs[i-1].Offset, msgs[i].Offset)
		}
	}
}

func TestDuplicateFMTRecords(t *testing.T) {
	path := writeLog(t,
		gpsFMT(t),
		gpsFMT(t), // identical duplicate, idempotent
		buildRecord(gpsType, gpsPayload(1, 100, 100)),
	)
	p, err := Open(path, DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()
	msgs, err := p.DecodeAll("")
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("decoded %d messages, want 1", len(msgs))
	}
}

func TestScanFormats(t *testing.T) {
	path := writeLog(t,
		gpsFMT(t),
		buildRecord(gpsType, gpsPayload(1, 100, 100)),
		imuFMT(t),
		buildRecord(imuType, imuPayload(0.5, -0.5, 21)),
	)
	p, err := Open(path, DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()
	table, err := p.ScanFormats()
	if err != nil {
		t.Fatalf("ScanFormats: %v", err)
	}
	if table.Len() != 3 { // FMT + GPS + IMU
		t.Fatalf("table has %d entries, want 3", table.Len())
	}
	for _, id := range []uint8{gpsType, imuType} {
		if _, ok := table.Lookup(id); !ok {
			t.Fatalf("type 0x%02x missing after pre-scan", id)
		}
	}
}

func TestSequentialSplitEquivalence(t *testing.T) {
	// Invariant: decoding [0, size) equals decoding [0, cut) ++ [cut, size)
	// when the cut is on a record boundary and the table is complete.
	chunks := [][]byte{gpsFMT(t)}
	for i := 0; i < 10; i++ {
		chunks = append(chunks, buildRecord(gpsType, gpsPayload(uint8(i), uint32(i), int32(i))))
	}
	path := writeLog(t, chunks...)
	p, err := Open(path, DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()
	whole, err := p.DecodeAll("")
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}

	table, err := p.ScanFormats()
	if err != nil {
		t.Fatalf("ScanFormats: %v", err)
	}
	cut := int64(89 + 5*12)
	var joined []*Message
	for _, sp := range []span{{0, cut}, {cut, p.Size()}} {
		s := p.Section(sp.lo, sp.hi, table.Clone(), "")
		for {
			m, err := s.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			joined = append(joined, m)
		}
	}
	if !reflect.DeepEqual(whole, joined) {
		t.Fatalf("split decode differs: %d vs %d messages", len(whole), len(joined))
	}
}

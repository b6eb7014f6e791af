package mavlog

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
)

// decodeRecord turns a complete raw record into a Message per its
// descriptor. rec includes the 3-byte preamble; its length was validated
// against the descriptor when the FMT was registered.
func decodeRecord(d *Descriptor, rec []byte, offset int64) *Message {
	msg := &Message{
		Name:   d.Name,
		Offset: offset,
		Fields: d.Columns,
		Values: make([]any, len(d.Columns)),
	}
	body := rec[preambleSize:]
	off := 0
	for i, c := range d.codecs {
		raw := body[off : off+c.wireSize()]
		off += c.wireSize()
		switch {
		case d.opaque[i]:
			msg.Values[i] = bytes.Clone(raw)
		case c.kind == kindChar:
			msg.Values[i] = charField(raw)
		case c.count > 1:
			msg.Values[i] = decodeArray(c, raw)
		default:
			msg.Values[i] = decodeScalar(c, raw, d.divisors[i])
		}
	}
	return msg
}

func decodeScalar(c codec, raw []byte, divisor float64) any {
	switch c.kind {
	case kindInt:
		var v int64
		switch c.size {
		case 1:
			v = int64(int8(raw[0]))
		case 2:
			v = int64(int16(binary.LittleEndian.Uint16(raw)))
		case 4:
			v = int64(int32(binary.LittleEndian.Uint32(raw)))
		default:
			v = int64(binary.LittleEndian.Uint64(raw))
		}
		if divisor != 0 {
			return float64(v) / divisor
		}
		switch c.size {
		case 1:
			return int8(v)
		case 2:
			return int16(v)
		case 4:
			return int32(v)
		default:
			return v
		}
	case kindUint:
		var v uint64
		switch c.size {
		case 1:
			v = uint64(raw[0])
		case 2:
			v = uint64(binary.LittleEndian.Uint16(raw))
		case 4:
			v = uint64(binary.LittleEndian.Uint32(raw))
		default:
			v = binary.LittleEndian.Uint64(raw)
		}
		if divisor != 0 {
			return float64(v) / divisor
		}
		switch c.size {
		case 1:
			return uint8(v)
		case 2:
			return uint16(v)
		case 4:
			return uint32(v)
		default:
			return v
		}
	default: // kindFloat
		if c.size == 4 {
			return math.Float32frombits(binary.LittleEndian.Uint32(raw))
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(raw))
	}
}

func decodeArray(c codec, raw []byte) any {
	elem := codec{kind: c.kind, size: c.size, count: 1}
	switch {
	case c.kind == kindInt && c.size == 2:
		out := make([]int16, c.count)
		for i := range out {
			out[i] = decodeScalar(elem, raw[i*2:i*2+2], 0).(int16)
		}
		return out
	case c.kind == kindInt && c.size == 4:
		out := make([]int32, c.count)
		for i := range out {
			out[i] = decodeScalar(elem, raw[i*4:i*4+4], 0).(int32)
		}
		return out
	case c.kind == kindUint && c.size == 2:
		out := make([]uint16, c.count)
		for i := range out {
			out[i] = decodeScalar(elem, raw[i*2:i*2+2], 0).(uint16)
		}
		return out
	case c.kind == kindFloat && c.size == 4:
		out := make([]float32, c.count)
		for i := range out {
			out[i] = decodeScalar(elem, raw[i*4:i*4+4], 0).(float32)
		}
		return out
	default:
		out := make([]any, c.count)
		for i := range out {
			out[i] = decodeScalar(elem, raw[i*c.size:(i+1)*c.size], 0)
		}
		return out
	}
}

// charField strips everything from the first NUL and trims surrounding
// whitespace.
func charField(raw []byte) string {
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSpace(string(raw))
}

package mavlog

import (
	"bytes"
	"encoding/json"
	"math"
)

// Message is one decoded record. Fields and Values are parallel slices in
// the order declared by the record's FMT descriptor. Offset is the byte
// position of the record's sync marker in the file.
type Message struct {
	Name   string
	Offset int64
	Fields []string
	Values []any
}

// Get returns the value of the named field.
func (m *Message) Get(field string) (any, bool) {
	for i, name := range m.Fields {
		if name == field {
			return m.Values[i], true
		}
	}
	return nil, false
}

// MarshalJSON renders the message as an object with "mavpackettype" first
// and the remaining keys in descriptor order.
func (m *Message) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"mavpackettype":`)
	name, err := json.Marshal(m.Name)
	if err != nil {
		return nil, err
	}
	buf.Write(name)
	for i, field := range m.Fields {
		buf.WriteByte(',')
		key, err := json.Marshal(field)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := marshalValue(m.Values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalValue encodes a field value, mapping non-finite floats to null.
// encoding/json rejects NaN and Inf outright, but logs carry NaN routinely
// in unpopulated sensor fields.
func marshalValue(v any) ([]byte, error) {
	switch f := v.(type) {
	case float32:
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return []byte("null"), nil
		}
	case float64:
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return []byte("null"), nil
		}
	case []float32:
		elems := make([]any, len(f))
		for i, e := range f {
			elems[i] = e
		}
		return marshalSlice(elems)
	case []any:
		return marshalSlice(f)
	}
	return json.Marshal(v)
}

func marshalSlice(vals []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, e := range vals {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := marshalValue(e)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

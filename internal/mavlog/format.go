package mavlog

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const preambleSize = 3 // 2-byte sync marker + 1-byte record type

var (
	ErrMalformedFormat = errors.New("malformed format record")
	ErrUnknownType     = errors.New("record type not registered")
)

type codecKind uint8

const (
	kindInt codecKind = iota
	kindUint
	kindFloat
	kindChar
)

// codec is the decoding recipe for one format character: element kind,
// element size in bytes, and element count (>1 only for array codecs).
type codec struct {
	kind  codecKind
	size  int
	count int
}

func (c codec) wireSize() int {
	return c.size * c.count
}

// parseCodec translates a codec identifier from the format mapping, e.g.
// "i16", "f32", "char[16]", "i16[32]".
func parseCodec(id string) (codec, error) {
	base := id
	count := 1
	if i := strings.IndexByte(id, '['); i >= 0 {
		if !strings.HasSuffix(id, "]") {
			return codec{}, fmt.Errorf("codec %q: unterminated count", id)
		}
		n, err := strconv.Atoi(id[i+1 : len(id)-1])
		if err != nil || n <= 0 {
			return codec{}, fmt.Errorf("codec %q: bad count", id)
		}
		base = id[:i]
		count = n
	}
	switch base {
	case "i8":
		return codec{kind: kindInt, size: 1, count: count}, nil
	case "i16":
		return codec{kind: kindInt, size: 2, count: count}, nil
	case "i32":
		return codec{kind: kindInt, size: 4, count: count}, nil
	case "i64":
		return codec{kind: kindInt, size: 8, count: count}, nil
	case "u8":
		return codec{kind: kindUint, size: 1, count: count}, nil
	case "u16":
		return codec{kind: kindUint, size: 2, count: count}, nil
	case "u32":
		return codec{kind: kindUint, size: 4, count: count}, nil
	case "u64":
		return codec{kind: kindUint, size: 8, count: count}, nil
	case "f32":
		return codec{kind: kindFloat, size: 4, count: count}, nil
	case "f64":
		return codec{kind: kindFloat, size: 8, count: count}, nil
	case "char":
		if count < 1 {
			return codec{}, fmt.Errorf("codec %q: char needs a count", id)
		}
		return codec{kind: kindChar, size: 1, count: count}, nil
	default:
		return codec{}, fmt.Errorf("codec %q: unknown base type", id)
	}
}

// Descriptor is the in-memory form of one FMT record: the schema for a single
// record type.
type Descriptor struct {
	Type    uint8
	Length  int // on-wire record length including the 3-byte preamble
	Name    string
	Format  string
	Columns []string

	codecs   []codec
	divisors []float64 // 0 = unscaled
	opaque   []bool    // emit raw bytes regardless of codec
}

// FormatTable maps record type ids to descriptors. It is bootstrapped with
// the FMT descriptor itself and grows as FMT records are registered. A table
// is not safe for concurrent mutation; parallel workers each hold a clone.
type FormatTable struct {
	cfg    Config
	header [2]byte
	codecs map[byte]codec
	scaled map[byte]float64
	opaque map[string]bool
	defs   map[uint8]*Descriptor
}

// NewFormatTable validates the configuration and returns a table containing
// exactly the FMT descriptor.
func NewFormatTable(cfg Config) (*FormatTable, error) {
	cfg.applyDefaults()
	header, err := cfg.headerBytes()
	if err != nil {
		return nil, err
	}
	if err := cfg.validateLayout(); err != nil {
		return nil, err
	}
	codecs := make(map[byte]codec, len(cfg.FormatMapping))
	for char, id := range cfg.FormatMapping {
		if len(char) != 1 {
			return nil, fmt.Errorf("formatMapping key %q: want a single character", char)
		}
		c, err := parseCodec(id)
		if err != nil {
			return nil, err
		}
		codecs[char[0]] = c
	}
	scaled := make(map[byte]float64, len(cfg.ScaleFactorFields)+1)
	for _, char := range cfg.ScaleFactorFields {
		if len(char) != 1 {
			return nil, fmt.Errorf("scaleFactorFields entry %q: want a single character", char)
		}
		scaled[char[0]] = 100
	}
	if len(cfg.LatLonFormat) != 1 {
		return nil, fmt.Errorf("latitudeLongitudeFormat %q: want a single character", cfg.LatLonFormat)
	}
	scaled[cfg.LatLonFormat[0]] = 1e7
	opaque := make(map[string]bool, len(cfg.BytesFields))
	for _, name := range cfg.BytesFields {
		opaque[name] = true
	}
	t := &FormatTable{
		cfg:    cfg,
		header: header,
		codecs: codecs,
		scaled: scaled,
		opaque: opaque,
		defs:   make(map[uint8]*Descriptor),
	}
	t.defs[uint8(cfg.FormatMsgType)] = t.fmtDescriptor()
	return t, nil
}

// fmtDescriptor builds the hard-coded schema for FMT records from the
// configured body layout.
func (t *FormatTable) fmtDescriptor() *Descriptor {
	d := &Descriptor{
		Type:   uint8(t.cfg.FormatMsgType),
		Length: t.cfg.FormatMsgLength,
		Name:   "FMT",
		Format: "BBnNZ",
		Columns: []string{
			"Type", "Length", "Name", "Format", "Columns",
		},
	}
	for _, f := range t.cfg.FMTStruct {
		var c codec
		if f.Kind == "u8" {
			c = codec{kind: kindUint, size: 1, count: 1}
		} else {
			c = codec{kind: kindChar, size: 1, count: f.Size}
		}
		d.codecs = append(d.codecs, c)
		d.divisors = append(d.divisors, 0)
		d.opaque = append(d.opaque, false)
	}
	return d
}

// Lookup returns the descriptor registered for the given type id.
func (t *FormatTable) Lookup(id uint8) (*Descriptor, bool) {
	d, ok := t.defs[id]
	return d, ok
}

// Len reports the number of registered descriptors, the FMT bootstrap entry
// included.
func (t *FormatTable) Len() int {
	return len(t.defs)
}

// Clone returns an independent table sharing the immutable codec maps but
// with its own descriptor set.
func (t *FormatTable) Clone() *FormatTable {
	out := *t
	out.defs = make(map[uint8]*Descriptor, len(t.defs))
	for id, d := range t.defs {
		out.defs[id] = d
	}
	return &out
}

// Register parses a raw FMT record (preamble included, exactly
// FormatMsgLength bytes) and installs the resulting descriptor. A duplicate
// identical to the existing entry is accepted silently; any structural
// inconsistency, unknown format character, or conflicting duplicate yields
// ErrMalformedFormat.
func (t *FormatTable) Register(rec []byte) (*Descriptor, error) {
	if len(rec) < t.cfg.FormatMsgLength {
		return nil, fmt.Errorf("%w: record %d bytes, want %d", ErrMalformedFormat, len(rec), t.cfg.FormatMsgLength)
	}
	body := rec[preambleSize:t.cfg.FormatMsgLength]
	var (
		typeID  uint8
		length  int
		name    string
		format  string
		columns []string
	)
	off := 0
	for _, f := range t.cfg.FMTStruct {
		raw := body[off : off+f.Size]
		off += f.Size
		switch f.Name {
		case "type":
			typeID = raw[0]
		case "length":
			length = int(raw[0])
		case "name":
			s, err := asciiField(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: name: %v", ErrMalformedFormat, err)
			}
			name = s
		case "format":
			s, err := asciiField(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: format: %v", ErrMalformedFormat, err)
			}
			format = s
		case "columns":
			s, err := asciiField(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: columns: %v", ErrMalformedFormat, err)
			}
			for _, col := range strings.Split(s, ",") {
				if col = strings.TrimSpace(col); col != "" {
					columns = append(columns, col)
				}
			}
		}
	}
	if name == "" || format == "" || len(columns) == 0 {
		return nil, fmt.Errorf("%w: empty name, format, or columns", ErrMalformedFormat)
	}
	if len(format) != len(columns) {
		return nil, fmt.Errorf("%w: %s: %d format chars, %d columns", ErrMalformedFormat, name, len(format), len(columns))
	}
	d := &Descriptor{
		Type:    typeID,
		Length:  length,
		Name:    name,
		Format:  format,
		Columns: columns,
	}
	wire := preambleSize
	for i := 0; i < len(format); i++ {
		char := format[i]
		c, ok := t.codecs[char]
		if !ok {
			return nil, fmt.Errorf("%w: %s: unknown format char %q", ErrMalformedFormat, name, char)
		}
		wire += c.wireSize()
		divisor := float64(0)
		if c.kind == kindInt || c.kind == kindUint {
			divisor = t.scaled[char]
		}
		d.codecs = append(d.codecs, c)
		d.divisors = append(d.divisors, divisor)
		d.opaque = append(d.opaque, t.opaque[columns[i]])
	}
	if wire != length {
		return nil, fmt.Errorf("%w: %s: declared length %d, format needs %d", ErrMalformedFormat, name, length, wire)
	}
	if prev, ok := t.defs[typeID]; ok {
		if prev.equal(d) {
			return prev, nil
		}
		return nil, fmt.Errorf("%w: type %d already registered as %s", ErrMalformedFormat, typeID, prev.Name)
	}
	t.defs[typeID] = d
	return d, nil
}

func (d *Descriptor) equal(other *Descriptor) bool {
	if d.Type != other.Type || d.Length != other.Length ||
		d.Name != other.Name || d.Format != other.Format ||
		len(d.Columns) != len(other.Columns) {
		return false
	}
	for i, col := range d.Columns {
		if other.Columns[i] != col {
			return false
		}
	}
	return true
}

// asciiField cuts a fixed-width field at its first NUL and requires the
// remainder to be printable ASCII.
func asciiField(raw []byte) (string, error) {
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	for _, b := range raw {
		if b < 0x20 || b > 0x7e {
			return "", fmt.Errorf("byte 0x%02x is not printable ASCII", b)
		}
	}
	return strings.TrimSpace(string(raw)), nil
}

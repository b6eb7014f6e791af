package mavlog

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FMTField describes one field of the FMT record body in the configured
// on-wire order. Kind is "u8" or "ascii"; Size is the field width in bytes.
type FMTField struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
	Size int    `yaml:"size"`
}

// Config carries the magic constants of the log format. Obtain one from
// DefaultConfig or LoadConfig and pass it to NewFormatTable, Open, or
// NewParallelParser. NewFormatTable replaces every zero-valued field with its
// default, so a zero Config behaves like DefaultConfig (and a formatMsgType
// or formatMsgLength of 0 cannot be configured). Values are injected, never
// process-global, so tests can vary them freely.
type Config struct {
	MsgHeader         string            `yaml:"msgHeader"`
	FormatMsgType     int               `yaml:"formatMsgType"`
	FormatMsgLength   int               `yaml:"formatMsgLength"`
	FMTStruct         []FMTField        `yaml:"fmtStruct"`
	FormatMapping     map[string]string `yaml:"formatMapping"`
	ScaleFactorFields []string          `yaml:"scaleFactorFields"`
	LatLonFormat      string            `yaml:"latitudeLongitudeFormat"`
	BytesFields       []string          `yaml:"bytesFields"`
}

// DefaultConfig returns the canonical ArduPilot dataflash constants.
func DefaultConfig() Config {
	return Config{
		MsgHeader:       "a395",
		FormatMsgType:   128,
		FormatMsgLength: 89,
		FMTStruct: []FMTField{
			{Name: "type", Kind: "u8", Size: 1},
			{Name: "length", Kind: "u8", Size: 1},
			{Name: "name", Kind: "ascii", Size: 4},
			{Name: "format", Kind: "ascii", Size: 16},
			{Name: "columns", Kind: "ascii", Size: 64},
		},
		FormatMapping: map[string]string{
			"a": "i16[32]",
			"b": "i8",
			"B": "u8",
			"h": "i16",
			"H": "u16",
			"i": "i32",
			"I": "u32",
			"f": "f32",
			"d": "f64",
			"n": "char[4]",
			"N": "char[16]",
			"Z": "char[64]",
			"c": "i16",
			"C": "u16",
			"e": "i32",
			"E": "u32",
			"L": "i32",
			"M": "u8",
			"q": "i64",
			"Q": "u64",
		},
		ScaleFactorFields: []string{"c", "C", "e", "E"},
		LatLonFormat:      "L",
		BytesFields:       []string{"Data", "Blob", "Payload"},
	}
}

// LoadConfig reads a YAML configuration document. Keys absent from the
// document fall back to their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.MsgHeader == "" {
		c.MsgHeader = def.MsgHeader
	}
	if c.FormatMsgType == 0 {
		c.FormatMsgType = def.FormatMsgType
	}
	if c.FormatMsgLength == 0 {
		c.FormatMsgLength = def.FormatMsgLength
	}
	if len(c.FMTStruct) == 0 {
		c.FMTStruct = def.FMTStruct
	}
	if len(c.FormatMapping) == 0 {
		c.FormatMapping = def.FormatMapping
	}
	if len(c.ScaleFactorFields) == 0 {
		c.ScaleFactorFields = def.ScaleFactorFields
	}
	if c.LatLonFormat == "" {
		c.LatLonFormat = def.LatLonFormat
	}
	if len(c.BytesFields) == 0 {
		c.BytesFields = def.BytesFields
	}
}

func (c Config) headerBytes() ([2]byte, error) {
	var hdr [2]byte
	raw, err := hex.DecodeString(c.MsgHeader)
	if err != nil {
		return hdr, fmt.Errorf("msgHeader %q: %w", c.MsgHeader, err)
	}
	if len(raw) != 2 {
		return hdr, fmt.Errorf("msgHeader %q: want 2 bytes, got %d", c.MsgHeader, len(raw))
	}
	hdr[0], hdr[1] = raw[0], raw[1]
	return hdr, nil
}

func (c Config) validateLayout() error {
	if c.FormatMsgType < 0 || c.FormatMsgType > 0xFF {
		return fmt.Errorf("formatMsgType %d out of range", c.FormatMsgType)
	}
	want := []struct {
		name string
		kind string
	}{
		{"type", "u8"},
		{"length", "u8"},
		{"name", "ascii"},
		{"format", "ascii"},
		{"columns", "ascii"},
	}
	if len(c.FMTStruct) != len(want) {
		return fmt.Errorf("fmtStruct: want %d fields, got %d", len(want), len(c.FMTStruct))
	}
	total := 0
	for i, f := range c.FMTStruct {
		if f.Name != want[i].name || f.Kind != want[i].kind {
			return fmt.Errorf("fmtStruct[%d]: want %s/%s, got %s/%s",
				i, want[i].name, want[i].kind, f.Name, f.Kind)
		}
		if f.Kind == "u8" && f.Size != 1 {
			return fmt.Errorf("fmtStruct[%d]: u8 field must be 1 byte", i)
		}
		if f.Size <= 0 {
			return fmt.Errorf("fmtStruct[%d]: size %d invalid", i, f.Size)
		}
		total += f.Size
	}
	if total != c.FormatMsgLength-preambleSize {
		return fmt.Errorf("fmtStruct sizes total %d, want %d", total, c.FormatMsgLength-preambleSize)
	}
	return nil
}

package mavlog

import (
	"bytes"
	"errors"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"

	"example.com/mavlog/internal/common"
)

// Parser owns a log file and its memory-mapped view. The mapping is acquired
// by Open and released by Close; Scanner values handed out by Messages and
// Section borrow the view and must not outlive it.
type Parser struct {
	path  string
	file  *os.File
	data  mmap.MMap
	size  int64
	cfg   Config
	table *FormatTable

	scan    *Scanner
	metrics *common.Metrics
}

// Open maps the file at path read-only and prepares a parser seeded with the
// bootstrap format table. An empty file is accepted and decodes to nothing.
func Open(path string, cfg Config) (*Parser, error) {
	table, err := NewFormatTable(cfg)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	p := &Parser{
		path:  path,
		file:  f,
		size:  info.Size(),
		cfg:   cfg,
		table: table,
	}
	if p.size > 0 {
		data, err := mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			f.Close()
			return nil, err
		}
		p.data = data
	}
	return p, nil
}

// Close unmaps the view and releases the file handle.
func (p *Parser) Close() error {
	var first error
	if p.data != nil {
		first = p.data.Unmap()
		p.data = nil
	}
	if p.file != nil {
		if err := p.file.Close(); first == nil {
			first = err
		}
		p.file = nil
	}
	return first
}

// Path returns the file the parser was opened on.
func (p *Parser) Path() string {
	return p.path
}

// Size returns the file size in bytes.
func (p *Parser) Size() int64 {
	return p.size
}

// SetMetrics attaches a metrics recorder to the parser and to every scanner
// it subsequently creates.
func (p *Parser) SetMetrics(m *common.Metrics) {
	p.metrics = m
	if m != nil {
		m.SetTotalBytes(p.size)
	}
	if p.scan != nil {
		p.scan.metrics = m
	}
}

// Next returns the next decoded message of the whole-file scan, or io.EOF.
func (p *Parser) Next() (*Message, error) {
	if p.scan == nil {
		p.scan = p.Messages("", 0)
	}
	return p.scan.Next()
}

// Messages starts a fresh scan over [0, end) sharing the parser's format
// table, so FMT records seen along the way stay registered. An end of zero
// (or past the file) means the whole file. A record that straddles end is
// not emitted.
func (p *Parser) Messages(filter string, end int64) *Scanner {
	if end <= 0 || end > p.size {
		end = p.size
	}
	return &Scanner{
		data:    p.data,
		table:   p.table,
		filter:  filter,
		end:     end,
		metrics: p.metrics,
	}
}

// Section starts a scan over [lo, hi) against an explicit format table.
// Workers of the parallel coordinator use this with a pre-scanned table.
func (p *Parser) Section(lo, hi int64, table *FormatTable, filter string) *Scanner {
	if lo < 0 {
		lo = 0
	}
	if hi <= 0 || hi > p.size {
		hi = p.size
	}
	return &Scanner{
		data:    p.data,
		table:   table,
		filter:  filter,
		pos:     lo,
		end:     hi,
		metrics: p.metrics,
	}
}

// DecodeAll drains a whole-file scan into a slice.
func (p *Parser) DecodeAll(filter string) ([]*Message, error) {
	s := p.Messages(filter, 0)
	var out []*Message
	for {
		m, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
}

// ScanFormats walks the whole file once registering FMT records only and
// returns the completed table. This is the pre-scan of the parallel
// coordinator; per-record work is a header check and a length skip.
func (p *Parser) ScanFormats() (*FormatTable, error) {
	table, err := NewFormatTable(p.cfg)
	if err != nil {
		return nil, err
	}
	s := &Scanner{
		data:    p.data,
		table:   table,
		fmtOnly: true,
		end:     p.size,
		metrics: p.metrics,
	}
	for {
		if _, err := s.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				return table, nil
			}
			return nil, err
		}
	}
}

// Scanner is the sequential decoder: a single-pass, pull-style walk over a
// byte range that emits messages in strictly increasing offset order.
// Localized failures (unknown type, phantom sync marker, malformed FMT)
// advance the position by one byte and retry; they never surface as errors.
type Scanner struct {
	data    []byte
	table   *FormatTable
	filter  string
	fmtOnly bool
	pos     int64
	end     int64
	metrics *common.Metrics
}

// Pos reports the current scan position.
func (s *Scanner) Pos() int64 {
	return s.pos
}

// Next returns the next decoded message, or io.EOF when the range is
// exhausted or only a truncated record remains.
func (s *Scanner) Next() (*Message, error) {
	header := s.table.header
	data := s.data
	size := int64(len(data))
	for {
		if s.pos >= s.end {
			return nil, io.EOF
		}
		i := bytes.Index(data[s.pos:s.end], header[:])
		if i < 0 {
			s.skipTo(s.end)
			return nil, io.EOF
		}
		pos := s.pos + int64(i)
		if pos+preambleSize > size {
			s.skipTo(size)
			return nil, io.EOF
		}
		typeID := data[pos+2]
		desc, ok := s.table.Lookup(typeID)
		if !ok {
			s.resync(pos, common.ReasonUnknownType)
			continue
		}
		length := int64(desc.Length)
		if pos+length > s.end {
			// Truncated tail for this range: every complete record before
			// the cut has already been emitted.
			s.skipTo(s.end)
			return nil, io.EOF
		}
		if !s.boundaryOK(pos+length, size, header) {
			s.resync(pos, common.ReasonPhantomSync)
			continue
		}
		if int(typeID) == s.table.cfg.FormatMsgType {
			if _, err := s.table.Register(data[pos : pos+length]); err != nil {
				s.resync(pos, common.ReasonMalformedFormat)
				continue
			}
			s.advance(pos, length)
			continue
		}
		if s.fmtOnly || (s.filter != "" && desc.Name != s.filter) {
			// Skipped records still advance by their full length so FMT
			// registration and alignment are preserved.
			s.advance(pos, length)
			continue
		}
		msg := decodeRecord(desc, data[pos:pos+length], pos)
		s.pos = pos + length
		if s.metrics != nil {
			s.metrics.AddMessage(length)
		}
		return msg, nil
	}
}

// boundaryOK is the candidate validation: a record is trusted only when it
// ends exactly at the range end, at the file end, or at another sync marker.
func (s *Scanner) boundaryOK(next, size int64, header [2]byte) bool {
	if next == s.end || next == size {
		return true
	}
	if next+1 >= size {
		return false
	}
	return s.data[next] == header[0] && s.data[next+1] == header[1]
}

func (s *Scanner) advance(pos, length int64) {
	if s.metrics != nil {
		s.metrics.AddBytes(length)
	}
	s.pos = pos + length
}

func (s *Scanner) skipTo(pos int64) {
	if s.metrics != nil && pos > s.pos {
		s.metrics.AddBytes(pos - s.pos)
	}
	s.pos = pos
}

func (s *Scanner) resync(pos int64, reason common.ResyncReason) {
	if s.metrics != nil {
		s.metrics.IncResync(reason)
		s.metrics.AddBytes(pos + 1 - s.pos)
	}
	s.pos = pos + 1
}

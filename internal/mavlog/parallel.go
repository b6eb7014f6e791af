package mavlog

import (
	"bytes"
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"example.com/mavlog/internal/common"
)

// Mode selects how the parallel coordinator runs its workers.
type Mode string

const (
	// ModeWorkers maps the file once per worker; the OS deduplicates pages.
	// Suited to CPU-bound decoding, defaults to the hardware parallelism.
	ModeWorkers Mode = "workers"
	// ModeThreads shares a single mapping across workers. Suited to
	// I/O-dominated runs, defaults to 16 workers.
	ModeThreads Mode = "threads"
)

const defaultThreadWorkers = 16

// ParallelParser decodes a whole file by splitting it into message-aligned
// chunks and running the sequential decoder over each chunk concurrently.
//
// The FMT bootstrap problem is solved by pre-scanning: one cheap sequential
// pass collects every FMT record into a table that is then cloned into each
// worker, making workers pure functions of (range, table).
type ParallelParser struct {
	path    string
	cfg     Config
	mode    Mode
	workers int
	metrics *common.Metrics
}

// NewParallelParser prepares a coordinator. A non-positive worker count
// selects the mode default.
func NewParallelParser(path string, cfg Config, mode Mode, workers int) (*ParallelParser, error) {
	switch mode {
	case ModeWorkers, ModeThreads:
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
	if workers <= 0 {
		if mode == ModeThreads {
			workers = defaultThreadWorkers
		} else {
			workers = runtime.NumCPU()
		}
	}
	return &ParallelParser{path: path, cfg: cfg, mode: mode, workers: workers}, nil
}

// Workers reports the effective worker count.
func (pp *ParallelParser) Workers() int {
	return pp.workers
}

// SetMetrics attaches a shared metrics recorder; it is safe for concurrent
// use by the workers.
func (pp *ParallelParser) SetMetrics(m *common.Metrics) {
	pp.metrics = m
}

type span struct {
	lo, hi int64
}

// ProcessAll decodes the entire file and returns the messages in file order.
// The first fatal worker error aborts the run; cancellation via ctx discards
// partial results after in-flight workers finish their current record.
func (pp *ParallelParser) ProcessAll(ctx context.Context, filter string) ([]*Message, error) {
	p, err := Open(pp.path, pp.cfg)
	if err != nil {
		return nil, err
	}
	defer p.Close()
	if pp.metrics != nil {
		pp.metrics.SetTotalBytes(p.Size())
	}

	table, err := p.ScanFormats()
	if err != nil {
		return nil, err
	}
	chunks := splitChunks(p, table, pp.workers)
	common.Logf("processing %s: %d chunks, %d workers (%s mode)",
		pp.path, len(chunks), pp.workers, pp.mode)

	results := make([][]*Message, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pp.workers)
	for i, ch := range chunks {
		i, ch := i, ch
		g.Go(func() error {
			msgs, err := pp.decodeChunk(gctx, p, table, ch, filter)
			if err != nil {
				return err
			}
			results[i] = msgs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	total := 0
	for _, msgs := range results {
		total += len(msgs)
	}
	out := make([]*Message, 0, total)
	for _, msgs := range results {
		out = append(out, msgs...)
	}
	return out, nil
}

func (pp *ParallelParser) decodeChunk(ctx context.Context, shared *Parser, table *FormatTable, ch span, filter string) ([]*Message, error) {
	var s *Scanner
	if pp.mode == ModeWorkers {
		wp, err := Open(pp.path, pp.cfg)
		if err != nil {
			return nil, err
		}
		defer wp.Close()
		wp.SetMetrics(pp.metrics)
		s = wp.Section(ch.lo, ch.hi, table.Clone(), filter)
	} else {
		s = shared.Section(ch.lo, ch.hi, table.Clone(), filter)
		s.metrics = pp.metrics
	}
	var msgs []*Message
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		m, err := s.Next()
		if err != nil {
			return msgs, nil
		}
		msgs = append(msgs, m)
	}
}

// splitChunks divides the file into message-aligned spans: nominal
// equal-size slices whose starts are moved forward to the next validated
// record boundary. Empty spans are dropped; the spans cover the file with no
// gaps or overlaps.
func splitChunks(p *Parser, table *FormatTable, workers int) []span {
	size := p.Size()
	if size == 0 {
		return nil
	}
	nominal := size / int64(workers)
	if nominal < 1 {
		nominal = 1
	}
	var chunks []span
	start := int64(0)
	for i := 1; i < workers && start < size; i++ {
		target := int64(i) * nominal
		if target <= start {
			continue
		}
		next := alignForward(p, table, target)
		if next <= start {
			continue
		}
		if next >= size {
			break
		}
		chunks = append(chunks, span{lo: start, hi: next})
		start = next
	}
	if start < size {
		chunks = append(chunks, span{lo: start, hi: size})
	}
	return chunks
}

// alignForward finds the first offset at or after from that starts a record
// passing the same validation the scanner applies: known type id and a sync
// marker (or file end) at the record boundary.
func alignForward(p *Parser, table *FormatTable, from int64) int64 {
	header := table.header
	pos := from
	for pos < p.size {
		i := bytes.Index(p.data[pos:], header[:])
		if i < 0 {
			return p.size
		}
		pos += int64(i)
		if pos+preambleSize > p.size {
			return p.size
		}
		if desc, ok := table.Lookup(p.data[pos+2]); ok {
			length := int64(desc.Length)
			next := pos + length
			if next == p.size {
				return pos
			}
			if next+1 < p.size && p.data[next] == header[0] && p.data[next+1] == header[1] {
				return pos
			}
		}
		pos++
	}
	return p.size
}

package report

import (
	"encoding/json"
	"os"
	"sort"
	"time"

	"example.com/mavlog/internal/common"
	"example.com/mavlog/internal/mavlog"
)

// TypeCount is the number of decoded messages of one record type.
type TypeCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Summary condenses one decode run over a log file.
type Summary struct {
	File       string           `json:"file"`
	SizeBytes  int64            `json:"sizeBytes"`
	SHA256     string           `json:"sha256"`
	Generated  time.Time        `json:"generated"`
	Total      int              `json:"total"`
	Types      []TypeCount      `json:"types"`
	Resyncs    int64            `json:"resyncs"`
	DurationMs int64            `json:"durationMs"`
	Throughput float64          `json:"throughputBytesPerSecond"`
	ByReason   map[string]int64 `json:"resyncsByReason,omitempty"`
}

// BuildSummary fingerprints the file and tallies the decoded messages by
// type, most frequent first. snap may be a zero value when no metrics were
// collected.
func BuildSummary(path string, msgs []*mavlog.Message, snap common.MetricsSnapshot) (Summary, error) {
	hash, size, err := common.Sha256OfFile(path)
	if err != nil {
		return Summary{}, err
	}
	counts := make(map[string]int)
	for _, m := range msgs {
		counts[m.Name]++
	}
	types := make([]TypeCount, 0, len(counts))
	for name, n := range counts {
		types = append(types, TypeCount{Name: name, Count: n})
	}
	sort.Slice(types, func(i, j int) bool {
		if types[i].Count != types[j].Count {
			return types[i].Count > types[j].Count
		}
		return types[i].Name < types[j].Name
	})
	sum := Summary{
		File:       path,
		SizeBytes:  size,
		SHA256:     hash,
		Generated:  time.Now().UTC(),
		Total:      len(msgs),
		Types:      types,
		Resyncs:    snap.Resyncs,
		DurationMs: snap.Duration.Milliseconds(),
		Throughput: snap.ThroughputBytesPerSecond(),
	}
	if len(snap.ByReason) > 0 {
		sum.ByReason = make(map[string]int64, len(snap.ByReason))
		for reason, n := range snap.ByReason {
			sum.ByReason[string(reason)] = n
		}
	}
	return sum, nil
}

// SaveSummaryJSON writes the summary as indented JSON.
func SaveSummaryJSON(sum Summary, out string) error {
	b, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"example.com/mavlog/internal/common"
	"example.com/mavlog/internal/mavlog"
	"example.com/mavlog/internal/report"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	cmd := os.Args[1]
	switch cmd {
	case "decode":
		decodeCmd(os.Args[2:])
	case "pdecode":
		pdecodeCmd(os.Args[2:])
	case "report":
		reportCmd(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Printf(`mavlogctl %s (built %s) <command> [options]

Commands:
  decode   --in <file.bin> [--config <config.yaml>] [--filter <TYPE>] [--end <offset>] [--out <messages.ndjson>] [--metrics] [--progress]
  pdecode  --in <file.bin> [--config <config.yaml>] [--filter <TYPE>] [--mode workers|threads] [--workers <n>] [--out <messages.ndjson>] [--metrics] [--progress]
  report   --in <file.bin> [--config <config.yaml>] [--out <summary.pdf>] [--json <summary.json>] [--workers <n>]
`, version, buildDate)
}

func setupLogging(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "mavlogctl.log"),
		MaxSize:    25,
		MaxAge:     7,
		MaxBackups: 5,
	}
	common.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return nil
}

func loadConfig(path string) mavlog.Config {
	if path == "" {
		return mavlog.DefaultConfig()
	}
	cfg, err := mavlog.LoadConfig(path)
	if err != nil {
		common.Fatalf("load config: %v", err)
	}
	return cfg
}

func decodeCmd(args []string) {
	fs := newFlagSet("decode")
	in := fs.String("in", "", "input .bin log")
	configPath := fs.String("config", "", "configuration YAML")
	filter := fs.String("filter", "", "only emit messages of this type")
	end := fs.Int64("end", 0, "stop after the last record wholly inside [0, end)")
	out := fs.String("out", "", "NDJSON output path (default stdout)")
	metricsFlag := fs.Bool("metrics", false, "print decode metrics")
	progressFlag := fs.Bool("progress", false, "display progress updates")
	logDir := fs.String("log-dir", "", "rotate logs into this directory")
	fs.Parse(args)

	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	if err := setupLogging(*logDir); err != nil {
		common.Fatalf("%v", err)
	}
	cfg := loadConfig(*configPath)

	p, err := mavlog.Open(*in, cfg)
	if err != nil {
		common.Fatalf("open %s: %v", *in, err)
	}
	defer p.Close()

	metrics, stopProgress := startMetrics(p.Size(), *metricsFlag, *progressFlag)
	if metrics != nil {
		p.SetMetrics(metrics)
	}

	w, closeOut := openOutput(*out)
	defer closeOut()

	scan := p.Messages(*filter, *end)
	count := 0
	for {
		m, err := scan.Next()
		if err != nil {
			break
		}
		if err := writeNDJSON(w, m); err != nil {
			common.Fatalf("write output: %v", err)
		}
		count++
	}
	stopProgress()
	if err := w.Flush(); err != nil {
		common.Fatalf("flush output: %v", err)
	}
	common.Logf("decoded %d messages from %s", count, *in)
	printMetrics(metrics, *metricsFlag)
}

func pdecodeCmd(args []string) {
	fs := newFlagSet("pdecode")
	in := fs.String("in", "", "input .bin log")
	configPath := fs.String("config", "", "configuration YAML")
	filter := fs.String("filter", "", "only emit messages of this type")
	mode := fs.String("mode", "workers", "parallel mode: workers or threads")
	workers := fs.Int("workers", 0, "worker count (0 = mode default)")
	out := fs.String("out", "", "NDJSON output path (default stdout)")
	metricsFlag := fs.Bool("metrics", false, "print decode metrics")
	progressFlag := fs.Bool("progress", false, "display progress updates")
	logDir := fs.String("log-dir", "", "rotate logs into this directory")
	fs.Parse(args)

	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	if err := setupLogging(*logDir); err != nil {
		common.Fatalf("%v", err)
	}
	cfg := loadConfig(*configPath)

	pp, err := mavlog.NewParallelParser(*in, cfg, mavlog.Mode(*mode), *workers)
	if err != nil {
		common.Fatalf("%v", err)
	}

	var totalBytes int64
	if info, err := os.Stat(*in); err == nil {
		totalBytes = info.Size()
	}
	metrics, stopProgress := startMetrics(totalBytes, *metricsFlag, *progressFlag)
	if metrics != nil {
		pp.SetMetrics(metrics)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	msgs, err := pp.ProcessAll(ctx, *filter)
	stopProgress()
	if err != nil {
		common.Fatalf("parallel decode: %v", err)
	}

	w, closeOut := openOutput(*out)
	defer closeOut()
	for _, m := range msgs {
		if err := writeNDJSON(w, m); err != nil {
			common.Fatalf("write output: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		common.Fatalf("flush output: %v", err)
	}
	common.Logf("decoded %d messages from %s with %d workers", len(msgs), *in, pp.Workers())
	printMetrics(metrics, *metricsFlag)
}

func reportCmd(args []string) {
	fs := newFlagSet("report")
	in := fs.String("in", "", "input .bin log")
	configPath := fs.String("config", "", "configuration YAML")
	out := fs.String("out", "summary.pdf", "PDF output path")
	jsonOut := fs.String("json", "", "also write the summary as JSON")
	workers := fs.Int("workers", 0, "worker count (0 = default)")
	logDir := fs.String("log-dir", "", "rotate logs into this directory")
	fs.Parse(args)

	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	if err := setupLogging(*logDir); err != nil {
		common.Fatalf("%v", err)
	}
	cfg := loadConfig(*configPath)

	pp, err := mavlog.NewParallelParser(*in, cfg, mavlog.ModeWorkers, *workers)
	if err != nil {
		common.Fatalf("%v", err)
	}
	metrics := common.NewMetrics()
	metrics.Start()
	pp.SetMetrics(metrics)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	msgs, err := pp.ProcessAll(ctx, "")
	if err != nil {
		common.Fatalf("decode: %v", err)
	}
	metrics.Stop()

	sum, err := report.BuildSummary(*in, msgs, metrics.Snapshot())
	if err != nil {
		common.Fatalf("summarize: %v", err)
	}
	if err := report.SaveSummaryPDF(sum, *out); err != nil {
		common.Fatalf("write pdf: %v", err)
	}
	common.Logf("report written to %s", *out)
	if *jsonOut != "" {
		if err := report.SaveSummaryJSON(sum, *jsonOut); err != nil {
			common.Fatalf("write json: %v", err)
		}
		common.Logf("summary written to %s", *jsonOut)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ExitOnError)
}

func startMetrics(totalBytes int64, metricsFlag, progressFlag bool) (*common.Metrics, func()) {
	if !metricsFlag && !progressFlag {
		return nil, func() {}
	}
	m := common.NewMetrics()
	m.SetTotalBytes(totalBytes)
	m.Start()
	stop := func() { m.Stop() }
	if progressFlag {
		stopPrinter := common.StartProgressPrinter(os.Stderr, m, time.Second)
		return m, func() {
			m.Stop()
			stopPrinter()
		}
	}
	return m, stop
}

func printMetrics(m *common.Metrics, enabled bool) {
	if m == nil || !enabled {
		return
	}
	snap := m.Snapshot()
	fmt.Fprintf(os.Stderr, "messages: %d\n", snap.Messages)
	fmt.Fprintf(os.Stderr, "bytes:    %s\n", common.FormatBytes(snap.Bytes))
	fmt.Fprintf(os.Stderr, "resyncs:  %d\n", snap.Resyncs)
	fmt.Fprintf(os.Stderr, "elapsed:  %s (%.2f MiB/s)\n",
		snap.Duration.Round(time.Millisecond), snap.ThroughputBytesPerSecond()/(1024*1024))
}

func openOutput(path string) (*bufio.Writer, func()) {
	if path == "" {
		w := bufio.NewWriter(os.Stdout)
		return w, func() {}
	}
	f, err := os.Create(path)
	if err != nil {
		common.Fatalf("create %s: %v", path, err)
	}
	w := bufio.NewWriter(f)
	return w, func() { f.Close() }
}

func writeNDJSON(w *bufio.Writer, m *mavlog.Message) error {
	b, err := m.MarshalJSON()
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	return w.WriteByte('\n')
}

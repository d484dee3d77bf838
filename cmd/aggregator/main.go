// ════════════════════════════════════════════════════════════════════════════════════════════════
// Word Count Aggregator - Process Entry Point
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Usage:
//   aggregator [-config file.yaml] [-json out.json] [-db out.db] [dir]
//
// Description:
//   Merges every consumer_output_*.txt in dir (default: the configured output directory) into
//   aggregated_word_counts.txt, ranked by count. Optionally also writes a JSON summary and a
//   sqlite table. Run it after all consumers have exited.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"wordpipe/aggregate"
	"wordpipe/config"
	"wordpipe/debug"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", os.Getenv(config.FileEnv), "YAML config file")
	jsonPath := flag.String("json", "", "also write a JSON summary here (overrides config)")
	dbPath := flag.String("db", "", "also store the table in this sqlite database (overrides config)")
	workers := flag.Int("workers", 0, "concurrent file readers, 0 = GOMAXPROCS")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [dir]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() > 1 {
		flag.Usage()
		return 2
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		debug.DropError("CONFIG", err)
		return 1
	}
	if err := debug.Init(cfg.Logging()); err != nil {
		debug.DropError("LOGGER", err)
		return 1
	}
	defer debug.Sync()
	log := debug.L().With(zap.String("role", "aggregator"))

	dir := cfg.OutputDir
	if flag.NArg() == 1 {
		dir = flag.Arg(0)
	}
	if *jsonPath == "" {
		*jsonPath = cfg.ReportJSON
	}
	if *dbPath == "" {
		*dbPath = cfg.ReportDB
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting word count aggregation", zap.String("dir", dir))
	files, err := aggregate.Discover(dir, cfg.OutputPrefix, cfg.OutputSuffix)
	if err != nil {
		log.Error("discovery failed", zap.Error(err))
		return 1
	}

	sum, err := aggregate.Run(ctx, files, aggregate.Options{Workers: *workers, Log: log})
	if err != nil {
		log.Error("aggregation failed", zap.Error(err))
		return 1
	}

	report := cfg.ReportFile
	if !filepath.IsAbs(report) {
		report = filepath.Join(dir, report)
	}
	if err := sum.WriteReport(report); err != nil {
		if errors.Is(err, aggregate.ErrNoData) {
			log.Warn("no word count data found from consumers; ensure consumers ran successfully")
			return 0
		}
		log.Error("report failed", zap.Error(err))
		return 1
	}

	if *jsonPath != "" {
		if err := sum.WriteJSON(*jsonPath); err != nil {
			log.Error("json summary failed", zap.Error(err))
			return 1
		}
	}
	if *dbPath != "" {
		if err := sum.SaveSQLite(*dbPath); err != nil {
			log.Error("sqlite store failed", zap.Error(err))
			return 1
		}
	}

	log.Info("aggregation complete",
		zap.String("report", report),
		zap.Int("files", len(sum.Files)),
		zap.Int("unreadable", len(sum.Unreadable)),
		zap.Int("unique", sum.Unique),
		zap.Uint64("total", sum.Total),
		zap.Int("skipped_lines", sum.Skipped),
		zap.String("digest", sum.Digest()))
	return 0
}

// ════════════════════════════════════════════════════════════════════════════════════════════════
// Word Consumer - Process Entry Point
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Usage:
//   consumer [-config file.yaml] <expected_producers> <consumer_id>
//
// Description:
//   Drains the shared ring into a local frequency table until every expected producer has
//   finished, then writes consumer_output_<consumer_id>.txt. The expected producer count must
//   match the number of producers actually started for the run.
//
// Exit codes:
//   0  terminated normally or cancelled (output flushed either way)
//   1  environment failure (no segment, semaphores, output file)
//   2  usage error
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"wordpipe/config"
	"wordpipe/control"
	"wordpipe/debug"
	"wordpipe/pipeline"
	"wordpipe/sem"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", os.Getenv(config.FileEnv), "YAML config file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config file] <expected_producers> <consumer_id>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		return 2
	}
	expected, err := strconv.ParseInt(flag.Arg(0), 10, 32)
	if err != nil || expected <= 0 {
		fmt.Fprintf(os.Stderr, "expected_producers must be a positive integer, got %q\n", flag.Arg(0))
		return 2
	}
	id := flag.Arg(1)

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

	uninstall := control.Notify(func(sig os.Signal) {
		debug.DropMessage("SIGNAL", "received "+sig.String()+", flushing")
	})
	defer uninstall()

	c, err := pipeline.NewConsumer(cfg, id, int(expected))
	if err != nil {
		debug.DropError("USAGE", err)
		return 2
	}
	c.Log.Info("consumer starting", zap.Int64("expected_producers", expected), zap.String("dir", cfg.Dir))

	_, err = c.Run()
	if dumpErr := c.Metrics.Dump(cfg.MetricsFile); dumpErr != nil {
		c.Log.Warn("metrics dump failed", zap.Error(dumpErr))
	}
	switch {
	case errors.Is(err, sem.ErrStopped):
		c.Log.Info("cancelled before the segment was ready")
		return 0
	case err != nil:
		c.Log.Error("consumer failed", zap.Error(err))
		return 1
	}
	return 0
}

// ════════════════════════════════════════════════════════════════════════════════════════════════
// Word Producer - Process Entry Point
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Usage:
//   producer [-config file.yaml] <input_file>
//
// Description:
//   Streams the normalised words of one text file into the shared ring. Any number of producers
//   may run concurrently against the same run directory; the one that finishes last floods
//   end-of-stream sentinels so consumers can terminate.
//
// Exit codes:
//   0  source exhausted, or cancelled by SIGINT/SIGTERM
//   1  environment failure (attach, semaphores, source file)
//   2  usage error
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"wordpipe/config"
	"wordpipe/control"
	"wordpipe/debug"
	"wordpipe/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", os.Getenv(config.FileEnv), "YAML config file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config file] <input_file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		return 2
	}
	input := flag.Arg(0)

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
		debug.DropMessage("SIGNAL", "received "+sig.String()+", finishing current push")
	})
	defer uninstall()

	p := pipeline.NewProducer(cfg)
	p.Log.Info("producer starting", zap.String("input", input), zap.String("dir", cfg.Dir))

	res, err := p.Run(input)
	if dumpErr := p.Metrics.Dump(cfg.MetricsFile); dumpErr != nil {
		p.Log.Warn("metrics dump failed", zap.Error(dumpErr))
	}
	if err != nil {
		p.Log.Error("producer failed", zap.Error(err), zap.Int("produced", res.Produced))
		return 1
	}

	p.Log.Info("producer finished",
		zap.Int("produced", res.Produced),
		zap.Int("dropped", res.Dropped),
		zap.Int("sentinels", res.SentinelsSent),
		zap.Int32("remaining", res.Remaining),
		zap.Bool("last", res.LastProducer),
		zap.Bool("cancelled", res.Cancelled))
	return 0
}

// wordpipe-reset removes the shared segment and the three semaphores of a
// run so the next producer starts from a freshly initialised buffer. Run it
// only when no producer or consumer is attached.
package main

import (
	"flag"
	"os"

	"wordpipe/config"
	"wordpipe/debug"
	"wordpipe/pipeline"
)

func main() {
	configPath := flag.String("config", os.Getenv(config.FileEnv), "YAML config file")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		debug.DropError("CONFIG", err)
		os.Exit(1)
	}
	if err := pipeline.Reset(cfg); err != nil {
		debug.DropError("RESET", err)
		os.Exit(1)
	}
	debug.DropMessage("RESET", "removed shared objects under "+cfg.Dir)
}

// gsb-log-validator checks that this module's log output has not been
// truncated or corrupted in transit, by recomputing and comparing the
// checksum blog prepends to every line.
//
// Grounded on cmd/log-validator/main.go's two modes (one-shot
// --check-file, or tailing a set of file globs from a config file until
// signalled to stop), adapted to call through the logvalidator package
// instead of reimplementing tailing inline.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/letsencrypt/gsb/blog"
	"github.com/letsencrypt/gsb/logvalidator"
)

func main() {
	configPath := flag.String("config", "", "File path to the configuration file for this tool")
	checkFile := flag.String("check-file", "", "Validate this single file and exit, without reading -config")
	flag.Parse()

	if *checkFile != "" {
		if err := logvalidator.ValidateFile(*checkFile); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err)
			os.Exit(1)
		}
		return
	}

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "one of -config or -check-file is required")
		os.Exit(1)
	}

	var config struct {
		Log   blog.Config
		Files []string
	}
	configBytes, err := os.ReadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading config: %s\n", err)
		os.Exit(1)
	}
	if err := json.Unmarshal(configBytes, &config); err != nil {
		fmt.Fprintf(os.Stderr, "parsing config: %s\n", err)
		os.Exit(1)
	}

	lc, err := blog.New(config.Log, "gsb-log-validator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "constructing logger: %s\n", err)
		os.Exit(1)
	}
	blog.InitAdapters(lc)
	ctx := lc.Context(context.Background())

	v := logvalidator.New(ctx, config.Files, prometheus.NewRegistry())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop
	v.Shutdown()
}

// Command tftp-server serves files over TFTP (RFC 1350) from a directory
// root.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/qvasi/tftp"
	"github.com/qvasi/tftp/internal/config"
	"github.com/qvasi/tftp/internal/metrics"
	"github.com/qvasi/tftp/internal/tlog"
	"github.com/qvasi/tftp/server"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := config.ParseServerArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	level := "info"
	if opts.Verbose {
		level = "debug"
	}
	logger := tlog.New(os.Stderr, level)

	srv, err := server.New(server.Config{
		Listen:     opts.Listen,
		Root:       opts.Root,
		MaxBlksize: opts.MaxBlksize,
		Timeout:    time.Duration(opts.Timeout) * time.Second,
		MaxRetries: opts.Retries,
		Logger:     logger,
		Metrics:    metrics.NewRegistry(nil),
		Tracer:     tftp.NewTracer(logger),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "tftp-server:", err)
		return 5
	}
	defer srv.Close()

	logger.Info("listening", tlog.Fields{"addr": srv.Addr().String(), "root": opts.Root})
	if err := srv.Serve(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "tftp-server:", err)
		return 5
	}
	return 0
}

// Command tftp-client reads or writes a single file over TFTP (RFC 1350).
package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/qvasi/tftp"
	"github.com/qvasi/tftp/datasink"
	"github.com/qvasi/tftp/internal/config"
	"github.com/qvasi/tftp/internal/tlog"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := config.ParseClientArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	mode := tftp.ParseTransferMode(opts.Mode)
	if mode == tftp.InvalidMode {
		fmt.Fprintf(os.Stderr, "tftp-client: unknown mode %q\n", opts.Mode)
		return 1
	}

	remote := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	requested := tftp.BuildRequestOptions(opts.Blksize, opts.Timeout, 0, opts.Tsize)
	logger := tlog.New(os.Stderr, "info")
	tracer := tftp.NewTracer(logger)

	cfg := tftp.ClientConfig{
		Logger:           logger,
		OnPacketSent:     tracer.OnSent,
		OnPacketReceived: tracer.OnReceived,
	}
	if opts.Timeout > 0 {
		cfg.Timeout = time.Duration(opts.Timeout) * time.Second
	}

	var outcome tftp.Outcome
	switch opts.Command {
	case "read":
		f := datasink.NewFileSink(opts.Path)
		outcome = tftp.Read(remote, opts.Path, mode, requested, f, cfg)
	case "write":
		f := datasink.NewFileSource(opts.Path)
		outcome = tftp.Write(remote, opts.Path, mode, requested, f, cfg)
	}

	return exitCode(outcome)
}

func exitCode(o tftp.Outcome) int {
	switch o.Kind {
	case tftp.OutcomeOK:
		return 0
	case tftp.OutcomeOptionsError:
		fmt.Fprintln(os.Stderr, "tftp-client:", o.Error())
		return 2
	case tftp.OutcomePeerError:
		fmt.Fprintln(os.Stderr, "tftp-client:", o.Error())
		return 3
	case tftp.OutcomeTimeout:
		fmt.Fprintln(os.Stderr, "tftp-client:", o.Error())
		return 4
	default:
		fmt.Fprintln(os.Stderr, "tftp-client:", o.Error())
		return 5
	}
}

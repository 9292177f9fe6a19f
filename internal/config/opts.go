// Package config parses the tftp-server and tftp-client command lines,
// grounded on the teacher's server/opts.go use of go-getoptions.
package config

import (
	"fmt"

	"github.com/DavidGamba/go-getoptions"
)

// ServerOpts are tftp-server's flags.
type ServerOpts struct {
	Listen     string // --listen ADDR:PORT
	Root       string // --root DIR
	MaxBlksize int    // --max-blksize N
	Timeout    int    // --timeout T
	Retries    int    // --retries R
	Verbose    bool   // --verbose
	Help       bool
}

// NewServerOpts builds the flag set for tftp-server.
func NewServerOpts() (*ServerOpts, *getoptions.GetOpt) {
	var o ServerOpts
	opt := getoptions.New()
	opt.SetMode(getoptions.Bundling)

	opt.Bool("help", false, opt.Alias("h", "?"))
	opt.StringVar(&o.Listen, "listen", ":69", opt.Alias("l"), opt.Description("address and port to listen on"))
	opt.StringVar(&o.Root, "root", ".", opt.Alias("r"), opt.Description("directory served for read/write requests"))
	opt.IntVar(&o.MaxBlksize, "max-blksize", 65464, opt.Alias("B"), opt.Description("largest blksize the server will negotiate"))
	opt.IntVar(&o.Timeout, "timeout", 5, opt.Alias("t"), opt.Description("seconds; repeated requests from a client are ignored for twice this long (transfers retransmit after the negotiated timeout, 5 seconds when none is negotiated)"))
	opt.IntVar(&o.Retries, "retries", 5, opt.Alias("T"), opt.Description("max retransmissions before an operation times out"))
	opt.BoolVar(&o.Verbose, "verbose", false, opt.Alias("v"), opt.Description("verbose logging"))

	return &o, opt
}

// ParseServerArgs parses args (excluding argv[0]) into ServerOpts.
func ParseServerArgs(args []string) (*ServerOpts, error) {
	o, opt := NewServerOpts()
	remaining, err := opt.Parse(args)
	if err != nil {
		return nil, err
	}
	if opt.Called("help") {
		return nil, fmt.Errorf("%s", opt.Help())
	}
	if len(remaining) > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", remaining)
	}
	o.Help = opt.Called("help")
	return o, nil
}

// ClientOpts are tftp-client's flags, shared by the read and write
// subcommands.
type ClientOpts struct {
	Command string // "read" or "write"
	Host    string
	Port    int
	Mode    string // "octet" or "netascii"
	Blksize int
	Timeout int
	Tsize   bool
	Path    string
	Help    bool
}

// NewClientOpts builds the flag set for one tftp-client subcommand.
func NewClientOpts() (*ClientOpts, *getoptions.GetOpt) {
	var o ClientOpts
	opt := getoptions.New()
	opt.SetMode(getoptions.Bundling)

	opt.Bool("help", false, opt.Alias("h", "?"))
	opt.StringVar(&o.Host, "host", "", opt.Alias("H"), opt.Required(), opt.Description("server host"))
	opt.IntVar(&o.Port, "port", 69, opt.Alias("p"), opt.Description("server port"))
	opt.StringVar(&o.Mode, "mode", "octet", opt.Alias("m"), opt.Description("transfer mode: octet or netascii"))
	opt.IntVar(&o.Blksize, "blksize", 0, opt.Alias("B"), opt.Description("requested block size (0: do not negotiate)"))
	opt.IntVar(&o.Timeout, "timeout", 0, opt.Alias("t"), opt.Description("requested timeout in seconds (0: do not negotiate)"))
	opt.BoolVar(&o.Tsize, "tsize", false, opt.Description("negotiate tsize"))

	return &o, opt
}

// ParseClientArgs parses args[0] as the read|write subcommand and the rest
// as its flags plus a single positional PATH.
func ParseClientArgs(args []string) (*ClientOpts, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("usage: tftp-client read|write --host H [options] PATH")
	}
	cmd := args[0]
	if cmd != "read" && cmd != "write" {
		return nil, fmt.Errorf("unknown command %q: expected read or write", cmd)
	}

	o, opt := NewClientOpts()
	remaining, err := opt.Parse(args[1:])
	if err != nil {
		return nil, err
	}
	if opt.Called("help") {
		return nil, fmt.Errorf("%s", opt.Help())
	}
	if len(remaining) != 1 {
		return nil, fmt.Errorf("expected exactly one PATH argument, got %v", remaining)
	}

	o.Command = cmd
	o.Path = remaining[0]
	return o, nil
}

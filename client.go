package tftp

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/qvasi/tftp/internal/metrics"
	"github.com/qvasi/tftp/internal/tlog"
)

// DefaultPort is the well-known TFTP server port (spec §6).
const DefaultPort = 69

// ClientConfig is the per-operation configuration a caller supplies to Read
// or Write: timeout, retries and dally. The options to negotiate are passed
// to Read/Write separately as requested, and there is no completion
// callback: the result is simply the returned Outcome, since the Go idiom
// is a blocking call the caller runs in its own goroutine.
type ClientConfig struct {
	Timeout    time.Duration
	MaxRetries int
	Dally      time.Duration

	Logger           tlog.Logger
	Metrics          *metrics.Registry
	OnPacketSent     func(Packet)
	OnPacketReceived func(Packet)
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.Logger == nil {
		c.Logger = tlog.Noop
	}
	return c
}

// ensureHostPort appends DefaultPort to remote if it names no port.
func ensureHostPort(remote string) string {
	if _, _, err := net.SplitHostPort(remote); err == nil {
		return remote
	}
	return net.JoinHostPort(remote, strconv.Itoa(DefaultPort))
}

func (c ClientConfig) trace(sent bool, p Packet) {
	if p == nil {
		return
	}
	if sent && c.OnPacketSent != nil {
		c.OnPacketSent(p)
	}
	if !sent && c.OnPacketReceived != nil {
		c.OnPacketReceived(p)
	}
}

// initialExchange sends reqBytes and waits for the server's first reply,
// retransmitting the request on timeout. The server's reply source address
// becomes the operation's TID (spec §4.9) — conn is not yet Establish-ed
// when this is called, so any reply address is accepted.
func (c ClientConfig) initialExchange(conn *Conn, reqBytes []byte, maxReplyPayload int) (Packet, netip.AddrPort, error) {
	if _, err := conn.Send(reqBytes); err != nil {
		return nil, netip.AddrPort{}, err
	}

	buf := make([]byte, maxReplyPayload+4+64)
	attempts := 0
	for {
		conn.SetReadDeadline(c.Timeout)
		n, from, err := conn.Receive(buf)
		if err != nil {
			if isTimeout(err) {
				if attempts >= c.MaxRetries {
					return nil, netip.AddrPort{}, fmt.Errorf("tftp: no reply from %s", conn.remote)
				}
				attempts++
				if c.Metrics != nil {
					c.Metrics.Retransmitted()
				}
				conn.Send(reqBytes)
				continue
			}
			return nil, netip.AddrPort{}, err
		}
		pkt, leftover, derr := Decode(buf[:n], maxReplyPayload)
		if leftover != "" {
			c.Logger.Debug("tolerated trailing bytes", tlog.Fields{"op": "handshake", "detail": leftover})
		}
		if derr != nil {
			c.Logger.Warn("malformed handshake reply", tlog.Fields{"op": "handshake", "err": derr.Error()})
			continue
		}
		return pkt, from, nil
	}
}

// Read fetches filename from remote in the given mode, delivering bytes to
// sink. requested carries any options to negotiate (blksize, timeout,
// tsize=0 to request the size echo); it may be nil. Blocks until the
// transfer reaches a terminal outcome.
func Read(remote, filename string, mode TransferMode, requested *Options, sink Sink, cfg ClientConfig) Outcome {
	cfg = cfg.withDefaults()
	conn, err := Dial("udp", ensureHostPort(remote))
	if err != nil {
		return Outcome{Kind: OutcomeProtocolError, Message: err.Error()}
	}
	defer conn.Close()

	req := &ReadWriteRequest{Op: RRQ, Filename: filename, Mode: mode, Options: requested}
	cfg.trace(true, req)

	pkt, from, err := cfg.initialExchange(conn, req.Marshal(), defaultBlksize)
	if err != nil {
		return Outcome{Kind: OutcomeTimeout, Message: err.Error()}
	}
	cfg.trace(false, pkt)

	blksize := defaultBlksize
	timeout := cfg.Timeout
	var recvCfg ReceiveOperationConfig

	switch p := pkt.(type) {
	case *OAckPacket:
		if requested == nil || !ClientAcceptOACK(requested, p.Options) {
			conn.Establish(from)
			conn.Send(newErrorPacket(OptionNegotiationFailed, "option negotiation failed").Marshal())
			return Outcome{Kind: OutcomeOptionsError, Message: "server OACK not accepted"}
		}
		conn.Establish(from)
		if v, ok, err := p.Options.GetUint(BlksizeOption.CanonicalOptionName()); ok && err == nil {
			blksize = int(v)
		}
		if v, ok, err := p.Options.GetUint(TimeoutOption.CanonicalOptionName()); ok && err == nil {
			timeout = time.Duration(v) * time.Second
		}
		recvCfg.InitialSend = (&AckPacket{Block: 0}).Marshal()
		if v, ok, err := p.Options.GetUint(TsizeOption.CanonicalOptionName()); ok && err == nil {
			recvCfg.AnnouncedTsize = &v
		}
	case *DataPacket:
		conn.Establish(from)
		recvCfg.PendingData = p
	case *ErrorPacket:
		return Outcome{Kind: OutcomePeerError, Code: p.Code, Message: p.Message}
	default:
		conn.Establish(from)
		conn.Send((&ErrorPacket{Code: IllegalOperation, Message: "unexpected reply to RRQ"}).Marshal())
		return Outcome{Kind: OutcomeProtocolError, Message: "unexpected reply to RRQ"}
	}

	recvCfg.Conn = conn
	recvCfg.Sink = sink
	recvCfg.Blksize = blksize
	recvCfg.Timeout = timeout
	recvCfg.MaxRetries = cfg.MaxRetries
	recvCfg.Logger = cfg.Logger
	recvCfg.Metrics = cfg.Metrics
	recvCfg.OnPacketSent = cfg.OnPacketSent
	recvCfg.OnPacketReceived = cfg.OnPacketReceived
	recvCfg.Kind = "read"

	return NewReceiveOperation(recvCfg).Run()
}

// Write sends filename to remote in the given mode, pulling bytes from
// source. requested carries any options to negotiate; it may be nil.
// Blocks until the transfer reaches a terminal outcome.
func Write(remote, filename string, mode TransferMode, requested *Options, source Source, cfg ClientConfig) Outcome {
	cfg = cfg.withDefaults()
	conn, err := Dial("udp", ensureHostPort(remote))
	if err != nil {
		return Outcome{Kind: OutcomeProtocolError, Message: err.Error()}
	}
	defer conn.Close()

	req := &ReadWriteRequest{Op: WRQ, Filename: filename, Mode: mode, Options: requested}
	cfg.trace(true, req)

	pkt, from, err := cfg.initialExchange(conn, req.Marshal(), defaultBlksize)
	if err != nil {
		return Outcome{Kind: OutcomeTimeout, Message: err.Error()}
	}
	cfg.trace(false, pkt)

	blksize := defaultBlksize
	timeout := cfg.Timeout

	switch p := pkt.(type) {
	case *OAckPacket:
		if requested == nil || !ClientAcceptOACK(requested, p.Options) {
			conn.Establish(from)
			conn.Send(newErrorPacket(OptionNegotiationFailed, "option negotiation failed").Marshal())
			return Outcome{Kind: OutcomeOptionsError, Message: "server OACK not accepted"}
		}
		conn.Establish(from)
		if v, ok, err := p.Options.GetUint(BlksizeOption.CanonicalOptionName()); ok && err == nil {
			blksize = int(v)
		}
		if v, ok, err := p.Options.GetUint(TimeoutOption.CanonicalOptionName()); ok && err == nil {
			timeout = time.Duration(v) * time.Second
		}
	case *AckPacket:
		if p.Block != 0 {
			conn.Establish(from)
			conn.Send((&ErrorPacket{Code: IllegalOperation, Message: "unexpected ACK block"}).Marshal())
			return Outcome{Kind: OutcomeProtocolError, Message: "unexpected initial ACK block"}
		}
		conn.Establish(from)
	case *ErrorPacket:
		return Outcome{Kind: OutcomePeerError, Code: p.Code, Message: p.Message}
	default:
		conn.Establish(from)
		conn.Send((&ErrorPacket{Code: IllegalOperation, Message: "unexpected reply to WRQ"}).Marshal())
		return Outcome{Kind: OutcomeProtocolError, Message: "unexpected reply to WRQ"}
	}

	sendCfg := SendOperationConfig{
		Conn:             conn,
		Source:           source,
		Blksize:          blksize,
		Timeout:          timeout,
		MaxRetries:       cfg.MaxRetries,
		Dally:            cfg.Dally,
		Logger:           cfg.Logger,
		Metrics:          cfg.Metrics,
		OnPacketSent:     cfg.OnPacketSent,
		OnPacketReceived: cfg.OnPacketReceived,
		Kind:             "write",
	}
	return NewSendOperation(sendCfg).Run()
}

// BuildRequestOptions is a small convenience for callers assembling the
// blksize/timeout/tsize trio without hand-rolling an *Options. A zero
// blksize or timeout is omitted from the request; tsize is included (even
// as 0) exactly when announceTsize is true. Returns nil if no option is set.
func BuildRequestOptions(blksize, timeout int, tsize uint64, announceTsize bool) *Options {
	opts := NewOptions()
	if blksize > 0 {
		opts.Set(BlksizeOption.CanonicalOptionName(), formatUint(uint64(blksize)))
	}
	if timeout > 0 {
		opts.Set(TimeoutOption.CanonicalOptionName(), formatUint(uint64(timeout)))
	}
	if announceTsize {
		opts.Set(TsizeOption.CanonicalOptionName(), formatUint(tsize))
	}
	if opts.Len() == 0 {
		return nil
	}
	return opts
}

// Package server implements the TFTP dispatcher: a well-known-port
// listener that demultiplexes RRQ/WRQ datagrams into per-client operations
// on ephemeral ports, as spec §4.8 describes.
package server

import (
	"context"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/qvasi/tftp"
	"github.com/qvasi/tftp/datasink"
	"github.com/qvasi/tftp/internal/metrics"
	"github.com/qvasi/tftp/internal/tlog"
)

// Config configures a Server.
type Config struct {
	Listen        string // address:port, e.g. ":69"
	Root          string // directory served for read/write requests
	MaxBlksize    int    // largest blksize this server will negotiate
	Timeout       time.Duration // sets the duplicate-request window (2x Timeout); operations use the negotiated timeout, 5s when none is negotiated
	MaxRetries    int
	Dally         time.Duration
	AllowCreate   bool // WRQ may create new files, not just overwrite existing ones
	Logger        tlog.Logger
	Metrics       *metrics.Registry
	Tracer        *tftp.Tracer
}

func (c Config) withDefaults() Config {
	if c.MaxBlksize <= 0 {
		c.MaxBlksize = 65464
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.Logger == nil {
		c.Logger = tlog.Noop
	}
	return c
}

// Server is the well-known-port listener plus the active-operation set
// (spec §4.8). The zero value is not usable; construct with New.
type Server struct {
	cfg      Config
	listener *tftp.Conn

	mu           sync.Mutex
	active       map[activeKey]time.Time // value: spawn time, for the duplicate-request window
}

type activeKey struct {
	remote netip.AddrPort
}

// New opens the well-known-port listener with the platform socket tuning
// from sys_linux.go/sys_darwin.go (SO_REUSEADDR, SO_PRIORITY on Linux).
func New(cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()
	listener, err := udpListen(context.Background(), cfg.Listen)
	if err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, listener: listener, active: make(map[activeKey]time.Time)}, nil
}

// Serve accepts requests until ctx is cancelled or Accept fails.
func (s *Server) Serve(ctx context.Context) error {
	buf := make([]byte, 4+2048)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, from, err := s.listener.Accept(buf)
		if err != nil {
			return err
		}

		pkt, leftover, derr := tftp.Decode(buf[:n], 0)
		if leftover != "" {
			s.cfg.Logger.Debug("tolerated trailing bytes", tlog.Fields{"remote": from.String(), "detail": leftover})
		}
		if derr != nil {
			s.cfg.Logger.Warn("malformed request", tlog.Fields{"remote": from.String(), "err": derr.Error()})
			continue
		}

		req, ok := pkt.(*tftp.ReadWriteRequest)
		if !ok {
			s.replyUnknownRequest(from)
			continue
		}

		if s.isDuplicate(from) {
			continue
		}

		s.markActive(from)
		go s.handle(req, from)
	}
}

func (s *Server) replyUnknownRequest(from netip.AddrPort) {
	// Anything but RRQ/WRQ at the listening socket is answered with
	// Error(5) to the sender and otherwise ignored (spec §4.8 step 1).
	conn, err := tftp.NewEphemeralConn("udp", from)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.Send((&tftp.ErrorPacket{Code: tftp.UnknownTransferID, Message: "unexpected packet at listening socket"}).Marshal())
}

// isDuplicate implements the "ignore duplicates at the well-known port for
// 2x timeout after spawning" resolution of spec §9's open question.
func (s *Server) isDuplicate(from netip.AddrPort) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, spawned := range s.active {
		if k.remote == from && time.Since(spawned) < 2*s.cfg.Timeout {
			return true
		}
	}
	return false
}

func (s *Server) markActive(from netip.AddrPort) {
	s.mu.Lock()
	s.active[activeKey{remote: from}] = time.Now()
	s.mu.Unlock()
}

func (s *Server) unmarkActive(from netip.AddrPort) {
	s.mu.Lock()
	delete(s.active, activeKey{remote: from})
	s.mu.Unlock()
}

func (s *Server) handle(req *tftp.ReadWriteRequest, from netip.AddrPort) {
	defer s.unmarkActive(from)

	conn, err := tftp.NewEphemeralConn("udp", from)
	if err != nil {
		s.cfg.Logger.Error("failed to open ephemeral conn", tlog.Fields{"remote": from.String(), "err": err.Error()})
		return
	}
	defer conn.Close()

	s.cfg.Logger.Info("request", tlog.Fields{"remote": from.String(), "op": req.Opcode().String(), "filename": req.Filename})

	if req.Mode != tftp.Octet {
		conn.Send((&tftp.ErrorPacket{Code: tftp.IllegalOperation, Message: "only OCTET transfers are supported"}).Marshal())
		return
	}

	path, err := s.resolvePath(req.Filename)
	if err != nil {
		conn.Send((&tftp.ErrorPacket{Code: tftp.AccessViolation, Message: err.Error()}).Marshal())
		return
	}

	switch req.Op {
	case tftp.RRQ:
		s.serveRead(conn, req, path)
	case tftp.WRQ:
		s.serveWrite(conn, req, path)
	}
}

// resolvePath joins name onto the server root, rejecting any path that
// escapes it (the teacher's srvconn.go performs the equivalent join without
// this check; access control here is tightened rather than carried over
// verbatim).
func (s *Server) resolvePath(name string) (string, error) {
	joined := filepath.Join(s.cfg.Root, name)
	rel, err := filepath.Rel(s.cfg.Root, joined)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", os.ErrPermission
	}
	return joined, nil
}

func (s *Server) serveRead(conn *tftp.Conn, req *tftp.ReadWriteRequest, path string) {
	fi, err := os.Stat(path)
	if err != nil {
		conn.Send((&tftp.ErrorPacket{Code: tftp.FileNotFound, Message: "file not found"}).Marshal())
		return
	}
	size := uint64(fi.Size())
	source := datasink.NewFileSource(path) // Reset, called once, is owned by the send operation below

	neg := tftp.NegotiateServerOptions(req.Options, s.cfg.MaxBlksize, false, func() (uint64, bool) { return size, true }, nil)
	if neg.Malformed {
		conn.Send((&tftp.ErrorPacket{Code: tftp.OptionNegotiationFailed, Message: "option negotiation failed"}).Marshal())
		return
	}

	sendCfg := tftp.SendOperationConfig{
		Conn:       conn,
		Source:     source,
		Blksize:    neg.Blksize,
		Timeout:    time.Duration(neg.Timeout) * time.Second,
		MaxRetries: s.cfg.MaxRetries,
		Dally:      s.cfg.Dally,
		Logger:     s.cfg.Logger,
		Metrics:    s.cfg.Metrics,
		Kind:       "read",
	}
	if neg.Accepted != nil && neg.Accepted.Len() > 0 {
		sendCfg.OACKToSend = neg.Accepted
	}
	if s.cfg.Tracer != nil {
		sendCfg.OnPacketSent = s.cfg.Tracer.OnSent
		sendCfg.OnPacketReceived = s.cfg.Tracer.OnReceived
	}

	outcome := tftp.NewSendOperation(sendCfg).Run()
	s.logOutcome(req, outcome)
}

func (s *Server) serveWrite(conn *tftp.Conn, req *tftp.ReadWriteRequest, path string) {
	if _, err := os.Stat(path); err != nil && !s.cfg.AllowCreate {
		conn.Send((&tftp.ErrorPacket{Code: tftp.FileNotFound, Message: "file does not exist and creation is disabled"}).Marshal())
		return
	}

	sink := datasink.NewFileSink(path) // Reset, called once, is owned by the receive operation below

	neg := tftp.NegotiateServerOptions(req.Options, s.cfg.MaxBlksize, true, nil, func(uint64) bool { return true })
	if neg.Malformed {
		conn.Send((&tftp.ErrorPacket{Code: tftp.OptionNegotiationFailed, Message: "option negotiation failed"}).Marshal())
		return
	}

	recvCfg := tftp.ReceiveOperationConfig{
		Conn:       conn,
		Sink:       sink,
		Blksize:    neg.Blksize,
		Timeout:    time.Duration(neg.Timeout) * time.Second,
		MaxRetries: s.cfg.MaxRetries,
		Logger:     s.cfg.Logger,
		Metrics:    s.cfg.Metrics,
		Kind:       "write",
	}
	if neg.HasTsize {
		tsize := neg.Tsize
		recvCfg.AnnouncedTsize = &tsize
	}
	if neg.Accepted != nil && neg.Accepted.Len() > 0 {
		recvCfg.InitialSend = (&tftp.OAckPacket{Options: neg.Accepted}).Marshal()
	} else {
		recvCfg.InitialSend = (&tftp.AckPacket{Block: 0}).Marshal()
	}
	if s.cfg.Tracer != nil {
		recvCfg.OnPacketSent = s.cfg.Tracer.OnSent
		recvCfg.OnPacketReceived = s.cfg.Tracer.OnReceived
	}

	outcome := tftp.NewReceiveOperation(recvCfg).Run()
	s.logOutcome(req, outcome)
}

func (s *Server) logOutcome(req *tftp.ReadWriteRequest, outcome tftp.Outcome) {
	fields := tlog.Fields{"filename": req.Filename, "kind": outcome.Kind.String(), "bytes": outcome.BytesTransferred}
	if outcome.Kind == tftp.OutcomeOK {
		s.cfg.Logger.Info("transfer complete", fields)
		return
	}
	fields["message"] = outcome.Message
	s.cfg.Logger.Warn("transfer terminated", fields)
}

// Addr returns the listener's local address.
func (s *Server) Addr() net.Addr { return s.listener.LocalAddr() }

// Close releases the listening socket.
func (s *Server) Close() error { return s.listener.Close() }

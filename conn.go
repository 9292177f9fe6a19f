package tftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"
)

// ErrUnexpectedTID is returned by Conn.Receive when a connected Conn receives
// a datagram from an address other than its established remote TID.
var ErrUnexpectedTID = errors.New("tftp: packet from unexpected TID")

// ErrNotListening is returned when Accept is called on a Conn that is
// already bound to a single remote TID.
var ErrNotListening = errors.New("tftp: conn is not a listening conn")

// Conn wraps a *net.UDPConn, tracking the remote TID an operation is bound
// to once the peer's first reply establishes it (spec §3 invariant ii: the
// local port, once fixed, never changes over the life of the operation).
type Conn struct {
	c         *net.UDPConn
	remote    netip.AddrPort
	connected bool
}

// Dial opens an ephemeral local UDP endpoint for talking to remote. The
// Conn is not yet "connected" in the TID sense until Establish is called
// with the source address of the first reply.
func Dial(network, remote string) (*Conn, error) {
	raddr, err := net.ResolveUDPAddr(network, remote)
	if err != nil {
		return nil, fmt.Errorf("tftp: resolve remote: %w", err)
	}
	laddr, err := net.ResolveUDPAddr(network, ":0")
	if err != nil {
		return nil, err
	}
	c, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, fmt.Errorf("tftp: dial: %w", err)
	}
	return &Conn{c: c, remote: raddr.AddrPort()}, nil
}

// listenUDP opens a listening Conn bound to address; it is not connected
// to any single remote and is meant to Accept new requests.
func listenUDP(network, address string) (*Conn, error) {
	addr, err := net.ResolveUDPAddr(network, address)
	if err != nil {
		return nil, err
	}
	c, err := net.ListenUDP(network, addr)
	if err != nil {
		return nil, err
	}
	return &Conn{c: c}, nil
}

// ListenConfigConn is listenUDP but lets the caller control socket options
// (SO_REUSEADDR etc., see server/sys_linux.go) and lifetime via ctx.
func ListenConfigConn(ctx context.Context, cfg *net.ListenConfig, network, address string) (*Conn, error) {
	pc, err := cfg.ListenPacket(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("tftp: listen: %w", err)
	}
	udpConn, ok := pc.(*net.UDPConn)
	if !ok {
		return nil, fmt.Errorf("tftp: listen: %T is not a UDP conn", pc)
	}
	return &Conn{c: udpConn}, nil
}

// NewEphemeralConn opens a fresh ephemeral UDP endpoint already bound to
// remote as its established TID. The dispatcher uses this to give each
// accepted operation its own socket (spec §4.8 step 2).
func NewEphemeralConn(network string, remote netip.AddrPort) (*Conn, error) {
	laddr, err := net.ResolveUDPAddr(network, ":0")
	if err != nil {
		return nil, err
	}
	c, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return &Conn{c: c, remote: remote, connected: true}, nil
}

// Send writes b to the Conn's remote, as set by Dial, NewEphemeralConn or
// Establish.
func (c *Conn) Send(b []byte) (int, error) {
	return c.c.WriteToUDPAddrPort(b, c.remote)
}

// SendTo writes b to an explicit address, bypassing the established
// remote. Used to answer foreign-TID datagrams with Error(5) without
// disturbing the operation's real peer (spec §4.5/§4.6 "foreign TID").
func (c *Conn) SendTo(b []byte, addr netip.AddrPort) (int, error) {
	return c.c.WriteToUDPAddrPort(b, addr)
}

// Receive reads the next datagram into b. If the Conn is bound to a
// remote TID, a datagram from a different address is returned along with
// ErrUnexpectedTID (and its sender address), rather than being silently
// treated as a valid read: state machines use this to answer Error(5)
// without advancing state.
func (c *Conn) Receive(b []byte) (n int, from netip.AddrPort, err error) {
	n, from, err = c.c.ReadFromUDPAddrPort(b)
	if err != nil {
		return n, from, err
	}
	if c.connected && from != c.remote {
		return n, from, ErrUnexpectedTID
	}
	return n, from, nil
}

// Accept waits for the next datagram on a listening Conn, reads it into buf
// and returns its length and sender address. It does not open a
// per-operation Conn; callers use NewEphemeralConn for that. Only
// meaningful on a Conn created via listenUDP/ListenConfigConn.
func (c *Conn) Accept(buf []byte) (n int, from netip.AddrPort, err error) {
	if c.connected {
		return 0, netip.AddrPort{}, ErrNotListening
	}
	return c.c.ReadFromUDPAddrPort(buf)
}

// SetReadDeadline arms a read timeout relative to now.
func (c *Conn) SetReadDeadline(d time.Duration) error {
	return c.c.SetReadDeadline(time.Now().Add(d))
}

// LocalAddr returns the conn's local address.
func (c *Conn) LocalAddr() net.Addr { return c.c.LocalAddr() }

// RemoteTID returns the established remote address, if any.
func (c *Conn) RemoteTID() (netip.AddrPort, bool) { return c.remote, c.connected }

// Establish fixes the Conn's remote TID to addr. Used by the client façade
// the first time it observes the server's reply source port (spec §4.9).
func (c *Conn) Establish(addr netip.AddrPort) {
	c.remote = addr
	c.connected = true
}

// Close releases the underlying socket.
func (c *Conn) Close() error { return c.c.Close() }

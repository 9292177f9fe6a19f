//go:build linux

package server

import (
	"context"
	"net"
	"syscall"

	"github.com/qvasi/tftp"
	"golang.org/x/sys/unix"
)

// udpListen opens the well-known-port listener with SO_REUSEADDR (so
// restarting the server doesn't wait out TIME_WAIT) and a raised
// SO_PRIORITY, as the teacher's server/sys_linux.go does.
func udpListen(ctx context.Context, addr string) (*tftp.Conn, error) {
	lc := &net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
				unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, syscall.SO_PRIORITY, 7)
			})
		},
	}
	return tftp.ListenConfigConn(ctx, lc, "udp", addr)
}

//go:build darwin

package server

import (
	"context"
	"net"
	"syscall"

	"github.com/qvasi/tftp"
	"golang.org/x/sys/unix"
)

// udpListen is sys_linux.go's udpListen without SO_PRIORITY, which darwin
// doesn't have, matching the teacher's server/sys_darwin.go split.
func udpListen(ctx context.Context, addr string) (*tftp.Conn, error) {
	lc := &net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
		},
	}
	return tftp.ListenConfigConn(ctx, lc, "udp", addr)
}

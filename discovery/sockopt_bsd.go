//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package discovery

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseControl lets several processes on one host bind the discovery port.
// BSD stacks need SO_REUSEPORT alongside SO_REUSEADDR for duplicate UDP binds.
func reuseControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if sockErr == nil {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		}
	}); err != nil {
		return err
	}
	return sockErr
}

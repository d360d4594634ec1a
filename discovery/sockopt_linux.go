package discovery

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseControl lets several processes on one host bind the discovery port.
// Linux delivers broadcasts to every SO_REUSEADDR socket on the port.
func reuseControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return sockErr
}

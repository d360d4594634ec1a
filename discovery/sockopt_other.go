//go:build !linux && !darwin && !dragonfly && !freebsd && !netbsd && !openbsd

package discovery

import "syscall"

func reuseControl(network, address string, c syscall.RawConn) error {
	return nil
}

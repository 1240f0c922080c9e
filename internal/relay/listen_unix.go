//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package relay

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseControl marks a listening socket SO_REUSEADDR and, when reusePort is set, SO_REUSEPORT.
func reuseControl(reusePort bool) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			if sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); sockErr != nil {
				return
			}
			if reusePort {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			}
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}

//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package relay

import "syscall"

// reuseControl is a no-op where SO_REUSEPORT is not available.
func reuseControl(bool) func(network, address string, c syscall.RawConn) error {
	return nil
}

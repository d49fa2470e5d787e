//go:build unix

package core

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddrControl lets several routers on one host bind the PIM ports
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return serr
}

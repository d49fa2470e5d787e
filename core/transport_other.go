//go:build !unix

package core

import "syscall"

func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}

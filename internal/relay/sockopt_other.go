//go:build !unix

package relay

import "syscall"

func reuseAddrControl(network, address string, c syscall.RawConn) error { return nil }

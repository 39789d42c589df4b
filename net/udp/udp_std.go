//go:build !linux

package udp

import (
	"errors"
	"net"
)

var (
	errUnsupportedOperation = errors.New("unsupported operation")
)

func SetDSCP(conn *net.UDPConn, dscp uint8) error {
	if dscp > 63 {
		panic("invalid argument: dscp must not be greater than 63")
	}
	return errUnsupportedOperation
}

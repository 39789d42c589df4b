package udp

import (
	"net"

	"golang.org/x/sys/unix"
)

func SetDSCP(conn *net.UDPConn, dscp uint8) error {
	if dscp > 63 {
		panic("invalid argument: dscp must not be greater than 63")
	}
	sconn, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var res struct {
		err error
	}
	err = sconn.Control(func(fd uintptr) {
		tos := int(dscp << 2)
		res.err = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, tos)
		// Dual-stack sockets need the traffic class as well
		errv6 := unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
		if res.err != nil && errv6 == nil {
			res.err = nil
		}
	})
	if err != nil {
		return err
	}
	return res.err
}

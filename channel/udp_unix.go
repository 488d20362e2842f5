// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

//go:build unix

package channel

import (
	"errors"
	"net"
	"net/netip"
	"syscall"

	"golang.org/x/sys/unix"
)

func enableBroadcast(network, address string, c syscall.RawConn) error {
	var serr error
	if err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return serr
}

// recvNonblock reads a single datagram without waiting for one to arrive.
func recvNonblock(conn *net.UDPConn, buf []byte) (int, netip.AddrPort, error) {
	rc, err := conn.SyscallConn()
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	var (
		n    int
		from unix.Sockaddr
		rerr error
	)
	if err := rc.Read(func(fd uintptr) bool {
		n, from, rerr = unix.Recvfrom(int(fd), buf, unix.MSG_DONTWAIT)
		return true // do not wait for readiness
	}); err != nil {
		return 0, netip.AddrPort{}, err
	}
	if errors.Is(rerr, unix.EAGAIN) || errors.Is(rerr, unix.EWOULDBLOCK) {
		return 0, netip.AddrPort{}, ErrWouldBlock
	} else if rerr != nil {
		return 0, netip.AddrPort{}, rerr
	}
	switch sa := from.(type) {
	case *unix.SockaddrInet4:
		return n, netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port)), nil
	case *unix.SockaddrInet6:
		return n, netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), uint16(sa.Port)), nil
	}
	return n, netip.AddrPort{}, nil
}

// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package channel

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

// UDP is a [Network] of IPv4 UDP sockets.
//
// On unix systems a receive with no data pending returns [ErrWouldBlock]
// immediately. Elsewhere the receive waits up to 1ms for data before
// reporting ErrWouldBlock, so an idle tick may block for that long.
type UDP struct {
	// Addr, if valid, is the local address to bind. By default sockets bind
	// all interfaces.
	Addr netip.Addr
}

// Listen implements a method of the [Network] interface.
func (u UDP) Listen(port uint16, broadcast bool) (Socket, error) {
	addr := netip.IPv4Unspecified()
	if u.Addr.IsValid() {
		addr = u.Addr
	}
	var lc net.ListenConfig
	if broadcast {
		lc.Control = enableBroadcast
	}
	pc, err := lc.ListenPacket(context.Background(), "udp4", netip.AddrPortFrom(addr, port).String())
	if err != nil {
		return nil, fmt.Errorf("listen udp port %d: %w", port, err)
	}
	return &UDPSocket{conn: pc.(*net.UDPConn)}, nil
}

// BroadcastAddr implements a method of the [Network] interface.
func (UDP) BroadcastAddr(port uint16) netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{255, 255, 255, 255}), port)
}

// A UDPSocket is a [Socket] backed by a UDP connection.
type UDPSocket struct {
	conn *net.UDPConn
}

// SendTo implements a method of the [Socket] interface.
func (s *UDPSocket) SendTo(data []byte, addr netip.AddrPort) (int, error) {
	return s.conn.WriteToUDPAddrPort(data, addr)
}

// RecvFrom implements a method of the [Socket] interface.
func (s *UDPSocket) RecvFrom(buf []byte) (int, netip.AddrPort, error) {
	n, from, err := recvNonblock(s.conn, buf)
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	return n, netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), nil
}

// LocalAddr implements a method of the [Socket] interface.
func (s *UDPSocket) LocalAddr() netip.AddrPort {
	if ua, ok := s.conn.LocalAddr().(*net.UDPAddr); ok {
		return ua.AddrPort()
	}
	return netip.AddrPort{}
}

// Close implements a method of the [Socket] interface.
func (s *UDPSocket) Close() error { return s.conn.Close() }

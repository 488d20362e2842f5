// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package channel provides datagram transports for tickwire hosts.
//
// A [Network] binds [Socket] values. Sockets are non-blocking: RecvFrom
// reports [ErrWouldBlock] when no datagram is pending, so that a host can
// drain its socket once per tick without stalling.
package channel

import (
	"errors"
	"net/netip"
)

// ErrWouldBlock is reported by [Socket.RecvFrom] when no datagram is ready.
var ErrWouldBlock = errors.New("no datagram pending")

// A Socket sends and receives datagrams.
type Socket interface {
	// SendTo sends data as a single datagram to addr.
	SendTo(data []byte, addr netip.AddrPort) (int, error)

	// RecvFrom receives a pending datagram into buf, returning its length and
	// sender. If the datagram is larger than buf, the excess is discarded.
	// If no datagram is pending, RecvFrom reports ErrWouldBlock.
	RecvFrom(buf []byte) (int, netip.AddrPort, error)

	// LocalAddr reports the address the socket is bound to.
	LocalAddr() netip.AddrPort

	// Close closes the socket. After Close, other methods report
	// net.ErrClosed.
	Close() error
}

// A Network creates sockets.
type Network interface {
	// Listen binds a socket to the given port. If port == 0, an ephemeral port
	// is chosen. If broadcast is true, the socket may send to the address
	// reported by BroadcastAddr.
	Listen(port uint16, broadcast bool) (Socket, error)

	// BroadcastAddr reports the local broadcast address for port.
	BroadcastAddr(port uint16) netip.AddrPort
}

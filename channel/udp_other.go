// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

//go:build !unix

package channel

import (
	"errors"
	"net"
	"net/netip"
	"os"
	"syscall"
	"time"
)

func enableBroadcast(network, address string, c syscall.RawConn) error { return nil }

// pollWait bounds how long a receive waits on platforms without a
// non-blocking receive primitive.
const pollWait = time.Millisecond

func recvNonblock(conn *net.UDPConn, buf []byte) (int, netip.AddrPort, error) {
	conn.SetReadDeadline(time.Now().Add(pollWait))
	n, from, err := conn.ReadFromUDPAddrPort(buf)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return 0, netip.AddrPort{}, ErrWouldBlock
	}
	return n, from, err
}

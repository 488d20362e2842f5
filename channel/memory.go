// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package channel

import (
	"cmp"
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/creachadair/tickwire/wire"
)

// MemoryOptions are optional settings for a [Memory] network.
// A nil *MemoryOptions is ready for use and provides a perfect network.
type MemoryOptions struct {
	// Loss is the fraction of datagrams in [0, 1] silently dropped.
	Loss float64

	// Latency is the fixed delivery delay added to each datagram.
	// Delayed datagrams are delivered by [Memory.Advance].
	Latency time.Duration

	// Jitter is the maximum random delay added to Latency.
	Jitter time.Duration

	// Seed seeds the random source used for loss and jitter.
	Seed uint64
}

// Memory is an in-process [Network]. Each socket is assigned its own address
// in 10.0.0.0/24, and a datagram sent to the broadcast address 10.0.0.255 is
// delivered to every other socket bound on the same port.
//
// A Memory is safe for concurrent use by multiple goroutines.
type Memory struct {
	mu       sync.Mutex
	opts     MemoryOptions
	rng      *rand.Rand
	now      time.Duration
	nextHost byte
	nextPort uint16
	socks    map[netip.AddrPort]*memSocket
	inflight []flight
	filter   func(from, to netip.AddrPort, data []byte) bool
	sent     int
	dropped  int
}

type flight struct {
	due  time.Duration
	dgm  datagram
	sock *memSocket
}

type datagram struct {
	from netip.AddrPort
	data []byte
}

const firstEphemeral = 49152

// NewMemory constructs a new empty in-memory network.
func NewMemory(opts *MemoryOptions) *Memory {
	m := &Memory{
		nextHost: 1,
		nextPort: firstEphemeral,
		socks:    make(map[netip.AddrPort]*memSocket),
	}
	if opts != nil {
		m.opts = *opts
	}
	m.rng = rand.New(rand.NewPCG(m.opts.Seed, m.opts.Seed^0x5eed))
	return m
}

// SetFilter installs a function that is consulted for each datagram sent on
// the network. If f returns false the datagram is dropped. A nil f removes
// the filter.
func (m *Memory) SetFilter(f func(from, to netip.AddrPort, data []byte) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filter = f
}

// Advance moves the network clock forward by dt and delivers any delayed
// datagrams that have become due.
func (m *Memory) Advance(dt time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += dt
	var keep []flight
	for _, f := range m.inflight {
		if f.due <= m.now {
			f.sock.deliver(f.dgm)
		} else {
			keep = append(keep, f)
		}
	}
	m.inflight = keep
}

// Stats reports the total number of datagrams sent and dropped on m.
func (m *Memory) Stats() (sent, dropped int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent, m.dropped
}

// Listen implements a method of the [Network] interface.
func (m *Memory) Listen(port uint16, broadcast bool) (Socket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nextHost == 255 {
		return nil, fmt.Errorf("memory network: no free addresses")
	}
	if port == 0 {
		port = m.nextPort
		m.nextPort++
	}
	addr := netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, 0, m.nextHost}), port)
	m.nextHost++
	s := &memSocket{net: m, addr: addr, broadcast: broadcast}
	m.socks[addr] = s
	return s, nil
}

// BroadcastAddr implements a method of the [Network] interface.
func (*Memory) BroadcastAddr(port uint16) netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, 0, 255}), port)
}

func (m *Memory) send(from *memSocket, data []byte, to netip.AddrPort) (int, error) {
	if len(data) > wire.MaxDatagramSize {
		return 0, fmt.Errorf("datagram too large (%d > %d bytes)", len(data), wire.MaxDatagramSize)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if from.closed {
		return 0, net.ErrClosed
	}

	var targets []*memSocket
	if to == m.BroadcastAddr(to.Port()) {
		if !from.broadcast {
			return 0, fmt.Errorf("send to %v: broadcast not enabled", to)
		}
		for addr, s := range m.socks {
			if addr.Port() == to.Port() && s != from {
				targets = append(targets, s)
			}
		}
		slices.SortFunc(targets, func(a, b *memSocket) int { return a.addr.Compare(b.addr) })
	} else if s, ok := m.socks[to]; ok {
		targets = append(targets, s)
	}

	for _, s := range targets {
		m.sent++
		if m.filter != nil && !m.filter(from.addr, s.addr, data) {
			m.dropped++
			continue
		}
		if m.opts.Loss > 0 && m.rng.Float64() < m.opts.Loss {
			m.dropped++
			continue
		}
		dgm := datagram{from: from.addr, data: slices.Clone(data)}
		delay := m.opts.Latency
		if m.opts.Jitter > 0 {
			delay += time.Duration(m.rng.Int64N(int64(m.opts.Jitter)))
		}
		if delay <= 0 {
			s.deliver(dgm)
			continue
		}
		m.inflight = append(m.inflight, flight{due: m.now + delay, dgm: dgm, sock: s})
	}
	slices.SortStableFunc(m.inflight, func(a, b flight) int { return cmp.Compare(a.due, b.due) })
	return len(data), nil
}

type memSocket struct {
	net       *Memory
	addr      netip.AddrPort
	broadcast bool

	// The following fields are protected by net.mu.
	queue  []datagram
	closed bool
}

// deliver requires that the caller hold s.net.mu.
func (s *memSocket) deliver(d datagram) {
	if !s.closed {
		s.queue = append(s.queue, d)
	}
}

func (s *memSocket) SendTo(data []byte, addr netip.AddrPort) (int, error) {
	return s.net.send(s, data, addr)
}

func (s *memSocket) RecvFrom(buf []byte) (int, netip.AddrPort, error) {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	if s.closed {
		return 0, netip.AddrPort{}, net.ErrClosed
	}
	if len(s.queue) == 0 {
		return 0, netip.AddrPort{}, ErrWouldBlock
	}
	d := s.queue[0]
	s.queue = s.queue[1:]
	return copy(buf, d.data), d.from, nil
}

func (s *memSocket) LocalAddr() netip.AddrPort { return s.addr }

func (s *memSocket) Close() error {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	if s.closed {
		return net.ErrClosed
	}
	s.closed = true
	s.queue = nil
	delete(s.net.socks, s.addr)
	return nil
}

// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package tickwire

import (
	"net/netip"
	"slices"
	"time"

	"github.com/creachadair/tickwire/packet"
	"github.com/creachadair/tickwire/wire"
	"github.com/sirupsen/logrus"
)

// SeqLess reports whether sequence number a precedes b, allowing for
// wraparound of the 16-bit sequence space.
func SeqLess(a, b uint16) bool {
	x, y := int32(a), int32(b)
	return (x < y && y-x < 32768) || (x > y && x-y > 32768)
}

// A ReliablePacket is a reliable datagram awaiting acknowledgement.
type ReliablePacket struct {
	Seq       uint16
	Data      []byte        // the complete datagram, including its header
	SinceSend time.Duration // time since the datagram was last transmitted
	Sends     int           // number of retransmissions

	held bool // queued while the peer was not ready; not yet transmitted
}

// verdict describes how to treat an inbound datagram.
type verdict uint8

const (
	vProcess verdict = 1 << iota // deliver the payload to the application
	vAck                         // acknowledge the sequence number
)

type pendingPacket struct {
	seq     uint16
	payload []byte
}

// A Profile is the per-peer state of the reliability engine: sequence
// counters, the queue of unacknowledged reliable datagrams, the out-of-order
// receive queue, and the send buffers.
//
// A Profile is not safe for concurrent use.
type Profile struct {
	addr   netip.AddrPort
	hostID byte

	outReliable   uint16 // next reliable sequence to send
	outUnreliable uint16 // next unreliable sequence to send
	inReliable    uint16 // next reliable sequence expected
	inUnreliable  uint16 // lowest unreliable sequence accepted

	outgoing []*ReliablePacket
	incoming []pendingPacket

	relBuf   packet.Builder
	unrelBuf packet.Builder

	ready bool
	idle  time.Duration

	tx  func([]byte) // transmit a datagram to addr
	cfg *Config
	log logrus.FieldLogger
}

func newProfile(addr netip.AddrPort, hostID byte, cfg *Config, tx func([]byte)) *Profile {
	return &Profile{
		addr:   addr,
		hostID: hostID,
		ready:  true,
		tx:     tx,
		cfg:    cfg,
		log:    cfg.Logger.WithFields(logrus.Fields{"peer": addr, "host_id": hostID}),
	}
}

// Addr reports the network address of the peer.
func (p *Profile) Addr() netip.AddrPort { return p.addr }

// HostID reports the host id of the peer.
func (p *Profile) HostID() byte { return p.hostID }

// Ready reports whether the peer has confirmed that its initial state is
// loaded. Reliable datagrams for a peer that is not ready are held until it is.
func (p *Profile) Ready() bool { return p.ready }

// Idle reports the time since a datagram was last received from the peer.
func (p *Profile) Idle() time.Duration { return p.idle }

// Outgoing reports the number of unacknowledged reliable datagrams.
func (p *Profile) Outgoing() int { return len(p.outgoing) }

// Pending reports the reliable datagrams awaiting acknowledgement, in the
// order they were sent. The caller must not modify the packets.
func (p *Profile) Pending() []*ReliablePacket { return slices.Clone(p.outgoing) }

// queue encodes m into the send buffer matching its reliability, flushing the
// buffer first if m would not fit. It reports false without queueing anything
// if m can never fit in a datagram.
func (p *Profile) queue(m wire.Message) bool {
	reliable := wire.Reliable(m)
	buf := &p.unrelBuf
	if reliable {
		buf = &p.relBuf
	}
	start := buf.Len()
	wire.Append(buf, m)
	size := buf.Len() - start
	if size > wire.MaxMessageSize {
		buf.Truncate(start)
		p.log.WithFields(logrus.Fields{"type": m.Type(), "size": size}).
			Error("message exceeds maximum datagram payload; dropped")
		return false
	}
	if buf.Len() > wire.MaxMessageSize {
		// Move the new message into a fresh buffer after flushing the rest.
		msg := append([]byte(nil), buf.Bytes()[start:]...)
		buf.Truncate(start)
		p.flushBuffer(reliable)
		buf.Put(msg...)
	}
	return true
}

// flush sends any buffered messages.
func (p *Profile) flush() {
	p.flushBuffer(true)
	p.flushBuffer(false)
}

func (p *Profile) flushBuffer(reliable bool) {
	buf := &p.unrelBuf
	if reliable {
		buf = &p.relBuf
	}
	if buf.Len() == 0 {
		return
	}
	d := wire.Datagram{Reliable: reliable, Payload: buf.Bytes()}
	if reliable {
		d.Seq = p.outReliable
		p.outReliable++
	} else {
		d.Seq = p.outUnreliable
		p.outUnreliable++
	}
	data := d.Encode()
	buf.Reset()

	if reliable {
		p.outgoing = append(p.outgoing, &ReliablePacket{Seq: d.Seq, Data: data, held: !p.ready})
		if !p.ready {
			return
		}
	}
	p.tx(data)
}

// receive classifies an inbound datagram by its sequence number and updates
// the receive counters. A reliable datagram ahead of the expected sequence is
// buffered for later delivery by nextPending.
func (p *Profile) receive(seq uint16, reliable bool, payload []byte) verdict {
	if !reliable {
		if SeqLess(seq, p.inUnreliable) {
			return 0 // stale or duplicate
		}
		p.inUnreliable = seq + 1
		return vProcess
	}

	switch {
	case seq == p.inReliable:
		p.inReliable++
		return vProcess | vAck
	case SeqLess(seq, p.inReliable):
		return vAck // already delivered; the sender missed our ack
	}

	// The datagram is ahead of the next expected sequence.
	if slices.ContainsFunc(p.incoming, func(pp pendingPacket) bool { return pp.seq == seq }) {
		return vAck
	}
	if len(p.incoming) >= p.cfg.MaxIncoming {
		p.log.WithField("seq", seq).Warn("out-of-order queue full; datagram dropped")
		return 0
	}
	p.incoming = append(p.incoming, pendingPacket{seq: seq, payload: slices.Clone(payload)})
	return vAck
}

// nextPending removes and returns the buffered payload for the next expected
// reliable sequence, if it has arrived.
func (p *Profile) nextPending() ([]byte, bool) {
	i := slices.IndexFunc(p.incoming, func(pp pendingPacket) bool { return pp.seq == p.inReliable })
	if i < 0 {
		return nil, false
	}
	payload := p.incoming[i].payload
	p.incoming = slices.Delete(p.incoming, i, i+1)
	p.inReliable++
	return payload, true
}

// ack removes the outgoing datagram with the given sequence number, and
// reports whether one was found.
func (p *Profile) ack(seq uint16) bool {
	i := slices.IndexFunc(p.outgoing, func(rp *ReliablePacket) bool { return rp.Seq == seq })
	if i < 0 {
		return false
	}
	p.outgoing = slices.Delete(p.outgoing, i, i+1)
	return true
}

// retransmit ages the outgoing datagrams by dt and resends those that have
// waited at least the resend interval. It returns the number of datagrams
// resent, and reports false if any datagram has exceeded the resend limit.
func (p *Profile) retransmit(dt time.Duration) (int, bool) {
	var nsent int
	ok := true
	for _, rp := range p.outgoing {
		if rp.held {
			continue
		}
		rp.SinceSend += dt
		if rp.SinceSend >= p.cfg.ResendInterval {
			p.tx(rp.Data)
			rp.SinceSend = 0
			rp.Sends++
			nsent++
		}
		if rp.Sends > p.cfg.MaxResends {
			ok = false
		}
	}
	return nsent, ok
}

// setReady marks the peer ready and transmits any held datagrams in order.
func (p *Profile) setReady() {
	p.ready = true
	for _, rp := range p.outgoing {
		if rp.held {
			rp.held = false
			rp.SinceSend = 0
			p.tx(rp.Data)
		}
	}
}

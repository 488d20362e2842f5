// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package wire

import (
	"fmt"

	"github.com/creachadair/mds/value"
	"github.com/creachadair/tickwire/packet"
)

// A Datagram is the unit of transmission. Its payload is a concatenation of
// encoded messages sharing a single sequence header.
type Datagram struct {
	Seq      uint16
	Reliable bool
	Payload  []byte
}

// Encode returns the binary encoding of d.
func (d Datagram) Encode() []byte {
	b := packet.NewBuilder(Header + len(d.Payload))
	b.Uint16(d.Seq)
	b.Byte(value.Cond[byte](d.Reliable, 1, 0))
	b.Put(d.Payload...)
	return b.Bytes()
}

// ParseDatagram parses the header of a datagram. The payload of the result
// aliases data.
func ParseDatagram(data []byte) (Datagram, error) {
	if len(data) < Header {
		return Datagram{}, fmt.Errorf("short datagram (%d < %d bytes)", len(data), Header)
	}
	s := packet.NewScanner(data)
	var d Datagram
	if err := packet.Parse(s, &d.Seq, &d.Reliable); err != nil {
		return Datagram{}, err
	}
	d.Payload = s.Rest()
	return d, nil
}

// Messages decodes the messages packed into a datagram payload, in order.
// Decoding stops at the first malformed message; the messages decoded before
// it are returned along with the error.
func Messages(payload []byte) ([]Message, error) {
	var out []Message
	s := packet.NewScanner(payload)
	for s.Len() > 0 {
		off := s.Offset()
		m, err := Decode(s)
		if err != nil {
			return out, fmt.Errorf("offset %d: %w", off, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// Pack encodes the given messages into a single datagram payload. It reports
// an error if the result would exceed MaxMessageSize.
func Pack(ms ...Message) ([]byte, error) {
	var b packet.Builder
	for _, m := range ms {
		Append(&b, m)
	}
	if b.Len() > MaxMessageSize {
		return nil, fmt.Errorf("payload too large (%d > %d bytes)", b.Len(), MaxMessageSize)
	}
	return b.Bytes(), nil
}

// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package discovery implements session advertisement and search on a local
// network.
//
// A server periodically broadcasts an [Advertisement] datagram to [Port]. A
// [Searcher] bound to that port collects the advertisements that match its
// game id and version into a list of [Session] values.
package discovery

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"slices"

	"github.com/creachadair/tickwire/channel"
	"github.com/creachadair/tickwire/packet"
	"github.com/creachadair/tickwire/wire"
	"github.com/sirupsen/logrus"
)

const (
	// Port is the well-known port for session advertisements.
	Port = 15151

	// MaxSessions is the maximum number of sessions tracked by a Searcher.
	MaxSessions = 16

	// DatagramSize is the exact size of an advertisement datagram.
	DatagramSize = wire.Header + 1 + wire.BroadcastSize

	// maxReadsPerUpdate bounds the work done by one call to Update.
	maxReadsPerUpdate = 256
)

// A Session describes an advertised session.
type Session struct {
	Addr       netip.AddrPort // the session address of the server
	Name       string
	MaxPlayers byte
	NumPlayers byte
}

func (s Session) String() string {
	return fmt.Sprintf("%q at %v (%d/%d)", s.Name, s.Addr, s.NumPlayers, s.MaxPlayers)
}

// An Advertisement is the content of a session broadcast.
type Advertisement struct {
	GameID     uint32
	Version    uint32
	Name       string
	MaxPlayers byte
	NumPlayers byte
}

// Datagram encodes a as a complete datagram: an unreliable header with
// sequence 0 followed by a single Broadcast message.
func (a Advertisement) Datagram() []byte {
	return wire.Datagram{Payload: wire.Encode(&wire.Broadcast{
		GameID:     a.GameID,
		Version:    a.Version,
		Name:       a.Name,
		MaxPlayers: a.MaxPlayers,
		NumPlayers: a.NumPlayers,
	})}.Encode()
}

// Parse decodes an advertisement datagram. It reports an error unless data
// has exactly the size of an advertisement and carries a Broadcast message
// with the correct magic number.
func Parse(data []byte) (Advertisement, error) {
	if len(data) != DatagramSize {
		return Advertisement{}, fmt.Errorf("advertisement has %d bytes, want %d", len(data), DatagramSize)
	}
	d, err := wire.ParseDatagram(data)
	if err != nil {
		return Advertisement{}, err
	}
	s := packet.NewScanner(d.Payload)
	if tag, _ := s.Peek(); wire.Type(tag) != wire.TypeBroadcast {
		return Advertisement{}, fmt.Errorf("unexpected message type %v", wire.Type(tag))
	}
	m, err := wire.Decode(s)
	if err != nil {
		return Advertisement{}, err
	}
	b := m.(*wire.Broadcast)
	return Advertisement{
		GameID:     b.GameID,
		Version:    b.Version,
		Name:       b.Name,
		MaxPlayers: b.MaxPlayers,
		NumPlayers: b.NumPlayers,
	}, nil
}

// Options are optional settings for a [Searcher].
type Options struct {
	// Port is the port to bind. If zero, Port is used.
	Port uint16

	// Logger receives diagnostic logs. If nil, logs are discarded.
	Logger logrus.FieldLogger
}

// A Searcher collects session advertisements.
// A Searcher is not safe for concurrent use.
type Searcher struct {
	sock     channel.Socket
	gameID   uint32
	version  uint32
	sessions []Session
	buf      []byte
	log      logrus.FieldLogger
}

// NewSearcher binds a socket on n and returns a Searcher that accepts
// advertisements for the given game id and version.
func NewSearcher(n channel.Network, gameID, version uint32, opts *Options) (*Searcher, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.Port == 0 {
		o.Port = Port
	}
	if o.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.Logger = l
	}
	sock, err := n.Listen(o.Port, false)
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}
	return &Searcher{
		sock:    sock,
		gameID:  gameID,
		version: version,
		buf:     make([]byte, wire.MaxDatagramSize),
		log:     o.Logger.WithField("component", "discovery"),
	}, nil
}

// Update reads all pending advertisements and updates the session list. It
// returns the number of matching advertisements received.
func (s *Searcher) Update() int {
	var nok int
	for range maxReadsPerUpdate {
		n, from, err := s.sock.RecvFrom(s.buf)
		if errors.Is(err, channel.ErrWouldBlock) {
			break
		} else if err != nil {
			s.log.WithError(err).Error("receive failed")
			break
		}
		ad, err := Parse(s.buf[:n])
		if err != nil {
			s.log.WithError(err).WithField("peer", from).Warn("invalid advertisement")
			continue
		}
		if ad.GameID != s.gameID || ad.Version != s.version {
			continue
		}
		nok++
		s.add(Session{Addr: from, Name: ad.Name, MaxPlayers: ad.MaxPlayers, NumPlayers: ad.NumPlayers})
	}
	return nok
}

func (s *Searcher) add(sess Session) {
	if i := slices.IndexFunc(s.sessions, func(old Session) bool { return old.Addr == sess.Addr }); i >= 0 {
		s.sessions[i] = sess
	} else if len(s.sessions) < MaxSessions {
		s.sessions = append(s.sessions, sess)
	}
}

// Sessions reports the sessions found so far, in order of discovery.
func (s *Searcher) Sessions() []Session { return slices.Clone(s.sessions) }

// Clear discards the sessions found so far.
func (s *Searcher) Clear() { s.sessions = nil }

// Close closes the socket of the searcher.
func (s *Searcher) Close() error { return s.sock.Close() }

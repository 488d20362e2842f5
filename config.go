// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package tickwire

import (
	"errors"
	"io"
	"time"

	"github.com/creachadair/tickwire/channel"
	"github.com/creachadair/tickwire/wire"
	"github.com/sirupsen/logrus"
)

// Well-known ports.
const (
	DefaultPort   = 5151  // session traffic
	BroadcastPort = 15151 // session advertisements
)

// Reserved host ids.
const (
	ServerID   byte = 0   // the host id of the server
	NoHost     byte = 255 // no host
	AllClients byte = 254 // replication target meaning every ready client

	maxClientID = 253
)

// Errors reported by a [Host].
var (
	ErrNotLocal     = errors.New("host already has a session")
	ErrNotConnected = errors.New("host is not connected")
	ErrNotServer    = errors.New("host is not a server")
	ErrRoute        = errors.New("invalid route for function")
	ErrUnknownFunc  = errors.New("unknown function")
	ErrNoEntity     = errors.New("entity is not replicated")
	ErrUnknownHost  = errors.New("unknown host id")
)

// Config carries settings for a [Host]. A zero Config is ready for use and
// uses the defaults described on each field.
type Config struct {
	// GameID and Version identify the application. A server rejects clients
	// whose values differ from its own.
	GameID  uint32
	Version uint32

	// Network creates sockets. If nil, channel.UDP{} is used.
	Network channel.Network

	// World is the entity layer. If nil, the host replicates only entities
	// that are passed to it explicitly.
	World World

	// Callbacks receive session lifecycle events.
	Callbacks Callbacks

	// Logger receives diagnostic logs. If nil, logs are discarded.
	Logger logrus.FieldLogger

	// SessionName is the display name advertised by a server.
	SessionName string

	// Advertise, if true, makes a server broadcast its session on the local
	// network every BroadcastInterval.
	Advertise bool

	// MaxClients is the maximum number of clients admitted by a server.
	// If zero, 9 is used.
	MaxClients int

	// ResendInterval is the time between retransmissions of an unacknowledged
	// reliable datagram. If zero, 100ms is used.
	ResendInterval time.Duration

	// MaxResends is the number of retransmissions after which a peer is
	// considered lost. If zero, 20 is used.
	MaxResends int

	// MaxIncoming bounds the out-of-order receive queue. If zero, 100 is used.
	MaxIncoming int

	// MaxOutgoing bounds the unacknowledged reliable queue; a peer exceeding
	// it is timed out. If zero, 100 is used.
	MaxOutgoing int

	// ConnectTimeout bounds a connection attempt. If zero, 5s is used.
	ConnectTimeout time.Duration

	// ConnectRetry is the interval between Connect messages while
	// connecting. If zero, 1s is used.
	ConnectRetry time.Duration

	// InactiveTimeout is the time without traffic after which a peer is
	// timed out. If zero, 15s is used.
	InactiveTimeout time.Duration

	// PingInterval is the interval between keepalive pings. If zero, 1s is
	// used.
	PingInterval time.Duration

	// BroadcastInterval is the interval between session advertisements.
	// If zero, 5s is used.
	BroadcastInterval time.Duration

	// MaxDatagramsPerTick bounds the number of datagrams read from the socket
	// in one tick. Normally a tick drains the socket until it reports no more
	// data; the bound keeps a flood of traffic from stalling the tick, and any
	// datagrams left over are read on the next tick. If zero, 1024 is used.
	MaxDatagramsPerTick int
}

// Callbacks are invoked synchronously from the tick methods of a [Host] when
// session lifecycle events occur. Any of the callbacks may be nil.
type Callbacks struct {
	// OnConnect is called on a server when it admits a new client.
	OnConnect func(client byte)

	// OnAccept is called on a client when the server admits it.
	OnAccept func()

	// OnReject is called on a client when the server refuses it.
	OnReject func(reason wire.RejectReason)

	// OnDisconnect is called on a server when a client leaves, is kicked, or
	// times out.
	OnDisconnect func(client byte)

	// OnKick is called on a client when the server removes it, or when its
	// connection times out. A connection attempt that times out reports
	// wire.KickTimeout.
	OnKick func(reason wire.KickReason)
}

func (c Config) withDefaults() Config {
	if c.Network == nil {
		c.Network = channel.UDP{}
	}
	if c.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		c.Logger = l
	}
	setDefault(&c.MaxClients, 9)
	setDefault(&c.ResendInterval, 100*time.Millisecond)
	setDefault(&c.MaxResends, 20)
	setDefault(&c.MaxIncoming, 100)
	setDefault(&c.MaxOutgoing, 100)
	setDefault(&c.ConnectTimeout, 5*time.Second)
	setDefault(&c.ConnectRetry, time.Second)
	setDefault(&c.InactiveTimeout, 15*time.Second)
	setDefault(&c.PingInterval, time.Second)
	setDefault(&c.BroadcastInterval, 5*time.Second)
	setDefault(&c.MaxDatagramsPerTick, 1024)
	c.MaxClients = min(c.MaxClients, maxClientID)
	return c
}

func setDefault[T int | time.Duration](p *T, v T) {
	if *p <= 0 {
		*p = v
	}
}

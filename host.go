// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package tickwire

import (
	"errors"
	"expvar"
	"fmt"
	"net/netip"
	"slices"
	"time"

	"github.com/creachadair/mds/mapset"
	"github.com/creachadair/tickwire/channel"
	"github.com/creachadair/tickwire/discovery"
	"github.com/creachadair/tickwire/wire"
	"github.com/sirupsen/logrus"
)

// Status is the session state of a [Host].
type Status int

const (
	Local      Status = iota // no session
	Connecting               // a client waiting for the server to accept
	Client                   // a client admitted to a session
	Server                   // hosting a session
)

func (s Status) String() string {
	switch s {
	case Local:
		return "Local"
	case Connecting:
		return "Connecting"
	case Client:
		return "Client"
	case Server:
		return "Server"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Stats are traffic counters for a [Host].
type Stats struct {
	BytesSent     int64
	BytesReceived int64
	Upload        float64 // smoothed bytes per second sent
	Download      float64 // smoothed bytes per second received
}

// rateSmoothing is the weight of the latest tick in the smoothed rates.
const rateSmoothing = 0.1

// A Host is one end of a tickwire session: either a server tracking a set of
// clients, or a client connected to one server.
//
// A Host does no work on its own. The owner must call PreTick and PostTick
// (or Tick) once per simulation step; all network traffic, callbacks, and RPC
// execution happen synchronously within those calls. A Host is not safe for
// concurrent use.
type Host struct {
	cfg    Config
	status Status
	sock   channel.Socket
	hostID byte

	server  *Profile   // client role
	clients []*Profile // server role
	usedIDs mapset.Set[byte]

	entities  map[uint32]Entity
	reg       []regEntry // in registration order, parents first
	nextNetID uint32
	sched     scheduler

	connectTime   time.Duration
	retryTime     time.Duration
	pingTime      time.Duration
	broadcastTime time.Duration

	searcher *discovery.Searcher

	recvBuf  []byte
	stats    Stats
	tickSent int64
	tickRecv int64
	metrics  *hostMetrics
	log      logrus.FieldLogger
}

type regEntry struct {
	e      Entity
	parent uint32
}

// NewHost constructs a new Host in the Local state with the given settings.
func NewHost(cfg Config) *Host {
	h := &Host{
		cfg:      cfg.withDefaults(),
		hostID:   NoHost,
		usedIDs:  mapset.New[byte](),
		entities: make(map[uint32]Entity),
		recvBuf:  make([]byte, wire.MaxDatagramSize),
		metrics:  rootMetrics,
	}
	h.sched.incremental = true
	h.log = h.cfg.Logger
	return h
}

// Metrics returns a metrics map for the host. It is safe for the caller to
// add additional metrics to the map while the host is active. By default all
// hosts share a single map; use Detach to give h its own.
func (h *Host) Metrics() *expvar.Map { return h.metrics.emap }

// Detach gives h a metrics map of its own, separate from other hosts.
// It returns h to permit chaining.
func (h *Host) Detach() *Host { h.metrics = newHostMetrics(); return h }

// Status reports the session state of h.
func (h *Host) Status() Status { return h.status }

// IsServer reports whether h is hosting a session.
func (h *Host) IsServer() bool { return h.status == Server }

// IsClient reports whether h is a client admitted to a session.
func (h *Host) IsClient() bool { return h.status == Client }

// IsLocal reports whether h has no session.
func (h *Host) IsLocal() bool { return h.status == Local }

// IsAuthority reports whether h owns the simulation state, that is, whether
// it is a server or has no session.
func (h *Host) IsAuthority() bool { return h.status == Server || h.status == Local }

// HostID reports the host id of h: ServerID for a server, the assigned id for
// a client, and NoHost otherwise.
func (h *Host) HostID() byte { return h.hostID }

// Clients reports the profiles of the clients of a server.
func (h *Host) Clients() []*Profile { return slices.Clone(h.clients) }

// Server reports the profile of the server for a client, or nil.
func (h *Host) Server() *Profile { return h.server }

// Entity reports the replicated entity with the given net id, or nil.
func (h *Host) Entity(netID uint32) Entity { return h.entities[netID] }

// LocalAddr reports the address of the session socket of h, or the zero
// address if h has no session.
func (h *Host) LocalAddr() netip.AddrPort {
	if h.sock == nil {
		return netip.AddrPort{}
	}
	return h.sock.LocalAddr()
}

// Stats reports traffic counters for h.
func (h *Host) Stats() Stats { return h.stats }

// SetMaxClients sets the maximum number of clients a server admits. It does
// not affect clients already admitted.
func (h *Host) SetMaxClients(n int) { h.cfg.MaxClients = max(1, min(n, maxClientID)) }

// SetIncremental enables or disables incremental forced replication.
func (h *Host) SetIncremental(on bool) { h.sched.incremental = on }

// OpenSession starts hosting a session on the given port, and assigns net ids
// to the replicated entities of the world.
func (h *Host) OpenSession(port uint16) error {
	if h.status != Local {
		return ErrNotLocal
	}
	sock, err := h.cfg.Network.Listen(port, h.cfg.Advertise)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	h.sock = sock
	h.status = Server
	h.hostID = ServerID
	h.nextNetID = 1
	h.pingTime = 0
	h.broadcastTime = 0
	if h.cfg.World != nil {
		walkReplicated(h.cfg.World.Root(), func(e, parent Entity) { h.register(e, parent) })
	}
	h.log.WithFields(logrus.Fields{"addr": sock.LocalAddr(), "entities": len(h.reg)}).Info("session opened")
	return nil
}

// CloseSession kicks every client and ends the session hosted by h.
func (h *Host) CloseSession() error {
	if h.status != Server {
		return ErrNotServer
	}
	for _, p := range slices.Clone(h.clients) {
		h.kick(p, wire.KickSessionClosed)
	}
	h.teardown()
	h.log.Info("session closed")
	return nil
}

// Connect begins connecting to the server at addr. The result is reported
// asynchronously, by the OnAccept, OnReject, or OnKick callback.
func (h *Host) Connect(addr netip.AddrPort) error {
	if h.status != Local {
		return ErrNotLocal
	}
	sock, err := h.cfg.Network.Listen(0, false)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	h.sock = sock
	h.status = Connecting
	h.server = h.newPeer(addr, ServerID)
	h.connectTime = 0
	h.retryTime = 0
	h.sendConnect()
	h.log.WithField("peer", addr).Info("connecting")
	return nil
}

// Disconnect leaves the current session. A client notifies its server; a
// server closes its session. Disconnect does nothing if h is local.
func (h *Host) Disconnect() {
	switch h.status {
	case Server:
		h.CloseSession()
	case Client, Connecting:
		h.server.queue(&wire.Disconnect{})
		h.server.flush()
		h.teardown()
		h.log.Info("disconnected")
	}
}

// Kick removes the client with the given host id from the session.
func (h *Host) Kick(id byte, reason wire.KickReason) error {
	if h.status != Server {
		return ErrNotServer
	}
	p := h.client(id)
	if p == nil {
		return fmt.Errorf("kick %d: %w", id, ErrUnknownHost)
	}
	h.kick(p, reason)
	return nil
}

// Close disconnects h from any session and stops any session search.
func (h *Host) Close() error {
	h.Disconnect()
	h.StopSearch()
	return nil
}

// Tick runs PreTick and PostTick for a step of duration dt.
func (h *Host) Tick(dt time.Duration) {
	h.PreTick(dt)
	h.PostTick(dt)
}

// PreTick processes inbound traffic: it handles connection retries and
// timeouts, receives and dispatches pending datagrams, retransmits
// unacknowledged reliable datagrams, and times out inactive peers.
func (h *Host) PreTick(dt time.Duration) {
	if h.status == Connecting {
		h.connectTime += dt
		h.retryTime += dt
		if h.connectTime >= h.cfg.ConnectTimeout {
			h.log.WithField("peer", h.server.addr).Warn("connection timed out")
			h.teardown()
			if f := h.cfg.Callbacks.OnKick; f != nil {
				f(wire.KickTimeout)
			}
		} else if h.retryTime >= h.cfg.ConnectRetry {
			h.retryTime = 0
			h.sendConnect()
		}
	}
	h.receive()
	h.updateConnections(dt)
	if h.searcher != nil {
		h.searcher.Update()
	}
}

// PostTick processes outbound traffic: on a server it replicates entity
// state and advertises the session; both roles send keepalive pings; finally
// all send buffers are flushed.
func (h *Host) PostTick(dt time.Duration) {
	switch h.status {
	case Server:
		h.replicationPass()
		if h.cfg.Advertise {
			h.broadcastTime -= dt
			if h.broadcastTime <= 0 {
				h.advertise()
				h.broadcastTime = h.cfg.BroadcastInterval
			}
		}
		h.pingTime += dt
		if h.pingTime >= h.cfg.PingInterval {
			h.pingTime = 0
			for _, p := range h.clients {
				p.queue(&wire.Ping{})
			}
		}
	case Client:
		h.pingTime += dt
		if h.pingTime >= h.cfg.PingInterval {
			h.pingTime = 0
			h.server.queue(&wire.Ping{})
		}
	}
	h.flush()
	h.updateRates(dt)
}

// StartSearch begins collecting session advertisements on the local network.
// Found sessions are reported by Sessions.
func (h *Host) StartSearch() error {
	if h.searcher != nil {
		return nil
	}
	s, err := discovery.NewSearcher(h.cfg.Network, h.cfg.GameID, h.cfg.Version, &discovery.Options{
		Port:   BroadcastPort,
		Logger: h.log,
	})
	if err != nil {
		return err
	}
	h.searcher = s
	return nil
}

// StopSearch stops collecting session advertisements.
func (h *Host) StopSearch() {
	if h.searcher != nil {
		h.searcher.Close()
		h.searcher = nil
	}
}

// Sessions reports the sessions found since StartSearch was called.
func (h *Host) Sessions() []discovery.Session {
	if h.searcher == nil {
		return nil
	}
	return h.searcher.Sessions()
}

func (h *Host) newPeer(addr netip.AddrPort, id byte) *Profile {
	return newProfile(addr, id, &h.cfg, func(data []byte) { h.transmit(data, addr) })
}

func (h *Host) transmit(data []byte, addr netip.AddrPort) {
	if h.sock == nil {
		return
	}
	n, err := h.sock.SendTo(data, addr)
	if err != nil {
		h.log.WithError(err).WithField("peer", addr).Error("send failed")
		return
	}
	h.metrics.packetSent.Add(1)
	h.metrics.bytesSent.Add(int64(n))
	h.stats.BytesSent += int64(n)
	h.tickSent += int64(n)
}

func (h *Host) sendConnect() {
	h.server.queue(&wire.Connect{GameID: h.cfg.GameID, Version: h.cfg.Version})
	h.server.flush()
}

func (h *Host) advertise() {
	ad := discovery.Advertisement{
		GameID:     h.cfg.GameID,
		Version:    h.cfg.Version,
		Name:       h.cfg.SessionName,
		MaxPlayers: byte(h.cfg.MaxClients),
		NumPlayers: byte(len(h.clients)),
	}
	h.transmit(ad.Datagram(), h.cfg.Network.BroadcastAddr(BroadcastPort))
}

func (h *Host) flush() {
	if h.server != nil {
		h.server.flush()
	}
	for _, p := range h.clients {
		p.flush()
	}
}

func (h *Host) updateRates(dt time.Duration) {
	if secs := dt.Seconds(); secs > 0 {
		up, down := float64(h.tickSent)/secs, float64(h.tickRecv)/secs
		h.stats.Upload += rateSmoothing * (up - h.stats.Upload)
		h.stats.Download += rateSmoothing * (down - h.stats.Download)
	}
	h.tickSent, h.tickRecv = 0, 0
}

// teardown discards all session state and returns h to Local.
func (h *Host) teardown() {
	if h.sock != nil {
		h.sock.Close()
		h.sock = nil
	}
	h.server = nil
	h.clients = nil
	h.usedIDs = mapset.New[byte]()
	for _, r := range h.reg {
		r.e.SetNetID(wire.NoNetID)
	}
	h.reg = nil
	clear(h.entities)
	h.sched.reset()
	h.status = Local
	h.hostID = NoHost
}

// receive drains the socket, handling each datagram as it arrives.
func (h *Host) receive() {
	for range h.cfg.MaxDatagramsPerTick {
		if h.sock == nil {
			return // the session ended while processing
		}
		n, from, err := h.sock.RecvFrom(h.recvBuf)
		if errors.Is(err, channel.ErrWouldBlock) {
			return
		} else if err != nil {
			h.log.WithError(err).Error("receive failed")
			return
		}
		h.metrics.packetRecv.Add(1)
		h.metrics.bytesRecv.Add(int64(n))
		h.stats.BytesReceived += int64(n)
		h.tickRecv += int64(n)
		h.handleDatagram(from, h.recvBuf[:n])
	}
}

// peer returns the profile for the peer at addr, or nil if there is none.
func (h *Host) peer(addr netip.AddrPort) *Profile {
	if h.server != nil && h.server.addr == addr {
		return h.server
	}
	for _, p := range h.clients {
		if p.addr == addr {
			return p
		}
	}
	return nil
}

// client returns the profile for the client with the given id, or nil.
func (h *Host) client(id byte) *Profile {
	for _, p := range h.clients {
		if p.hostID == id {
			return p
		}
	}
	return nil
}

func (h *Host) handleDatagram(from netip.AddrPort, data []byte) {
	d, err := wire.ParseDatagram(data)
	if err != nil {
		h.metrics.packetDropped.Add(1)
		h.log.WithError(err).WithField("peer", from).Warn("malformed datagram")
		return
	}
	p := h.peer(from)
	if p == nil {
		h.handleStranger(from, d)
		return
	}

	p.idle = 0
	v := p.receive(d.Seq, d.Reliable, d.Payload)
	if v&vAck != 0 {
		p.queue(&wire.Ack{Seq: d.Seq})
	}
	if v&vProcess == 0 {
		h.metrics.packetDropped.Add(1)
		return
	}
	h.process(p, d.Payload)

	// Deliver any buffered datagrams that are now in order.
	for h.peer(from) == p {
		payload, ok := p.nextPending()
		if !ok {
			break
		}
		h.process(p, payload)
	}
}

// handleStranger handles a datagram from an address with no profile. Only a
// server accepts such datagrams, and only to begin a handshake.
func (h *Host) handleStranger(from netip.AddrPort, d wire.Datagram) {
	if h.status == Server {
		msgs, _ := wire.Messages(d.Payload)
		if len(msgs) != 0 {
			if c, ok := msgs[0].(*wire.Connect); ok {
				h.handleConnect(from, c)
				return
			}
		}
	}
	h.metrics.packetDropped.Add(1)
	h.log.WithField("peer", from).Debug("datagram from unknown sender dropped")
}

func (h *Host) handleConnect(from netip.AddrPort, m *wire.Connect) {
	reject := func(reason wire.RejectReason) {
		h.metrics.peersRejected.Add(1)
		h.log.WithFields(logrus.Fields{"peer": from, "reason": reason}).Info("connection rejected")
		h.transmit(wire.Datagram{Payload: wire.Encode(&wire.Reject{Reason: reason})}.Encode(), from)
	}
	switch {
	case m.GameID != h.cfg.GameID:
		reject(wire.RejectInvalidGameID)
		return
	case m.Version != h.cfg.Version:
		reject(wire.RejectVersionMismatch)
		return
	case len(h.clients) >= h.cfg.MaxClients:
		reject(wire.RejectSessionFull)
		return
	}
	id := h.allocID()
	if id == NoHost {
		reject(wire.RejectSessionFull)
		return
	}

	p := h.newPeer(from, id)
	h.clients = append(h.clients, p)
	h.usedIDs.Add(id)

	p.queue(&wire.Accept{HostID: id})
	for _, r := range h.reg {
		p.queue(h.spawnMessage(r))
	}
	p.queue(&wire.Ready{})
	p.flush()
	p.ready = false // until the client confirms Ready

	h.metrics.peersAccepted.Add(1)
	p.log.Info("client connected")
	if f := h.cfg.Callbacks.OnConnect; f != nil {
		f(id)
	}
}

// allocID returns the lowest unused client host id, or NoHost.
func (h *Host) allocID() byte {
	for id := byte(1); id <= maxClientID; id++ {
		if !h.usedIDs.Has(id) {
			return id
		}
	}
	return NoHost
}

// kick sends a Kick to p and removes it.
func (h *Host) kick(p *Profile, reason wire.KickReason) {
	p.queue(&wire.Kick{Reason: reason})
	p.flush()
	p.log.WithField("reason", reason).Info("client kicked")
	h.removeClient(p)
}

func (h *Host) removeClient(p *Profile) {
	i := slices.Index(h.clients, p)
	if i < 0 {
		return
	}
	h.clients = slices.Delete(h.clients, i, i+1)
	h.usedIDs.Remove(p.hostID)
	h.metrics.peersRemoved.Add(1)
	if f := h.cfg.Callbacks.OnDisconnect; f != nil {
		f(p.hostID)
	}
}

// updateConnections retransmits reliable datagrams and removes peers that are
// inactive or whose reliable traffic is not being acknowledged.
func (h *Host) updateConnections(dt time.Duration) {
	switch h.status {
	case Server:
		for _, p := range slices.Clone(h.clients) {
			if !h.checkPeer(p, dt) {
				h.kick(p, wire.KickTimeout)
			}
		}
	case Client:
		if !h.checkPeer(h.server, dt) {
			h.Disconnect()
			if f := h.cfg.Callbacks.OnKick; f != nil {
				f(wire.KickTimeout)
			}
		}
	}
}

// checkPeer ages p by dt and retransmits its reliable datagrams. It reports
// false if p should be timed out.
func (h *Host) checkPeer(p *Profile, dt time.Duration) bool {
	p.idle += dt
	n, ok := p.retransmit(dt)
	h.metrics.resends.Add(int64(n))
	switch {
	case !ok:
		p.log.WithField("limit", h.cfg.MaxResends).Warn("reliable delivery failed")
	case p.idle >= h.cfg.InactiveTimeout:
		p.log.WithField("idle", p.idle).Warn("peer inactive")
	case len(p.outgoing) > h.cfg.MaxOutgoing:
		p.log.WithField("outgoing", len(p.outgoing)).Warn("too many unacknowledged datagrams")
	default:
		return true
	}
	return false
}

// process dispatches the messages in a datagram payload from p, in order.
func (h *Host) process(p *Profile, payload []byte) {
	msgs, err := wire.Messages(payload)
	for _, m := range msgs {
		h.dispatch(p, m)
		if h.peer(p.addr) != p {
			return // p was removed
		}
	}
	if err != nil {
		h.metrics.packetDropped.Add(1)
		p.log.WithError(err).Warn("malformed message")
	}
}

func (h *Host) dispatch(p *Profile, m wire.Message) {
	switch t := m.(type) {
	case *wire.Ack:
		if p.ack(t.Seq) {
			h.metrics.acksRecv.Add(1)
		}

	case *wire.Ping, *wire.Connect, *wire.Broadcast:
		// Nothing to do; the peer's idle timer was reset on receipt.

	case *wire.Accept:
		if h.status == Connecting {
			h.status = Client
			h.hostID = t.HostID
			h.pingTime = 0
			p.log.WithField("assigned", t.HostID).Info("connection accepted")
			if f := h.cfg.Callbacks.OnAccept; f != nil {
				f()
			}
		}

	case *wire.Reject:
		if h.status == Connecting {
			p.log.WithField("reason", t.Reason).Info("connection rejected")
			h.teardown()
			if f := h.cfg.Callbacks.OnReject; f != nil {
				f(t.Reason)
			}
		}

	case *wire.Disconnect:
		if h.status == Server {
			p.log.Info("client disconnected")
			h.removeClient(p)
		}

	case *wire.Kick:
		if h.status == Client || h.status == Connecting {
			p.log.WithField("reason", t.Reason).Info("kicked by server")
			h.teardown()
			if f := h.cfg.Callbacks.OnKick; f != nil {
				f(t.Reason)
			}
		}

	case *wire.Ready:
		if h.status == Client {
			p.queue(&wire.Ready{})
		} else if h.status == Server && !p.ready {
			p.setReady()
			for _, r := range h.reg {
				h.replicate(r.e, p.hostID, true, true)
			}
			p.log.Debug("client ready")
		}

	case *wire.Spawn:
		if h.clientOnly(p, m) {
			h.spawnRemote(t)
		}

	case *wire.Destroy:
		if h.clientOnly(p, m) {
			h.destroyRemote(t.NetID)
		}

	case *wire.Replicate:
		if h.clientOnly(p, m) {
			h.applyFields(t.NetID, "", t.Fields)
		}

	case *wire.ReplicateContext:
		if h.clientOnly(p, m) {
			h.applyFields(t.NetID, t.Context, t.Fields)
		}

	case *wire.Invoke:
		h.receiveInvoke(p, t.NetID, "", t.Func, t.Params)

	case *wire.InvokeContext:
		h.receiveInvoke(p, t.NetID, t.Context, t.Func, t.Params)

	default:
		panic(fmt.Sprintf("unhandled message type %T", m))
	}
}

// clientOnly reports whether h is a client, logging a message from p that
// only a client should receive otherwise.
func (h *Host) clientOnly(p *Profile, m wire.Message) bool {
	if h.status == Client {
		return true
	}
	h.metrics.packetDropped.Add(1)
	p.log.WithField("type", m.Type()).Warn("unexpected message for server")
	return false
}

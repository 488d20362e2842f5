// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package tickwire_test

import (
	"bytes"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/creachadair/tickwire"
	"github.com/creachadair/tickwire/channel"
	"github.com/creachadair/tickwire/scene"
	"github.com/creachadair/tickwire/wire"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

const (
	testGame    = 0x7e57
	testVersion = 3
	boxType     = 1
	dt          = 10 * time.Millisecond
)

// events records the callbacks delivered by a host.
type events struct {
	connect    []byte
	disconnect []byte
	accept     int
	reject     []wire.RejectReason
	kick       []wire.KickReason
}

func (ev *events) callbacks() tickwire.Callbacks {
	return tickwire.Callbacks{
		OnConnect:    func(id byte) { ev.connect = append(ev.connect, id) },
		OnAccept:     func() { ev.accept++ },
		OnReject:     func(r wire.RejectReason) { ev.reject = append(ev.reject, r) },
		OnDisconnect: func(id byte) { ev.disconnect = append(ev.disconnect, id) },
		OnKick:       func(r wire.KickReason) { ev.kick = append(ev.kick, r) },
	}
}

// A call records one execution of an RPC function.
type call struct {
	Tag  string
	Args []wire.Value
}

type recorder struct{ calls []call }

func (r *recorder) fn(tag string) func([]wire.Value) error {
	return func(args []wire.Value) error {
		r.calls = append(r.calls, call{Tag: tag, Args: args})
		return nil
	}
}

func (r *recorder) check(t *testing.T, want ...call) {
	t.Helper()
	if diff := cmp.Diff(want, r.calls, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Calls (-want, +got):\n%s", diff)
	}
	r.calls = nil
}

// newWorld returns a tree that constructs boxes whose functions report to rec.
// A box has fields position (vec3) and hp (int32), functions hit (to server),
// notify (to client) and shout (multicast), and a component "health" with a
// field (int16) and a function heal (to server).
func newWorld(rec *recorder) *scene.Tree {
	return scene.New().Register(boxType, func(name string) *scene.Node {
		return scene.NewNode(name).
			WithFields(tickwire.NewVar([3]float32{}), tickwire.NewVar[int32](0)).
			WithFuncs(
				&tickwire.Func{Name: "hit", Route: tickwire.ToServer, Reliable: true, Call: rec.fn(name + ".hit")},
				&tickwire.Func{Name: "notify", Route: tickwire.ToClient, Reliable: true, Call: rec.fn(name + ".notify")},
				&tickwire.Func{Name: "shout", Route: tickwire.Multicast, Call: rec.fn(name + ".shout")},
			).
			WithParts(scene.NewPart("health",
				[]tickwire.Field{tickwire.NewVar[int16](100)},
				[]*tickwire.Func{{Name: "heal", Route: tickwire.ToServer, Reliable: true, Call: rec.fn(name + ".heal")}},
			))
	})
}

func spawn(t *testing.T, w *scene.Tree, name string, parent *scene.Node) *scene.Node {
	t.Helper()
	var p tickwire.Entity
	if parent != nil {
		p = parent
	}
	e, err := w.Spawn(boxType, name, p)
	if err != nil {
		t.Fatalf("Spawn %q: %v", name, err)
	}
	return e.(*scene.Node)
}

func hp(n *scene.Node) *tickwire.Var[int32] { return n.Field(1).(*tickwire.Var[int32]) }

func health(n *scene.Node) *tickwire.Var[int16] {
	return n.Components()[0].Fields()[0].(*tickwire.Var[int16])
}

// tick runs n rounds in which each host ticks once, in order.
func tick(n int, hs ...*tickwire.Host) {
	for range n {
		for _, h := range hs {
			h.Tick(dt)
		}
	}
}

// session is a server with three boxes (a with child b, and c) and a client,
// connected over an in-memory network.
type session struct {
	net            *channel.Memory
	server, client *tickwire.Host
	sworld, cworld *scene.Tree
	srec, crec     recorder
	sev, cev       events
	a, b, c        *scene.Node // server-side nodes
}

func newSession(t *testing.T, mod func(server, client *tickwire.Config)) *session {
	t.Helper()
	s := &session{net: channel.NewMemory(nil)}
	s.sworld = newWorld(&s.srec)
	s.cworld = newWorld(&s.crec)
	s.a = spawn(t, s.sworld, "a", nil)
	s.b = spawn(t, s.sworld, "b", s.a)
	s.c = spawn(t, s.sworld, "c", nil)

	scfg := tickwire.Config{
		GameID: testGame, Version: testVersion,
		Network: s.net, World: s.sworld, Callbacks: s.sev.callbacks(),
	}
	ccfg := tickwire.Config{
		GameID: testGame, Version: testVersion,
		Network: s.net, World: s.cworld, Callbacks: s.cev.callbacks(),
	}
	if mod != nil {
		mod(&scfg, &ccfg)
	}
	s.server = tickwire.NewHost(scfg)
	s.client = tickwire.NewHost(ccfg)
	if err := s.server.OpenSession(tickwire.DefaultPort); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	t.Cleanup(func() { s.client.Close(); s.server.Close() })
	return s
}

// connect connects the client and runs until the handshake is complete.
func (s *session) connect(t *testing.T) {
	t.Helper()
	if err := s.client.Connect(s.server.LocalAddr()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	for range 20 {
		tick(1, s.server, s.client)
		if cs := s.server.Clients(); s.client.IsClient() && len(cs) == 1 && cs[0].Ready() {
			tick(1, s.server, s.client) // deliver the initial replication
			return
		}
	}
	t.Fatalf("Handshake did not complete: client %v, server has %d clients",
		s.client.Status(), len(s.server.Clients()))
}

func (s *session) top(t *testing.T, name string) *scene.Node {
	t.Helper()
	n := s.cworld.Top(name)
	if n == nil {
		t.Fatalf("Client has no entity %q", name)
	}
	return n
}

func TestHandshake(t *testing.T) {
	s := newSession(t, nil)
	hp(s.a).Store(10)
	hp(s.b).Store(20)
	hp(s.c).Store(30)
	s.connect(t)

	if diff := cmp.Diff([]byte{1}, s.sev.connect); diff != "" {
		t.Errorf("OnConnect (-want, +got):\n%s", diff)
	}
	if s.cev.accept != 1 {
		t.Errorf("OnAccept called %d times, want 1", s.cev.accept)
	}
	if got := s.client.HostID(); got != 1 {
		t.Errorf("Client HostID: got %d, want 1", got)
	}
	if !s.server.IsAuthority() || s.client.IsAuthority() {
		t.Errorf("IsAuthority: server %v, client %v; want true, false",
			s.server.IsAuthority(), s.client.IsAuthority())
	}

	if got := s.cworld.Len(); got != 3 {
		t.Errorf("Client has %d entities, want 3", got)
	}
	ca, cc := s.top(t, "a"), s.top(t, "c")
	cb := ca.Child("b")
	if cb == nil {
		t.Fatal("Client entity a has no child b")
	}
	for _, tc := range []struct {
		node *scene.Node
		id   uint32
		hp   int32
	}{{ca, 1, 10}, {cb, 2, 20}, {cc, 3, 30}} {
		if got := tc.node.NetID(); got != tc.id {
			t.Errorf("%s: net id %d, want %d", tc.node.Name(), got, tc.id)
		}
		if got := hp(tc.node).Load(); got != tc.hp {
			t.Errorf("%s: hp %d, want %d", tc.node.Name(), got, tc.hp)
		}
		if s.client.Entity(tc.id) != tc.node {
			t.Errorf("Client Entity(%d): got %v, want %v", tc.id, s.client.Entity(tc.id), tc.node)
		}
	}
	if st := s.client.Stats(); st.BytesReceived == 0 || st.BytesSent == 0 {
		t.Errorf("Client stats: %+v, want non-zero traffic", st)
	}
}

// recvAll drains the datagrams pending on sock.
func recvAll(t *testing.T, sock channel.Socket) []wire.Datagram {
	t.Helper()
	var out []wire.Datagram
	buf := make([]byte, 1024)
	for {
		n, _, err := sock.RecvFrom(buf)
		if errors.Is(err, channel.ErrWouldBlock) {
			return out
		} else if err != nil {
			t.Fatalf("RecvFrom: %v", err)
		}
		d, err := wire.ParseDatagram(bytes.Clone(buf[:n]))
		if err != nil {
			t.Fatalf("ParseDatagram: %v", err)
		}
		out = append(out, d)
	}
}

func mustMessages(t *testing.T, d wire.Datagram) []wire.Message {
	t.Helper()
	msgs, err := wire.Messages(d.Payload)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	return msgs
}

func send(t *testing.T, sock channel.Socket, to netip.AddrPort, seq uint16, reliable bool, ms ...wire.Message) {
	t.Helper()
	payload, err := wire.Pack(ms...)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if _, err := sock.SendTo(wire.Datagram{Seq: seq, Reliable: reliable, Payload: payload}.Encode(), to); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
}

// rawClient returns a bare socket on the session network.
func rawClient(t *testing.T, s *session) channel.Socket {
	t.Helper()
	sock, err := s.net.Listen(0, false)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { sock.Close() })
	return sock
}

func TestHandshakeMessages(t *testing.T) {
	s := newSession(t, nil)
	raw := rawClient(t, s)
	srv := s.server.LocalAddr()

	send(t, raw, srv, 0, false, &wire.Connect{GameID: testGame, Version: testVersion})
	s.server.Tick(dt)

	ds := recvAll(t, raw)
	if len(ds) != 1 {
		t.Fatalf("Got %d datagrams, want 1", len(ds))
	}
	if d := ds[0]; !d.Reliable || d.Seq != 0 {
		t.Errorf("Handshake datagram: seq %d reliable %v, want seq 0 reliable", d.Seq, d.Reliable)
	}
	want := []wire.Message{
		&wire.Accept{HostID: 1},
		&wire.Spawn{TypeID: boxType, NetID: 1, ParentNetID: wire.NoNetID, Name: "a"},
		&wire.Spawn{TypeID: boxType, NetID: 2, ParentNetID: 1, Name: "b"},
		&wire.Spawn{TypeID: boxType, NetID: 3, ParentNetID: wire.NoNetID, Name: "c"},
		&wire.Ready{},
	}
	if diff := cmp.Diff(want, mustMessages(t, ds[0])); diff != "" {
		t.Errorf("Handshake messages (-want, +got):\n%s", diff)
	}
	cs := s.server.Clients()
	if len(cs) != 1 || cs[0].Ready() {
		t.Fatalf("Server clients: got %d (ready=%v), want 1 unready", len(cs), len(cs) == 1 && cs[0].Ready())
	}

	// Confirm readiness and acknowledge the handshake.
	send(t, raw, srv, 0, true, &wire.Ready{})
	send(t, raw, srv, 1, false, &wire.Ack{Seq: 0})
	s.server.Tick(dt)
	if !cs[0].Ready() {
		t.Error("Client is not ready after confirming")
	}
	if n := cs[0].Outgoing(); n != 1 {
		t.Errorf("Outgoing after ack: got %d, want 1 (the forced replication)", n)
	}

	var acked bool
	forced := make(map[uint32]int) // net id → fields sent reliably
	for _, d := range recvAll(t, raw) {
		for _, m := range mustMessages(t, d) {
			switch m := m.(type) {
			case *wire.Ack:
				acked = acked || m.Seq == 0
			case *wire.Replicate:
				if d.Reliable {
					forced[m.NetID] += len(m.Fields)
				}
			}
		}
	}
	if !acked {
		t.Error("Server did not acknowledge the client Ready")
	}
	if diff := cmp.Diff(map[uint32]int{1: 2, 2: 2, 3: 2}, forced); diff != "" {
		t.Errorf("Forced replication fields (-want, +got):\n%s", diff)
	}

	// A second Connect from an admitted client is ignored.
	send(t, raw, srv, 2, false, &wire.Connect{GameID: testGame, Version: testVersion})
	s.server.Tick(dt)
	if n := len(s.server.Clients()); n != 1 {
		t.Errorf("After repeated Connect: %d clients, want 1", n)
	}
}

func TestReliableDuplicates(t *testing.T) {
	s := newSession(t, nil)
	raw := rawClient(t, s)
	srv := s.server.LocalAddr()

	send(t, raw, srv, 0, false, &wire.Connect{GameID: testGame, Version: testVersion})
	s.server.Tick(dt)
	recvAll(t, raw)
	send(t, raw, srv, 0, true, &wire.Ready{})
	send(t, raw, srv, 1, false, &wire.Ack{Seq: 0})
	s.server.Tick(dt)
	recvAll(t, raw)

	// Deliver seq 1 twice, then 3 ahead of 2. Each copy is acknowledged, but
	// the handler runs once per sequence, in order.
	hit := func(n int32) *wire.Invoke {
		return &wire.Invoke{NetID: s.a.NetID(), Func: 0, Params: []wire.Value{wire.Int(n)}, Reliable: true}
	}
	for _, seq := range []uint16{1, 1, 3, 2} {
		send(t, raw, srv, seq, true, hit(int32(seq)))
	}
	s.server.Tick(dt)

	s.srec.check(t,
		call{"a.hit", []wire.Value{wire.Int(1)}},
		call{"a.hit", []wire.Value{wire.Int(2)}},
		call{"a.hit", []wire.Value{wire.Int(3)}},
	)
	var acks []uint16
	for _, d := range recvAll(t, raw) {
		for _, m := range mustMessages(t, d) {
			if a, ok := m.(*wire.Ack); ok {
				acks = append(acks, a.Seq)
			}
		}
	}
	if diff := cmp.Diff([]uint16{1, 1, 3, 2}, acks); diff != "" {
		t.Errorf("Acks (-want, +got):\n%s", diff)
	}
}

func TestReject(t *testing.T) {
	tests := []struct {
		name   string
		mod    func(server, client *tickwire.Config)
		reason wire.RejectReason
	}{
		{"GameID", func(_, c *tickwire.Config) { c.GameID++ }, wire.RejectInvalidGameID},
		{"Version", func(_, c *tickwire.Config) { c.Version++ }, wire.RejectVersionMismatch},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newSession(t, tc.mod)
			if err := s.client.Connect(s.server.LocalAddr()); err != nil {
				t.Fatalf("Connect: %v", err)
			}
			tick(3, s.server, s.client)

			if diff := cmp.Diff([]wire.RejectReason{tc.reason}, s.cev.reject); diff != "" {
				t.Errorf("OnReject (-want, +got):\n%s", diff)
			}
			if !s.client.IsLocal() {
				t.Errorf("Client status: got %v, want Local", s.client.Status())
			}
			if n := len(s.server.Clients()); n != 0 {
				t.Errorf("Server has %d clients, want 0", n)
			}
			if len(s.sev.connect) != 0 {
				t.Errorf("OnConnect called: %v", s.sev.connect)
			}
		})
	}

	t.Run("Wire", func(t *testing.T) {
		s := newSession(t, nil)
		raw := rawClient(t, s)
		send(t, raw, s.server.LocalAddr(), 7, false, &wire.Connect{GameID: testGame, Version: testVersion + 1})
		s.server.Tick(dt)

		ds := recvAll(t, raw)
		want := []wire.Datagram{{
			Payload: wire.Encode(&wire.Reject{Reason: wire.RejectVersionMismatch}),
		}}
		if diff := cmp.Diff(want, ds); diff != "" {
			t.Errorf("Reject datagram (-want, +got):\n%s", diff)
		}
	})

	t.Run("Full", func(t *testing.T) {
		s := newSession(t, nil)
		s.server.SetMaxClients(1)
		s.connect(t)

		var ev events
		late := tickwire.NewHost(tickwire.Config{
			GameID: testGame, Version: testVersion,
			Network: s.net, Callbacks: ev.callbacks(),
		})
		defer late.Close()
		if err := late.Connect(s.server.LocalAddr()); err != nil {
			t.Fatalf("Connect: %v", err)
		}
		tick(3, s.server, s.client, late)
		if diff := cmp.Diff([]wire.RejectReason{wire.RejectSessionFull}, ev.reject); diff != "" {
			t.Errorf("OnReject (-want, +got):\n%s", diff)
		}
		if n := len(s.server.Clients()); n != 1 {
			t.Errorf("Server has %d clients, want 1", n)
		}
	})
}

func TestResendFailure(t *testing.T) {
	s := newSession(t, func(server, _ *tickwire.Config) {
		server.ResendInterval = 100 * time.Millisecond
		server.MaxResends = 3
	})
	raw := rawClient(t, s)
	send(t, raw, s.server.LocalAddr(), 0, false, &wire.Connect{GameID: testGame, Version: testVersion})

	// The client never acknowledges anything.
	for range 50 {
		s.server.Tick(100 * time.Millisecond)
	}
	if diff := cmp.Diff([]byte{1}, s.sev.disconnect); diff != "" {
		t.Errorf("OnDisconnect (-want, +got):\n%s", diff)
	}
	if n := len(s.server.Clients()); n != 0 {
		t.Errorf("Server has %d clients, want 0", n)
	}

	// The handshake was sent once and resent four times before the kick.
	ds := recvAll(t, raw)
	var handshakes int
	var kick *wire.Kick
	for _, d := range ds {
		if d.Reliable {
			handshakes++
			continue
		}
		for _, m := range mustMessages(t, d) {
			if k, ok := m.(*wire.Kick); ok {
				kick = k
			}
		}
	}
	if handshakes != 5 {
		t.Errorf("Handshake sent %d times, want 5", handshakes)
	}
	if kick == nil || kick.Reason != wire.KickTimeout {
		t.Errorf("Kick: got %v, want timeout", kick)
	}
}

func TestClientTimeout(t *testing.T) {
	s := newSession(t, func(_, client *tickwire.Config) {
		client.InactiveTimeout = time.Second
	})
	s.connect(t)

	// Cut off all traffic from the server.
	srv := s.server.LocalAddr()
	s.net.SetFilter(func(from, _ netip.AddrPort, _ []byte) bool { return from != srv })
	tick(150, s.client)

	if diff := cmp.Diff([]wire.KickReason{wire.KickTimeout}, s.cev.kick); diff != "" {
		t.Errorf("OnKick (-want, +got):\n%s", diff)
	}
	if !s.client.IsLocal() {
		t.Errorf("Client status: got %v, want Local", s.client.Status())
	}
}

func TestConnectTimeout(t *testing.T) {
	net := channel.NewMemory(nil)
	target, err := net.Listen(tickwire.DefaultPort, false)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer target.Close()

	var ev events
	h := tickwire.NewHost(tickwire.Config{
		GameID: testGame, Version: testVersion,
		Network: net, Callbacks: ev.callbacks(),
	})
	if err := h.Connect(target.LocalAddr()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := h.Connect(target.LocalAddr()); !errors.Is(err, tickwire.ErrNotLocal) {
		t.Errorf("Connect while connecting: got %v, want %v", err, tickwire.ErrNotLocal)
	}
	for range 60 {
		h.Tick(100 * time.Millisecond)
	}

	if diff := cmp.Diff([]wire.KickReason{wire.KickTimeout}, ev.kick); diff != "" {
		t.Errorf("OnKick (-want, +got):\n%s", diff)
	}
	if !h.IsLocal() {
		t.Errorf("Status: got %v, want Local", h.Status())
	}

	// One Connect at the start, then one per second until the timeout.
	var connects int
	for _, d := range recvAll(t, target) {
		for _, m := range mustMessages(t, d) {
			if _, ok := m.(*wire.Connect); ok {
				connects++
			}
		}
	}
	if connects != 5 {
		t.Errorf("Got %d Connect messages, want 5", connects)
	}
}

func TestKickAndDisconnect(t *testing.T) {
	s := newSession(t, nil)
	s.connect(t)

	if err := s.server.Kick(9, wire.KickForced); !errors.Is(err, tickwire.ErrUnknownHost) {
		t.Errorf("Kick unknown: got %v, want %v", err, tickwire.ErrUnknownHost)
	}
	if err := s.client.Kick(1, wire.KickForced); !errors.Is(err, tickwire.ErrNotServer) {
		t.Errorf("Kick from client: got %v, want %v", err, tickwire.ErrNotServer)
	}
	if err := s.server.Kick(1, wire.KickForced); err != nil {
		t.Fatalf("Kick: %v", err)
	}
	tick(1, s.client)
	if diff := cmp.Diff([]wire.KickReason{wire.KickForced}, s.cev.kick); diff != "" {
		t.Errorf("OnKick (-want, +got):\n%s", diff)
	}
	if !s.client.IsLocal() {
		t.Errorf("Client status after kick: got %v, want Local", s.client.Status())
	}

	// Reconnect, then leave voluntarily. The id is reused.
	s.connect(t)
	if got := s.client.HostID(); got != 1 {
		t.Errorf("Reconnected HostID: got %d, want 1", got)
	}
	s.client.Disconnect()
	tick(1, s.server)
	if diff := cmp.Diff([]byte{1, 1}, s.sev.disconnect); diff != "" {
		t.Errorf("OnDisconnect (-want, +got):\n%s", diff)
	}

	// Closing the session kicks everyone.
	s.cev.kick = nil
	s.connect(t)
	if err := s.server.CloseSession(); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	tick(1, s.client)
	if diff := cmp.Diff([]wire.KickReason{wire.KickSessionClosed}, s.cev.kick); diff != "" {
		t.Errorf("OnKick (-want, +got):\n%s", diff)
	}
	if !s.server.IsLocal() {
		t.Errorf("Server status: got %v, want Local", s.server.Status())
	}
	if got := s.a.NetID(); got != wire.NoNetID {
		t.Errorf("Net id after close: got %d, want none", got)
	}
}

func TestReplication(t *testing.T) {
	s := newSession(t, nil)
	s.connect(t)
	ca := s.top(t, "a")

	t.Run("Update", func(t *testing.T) {
		hp(s.a).Store(42)
		health(s.a).Store(7)
		tick(2, s.server, s.client)
		if got := hp(ca).Load(); got != 42 {
			t.Errorf("hp: got %d, want 42", got)
		}
		if got := health(ca).Load(); got != 7 {
			t.Errorf("health: got %d, want 7", got)
		}
		if hp(s.a).IsDirty() {
			t.Error("Server field still dirty after replication")
		}
	})

	t.Run("Spawn", func(t *testing.T) {
		d := spawn(t, s.sworld, "d", s.c)
		hp(d).Store(5)
		if err := s.server.Spawn(d, s.c); err != nil {
			t.Fatalf("Spawn: %v", err)
		}
		tick(2, s.server, s.client)
		cd := s.top(t, "c").Child("d")
		if cd == nil {
			t.Fatal("Client has no entity c/d")
		}
		if got := hp(cd).Load(); got != 5 {
			t.Errorf("d hp: got %d, want 5", got)
		}
		if cd.NetID() != d.NetID() {
			t.Errorf("d net id: got %d, want %d", cd.NetID(), d.NetID())
		}
	})

	t.Run("Destroy", func(t *testing.T) {
		s.server.Destroy(s.a)
		s.sworld.Destroy(s.a)
		tick(2, s.server, s.client)
		if s.cworld.Top("a") != nil {
			t.Error("Client still has entity a")
		}
		if s.client.Entity(1) != nil || s.client.Entity(2) != nil {
			t.Error("Client still tracks a or its child")
		}
		if s.b.NetID() != wire.NoNetID {
			t.Error("Server child of destroyed entity still has a net id")
		}
	})
}

func TestForceReplication(t *testing.T) {
	s := newSession(t, nil)
	s.connect(t)
	s.server.SetIncremental(false)
	tick(4, s.server, s.client)

	var reliable []*wire.Replicate
	srv := s.server.LocalAddr()
	s.net.SetFilter(func(from, _ netip.AddrPort, data []byte) bool {
		if d, err := wire.ParseDatagram(data); err == nil && from == srv && d.Reliable {
			msgs, _ := wire.Messages(d.Payload)
			for _, m := range msgs {
				if r, ok := m.(*wire.Replicate); ok {
					reliable = append(reliable, r)
				}
			}
		}
		return true
	})

	s.c.ForceReplicate()
	tick(1, s.server, s.client)
	if s.c.NeedsForcedReplication() {
		t.Error("Forced replication was not cleared")
	}
	want := []*wire.Replicate{{
		NetID: 3,
		Fields: []wire.FieldValue{
			{Index: 0, Value: wire.Vec3(0, 0, 0)},
			{Index: 1, Value: wire.Int(0)},
		},
	}}
	if diff := cmp.Diff(want, reliable); diff != "" {
		t.Errorf("Forced replicate (-want, +got):\n%s", diff)
	}
}

func TestInvoke(t *testing.T) {
	s := newSession(t, nil)
	s.c.WithOwner(1)
	s.connect(t)
	ca, cc := s.top(t, "a"), s.top(t, "c")
	arg := wire.Int(5)

	t.Run("ToServer", func(t *testing.T) {
		if err := s.client.Invoke(ca, "hit", arg); err != nil {
			t.Fatalf("Invoke: %v", err)
		}
		s.crec.check(t) // not run locally
		tick(1, s.client, s.server)
		s.srec.check(t, call{"a.hit", []wire.Value{arg}})
	})

	t.Run("ToServerOnServer", func(t *testing.T) {
		if err := s.server.Invoke(s.a, "hit"); err != nil {
			t.Fatalf("Invoke: %v", err)
		}
		s.srec.check(t, call{Tag: "a.hit"})
	})

	t.Run("ToClient", func(t *testing.T) {
		// The server owns a, so the call runs on the server.
		if err := s.server.Invoke(s.a, "notify"); err != nil {
			t.Fatalf("Invoke a: %v", err)
		}
		s.srec.check(t, call{Tag: "a.notify"})

		// Client 1 owns c.
		if err := s.server.Invoke(s.c, "notify", arg); err != nil {
			t.Fatalf("Invoke c: %v", err)
		}
		s.srec.check(t)
		tick(1, s.server, s.client)
		s.crec.check(t, call{"c.notify", []wire.Value{arg}})

		if err := s.client.Invoke(cc, "notify"); !errors.Is(err, tickwire.ErrRoute) {
			t.Errorf("Invoke from client: got %v, want %v", err, tickwire.ErrRoute)
		}
	})

	t.Run("Multicast", func(t *testing.T) {
		if err := s.server.Invoke(s.a, "shout"); err != nil {
			t.Fatalf("Invoke: %v", err)
		}
		s.srec.check(t, call{Tag: "a.shout"})
		tick(1, s.server, s.client)
		s.crec.check(t, call{Tag: "a.shout"})

		if err := s.client.Invoke(ca, "shout"); !errors.Is(err, tickwire.ErrRoute) {
			t.Errorf("Invoke from client: got %v, want %v", err, tickwire.ErrRoute)
		}
	})

	t.Run("Component", func(t *testing.T) {
		if err := s.client.InvokeComponent(ca, "health", "heal", arg); err != nil {
			t.Fatalf("InvokeComponent: %v", err)
		}
		tick(1, s.client, s.server)
		s.srec.check(t, call{"a.heal", []wire.Value{arg}})

		if err := s.client.InvokeComponent(ca, "armor", "heal"); !errors.Is(err, tickwire.ErrUnknownFunc) {
			t.Errorf("Unknown component: got %v, want %v", err, tickwire.ErrUnknownFunc)
		}
	})

	t.Run("Index", func(t *testing.T) {
		if err := s.server.InvokeIndex(s.a, 0); err != nil {
			t.Fatalf("InvokeIndex: %v", err)
		}
		s.srec.check(t, call{Tag: "a.hit"})
		if err := s.server.InvokeIndex(s.a, 3); !errors.Is(err, tickwire.ErrUnknownFunc) {
			t.Errorf("InvokeIndex out of range: got %v, want %v", err, tickwire.ErrUnknownFunc)
		}
	})

	t.Run("Errors", func(t *testing.T) {
		if err := s.client.Invoke(ca, "nonesuch"); !errors.Is(err, tickwire.ErrUnknownFunc) {
			t.Errorf("Unknown function: got %v, want %v", err, tickwire.ErrUnknownFunc)
		}
		args := make([]wire.Value, wire.MaxParams+1)
		for i := range args {
			args[i] = arg
		}
		if err := s.client.Invoke(ca, "hit", args...); err == nil {
			t.Error("Too many arguments: got nil error")
		}
		if err := s.client.Invoke(ca, "hit", wire.Value{Kind: 99, I: []int32{1}}); err == nil {
			t.Error("Invalid argument: got nil error")
		}
		tick(1, s.client, s.server)
		s.srec.check(t)
	})

	t.Run("Local", func(t *testing.T) {
		var rec recorder
		w := newWorld(&rec)
		n := spawn(t, w, "solo", nil)
		h := tickwire.NewHost(tickwire.Config{World: w})
		for _, name := range []string{"hit", "notify", "shout"} {
			if err := h.Invoke(n, name); err != nil {
				t.Errorf("Invoke %q: %v", name, err)
			}
		}
		rec.check(t, call{Tag: "solo.hit"}, call{Tag: "solo.notify"}, call{Tag: "solo.shout"})
	})
}

func TestInvalidRoute(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	s := newSession(t, func(server, _ *tickwire.Config) { server.Logger = logger })
	s.connect(t)
	hook.Reset()

	// A client may not run a client-bound function on the server.
	raw := rawClient(t, s)
	srv := s.server.LocalAddr()
	send(t, raw, srv, 0, false, &wire.Connect{GameID: testGame, Version: testVersion})
	s.server.Tick(dt)
	send(t, raw, srv, 1, false, &wire.Invoke{NetID: 1, Func: 1})
	send(t, raw, srv, 2, false, &wire.Invoke{NetID: 99, Func: 0})
	s.server.Tick(dt)

	s.srec.check(t)
	var msgs []string
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			msgs = append(msgs, e.Message)
		}
	}
	want := []string{"invoke with invalid route", "invoke for unknown entity"}
	if diff := cmp.Diff(want, msgs); diff != "" {
		t.Errorf("Warnings (-want, +got):\n%s", diff)
	}
}

func TestSearch(t *testing.T) {
	s := newSession(t, func(server, _ *tickwire.Config) {
		server.Advertise = true
		server.SessionName = "test session"
	})
	if err := s.client.StartSearch(); err != nil {
		t.Fatalf("StartSearch: %v", err)
	}
	tick(2, s.server, s.client)

	got := s.client.Sessions()
	if len(got) != 1 {
		t.Fatalf("Sessions: got %v, want 1", got)
	}
	if got[0].Name != "test session" || got[0].Addr != s.server.LocalAddr() {
		t.Errorf("Session: got %v, want %q at %v", got[0], "test session", s.server.LocalAddr())
	}
	if got[0].MaxPlayers != 9 || got[0].NumPlayers != 0 {
		t.Errorf("Session players: got %d/%d, want 0/9", got[0].NumPlayers, got[0].MaxPlayers)
	}
	s.client.StopSearch()
	if got := s.client.Sessions(); got != nil {
		t.Errorf("Sessions after stop: got %v, want nil", got)
	}
}

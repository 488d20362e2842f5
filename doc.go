// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package tickwire implements entity replication and remote function calls
// between a server and its clients over unreliable datagrams.
//
// A session has one authoritative server and up to 253 clients. The server
// owns the state of a tree of entities, and sends changes to that state to
// each client a few times per tick. Both sides may call functions of an
// entity remotely. All traffic is carried by small datagrams with an
// optional reliability layer: reliable datagrams are retransmitted until
// acknowledged and delivered in order; unreliable datagrams are delivered at
// most once, newest first.
//
// # Hosts
//
// The core type defined by this package is the [Host]. A host begins in the
// Local state, and becomes a server by opening a session:
//
//	h := tickwire.NewHost(tickwire.Config{GameID: 100, Version: 1, World: w})
//	if err := h.OpenSession(tickwire.DefaultPort); err != nil {
//	   log.Fatalf("Open session: %v", err)
//	}
//
// or a client by connecting to a server:
//
//	if err := h.Connect(addr); err != nil {
//	   log.Fatalf("Connect: %v", err)
//	}
//
// A Host does no work on its own. The caller drives it by calling [Host.Tick]
// once per frame, or [Host.PreTick] and [Host.PostTick] around its own
// simulation step. A Host is not safe for concurrent use; see the peers
// package for a helper that ticks hosts on a timer.
//
// Session events are reported synchronously by the [Callbacks] in the
// config, from within the tick methods.
//
// # Entities
//
// Replicated state lives in values implementing the [Entity] interface. The
// [World] in the config provides the root of the entity tree, and constructs
// entities a client learns about from its server. The scene package provides
// a simple implementation of both.
//
// Each entity exposes an ordered list of [Field] values. The [Var] type is a
// Field holding a single typed value, which tracks whether it has changed
// since it was last sent:
//
//	hp := tickwire.NewVar[int32](100)
//	hp.Store(90) // marks the field dirty
//
// On each server tick, the fields that changed are sent to every ready
// client. Entities are visited according to their [Tier]: High entities on
// every tick, Medium on every second, and Low on every fourth. Entities that
// implement [ForceReplication] can ask to have all their fields sent
// reliably on the next pass.
//
// To add an entity after a session is open, attach it to the world and call
// [Host.Spawn]; to remove it, call [Host.Destroy].
//
// # Functions
//
// An entity or one of its components may expose remotely invocable functions,
// each described by a [Func]. The Route of a function says where it runs:
// ToServer on the server, ToClient on the client that owns the entity, and
// Multicast on the server and every client. Use [Host.Invoke] to call a
// function by name:
//
//	err := h.Invoke(e, "fire", wire.Vec3(0, 1, 0))
//
// Functions are identified on the wire by their position in the Funcs list,
// so every host must build the same list for an entity. The catalog package
// helps to keep those lists consistent; the handler package adapts typed Go
// functions to the Func call signature.
//
// # Discovery
//
// A server with Advertise set broadcasts its session on the local network.
// A host that is not in a session can collect these advertisements with
// [Host.StartSearch] and report them with [Host.Sessions].
//
// # Metrics
//
// Hosts maintain a collection of metrics while running. Use the
// [Host.Metrics] method to obtain an [expvar.Map] containing the metrics
// exported by the host. By default, metrics are shared globally among all
// hosts.
//
// The metrics currently exported by hosts include:
//
//   - packets_received: counter of datagrams received
//   - packets_sent: counter of datagrams sent
//   - packets_dropped: counter of datagrams and messages discarded
//   - bytes_received: counter of bytes received
//   - bytes_sent: counter of bytes sent
//   - resends: counter of reliable datagrams retransmitted
//   - acks_received: counter of acknowledgements for pending datagrams
//   - peers_accepted: counter of clients admitted
//   - peers_rejected: counter of connection attempts refused
//   - peers_removed: counter of clients disconnected, kicked, or timed out
//   - replicate_out: counter of replication messages queued
//   - invoke_out: counter of invocations sent
//   - invoke_in: counter of invocations executed
//   - invoke_in_failed: counter of invocations dropped or failed
//
// Using [Host.Detach] "detaches" the metrics for a host, and thereafter the
// metrics for that host will not affect the global metrics.
package tickwire

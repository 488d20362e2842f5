// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package tickwire

import "expvar"

// hostMetrics record host activity counters.
type hostMetrics struct {
	packetRecv    expvar.Int
	packetSent    expvar.Int
	packetDropped expvar.Int // malformed, stale, or from unknown senders
	bytesRecv     expvar.Int
	bytesSent     expvar.Int
	resends       expvar.Int // reliable datagrams retransmitted
	acksRecv      expvar.Int // acks matching an outgoing datagram
	peersAccepted expvar.Int
	peersRejected expvar.Int
	peersRemoved  expvar.Int // disconnected, kicked, or timed out
	replicateOut  expvar.Int // replicate messages queued
	invokeOut     expvar.Int // invoke messages queued
	invokeIn      expvar.Int // invoke messages executed
	invokeInErr   expvar.Int // invoke messages dropped or failed

	emap *expvar.Map
}

var rootMetrics = newHostMetrics()

func newHostMetrics() *hostMetrics {
	hm := &hostMetrics{emap: new(expvar.Map)}
	hm.emap.Set("packets_received", &hm.packetRecv)
	hm.emap.Set("packets_sent", &hm.packetSent)
	hm.emap.Set("packets_dropped", &hm.packetDropped)
	hm.emap.Set("bytes_received", &hm.bytesRecv)
	hm.emap.Set("bytes_sent", &hm.bytesSent)
	hm.emap.Set("resends", &hm.resends)
	hm.emap.Set("acks_received", &hm.acksRecv)
	hm.emap.Set("peers_accepted", &hm.peersAccepted)
	hm.emap.Set("peers_rejected", &hm.peersRejected)
	hm.emap.Set("peers_removed", &hm.peersRemoved)
	hm.emap.Set("replicate_out", &hm.replicateOut)
	hm.emap.Set("invoke_out", &hm.invokeOut)
	hm.emap.Set("invoke_in", &hm.invokeIn)
	hm.emap.Set("invoke_in_failed", &hm.invokeInErr)
	return hm
}

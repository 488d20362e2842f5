// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package tickwire

import (
	"fmt"
	"math"
	"slices"

	"github.com/creachadair/tickwire/wire"
	"github.com/sirupsen/logrus"
)

// tierDivisor is the fraction of each tier visited per replication pass.
var tierDivisor = [numTiers]int{High: 1, Medium: 2, Low: 4}

type tierState struct {
	ents   []Entity
	cursor int
}

// A scheduler selects the entities considered in each replication pass.
//
// Each pass visits ceil(n/d) entities of a tier with n entities and divisor
// d, resuming where the previous pass in that tier stopped. Independently,
// an incremental cursor walks every entity of every tier in turn, one per
// pass, and the entity it selects is replicated in full.
type scheduler struct {
	tiers [numTiers]tierState

	incremental bool
	incTier     Tier
	incIndex    int
}

// add registers e in the tier it reports. The tier of an entity is fixed at
// registration.
func (s *scheduler) add(e Entity) {
	t := min(max(e.Tier(), High), Low)
	s.tiers[t].ents = append(s.tiers[t].ents, e)
}

// remove unregisters e, keeping the cursors pointing at the same successors.
func (s *scheduler) remove(e Entity) {
	for t := range s.tiers {
		ts := &s.tiers[t]
		i := slices.Index(ts.ents, e)
		if i < 0 {
			continue
		}
		ts.ents = slices.Delete(ts.ents, i, i+1)
		if ts.cursor > i {
			ts.cursor--
		}
		if Tier(t) == s.incTier && s.incIndex > i {
			s.incIndex--
		}
		return
	}
}

func (s *scheduler) reset() {
	s.tiers = [numTiers]tierState{}
	s.incTier, s.incIndex = High, 0
}

// len reports the total number of registered entities.
func (s *scheduler) len() int {
	var n int
	for _, ts := range s.tiers {
		n += len(ts.ents)
	}
	return n
}

// nextIncremental returns the entity under the incremental cursor and
// advances the cursor, or returns nil if the cursor has reached the end of
// its current tier. After the end of a tier the cursor moves to the start of
// the next, wrapping from Low back to High.
func (s *scheduler) nextIncremental() Entity {
	ents := s.tiers[s.incTier].ents
	var out Entity
	if s.incIndex < len(ents) {
		out = ents[s.incIndex]
	}
	s.incIndex++
	if s.incIndex > len(ents) {
		s.incIndex = 0
		s.incTier = (s.incTier + 1) % numTiers
	}
	return out
}

// visit calls f for each entity scheduled in this pass, tier by tier.
func (s *scheduler) visit(f func(Entity)) {
	for t := range s.tiers {
		ts := &s.tiers[t]
		n := len(ts.ents)
		if n == 0 {
			continue
		}
		if ts.cursor >= n {
			ts.cursor = 0
		}
		d := tierDivisor[t]
		for range (n + d - 1) / d {
			f(ts.ents[ts.cursor])
			ts.cursor = (ts.cursor + 1) % n
		}
	}
}

// Spawn registers e as a replicated entity under parent, and on a server
// sends it to every client. A nil parent means the root. The parent, if any,
// must already be registered. Spawn does nothing unless h is a server, since
// a session assigns net ids to the whole world when it opens.
//
// Descendants of e are not registered; call Spawn for each of them after e.
func (h *Host) Spawn(e, parent Entity) error {
	if h.status != Server || !e.Replicated() {
		return nil
	}
	if parent != nil && !h.registered(parent) {
		return fmt.Errorf("spawn %q: parent: %w", e.Name(), ErrNoEntity)
	}
	r, ok := h.register(e, parent)
	if !ok {
		return nil
	}
	m := h.spawnMessage(r)
	for _, p := range h.clients {
		p.queue(m)
	}
	return nil
}

// Destroy unregisters e and its descendants, and on a server tells every
// client to destroy e.
func (h *Host) Destroy(e Entity) {
	if !h.registered(e) {
		return
	}
	if h.status == Server {
		m := &wire.Destroy{NetID: e.NetID()}
		for _, p := range h.clients {
			p.queue(m)
		}
	}
	h.untrack(e)
}

func (h *Host) registered(e Entity) bool {
	id := e.NetID()
	return id != wire.NoNetID && h.entities[id] == e
}

// register assigns a fresh net id to e and tracks it. It reports false if e
// was already registered.
func (h *Host) register(e, parent Entity) (regEntry, bool) {
	if h.registered(e) {
		return regEntry{}, false
	}
	e.SetNetID(h.nextNetID)
	h.nextNetID++
	return h.track(e, parent), true
}

func (h *Host) track(e, parent Entity) regEntry {
	r := regEntry{e: e, parent: wire.NoNetID}
	if parent != nil {
		r.parent = parent.NetID()
	}
	h.entities[e.NetID()] = e
	h.reg = append(h.reg, r)
	h.sched.add(e)
	return r
}

// untrack unregisters e and all its registered descendants.
func (h *Host) untrack(e Entity) {
	Walk(e, func(x Entity) bool {
		if !h.registered(x) {
			return true
		}
		delete(h.entities, x.NetID())
		h.reg = slices.DeleteFunc(h.reg, func(r regEntry) bool { return r.e == x })
		h.sched.remove(x)
		x.SetNetID(wire.NoNetID)
		return true
	})
}

func (h *Host) spawnMessage(r regEntry) *wire.Spawn {
	return &wire.Spawn{
		TypeID:      r.e.TypeID(),
		NetID:       r.e.NetID(),
		ParentNetID: r.parent,
		Name:        r.e.Name(),
	}
}

// replicationPass replicates the entities scheduled for this tick to every
// ready client.
func (h *Host) replicationPass() {
	var inc Entity
	if h.sched.incremental {
		inc = h.sched.nextIncremental()
	}
	var incDone bool
	h.sched.visit(func(e Entity) {
		force := e == inc
		incDone = incDone || force
		h.replicate(e, AllClients, force, false)
	})
	if inc != nil && !incDone {
		h.replicate(inc, AllClients, true, false)
	}
}

// replicate sends the fields of e and its components to target, which is
// either a client host id or AllClients. Only dirty fields are sent unless
// force is set. Fields are marked clean only by replication to AllClients.
func (h *Host) replicate(e Entity, target byte, force, reliable bool) {
	var targets []*Profile
	if target == AllClients {
		for _, p := range h.clients {
			if p.ready {
				targets = append(targets, p)
			}
		}
	} else if p := h.client(target); p != nil {
		targets = append(targets, p)
	}
	if len(targets) == 0 {
		return
	}
	clean := target == AllClients
	if fr, ok := e.(ForceReplication); ok && clean && fr.NeedsForcedReplication() {
		force, reliable = true, true
		defer fr.ClearForcedReplication()
	}

	h.sendFields(targets, e.NetID(), "", e.Fields(), force, reliable, clean)
	if c, ok := e.(Composite); ok {
		for _, comp := range c.Components() {
			h.sendFields(targets, e.NetID(), comp.Name(), comp.Fields(), force, reliable, clean)
		}
	}
}

// sendFields queues replicate messages carrying the selected fields, packing
// as many into each message as will fit.
func (h *Host) sendFields(targets []*Profile, netID uint32, ctx string, fields []Field, force, reliable, clean bool) {
	newMessage := func(batch []wire.FieldValue) wire.Message {
		if ctx == "" {
			return &wire.Replicate{NetID: netID, Fields: batch, Reliable: reliable}
		}
		return &wire.ReplicateContext{NetID: netID, Fields: batch, Context: ctx, Reliable: reliable}
	}
	base := wire.Size(newMessage(nil))

	var batch []wire.FieldValue
	var sent []Field
	size := base
	send := func() {
		if len(batch) == 0 {
			return
		}
		m := newMessage(batch)
		for _, p := range targets {
			p.queue(m)
		}
		h.metrics.replicateOut.Add(1)
		batch, size = nil, base
	}

	for i, f := range fields {
		if i > math.MaxUint16 {
			break
		}
		if !force && !f.IsDirty() {
			continue
		}
		v := f.Get()
		fsize := 2 + v.Size()
		if err := v.Check(); err != nil || base+fsize > wire.MaxMessageSize {
			if err == nil {
				err = fmt.Errorf("encoded size %d exceeds message limit", fsize)
			}
			h.log.WithFields(logrus.Fields{
				"net_id": netID, "context": ctx, "field": i,
			}).WithError(err).Error("field cannot be replicated")
			if clean {
				f.MarkClean() // it will never fit
			}
			continue
		}
		if size+fsize > wire.MaxMessageSize || len(batch) == wire.MaxReplicateFields {
			send()
		}
		batch = append(batch, wire.FieldValue{Index: uint16(i), Value: v})
		sent = append(sent, f)
		size += fsize
	}
	send()

	if clean {
		for _, f := range sent {
			f.MarkClean()
		}
	}
}

// spawnRemote constructs an entity announced by the server.
func (h *Host) spawnRemote(m *wire.Spawn) {
	log := h.log.WithFields(logrus.Fields{"net_id": m.NetID, "type_id": m.TypeID})
	if h.cfg.World == nil {
		log.Warn("spawn with no world")
		return
	} else if _, ok := h.entities[m.NetID]; ok {
		log.Debug("duplicate spawn ignored")
		return
	}
	var parent Entity
	if m.ParentNetID != wire.NoNetID {
		parent = h.entities[m.ParentNetID]
		if parent == nil {
			log.WithField("parent", m.ParentNetID).Warn("unknown parent; attaching to root")
		}
	}
	e, err := h.cfg.World.Spawn(m.TypeID, m.Name, parent)
	if err != nil {
		log.WithError(err).Warn("spawn failed")
		return
	}
	e.SetNetID(m.NetID)
	h.track(e, parent)
}

// destroyRemote destroys an entity at the request of the server.
func (h *Host) destroyRemote(netID uint32) {
	e, ok := h.entities[netID]
	if !ok {
		h.log.WithField("net_id", netID).Debug("destroy for unknown entity")
		return
	}
	h.untrack(e)
	if h.cfg.World != nil {
		h.cfg.World.Destroy(e)
	}
}

// applyFields updates the fields of an entity, or of its component named by
// ctx, from a replicate message.
func (h *Host) applyFields(netID uint32, ctx string, fvs []wire.FieldValue) {
	log := h.log.WithFields(logrus.Fields{"net_id": netID, "context": ctx})
	e, ok := h.entities[netID]
	if !ok {
		log.Debug("replicate for unknown entity")
		return
	}
	fields := e.Fields()
	if ctx != "" {
		c := component(e, ctx)
		if c == nil {
			log.Warn("replicate for unknown component")
			return
		}
		fields = c.Fields()
	}
	for _, fv := range fvs {
		if int(fv.Index) >= len(fields) {
			log.WithField("field", fv.Index).Warn("field index out of range")
			continue
		}
		if err := fields[fv.Index].Set(fv.Value); err != nil {
			log.WithField("field", fv.Index).WithError(err).Warn("field update rejected")
		}
	}
}

// component returns the component of e with the given name, or nil.
func component(e Entity, name string) Component {
	if c, ok := e.(Composite); ok {
		for _, comp := range c.Components() {
			if comp.Name() == name {
				return comp
			}
		}
	}
	return nil
}

// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package tickwire

import (
	"fmt"

	"github.com/creachadair/tickwire/wire"
)

// Tier is a replication priority class. Entities in higher tiers are
// considered for replication more often.
type Tier int

const (
	High   Tier = iota // every pass
	Medium             // every second pass
	Low                // every fourth pass

	numTiers = 3
)

func (t Tier) String() string {
	switch t {
	case High:
		return "High"
	case Medium:
		return "Medium"
	case Low:
		return "Low"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// A Field is a replicated value of an entity.
type Field interface {
	// Get reports the current value of the field.
	Get() wire.Value

	// Set updates the field from a replicated value.
	Set(wire.Value) error

	// IsDirty reports whether the field has changed since it was last sent.
	IsDirty() bool

	// MarkClean records that the field has been sent.
	MarkClean()
}

// An Entity is a network-visible object of the entity layer.
//
// The order of Fields and Funcs is significant: a field or function is
// identified on the wire by its position in the list, so every host must
// report the same lists for entities of the same type.
type Entity interface {
	// NetID reports the network id assigned by SetNetID, or wire.NoNetID.
	NetID() uint32

	// SetNetID assigns the network id of the entity.
	SetNetID(uint32)

	// TypeID identifies the constructor used to spawn the entity remotely.
	TypeID() uint32

	// Name is passed to the remote constructor.
	Name() string

	// Owner reports the host id of the client that owns the entity, or
	// ServerID if the server owns it.
	Owner() byte

	// Tier reports the replication priority of the entity.
	Tier() Tier

	// Replicated reports whether the entity is network-visible. The subtree
	// of an entity that is not replicated is not visited.
	Replicated() bool

	// Fields reports the replicated fields of the entity.
	Fields() []Field

	// Funcs reports the remotely invocable functions of the entity.
	Funcs() []*Func

	// Children reports the child entities, in a stable order.
	Children() []Entity
}

// A Component is a named part of an entity with its own replicated fields and
// functions.
type Component interface {
	Name() string
	Fields() []Field
	Funcs() []*Func
}

// Composite is an optional interface an [Entity] may implement to expose
// components. Components replicate and receive calls using the context
// variants of the replicate and invoke messages.
type Composite interface {
	Components() []Component
}

// ForceReplication is an optional interface an [Entity] may implement to
// request that its next replication send every field reliably.
type ForceReplication interface {
	NeedsForcedReplication() bool
	ClearForcedReplication()
}

// A World is the entity layer that a client uses to construct the entities
// spawned by a server.
type World interface {
	// Root reports the root of the entity tree. The root is a container; it is
	// not itself replicated.
	Root() Entity

	// Spawn constructs and attaches a new entity of the given type under
	// parent. A nil parent means the root.
	Spawn(typeID uint32, name string, parent Entity) (Entity, error)

	// Destroy detaches and discards an entity.
	Destroy(Entity)
}

// Walk visits e and its descendants in parent-before-child order. If visit
// returns false for an entity, its children are skipped.
func Walk(e Entity, visit func(Entity) bool) {
	if !visit(e) {
		return
	}
	for _, c := range e.Children() {
		Walk(c, visit)
	}
}

// walkReplicated calls f for each replicated entity below root together with
// its parent, in parent-before-child order. The parent of a top-level entity
// is nil.
func walkReplicated(root Entity, f func(e, parent Entity)) {
	var visit func(e, parent Entity)
	visit = func(e, parent Entity) {
		if !e.Replicated() {
			return
		}
		f(e, parent)
		for _, c := range e.Children() {
			visit(c, e)
		}
	}
	for _, c := range root.Children() {
		visit(c, nil)
	}
}

// VarType enumerates the Go types that a [Var] may hold.
type VarType interface {
	int32 | float32 | bool | string | byte | int16 | [2]float32 | [3]float32 | [4]float32
}

// A Var is a [Field] holding a single value of type T, which tracks whether
// it has changed since it was last replicated.
type Var[T VarType] struct {
	v     T
	dirty bool

	// OnChange, if set, is called when a replicated update changes the value.
	OnChange func(T)
}

// NewVar constructs a Var with the given initial value. A new Var is dirty.
func NewVar[T VarType](v T) *Var[T] { return &Var[T]{v: v, dirty: true} }

// Load reports the current value of v.
func (v *Var[T]) Load() T { return v.v }

// Store updates the value of v, marking it dirty if the value changed.
func (v *Var[T]) Store(x T) {
	if x != v.v {
		v.v = x
		v.dirty = true
	}
}

// Get implements a method of the [Field] interface.
func (v *Var[T]) Get() wire.Value {
	out, err := wire.From(v.v)
	if err != nil {
		panic(err) // unreachable for VarType
	}
	return out
}

// Set implements a method of the [Field] interface.
func (v *Var[T]) Set(val wire.Value) error {
	x, err := wire.As[T](val)
	if err != nil {
		return err
	}
	if x != v.v {
		v.v = x
		if v.OnChange != nil {
			v.OnChange(x)
		}
	}
	return nil
}

// IsDirty implements a method of the [Field] interface.
func (v *Var[T]) IsDirty() bool { return v.dirty }

// MarkClean implements a method of the [Field] interface.
func (v *Var[T]) MarkClean() { v.dirty = false }

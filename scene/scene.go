// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package scene implements a simple in-memory entity tree for use with a
// tickwire.Host.
//
// A [Tree] holds a root [Node] and a table of constructors by type id, so
// that a client can build the entities a server spawns:
//
//	t := scene.New().Register(1, func(name string) *scene.Node {
//	   return scene.NewNode(name).WithFields(tickwire.NewVar[int32](0))
//	})
//	cfg := tickwire.Config{World: t}
package scene

import (
	"fmt"
	"slices"

	"github.com/creachadair/tickwire"
)

// A Node is an entity in a [Tree]. A Node implements the tickwire.Entity,
// tickwire.Composite and tickwire.ForceReplication interfaces.
type Node struct {
	netID    uint32
	typeID   uint32
	name     string
	owner    byte
	tier     tickwire.Tier
	hidden   bool
	force    bool
	parent   *Node
	children []*Node
	fields   []tickwire.Field
	funcs    []*tickwire.Func
	parts    []tickwire.Component
}

// NewNode constructs a replicated, server-owned node with the given name.
func NewNode(name string) *Node { return &Node{name: name, owner: tickwire.ServerID} }

// WithType sets the type id of n and returns n.
func (n *Node) WithType(id uint32) *Node { n.typeID = id; return n }

// WithFields appends replicated fields to n and returns n.
func (n *Node) WithFields(fs ...tickwire.Field) *Node { n.fields = append(n.fields, fs...); return n }

// WithFuncs appends invocable functions to n and returns n.
func (n *Node) WithFuncs(fs ...*tickwire.Func) *Node { n.funcs = append(n.funcs, fs...); return n }

// WithParts appends components to n and returns n.
func (n *Node) WithParts(ps ...*Part) *Node {
	for _, p := range ps {
		n.parts = append(n.parts, p)
	}
	return n
}

// WithTier sets the replication tier of n and returns n.
func (n *Node) WithTier(t tickwire.Tier) *Node { n.tier = t; return n }

// WithOwner sets the owning host id of n and returns n.
func (n *Node) WithOwner(id byte) *Node { n.owner = id; return n }

// Hide marks n as not replicated and returns n. The subtree of a hidden node
// is not visible to the network.
func (n *Node) Hide() *Node { n.hidden = true; return n }

// Add attaches the given nodes as children of n and returns n. A node that
// already has a parent is moved.
func (n *Node) Add(cs ...*Node) *Node {
	for _, c := range cs {
		if c.parent != nil {
			c.parent.remove(c)
		}
		c.parent = n
		n.children = append(n.children, c)
	}
	return n
}

func (n *Node) remove(c *Node) {
	n.children = slices.DeleteFunc(n.children, func(x *Node) bool { return x == c })
	c.parent = nil
}

// Parent reports the parent of n, or nil.
func (n *Node) Parent() *Node { return n.parent }

// Child reports the child of n with the given name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// Field reports the field of n at index i.
func (n *Node) Field(i int) tickwire.Field { return n.fields[i] }

// ForceReplicate requests that the next replication of n send every field
// reliably.
func (n *Node) ForceReplicate() { n.force = true }

func (n *Node) String() string { return fmt.Sprintf("%s#%d", n.name, n.netID) }

// NetID implements a method of tickwire.Entity.
func (n *Node) NetID() uint32 { return n.netID }

// SetNetID implements a method of tickwire.Entity.
func (n *Node) SetNetID(id uint32) { n.netID = id }

// TypeID implements a method of tickwire.Entity.
func (n *Node) TypeID() uint32 { return n.typeID }

// Name implements a method of tickwire.Entity.
func (n *Node) Name() string { return n.name }

// Owner implements a method of tickwire.Entity.
func (n *Node) Owner() byte { return n.owner }

// Tier implements a method of tickwire.Entity.
func (n *Node) Tier() tickwire.Tier { return n.tier }

// Replicated implements a method of tickwire.Entity.
func (n *Node) Replicated() bool { return !n.hidden }

// Fields implements a method of tickwire.Entity.
func (n *Node) Fields() []tickwire.Field { return n.fields }

// Funcs implements a method of tickwire.Entity.
func (n *Node) Funcs() []*tickwire.Func { return n.funcs }

// Children implements a method of tickwire.Entity.
func (n *Node) Children() []tickwire.Entity {
	out := make([]tickwire.Entity, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out
}

// Components implements the tickwire.Composite interface.
func (n *Node) Components() []tickwire.Component { return n.parts }

// NeedsForcedReplication implements a method of tickwire.ForceReplication.
func (n *Node) NeedsForcedReplication() bool { return n.force }

// ClearForcedReplication implements a method of tickwire.ForceReplication.
func (n *Node) ClearForcedReplication() { n.force = false }

// A Part is a named component of a [Node].
type Part struct {
	name   string
	fields []tickwire.Field
	funcs  []*tickwire.Func
}

// NewPart constructs a component with the given name, fields and functions.
func NewPart(name string, fields []tickwire.Field, funcs []*tickwire.Func) *Part {
	return &Part{name: name, fields: fields, funcs: funcs}
}

// Name implements a method of tickwire.Component.
func (p *Part) Name() string { return p.name }

// Fields implements a method of tickwire.Component.
func (p *Part) Fields() []tickwire.Field { return p.fields }

// Funcs implements a method of tickwire.Component.
func (p *Part) Funcs() []*tickwire.Func { return p.funcs }

// A Factory constructs a node of some type with the given name.
type Factory func(name string) *Node

// A Tree is a tree of nodes. A Tree implements the tickwire.World interface.
type Tree struct {
	root  *Node
	types map[uint32]Factory
}

// New constructs an empty tree.
func New() *Tree {
	return &Tree{root: NewNode("root").Hide(), types: make(map[uint32]Factory)}
}

// Register adds a constructor for the given type id and returns t.
// Nodes built by Spawn have their type id set to id.
func (t *Tree) Register(id uint32, f Factory) *Tree { t.types[id] = f; return t }

// Add attaches the given nodes to the root of t and returns t.
func (t *Tree) Add(ns ...*Node) *Tree { t.root.Add(ns...); return t }

// Top reports the top-level node of t with the given name, or nil.
func (t *Tree) Top(name string) *Node { return t.root.Child(name) }

// Len reports the number of nodes in t, not counting the root.
func (t *Tree) Len() int {
	var n int
	tickwire.Walk(t.root, func(tickwire.Entity) bool { n++; return true })
	return n - 1
}

// Root implements a method of tickwire.World. The root node is hidden.
func (t *Tree) Root() tickwire.Entity { return t.root }

// Spawn implements a method of tickwire.World.
func (t *Tree) Spawn(typeID uint32, name string, parent tickwire.Entity) (tickwire.Entity, error) {
	f, ok := t.types[typeID]
	if !ok {
		return nil, fmt.Errorf("spawn %q: unknown type %d", name, typeID)
	}
	p := t.root
	if parent != nil {
		pn, ok := parent.(*Node)
		if !ok {
			return nil, fmt.Errorf("spawn %q: parent %T is not a node", name, parent)
		}
		p = pn
	}
	n := f(name).WithType(typeID)
	p.Add(n)
	return n, nil
}

// Destroy implements a method of tickwire.World.
func (t *Tree) Destroy(e tickwire.Entity) {
	if n, ok := e.(*Node); ok && n.parent != nil {
		n.parent.remove(n)
	}
}

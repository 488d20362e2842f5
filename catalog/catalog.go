// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

// Package catalog defines a mapping from mnemonic function names to function
// indices for use with a tickwire.Host. Function names are not exchanged on
// the wire; an invocation carries the position of the function in the Funcs
// list of its entity. A Catalog fixes those positions so that every host
// building an entity of a given type agrees on them.
//
// # Usage
//
// Construct a new empty catalog and add function names to it:
//
//	cat := catalog.New().Add("hit", "heal", "shout")
//
// Add assigns indices to the specified names in order. To recover the
// assigned index use the Lookup method:
//
//	i := cat.Lookup("heal")
//
// If you want to choose the index, use Set:
//
//	cat.Set("respawn", 10)
//
// Indices are assigned systematically, so that repeating the same sequence of
// Add and Set calls will always result in the same indices.
//
// To build the Funcs list of an entity, pass the definitions to Funcs. The
// result is ordered by index, and Funcs reports an error if any index has no
// definition:
//
//	funcs, err := cat.Funcs(hitFunc, healFunc, shoutFunc)
//
// To invoke functions by name on a specific entity, use Bind. This creates a
// copy of the catalog sharing the same names, bound to a host and entity:
//
//	err := cat.Bind(host, e).Invoke("hit", wire.Int(10))
//
// A catalog can be encoded as a [wire.Value] and sent as an invocation
// argument, so that a peer can discover the names of the functions of an
// entity type:
//
//	v := cat.Encode()
//	var got catalog.Catalog
//	err := got.Decode(v)
package catalog

import (
	"fmt"
	"slices"

	"github.com/creachadair/tickwire"
	"github.com/creachadair/tickwire/wire"
)

// A Catalog associates an entity on a host with a static mapping from
// function names to indices.
type Catalog struct {
	host   *tickwire.Host
	entity tickwire.Entity
	funcs  map[string]uint16
}

// New creates a new empty, unbound catalog to map names to function indices.
// It is safe to copy the resulting value, all copies share a reference to
// the same name to index mapping.
func New() Catalog { return Catalog{funcs: make(map[string]uint16)} }

// Add adds the specified names to c with fresh indices, and returns c to
// allow chaining.
func (c Catalog) Add(names ...string) Catalog {
	for _, name := range names {
		c.Set(name, c.pickUnusedIndex())
	}
	return c
}

// Set maps name to index in c, and returns c to allow chaining. If name was
// already mapped in c, the existing mapping is replaced.
//
// The name mapping of a catalog is shared among all copies of it. It is not
// safe to call Set while c is used concurrently by other goroutines without
// external synchronization.
func (c Catalog) Set(name string, index uint16) Catalog {
	c.funcs[name] = index
	return c
}

func (c Catalog) pickUnusedIndex() uint16 {
	if len(c.funcs) == 0 {
		return 0
	}
	var max uint16
	for _, i := range c.funcs {
		if i > max {
			max = i
		}
	}
	return max + 1
}

// Bind returns a copy of c bound to the specified host and entity.
func (c Catalog) Bind(h *tickwire.Host, e tickwire.Entity) Catalog {
	return Catalog{host: h, entity: e, funcs: c.funcs}
}

// Host returns the host associated with c, or nil if c is unbound.
func (c Catalog) Host() *tickwire.Host { return c.host }

// Entity returns the entity associated with c, or nil if c is unbound.
func (c Catalog) Entity() tickwire.Entity { return c.entity }

// Len reports the number of names in c.
func (c Catalog) Len() int { return len(c.funcs) }

// Lookup returns the index assigned to name, or -1 if name is not known.
func (c Catalog) Lookup(name string) int {
	if i, ok := c.funcs[name]; ok {
		return int(i)
	}
	return -1
}

// Names returns the names in c ordered by index. Indices with no name are
// reported as empty strings.
func (c Catalog) Names() []string {
	if len(c.funcs) == 0 {
		return nil
	}
	out := make([]string, int(c.pickUnusedIndex()))
	for name, i := range c.funcs {
		out[i] = name
	}
	return out
}

// Invoke invokes the function bound to name on the entity associated with c.
// If name is not known in the catalog, Invoke reports an error.
// Invoke will panic if c is not bound.
func (c Catalog) Invoke(name string, args ...wire.Value) error {
	i, ok := c.funcs[name]
	if !ok {
		return fmt.Errorf("invoke %q: %w", name, tickwire.ErrUnknownFunc)
	}
	return c.host.InvokeIndex(c.entity, int(i), args...)
}

// Funcs returns the given definitions ordered by their catalog indices. It
// reports an error if a definition has a name not known in c, if two
// definitions share a name, or if some index below the largest assigned has
// no definition.
func (c Catalog) Funcs(defs ...*tickwire.Func) ([]*tickwire.Func, error) {
	out := make([]*tickwire.Func, len(c.Names()))
	for _, def := range defs {
		i, ok := c.funcs[def.Name]
		if !ok {
			return nil, fmt.Errorf("function %q not in catalog", def.Name)
		} else if out[i] != nil {
			return nil, fmt.Errorf("duplicate definition of %q", def.Name)
		}
		out[i] = def
	}
	if i := slices.Index(out, nil); i >= 0 {
		return nil, fmt.Errorf("no definition for function index %d", i)
	}
	return out, nil
}

// Encode encodes c as a string value.
//
// The encoding lists the names of c ordered by index, with an empty string
// marking an unassigned index.
func (c Catalog) Encode() wire.Value { return wire.String(c.Names()...) }

// Decode decodes v as an encoded catalog, replacing the contents of c.
func (c *Catalog) Decode(v wire.Value) error {
	if v.Kind != wire.KindString {
		return fmt.Errorf("catalog has kind %v, want %v", v.Kind, wire.KindString)
	}
	if c.funcs == nil {
		c.funcs = make(map[string]uint16)
	} else {
		clear(c.funcs)
	}
	for i, name := range v.S {
		if name == "" {
			continue
		} else if _, ok := c.funcs[name]; ok {
			return fmt.Errorf("duplicate name %q at index %d", name, i)
		}
		c.funcs[name] = uint16(i)
	}
	return nil
}

// Func returns a function named "catalog" that delivers the encoding of c to
// report. It has the given route, and reliable delivery.
func (c Catalog) Func(route tickwire.Route, report func(Catalog)) *tickwire.Func {
	return &tickwire.Func{
		Name:     "catalog",
		Route:    route,
		Reliable: true,
		Call: func(args []wire.Value) error {
			if len(args) != 1 {
				return fmt.Errorf("catalog: got %d arguments, want 1", len(args))
			}
			var got Catalog
			if err := got.Decode(args[0]); err != nil {
				return err
			}
			report(got)
			return nil
		},
	}
}

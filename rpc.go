// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package tickwire

import (
	"fmt"
	"math"
	"slices"

	"github.com/creachadair/tickwire/wire"
	"github.com/sirupsen/logrus"
)

// Route says where a remotely invocable function executes.
type Route int

const (
	ToServer  Route = iota // on the server
	ToClient               // on the client that owns the entity
	Multicast              // on the server and every client
)

func (r Route) String() string {
	switch r {
	case ToServer:
		return "ToServer"
	case ToClient:
		return "ToClient"
	case Multicast:
		return "Multicast"
	default:
		return fmt.Sprintf("Route(%d)", int(r))
	}
}

// A Func is a remotely invocable function of an entity or component. A Func
// is identified on the wire by its position in the Funcs list of its owner.
type Func struct {
	Name     string
	Route    Route
	Reliable bool // send invocations reliably

	// Call executes the function with the given arguments.
	Call func(args []wire.Value) error
}

// Invoke calls the function with the given name on entity e, according to
// its route. If h is authoritative for the route the function runs locally
// before Invoke returns; otherwise an invocation is queued for the peers
// that must run it.
func (h *Host) Invoke(e Entity, name string, args ...wire.Value) error {
	funcs := e.Funcs()
	i := funcIndex(funcs, name)
	if i < 0 {
		return fmt.Errorf("invoke %q: %w", name, ErrUnknownFunc)
	}
	return h.invoke(e, "", funcs, i, args)
}

// InvokeIndex calls the function at the given position in e.Funcs().
func (h *Host) InvokeIndex(e Entity, index int, args ...wire.Value) error {
	return h.invoke(e, "", e.Funcs(), index, args)
}

// InvokeComponent calls the function with the given name on the named
// component of e.
func (h *Host) InvokeComponent(e Entity, comp, name string, args ...wire.Value) error {
	c := component(e, comp)
	if c == nil {
		return fmt.Errorf("invoke %s.%s: unknown component: %w", comp, name, ErrUnknownFunc)
	}
	funcs := c.Funcs()
	i := funcIndex(funcs, name)
	if i < 0 {
		return fmt.Errorf("invoke %s.%s: %w", comp, name, ErrUnknownFunc)
	}
	return h.invoke(e, comp, funcs, i, args)
}

func funcIndex(funcs []*Func, name string) int {
	return slices.IndexFunc(funcs, func(f *Func) bool { return f.Name == name })
}

func (h *Host) invoke(e Entity, ctx string, funcs []*Func, index int, args []wire.Value) error {
	if index < 0 || index >= len(funcs) || index > math.MaxUint16 {
		return fmt.Errorf("invoke function %d: %w", index, ErrUnknownFunc)
	}
	fn := funcs[index]
	if len(args) > wire.MaxParams {
		return fmt.Errorf("invoke %q: %d arguments exceeds limit %d", fn.Name, len(args), wire.MaxParams)
	}
	for i, a := range args {
		if err := a.Check(); err != nil {
			return fmt.Errorf("invoke %q: argument %d: %w", fn.Name, i, err)
		}
	}

	var targets []*Profile
	var local bool
	switch fn.Route {
	case ToServer:
		switch h.status {
		case Server, Local:
			local = true
		case Client:
			targets = append(targets, h.server)
		default:
			return fmt.Errorf("invoke %q: %w", fn.Name, ErrNotConnected)
		}

	case ToClient:
		switch h.status {
		case Local:
			local = true
		case Server:
			if owner := e.Owner(); owner == ServerID {
				local = true
			} else if p := h.client(owner); p != nil {
				targets = append(targets, p)
			} else {
				return fmt.Errorf("invoke %q: owner %d: %w", fn.Name, owner, ErrUnknownHost)
			}
		default:
			return fmt.Errorf("invoke %q from client: %w", fn.Name, ErrRoute)
		}

	case Multicast:
		switch h.status {
		case Local:
			local = true
		case Server:
			local = true
			targets = h.clients
		default:
			return fmt.Errorf("invoke %q from client: %w", fn.Name, ErrRoute)
		}

	default:
		return fmt.Errorf("invoke %q: route %v: %w", fn.Name, fn.Route, ErrRoute)
	}

	if len(targets) != 0 {
		if !h.registered(e) {
			return fmt.Errorf("invoke %q: %w", fn.Name, ErrNoEntity)
		}
		var m wire.Message
		if ctx == "" {
			m = &wire.Invoke{NetID: e.NetID(), Func: uint16(index), Params: args, Reliable: fn.Reliable}
		} else {
			m = &wire.InvokeContext{NetID: e.NetID(), Func: uint16(index), Params: args, Context: ctx, Reliable: fn.Reliable}
		}
		for _, p := range targets {
			if !p.queue(m) {
				return fmt.Errorf("invoke %q: message too large", fn.Name)
			}
		}
		h.metrics.invokeOut.Add(1)
	}
	if local {
		return fn.Call(args)
	}
	return nil
}

// receiveInvoke executes an invocation received from p, if the route of the
// function permits it to run on h.
func (h *Host) receiveInvoke(p *Profile, netID uint32, ctx string, index uint16, params []wire.Value) {
	log := p.log.WithFields(logrus.Fields{"net_id": netID, "context": ctx, "func": index})
	fail := func(msg string, err error) {
		h.metrics.invokeInErr.Add(1)
		if err != nil {
			log = log.WithError(err)
		}
		log.Warn(msg)
	}
	e, ok := h.entities[netID]
	if !ok {
		fail("invoke for unknown entity", nil)
		return
	}
	funcs := e.Funcs()
	if ctx != "" {
		c := component(e, ctx)
		if c == nil {
			fail("invoke for unknown component", nil)
			return
		}
		funcs = c.Funcs()
	}
	if int(index) >= len(funcs) {
		fail("function index out of range", nil)
		return
	}
	fn := funcs[index]
	var allowed bool
	switch h.status {
	case Server:
		allowed = fn.Route == ToServer
	case Client:
		allowed = fn.Route == ToClient || fn.Route == Multicast
	}
	if !allowed {
		fail("invoke with invalid route", fmt.Errorf("%q: route %v: %w", fn.Name, fn.Route, ErrRoute))
		return
	}
	if err := fn.Call(params); err != nil {
		fail("invoke failed", err)
		return
	}
	h.metrics.invokeIn.Add(1)
}

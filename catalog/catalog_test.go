// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

package catalog_test

import (
	"errors"
	"testing"

	"github.com/creachadair/mds/mtest"
	"github.com/creachadair/tickwire"
	"github.com/creachadair/tickwire/catalog"
	"github.com/creachadair/tickwire/handler"
	"github.com/creachadair/tickwire/peers"
	"github.com/creachadair/tickwire/scene"
	"github.com/creachadair/tickwire/wire"
	"github.com/google/go-cmp/cmp"
)

const doorType = 3

// doorFuncs is the function table of a door.
var doorFuncs = catalog.New().Add("open", "close", "lock")

func TestCatalogUsage(t *testing.T) {
	var log []string
	record := func(s string) handler.CallFunc {
		return handler.Func0(func() error { log = append(log, s); return nil })
	}
	newWorld := func() *scene.Tree {
		return scene.New().Register(doorType, func(name string) *scene.Node {
			funcs, err := doorFuncs.Funcs(
				handler.Define("lock", tickwire.ToServer, record("lock")),
				handler.Define("open", tickwire.ToServer, record("open")),
				handler.Define("close", tickwire.ToServer, record("close")),
			)
			if err != nil {
				panic(err)
			}
			return scene.NewNode(name).WithFuncs(funcs...)
		})
	}
	sw, cw := newWorld(), newWorld()
	door, err := sw.Spawn(doorType, "door", nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	// The functions are ordered by catalog index.
	var names []string
	for _, f := range door.Funcs() {
		names = append(names, f.Name)
	}
	if diff := cmp.Diff([]string{"open", "close", "lock"}, names); diff != "" {
		t.Errorf("Funcs (-want, +got):\n%s", diff)
	}

	loc, err := peers.NewLocal(tickwire.Config{World: sw}, tickwire.Config{World: cw})
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	defer loc.Stop()

	// The Host and Entity methods should return the bound values.
	cd := doorFuncs.Bind(loc.Client, cw.Top("door"))
	if got := cd.Host(); got != loc.Client {
		t.Errorf("cd.Host: got %v, want %v", got, loc.Client)
	}
	if got := cd.Entity(); got != cw.Top("door") {
		t.Errorf("cd.Entity: got %v, want %v", got, cw.Top("door"))
	}

	// The original catalog is unbound.
	if got := doorFuncs.Host(); got != nil {
		t.Errorf("doorFuncs.Host: got %v, want nil", got)
	}

	for _, name := range []string{"lock", "open"} {
		if err := cd.Invoke(name); err != nil {
			t.Fatalf("Invoke %q: unexpected error: %v", name, err)
		}
	}
	if err := cd.Invoke("nonesuch"); !errors.Is(err, tickwire.ErrUnknownFunc) {
		t.Errorf("Invoke nonesuch: got %v, want %v", err, tickwire.ErrUnknownFunc)
	}
	if err := loc.Settle(10); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if diff := cmp.Diff([]string{"lock", "open"}, log); diff != "" {
		t.Errorf("Calls (-want, +got):\n%s", diff)
	}

	t.Run("InvokeUnbound", func(t *testing.T) {
		mtest.MustPanic(t, func() { doorFuncs.Invoke("open") })
	})
}

func TestFuncs(t *testing.T) {
	def := func(name string) *tickwire.Func {
		return handler.Define(name, tickwire.ToServer, handler.Func0(func() error { return nil }))
	}
	tests := []struct {
		name string
		defs []*tickwire.Func
		ok   bool
	}{
		{"Complete", []*tickwire.Func{def("close"), def("open"), def("lock")}, true},
		{"Missing", []*tickwire.Func{def("open"), def("lock")}, false},
		{"Unknown", []*tickwire.Func{def("open"), def("close"), def("lock"), def("kick")}, false},
		{"Duplicate", []*tickwire.Func{def("open"), def("close"), def("lock"), def("open")}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := doorFuncs.Funcs(tc.defs...)
			if tc.ok {
				if err != nil {
					t.Fatalf("Funcs: unexpected error: %v", err)
				}
				if len(got) != doorFuncs.Len() {
					t.Errorf("Funcs: got %d, want %d", len(got), doorFuncs.Len())
				}
			} else if err == nil {
				t.Errorf("Funcs: got %v, want error", got)
			} else {
				t.Logf("Funcs: got expected error: %v", err)
			}
		})
	}
}

func TestCatalogEncoding(t *testing.T) {
	initCat := func() catalog.Catalog {
		return catalog.New().
			Set("minsc", 1).
			Set("boo", 2).
			Set("dynaheir", 7).
			Set("viconia", 0)
	}
	checkEqual := func(t *testing.T, got, want catalog.Catalog) {
		t.Helper()
		if diff := cmp.Diff(got, want, cmp.AllowUnexported(catalog.Catalog{})); diff != "" {
			t.Fatalf("Catalog: (-got, +want):\n%s", diff)
		}
	}

	t.Run("Lookup", func(t *testing.T) {
		want := map[string]int{"minsc": 1, "boo": 2, "viconia": 0, "nonesuch": -1}
		cat := initCat()

		for name, id := range want {
			if got := cat.Lookup(name); got != id {
				t.Errorf("Lookup %q: got %d, want %d", name, got, id)
			}
		}
	})

	t.Run("Add", func(t *testing.T) {
		cat := initCat().Add("imoen")
		if got := cat.Lookup("imoen"); got != 8 {
			t.Errorf("Lookup imoen: got %d, want 8", got)
		}
	})

	t.Run("RoundTrip", func(t *testing.T) {
		want := initCat()
		enc := want.Encode()
		t.Logf("Encoded catalog: %v", enc)
		if got := enc.Count(); got != 8 {
			t.Errorf("Encoded count: got %d, want 8", got)
		}
		var got catalog.Catalog
		if err := got.Decode(enc); err != nil {
			t.Fatalf("Decode catalog: unexpected error: %v", err)
		}
		checkEqual(t, got, want)
	})

	t.Run("DecodeErrors", func(t *testing.T) {
		var got catalog.Catalog
		if err := got.Decode(wire.Int(1, 2)); err == nil {
			t.Error("Decode int: got nil, want error")
		}
		if err := got.Decode(wire.String("a", "b", "a")); err == nil {
			t.Error("Decode duplicate: got nil, want error")
		}
	})

	t.Run("Func", func(t *testing.T) {
		// Send a catalog to the client as the argument of a function.
		var got catalog.Catalog
		const listType = 1
		cat := initCat()
		newWorld := func() *scene.Tree {
			return scene.New().Register(listType, func(name string) *scene.Node {
				return scene.NewNode(name).WithFuncs(cat.Func(tickwire.ToClient, func(c catalog.Catalog) {
					got = c
				}))
			})
		}
		sw, cw := newWorld(), newWorld()
		list, err := sw.Spawn(listType, "list", nil)
		if err != nil {
			t.Fatalf("Spawn: %v", err)
		}
		list.(*scene.Node).WithOwner(1)

		loc, err := peers.NewLocal(tickwire.Config{World: sw}, tickwire.Config{World: cw})
		if err != nil {
			t.Fatalf("NewLocal: %v", err)
		}
		defer loc.Stop()

		if err := loc.Server.Invoke(list, "catalog", cat.Encode()); err != nil {
			t.Fatalf("Invoke: %v", err)
		}
		if err := loc.Settle(10); err != nil {
			t.Fatalf("Settle: %v", err)
		}
		checkEqual(t, got, cat)
	})
}

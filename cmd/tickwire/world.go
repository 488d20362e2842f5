// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"math"

	"github.com/creachadair/tickwire"
	"github.com/creachadair/tickwire/catalog"
	"github.com/creachadair/tickwire/handler"
	"github.com/creachadair/tickwire/scene"
	"github.com/sirupsen/logrus"
)

const crateType = 1

// crateFuncs is the function table of a crate.
var crateFuncs = catalog.New().Add("hit", "announce")

// crate is the state of a demo entity.
type crate struct {
	*scene.Node
	pos *tickwire.Var[[3]float32]
	hp  *tickwire.Var[int32]
}

func asCrate(n *scene.Node) crate {
	return crate{
		Node: n,
		pos:  n.Field(0).(*tickwire.Var[[3]float32]),
		hp:   n.Field(1).(*tickwire.Var[int32]),
	}
}

// newWorld returns a scene whose crates log their function calls to log.
// A crate has a position and hit points, a "hit" function run by the server
// and an "announce" function run everywhere.
func newWorld(log logrus.FieldLogger) *scene.Tree {
	return scene.New().Register(crateType, func(name string) *scene.Node {
		n := scene.NewNode(name).WithFields(
			tickwire.NewVar([3]float32{}),
			tickwire.NewVar[int32](100),
		)
		c := asCrate(n)
		funcs, err := crateFuncs.Funcs(
			handler.Define("hit", tickwire.ToServer, handler.Func1(func(dmg int32) error {
				c.hp.Store(max(0, c.hp.Load()-dmg))
				log.WithFields(logrus.Fields{"crate": n, "damage": dmg, "hp": c.hp.Load()}).Info("hit")
				return nil
			})),
			handler.Define("announce", tickwire.Multicast, handler.Func1(func(msg string) error {
				log.WithField("crate", n).Infof("announce: %s", msg)
				return nil
			})),
		)
		if err != nil {
			panic(err)
		}
		return n.WithFuncs(funcs...)
	})
}

// populate adds n crates to the top level of w and returns them.
func populate(w *scene.Tree, n int) ([]crate, error) {
	out := make([]crate, n)
	for i := range n {
		e, err := w.Spawn(crateType, "crate"+string(rune('a'+i%26)), nil)
		if err != nil {
			return nil, err
		}
		out[i] = asCrate(e.(*scene.Node))
	}
	return out, nil
}

// animate moves each crate around a circle, at time t seconds.
func animate(cs []crate, t float64) {
	for i, c := range cs {
		a := t + float64(i)*2*math.Pi/float64(len(cs))
		c.pos.Store([3]float32{float32(10 * math.Cos(a)), 0, float32(10 * math.Sin(a))})
	}
}

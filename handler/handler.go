// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

// Package handler provides adapters from typed Go functions to the call
// signature of a tickwire.Func.
//
// Parameters may be any type supported by wire.As, or a type whose pointer
// implements the [ValueUnmarshaler] interface. Arguments built by [Args] may
// be any type supported by wire.From, or a type implementing the
// [ValueMarshaler] interface.
//
// An adapted function checks the number of arguments it receives, so that a
// remote peer sending too few or too many arguments gets an error rather than
// a panic.
package handler

import (
	"fmt"

	"github.com/creachadair/tickwire"
	"github.com/creachadair/tickwire/wire"
)

// A ValueUnmarshaler decodes itself from a wire value.
type ValueUnmarshaler interface {
	UnmarshalValue(wire.Value) error
}

// A ValueMarshaler encodes itself as a wire value.
type ValueMarshaler interface {
	MarshalValue() (wire.Value, error)
}

// CallFunc is the call signature of a tickwire.Func.
type CallFunc = func([]wire.Value) error

// Func0 adapts a function f that accepts no parameters.
func Func0(f func() error) CallFunc {
	return func(args []wire.Value) error {
		if err := checkArgs(args, 0); err != nil {
			return err
		}
		return f()
	}
}

// Func1 adapts a function f that accepts one parameter of type A.
func Func1[A any](f func(A) error) CallFunc {
	return func(args []wire.Value) error {
		if err := checkArgs(args, 1); err != nil {
			return err
		}
		a, err := unmarshal[A](args, 0)
		if err != nil {
			return err
		}
		return f(a)
	}
}

// Func2 adapts a function f that accepts parameters of types A and B.
func Func2[A, B any](f func(A, B) error) CallFunc {
	return func(args []wire.Value) error {
		if err := checkArgs(args, 2); err != nil {
			return err
		}
		a, err := unmarshal[A](args, 0)
		if err != nil {
			return err
		}
		b, err := unmarshal[B](args, 1)
		if err != nil {
			return err
		}
		return f(a, b)
	}
}

// Func3 adapts a function f that accepts parameters of types A, B, and C.
func Func3[A, B, C any](f func(A, B, C) error) CallFunc {
	return func(args []wire.Value) error {
		if err := checkArgs(args, 3); err != nil {
			return err
		}
		a, err := unmarshal[A](args, 0)
		if err != nil {
			return err
		}
		b, err := unmarshal[B](args, 1)
		if err != nil {
			return err
		}
		c, err := unmarshal[C](args, 2)
		if err != nil {
			return err
		}
		return f(a, b, c)
	}
}

// Define constructs a tickwire.Func with the given name, route, and call.
// The function is sent reliably.
func Define(name string, route tickwire.Route, call CallFunc) *tickwire.Func {
	return &tickwire.Func{Name: name, Route: route, Reliable: true, Call: call}
}

// Args converts its arguments to wire values, in order.
func Args(xs ...any) ([]wire.Value, error) {
	out := make([]wire.Value, len(xs))
	for i, x := range xs {
		var err error
		if m, ok := x.(ValueMarshaler); ok {
			out[i], err = m.MarshalValue()
		} else {
			out[i], err = wire.From(x)
		}
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
	}
	return out, nil
}

func checkArgs(args []wire.Value, want int) error {
	if len(args) != want {
		return fmt.Errorf("got %d arguments, want %d", len(args), want)
	}
	return nil
}

// unmarshal decodes args[i] as a value of type T. If *T implements the
// ValueUnmarshaler interface it is preferred; otherwise wire.As is used.
func unmarshal[T any](args []wire.Value, i int) (T, error) {
	var out T
	if u, ok := any(&out).(ValueUnmarshaler); ok {
		if err := u.UnmarshalValue(args[i]); err != nil {
			return out, fmt.Errorf("argument %d: %w", i, err)
		}
		return out, nil
	}
	out, err := wire.As[T](args[i])
	if err != nil {
		return out, fmt.Errorf("argument %d: %w", i, err)
	}
	return out, nil
}

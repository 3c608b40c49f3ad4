// Package base defines the connectable object model: the Readable, Writable,
// Subscribable and Reading capabilities, the origin-tracking publish protocol,
// and the connect() wiring operation that composes them.
package base

import (
	"context"
	"errors"
	"fmt"
)

// ErrUninitialised is returned by Read when a connectable has no value yet.
var ErrUninitialised = errors.New("base: read of uninitialised value")

// ErrConversion is wrapped into errors raised when a value crossing an edge
// or a JSON boundary does not match the target's declared type and no
// converter is available to bridge it.
var ErrConversion = errors.New("base: conversion error")

// ErrNoCapabilityMatch is returned by Connect when neither side of a pair
// exposes a compatible capability in either direction.
var ErrNoCapabilityMatch = errors.New("base: no compatible capability between connectables")

// ErrConfiguration is wrapped into errors raised at wiring time: a missing
// converter, a duplicate name with a conflicting type, or any other problem
// that must abort startup rather than be retried.
var ErrConfiguration = errors.New("base: configuration error")

// ErrPersistence is wrapped into errors raised by a data-log flush. It
// propagates to the writer that happened to own that flush; it must be
// logged but must never tear down the variable.
var ErrPersistence = errors.New("base: persistence error")

// Identity is the propagation-graph identity of a connectable. Connectables
// are always referenced through pointers, so comparing Identity values with
// == compares pointer identity, never structural equality.
type Identity = any

// Origin is the immutable list of object identities a message has already
// passed through. A fresh Origin must be constructed at the start of every
// externally triggered write (an empty Origin); every hop through a
// Subscribable appends that Subscribable's own identity before handing the
// value to a subscriber, which is what makes cycle suppression independent of
// wiring topology (invariant: no identity appears twice in any Origin in a
// single message's journey).
type Origin struct {
	visited []Identity
}

// NewOrigin returns the empty origin, used for the first write of a message
// into the propagation graph.
func NewOrigin() Origin {
	return Origin{}
}

// Contains reports whether id has already been visited by this message.
func (o Origin) Contains(id Identity) bool {
	for _, v := range o.visited {
		if v == id {
			return true
		}
	}
	return false
}

// With returns a new Origin extending o by id. o itself is left unmodified,
// so concurrent fan-out to multiple subscribers can safely share the
// pre-extension Origin and each compute its own extension independently.
func (o Origin) With(id Identity) Origin {
	next := make([]Identity, len(o.visited)+1)
	copy(next, o.visited)
	next[len(o.visited)] = id
	return Origin{visited: next}
}

// Len reports the number of hops recorded in the origin so far.
func (o Origin) Len() int { return len(o.visited) }

// Readable exposes a side-effect-free read of the connectable's current
// value. Read returns ErrUninitialised if no value is available yet.
type Readable interface {
	Identity() Identity
	Read(ctx context.Context) (any, error)
}

// Writable accepts a value arriving from origin. Implementations must be
// idempotent at the protocol level: writing the same value twice must not be
// treated as an error, though implementations are free to no-op on a
// duplicate (Variable does exactly this).
type Writable interface {
	Identity() Identity
	Write(ctx context.Context, value any, origin Origin) error
}

// Converter adapts a value from one connectable's declared type to another's
// at connect time, or between a connectable's type and its JSON wire
// representation.
type Converter func(any) (any, error)

// Subscribable exposes subscription to the Subscribable's published values.
// A nil converter means no conversion is applied; the subscriber must accept
// the publisher's native type.
type Subscribable interface {
	Identity() Identity
	Subscribe(target Writable, converter Converter)
}

// Reading exposes registration of a default value provider, consulted by the
// holder's Initialize-at-startup and/or on-demand read path.
type Reading interface {
	Identity() Identity
	SetProvider(provider Readable, converter Converter)
}

// Connect is the user-facing wiring operation. It inspects both directions
// between a and b and wires every compatible capability pair it finds:
// Subscribable+Writable in either direction, and Reading+Readable in either
// direction. Both directions are attempted independently; a direction with
// no compatible pairing is silently skipped. Connect fails only if neither
// direction yields any wiring at all.
func Connect(a, b any, converter Converter) error {
	connected := false

	if sa, ok := a.(Subscribable); ok {
		if wb, ok := b.(Writable); ok {
			sa.Subscribe(wb, converter)
			connected = true
		}
	}
	if sb, ok := b.(Subscribable); ok {
		if wa, ok := a.(Writable); ok {
			sb.Subscribe(wa, converter)
			connected = true
		}
	}
	if ra, ok := a.(Reading); ok {
		if rb, ok := b.(Readable); ok {
			ra.SetProvider(rb, converter)
			connected = true
		}
	}
	if rb, ok := b.(Reading); ok {
		if ra, ok := a.(Readable); ok {
			rb.SetProvider(ra, converter)
			connected = true
		}
	}

	if !connected {
		return fmt.Errorf("%w: %T <-> %T", ErrNoCapabilityMatch, a, b)
	}
	return nil
}

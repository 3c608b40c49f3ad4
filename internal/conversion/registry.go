// Package conversion implements the value conversion registry (spec
// component H): a type-directed map of converters applied at connect-time
// type mismatches and at JSON boundaries (the web API and any chat-bot style
// adapter). It is grounded on the column-mapping contract described by
// shc/interfaces/mysql.py in the original implementation, generalised from a
// MySQL-specific adapter into a type-keyed registry usable by any backend.
package conversion

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/shc-project/shc/internal/base"
)

type key struct {
	from reflect.Type
	to   reflect.Type
}

// Registry holds converters keyed by (source type, target type) plus
// JSON encode/decode overrides for types that do not round-trip through
// encoding/json's default behaviour unassisted (most importantly enums,
// which must round-trip through their underlying value).
type Registry struct {
	mu         sync.RWMutex
	converters map[key]base.Converter
	jsonEnc    map[reflect.Type]func(any) (any, error)
	jsonDec    map[reflect.Type]func(any) (any, error)
}

// NewRegistry returns a Registry pre-populated with the built-in scalar
// conversions (bool/int/float/string) that cover the common cross-type wiring
// cases in a smart-home graph (e.g. a boolean switch feeding a numeric
// dimmer channel).
func NewRegistry() *Registry {
	r := &Registry{
		converters: make(map[key]base.Converter),
		jsonEnc:    make(map[reflect.Type]func(any) (any, error)),
		jsonDec:    make(map[reflect.Type]func(any) (any, error)),
	}
	r.registerBuiltins()
	return r
}

// Register installs fn as the converter used whenever a connect-time edge
// joins a from-typed source to a to-typed sink, or whenever DecodeJSON is
// asked to reinterpret a from-typed intermediate as a to-typed value.
func (r *Registry) Register(from, to reflect.Type, fn base.Converter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.converters[key{from, to}] = fn
}

// Lookup returns the converter for the (from, to) pair, if one is
// registered. Identical types always succeed with the identity converter,
// even if never explicitly registered.
func (r *Registry) Lookup(from, to reflect.Type) (base.Converter, bool) {
	if from == to {
		return func(v any) (any, error) { return v, nil }, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.converters[key{from, to}]
	return fn, ok
}

// RegisterJSONCodec installs a JSON intermediate-value codec for T: encode
// converts a T into a JSON-marshalable intermediate (commonly an enum's
// underlying int, or a string), decode reconstructs a T from an
// already-unmarshaled intermediate. Round-trip is the caller's
// responsibility: decode(encode(v)) must equal v for every v in T's domain.
func RegisterJSONCodec[T any](r *Registry, encode func(T) (any, error), decode func(any) (T, error)) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jsonEnc[t] = func(v any) (any, error) { return encode(v.(T)) }
	r.jsonDec[t] = func(v any) (any, error) { return decode(v) }
}

// EncodeJSON marshals value to JSON, routing through a registered codec if
// value's dynamic type has one (e.g. an enum encodes as its underlying int),
// and falling back to encoding/json's default struct-field-keyed behaviour
// otherwise — which already satisfies the "named tuples/records round-trip
// as JSON objects keyed by field name" contract for plain Go structs.
func (r *Registry) EncodeJSON(value any) ([]byte, error) {
	t := reflect.TypeOf(value)
	r.mu.RLock()
	enc, ok := r.jsonEnc[t]
	r.mu.RUnlock()
	if ok {
		intermediate, err := enc(value)
		if err != nil {
			return nil, fmt.Errorf("conversion: encode %s: %w", t, err)
		}
		return json.Marshal(intermediate)
	}
	return json.Marshal(value)
}

// DecodeJSON unmarshals data as type t, routing through a registered codec
// if one exists for t, and falling back to json.Unmarshal into a freshly
// allocated *t otherwise. The returned any holds a t value (not a pointer).
func (r *Registry) DecodeJSON(t reflect.Type, data []byte) (any, error) {
	r.mu.RLock()
	dec, ok := r.jsonDec[t]
	r.mu.RUnlock()
	if ok {
		var intermediate any
		if err := json.Unmarshal(data, &intermediate); err != nil {
			return nil, fmt.Errorf("%w: %v", base.ErrConversion, err)
		}
		v, err := dec(intermediate)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", base.ErrConversion, err)
		}
		return v, nil
	}

	ptr := reflect.New(t)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("%w: %v", base.ErrConversion, err)
	}
	return ptr.Elem().Interface(), nil
}

// registerBuiltins registers the scalar conversions against int64, not int:
// every integer object the connection graph can build is a
// variable.Variable[int64] or datalog.WritableDataLogVariable[int64]
// (internal/config/graph.go's buildObject), so int64 is the actual ground
// type ValueType() reports for an integer object. Keying these on int would
// leave them permanently unreachable from ConnectTyped.
func (r *Registry) registerBuiltins() {
	boolT := reflect.TypeOf(false)
	intT := reflect.TypeOf(int64(0))
	floatT := reflect.TypeOf(float64(0))
	stringT := reflect.TypeOf("")

	r.Register(boolT, intT, func(v any) (any, error) {
		if v.(bool) {
			return int64(1), nil
		}
		return int64(0), nil
	})
	r.Register(intT, boolT, func(v any) (any, error) { return v.(int64) != 0, nil })
	r.Register(intT, floatT, func(v any) (any, error) { return float64(v.(int64)), nil })
	r.Register(floatT, intT, func(v any) (any, error) { return int64(v.(float64)), nil })
	r.Register(boolT, floatT, func(v any) (any, error) {
		if v.(bool) {
			return 1.0, nil
		}
		return 0.0, nil
	})
	r.Register(floatT, boolT, func(v any) (any, error) { return v.(float64) != 0, nil })
	r.Register(intT, stringT, func(v any) (any, error) { return fmt.Sprintf("%d", v.(int64)), nil })
	r.Register(floatT, stringT, func(v any) (any, error) { return fmt.Sprintf("%g", v.(float64)), nil })
	r.Register(boolT, stringT, func(v any) (any, error) {
		if v.(bool) {
			return "true", nil
		}
		return "false", nil
	})
}

// ConnectTyped wires a and b like base.Connect, but resolves a converter
// from the registry automatically when both sides declare a value type (via
// the ValueTyped interface below) and those types differ. Unlike
// base.Connect(a, b, converter), which installs one caller-supplied
// converter on both edges of the pair, ConnectTyped resolves and installs a
// separate converter per direction: the a->b edge gets the (at, bt)
// converter and the b->a edge gets the (bt, at) converter, since for
// differing types these are two distinct functions, not inverses of a
// shared one. Absence of a registered converter for a direction that is
// actually wired is a configuration-time error, matching spec §4.A and §7
// (ConfigurationError).
func (r *Registry) ConnectTyped(a, b any) error {
	var at, bt reflect.Type
	typed := false
	if ta, ok := a.(ValueTyped); ok {
		if tb, ok := b.(ValueTyped); ok {
			at, bt = ta.ValueType(), tb.ValueType()
			typed = true
		}
	}

	resolve := func(from, to reflect.Type) (base.Converter, error) {
		if !typed || from == to {
			return nil, nil
		}
		fn, ok := r.Lookup(from, to)
		if !ok {
			return nil, fmt.Errorf("%w: no converter registered from %s to %s", base.ErrConfiguration, from, to)
		}
		return fn, nil
	}

	connected := false

	if sa, ok := a.(base.Subscribable); ok {
		if wb, ok := b.(base.Writable); ok {
			fn, err := resolve(at, bt)
			if err != nil {
				return err
			}
			sa.Subscribe(wb, fn)
			connected = true
		}
	}
	if sb, ok := b.(base.Subscribable); ok {
		if wa, ok := a.(base.Writable); ok {
			fn, err := resolve(bt, at)
			if err != nil {
				return err
			}
			sb.Subscribe(wa, fn)
			connected = true
		}
	}
	if ra, ok := a.(base.Reading); ok {
		if rb, ok := b.(base.Readable); ok {
			fn, err := resolve(bt, at)
			if err != nil {
				return err
			}
			ra.SetProvider(rb, fn)
			connected = true
		}
	}
	if rb, ok := b.(base.Reading); ok {
		if ra, ok := a.(base.Readable); ok {
			fn, err := resolve(at, bt)
			if err != nil {
				return err
			}
			rb.SetProvider(ra, fn)
			connected = true
		}
	}

	if !connected {
		return fmt.Errorf("%w: %T <-> %T", base.ErrNoCapabilityMatch, a, b)
	}
	return nil
}

// ValueTyped is implemented by connectables that can report their declared
// ground type (e.g. *variable.Variable[T]), allowing ConnectTyped to resolve
// a converter automatically instead of requiring one to be passed explicitly.
type ValueTyped interface {
	ValueType() reflect.Type
}

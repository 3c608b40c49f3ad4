// Package variable implements the in-memory connectable object (spec
// component B): a Variable holds the last written value, deduplicates
// consecutive equal writes, and can be initialised from a registered
// provider at process startup.
package variable

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/shc-project/shc/internal/base"
)

// Variable is a Readable + Writable + Subscribable + Reading connectable
// holding the last value of type T. Equality for dedup purposes is
// structural (reflect.DeepEqual), matching the dynamically-typed original's
// equality semantics rather than Go's comparable constraint, so T may be a
// struct or slice-bearing type.
type Variable[T any] struct {
	base.Publisher
	base.ProviderHolder

	name string

	mu          sync.Mutex
	value       T
	initialised bool
}

// New constructs a named, uninitialised Variable. name is used only for
// logging and error messages; it plays no role in identity or wiring.
func New[T any](name string) *Variable[T] {
	return &Variable[T]{name: name}
}

// Name returns the variable's configured name.
func (v *Variable[T]) Name() string { return v.name }

// ValueType implements conversion.ValueTyped, letting the conversion
// registry resolve an edge converter automatically at connect time.
func (v *Variable[T]) ValueType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Identity implements base.Readable/Writable/Subscribable/Reading.
func (v *Variable[T]) Identity() base.Identity { return v }

// Read returns the last written value, or base.ErrUninitialised if none has
// been written yet and no provider has been consulted.
func (v *Variable[T]) Read(ctx context.Context) (any, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.initialised {
		return nil, base.ErrUninitialised
	}
	return v.value, nil
}

// Write implements base.Writable. A value structurally equal to the current
// value is silently dropped without publishing (spec invariant #2: dedup).
// A value that does not assert to T is a conversion error; connect-time
// wiring should have installed a converter to avoid this ever firing in
// practice.
func (v *Variable[T]) Write(ctx context.Context, value any, origin base.Origin) error {
	tv, ok := value.(T)
	if !ok {
		return fmt.Errorf("variable %q: %w: got %T, want %T", v.name, base.ErrConversion, value, tv)
	}

	v.mu.Lock()
	if v.initialised && reflect.DeepEqual(tv, v.value) {
		v.mu.Unlock()
		return nil
	}
	v.value = tv
	v.initialised = true
	v.mu.Unlock()

	return v.Publish(ctx, v, tv, origin)
}

// Initialize implements the per-variable half of the process supervisor's
// read_initialize_variables startup step: it resolves the configured
// provider (if any), stores the result, and publishes it once. It is a
// no-op, returning nil, if no provider was registered — the spec's
// "Reading" capability is optional per variable.
func (v *Variable[T]) Initialize(ctx context.Context) error {
	value, hasProvider, err := v.FromProvider(ctx)
	if err != nil {
		return fmt.Errorf("variable %q: provider read failed: %w", v.name, err)
	}
	if !hasProvider {
		return nil
	}
	tv, ok := value.(T)
	if !ok {
		return fmt.Errorf("variable %q: %w: provider returned %T, want %T", v.name, base.ErrConversion, value, tv)
	}

	v.mu.Lock()
	v.value = tv
	v.initialised = true
	v.mu.Unlock()

	return v.Publish(ctx, v, tv, base.NewOrigin())
}

package variable

import (
	"context"
	"testing"

	"github.com/shc-project/shc/internal/base"
)

type recorder struct {
	base.Publisher
	values []any
}

func (r *recorder) Identity() base.Identity { return r }
func (r *recorder) Write(ctx context.Context, v any, o base.Origin) error {
	r.values = append(r.values, v)
	return nil
}

type constProvider struct{ v any }

func (c constProvider) Identity() base.Identity               { return c }
func (c constProvider) Read(context.Context) (any, error) { return c.v, nil }

// TestDedupScenarioS2 grounds spec scenario S2: provider returns 7, then writes of
// 7, 7, 8 should surface as exactly [7 (init), 8] to a subscriber.
func TestDedupScenarioS2(t *testing.T) {
	v := New[int]("v")
	rec := &recorder{}
	v.Subscribe(rec, nil)
	v.SetProvider(constProvider{v: 7}, nil)

	ctx := context.Background()
	if err := v.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := v.Write(ctx, 7, base.NewOrigin()); err != nil {
		t.Fatalf("write 7: %v", err)
	}
	if err := v.Write(ctx, 7, base.NewOrigin()); err != nil {
		t.Fatalf("write 7 again: %v", err)
	}
	if err := v.Write(ctx, 8, base.NewOrigin()); err != nil {
		t.Fatalf("write 8: %v", err)
	}

	want := []any{7, 8}
	if len(rec.values) != len(want) {
		t.Fatalf("got %v, want %v", rec.values, want)
	}
	for i := range want {
		if rec.values[i] != want[i] {
			t.Errorf("index %d: got %v, want %v", i, rec.values[i], want[i])
		}
	}
}

func TestReadUninitialisedFails(t *testing.T) {
	v := New[string]("s")
	if _, err := v.Read(context.Background()); err == nil {
		t.Fatal("expected ErrUninitialised")
	}
}

func TestWriteWrongTypeIsConversionError(t *testing.T) {
	v := New[int]("n")
	if err := v.Write(context.Background(), "not an int", base.NewOrigin()); err == nil {
		t.Fatal("expected conversion error")
	}
}

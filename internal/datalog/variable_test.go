package datalog

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shc-project/shc/internal/base"
)

// memStore is a minimal in-process Store used to exercise
// WritableDataLogVariable without a real database.
type memStore struct {
	mu       sync.Mutex
	rows     map[string][]Row
	inserted atomic.Int32
	blockIns chan struct{}
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string][]Row)}
}

func (s *memStore) Insert(ctx context.Context, name string, rows []Row) error {
	if s.blockIns != nil {
		<-s.blockIns
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[name] = append(s.rows[name], rows...)
	s.inserted.Add(1)
	return nil
}

func (s *memStore) Query(ctx context.Context, name string, start, end time.Time, includePrevious bool) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Row
	var prev *Row
	for i, r := range s.rows[name] {
		if r.Timestamp.Before(start) {
			row := s.rows[name][i]
			prev = &row
			continue
		}
		if !r.Timestamp.Before(end) {
			continue
		}
		out = append(out, r)
	}
	if includePrevious && prev != nil {
		out = append([]Row{*prev}, out...)
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }

func TestWritableDataLogVariableWriteAndRetrieve(t *testing.T) {
	store := newMemStore()
	v := NewWritable[float64]("temperature", store, nil, nil)

	ctx := context.Background()
	if err := v.Write(ctx, 21.5, base.NewOrigin()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := v.Write(ctx, 22.0, base.NewOrigin()); err != nil {
		t.Fatalf("write: %v", err)
	}

	entries, err := v.RetrieveLog(ctx, time.Unix(0, 0), time.Now().Add(time.Hour), false)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Value != 21.5 || entries[1].Value != 22.0 {
		t.Errorf("unexpected values: %+v", entries)
	}
}

func TestWritableDataLogVariableRejectsWrongType(t *testing.T) {
	store := newMemStore()
	v := NewWritable[float64]("temperature", store, nil, nil)
	err := v.Write(context.Background(), "not-a-float", base.NewOrigin())
	if err == nil {
		t.Fatal("expected an error writing a string into a float64 log")
	}
	if !errors.Is(err, base.ErrConversion) {
		t.Errorf("expected ErrConversion, got %v", err)
	}
}

// TestFlushCoalescing covers invariant #3: N writes arriving while a flush
// is in progress produce exactly two flushes in total — one for the writer
// that found no flush in progress, and one for everyone who arrived while it
// was running.
func TestFlushCoalescing(t *testing.T) {
	store := newMemStore()
	store.blockIns = make(chan struct{})
	v := NewWritable[int]("counter", store, nil, nil)

	ctx := context.Background()
	var wg sync.WaitGroup

	// First writer claims the flush and blocks inside Insert.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := v.Write(ctx, 1, base.NewOrigin()); err != nil {
			t.Errorf("write 1: %v", err)
		}
	}()

	// Give the first writer time to own the in-flight flush.
	time.Sleep(20 * time.Millisecond)

	// These should all join the pending queue of a second flush, since the
	// first flush already claimed its batch and is blocked inside Insert.
	const n = 5
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := v.Write(ctx, 2+i, base.NewOrigin()); err != nil {
				t.Errorf("write %d: %v", 2+i, err)
			}
		}(i)
	}
	time.Sleep(20 * time.Millisecond)

	close(store.blockIns)
	wg.Wait()

	if got := store.inserted.Load(); got != 2 {
		t.Errorf("expected exactly 2 flushes, got %d", got)
	}

	entries, err := v.RetrieveLog(ctx, time.Unix(0, 0), time.Now().Add(time.Hour), false)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(entries) != 1+n {
		t.Errorf("expected %d persisted entries, got %d", 1+n, len(entries))
	}
}

func TestRetrieveAggregatedLogUsesStoredValues(t *testing.T) {
	store := newMemStore()
	v := NewWritable[float64]("power", store, nil, nil)
	ctx := context.Background()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.rows["power"] = []Row{
		{Timestamp: t0, FloatValue: sql.NullFloat64{Float64: 5.0, Valid: true}},
		{Timestamp: t0.Add(30 * time.Second), FloatValue: sql.NullFloat64{Float64: 10.0, Valid: true}},
		{Timestamp: t0.Add(60 * time.Second), FloatValue: sql.NullFloat64{Float64: 20.0, Valid: true}},
	}

	got, err := v.RetrieveAggregatedLog(ctx, t0, t0.Add(120*time.Second), AggregationAverage, 60*time.Second)
	if err != nil {
		t.Fatalf("retrieve aggregated: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 buckets, got %d: %+v", len(got), got)
	}
	if diff := got[0].Value - 7.5; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("bucket 0 = %v, want 7.5", got[0].Value)
	}
	if diff := got[1].Value - 20.0; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("bucket 1 = %v, want 20.0", got[1].Value)
	}
}

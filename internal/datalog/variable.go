package datalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/shc-project/shc/internal/base"
)

// logViewSubscriber receives every flushed batch from a WritableDataLogVariable,
// in push mode processing it directly and in poll mode using it only as a
// trigger to schedule an out-of-band update. Implemented by LiveDataLogView.
type logViewSubscriber[T any] interface {
	newLogValues(ctx context.Context, values []Entry[T])
}

// flushResult is shared by every writer waiting on one in-flight flush: the
// flusher sets err then closes done, giving every waiter a happens-before
// edge onto err (Go memory model: a channel close happens-before a receive
// observing that close).
type flushResult struct {
	done chan struct{}
	err  error
}

// WritableDataLogVariable is a Writable connectable (spec component E)
// backed by a Store. Writes append to a pending queue; the first writer to
// see no flush in progress becomes that flush's owner, persists the whole
// accumulated batch and notifies subscribed live views, then releases every
// writer that joined the batch. Writers arriving after the owner has already
// claimed the batch (but before persistence finishes) start a second flush
// queued behind the first via flushMu — this is the "exactly two flushes"
// coalescing behaviour named by spec invariant #3. Grounded on
// shc/log/generic.py's WritableDataLogVariable._write.
type WritableDataLogVariable[T any] struct {
	name   string
	store  Store
	codec  Codec[T]
	logger *slog.Logger

	// flushMu is held for the whole swap-persist-notify critical section of
	// a flush, and by RetrieveLogSync — mirrors the original's asyncio.Lock
	// guarding both the flush and the synchronized read.
	flushMu sync.Mutex

	stateMu  sync.Mutex
	pending  []Entry[T]
	inFlight *flushResult

	subMu       sync.Mutex
	subscribers []logViewSubscriber[T]
}

// NewWritable constructs a data-log variable named name, persisted through
// store. A nil codec uses DefaultCodec[T].
func NewWritable[T any](name string, store Store, codec Codec[T], logger *slog.Logger) *WritableDataLogVariable[T] {
	if codec == nil {
		codec = DefaultCodec[T]()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WritableDataLogVariable[T]{name: name, store: store, codec: codec, logger: logger}
}

// Identity implements base.Writable.
func (v *WritableDataLogVariable[T]) Identity() base.Identity { return v }

// Name returns the log's configured name, used as the store's row key.
func (v *WritableDataLogVariable[T]) Name() string { return v.name }

// ValueType implements conversion.ValueTyped, letting the conversion
// registry resolve an edge converter automatically at connect time, same as
// internal/variable.Variable.
func (v *WritableDataLogVariable[T]) ValueType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Write implements base.Writable. It returns once value is durable (or an
// error propagates from the flush that ended up persisting it).
func (v *WritableDataLogVariable[T]) Write(ctx context.Context, value any, _ base.Origin) error {
	typed, ok := value.(T)
	if !ok {
		return fmt.Errorf("%w: data log %q expected %T, got %T", base.ErrConversion, v.name, typed, value)
	}

	v.stateMu.Lock()
	v.pending = append(v.pending, Entry[T]{Timestamp: time.Now().UTC(), Value: typed})
	if v.inFlight != nil {
		waitOn := v.inFlight
		v.stateMu.Unlock()
		select {
		case <-waitOn.done:
			return waitOn.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	result := &flushResult{done: make(chan struct{})}
	v.inFlight = result
	v.stateMu.Unlock()

	v.flushMu.Lock()
	defer v.flushMu.Unlock()

	v.stateMu.Lock()
	batch := v.pending
	v.pending = nil
	v.inFlight = nil
	v.stateMu.Unlock()

	result.err = v.flush(ctx, batch)
	close(result.done)
	return result.err
}

func (v *WritableDataLogVariable[T]) flush(ctx context.Context, batch []Entry[T]) error {
	v.subMu.Lock()
	subs := append([]logViewSubscriber[T](nil), v.subscribers...)
	v.subMu.Unlock()

	var wg sync.WaitGroup
	var persistErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		persistErr = v.persist(ctx, batch)
	}()
	for _, sub := range subs {
		wg.Add(1)
		go func(sub logViewSubscriber[T]) {
			defer wg.Done()
			sub.newLogValues(ctx, batch)
		}(sub)
	}
	wg.Wait()

	if persistErr != nil {
		v.logger.Error("data log flush failed", "log", v.name, "err", persistErr, "batch_size", len(batch))
		return fmt.Errorf("%w: %v", base.ErrPersistence, persistErr)
	}
	return nil
}

func (v *WritableDataLogVariable[T]) persist(ctx context.Context, batch []Entry[T]) error {
	rows := make([]Row, len(batch))
	for i, e := range batch {
		kind, intVal, floatVal, strVal, err := v.codec.Encode(e.Value)
		if err != nil {
			return fmt.Errorf("encode: %w", err)
		}
		rows[i] = Row{Timestamp: e.Timestamp}
		switch kind {
		case ColumnInt:
			rows[i].IntValue = sql.NullInt64{Int64: intVal, Valid: true}
		case ColumnFloat:
			rows[i].FloatValue = sql.NullFloat64{Float64: floatVal, Valid: true}
		case ColumnString:
			rows[i].StrValue = sql.NullString{String: strVal, Valid: true}
		}
	}
	return v.store.Insert(ctx, v.name, rows)
}

// RetrieveLog implements the spec's retrieve_log.
func (v *WritableDataLogVariable[T]) RetrieveLog(ctx context.Context, start, end time.Time, includePrevious bool) ([]Entry[T], error) {
	rows, err := v.store.Query(ctx, v.name, start, end, includePrevious)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", base.ErrPersistence, err)
	}
	return v.decodeRows(rows)
}

// RetrieveLogSync is retrieve_log with the flush mutex held for the whole
// read, so no in-flight flush can land mid-scan — used by a push-mode live
// view's GetCurrentView for a strictly monotonic cut.
func (v *WritableDataLogVariable[T]) RetrieveLogSync(ctx context.Context, start, end time.Time, includePrevious bool) ([]Entry[T], error) {
	v.flushMu.Lock()
	defer v.flushMu.Unlock()
	return v.RetrieveLog(ctx, start, end, includePrevious)
}

// RetrieveAggregatedLog implements the spec's retrieve_aggregated_log: fetch
// the raw log including the pre-start value, then fold it into buckets.
func (v *WritableDataLogVariable[T]) RetrieveAggregatedLog(ctx context.Context, start, end time.Time, method AggregationMethod, interval time.Duration) ([]AggregatedEntry, error) {
	entries, err := v.RetrieveLog(ctx, start, end, true)
	if err != nil {
		return nil, err
	}
	data := make([]LogEntry, len(entries))
	for i, e := range entries {
		data[i] = LogEntry{Timestamp: e.Timestamp, Value: e.Value}
	}
	var zero T
	return Aggregate(data, reflect.TypeOf(zero), start, end, method, interval)
}

// SubscribeLiveView registers view to receive every flushed batch (push
// mode) or a trigger to poll immediately (poll mode with external updates).
func (v *WritableDataLogVariable[T]) SubscribeLiveView(view logViewSubscriber[T]) {
	v.subMu.Lock()
	defer v.subMu.Unlock()
	v.subscribers = append(v.subscribers, view)
}

func (v *WritableDataLogVariable[T]) decodeRows(rows []Row) ([]Entry[T], error) {
	out := make([]Entry[T], len(rows))
	for i, r := range rows {
		val, err := v.codec.Decode(r.IntValue, r.FloatValue, r.StrValue)
		if err != nil {
			return nil, fmt.Errorf("decode data log %q: %w", v.name, err)
		}
		out[i] = Entry[T]{Timestamp: r.Timestamp, Value: val}
	}
	return out, nil
}

package datalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shc-project/shc/internal/base"
	"github.com/shc-project/shc/internal/timer"
)

// Source is what a LiveDataLogView reads from. WritableDataLogVariable[T]
// satisfies it; a read-only log-backed connectable can too.
type Source[T any] interface {
	RetrieveLog(ctx context.Context, start, end time.Time, includePrevious bool) ([]Entry[T], error)
	RetrieveAggregatedLog(ctx context.Context, start, end time.Time, method AggregationMethod, interval time.Duration) ([]AggregatedEntry, error)
}

// LiveViewOptions configures a LiveDataLogView beyond its source and window.
type LiveViewOptions struct {
	Aggregation         *AggregationMethod
	AggregationInterval time.Duration
	// AlignTo anchors aggregation bucket boundaries (default the zero Time,
	// matching shc's arbitrary fixed epoch — only the alignment, not the
	// absolute date, matters).
	AlignTo time.Time
	// UpdateInterval is the poll-mode timer period. Zero selects
	// min(interval/20, 1 minute), same as the original.
	UpdateInterval time.Duration
	// ExternalUpdates forces poll mode even over a writable source.
	ExternalUpdates bool
}

// LiveDataLogView holds a time-windowed, optionally aggregated view onto a
// data log, and keeps every subscriber on the same cut-off so concurrent
// observers never see duplicate or skipped samples (spec's Live data-log
// view invariant). Two delivery modes:
//
//   - Push: the source is a WritableDataLogVariable, there is no
//     aggregation, and ExternalUpdates is false — every flushed batch is
//     forwarded verbatim.
//   - Poll: a timer fires every UpdateInterval; under a mutex, the view
//     fetches from its last cut-off (or now-interval the first time) up to
//     now, delivers, and advances the cut-off. A writable source still
//     triggers an immediate out-of-band poll on every flush.
//
// Grounded on shc/log/generic.py's LiveDataLogView.
type LiveDataLogView[T any] struct {
	name                string
	source              Source[T]
	writableSource      *WritableDataLogVariable[T]
	interval            time.Duration
	aggregation         *AggregationMethod
	aggregationInterval time.Duration
	alignTo             time.Time
	externalUpdates     bool
	push                bool
	logger              *slog.Logger

	// OnValues is invoked with every delivered batch: the flushed values
	// verbatim in push mode, the polled/aggregated slice in poll mode.
	OnValues func(ctx context.Context, values []TimestampedValue)

	mu               sync.Mutex
	lastRetrieved    time.Time
	hasLastRetrieved bool

	pollTimer *timer.Timer
}

// NewLiveView constructs a LiveDataLogView over source. name is used for the
// poll-mode timer's log lines.
func NewLiveView[T any](name string, source Source[T], interval time.Duration, opts LiveViewOptions, logger *slog.Logger) (*LiveDataLogView[T], error) {
	if opts.Aggregation != nil && opts.AggregationInterval <= 0 {
		return nil, fmt.Errorf("%w: aggregation_interval must be given if aggregation is enabled", base.ErrConfiguration)
	}
	if logger == nil {
		logger = slog.Default()
	}

	writable, _ := source.(*WritableDataLogVariable[T])
	push := writable != nil && !opts.ExternalUpdates && opts.Aggregation == nil

	lv := &LiveDataLogView[T]{
		name:                name,
		source:              source,
		writableSource:      writable,
		interval:            interval,
		aggregation:         opts.Aggregation,
		aggregationInterval: opts.AggregationInterval,
		alignTo:             opts.AlignTo,
		externalUpdates:     opts.ExternalUpdates,
		push:                push,
		logger:              logger,
	}

	if writable != nil {
		writable.SubscribeLiveView(lv)
	}
	if !push {
		updateInterval := opts.UpdateInterval
		if updateInterval <= 0 {
			updateInterval = interval / 20
			if updateInterval > time.Minute {
				updateInterval = time.Minute
			}
		}
		lv.pollTimer = timer.New(name, timer.Every{Delta: updateInterval}, logger)
		lv.pollTimer.Subscribe(lv, nil)
	}
	return lv, nil
}

// Identity implements base.Writable, so the poll-mode timer can subscribe lv
// directly.
func (lv *LiveDataLogView[T]) Identity() base.Identity { return lv }

// Write implements base.Writable for the poll-mode timer: every firing
// triggers an update.
func (lv *LiveDataLogView[T]) Write(ctx context.Context, _ any, _ base.Origin) error {
	return lv.update(ctx)
}

// newLogValues implements logViewSubscriber: push mode forwards the batch
// directly, poll mode treats it only as a trigger for an out-of-band update
// so that external writes are reflected promptly without duplicating the
// regular timer-driven poll's bookkeeping.
func (lv *LiveDataLogView[T]) newLogValues(ctx context.Context, values []Entry[T]) {
	if !lv.push {
		go func() {
			if err := lv.update(context.Background()); err != nil {
				lv.logger.Error("live view update failed", "view", lv.name, "err", err)
			}
		}()
		return
	}
	tv := make([]TimestampedValue, len(values))
	for i, e := range values {
		tv[i] = TimestampedValue{Timestamp: e.Timestamp, Value: e.Value}
	}
	if lv.OnValues != nil {
		lv.OnValues(ctx, tv)
	}
}

// Start begins the poll-mode timer, if this view is in poll mode.
func (lv *LiveDataLogView[T]) Start() {
	if lv.pollTimer != nil {
		lv.pollTimer.Start()
	}
}

// Stop cancels the poll-mode timer, if this view is in poll mode.
func (lv *LiveDataLogView[T]) Stop() {
	if lv.pollTimer != nil {
		lv.pollTimer.Stop()
	}
}

func (lv *LiveDataLogView[T]) update(ctx context.Context) error {
	lv.mu.Lock()
	defer lv.mu.Unlock()

	begin, end := lv.dataRetrievalInterval(true)
	values, err := lv.fetch(ctx, begin, end, false)
	if err != nil {
		return err
	}
	if lv.OnValues != nil {
		lv.OnValues(ctx, values)
	}
	lv.lastRetrieved = end
	lv.hasLastRetrieved = true
	return nil
}

func (lv *LiveDataLogView[T]) fetch(ctx context.Context, begin, end time.Time, includePrevious bool) ([]TimestampedValue, error) {
	if lv.aggregation != nil {
		agg, err := lv.source.RetrieveAggregatedLog(ctx, begin, end, *lv.aggregation, lv.aggregationInterval)
		if err != nil {
			return nil, err
		}
		out := make([]TimestampedValue, len(agg))
		for i, a := range agg {
			out[i] = TimestampedValue{Timestamp: a.Timestamp, Value: a.Value}
		}
		return out, nil
	}
	entries, err := lv.source.RetrieveLog(ctx, begin, end, includePrevious)
	if err != nil {
		return nil, err
	}
	out := make([]TimestampedValue, len(entries))
	for i, e := range entries {
		out[i] = TimestampedValue{Timestamp: e.Timestamp, Value: e.Value}
	}
	return out, nil
}

// GetCurrentView returns the view's full current window, matching
// get_current_view: in push mode a synchronized read over
// [now-interval, now]; in poll mode, data up to lastRetrieved only, so two
// concurrent callers agree on the cut-off.
func (lv *LiveDataLogView[T]) GetCurrentView(ctx context.Context, includePrevious bool) ([]TimestampedValue, error) {
	if lv.push {
		begin, end := lv.dataRetrievalInterval(false)
		entries, err := lv.writableSource.RetrieveLogSync(ctx, begin, end, includePrevious)
		if err != nil {
			return nil, err
		}
		out := make([]TimestampedValue, len(entries))
		for i, e := range entries {
			out[i] = TimestampedValue{Timestamp: e.Timestamp, Value: e.Value}
		}
		return out, nil
	}

	lv.mu.Lock()
	defer lv.mu.Unlock()
	_, end := lv.dataRetrievalInterval(false)
	if lv.aggregation != nil {
		begin, _ := lv.dataRetrievalInterval(false)
		return lv.fetch(ctx, begin, end, includePrevious)
	}
	return lv.fetch(ctx, time.Now().UTC().Add(-lv.interval), end, includePrevious)
}

// dataRetrievalInterval computes the (begin, end) pair passed to
// RetrieveLog/RetrieveAggregatedLog, exactly mirroring
// LiveDataLogView._data_retrieval_interval. forUpdate distinguishes the
// timer-driven poll (which must advance past lastRetrieved) from an
// on-demand GetCurrentView (which must not).
func (lv *LiveDataLogView[T]) dataRetrievalInterval(forUpdate bool) (time.Time, time.Time) {
	now := time.Now().UTC()
	if lv.push {
		return now.Add(-lv.interval), now
	}

	var end time.Time
	if !forUpdate && lv.hasLastRetrieved {
		end = lv.lastRetrieved
	} else {
		end = now
	}

	var begin time.Time
	if lv.aggregation == nil {
		if forUpdate {
			if lv.hasLastRetrieved {
				begin = lv.lastRetrieved
			} else {
				begin = end.Add(-lv.interval)
			}
		} else {
			begin = now.Add(-lv.interval)
		}
		return begin, end
	}

	preliminaryBegin := now.Add(-lv.interval)
	if forUpdate && lv.hasLastRetrieved {
		preliminaryBegin = lv.lastRetrieved.Add(-lv.aggregationInterval)
	}
	diff := preliminaryBegin.Sub(lv.alignTo)
	alignCount := floorDiv(diff, lv.aggregationInterval)
	begin = lv.alignTo.Add(time.Duration(alignCount+1) * lv.aggregationInterval)
	return begin, end
}

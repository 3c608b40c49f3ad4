package datalog

import (
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/shc-project/shc/internal/base"
)

// AggregationMethod selects how retrieve_aggregated_log folds raw samples
// into fixed-width time buckets (spec §4.E).
type AggregationMethod int

const (
	AggregationAverage AggregationMethod = iota
	AggregationMinimum
	AggregationMaximum
	AggregationOnTime
	AggregationOnTimeRatio
)

func (m AggregationMethod) String() string {
	switch m {
	case AggregationAverage:
		return "average"
	case AggregationMinimum:
		return "minimum"
	case AggregationMaximum:
		return "maximum"
	case AggregationOnTime:
		return "on_time"
	case AggregationOnTimeRatio:
		return "on_time_ratio"
	default:
		return fmt.Sprintf("aggregation(%d)", int(m))
	}
}

// LogEntry is one raw sample fed into Aggregate. Unlike Entry[T], its value
// is type-erased because Aggregate operates ahead of the caller's generic
// parameter (it is also exercised directly by tests against plain data).
type LogEntry struct {
	Timestamp time.Time
	Value     any
}

// AggregatedEntry is one bucket's folded result.
type AggregatedEntry struct {
	Timestamp time.Time
	Value     float64
}

type aggregator interface {
	reset()
	aggregate(start, end time.Time, value any)
	get() float64
}

func newAggregator(method AggregationMethod) aggregator {
	switch method {
	case AggregationMinimum:
		return &minAggregator{}
	case AggregationMaximum:
		return &maxAggregator{}
	case AggregationOnTime:
		return &onTimeAggregator{}
	case AggregationOnTimeRatio:
		return &onTimeRatioAggregator{}
	default:
		return &averageAggregator{}
	}
}

// averageAggregator implements AVERAGE: the time-weighted mean of the values
// held within the bucket.
type averageAggregator struct {
	valueSum, timeSum float64
}

func (a *averageAggregator) reset() { a.valueSum, a.timeSum = 0, 0 }
func (a *averageAggregator) get() float64 {
	if a.timeSum == 0 {
		return 0
	}
	return a.valueSum / a.timeSum
}
func (a *averageAggregator) aggregate(start, end time.Time, value any) {
	delta := end.Sub(start).Seconds()
	f, _ := toFloat64(value)
	a.timeSum += delta
	a.valueSum += f * delta
}

// minAggregator implements MINIMUM: the interval each value held is ignored,
// so even zero-duration samples count.
type minAggregator struct{ value float64 }

func (a *minAggregator) reset()         { a.value = math.Inf(1) }
func (a *minAggregator) get() float64   { return a.value }
func (a *minAggregator) aggregate(_, _ time.Time, value any) {
	f, _ := toFloat64(value)
	if f < a.value {
		a.value = f
	}
}

// maxAggregator implements MAXIMUM, the mirror of minAggregator.
type maxAggregator struct{ value float64 }

func (a *maxAggregator) reset()       { a.value = math.Inf(-1) }
func (a *maxAggregator) get() float64 { return a.value }
func (a *maxAggregator) aggregate(_, _ time.Time, value any) {
	f, _ := toFloat64(value)
	if f > a.value {
		a.value = f
	}
}

// onTimeAggregator implements ON_TIME: total seconds the value was truthy.
type onTimeAggregator struct{ onTime time.Duration }

func (a *onTimeAggregator) reset()       { a.onTime = 0 }
func (a *onTimeAggregator) get() float64 { return a.onTime.Seconds() }
func (a *onTimeAggregator) aggregate(start, end time.Time, value any) {
	if truthy(value) {
		a.onTime += end.Sub(start)
	}
}

// onTimeRatioAggregator implements ON_TIME_RATIO: on-time divided by the
// total duration accumulated in the bucket.
type onTimeRatioAggregator struct {
	onTime, total time.Duration
}

func (a *onTimeRatioAggregator) reset() { a.onTime, a.total = 0, 0 }
func (a *onTimeRatioAggregator) get() float64 {
	if a.total == 0 {
		return 0
	}
	return a.onTime.Seconds() / a.total.Seconds()
}
func (a *onTimeRatioAggregator) aggregate(start, end time.Time, value any) {
	delta := end.Sub(start)
	a.total += delta
	if truthy(value) {
		a.onTime += delta
	}
}

func toFloat64(value any) (float64, bool) {
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	default:
		return 0, false
	}
}

func truthy(value any) bool {
	switch x := value.(type) {
	case nil:
		return false
	case bool:
		return x
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return v.Float() != 0
	case reflect.String:
		return v.String() != ""
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map:
		return !v.IsNil()
	default:
		return true
	}
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

func validateAggregationMethod(method AggregationMethod, valueType reflect.Type) error {
	switch method {
	case AggregationMinimum, AggregationMaximum, AggregationAverage:
		if valueType == nil || !isNumericKind(valueType.Kind()) {
			return fmt.Errorf("%w: %s aggregation is only applicable to numeric log types, got %v",
				base.ErrConversion, method, valueType)
		}
		return nil
	case AggregationOnTime, AggregationOnTimeRatio:
		return nil
	default:
		return fmt.Errorf("%w: unsupported aggregation method %d", base.ErrConfiguration, int(method))
	}
}

func geq(a, b time.Time) bool { return !a.Before(b) }

// floorDiv divides two durations, rounding toward negative infinity (Go's
// integer division truncates toward zero instead, which only matches floor
// division when both operands share a sign).
func floorDiv(a, b time.Duration) int64 {
	q := int64(a / b)
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// Aggregate folds data (a log slice already covering [start, end) plus the
// pre-start value, per retrieve_aggregated_log's contract) into fixed-width
// buckets of length interval anchored at start. valueType is the declared
// type of the log variable the data came from; it is checked against method
// before any iteration so that an inapplicable method/type combination fails
// even when data is empty. Bucket i spans
// [start + i*interval, start + (i+1)*interval), with the final partial
// bucket up to end also emitted; buckets entirely before the first sample
// are omitted; buckets with no sample transition carry forward the last
// seen value. Grounded line-for-line on shc/log/generic.py's aggregate().
func Aggregate(data []LogEntry, valueType reflect.Type, start, end time.Time, method AggregationMethod, interval time.Duration) ([]AggregatedEntry, error) {
	if err := validateAggregationMethod(method, valueType); err != nil {
		return nil, err
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: aggregation interval must be positive", base.ErrConfiguration)
	}

	n := int(math.Ceil(float64(end.Sub(start)) / float64(interval)))
	if n < 1 {
		n = 1
	}
	timestamps := make([]time.Time, n)
	for i := 0; i < n; i++ {
		timestamps[i] = start.Add(time.Duration(i) * interval)
	}
	if timestamps[len(timestamps)-1].Before(end) {
		timestamps = append(timestamps, end)
	}

	if len(data) == 0 {
		return nil, nil
	}

	agg := newAggregator(method)

	nextIdx := 0
	lastTS := data[0].Timestamp
	lastValue := data[0].Value
	rest := data[1:]

	// Ignore aggregation intervals before the first entry.
	for geq(lastTS, timestamps[nextIdx]) {
		nextIdx++
		if nextIdx >= len(timestamps) {
			return nil, nil
		}
	}

	var result []AggregatedEntry
	agg.reset()

	for _, e := range rest {
		ts, value := e.Timestamp, e.Value

		if geq(ts, timestamps[nextIdx]) {
			if nextIdx > 0 {
				agg.aggregate(lastTS, timestamps[nextIdx], lastValue)
				result = append(result, AggregatedEntry{timestamps[nextIdx-1], agg.get()})
			}
			nextIdx++
			if nextIdx >= len(timestamps) {
				return result, nil
			}

			for geq(ts, timestamps[nextIdx]) {
				agg.reset()
				agg.aggregate(timestamps[nextIdx-1], timestamps[nextIdx], lastValue)
				result = append(result, AggregatedEntry{timestamps[nextIdx-1], agg.get()})
				nextIdx++
				if nextIdx >= len(timestamps) {
					return result, nil
				}
			}
			agg.reset()
		}

		if nextIdx > 0 {
			intervalStart := timestamps[nextIdx-1]
			aggStart := lastTS
			if intervalStart.After(aggStart) {
				aggStart = intervalStart
			}
			agg.aggregate(aggStart, ts, lastValue)
		}

		lastValue = value
		lastTS = ts
	}

	if nextIdx > 0 {
		agg.aggregate(lastTS, timestamps[nextIdx], lastValue)
		result = append(result, AggregatedEntry{timestamps[nextIdx-1], agg.get()})
	}
	nextIdx++

	for nextIdx < len(timestamps) {
		agg.reset()
		agg.aggregate(timestamps[nextIdx-1], timestamps[nextIdx], lastValue)
		result = append(result, AggregatedEntry{timestamps[nextIdx-1], agg.get()})
		nextIdx++
	}

	return result, nil
}

// Package series provides the immutable, date-indexed value sequence that the
// indicator engine consumes and produces.
//
// A Series is never mutated after construction. Constructors copy the caller's
// slices and accessors return copies, so a Series can be shared freely between
// goroutines.
package series

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// ErrUnordered is returned when timestamps are not strictly increasing.
var ErrUnordered = errors.New("timestamps must be strictly increasing")

// ErrLengthMismatch is returned when timestamp and value slices differ in length.
var ErrLengthMismatch = errors.New("timestamps and values differ in length")

// Series is an ordered sequence of dated values for one symbol.
type Series struct {
	symbol string
	times  []time.Time
	values []float64
}

// New builds a Series from parallel timestamp and value slices.
// Both slices are copied.
func New(symbol string, times []time.Time, values []float64) (*Series, error) {
	if len(times) != len(values) {
		return nil, fmt.Errorf("series %s: %w (%d vs %d)", symbol, ErrLengthMismatch, len(times), len(values))
	}
	for i := 1; i < len(times); i++ {
		if !times[i].After(times[i-1]) {
			return nil, fmt.Errorf("series %s: %w at index %d", symbol, ErrUnordered, i)
		}
	}
	t := make([]time.Time, len(times))
	copy(t, times)
	v := make([]float64, len(values))
	copy(v, values)
	return &Series{symbol: symbol, times: t, values: v}, nil
}

// Derive returns a new Series that shares s's timestamps and carries the given
// values. values must have the same length as s; it is taken over, not copied,
// so callers must not modify it afterwards.
func (s *Series) Derive(name string, values []float64) *Series {
	if len(values) != len(s.times) {
		panic(fmt.Sprintf("series: derive %s: %d values for %d timestamps", name, len(values), len(s.times)))
	}
	return &Series{symbol: name, times: s.times, values: values}
}

// Symbol returns the identifier the series was built with.
func (s *Series) Symbol() string { return s.symbol }

// Len returns the number of samples.
func (s *Series) Len() int { return len(s.values) }

// Value returns the i-th value.
func (s *Series) Value(i int) float64 { return s.values[i] }

// Time returns the i-th timestamp.
func (s *Series) Time(i int) time.Time { return s.times[i] }

// Values returns a copy of the values.
func (s *Series) Values() []float64 {
	out := make([]float64, len(s.values))
	copy(out, s.values)
	return out
}

// Times returns a copy of the timestamps.
func (s *Series) Times() []time.Time {
	out := make([]time.Time, len(s.times))
	copy(out, s.times)
	return out
}

// SliceByDateRange returns the samples with start <= ts <= end, in order.
// A zero start or end leaves that side unbounded.
func (s *Series) SliceByDateRange(start, end time.Time) *Series {
	lo := 0
	if !start.IsZero() {
		lo = sort.Search(len(s.times), func(i int) bool { return !s.times[i].Before(start) })
	}
	hi := len(s.times)
	if !end.IsZero() {
		hi = sort.Search(len(s.times), func(i int) bool { return s.times[i].After(end) })
	}
	if hi < lo {
		hi = lo
	}
	return &Series{symbol: s.symbol, times: s.times[lo:hi:hi], values: s.values[lo:hi:hi]}
}

// DropMissing returns a Series without the NaN positions. It belongs at
// ingestion: indicator outputs keep their NaN positions to stay aligned.
func (s *Series) DropMissing() *Series {
	times := make([]time.Time, 0, len(s.times))
	values := make([]float64, 0, len(s.values))
	for i, v := range s.values {
		if math.IsNaN(v) {
			continue
		}
		times = append(times, s.times[i])
		values = append(values, v)
	}
	return &Series{symbol: s.symbol, times: times, values: values}
}

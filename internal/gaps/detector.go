// Package gaps proves a candle series is contiguous for its timeframe.
package gaps

import (
	"time"

	"klinecollector/pkg/kline"
)

// Tolerance absorbs sub-millisecond drift in sub-minute timeframes.
const Tolerance = time.Millisecond

// Detect returns the missing sub-ranges of [start, end) for a series sorted by
// open time. Leading and trailing gaps are reported against start and end.
// Candles outside the range and duplicate open times are ignored. The result
// depends only on the open times, never on which source produced them.
func Detect(candles []kline.Candle, tf kline.Timeframe, start, end time.Time) []kline.Gap {
	if !end.After(start) {
		return nil
	}

	var out []kline.Gap
	expected := start
	for _, c := range candles {
		open := c.OpenTime
		if open.Before(start) || !open.Before(end) {
			continue
		}
		if open.Sub(expected) > Tolerance {
			out = append(out, kline.Gap{Start: expected, End: open, Timeframe: tf})
		}
		if next := tf.Next(open); next.After(expected) {
			expected = next
		}
	}
	if end.Sub(expected) > Tolerance {
		out = append(out, kline.Gap{Start: expected, End: end, Timeframe: tf})
	}
	return out
}

// Missing sums the intervals spanned by gaps.
func Missing(gaps []kline.Gap) int {
	n := 0
	for _, g := range gaps {
		n += g.Missing()
	}
	return n
}

// Completeness is the share of expected intervals in [start, end) that are
// present, in [0, 1]. An empty range is complete.
func Completeness(gaps []kline.Gap, tf kline.Timeframe, start, end time.Time) float64 {
	expected := tf.Count(start, end)
	if expected == 0 {
		return 1
	}
	missing := Missing(gaps)
	if missing > expected {
		missing = expected
	}
	return float64(expected-missing) / float64(expected)
}

package kline

import (
	"fmt"
	"time"
)

// Gap is a half-open range [Start, End) of missing open times in a stream.
// Start is the first missing open time, End the open time of the next
// candle present (or the end of the requested range).
type Gap struct {
	Start     time.Time
	End       time.Time
	Timeframe Timeframe
}

// Missing is the number of intervals the gap spans.
func (g Gap) Missing() int {
	return g.Timeframe.Count(g.Start, g.End)
}

func (g Gap) String() string {
	return fmt.Sprintf("[%s, %s) %s x%d",
		g.Start.UTC().Format(time.RFC3339), g.End.UTC().Format(time.RFC3339), g.Timeframe.Interval, g.Missing())
}

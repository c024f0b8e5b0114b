package kline

import (
	"fmt"
	"math"
	"time"
)

// Interval is the sampling interval label used across the collector (e.g. "1h").
type Interval string

const (
	Interval1s  Interval = "1s"
	Interval1m  Interval = "1m"
	Interval3m  Interval = "3m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval2h  Interval = "2h"
	Interval4h  Interval = "4h"
	Interval6h  Interval = "6h"
	Interval8h  Interval = "8h"
	Interval12h Interval = "12h"
	Interval1d  Interval = "1d"
	Interval3d  Interval = "3d"
	Interval1w  Interval = "1w"
	Interval1M  Interval = "1M"
)

// Intervals returns every enumerated interval in ascending length.
func Intervals() []Interval {
	return []Interval{
		Interval1s, Interval1m, Interval3m, Interval5m, Interval15m, Interval30m,
		Interval1h, Interval2h, Interval4h, Interval6h, Interval8h, Interval12h,
		Interval1d, Interval3d, Interval1w, Interval1M,
	}
}

// Timeframe holds the length of an interval and its naming in the bulk
// archive and in the live REST API.
type Timeframe struct {
	Interval     Interval
	Minutes      float64 // fractional for sub-minute intervals
	ArchiveToken string  // path token on the archive CDN
	APIToken     string  // "interval" query parameter on the REST API
	SpotOnly     bool
}

// definitions is the single source of truth for the catalog.
func definitions() []Timeframe {
	return []Timeframe{
		{Interval: Interval1s, Minutes: 1.0 / 60.0, ArchiveToken: "1s", APIToken: "1s", SpotOnly: true},
		{Interval: Interval1m, Minutes: 1, ArchiveToken: "1m", APIToken: "1m"},
		{Interval: Interval3m, Minutes: 3, ArchiveToken: "3m", APIToken: "3m"},
		{Interval: Interval5m, Minutes: 5, ArchiveToken: "5m", APIToken: "5m"},
		{Interval: Interval15m, Minutes: 15, ArchiveToken: "15m", APIToken: "15m"},
		{Interval: Interval30m, Minutes: 30, ArchiveToken: "30m", APIToken: "30m"},
		{Interval: Interval1h, Minutes: 60, ArchiveToken: "1h", APIToken: "1h"},
		{Interval: Interval2h, Minutes: 120, ArchiveToken: "2h", APIToken: "2h"},
		{Interval: Interval4h, Minutes: 240, ArchiveToken: "4h", APIToken: "4h"},
		{Interval: Interval6h, Minutes: 360, ArchiveToken: "6h", APIToken: "6h"},
		{Interval: Interval8h, Minutes: 480, ArchiveToken: "8h", APIToken: "8h"},
		{Interval: Interval12h, Minutes: 720, ArchiveToken: "12h", APIToken: "12h"},
		{Interval: Interval1d, Minutes: 1440, ArchiveToken: "1d", APIToken: "1d"},     // 24*60
		{Interval: Interval3d, Minutes: 4320, ArchiveToken: "3d", APIToken: "3d"},     // 3*24*60
		{Interval: Interval1w, Minutes: 10080, ArchiveToken: "1w", APIToken: "1w"},    // 7*24*60
		{Interval: Interval1M, Minutes: 43200, ArchiveToken: "1mo", APIToken: "1M"}, // nominal; stepping is calendar based
	}
}

// Catalog is the immutable interval table. Build it once with NewCatalog and
// pass it to the components that need it.
type Catalog struct {
	byInterval map[Interval]Timeframe
}

// NewCatalog builds the interval catalog. It panics when a definition is
// incomplete, since that is a defect in this package rather than a runtime
// condition.
func NewCatalog() *Catalog {
	return newCatalog(definitions())
}

func newCatalog(defs []Timeframe) *Catalog {
	c := &Catalog{byInterval: make(map[Interval]Timeframe, len(defs))}
	for _, tf := range defs {
		if err := tf.complete(); err != nil {
			panic(fmt.Sprintf("kline: incomplete interval definition: %v", err))
		}
		c.byInterval[tf.Interval] = tf
	}
	for _, i := range Intervals() {
		if _, ok := c.byInterval[i]; !ok {
			panic(fmt.Sprintf("kline: interval %s missing from catalog", i))
		}
	}
	return c
}

func (t Timeframe) complete() error {
	switch {
	case t.Interval == "":
		return fmt.Errorf("empty interval label")
	case t.Minutes <= 0:
		return fmt.Errorf("%s: length in minutes not set", t.Interval)
	case t.ArchiveToken == "":
		return fmt.Errorf("%s: archive token not set", t.Interval)
	case t.APIToken == "":
		return fmt.Errorf("%s: api token not set", t.Interval)
	}
	return nil
}

// Lookup parses an interval label into its Timeframe.
func (c *Catalog) Lookup(s string) (Timeframe, error) {
	tf, ok := c.byInterval[Interval(s)]
	if !ok {
		return Timeframe{}, fmt.Errorf("invalid interval: %s", s)
	}
	return tf, nil
}

// MustLookup returns the Timeframe for an enumerated interval and panics if
// the catalog does not define it.
func (c *Catalog) MustLookup(i Interval) Timeframe {
	tf, ok := c.byInterval[i]
	if !ok {
		panic(fmt.Sprintf("kline: interval %s not in catalog", i))
	}
	return tf
}

// All returns the catalog entries in ascending length.
func (c *Catalog) All() []Timeframe {
	out := make([]Timeframe, 0, len(c.byInterval))
	for _, i := range Intervals() {
		if tf, ok := c.byInterval[i]; ok {
			out = append(out, tf)
		}
	}
	return out
}

// Calendar reports whether the interval steps by calendar month.
func (t Timeframe) Calendar() bool {
	return t.Interval == Interval1M
}

// Duration is the nominal interval length, rounded to the millisecond.
func (t Timeframe) Duration() time.Duration {
	return time.Duration(math.Round(t.Minutes*60*1000)) * time.Millisecond
}

// Next returns the open time of the interval following the one opening at open.
func (t Timeframe) Next(open time.Time) time.Time {
	if t.Calendar() {
		return open.AddDate(0, 1, 0)
	}
	return open.Add(t.Duration())
}

// weekEpoch is the first Monday after the Unix epoch; weekly candles open on Mondays.
var weekEpoch = time.Date(1970, 1, 5, 0, 0, 0, 0, time.UTC)

// Align truncates ts down to the open time of the interval containing it.
func (t Timeframe) Align(ts time.Time) time.Time {
	ts = ts.UTC()
	if t.Calendar() {
		return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	origin := time.Unix(0, 0).UTC()
	if t.Interval == Interval1w {
		origin = weekEpoch
	}
	d := t.Duration()
	elapsed := ts.Sub(origin)
	rem := elapsed % d
	if rem < 0 {
		rem += d
	}
	return ts.Add(-rem)
}

// Count returns the number of interval open times in [start, end), stepping
// from start.
func (t Timeframe) Count(start, end time.Time) int {
	if !end.After(start) {
		return 0
	}
	if t.Calendar() {
		n := 0
		for cur := start; cur.Before(end); cur = cur.AddDate(0, 1, 0) {
			n++
		}
		return n
	}
	d := t.Duration()
	span := end.Sub(start)
	n := int(span / d)
	if span%d != 0 {
		n++
	}
	return n
}

func (t Timeframe) String() string {
	return string(t.Interval)
}

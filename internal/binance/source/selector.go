// Package source decides which archive objects cover a stream's date range.
package source

import (
	"fmt"
	"time"

	"klinecollector/pkg/binance"
	"klinecollector/pkg/kline"
)

// DefaultWindow is the trailing window served from daily archives. Monthly
// archives appear with a publication delay of a few weeks; the right value
// follows the publisher's latency, so it is configurable.
const DefaultWindow = 30 * 24 * time.Hour

const day = 24 * time.Hour

// Unit is one archive object plus the part of the requested range it is
// expected to cover.
type Unit struct {
	Kind       binance.ArchiveKind
	Instrument kline.Instrument
	Timeframe  kline.Timeframe
	Date       time.Time // first day of the month for monthly units
	Address    string

	// Start and End bound [Start, End), the slice of the request this
	// unit is responsible for.
	Start time.Time
	End   time.Time
}

// Source is the provenance tag of candles read from the unit.
func (u Unit) Source() kline.Source {
	if u.Kind == binance.ArchiveMonthly {
		return kline.SourceArchiveMonthly
	}
	return kline.SourceArchiveDaily
}

func (u Unit) String() string {
	stamp := u.Date.Format("2006-01-02")
	if u.Kind == binance.ArchiveMonthly {
		stamp = u.Date.Format("2006-01")
	}
	return fmt.Sprintf("%s:%s %s %s", u.Instrument, u.Timeframe.Interval, u.Kind, stamp)
}

// Selector picks monthly or daily archives against a trailing cutoff window.
type Selector struct {
	baseURL string
	window  time.Duration
	now     func() time.Time
}

type Option func(*Selector)

// WithClock replaces the wall clock used to place the cutoff.
func WithClock(now func() time.Time) Option {
	return func(s *Selector) {
		s.now = now
	}
}

// New returns a Selector. A non-positive window falls back to DefaultWindow.
func New(baseURL string, window time.Duration, opts ...Option) *Selector {
	if baseURL == "" {
		baseURL = binance.DefaultArchiveURL
	}
	if window <= 0 {
		window = DefaultWindow
	}
	s := &Selector{baseURL: baseURL, window: window, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func monthOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Cutoff is the first day served from daily archives.
func (s *Selector) Cutoff() time.Time {
	return truncateDay(truncateDay(s.now()).Add(-s.window))
}

// InWindow reports whether date falls inside the trailing daily window.
func (s *Selector) InWindow(date time.Time) bool {
	return !truncateDay(date).Before(s.Cutoff())
}

// Select returns the archive for the day containing date: daily inside the
// trailing window, monthly outside it. The unit covers that single day.
func (s *Selector) Select(inst kline.Instrument, tf kline.Timeframe, date time.Time) Unit {
	d := truncateDay(date)
	if s.InWindow(d) {
		return s.daily(inst, tf, d, d, d.Add(day))
	}
	return s.monthly(inst, tf, monthOf(d), d, d.Add(day))
}

// Plan lists the units covering [start, end) in chronological order. Days
// sharing a monthly archive collapse into one unit whose coverage stops at
// the cutoff, so a month straddling the window boundary is split between
// its monthly archive and the daily archives after the cutoff.
func (s *Selector) Plan(inst kline.Instrument, tf kline.Timeframe, start, end time.Time) []Unit {
	if !end.After(start) {
		return nil
	}
	var units []Unit
	for d := truncateDay(start); d.Before(end); d = d.Add(day) {
		lo, hi := maxTime(d, start), minTime(d.Add(day), end)
		u := s.Select(inst, tf, d)
		if n := len(units); n > 0 && u.Kind == binance.ArchiveMonthly &&
			units[n-1].Kind == binance.ArchiveMonthly && units[n-1].Date.Equal(u.Date) {
			units[n-1].End = hi
			continue
		}
		u.Start, u.End = lo, hi
		units = append(units, u)
	}
	return units
}

// Fallback replaces an absent monthly unit with the daily archives for
// every day it was responsible for. Days after today are not published and
// are left out; they surface as gaps.
func (s *Selector) Fallback(u Unit) []Unit {
	if u.Kind != binance.ArchiveMonthly {
		return nil
	}
	today := truncateDay(s.now())
	var units []Unit
	for d := truncateDay(u.Start); d.Before(u.End) && !d.After(today); d = d.Add(day) {
		units = append(units, s.daily(u.Instrument, u.Timeframe, d, maxTime(d, u.Start), minTime(d.Add(day), u.End)))
	}
	return units
}

func (s *Selector) daily(inst kline.Instrument, tf kline.Timeframe, d, start, end time.Time) Unit {
	return Unit{
		Kind:       binance.ArchiveDaily,
		Instrument: inst,
		Timeframe:  tf,
		Date:       d,
		Address:    binance.ArchiveURL(s.baseURL, inst.Market, binance.ArchiveDaily, inst.Symbol, tf.ArchiveToken, d),
		Start:      start,
		End:        end,
	}
}

func (s *Selector) monthly(inst kline.Instrument, tf kline.Timeframe, m, start, end time.Time) Unit {
	return Unit{
		Kind:       binance.ArchiveMonthly,
		Instrument: inst,
		Timeframe:  tf,
		Date:       m,
		Address:    binance.ArchiveURL(s.baseURL, inst.Market, binance.ArchiveMonthly, inst.Symbol, tf.ArchiveToken, m),
		Start:      start,
		End:        end,
	}
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

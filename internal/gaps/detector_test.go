package gaps

import (
	"testing"
	"time"

	"klinecollector/pkg/kline"
	"klinecollector/pkg/kline/klinetest"
)

var (
	catalog = kline.NewCatalog()
	btc     = kline.Instrument{Symbol: "BTCUSDT", Market: kline.Spot}
)

// go test -v --run TestDetectContiguous
func TestDetectContiguous(t *testing.T) {
	tf := catalog.MustLookup(kline.Interval1h)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	series := klinetest.Range(btc, tf, start, end)
	if len(series) != 744 {
		t.Fatalf("fixture = %d candles, want 744", len(series))
	}
	if got := Detect(series, tf, start, end); len(got) != 0 {
		t.Errorf("gaps = %v, want none", got)
	}
}

// go test -v --run TestDetectInteriorGap
func TestDetectInteriorGap(t *testing.T) {
	tf := catalog.MustLookup(kline.Interval1h)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	dayStart := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	series := klinetest.Drop(klinetest.Range(btc, tf, start, end), dayStart, dayEnd)
	got := Detect(series, tf, start, end)
	if len(got) != 1 {
		t.Fatalf("gaps = %v, want one", got)
	}
	g := got[0]
	if !g.Start.Equal(dayStart) || !g.End.Equal(dayEnd) {
		t.Errorf("gap = %v, want [%v, %v)", g, dayStart, dayEnd)
	}
	if g.Missing() != 24 {
		t.Errorf("missing = %d, want 24", g.Missing())
	}
	// the gap starts right after the previous candle closes
	prev := series[14*24-1]
	if !g.Start.Equal(prev.CloseTime.Add(time.Millisecond)) {
		t.Errorf("gap start %v does not follow previous close %v", g.Start, prev.CloseTime)
	}
}

// go test -v --run TestDetectLeadingTrailing
func TestDetectLeadingTrailing(t *testing.T) {
	tf := catalog.MustLookup(kline.Interval5m)
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	series := klinetest.Range(btc, tf, start.Add(15*time.Minute), end.Add(-10*time.Minute))
	got := Detect(series, tf, start, end)
	if len(got) != 2 {
		t.Fatalf("gaps = %v, want leading and trailing", got)
	}
	if !got[0].Start.Equal(start) || got[0].Missing() != 3 {
		t.Errorf("leading gap = %v", got[0])
	}
	if !got[1].End.Equal(end) || got[1].Missing() != 2 {
		t.Errorf("trailing gap = %v", got[1])
	}

	if got := Detect(nil, tf, start, end); len(got) != 1 || got[0].Missing() != 24 {
		t.Errorf("empty series gaps = %v, want the whole range", got)
	}
	if got := Detect(nil, tf, end, start); got != nil {
		t.Errorf("inverted range gaps = %v", got)
	}
}

// go test -v --run TestDetectIgnoresDuplicatesAndOutOfRange
func TestDetectIgnoresDuplicatesAndOutOfRange(t *testing.T) {
	tf := catalog.MustLookup(kline.Interval1m)
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Minute)

	series := klinetest.Range(btc, tf, start.Add(-5*time.Minute), end.Add(5*time.Minute))
	series = append(series[:8], append([]kline.Candle{series[7]}, series[8:]...)...)

	if got := Detect(series, tf, start, end); len(got) != 0 {
		t.Errorf("gaps = %v, want none", got)
	}
}

// go test -v --run TestDetectSubMinuteAndMonthly
func TestDetectSubMinuteAndMonthly(t *testing.T) {
	sec := catalog.MustLookup(kline.Interval1s)
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)
	series := klinetest.Drop(klinetest.Range(btc, sec, start, end), start.Add(10*time.Second), start.Add(12*time.Second))
	got := Detect(series, sec, start, end)
	if len(got) != 1 || got[0].Missing() != 2 {
		t.Errorf("1s gaps = %v, want one gap of 2", got)
	}

	month := catalog.MustLookup(kline.Interval1M)
	mStart := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	mEnd := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	full := klinetest.Range(btc, month, mStart, mEnd)
	if len(full) != 12 {
		t.Fatalf("monthly fixture = %d", len(full))
	}
	if got := Detect(full, month, mStart, mEnd); len(got) != 0 {
		t.Errorf("monthly gaps = %v, want none across unequal month lengths", got)
	}
	feb := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	got = Detect(klinetest.Drop(full, feb, feb.AddDate(0, 2, 0)), month, mStart, mEnd)
	if len(got) != 1 || got[0].Missing() != 2 || !got[0].Start.Equal(feb) {
		t.Errorf("monthly gap = %v, want Feb-Mar", got)
	}
}

// go test -v --run TestCompleteness
func TestCompleteness(t *testing.T) {
	tf := catalog.MustLookup(kline.Interval1h)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(100 * time.Hour)
	series := klinetest.Drop(klinetest.Range(btc, tf, start, end), start, start.Add(25*time.Hour))

	gaps := Detect(series, tf, start, end)
	if Missing(gaps) != 25 {
		t.Errorf("missing = %d, want 25", Missing(gaps))
	}
	if got := Completeness(gaps, tf, start, end); got != 0.75 {
		t.Errorf("completeness = %v, want 0.75", got)
	}
	if got := Completeness(nil, tf, start, start); got != 1 {
		t.Errorf("empty range completeness = %v", got)
	}
}

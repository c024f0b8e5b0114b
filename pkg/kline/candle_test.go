package kline

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func validCandle(open time.Time) Candle {
	d := decimal.RequireFromString
	return Candle{
		Instrument:    Instrument{Symbol: "BTCUSDT", Market: Spot},
		Interval:      Interval1h,
		Source:        SourceArchiveMonthly,
		OpenTime:      open,
		CloseTime:     open.Add(time.Hour - time.Millisecond),
		Open:          d("42000.10"),
		High:          d("42100"),
		Low:           d("41900.5"),
		Close:         d("42050"),
		Volume:        d("12.5"),
		QuoteVolume:   d("525000"),
		Trades:        1200,
		TakerBuyBase:  d("6.1"),
		TakerBuyQuote: d("256000"),
	}
}

// go test -v --run TestCandleValidate
func TestCandleValidate(t *testing.T) {
	open := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		mutate  func(c *Candle)
		wantErr bool
	}{
		{"valid", func(c *Candle) {}, false},
		{"close before open", func(c *Candle) { c.CloseTime = c.OpenTime }, true},
		{"high below close", func(c *Candle) { c.High = decimal.RequireFromString("42000") }, true},
		{"low above open", func(c *Candle) { c.Low = decimal.RequireFromString("42010") }, true},
		{"negative volume", func(c *Candle) { c.Volume = decimal.RequireFromString("-1") }, true},
		{"negative trades", func(c *Candle) { c.Trades = -1 }, true},
		{"taker base above volume", func(c *Candle) { c.TakerBuyBase = decimal.RequireFromString("12.6") }, true},
		{"taker quote above quote volume", func(c *Candle) { c.TakerBuyQuote = decimal.RequireFromString("525000.01") }, true},
		{"flat candle", func(c *Candle) {
			p := decimal.RequireFromString("1")
			c.Open, c.High, c.Low, c.Close = p, p, p, p
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCandle(open)
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCandle) {
					t.Fatalf("Validate() = %v, want ErrInvalidCandle", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error: %v", err)
			}
		})
	}
}

// go test -v --run TestMergePrefersIncoming
func TestMergePrefersIncoming(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	existing := []Candle{validCandle(base.Add(2 * time.Hour)), validCandle(base)}
	replacement := validCandle(base)
	replacement.Source = SourceLiveAPI
	incoming := []Candle{replacement, validCandle(base.Add(time.Hour))}

	merged := Merge(existing, incoming)
	if len(merged) != 3 {
		t.Fatalf("merged len = %d, want 3", len(merged))
	}
	for i := 1; i < len(merged); i++ {
		if !merged[i].OpenTime.After(merged[i-1].OpenTime) {
			t.Fatalf("merged not strictly ascending at %d", i)
		}
	}
	if merged[0].Source != SourceLiveAPI {
		t.Errorf("merged[0].Source = %s, want incoming %s", merged[0].Source, SourceLiveAPI)
	}
}

// go test -v --run TestWithin
func TestWithin(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := []Candle{validCandle(base), validCandle(base.Add(time.Hour)), validCandle(base.Add(2 * time.Hour))}

	got := Within(candles, base.Add(time.Hour), base.Add(2*time.Hour))
	if len(got) != 1 || !got[0].OpenTime.Equal(base.Add(time.Hour)) {
		t.Fatalf("Within returned %d candles", len(got))
	}
}

package version

import (
	"testing"
	"time"

	"klinecollector/pkg/kline"
	"klinecollector/pkg/kline/klinetest"

	"github.com/shopspring/decimal"
)

var (
	catalog = kline.NewCatalog()
	hourly  = catalog.MustLookup(kline.Interval1h)
	btc     = kline.Instrument{Symbol: "BTCUSDT", Market: kline.Spot}
	open    = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

// go test -v --run TestOfDeterministic
func TestOfDeterministic(t *testing.T) {
	a := klinetest.Candle(btc, hourly, open)
	b := klinetest.Candle(btc, hourly, open)
	if Of(a) != Of(b) {
		t.Fatal("identical candles must share a version")
	}

	// provenance and funding do not change content
	b.Source = kline.SourceLiveAPI
	b.FundingRate = decimal.NewNullDecimal(decimal.RequireFromString("0.0001"))
	if Of(a) != Of(b) {
		t.Error("source or funding changed the version")
	}

	// equal decimals with different scale print differently; rows parsed from
	// the same text hash the same
	c := a
	c.Open = decimal.RequireFromString(a.Open.String())
	if Of(a) != Of(c) {
		t.Error("reparsed decimal changed the version")
	}
}

// go test -v --run TestOfPerturbation
func TestOfPerturbation(t *testing.T) {
	base := klinetest.Candle(btc, hourly, open)
	one := decimal.RequireFromString("0.00000001")

	tests := []struct {
		name   string
		mutate func(c *kline.Candle)
	}{
		{"open time", func(c *kline.Candle) { c.OpenTime = c.OpenTime.Add(time.Microsecond) }},
		{"close time", func(c *kline.Candle) { c.CloseTime = c.CloseTime.Add(time.Microsecond) }},
		{"open", func(c *kline.Candle) { c.Open = c.Open.Add(one) }},
		{"high", func(c *kline.Candle) { c.High = c.High.Add(one) }},
		{"low", func(c *kline.Candle) { c.Low = c.Low.Sub(one) }},
		{"close", func(c *kline.Candle) { c.Close = c.Close.Add(one) }},
		{"volume", func(c *kline.Candle) { c.Volume = c.Volume.Add(one) }},
		{"quote volume", func(c *kline.Candle) { c.QuoteVolume = c.QuoteVolume.Add(one) }},
		{"trades", func(c *kline.Candle) { c.Trades++ }},
		{"taker base", func(c *kline.Candle) { c.TakerBuyBase = c.TakerBuyBase.Add(one) }},
		{"taker quote", func(c *kline.Candle) { c.TakerBuyQuote = c.TakerBuyQuote.Add(one) }},
		{"symbol", func(c *kline.Candle) { c.Instrument.Symbol = "ETHUSDT" }},
		{"interval", func(c *kline.Candle) { c.Interval = kline.Interval2h }},
		{"market", func(c *kline.Candle) { c.Instrument.Market = kline.USDMFutures }},
	}
	seen := map[uint64]string{Of(base): "base"}
	for _, tt := range tests {
		c := base
		tt.mutate(&c)
		v := Of(c)
		if prev, ok := seen[v]; ok {
			t.Errorf("%s collides with %s", tt.name, prev)
		}
		seen[v] = tt.name
	}
}

// go test -v --run TestApply
func TestApply(t *testing.T) {
	series := klinetest.Series(btc, hourly, open, 48)
	versioned := Apply(series)
	if len(versioned) != len(series) {
		t.Fatalf("len = %d", len(versioned))
	}
	seen := make(map[uint64]bool)
	for i, v := range versioned {
		if v.Version != Of(series[i]) {
			t.Errorf("version %d mismatch", i)
		}
		if seen[v.Version] {
			t.Errorf("duplicate version at %d", i)
		}
		seen[v.Version] = true
	}
}

package normalize

import (
	"errors"
	"testing"
	"time"

	"klinecollector/pkg/kline"

	"go.uber.org/zap"
)

var (
	catalog = kline.NewCatalog()
	hourly  = catalog.MustLookup(kline.Interval1h)
)

func hint(m kline.Market) Hint {
	return Hint{
		Instrument: kline.Instrument{Symbol: "BTCUSDT", Market: m},
		Timeframe:  hourly,
		Source:     kline.SourceArchiveMonthly,
	}
}

// go test -v --run TestNormalizeSchemaVariants
func TestNormalizeSchemaVariants(t *testing.T) {
	n := New(zap.NewNop())

	spotRows := [][]string{
		{"1704067200000", "42283.58", "42554.57", "42261.02", "42475.23", "1271.68108", "1704070799999", "53957248.99", "47134", "682.57581", "28957416.81"},
		{"1704070800000", "42475.23", "42775.00", "42431.65", "42613.56", "1196.37856", "1704074399999", "50984893.26", "44439", "636.13604", "27110577.77"},
	}
	derivRows := [][]string{
		{"open_time", "open", "high", "low", "close", "volume", "close_time", "quote_volume", "count", "taker_buy_volume", "taker_buy_quote_volume", "ignore"},
		{"1704067200000", "42283.58", "42554.57", "42261.02", "42475.23", "1271.68108", "1704070799999", "53957248.99", "47134", "682.57581", "28957416.81", "0"},
		{"1704070800000", "42475.23", "42775.00", "42431.65", "42613.56", "1196.37856", "1704074399999", "50984893.26", "44439", "636.13604", "27110577.77", "0"},
	}

	spot, rej := n.Normalize(spotRows, hint(kline.Spot))
	if len(rej) != 0 {
		t.Fatalf("spot rejections: %v", rej)
	}
	deriv, rej := n.Normalize(derivRows, hint(kline.USDMFutures))
	if len(rej) != 0 {
		t.Fatalf("derivative rejections: %v", rej)
	}
	if len(spot) != 2 || len(deriv) != 2 {
		t.Fatalf("lens = %d/%d, want 2/2", len(spot), len(deriv))
	}

	for i := range spot {
		a, b := spot[i], deriv[i]
		if !a.OpenTime.Equal(b.OpenTime) || !a.CloseTime.Equal(b.CloseTime) {
			t.Errorf("row %d times differ: %v/%v vs %v/%v", i, a.OpenTime, a.CloseTime, b.OpenTime, b.CloseTime)
		}
		if !a.Open.Equal(b.Open) || !a.High.Equal(b.High) || !a.Low.Equal(b.Low) || !a.Close.Equal(b.Close) {
			t.Errorf("row %d prices differ", i)
		}
		if !a.Volume.Equal(b.Volume) || !a.QuoteVolume.Equal(b.QuoteVolume) || a.Trades != b.Trades ||
			!a.TakerBuyBase.Equal(b.TakerBuyBase) || !a.TakerBuyQuote.Equal(b.TakerBuyQuote) {
			t.Errorf("row %d volumes differ", i)
		}
	}
	if spot[0].Instrument.Market != kline.Spot || deriv[0].Instrument.Market != kline.USDMFutures {
		t.Error("market tag not carried from hint")
	}
}

// go test -v --run TestNormalizeTimestampPrecision
func TestNormalizeTimestampPrecision(t *testing.T) {
	n := New(zap.NewNop())
	open := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	msRows := [][]string{{"1735689600000", "1", "2", "0.5", "1.5", "10", "1735693199999", "15", "3", "5", "7"}}
	usRows := [][]string{{"1735689600000000", "1", "2", "0.5", "1.5", "10", "1735693199999999", "15", "3", "5", "7"}}

	ms, _ := n.Normalize(msRows, hint(kline.Spot))
	us, _ := n.Normalize(usRows, hint(kline.Spot))
	if len(ms) != 1 || len(us) != 1 {
		t.Fatalf("lens = %d/%d", len(ms), len(us))
	}
	if !ms[0].OpenTime.Equal(open) || !us[0].OpenTime.Equal(open) {
		t.Errorf("open times = %v / %v, want %v", ms[0].OpenTime, us[0].OpenTime, open)
	}
	if got := us[0].CloseTime.Sub(open); got != time.Hour-time.Microsecond {
		t.Errorf("microsecond close offset = %v", got)
	}
	if got := ms[0].CloseTime.Sub(open); got != time.Hour-time.Millisecond {
		t.Errorf("millisecond close offset = %v", got)
	}
	if ms[0].OpenTime.Location() != time.UTC {
		t.Error("times must be UTC")
	}
}

// go test -v --run TestNormalizeRejectsInvalidRows
func TestNormalizeRejectsInvalidRows(t *testing.T) {
	n := New(zap.NewNop())

	rows := [][]string{
		{"open_time", "open", "high", "low", "close", "volume", "close_time", "quote_volume", "count", "taker_buy_volume", "taker_buy_quote_volume", "ignore"},
		{"1704067200000", "10", "11", "9", "10.5", "100", "1704070799999", "1000", "10", "50", "500", "0"},
		// taker buy base above total volume
		{"1704070800000", "10", "11", "9", "10.5", "100", "1704074399999", "1000", "10", "150", "500", "0"},
		// wrong width
		{"1704074400000", "10", "11", "9", "10.5", "100", "1704077999999", "1000"},
		// unparseable price
		{"1704078000000", "ten", "11", "9", "10.5", "100", "1704081599999", "1000", "10", "50", "500", "0"},
		{"", ""},
		{"1704081600000", "10", "11", "9", "10.5", "100", "1704085199999", "1000", "10", "50", "500", "0"},
	}

	candles, rej := n.Normalize(rows, hint(kline.USDMFutures))
	if len(candles) != 2 {
		t.Fatalf("accepted = %d, want 2", len(candles))
	}
	if len(rej) != 3 {
		t.Fatalf("rejected = %d, want 3", len(rej))
	}
	for _, r := range rej {
		if !errors.Is(r.Err, kline.ErrInvalidCandle) {
			t.Errorf("line %d: error %v does not wrap ErrInvalidCandle", r.Line, r.Err)
		}
	}
	if rej[0].Line != 3 || rej[0].Raw[9] != "150" {
		t.Errorf("first rejection = line %d raw %v", rej[0].Line, rej[0].Raw)
	}
}

// go test -v --run TestEpochToTime
func TestEpochToTime(t *testing.T) {
	if got := EpochToTime(1704067200000); !got.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("ms epoch = %v", got)
	}
	if got := EpochToTime(1704067200000123); !got.Equal(time.Date(2024, 1, 1, 0, 0, 0, 123000, time.UTC)) {
		t.Errorf("us epoch = %v", got)
	}
}

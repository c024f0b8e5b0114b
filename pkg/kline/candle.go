package kline

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidCandle is returned when a candle violates the OHLCV invariants.
var ErrInvalidCandle = errors.New("invalid candle")

// Source tags which retrieval path produced a candle.
type Source string

const (
	SourceArchiveMonthly Source = "archive-monthly"
	SourceArchiveDaily   Source = "archive-daily"
	SourceLiveAPI        Source = "live-api"
)

// Candle is a single closed interval of one instrument. Times are UTC with
// microsecond precision.
type Candle struct {
	Instrument Instrument `json:"instrument"`
	Interval   Interval   `json:"interval"`
	Source     Source     `json:"source"`

	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`

	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`

	Volume        decimal.Decimal `json:"volume"`          // base asset volume
	QuoteVolume   decimal.Decimal `json:"quote_volume"`    // quote asset volume
	Trades        int64           `json:"trades"`          // number of trades
	TakerBuyBase  decimal.Decimal `json:"taker_buy_base"`  // taker buy base asset volume
	TakerBuyQuote decimal.Decimal `json:"taker_buy_quote"` // taker buy quote asset volume

	// FundingRate is set only on derivative candles whose interval contains a
	// funding settlement.
	FundingRate decimal.NullDecimal `json:"funding_rate"`
}

// Key returns the stream the candle belongs to.
func (c Candle) Key() StreamKey {
	return StreamKey{Instrument: c.Instrument, Interval: c.Interval}
}

// Validate checks the candle invariants and wraps ErrInvalidCandle on failure.
func (c Candle) Validate() error {
	switch {
	case !c.CloseTime.After(c.OpenTime):
		return fmt.Errorf("%w: close time %s not after open time %s",
			ErrInvalidCandle, c.CloseTime.Format(time.RFC3339Nano), c.OpenTime.Format(time.RFC3339Nano))
	case c.High.LessThan(decimal.Max(c.Open, c.Close)):
		return fmt.Errorf("%w: high %s below max(open, close)", ErrInvalidCandle, c.High)
	case c.Low.GreaterThan(decimal.Min(c.Open, c.Close)):
		return fmt.Errorf("%w: low %s above min(open, close)", ErrInvalidCandle, c.Low)
	case c.Volume.IsNegative(), c.QuoteVolume.IsNegative(),
		c.TakerBuyBase.IsNegative(), c.TakerBuyQuote.IsNegative():
		return fmt.Errorf("%w: negative volume", ErrInvalidCandle)
	case c.Trades < 0:
		return fmt.Errorf("%w: negative trade count %d", ErrInvalidCandle, c.Trades)
	case c.TakerBuyBase.GreaterThan(c.Volume):
		return fmt.Errorf("%w: taker buy base volume %s exceeds volume %s", ErrInvalidCandle, c.TakerBuyBase, c.Volume)
	case c.TakerBuyQuote.GreaterThan(c.QuoteVolume):
		return fmt.Errorf("%w: taker buy quote volume %s exceeds quote volume %s", ErrInvalidCandle, c.TakerBuyQuote, c.QuoteVolume)
	}
	return nil
}

// VersionedCandle is a candle paired with its content-derived version.
type VersionedCandle struct {
	Candle
	Version uint64
}

// Merge combines two candle sets of the same stream into one sorted by open
// time with unique open times. Incoming candles replace existing ones that
// share an open time.
func Merge(existing, incoming []Candle) []Candle {
	byOpen := make(map[int64]Candle, len(existing)+len(incoming))
	for _, c := range existing {
		byOpen[c.OpenTime.UnixMicro()] = c
	}
	for _, c := range incoming {
		byOpen[c.OpenTime.UnixMicro()] = c
	}

	merged := make([]Candle, 0, len(byOpen))
	for _, c := range byOpen {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].OpenTime.Before(merged[j].OpenTime)
	})
	return merged
}

// Within returns the candles whose open time falls in [start, end).
func Within(candles []Candle, start, end time.Time) []Candle {
	out := make([]Candle, 0, len(candles))
	for _, c := range candles {
		if c.OpenTime.Before(start) || !c.OpenTime.Before(end) {
			continue
		}
		out = append(out, c)
	}
	return out
}

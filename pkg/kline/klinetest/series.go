// Package klinetest builds deterministic candle fixtures for tests.
package klinetest

import (
	"fmt"
	"time"

	"klinecollector/pkg/kline"

	"github.com/shopspring/decimal"
)

// Candle returns a valid candle opening at open. Prices derive from the
// open time so distinct candles have distinct content.
func Candle(inst kline.Instrument, tf kline.Timeframe, open time.Time) kline.Candle {
	n := open.Unix() / 60 % 1000
	base := decimal.NewFromInt(40000 + n)
	volume := decimal.NewFromInt(10 + n%7)
	return kline.Candle{
		Instrument:    inst,
		Interval:      tf.Interval,
		Source:        kline.SourceArchiveMonthly,
		OpenTime:      open,
		CloseTime:     tf.Next(open).Add(-time.Millisecond),
		Open:          base,
		High:          base.Add(decimal.NewFromInt(25)),
		Low:           base.Sub(decimal.NewFromInt(25)),
		Close:         base.Add(decimal.NewFromInt(5)),
		Volume:        volume,
		QuoteVolume:   volume.Mul(base),
		Trades:        100 + n,
		TakerBuyBase:  volume.Div(decimal.NewFromInt(2)),
		TakerBuyQuote: volume.Mul(base).Div(decimal.NewFromInt(2)),
	}
}

// Series returns n contiguous candles starting at start.
func Series(inst kline.Instrument, tf kline.Timeframe, start time.Time, n int) []kline.Candle {
	out := make([]kline.Candle, 0, n)
	for open := start; len(out) < n; open = tf.Next(open) {
		out = append(out, Candle(inst, tf, open))
	}
	return out
}

// Range returns the candles opening in [start, end).
func Range(inst kline.Instrument, tf kline.Timeframe, start, end time.Time) []kline.Candle {
	return Series(inst, tf, start, tf.Count(start, end))
}

// Drop removes the candles opening in [start, end).
func Drop(candles []kline.Candle, start, end time.Time) []kline.Candle {
	out := make([]kline.Candle, 0, len(candles))
	for _, c := range candles {
		if !c.OpenTime.Before(start) && c.OpenTime.Before(end) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Row renders a candle as an archive/API row with millisecond epochs. With
// sentinel the trailing "ignore" column of derivative rows is appended.
func Row(c kline.Candle, sentinel bool) []string {
	row := []string{
		fmt.Sprint(c.OpenTime.UnixMilli()),
		c.Open.String(),
		c.High.String(),
		c.Low.String(),
		c.Close.String(),
		c.Volume.String(),
		fmt.Sprint(c.CloseTime.UnixMilli()),
		c.QuoteVolume.String(),
		fmt.Sprint(c.Trades),
		c.TakerBuyBase.String(),
		c.TakerBuyQuote.String(),
	}
	if sentinel {
		row = append(row, "0")
	}
	return row
}

// Rows renders candles with Row.
func Rows(candles []kline.Candle, sentinel bool) [][]string {
	out := make([][]string, len(candles))
	for i, c := range candles {
		out[i] = Row(c, sentinel)
	}
	return out
}

package localstore

import (
	"fmt"
	"time"

	"klinecollector/pkg/kline"

	"github.com/shopspring/decimal"
)

// Record is the on-disk parquet schema of one candle. Decimals are stored
// as their exact text so a round trip never changes a value.
type Record struct {
	Market        string  `parquet:"market"`
	Symbol        string  `parquet:"symbol"`
	Interval      string  `parquet:"interval"`
	Source        string  `parquet:"source"`
	OpenTime      int64   `parquet:"open_time,timestamp(microsecond)"`  // Unix µs
	CloseTime     int64   `parquet:"close_time,timestamp(microsecond)"` // Unix µs
	Open          string  `parquet:"open"`
	High          string  `parquet:"high"`
	Low           string  `parquet:"low"`
	Close         string  `parquet:"close"`
	Volume        string  `parquet:"volume"`
	QuoteVolume   string  `parquet:"quote_volume"`
	Trades        int64   `parquet:"trades"`
	TakerBuyBase  string  `parquet:"taker_buy_base"`
	TakerBuyQuote string  `parquet:"taker_buy_quote"`
	FundingRate   *string `parquet:"funding_rate,optional"`
}

func toRecord(c kline.Candle) Record {
	r := Record{
		Market:        c.Instrument.Market.String(),
		Symbol:        c.Instrument.Symbol,
		Interval:      string(c.Interval),
		Source:        string(c.Source),
		OpenTime:      c.OpenTime.UnixMicro(),
		CloseTime:     c.CloseTime.UnixMicro(),
		Open:          c.Open.String(),
		High:          c.High.String(),
		Low:           c.Low.String(),
		Close:         c.Close.String(),
		Volume:        c.Volume.String(),
		QuoteVolume:   c.QuoteVolume.String(),
		Trades:        c.Trades,
		TakerBuyBase:  c.TakerBuyBase.String(),
		TakerBuyQuote: c.TakerBuyQuote.String(),
	}
	if c.FundingRate.Valid {
		s := c.FundingRate.Decimal.String()
		r.FundingRate = &s
	}
	return r
}

func fromRecord(r Record) (kline.Candle, error) {
	market, err := kline.ParseMarket(r.Market)
	if err != nil {
		return kline.Candle{}, err
	}

	var perr error
	dec := func(s string) decimal.Decimal {
		d, err := decimal.NewFromString(s)
		if err != nil && perr == nil {
			perr = fmt.Errorf("record %d: %w", r.OpenTime, err)
		}
		return d
	}

	c := kline.Candle{
		Instrument:    kline.Instrument{Symbol: r.Symbol, Market: market},
		Interval:      kline.Interval(r.Interval),
		Source:        kline.Source(r.Source),
		OpenTime:      time.UnixMicro(r.OpenTime).UTC(),
		CloseTime:     time.UnixMicro(r.CloseTime).UTC(),
		Open:          dec(r.Open),
		High:          dec(r.High),
		Low:           dec(r.Low),
		Close:         dec(r.Close),
		Volume:        dec(r.Volume),
		QuoteVolume:   dec(r.QuoteVolume),
		Trades:        r.Trades,
		TakerBuyBase:  dec(r.TakerBuyBase),
		TakerBuyQuote: dec(r.TakerBuyQuote),
	}
	if r.FundingRate != nil {
		c.FundingRate = decimal.NewNullDecimal(dec(*r.FundingRate))
	}
	return c, perr
}

// Package normalize turns raw archive and API rows into validated candles.
package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"klinecollector/pkg/kline"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Epoch values at or above this are microseconds. Millisecond timestamps do
// not reach it until the year 5138.
const microThreshold = 1e14

// Row layout shared by archives and the klines endpoint.
const (
	colOpenTime = iota
	colOpen
	colHigh
	colLow
	colClose
	colVolume
	colCloseTime
	colQuoteVolume
	colTrades
	colTakerBuyBase
	colTakerBuyQuote
	colSentinel // "ignore" column in derivative archives and API rows
)

// Hint describes what the rows are expected to be.
type Hint struct {
	Instrument kline.Instrument
	Timeframe  kline.Timeframe
	Source     kline.Source
}

// Rejection is a row that failed parsing or the candle invariants.
type Rejection struct {
	Line int
	Raw  []string
	Err  error
}

type Normalizer struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize parses rows into candles. It accepts rows with or without a header
// and with 11 or 12 columns (the 12th is dropped), and converts millisecond or
// microsecond epochs to microsecond UTC times. Invalid rows are logged with
// their content and returned as rejections; the rest of the batch continues.
func (n *Normalizer) Normalize(rows [][]string, hint Hint) ([]kline.Candle, []Rejection) {
	candles := make([]kline.Candle, 0, len(rows))
	var rejections []Rejection

	first := true
	for i, row := range rows {
		if isBlank(row) {
			continue
		}
		if first {
			first = false
			if isHeader(row) {
				continue
			}
		}

		c, err := parseRow(row, hint)
		if err == nil {
			err = c.Validate()
		}
		if err != nil {
			rejections = append(rejections, Rejection{Line: i + 1, Raw: row, Err: err})
			n.logger.Warn("rejected row",
				zap.String("stream", kline.StreamKey{Instrument: hint.Instrument, Interval: hint.Timeframe.Interval}.String()),
				zap.String("source", string(hint.Source)),
				zap.Int("line", i+1),
				zap.Strings("row", row),
				zap.Error(err),
			)
			continue
		}
		candles = append(candles, c)
	}

	return candles, rejections
}

func isBlank(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// isHeader reports whether the first field is not an epoch number.
func isHeader(row []string) bool {
	_, err := strconv.ParseInt(strings.TrimSpace(row[colOpenTime]), 10, 64)
	return err != nil
}

func parseRow(row []string, hint Hint) (kline.Candle, error) {
	switch len(row) {
	case colSentinel, colSentinel + 1:
	default:
		return kline.Candle{}, fmt.Errorf("%w: %d columns, want 11 or 12", kline.ErrInvalidCandle, len(row))
	}

	p := fieldParser{row: row}
	c := kline.Candle{
		Instrument:    hint.Instrument,
		Interval:      hint.Timeframe.Interval,
		Source:        hint.Source,
		OpenTime:      p.epoch(colOpenTime),
		Open:          p.dec(colOpen),
		High:          p.dec(colHigh),
		Low:           p.dec(colLow),
		Close:         p.dec(colClose),
		Volume:        p.dec(colVolume),
		CloseTime:     p.epoch(colCloseTime),
		QuoteVolume:   p.dec(colQuoteVolume),
		Trades:        p.integer(colTrades),
		TakerBuyBase:  p.dec(colTakerBuyBase),
		TakerBuyQuote: p.dec(colTakerBuyQuote),
	}
	if p.err != nil {
		return kline.Candle{}, fmt.Errorf("%w: %v", kline.ErrInvalidCandle, p.err)
	}
	return c, nil
}

// fieldParser keeps the first error so a row parses in one pass.
type fieldParser struct {
	row []string
	err error
}

func (p *fieldParser) field(i int) string {
	return strings.TrimSpace(p.row[i])
}

func (p *fieldParser) integer(i int) int64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseInt(p.field(i), 10, 64)
	if err != nil {
		p.err = fmt.Errorf("column %d: %w", i, err)
	}
	return v
}

func (p *fieldParser) epoch(i int) time.Time {
	v := p.integer(i)
	if p.err != nil {
		return time.Time{}
	}
	return EpochToTime(v)
}

func (p *fieldParser) dec(i int) decimal.Decimal {
	if p.err != nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(p.field(i))
	if err != nil {
		p.err = fmt.Errorf("column %d: %w", i, err)
	}
	return d
}

// EpochToTime converts a millisecond or microsecond epoch to UTC.
func EpochToTime(v int64) time.Time {
	if v >= microThreshold {
		return time.UnixMicro(v).UTC()
	}
	return time.UnixMilli(v).UTC()
}

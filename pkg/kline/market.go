package kline

import (
	"fmt"
	"strings"
)

// Market is the instrument classification. It decides archive layout, row
// schema, REST endpoints and funding support.
type Market uint8

const (
	Spot Market = iota + 1
	USDMFutures
	CoinMFutures
)

// Markets returns every supported market kind.
func Markets() []Market {
	return []Market{Spot, USDMFutures, CoinMFutures}
}

func (m Market) String() string {
	switch m {
	case Spot:
		return "spot"
	case USDMFutures:
		return "um"
	case CoinMFutures:
		return "cm"
	}
	return fmt.Sprintf("Market(%d)", uint8(m))
}

// ParseMarket accepts the short names ("spot", "um", "cm") and the archive
// path forms ("futures/um", "futures/cm").
func ParseMarket(s string) (Market, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spot":
		return Spot, nil
	case "um", "futures/um", "usdm":
		return USDMFutures, nil
	case "cm", "futures/cm", "coinm":
		return CoinMFutures, nil
	}
	names := make([]string, 0, len(Markets()))
	for _, m := range Markets() {
		names = append(names, m.String())
	}
	return 0, fmt.Errorf("invalid market: %q, want one of %s", s, strings.Join(names, ", "))
}

// IsDerivative reports whether the market is a margined derivative market.
func (m Market) IsDerivative() bool {
	switch m {
	case Spot:
		return false
	case USDMFutures, CoinMFutures:
		return true
	}
	panic(fmt.Sprintf("kline: unknown market %d", uint8(m)))
}

// ArchiveColumns is the raw column count archives of this market carry.
// Derivative archives append a trailing sentinel column.
func (m Market) ArchiveColumns() int {
	if m.IsDerivative() {
		return 12
	}
	return 11
}

// Supports reports whether the market publishes the given timeframe.
func (m Market) Supports(tf Timeframe) bool {
	return !tf.SpotOnly || m == Spot
}

// Instrument is a tradable symbol on one market.
type Instrument struct {
	Symbol string
	Market Market
}

func (i Instrument) String() string {
	return i.Market.String() + ":" + i.Symbol
}

// StreamKey identifies one (instrument, interval) series.
type StreamKey struct {
	Instrument
	Interval Interval
}

func (k StreamKey) String() string {
	return k.Instrument.String() + ":" + string(k.Interval)
}

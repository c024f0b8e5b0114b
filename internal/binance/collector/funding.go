package collector

import (
	"fmt"
	"sort"
	"time"

	"klinecollector/pkg/binance"
	"klinecollector/pkg/kline"

	"github.com/shopspring/decimal"
)

// attachFunding sets the funding rate on the candle whose interval contains
// each settlement. When an interval holds several settlements the latest
// one is kept. Candles without a settlement are left null. candles must be
// sorted by open time.
func attachFunding(candles []kline.Candle, rates []binance.FundingRate, tf kline.Timeframe) (int, error) {
	sorted := make([]binance.FundingRate, len(rates))
	copy(sorted, rates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FundingTime < sorted[j].FundingTime })

	attached := make(map[int]struct{})
	for _, r := range sorted {
		at := time.UnixMilli(r.FundingTime).UTC()
		i := sort.Search(len(candles), func(i int) bool {
			return candles[i].OpenTime.After(at)
		}) - 1
		if i < 0 || !at.Before(tf.Next(candles[i].OpenTime)) {
			continue
		}
		rate, err := decimal.NewFromString(r.FundingRate)
		if err != nil {
			return len(attached), fmt.Errorf("funding rate %q at %s: %w", r.FundingRate, at.Format(time.RFC3339), err)
		}
		candles[i].FundingRate = decimal.NewNullDecimal(rate)
		attached[i] = struct{}{}
	}
	return len(attached), nil
}

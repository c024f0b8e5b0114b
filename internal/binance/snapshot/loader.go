package snapshot

import (
	"context"
	"time"

	"klinecollector/pkg/kline"

	"go.uber.org/zap"
)

// SymbolLister lists the trading symbols of a market quoted in one asset.
type SymbolLister interface {
	GetSymbols(ctx context.Context, market kline.Market, quote string) ([]string, error)
}

type SymbolLoader struct {
	Market     kline.Market
	Quote      string
	Timeout    time.Duration
	RestClient SymbolLister
	Logger     *zap.Logger
}

// LoadSymbols fetches the market's trading symbols for the quote asset and
// streams them into the provided channel. The channel is closed on return.
// The REST request is bounded by l.Timeout.
func (l *SymbolLoader) LoadSymbols(ctx context.Context, ch chan<- string) error {
	defer close(ch) // Ensure downstream consumers can exit cleanly

	reqCtx, cancel := context.WithTimeout(ctx, l.Timeout)
	symbols, err := l.RestClient.GetSymbols(reqCtx, l.Market, l.Quote)
	cancel()
	if err != nil {
		l.Logger.Error("failed to load symbols",
			zap.String("market", l.Market.String()),
			zap.String("quote", l.Quote),
			zap.Error(err),
		)
		return err
	}
	l.Logger.Info("loaded symbols",
		zap.String("market", l.Market.String()),
		zap.Int("count", len(symbols)),
	)

	for _, symbol := range symbols {
		select {
		case ch <- symbol:
		case <-ctx.Done():
			l.Logger.Warn("symbol streaming interrupted", zap.Error(ctx.Err()))
			return ctx.Err()
		}
	}

	return nil
}

// Package backfill closes gaps from the live klines API. It never
// synthesizes a candle: whatever the API does not return stays a gap.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"klinecollector/internal/gaps"
	"klinecollector/internal/normalize"
	"klinecollector/pkg/binance"
	"klinecollector/pkg/kline"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// KlineAPI is the live market-data endpoint.
type KlineAPI interface {
	GetKlines(ctx context.Context, req binance.KlineRequest) ([][]string, error)
}

type Config struct {
	// Concurrency bounds in-flight API calls across every stream. Callers
	// above the bound wait their turn.
	Concurrency int
	// RequestsPerMinute paces calls; zero disables pacing.
	RequestsPerMinute int
	// PageSize is capped by the market's maximum klines limit.
	PageSize int
	// MaxRetries is the retry budget of a single page for retryable errors.
	MaxRetries    uint64
	RetryInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Concurrency:       2,
		RequestsPerMinute: 600,
		PageSize:          1000,
		MaxRetries:        3,
		RetryInterval:     500 * time.Millisecond,
	}
}

// Result is what a single gap's backfill recovered.
type Result struct {
	Gap      kline.Gap
	Records  []kline.Candle
	Residual []kline.Gap
	Rejected []normalize.Rejection
	Pages    int
	// Err is the API failure that ended paging early, if any.
	Err error
}

// Resolved reports whether the gap was closed completely.
func (r Result) Resolved() bool {
	return len(r.Residual) == 0
}

type Backfiller struct {
	api        KlineAPI
	normalizer *normalize.Normalizer
	cfg        Config
	sem        *semaphore.Weighted
	limiter    *rate.Limiter
	logger     *zap.Logger
}

func New(api KlineAPI, normalizer *normalize.Normalizer, cfg Config, logger *zap.Logger) *Backfiller {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), 1)
	}

	return &Backfiller{
		api:        api,
		normalizer: normalizer,
		cfg:        cfg,
		sem:        semaphore.NewWeighted(int64(cfg.Concurrency)),
		limiter:    limiter,
		logger:     logger,
	}
}

// Backfill requests exactly the gap's range in chronological pages and
// returns the recovered candles plus whatever is still missing. The page
// loop is bounded by the gap's size. A cancelled context returns no records
// and the whole gap as residual together with the context error; other API
// failures end paging and are reported in Result.Err.
func (b *Backfiller) Backfill(ctx context.Context, gap kline.Gap, inst kline.Instrument) (Result, error) {
	res := Result{Gap: gap}
	tf := gap.Timeframe

	limit := b.cfg.PageSize
	if maxLimit := binance.MaxKlineLimit(inst.Market); limit > maxLimit {
		limit = maxLimit
	}
	maxPages := gap.Missing()/limit + 2

	hint := normalize.Hint{Instrument: inst, Timeframe: tf, Source: kline.SourceLiveAPI}
	last := gap.End.Add(-time.Millisecond)

	var recovered []kline.Candle
	cursor := gap.Start
	for res.Pages < maxPages && cursor.Before(gap.End) {
		req := binance.KlineRequest{
			Market: inst.Market,
			Symbol: inst.Symbol,
			Token:  tf.APIToken,
			Start:  cursor,
			End:    last,
			Limit:  limit,
		}
		rows, err := b.page(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return Result{Gap: gap, Residual: []kline.Gap{gap}, Pages: res.Pages}, ctx.Err()
			}
			res.Err = err
			b.logger.Warn("backfill page failed",
				zap.String("instrument", inst.String()),
				zap.String("gap", gap.String()),
				zap.Time("cursor", cursor),
				zap.Error(err),
			)
			break
		}
		res.Pages++
		if len(rows) == 0 {
			break
		}

		candles, rejected := b.normalizer.Normalize(rows, hint)
		res.Rejected = append(res.Rejected, rejected...)
		candles = kline.Within(candles, gap.Start, gap.End)
		if len(candles) == 0 {
			break
		}
		recovered = append(recovered, candles...)

		latest := candles[0].OpenTime
		for _, c := range candles[1:] {
			if c.OpenTime.After(latest) {
				latest = c.OpenTime
			}
		}
		next := tf.Next(latest)
		if !next.After(cursor) {
			break
		}
		cursor = next
		if len(rows) < limit {
			break
		}
	}

	res.Records = kline.Merge(nil, recovered)
	res.Residual = gaps.Detect(res.Records, tf, gap.Start, gap.End)

	b.logger.Debug("backfill finished",
		zap.String("instrument", inst.String()),
		zap.String("gap", gap.String()),
		zap.Int("recovered", len(res.Records)),
		zap.Int("residual", len(res.Residual)),
		zap.Int("pages", res.Pages),
	)
	return res, nil
}

// page fetches one page under the shared concurrency bound and pacing,
// retrying retryable API errors within the configured budget.
func (b *Backfiller) page(ctx context.Context, req binance.KlineRequest) ([][]string, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer b.sem.Release(1)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.cfg.RetryInterval

	var rows [][]string
	err := backoff.RetryNotify(func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		r, err := b.api.GetKlines(ctx, req)
		if err != nil {
			var apiErr *binance.APIError
			if ctx.Err() != nil || (errors.As(err, &apiErr) && !apiErr.IsRetryable()) {
				return backoff.Permanent(err)
			}
			return err
		}
		rows = r
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, b.cfg.MaxRetries), ctx), func(err error, wait time.Duration) {
		b.logger.Info("retrying klines page",
			zap.String("symbol", req.Symbol),
			zap.Time("start", req.Start),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("klines %s %s from %s: %w", req.Symbol, req.Token, req.Start.Format(time.RFC3339), err)
	}
	return rows, nil
}

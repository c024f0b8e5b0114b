package symbolmeta

import (
	"context"
	"time"

	"klinecollector/internal/binance/snapshot"

	"go.uber.org/zap"
)

// MidnightLoader reloads the symbol list once at start and then after every
// UTC midnight, handing each fresh list to a processing function.
type MidnightLoader struct {
	Load func(ctx context.Context) <-chan string
	// Delay is added to midnight before each run, giving the archive time
	// to publish the previous day.
	Delay  time.Duration
	Logger *zap.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

func DefaultLoadFn(loader *snapshot.SymbolLoader) func(ctx context.Context) <-chan string {
	return func(ctx context.Context) <-chan string {
		symbolCh := make(chan string, 100)

		// LoadSymbols logs its own failure and closes symbolCh.
		go loader.LoadSymbols(ctx, symbolCh)

		return symbolCh
	}
}

// StaticLoadFn streams a fixed symbol list.
func StaticLoadFn(symbols []string) func(ctx context.Context) <-chan string {
	return func(ctx context.Context) <-chan string {
		symbolCh := make(chan string, len(symbols))
		for _, s := range symbols {
			symbolCh <- s
		}
		close(symbolCh)
		return symbolCh
	}
}

// NextRun returns the first UTC midnight plus delay strictly after now.
func NextRun(now time.Time, delay time.Duration) time.Time {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	next := midnight.Add(delay)
	for !next.After(now) {
		midnight = midnight.AddDate(0, 0, 1)
		next = midnight.Add(delay)
	}
	return next
}

// Run processes once immediately and then after each UTC midnight until ctx
// is done.
func (m *MidnightLoader) Run(ctx context.Context, proc func(context.Context, <-chan string)) error {
	now, after := m.now, m.after
	if now == nil {
		now = time.Now
	}
	if after == nil {
		after = time.After
	}

	// Run immediately once at startup
	m.runOnce(ctx, proc)

	for {
		next := NextRun(now(), m.Delay)
		if m.Logger != nil {
			m.Logger.Info("next scheduled run", zap.Time("at", next))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-after(next.Sub(now())):
			m.runOnce(ctx, proc)
		}
	}
}

func (m *MidnightLoader) runOnce(ctx context.Context, proc func(context.Context, <-chan string)) {
	symbolCh := m.Load(ctx)
	proc(ctx, symbolCh)
}

// Package collector runs the per-stream pipeline: plan archive units, fetch
// and normalize them, detect gaps, backfill from the live API, then hand the
// complete series to the local writer and the bulk loader.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"klinecollector/internal/backfill"
	"klinecollector/internal/binance/memorystore"
	"klinecollector/internal/binance/source"
	"klinecollector/internal/gaps"
	"klinecollector/internal/localstore"
	"klinecollector/internal/normalize"
	"klinecollector/internal/version"
	"klinecollector/pkg/binance"
	"klinecollector/pkg/kline"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

type ArchiveFetcher interface {
	FetchRows(ctx context.Context, address string) ([][]string, error)
}

type GapFiller interface {
	Backfill(ctx context.Context, gap kline.Gap, inst kline.Instrument) (backfill.Result, error)
}

// Loader is the bulk loader of the analytical store.
type Loader interface {
	Load(ctx context.Context, candles []kline.VersionedCandle) (int, error)
}

type LocalWriter interface {
	Merge(inst kline.Instrument, tf kline.Timeframe, incoming []kline.Candle, stats localstore.Stats) (localstore.MergeResult, error)
}

type FundingSource interface {
	GetFundingRates(ctx context.Context, market kline.Market, symbol string, start, end time.Time) ([]binance.FundingRate, error)
}

// ReportSink receives the finished report, e.g. the run ledger.
type ReportSink interface {
	SaveReport(ctx context.Context, r *Report) error
}

// Deps are the collaborators of a Collector. Loader, Local, Funding and
// Sinks are optional.
type Deps struct {
	Archive    ArchiveFetcher
	Selector   *source.Selector
	Normalizer *normalize.Normalizer
	Backfiller GapFiller
	Loader     Loader
	Local      LocalWriter
	Funding    FundingSource
	Sinks      []ReportSink
	Logger     *zap.Logger
}

type Options struct {
	// ArchiveWorkers bounds archive downloads across all streams.
	ArchiveWorkers int
	// StreamWorkers bounds streams processed at once.
	StreamWorkers int
	// Funding enables funding-rate enrichment on derivative streams.
	Funding bool
	Now     func() time.Time
}

type Request struct {
	Instruments []kline.Instrument
	Timeframes  []kline.Timeframe
	Start       time.Time
	End         time.Time
}

type Collector struct {
	deps       Deps
	opts       Options
	archiveSem *semaphore.Weighted
	buffer     *memorystore.MemoryCandleStore
}

func New(deps Deps, opts Options) (*Collector, error) {
	switch {
	case deps.Archive == nil:
		return nil, errors.New("collector: archive fetcher is required")
	case deps.Selector == nil:
		return nil, errors.New("collector: source selector is required")
	case deps.Normalizer == nil:
		return nil, errors.New("collector: normalizer is required")
	case deps.Backfiller == nil:
		return nil, errors.New("collector: backfiller is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.ArchiveWorkers <= 0 {
		opts.ArchiveWorkers = 4
	}
	if opts.StreamWorkers <= 0 {
		opts.StreamWorkers = 2
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Collector{
		deps:       deps,
		opts:       opts,
		archiveSem: semaphore.NewWeighted(int64(opts.ArchiveWorkers)),
		buffer:     memorystore.NewCandleStore(),
	}, nil
}

// streams expands req into its distinct (instrument, timeframe) pairs.
// Each stream owns one buffer and one local file, so it must run once.
func (req Request) streams() []streamJob {
	seen := make(map[kline.StreamKey]struct{})
	var jobs []streamJob
	for _, inst := range req.Instruments {
		for _, tf := range req.Timeframes {
			key := kline.StreamKey{Instrument: inst, Interval: tf.Interval}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			jobs = append(jobs, streamJob{inst: inst, tf: tf})
		}
	}
	return jobs
}

type streamJob struct {
	inst kline.Instrument
	tf   kline.Timeframe
}

// Run collects every (instrument, timeframe) stream of req once, however
// often it is repeated in req. It always returns a report; the error is
// non-nil only when ctx was cancelled, in which case the report covers what
// finished.
func (c *Collector) Run(ctx context.Context, req Request) (*Report, error) {
	report := &Report{RunID: uuid.New(), StartedAt: c.opts.Now().UTC()}
	logger := c.deps.Logger.With(zap.String("run_id", report.RunID.String()))
	jobs := req.streams()
	logger.Info("run started",
		zap.Int("streams", len(jobs)),
		zap.Time("start", req.Start),
		zap.Time("end", req.End),
	)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(c.opts.StreamWorkers)

	for _, job := range jobs {
		g.Go(func() error {
			sr := c.runStream(ctx, job.inst, job.tf, req.Start, req.End, logger)
			mu.Lock()
			report.Streams = append(report.Streams, sr)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if n := c.buffer.CountAll(); n != 0 {
		logger.Warn("candles left in stream buffers", zap.Int("count", n))
	}

	report.FinishedAt = c.opts.Now().UTC()
	report.sortStreams()
	report.Log(c.deps.Logger)

	// Sinks get a fresh context so a cancelled run is still recorded.
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	for _, sink := range c.deps.Sinks {
		if err := sink.SaveReport(sinkCtx, report); err != nil {
			logger.Error("failed to save report", zap.Error(err))
		}
	}

	return report, ctx.Err()
}

// Bounds returns the aligned range a stream covers: the first open time at
// or after start up to the open time of the candle still in progress.
func Bounds(tf kline.Timeframe, start, end, now time.Time) (time.Time, time.Time) {
	s := tf.Align(start)
	if s.Before(start) {
		s = tf.Next(s)
	}
	e := tf.Align(end)
	if current := tf.Align(now); current.Before(e) {
		e = current
	}
	return s, e
}

func (c *Collector) runStream(ctx context.Context, inst kline.Instrument, tf kline.Timeframe, start, end time.Time, logger *zap.Logger) StreamReport {
	key := kline.StreamKey{Instrument: inst, Interval: tf.Interval}
	start, end = Bounds(tf, start, end, c.opts.Now())
	sr := StreamReport{Stream: key, Start: start, End: end}
	logger = logger.With(zap.String("stream", key.String()))

	if !inst.Market.Supports(tf) {
		sr.Errors = append(sr.Errors, fmt.Sprintf("interval %s is not offered on %s", tf.Interval, inst.Market))
		return sr
	}
	if !start.Before(end) {
		logger.Info("empty range, nothing to collect")
		sr.Completeness = 1
		return sr
	}
	defer c.buffer.Delete(key)

	// 1. archives
	units := c.deps.Selector.Plan(inst, tf, start, end)
	sr.Units = len(units)
	c.fetchUnits(ctx, units, &sr, logger)

	// 2. gaps and authentic backfill
	found := gaps.Detect(c.buffer.Get(key), tf, start, end)
	sr.GapsFound = len(found)
	for _, gap := range found {
		outcome := GapOutcome{Gap: gap}
		if ctx.Err() != nil {
			outcome.Err = ctx.Err().Error()
			sr.Gaps = append(sr.Gaps, outcome)
			continue
		}
		res, err := c.deps.Backfiller.Backfill(ctx, gap, inst)
		if err == nil {
			err = res.Err
		}
		if err != nil {
			outcome.Err = err.Error()
		}
		recovered := kline.Within(res.Records, start, end)
		c.buffer.Add(recovered...)
		outcome.Recovered = len(recovered)
		outcome.Residual = res.Residual
		sr.RowsRejected += len(res.Rejected)
		sr.Rejections = append(sr.Rejections, res.Rejected...)
		sr.Gaps = append(sr.Gaps, outcome)
	}

	// 3. re-detect on the final series; it decides what is unresolved
	final := kline.Within(c.buffer.Get(key), start, end)
	sr.RowsCollected = len(final)
	sr.Unresolved = gaps.Detect(final, tf, start, end)
	sr.Completeness = gaps.Completeness(sr.Unresolved, tf, start, end)
	for i := range sr.Gaps {
		sr.Gaps[i].Resolved = !overlapsAny(sr.Gaps[i].Gap, sr.Unresolved)
		if sr.Gaps[i].Resolved {
			sr.GapsFilled++
		} else {
			sr.GapsUnresolved++
		}
	}

	if err := ctx.Err(); err != nil {
		sr.Errors = append(sr.Errors, fmt.Sprintf("cancelled before write: %v", err))
		return sr
	}

	// 4. funding enrichment
	if c.opts.Funding && c.deps.Funding != nil && inst.Market.IsDerivative() && len(final) > 0 {
		rates, err := c.deps.Funding.GetFundingRates(ctx, inst.Market, inst.Symbol, start, end)
		if err == nil {
			sr.FundingAttached, err = attachFunding(final, rates, tf)
		}
		if err != nil {
			logger.Warn("funding enrichment failed", zap.Error(err))
			sr.Errors = append(sr.Errors, fmt.Sprintf("funding: %v", err))
		}
	}

	// 5. sinks
	if c.deps.Local != nil && len(final) > 0 {
		res, err := c.deps.Local.Merge(inst, tf, final, localstore.Stats{
			GapsFound:      sr.GapsFound,
			GapsFilled:     sr.GapsFilled,
			GapsUnresolved: sr.GapsUnresolved,
			Completeness:   sr.Completeness,
		})
		if err != nil {
			logger.Error("local merge failed", zap.Error(err))
			sr.Errors = append(sr.Errors, fmt.Sprintf("local merge: %v", err))
		} else {
			sr.LocalFile = res.Path
		}
	}
	if c.deps.Loader != nil && len(final) > 0 {
		n, err := c.deps.Loader.Load(ctx, version.Apply(final))
		sr.RowsLoaded = n
		if err != nil {
			logger.Error("bulk load failed", zap.Int("loaded", n), zap.Error(err))
			sr.Errors = append(sr.Errors, fmt.Sprintf("load: %v", err))
		}
	}

	logger.Info("stream finished",
		zap.Int("rows", sr.RowsCollected),
		zap.Int("rejected", sr.RowsRejected),
		zap.Int("gaps_found", sr.GapsFound),
		zap.Int("gaps_filled", sr.GapsFilled),
		zap.Int("gaps_unresolved", sr.GapsUnresolved),
		zap.Float64("completeness", sr.Completeness),
	)
	return sr
}

// fetchUnits downloads units concurrently under the global archive bound.
// A missing monthly archive is replaced by its daily archives; a missing
// daily archive is left for gap detection.
func (c *Collector) fetchUnits(ctx context.Context, units []source.Unit, sr *StreamReport, logger *zap.Logger) {
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	var fetch func(u source.Unit)
	fetch = func(u source.Unit) {
		defer wg.Done()

		if err := c.archiveSem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			sr.FailedUnits = append(sr.FailedUnits, UnitError{Unit: u.String(), Address: u.Address, Err: err})
			mu.Unlock()
			return
		}
		rows, err := c.deps.Archive.FetchRows(ctx, u.Address)
		c.archiveSem.Release(1)

		switch {
		case errors.Is(err, binance.ErrNotFound) && u.Kind == binance.ArchiveMonthly:
			daily := c.deps.Selector.Fallback(u)
			logger.Info("monthly archive not published, falling back to daily archives",
				zap.String("unit", u.String()), zap.Int("days", len(daily)))
			wg.Add(len(daily))
			for _, d := range daily {
				go fetch(d)
			}
			return
		case errors.Is(err, binance.ErrNotFound):
			logger.Warn("archive not found", zap.String("unit", u.String()), zap.String("address", u.Address))
			mu.Lock()
			sr.MissingUnits = append(sr.MissingUnits, u.Address)
			mu.Unlock()
			return
		case err != nil:
			logger.Error("archive unit failed", zap.String("unit", u.String()), zap.Error(err))
			mu.Lock()
			sr.FailedUnits = append(sr.FailedUnits, UnitError{Unit: u.String(), Address: u.Address, Err: err})
			mu.Unlock()
			return
		}

		candles, rejected := c.deps.Normalizer.Normalize(rows, normalize.Hint{
			Instrument: u.Instrument,
			Timeframe:  u.Timeframe,
			Source:     u.Source(),
		})
		c.buffer.Add(kline.Within(candles, u.Start, u.End)...)

		mu.Lock()
		sr.RowsRejected += len(rejected)
		sr.Rejections = append(sr.Rejections, rejected...)
		mu.Unlock()
	}

	wg.Add(len(units))
	for _, u := range units {
		go fetch(u)
	}
	wg.Wait()
}

func overlapsAny(g kline.Gap, others []kline.Gap) bool {
	for _, o := range others {
		if o.Start.Before(g.End) && g.Start.Before(o.End) {
			return true
		}
	}
	return false
}

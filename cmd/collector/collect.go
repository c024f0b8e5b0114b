package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"klinecollector/config"
	"klinecollector/internal/backfill"
	"klinecollector/internal/binance/collector"
	"klinecollector/internal/binance/memorystore"
	"klinecollector/internal/binance/snapshot"
	"klinecollector/internal/binance/source"
	"klinecollector/internal/binance/symbolmeta"
	"klinecollector/internal/localstore"
	"klinecollector/internal/normalize"
	"klinecollector/pkg/binance"
	"klinecollector/pkg/kline"
	"klinecollector/pkg/storage/clickhouse"
	"klinecollector/pkg/storage/postgres"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCollectCmd() *cobra.Command {
	var daily bool

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect, gap-fill and load the configured streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(cmd, daily)
		},
	}

	fs := cmd.Flags()
	addStreamFlags(fs)
	fs.Bool("funding", false, "attach funding rates to derivative candles")
	fs.Bool("local", false, "merge results into local parquet files")
	fs.String("local-dir", "", "directory of the local parquet files")
	fs.Bool("clickhouse", false, "bulk load results into ClickHouse")
	fs.BoolVar(&daily, "daily", false, "run now, then after every UTC midnight over the trailing daily window")
	return cmd
}

func newRESTClient(cfg *config.Config, log *zap.Logger) *binance.RESTClient {
	return binance.NewRESTClient(cfg.Live.Timeout, log,
		binance.WithBaseURL(kline.Spot, cfg.Live.SpotURL),
		binance.WithBaseURL(kline.USDMFutures, cfg.Live.USDMURL),
		binance.WithBaseURL(kline.CoinMFutures, cfg.Live.CoinMURL),
		binance.WithAPIKey(cfg.Live.APIKey),
	)
}

func newSymbolLoader(cfg *config.Config, market kline.Market, rest snapshot.SymbolLister, log *zap.Logger) *snapshot.SymbolLoader {
	return &snapshot.SymbolLoader{
		Market:     market,
		Quote:      cfg.Collect.Quote,
		Timeout:    cfg.Live.Timeout,
		RestClient: rest,
		Logger:     log,
	}
}

// symbolSource streams the configured symbols, or discovers them from the
// exchange when none are configured. Used by the daily scheduler, which
// logs a failed discovery and retries at the next run.
func symbolSource(cfg *config.Config, market kline.Market, rest snapshot.SymbolLister, log *zap.Logger) func(ctx context.Context) <-chan string {
	if len(cfg.Collect.Symbols) > 0 {
		return symbolmeta.StaticLoadFn(cfg.Collect.Symbols)
	}
	return symbolmeta.DefaultLoadFn(newSymbolLoader(cfg, market, rest, log))
}

// discover returns the configured instruments, or the instruments found by
// symbol discovery. A failed discovery is returned, not just logged.
func discover(ctx context.Context, cfg *config.Config, market kline.Market, rest snapshot.SymbolLister, log *zap.Logger) ([]kline.Instrument, error) {
	if len(cfg.Collect.Symbols) > 0 {
		return instruments(market, symbolmeta.StaticLoadFn(cfg.Collect.Symbols)(ctx)), nil
	}

	symbolCh := make(chan string, 100)
	errc := make(chan error, 1)
	go func() {
		errc <- newSymbolLoader(cfg, market, rest, log).LoadSymbols(ctx, symbolCh)
	}()
	insts := instruments(market, symbolCh)
	if err := <-errc; err != nil {
		return nil, fmt.Errorf("symbol discovery for %s %s: %w", market, cfg.Collect.Quote, err)
	}
	return insts, nil
}

// instruments drains symbolCh into a deduplicated instrument list.
func instruments(market kline.Market, symbolCh <-chan string) []kline.Instrument {
	store := memorystore.NewSymbolStore()
	<-store.StartWorker(symbolCh)

	symbols := store.GetAll()
	out := make([]kline.Instrument, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, kline.Instrument{Symbol: s, Market: market})
	}
	return out
}

// trailingRange is the range recollected in daily mode: whole days from
// the start of the daily window up to now.
func trailingRange(now time.Time, window time.Duration) (time.Time, time.Time) {
	now = now.UTC()
	start := now.Add(-window)
	return time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC), now
}

func runCollect(cmd *cobra.Command, daily bool) error {
	cfg, catalog, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	market, _ := cfg.MarketKind()
	timeframes, _ := cfg.Timeframes(catalog)

	rest := newRESTClient(cfg, log)
	normalizer := normalize.New(log)

	deps := collector.Deps{
		Archive:    binance.NewArchiveClient(cfg.Archive.Timeout, log, binance.WithChecksum(cfg.Archive.VerifyChecksum)),
		Selector:   source.New(cfg.Archive.BaseURL, cfg.Archive.DailyWindow),
		Normalizer: normalizer,
		Backfiller: backfill.New(rest, normalizer, backfill.Config{
			Concurrency:       cfg.Live.Concurrency,
			RequestsPerMinute: cfg.Live.RequestsPerMinute,
			PageSize:          cfg.Live.PageSize,
			MaxRetries:        cfg.Live.MaxRetries,
			RetryInterval:     cfg.Live.RetryInterval,
		}, log),
		Logger: log,
	}
	if cfg.Collect.Funding {
		deps.Funding = rest
	}
	if cfg.Local.Enabled {
		deps.Local = localstore.New(cfg.Local.Dir, log, localstore.WithBackups(cfg.Local.Backups))
	}
	if cfg.ClickHouse.Enabled {
		ch, err := clickhouse.NewClient(cfg.ClickHouse, cfg.Environment, log)
		if err != nil {
			return err
		}
		defer ch.Close()
		if err := ch.EnsureSchema(ctx); err != nil {
			return err
		}
		deps.Loader = ch
	}
	if cfg.Postgres.Enabled {
		ledger, err := postgres.InitializeAndMigrate(ctx, cfg.Postgres, cfg.Environment, true)
		if err != nil {
			return fmt.Errorf("failed to connect to run ledger: %w", err)
		}
		defer ledger.Close()
		deps.Sinks = append(deps.Sinks, ledger)
	}
	if deps.Loader == nil && deps.Local == nil {
		log.Warn("neither clickhouse nor local output is enabled; results are only reported")
	}

	coll, err := collector.New(deps, collector.Options{
		ArchiveWorkers: cfg.Archive.Workers,
		StreamWorkers:  cfg.Collect.StreamWorkers,
		Funding:        cfg.Collect.Funding,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if daily {
		loader := &symbolmeta.MidnightLoader{
			Load:   symbolSource(cfg, market, rest, log),
			Delay:  cfg.Collect.PublishDelay,
			Logger: log,
		}
		err := loader.Run(ctx, func(ctx context.Context, symbolCh <-chan string) {
			start, end := trailingRange(time.Now(), cfg.Archive.DailyWindow)
			if _, err := collectOnce(ctx, coll, instruments(market, symbolCh), timeframes, start, end, out); err != nil {
				log.Error("scheduled run failed", zap.Error(err))
			}
		})
		if errors.Is(err, context.Canceled) {
			log.Info("daily mode stopped")
			return nil
		}
		return err
	}

	start, end, err := cfg.Range(time.Now())
	if err != nil {
		return err
	}
	insts, err := discover(ctx, cfg, market, rest, log)
	if err != nil {
		return err
	}
	report, err := collectOnce(ctx, coll, insts, timeframes, start, end, out)
	if err != nil {
		return err
	}
	if !report.OK() {
		return fmt.Errorf("%w: %d unresolved gaps, %d failed units, %d errors", errIncomplete,
			report.Totals().GapsUnresolved, report.Totals().FailedUnits, report.Totals().Errors)
	}
	return nil
}

func collectOnce(ctx context.Context, coll *collector.Collector, insts []kline.Instrument, timeframes []kline.Timeframe,
	start, end time.Time, out io.Writer) (*collector.Report, error) {
	if len(insts) == 0 {
		return nil, errors.New("no symbols to collect")
	}

	report, err := coll.Run(ctx, collector.Request{
		Instruments: insts,
		Timeframes:  timeframes,
		Start:       start,
		End:         end,
	})
	if werr := report.WriteTable(out); werr != nil {
		return report, werr
	}
	return report, err
}

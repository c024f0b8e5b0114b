package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"klinecollector/internal/binance/collector"
	"klinecollector/internal/binance/source"
	"klinecollector/pkg/kline"
	"klinecollector/pkg/storage/postgres"

	"github.com/spf13/cobra"
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the archive units a collect run would fetch",
		RunE:  runPlan,
	}
	addStreamFlags(cmd.Flags())
	return cmd
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, catalog, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	market, _ := cfg.MarketKind()
	timeframes, _ := cfg.Timeframes(catalog)
	now := time.Now()
	start, end, err := cfg.Range(now)
	if err != nil {
		return err
	}

	rest := newRESTClient(cfg, log)
	insts, err := discover(cmd.Context(), cfg, market, rest, log)
	if err != nil {
		return err
	}
	selector := source.New(cfg.Archive.BaseURL, cfg.Archive.DailyWindow)

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "daily archives from %s\n", selector.Cutoff().Format("2006-01-02"))
	fmt.Fprintln(tw, "UNIT\tCOVERS\tADDRESS")
	units := 0
	for _, inst := range insts {
		for _, tf := range timeframes {
			s, e := collector.Bounds(tf, start, end, now)
			for _, u := range selector.Plan(inst, tf, s, e) {
				fmt.Fprintf(tw, "%s\t%s .. %s\t%s\n", u,
					u.Start.Format(time.RFC3339), u.End.Format(time.RFC3339), u.Address)
				units++
			}
		}
	}
	fmt.Fprintf(tw, "%d units\n", units)
	if err := tw.Flush(); err != nil {
		return err
	}

	if !cfg.Postgres.Enabled {
		return nil
	}
	ledger, err := postgres.NewClient(cfg.Postgres.DSN(cfg.Environment))
	if err != nil {
		return fmt.Errorf("failed to connect to run ledger: %w", err)
	}
	defer ledger.Close()
	return printOpenGaps(cmd.Context(), cmd.OutOrStdout(), ledger, insts, timeframes)
}

type gapLister interface {
	UnresolvedGaps(ctx context.Context, stream string) ([]postgres.GapRecord, error)
}

// printOpenGaps lists the gaps the last recorded run of each stream could
// not fill.
func printOpenGaps(ctx context.Context, out io.Writer, ledger gapLister, insts []kline.Instrument, timeframes []kline.Timeframe) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STREAM\tOPEN GAP\tMISSING\tERROR")
	open := 0
	for _, inst := range insts {
		for _, tf := range timeframes {
			key := kline.StreamKey{Instrument: inst, Interval: tf.Interval}
			gaps, err := ledger.UnresolvedGaps(ctx, key.String())
			if err != nil {
				return err
			}
			for _, g := range gaps {
				fmt.Fprintf(tw, "%s\t%s .. %s\t%d\t%s\n", key,
					g.Start.Format(time.RFC3339), g.End.Format(time.RFC3339), g.Missing, g.Error)
				open++
			}
		}
	}
	fmt.Fprintf(tw, "%d open gaps in ledger\n", open)
	return tw.Flush()
}

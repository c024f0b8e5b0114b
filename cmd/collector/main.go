package main

import (
	"errors"
	"fmt"
	"os"

	"klinecollector/config"
	"klinecollector/logger"
	"klinecollector/pkg/kline"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// errIncomplete marks a run that finished with unresolved gaps, failed
// units or failed files. The report has already been printed.
var errIncomplete = errors.New("run incomplete")

var configPath string

var rootCmd = &cobra.Command{
	Use:   "klinecollector",
	Short: "Collect complete, deduplicated Binance kline history",
	Long: `klinecollector assembles kline history from the Binance public data archive,
backfills every missing interval from the REST API, and loads the result into
ClickHouse and/or local parquet files.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.yaml or ./config/config.yaml)")
	rootCmd.AddCommand(newCollectCmd(), newPlanCmd(), newVerifyCmd())
}

func main() {
	err := rootCmd.Execute()
	switch {
	case err == nil:
	case errors.Is(err, errIncomplete):
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	default:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// addStreamFlags registers the flags that select streams and a range.
func addStreamFlags(fs *pflag.FlagSet) {
	fs.StringP("market", "m", "", "market: spot, um or cm")
	fs.StringSliceP("symbols", "s", nil, "symbols to collect (default: discover by --quote)")
	fs.String("quote", "", "quote asset used for symbol discovery")
	fs.StringSliceP("timeframes", "t", nil, "intervals, e.g. 1m,1h,1d")
	fs.String("start", "", "range start, YYYY-MM-DD or RFC 3339")
	fs.String("end", "", "range end, exclusive (default now)")
	fs.String("log-level", "", "debug, info, warn or error")
}

// setup loads and validates the configuration and builds the logger.
func setup(cmd *cobra.Command) (*config.Config, *kline.Catalog, *zap.Logger, error) {
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return nil, nil, nil, err
	}

	catalog := kline.NewCatalog()
	if err := cfg.Validate(catalog); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, catalog, log, nil
}

// Package clickhouse loads versioned candles into a ReplacingMergeTree table.
//
// Loads are idempotent: every row carries a content-derived _version and the
// table keeps one row per (market, symbol, interval, open_time) at merge
// time, so reloading the same rows adds nothing once parts merge.
//
// Merging happens in the background. Readers that need deduplicated results
// must query with FINAL (and filter _sign = 1); a plain SELECT right after a
// load may still see duplicate versions. CountFinal shows the form.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	"klinecollector/config"
	"klinecollector/pkg/kline"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultBatchSize = 50000

type Client struct {
	conn      driver.Conn
	database  string
	table     string
	batchSize int
	logger    *zap.Logger
}

// NewClient connects using the collector configuration.
func NewClient(cfg config.ClickHouseConfig, env string, logger *zap.Logger) (*Client, error) {
	user, password := cfg.Credentials(env)
	opts := &clickhouse.Options{
		Addr: cfg.Addrs,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: user,
			Password: password,
		},
		DialTimeout: cfg.DialTimeout,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	}
	return Open(opts, cfg.Table, cfg.BatchSize, logger)
}

// Open connects with explicit driver options and verifies connectivity with
// a ping.
func Open(opts *clickhouse.Options, table string, batchSize int, logger *zap.Logger) (*Client, error) {
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	database := opts.Auth.Database
	if database == "" {
		database = "default"
	}
	return &Client{conn: conn, database: database, table: table, batchSize: batchSize, logger: logger}, nil
}

func (c *Client) qualified() string {
	return fmt.Sprintf("`%s`.`%s`", c.database, c.table)
}

// EnsureSchema creates the database and table if they do not exist.
func (c *Client) EnsureSchema(ctx context.Context) error {
	if err := c.conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", c.database)); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	if err := c.conn.Exec(ctx, TableDDL(c.database, c.table)); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Load inserts the candles and returns how many rows were sent. Rows are
// batched per market so every batch carries a single market tag.
func (c *Client) Load(ctx context.Context, candles []kline.VersionedCandle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	sent := 0
	for market, rows := range groupByMarket(candles) {
		for lo := 0; lo < len(rows); lo += c.batchSize {
			hi := min(lo+c.batchSize, len(rows))
			if err := c.send(ctx, rows[lo:hi]); err != nil {
				return sent, fmt.Errorf("load %s batch at row %d: %w", market, lo, err)
			}
			sent += hi - lo
		}
		c.logger.Debug("loaded batch",
			zap.String("market", market.String()),
			zap.Int("rows", len(rows)),
		)
	}
	return sent, nil
}

func (c *Client) send(ctx context.Context, rows []kline.VersionedCandle) error {
	batch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			market, symbol, interval,
			open_time, close_time,
			open, high, low, close,
			volume, quote_volume, trades, taker_buy_base, taker_buy_quote,
			funding_rate, source, _version, _sign
		)
	`, c.qualified()))
	if err != nil {
		return err
	}

	for _, r := range rows {
		var funding *decimal.Decimal
		if r.FundingRate.Valid {
			d := r.FundingRate.Decimal
			funding = &d
		}
		err := batch.Append(
			r.Instrument.Market.String(),
			r.Instrument.Symbol,
			string(r.Interval),
			r.OpenTime,
			r.CloseTime,
			r.Open,
			r.High,
			r.Low,
			r.Close,
			r.Volume,
			r.QuoteVolume,
			uint64(r.Trades),
			r.TakerBuyBase,
			r.TakerBuyQuote,
			funding,
			string(r.Source),
			r.Version,
			int8(1),
		)
		if err != nil {
			batch.Abort()
			return err
		}
	}

	return batch.Send()
}

// CountFinal counts the deduplicated rows of one stream in [start, end).
func (c *Client) CountFinal(ctx context.Context, key kline.StreamKey, start, end time.Time) (uint64, error) {
	var n uint64
	row := c.conn.QueryRow(ctx, fmt.Sprintf(`
		SELECT count()
		FROM %s FINAL
		WHERE market = ? AND symbol = ? AND interval = ?
		  AND open_time >= ? AND open_time < ?
		  AND _sign = 1
	`, c.qualified()), key.Market.String(), key.Symbol, string(key.Interval), start, end)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", key, err)
	}
	return n, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func groupByMarket(candles []kline.VersionedCandle) map[kline.Market][]kline.VersionedCandle {
	out := make(map[kline.Market][]kline.VersionedCandle)
	for _, c := range candles {
		m := c.Instrument.Market
		out[m] = append(out[m], c)
	}
	return out
}

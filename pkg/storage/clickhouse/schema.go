package clickhouse

import "fmt"

// TableDDL is the candle table. The identity key is the ORDER BY tuple; the
// monthly bucket keeps parts small for range scans. _sign marks soft
// deletes and is always 1 for loaded rows.
func TableDDL(database, table string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS `+"`%s`.`%s`"+` (
	market          LowCardinality(String),
	symbol          LowCardinality(String),
	interval        LowCardinality(String),
	open_time       DateTime64(6, 'UTC'),
	close_time      DateTime64(6, 'UTC'),
	open            Decimal(38, 18),
	high            Decimal(38, 18),
	low             Decimal(38, 18),
	close           Decimal(38, 18),
	volume          Decimal(38, 18),
	quote_volume    Decimal(38, 18),
	trades          UInt64,
	taker_buy_base  Decimal(38, 18),
	taker_buy_quote Decimal(38, 18),
	funding_rate    Nullable(Decimal(38, 18)),
	source          LowCardinality(String),
	_version        UInt64,
	_sign           Int8 DEFAULT 1,
	inserted_at     DateTime64(3, 'UTC') DEFAULT now64(3)
)
ENGINE = ReplacingMergeTree(_version)
PARTITION BY (market, toYYYYMM(open_time))
ORDER BY (market, symbol, interval, toStartOfMonth(open_time), open_time)
`, database, table)
}

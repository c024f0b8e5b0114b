package config

import "time"

const (
	ssmClickHouseUser     = "KLINE_CLICKHOUSE_USER"
	ssmClickHousePassword = "KLINE_CLICKHOUSE_PASSWORD"
)

// ClickHouseConfig is the analytical store the bulk loader writes to.
type ClickHouseConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addrs       []string      `mapstructure:"addrs"`
	Database    string        `mapstructure:"database"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	Table       string        `mapstructure:"table"`
	BatchSize   int           `mapstructure:"batch_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// Credentials returns the user and password, read from the parameter store
// in prod.
func (cfg *ClickHouseConfig) Credentials(env string) (string, string) {
	if env == "prod" {
		return fromParameterStore(ssmClickHouseUser, cfg.User),
			fromParameterStore(ssmClickHousePassword, cfg.Password)
	}
	return cfg.User, cfg.Password
}

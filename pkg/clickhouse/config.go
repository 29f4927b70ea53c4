package clickhouse

import "time"

// ClientOption configures Client.
type ClientOption func(*ClientConfig)

type ClientConfig struct {
	Host            string        `yaml:"host" env:"CLICKHOUSE_HOST,overwrite"`
	Port            int           `yaml:"port" default:"9000"`
	Database        string        `yaml:"database" default:"stockalert"`
	User            string        `yaml:"user" default:"default"`
	Password        string        `yaml:"password" env:"CLICKHOUSE_PASSWORD,overwrite"`
	MaxOpenConns    int           `yaml:"max_open_conns" default:"5"`
	MaxIdleConns    int           `yaml:"max_idle_conns" default:"2"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"5m"`
	DialTimeout     time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	UseHTTP         bool          `yaml:"use_http"`
	AsyncInsert     bool          `yaml:"async_insert"`
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg ClientConfig) ClientOption {
	return func(c *ClientConfig) { *c = cfg }
}

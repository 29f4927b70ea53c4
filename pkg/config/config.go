package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	pkgch "StockAlert/pkg/clickhouse"
	"StockAlert/pkg/db"
	"StockAlert/pkg/queue"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Process roles. ModeAll runs the API and the workers in one process.
const (
	ModeAll    = "all"
	ModeAPI    = "api"
	ModeWorker = "worker"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" env:"STOCKALERT_ENV,overwrite"`
	Mode        string `yaml:"mode" default:"all" env:"STOCKALERT_MODE,overwrite"`

	Log struct {
		Level  string `yaml:"level" default:"info" env:"LOG_LEVEL,overwrite"`
		Format string `yaml:"format" default:"console" env:"LOG_FORMAT,overwrite"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`

	Server struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" env:"HTTP_PORT,overwrite"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		SlowRequest     time.Duration `yaml:"slow_request" default:"1s"`
		AllowOrigins    []string      `yaml:"allow_origins"`
	} `yaml:"server"`

	Auth struct {
		// JWTSecret enables HS256 bearer tokens; empty trusts X-User-ID.
		JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET,overwrite"`
	} `yaml:"auth"`

	Postgres db.Config `yaml:"postgres"`

	History struct {
		Backend    string             `yaml:"backend" default:"postgres" env:"HISTORY_BACKEND,overwrite"`
		ClickHouse pkgch.ClientConfig `yaml:"clickhouse"`
	} `yaml:"history"`

	Redis struct {
		Addr         string        `yaml:"addr" env:"REDIS_ADDR,overwrite"`
		Password     string        `yaml:"password" env:"REDIS_PASSWORD,overwrite"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size" default:"20"`
		MinIdleConns int           `yaml:"min_idle_conns" default:"2"`
		PoolTimeout  time.Duration `yaml:"pool_timeout" default:"30s"`
	} `yaml:"redis"`

	Cache struct {
		Backend string `yaml:"backend" default:"memory" env:"CACHE_BACKEND,overwrite"`
		Prefix  string `yaml:"prefix" default:"stockalert"`
	} `yaml:"cache"`

	Broker struct {
		Type          string        `yaml:"type" default:"none" env:"BROKER_TYPE,overwrite"`
		ChannelPrefix string        `yaml:"channel_prefix" default:"stockalert"`
		RelayTimeout  time.Duration `yaml:"relay_timeout" default:"2s"`
		DedupTTL      time.Duration `yaml:"dedup_ttl" default:"10m"`
		Kafka         struct {
			Brokers      []string      `yaml:"brokers" env:"KAFKA_BROKERS,overwrite"`
			Compression  string        `yaml:"compression" default:"snappy"`
			RequiredAcks int           `yaml:"required_acks" default:"-1"`
			GroupPrefix  string        `yaml:"group_prefix" default:"stockalert"`
			DLQTopic     string        `yaml:"dlq_topic"`
			RetryMax     int           `yaml:"retry_max" default:"3"`
			BackoffMin   time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax   time.Duration `yaml:"backoff_max" default:"2s"`
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
			BatchTimeout time.Duration `yaml:"batch_timeout" default:"5ms"`
			FetchMin     int           `yaml:"fetch_min_bytes" default:"1"`
			FetchMax     int           `yaml:"fetch_max_bytes" default:"10000000"`
			FetchWait    time.Duration `yaml:"fetch_max_wait" default:"250ms"`
		} `yaml:"kafka"`
	} `yaml:"broker"`

	Finnhub struct {
		APIKey       string        `yaml:"api_key" env:"FINNHUB_API_KEY,overwrite"`
		WebSocketURL string        `yaml:"websocket_url" default:"wss://ws.finnhub.io" env:"FINNHUB_WS_URL,overwrite"`
		RestURL      string        `yaml:"rest_url" default:"https://finnhub.io/api/v1" env:"FINNHUB_REST_URL,overwrite"`
		PingInterval time.Duration `yaml:"ping_interval" default:"30s"`
		MinInterval  time.Duration `yaml:"min_interval" default:"1s"`
		QuoteRefresh time.Duration `yaml:"quote_refresh" default:"15m"`
		Instruments  []Instrument  `yaml:"instruments"`
	} `yaml:"finnhub"`

	Worker struct {
		MaxConsecutiveFailures int           `yaml:"max_consecutive_failures" default:"10"`
		BackoffMin             time.Duration `yaml:"backoff_min" default:"500ms"`
		BackoffMax             time.Duration `yaml:"backoff_max" default:"30s"`
		CleanupTimeout         time.Duration `yaml:"cleanup_timeout" default:"10s"`
	} `yaml:"worker"`

	Evaluator struct {
		CacheTTL       time.Duration `yaml:"cache_ttl" default:"5m"`
		InboxSize      int           `yaml:"inbox_size" default:"1024"`
		EnqueueTimeout time.Duration `yaml:"enqueue_timeout" default:"100ms"`
		StoreTimeout   time.Duration `yaml:"store_timeout" default:"5s"`
	} `yaml:"evaluator"`

	Dispatcher struct {
		InboxSize      int           `yaml:"inbox_size" default:"256"`
		WebhookTimeout time.Duration `yaml:"webhook_timeout" default:"10s"`
		Sound          bool          `yaml:"sound" default:"true"`
		RateCapacity   float64       `yaml:"rate_capacity" default:"5"`
		RatePerSecond  float64       `yaml:"rate_per_second" default:"1"`
		Retry          struct {
			Enabled bool         `yaml:"enabled"`
			Queue   queue.Config `yaml:"queue"`
		} `yaml:"retry"`
	} `yaml:"dispatcher"`

	Sweeper struct {
		Interval time.Duration `yaml:"interval" default:"1m"`
	} `yaml:"sweeper"`
}

// Instrument maps a feed symbol to the key alerts are stored under.
type Instrument struct {
	Symbol        string `yaml:"symbol"`
	InstrumentKey string `yaml:"instrument_key"`
	AssetType     string `yaml:"asset_type" default:"EQUITY"`
}

// RunsAPI reports whether this process serves the admin API.
func (c *Config) RunsAPI() bool { return c.Mode == ModeAll || c.Mode == ModeAPI }

// RunsWorkers reports whether this process runs the pipeline workers.
func (c *Config) RunsWorkers() bool { return c.Mode == ModeAll || c.Mode == ModeWorker }

// Load applies defaults, then the YAML file at path (skipped when it does not
// exist), then a .env file and environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	// instrument entries are decoded after defaults ran
	for i := range c.Finnhub.Instruments {
		if err := defaults.Set(&c.Finnhub.Instruments[i]); err != nil {
			return nil, fmt.Errorf("instrument defaults: %w", err)
		}
	}

	_ = godotenv.Load()
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// applyEnv overlays the `env` tagged fields, then SYMBOLS.
func (c *Config) applyEnv() error {
	if err := envconfig.Process(context.Background(), c); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	// SYMBOLS=AAPL,NSE:RELIANCE=RELIANCE.NS replaces the instrument list;
	// the optional right-hand side is the feed symbol.
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Finnhub.Instruments = nil
		for _, item := range splitList(v) {
			key, sym, ok := strings.Cut(item, "=")
			if !ok {
				sym = key
			}
			c.Finnhub.Instruments = append(c.Finnhub.Instruments, Instrument{Symbol: sym, InstrumentKey: key, AssetType: "EQUITY"})
		}
	}
	return nil
}

// Validate checks the combinations the process cannot start without.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(oneOf(c.Mode, ModeAll, ModeAPI, ModeWorker), "mode must be all, api or worker, got %q", c.Mode)
	check(c.Postgres.DSN != "", "postgres.dsn is required")
	check(oneOf(c.History.Backend, "postgres", "clickhouse"), "history.backend must be postgres or clickhouse, got %q", c.History.Backend)
	if c.History.Backend == "clickhouse" {
		check(c.History.ClickHouse.Host != "", "history.clickhouse.host is required for the clickhouse backend")
	}
	check(oneOf(c.Cache.Backend, "memory", "redis"), "cache.backend must be memory or redis, got %q", c.Cache.Backend)
	check(oneOf(c.Broker.Type, "none", "kafka", "redis"), "broker.type must be none, kafka or redis, got %q", c.Broker.Type)
	if c.Broker.Type == "kafka" {
		check(len(c.Broker.Kafka.Brokers) > 0, "broker.kafka.brokers is required for the kafka broker")
	}
	needsRedis := c.Broker.Type == "redis" || c.Cache.Backend == "redis" || c.Dispatcher.Retry.Enabled
	if needsRedis {
		check(c.Redis.Addr != "", "redis.addr is required by the redis broker, the redis cache or webhook retries")
	}
	// a split deployment relays triggers and lifecycle events between processes
	if c.Mode != ModeAll {
		check(c.Broker.Type != "none", "mode %q needs a broker", c.Mode)
	}
	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port out of range: %d", c.Server.Port)
	check(c.Sweeper.Interval > 0, "sweeper.interval must be positive")
	for i, in := range c.Finnhub.Instruments {
		check(in.Symbol != "", "finnhub.instruments[%d].symbol is required", i)
	}
	if len(c.Finnhub.Instruments) > 0 {
		check(c.Finnhub.APIKey != "", "finnhub.api_key is required when instruments are configured")
	}
	return errors.Join(errs...)
}

// ProducerEnabled reports whether the price producer has anything to stream.
func (c *Config) ProducerEnabled() bool {
	return c.RunsWorkers() && c.Finnhub.APIKey != "" && len(c.Finnhub.Instruments) > 0
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

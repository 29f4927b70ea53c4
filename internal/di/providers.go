package di

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"StockAlert/internal/domain/models"
	"StockAlert/internal/domain/repository"
	"StockAlert/internal/domain/service"
	"StockAlert/internal/eventbus"
	"StockAlert/internal/handler/api"
	internalrepo "StockAlert/internal/repository"
	"StockAlert/internal/service/finnhub"
	"StockAlert/internal/service/notify"
	"StockAlert/internal/service/ratelimit"
	"StockAlert/internal/services/conditions"
	"StockAlert/internal/usecase"
	"StockAlert/pkg/cache"
	pkgch "StockAlert/pkg/clickhouse"
	"StockAlert/pkg/config"
	"StockAlert/pkg/db"
	xhttp "StockAlert/pkg/http"
	pkgkafka "StockAlert/pkg/kafka"
	"StockAlert/pkg/logger"
	"StockAlert/pkg/metrics"
	"StockAlert/pkg/queue"
	"StockAlert/pkg/server"
	"StockAlert/pkg/worker"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

const initTimeout = 10 * time.Second

// ProvideLogger builds the process logger from the log section.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment), logger.String("mode", cfg.Mode)), nil
}

// ProvideRegistry creates the Prometheus registry served on /metrics.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.NewWithRegisterer(reg)
}

// ProvidePostgres opens the alert database.
func ProvidePostgres(cfg *config.Config) (*sql.DB, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	conn, err := db.Connect(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	return conn, func() { _ = conn.Close() }, nil
}

// ProvideTriggerHistory returns the ClickHouse history when configured.
// A nil history keeps trigger records in Postgres.
func ProvideTriggerHistory(cfg *config.Config, l *logger.Logger) (repository.TriggerHistory, func(), error) {
	if cfg.History.Backend != "clickhouse" {
		return nil, func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	client, err := pkgch.NewClient(ctx, pkgch.WithConfig(cfg.History.ClickHouse))
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if err := client.InitSchema(ctx, internalrepo.ClickHouseSchema); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return internalrepo.NewCHTriggerHistory(client, l), func() { _ = client.Close() }, nil
}

// ProvideAlertStore creates the Postgres alert store and applies its schema.
func ProvideAlertStore(conn *sql.DB, history repository.TriggerHistory, cfg *config.Config, l *logger.Logger) (repository.AlertStore, error) {
	opts := []internalrepo.PostgresOption{internalrepo.WithCallTimeout(cfg.Evaluator.StoreTimeout)}
	if history != nil {
		opts = append(opts, internalrepo.WithTriggerHistory(history))
	}
	store := internalrepo.NewPostgresAlertStore(conn, l, opts...)

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := store.InitSchema(ctx); err != nil {
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return store, nil
}

// ProvideRedisClient connects when an address is configured. Redis backs
// the shared cache, the redis broker and webhook retries; all of them are
// optional.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	if cfg.Redis.Addr == "" {
		return nil, func() {}, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.PoolTimeout),
		cache.WithRedisPrefix(cfg.Cache.Prefix),
	)
	if err != nil {
		return nil, nil, err
	}
	client := rc.Client()
	return client, func() { _ = client.Close() }, nil
}

// ProvideCache picks the snapshot and dedup cache.
func ProvideCache(cfg *config.Config, rc *redis.Client) (cache.Service, func()) {
	if cfg.Cache.Backend == "redis" && rc != nil {
		// the client is closed by its own provider
		return cache.NewRedisCacheFromClient(rc, cfg.Cache.Prefix), func() {}
	}
	mc := cache.NewMemoryCache(cache.WithMemoryMaxSize(100000), cache.WithMemoryCleanup(time.Minute))
	return mc, func() { _ = mc.Close() }
}

// ProvideBroker builds the cross-process relay. A nil broker keeps events
// in process.
func ProvideBroker(cfg *config.Config, rc *redis.Client, reg *prometheus.Registry, l *logger.Logger) (repository.Broker, func(), error) {
	switch cfg.Broker.Type {
	case "kafka":
		km := pkgkafka.NewMetrics(reg)
		kc := cfg.Broker.Kafka
		producer, err := pkgkafka.NewProducer(
			pkgkafka.WithBrokers(kc.Brokers),
			pkgkafka.WithCompression(kc.Compression),
			pkgkafka.WithRequiredAcks(kc.RequiredAcks),
			pkgkafka.WithMaxAttempts(kc.MaxAttempts),
			pkgkafka.WithWriteTimeout(kc.WriteTimeout),
			pkgkafka.WithBatchTimeout(kc.BatchTimeout),
			pkgkafka.WithProducerMetrics(km),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("kafka producer: %w", err)
		}
		// one group per process so every process sees every event
		group := fmt.Sprintf("%s-%s", kc.GroupPrefix, uuid.NewString()[:8])
		broker := internalrepo.NewKafkaBroker(producer, group, l,
			pkgkafka.WithConsumerBrokers(kc.Brokers),
			pkgkafka.WithConsumerRetry(kc.RetryMax, kc.BackoffMin, kc.BackoffMax),
			pkgkafka.WithConsumerDLQ(kc.DLQTopic),
			pkgkafka.WithConsumerFetch(kc.FetchMin, kc.FetchMax, kc.FetchWait),
			pkgkafka.WithConsumerMetrics(km),
		)
		return broker, func() { _ = broker.Close() }, nil
	case "redis":
		if rc == nil {
			return nil, nil, fmt.Errorf("redis broker: redis.addr is not set")
		}
		return internalrepo.NewRedisBroker(rc, l), func() {}, nil
	default:
		return nil, func() {}, nil
	}
}

// ProvideEventBus creates the bus, relaying through broker when present.
func ProvideEventBus(cfg *config.Config, broker repository.Broker, c cache.Service, m repository.Metrics, l *logger.Logger) *eventbus.Bus {
	opts := []eventbus.Option{
		eventbus.WithChannelPrefix(cfg.Broker.ChannelPrefix),
		eventbus.WithRelayTimeout(cfg.Broker.RelayTimeout),
		eventbus.WithDedup(c, cfg.Broker.DedupTTL),
		eventbus.WithLogger(l),
		eventbus.WithMetrics(m),
	}
	if broker != nil {
		opts = append(opts, eventbus.WithBroker(broker))
	}
	return eventbus.New(opts...)
}

// ProvideSnapshots exposes published prices from the cache.
func ProvideSnapshots(c cache.Service) *usecase.Snapshots {
	return usecase.NewSnapshots(c)
}

// ProvideAlertService creates the alert management use case.
func ProvideAlertService(store repository.AlertStore, bus *eventbus.Bus, snaps *usecase.Snapshots, m repository.Metrics, l *logger.Logger) *usecase.AlertService {
	return usecase.NewAlertService(store, bus, snaps, m, l)
}

// ProvideRetryQueue creates the webhook retry queue when enabled.
func ProvideRetryQueue(cfg *config.Config, rc *redis.Client, l *logger.Logger) *queue.RedisQueue {
	if !cfg.Dispatcher.Retry.Enabled || rc == nil {
		return nil
	}
	return queue.NewRedisQueue(l, cfg.Dispatcher.Retry.Queue, rc)
}

// ProvideChannels builds the notification channels available here.
func ProvideChannels(cfg *config.Config, q *queue.RedisQueue, l *logger.Logger) service.Channels {
	client := xhttp.NewClient(xhttp.WithTimeout(cfg.Dispatcher.WebhookTimeout), xhttp.WithUserAgent("stockalert-webhook/1.0"))
	limiter := ratelimit.New(cfg.Dispatcher.RateCapacity, cfg.Dispatcher.RatePerSecond)

	var retry queue.Publisher
	if q != nil {
		retry = q
	}
	hook := notify.NewWebhook(client, limiter, retry, l)
	if q != nil {
		q.Register(notify.NewRetryJob(hook))
	}

	ch := service.Channels{
		Local:   notify.NewConsole(os.Stdout, l),
		Webhook: hook,
	}
	if cfg.Dispatcher.Sound {
		ch.Audible = notify.NewBell(os.Stdout)
	}
	return ch
}

// ProvideWorkers registers the pipeline workers. API-only processes get an
// empty registry.
func ProvideWorkers(
	cfg *config.Config,
	store repository.AlertStore,
	bus *eventbus.Bus,
	channels service.Channels,
	c cache.Service,
	m repository.Metrics,
	l *logger.Logger,
) *worker.Registry {
	reg := worker.NewRegistry()
	if !cfg.RunsWorkers() {
		return reg
	}

	opts := []worker.Option{
		worker.WithLogger(l),
		worker.WithEmitter(bus.WorkerEmitter()),
		worker.WithMaxConsecutiveFailures(cfg.Worker.MaxConsecutiveFailures),
		worker.WithBackoff(cfg.Worker.BackoffMin, cfg.Worker.BackoffMax),
		worker.WithCleanupTimeout(cfg.Worker.CleanupTimeout),
	}

	evaluator := usecase.NewAlertEvaluator(store, bus, conditions.NewComposite(), m, l, usecase.EvaluatorConfig{
		CacheTTL:       cfg.Evaluator.CacheTTL,
		InboxSize:      cfg.Evaluator.InboxSize,
		EnqueueTimeout: cfg.Evaluator.EnqueueTimeout,
		StoreTimeout:   cfg.Evaluator.StoreTimeout,
	})
	dispatcher := usecase.NewNotificationDispatcher(channels, bus, m, l, usecase.DispatcherConfig{
		InboxSize:      cfg.Dispatcher.InboxSize,
		WebhookTimeout: cfg.Dispatcher.WebhookTimeout,
	})
	reg.Add(worker.New(evaluator, opts...), worker.New(dispatcher, opts...))

	if cfg.ProducerEnabled() {
		reg.Add(worker.New(provideProducer(cfg, bus, c, m, l), opts...))
	} else {
		l.Info("price producer disabled; no finnhub key or instruments")
	}
	return reg
}

func provideProducer(cfg *config.Config, bus *eventbus.Bus, c cache.Service, m repository.Metrics, l *logger.Logger) *usecase.PriceProducer {
	fc := cfg.Finnhub
	instruments := make([]usecase.Instrument, 0, len(fc.Instruments))
	symbols := make([]string, 0, len(fc.Instruments))
	for _, in := range fc.Instruments {
		instruments = append(instruments, usecase.Instrument{
			Symbol:        in.Symbol,
			InstrumentKey: in.InstrumentKey,
			AssetType:     models.AssetType(in.AssetType),
		})
		symbols = append(symbols, in.Symbol)
	}

	stream := finnhub.NewStream(fc.APIKey, fc.WebSocketURL, symbols, fc.PingInterval, l)
	quotes := finnhub.NewQuotes(fc.APIKey, fc.RestURL, xhttp.NewClient(xhttp.WithTimeout(10*time.Second)))
	return usecase.NewPriceProducer(stream, quotes, bus, c, m, l, usecase.ProducerConfig{
		Instruments:  instruments,
		MinInterval:  fc.MinInterval,
		QuoteRefresh: fc.QuoteRefresh,
	})
}

// ProvideSweeper creates the expiry sweeper; it runs where the workers run.
func ProvideSweeper(cfg *config.Config, store repository.AlertStore, bus *eventbus.Bus, l *logger.Logger) *usecase.ExpirySweeper {
	if !cfg.RunsWorkers() {
		return nil
	}
	return usecase.NewExpirySweeper(store, bus, l, cfg.Sweeper.Interval)
}

// ProvideHTTPServer builds the admin API server, or nil in worker mode.
func ProvideHTTPServer(
	cfg *config.Config,
	alerts *usecase.AlertService,
	workers *worker.Registry,
	snaps *usecase.Snapshots,
	reg *prometheus.Registry,
	l *logger.Logger,
) *xhttp.Server {
	if !cfg.RunsAPI() {
		return nil
	}
	h := api.NewHandler(l, alerts, workers, snaps, cfg.Auth.JWTSecret)
	return xhttp.NewServer(h, l,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.AllowOrigins),
		xhttp.WithMetrics(reg, reg),
		xhttp.WithSlowRequest(cfg.Server.SlowRequest),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	bus *eventbus.Bus,
	workers *worker.Registry,
	sweeper *usecase.ExpirySweeper,
	jobs *queue.RedisQueue,
	httpServer *xhttp.Server,
) *server.App {
	return server.New(cfg, l, bus, workers, sweeper, jobs, httpServer)
}

package eventbus

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"StockAlert/internal/domain/events"
	"StockAlert/internal/domain/repository"
	"StockAlert/pkg/cache"
	"StockAlert/pkg/logger"
	"StockAlert/pkg/metrics"
	"StockAlert/pkg/worker"

	"github.com/google/uuid"
)

// Handler consumes one event. Errors are logged by the bus and never reach the publisher.
type Handler func(ctx context.Context, ev events.Event) error

type subscription struct {
	id uint64
	fn Handler
}

// Option configures Bus.
type Option func(*Bus)

// WithBroker enables cross-process relay.
func WithBroker(b repository.Broker) Option {
	return func(bus *Bus) { bus.broker = b }
}

func WithOrigin(origin string) Option {
	return func(bus *Bus) {
		if origin != "" {
			bus.origin = origin
		}
	}
}

func WithChannelPrefix(prefix string) Option {
	return func(bus *Bus) { bus.prefix = prefix }
}

func WithRelayTimeout(d time.Duration) Option {
	return func(bus *Bus) {
		if d > 0 {
			bus.relayTimeout = d
		}
	}
}

// WithDedup drops relayed events whose id this origin already saw within ttl.
// c may be shared between processes; keys are scoped by origin.
func WithDedup(c cache.Service, ttl time.Duration) Option {
	return func(bus *Bus) {
		bus.seen = c
		if ttl > 0 {
			bus.dedupTTL = ttl
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(bus *Bus) {
		if l != nil {
			bus.log = l
		}
	}
}

func WithMetrics(m repository.Metrics) Option {
	return func(bus *Bus) {
		if m != nil {
			bus.metrics = m
		}
	}
}

// Bus is the in-process pub/sub with optional broker relay.
// Local delivery and relay are independent best-effort paths.
type Bus struct {
	origin       string
	prefix       string
	broker       repository.Broker
	seen         cache.Service
	dedupTTL     time.Duration
	relayTimeout time.Duration
	log          *logger.Logger
	metrics      repository.Metrics
	now          func() time.Time

	mu       sync.RWMutex
	handlers map[events.Kind][]subscription
	nextID   uint64

	listenMu     sync.Mutex
	listenCancel context.CancelFunc
	listenDone   chan struct{}
}

func New(opts ...Option) *Bus {
	b := &Bus{
		origin:       defaultOrigin(),
		prefix:       "stockalert",
		dedupTTL:     10 * time.Minute,
		relayTimeout: 2 * time.Second,
		log:          logger.Nop(),
		metrics:      metrics.Noop{},
		now:          time.Now,
		handlers:     make(map[events.Kind][]subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func defaultOrigin() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// Origin identifies this process on the broker.
func (b *Bus) Origin() string { return b.origin }

// Subscribe registers fn for kind and returns a function that removes it.
func (b *Bus) Subscribe(kind events.Kind, fn Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[kind] = append(b.handlers[kind], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.handlers[kind]
			for i, s := range subs {
				if s.id == id {
					b.handlers[kind] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers ev to local handlers and then relays it to the broker.
// Missing id, timestamp and origin are filled in. It never returns an error:
// handler failures and relay failures are logged and counted.
func (b *Bus) Publish(ctx context.Context, ev events.Event) events.Event {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now().UTC()
	}
	if ev.Origin == "" {
		ev.Origin = b.origin
	}

	b.deliver(ctx, ev, "local")
	b.relay(ctx, ev)
	return ev
}

func (b *Bus) deliver(ctx context.Context, ev events.Event, path string) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.handlers[ev.Kind]...)
	b.mu.RUnlock()

	b.metrics.RecordEvent(string(ev.Kind), path)
	for _, s := range subs {
		b.invoke(ctx, s.fn, ev)
	}
}

func (b *Bus) invoke(ctx context.Context, fn Handler, ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.RecordError("bus_handler_panic")
			b.log.Error("event handler panic",
				logger.String("kind", string(ev.Kind)),
				logger.String("event_id", ev.ID),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
		}
	}()
	if err := fn(ctx, ev); err != nil {
		b.metrics.RecordError("bus_handler")
		b.log.Warn("event handler failed",
			logger.String("kind", string(ev.Kind)),
			logger.String("event_id", ev.ID),
			logger.Error(err))
	}
}

func (b *Bus) relay(ctx context.Context, ev events.Event) {
	if b.broker == nil {
		return
	}
	channel := ChannelFor(b.prefix, ev.Kind)
	if channel == "" {
		return
	}
	payload, err := events.Encode(ev)
	if err != nil {
		b.metrics.RecordError("bus_encode")
		b.log.Error("event encode failed", logger.String("kind", string(ev.Kind)), logger.Error(err))
		return
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.relayTimeout)
	defer cancel()
	start := time.Now()
	if err := b.broker.Publish(rctx, channel, partitionKey(ev), payload); err != nil {
		b.metrics.RecordError("bus_relay")
		b.log.Warn("event relay failed",
			logger.String("kind", string(ev.Kind)),
			logger.String("channel", channel),
			logger.Error(err))
		return
	}
	b.metrics.RecordEvent(string(ev.Kind), "relay")
	b.metrics.RecordLatency("bus_relay", time.Since(start).Seconds())
}

// StartListening pumps broker-relayed events into local handlers until
// StopListening is called or ctx is cancelled. Without a broker it does nothing.
func (b *Bus) StartListening(ctx context.Context) error {
	if b.broker == nil {
		return nil
	}
	b.listenMu.Lock()
	defer b.listenMu.Unlock()
	if b.listenCancel != nil {
		return fmt.Errorf("eventbus: already listening")
	}

	lctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	b.listenCancel = cancel
	b.listenDone = done

	channels := Channels(b.prefix)
	go b.listenLoop(lctx, channels, done)
	b.log.Info("eventbus listening", logger.Strings("channels", channels), logger.String("origin", b.origin))
	return nil
}

func (b *Bus) listenLoop(ctx context.Context, channels []string, done chan struct{}) {
	defer close(done)
	attempt := 0
	for {
		err := b.broker.Listen(ctx, channels, b.onRelayed)
		if ctx.Err() != nil {
			return
		}
		attempt++
		delay := worker.Backoff(200*time.Millisecond, 10*time.Second, attempt)
		b.metrics.RecordError("bus_listen")
		b.log.Warn("broker listen interrupted, retrying",
			logger.Error(err),
			logger.Int("attempt", attempt),
			logger.Duration("backoff_ms", delay))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (b *Bus) onRelayed(ctx context.Context, channel string, payload []byte) error {
	ev, err := events.Decode(payload)
	if err != nil {
		b.metrics.RecordError("bus_malformed")
		b.log.Warn("dropping malformed relayed event", logger.String("channel", channel), logger.Error(err))
		return nil
	}
	if ev.Origin == b.origin {
		return nil
	}
	if b.seen != nil {
		first, err := b.seen.TryLock(ctx, "bus:seen:"+b.origin+":"+ev.ID, b.dedupTTL)
		if err != nil {
			b.log.Warn("event dedup check failed", logger.String("event_id", ev.ID), logger.Error(err))
		} else if !first {
			b.metrics.RecordEvent(string(ev.Kind), "duplicate")
			return nil
		}
	}
	b.deliver(ctx, ev, "received")
	return nil
}

// StopListening cancels the listener and waits for the broker subscription to close.
func (b *Bus) StopListening(ctx context.Context) error {
	b.listenMu.Lock()
	cancel, done := b.listenCancel, b.listenDone
	b.listenCancel, b.listenDone = nil, nil
	b.listenMu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("eventbus: listener did not stop: %w", ctx.Err())
	}
}

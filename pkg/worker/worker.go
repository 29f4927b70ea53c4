package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"StockAlert/pkg/logger"
)

type State string

const (
	StateStopped State = "STOPPED"
	StateRunning State = "RUNNING"
	StateFailed  State = "FAILED"
)

var ErrAlreadyRunning = errors.New("worker already running")

// ErrStillStopping is returned by Start while a previous loop has not exited.
var ErrStillStopping = errors.New("worker loop still exiting")

// Runner is the unit of work a Worker supervises.
//
// RunOnce is called in a loop from a single goroutine. It should block on its
// own input (channel, timer, socket) and return when ctx is cancelled.
type Runner interface {
	Name() string
	Init(ctx context.Context) error
	RunOnce(ctx context.Context) error
	Cleanup(ctx context.Context) error
}

type EventKind string

const (
	EventStarted EventKind = "started"
	EventStopped EventKind = "stopped"
	EventError   EventKind = "error"
)

// Event is a lifecycle notification emitted by a Worker.
type Event struct {
	Kind                EventKind
	Worker              string
	State               State
	Err                 error
	ConsecutiveFailures int
	Backoff             time.Duration
}

// Emitter receives lifecycle events. It must not block for long.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

type EmitterFunc func(ctx context.Context, ev Event)

func (f EmitterFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

type Health struct {
	Name                string        `json:"name"`
	State               State         `json:"state"`
	Running             bool          `json:"running"`
	Uptime              time.Duration `json:"uptime"`
	Iterations          int64         `json:"iterations"`
	Errors              int64         `json:"errors"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	LastError           string        `json:"lastError,omitempty"`
	StartedAt           *time.Time    `json:"startedAt,omitempty"`
}

// Config holds supervision settings.
type Config struct {
	MaxConsecutiveFailures int
	BackoffMin             time.Duration
	BackoffMax             time.Duration
	CleanupTimeout         time.Duration
}

// Option configures Worker.
type Option func(*Worker)

func WithMaxConsecutiveFailures(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.cfg.MaxConsecutiveFailures = n
		}
	}
}

// WithBackoff sets the retry delay range.
func WithBackoff(min, max time.Duration) Option {
	return func(w *Worker) {
		if min > 0 {
			w.cfg.BackoffMin = min
		}
		if max > 0 {
			w.cfg.BackoffMax = max
		}
	}
}

func WithCleanupTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.cfg.CleanupTimeout = d
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.log = l
		}
	}
}

func WithEmitter(e Emitter) Option {
	return func(w *Worker) {
		if e != nil {
			w.emitter = e
		}
	}
}

// WithSleep replaces the backoff sleep; tests use it to record delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Worker) {
		if fn != nil {
			w.sleep = fn
		}
	}
}

// Worker runs a Runner in its own goroutine with retry and backoff.
type Worker struct {
	runner  Runner
	cfg     Config
	log     *logger.Logger
	emitter Emitter
	sleep   func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	state       State
	starting    bool
	cancel      context.CancelFunc
	done        chan struct{}
	startedAt   time.Time
	iterations  int64
	errCount    int64
	consecutive int
	lastErr     string
}

func New(r Runner, opts ...Option) *Worker {
	w := &Worker{
		runner: r,
		cfg: Config{
			MaxConsecutiveFailures: 5,
			BackoffMin:             time.Second,
			BackoffMax:             time.Minute,
			CleanupTimeout:         10 * time.Second,
		},
		log:     logger.Nop(),
		emitter: EmitterFunc(func(context.Context, Event) {}),
		sleep:   sleepCtx,
		state:   StateStopped,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.cfg.BackoffMax < w.cfg.BackoffMin {
		w.cfg.BackoffMax = w.cfg.BackoffMin
	}
	return w
}

func (w *Worker) Name() string { return w.runner.Name() }

// Start runs Init synchronously and then the work loop in a new goroutine.
// The loop ends when ctx is cancelled, Stop is called, or the failure limit is hit.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.state == StateRunning || w.starting {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}
	if w.done != nil {
		select {
		case <-w.done:
		default:
			w.mu.Unlock()
			return ErrStillStopping
		}
	}
	w.starting = true
	w.mu.Unlock()

	name := w.runner.Name()
	if err := w.runner.Init(ctx); err != nil {
		w.mu.Lock()
		w.starting = false
		w.state = StateFailed
		w.lastErr = err.Error()
		w.errCount++
		w.mu.Unlock()
		w.log.Error("worker init failed", logger.String("worker", name), logger.Error(err))
		w.emitter.Emit(ctx, Event{Kind: EventError, Worker: name, State: StateFailed, Err: err})
		return fmt.Errorf("%s init: %w", name, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	once := &sync.Once{}

	w.mu.Lock()
	w.starting = false
	w.state = StateRunning
	w.cancel = cancel
	w.done = done
	w.startedAt = time.Now()
	w.consecutive = 0
	w.mu.Unlock()

	w.log.Info("worker started", logger.String("worker", name))
	w.emitter.Emit(ctx, Event{Kind: EventStarted, Worker: name, State: StateRunning})

	go w.loop(runCtx, done, once)
	return nil
}

// Stop cancels the loop and waits for it within ctx. Cleanup runs once per
// run, from the loop goroutine after the last RunOnce returned. On timeout the
// worker stays RUNNING until the loop gets there.
// Calling Stop on a worker that is not running is a no-op.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: timeout waiting for loop to exit: %w", w.runner.Name(), ctx.Err())
	}
}

func (w *Worker) loop(ctx context.Context, done chan struct{}, once *sync.Once) {
	defer close(done)
	name := w.runner.Name()

	for {
		if ctx.Err() != nil {
			w.finish(once, StateStopped, nil)
			return
		}

		err := w.runOnce(ctx)

		w.mu.Lock()
		w.iterations++
		w.mu.Unlock()

		if err == nil {
			w.mu.Lock()
			w.consecutive = 0
			w.mu.Unlock()
			continue
		}
		if ctx.Err() != nil {
			// cancellation surfaced as an error is not a failure
			w.finish(once, StateStopped, nil)
			return
		}

		w.mu.Lock()
		w.errCount++
		w.consecutive++
		n := w.consecutive
		w.lastErr = err.Error()
		w.mu.Unlock()

		if n >= w.cfg.MaxConsecutiveFailures {
			w.log.Error("worker giving up",
				logger.String("worker", name),
				logger.Int("consecutive_failures", n),
				logger.Error(err))
			w.emitter.Emit(ctx, Event{Kind: EventError, Worker: name, State: StateFailed, Err: err, ConsecutiveFailures: n})
			w.finish(once, StateFailed, err)
			return
		}

		delay := Backoff(w.cfg.BackoffMin, w.cfg.BackoffMax, n)
		w.log.Warn("worker iteration failed",
			logger.String("worker", name),
			logger.Int("consecutive_failures", n),
			logger.Duration("backoff_ms", delay),
			logger.Error(err))
		w.emitter.Emit(ctx, Event{Kind: EventError, Worker: name, State: StateRunning, Err: err, ConsecutiveFailures: n, Backoff: delay})

		if err := w.sleep(ctx, delay); err != nil {
			w.finish(once, StateStopped, nil)
			return
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			w.log.Error("worker panic recovered",
				logger.String("worker", w.runner.Name()),
				logger.String("stack", string(debug.Stack())))
		}
	}()
	return w.runner.RunOnce(ctx)
}

func (w *Worker) finish(once *sync.Once, final State, cause error) {
	once.Do(func() {
		name := w.runner.Name()
		cctx, cancel := context.WithTimeout(context.Background(), w.cfg.CleanupTimeout)
		defer cancel()
		if err := w.runner.Cleanup(cctx); err != nil {
			w.log.Warn("worker cleanup error", logger.String("worker", name), logger.Error(err))
		}

		w.mu.Lock()
		w.state = final
		w.cancel = nil
		w.mu.Unlock()

		w.log.Info("worker stopped", logger.String("worker", name), logger.String("state", string(final)))
		w.emitter.Emit(cctx, Event{Kind: EventStopped, Worker: name, State: final, Err: cause})
	})
}

func (w *Worker) Health() Health {
	w.mu.Lock()
	defer w.mu.Unlock()

	h := Health{
		Name:                w.runner.Name(),
		State:               w.state,
		Running:             w.state == StateRunning,
		Iterations:          w.iterations,
		Errors:              w.errCount,
		ConsecutiveFailures: w.consecutive,
		LastError:           w.lastErr,
	}
	if !w.startedAt.IsZero() {
		t := w.startedAt
		h.StartedAt = &t
		if h.Running {
			h.Uptime = time.Since(t)
		}
	}
	return h
}

// Backoff returns min·2^(attempt-1) capped at max.
func Backoff(min, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := min
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

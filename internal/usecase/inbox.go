package usecase

import (
	"context"
	"time"

	"StockAlert/internal/domain/events"
	drepo "StockAlert/internal/domain/repository"
	"StockAlert/pkg/logger"
)

// inbox is the bounded hand-off between bus handlers and a worker goroutine.
type inbox struct {
	owner   string
	ch      chan events.Event
	timeout time.Duration
	metrics drepo.Metrics
	log     *logger.Logger
}

func newInbox(owner string, size int, timeout time.Duration, m drepo.Metrics, log *logger.Logger) *inbox {
	return &inbox{
		owner:   owner,
		ch:      make(chan events.Event, size),
		timeout: timeout,
		metrics: m,
		log:     log,
	}
}

// push is an eventbus.Handler. It waits at most timeout for room and then
// drops the event.
func (in *inbox) push(ctx context.Context, ev events.Event) error {
	select {
	case in.ch <- ev:
		return nil
	default:
	}

	t := time.NewTimer(in.timeout)
	defer t.Stop()
	select {
	case in.ch <- ev:
		return nil
	case <-t.C:
	case <-ctx.Done():
	}
	in.metrics.RecordDropped(in.owner)
	in.log.Warn("inbox full, dropping event",
		logger.String("worker", in.owner),
		logger.String("kind", string(ev.Kind)),
		logger.String("event_id", ev.ID))
	return nil
}

// next waits up to idle for an event. ok is false on idle timeout.
func (in *inbox) next(ctx context.Context, idle time.Duration) (ev events.Event, ok bool, err error) {
	t := time.NewTimer(idle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return events.Event{}, false, ctx.Err()
	case <-t.C:
		return events.Event{}, false, nil
	case ev = <-in.ch:
		return ev, true, nil
	}
}

// subscribeAll registers push for every kind and returns the unsubscribers.
func (in *inbox) subscribeAll(bus EventBus, kinds ...events.Kind) []func() {
	unsubs := make([]func(), 0, len(kinds))
	for _, k := range kinds {
		unsubs = append(unsubs, bus.Subscribe(k, in.push))
	}
	return unsubs
}

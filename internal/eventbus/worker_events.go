package eventbus

import (
	"context"

	"StockAlert/internal/domain/events"
	"StockAlert/pkg/worker"
)

// WorkerEmitter publishes worker lifecycle changes as system events.
func (b *Bus) WorkerEmitter() worker.Emitter {
	return worker.EmitterFunc(func(ctx context.Context, ev worker.Event) {
		p := events.WorkerPayload{
			Worker:              ev.Worker,
			State:               string(ev.State),
			ConsecutiveFailures: ev.ConsecutiveFailures,
			BackoffMs:           ev.Backoff.Milliseconds(),
		}
		if ev.Err != nil {
			p.Error = ev.Err.Error()
		}

		var kind events.Kind
		switch ev.Kind {
		case worker.EventStarted:
			kind = events.WorkerStarted
		case worker.EventStopped:
			kind = events.WorkerStopped
		default:
			kind = events.WorkerError
		}
		b.Publish(ctx, events.New(kind, p))
	})
}

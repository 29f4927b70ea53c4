package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"StockAlert/internal/domain/events"
	"StockAlert/internal/domain/models"
	drepo "StockAlert/internal/domain/repository"
	"StockAlert/internal/domain/service"
	"StockAlert/pkg/logger"
)

type DispatcherConfig struct {
	InboxSize      int
	EnqueueTimeout time.Duration
	IdlePoll       time.Duration
	WebhookTimeout time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.InboxSize <= 0 {
		c.InboxSize = 256
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = 100 * time.Millisecond
	}
	if c.IdlePoll <= 0 {
		c.IdlePoll = time.Second
	}
	if c.WebhookTimeout <= 0 {
		c.WebhookTimeout = 10 * time.Second
	}
	return c
}

// NotificationDispatcher fans ALERT_TRIGGERED events out to the channels each
// alert asked for. Channels are independent: one failing never blocks or
// retries another.
type NotificationDispatcher struct {
	channels service.Channels
	bus      EventBus
	metrics  drepo.Metrics
	log      *logger.Logger
	cfg      DispatcherConfig

	inbox  *inbox
	unsubs []func()
}

func NewNotificationDispatcher(
	channels service.Channels,
	bus EventBus,
	metrics drepo.Metrics,
	log *logger.Logger,
	cfg DispatcherConfig,
) *NotificationDispatcher {
	cfg = cfg.withDefaults()
	d := &NotificationDispatcher{
		channels: channels,
		bus:      bus,
		metrics:  metrics,
		log:      log,
		cfg:      cfg,
	}
	d.inbox = newInbox(d.Name(), cfg.InboxSize, cfg.EnqueueTimeout, metrics, log)
	return d
}

func (d *NotificationDispatcher) Name() string { return "notification-dispatcher" }

func (d *NotificationDispatcher) Init(ctx context.Context) error {
	d.unsubs = d.inbox.subscribeAll(d.bus, events.AlertTriggered)
	return nil
}

func (d *NotificationDispatcher) RunOnce(ctx context.Context) error {
	ev, ok, err := d.inbox.next(ctx, d.cfg.IdlePoll)
	if err != nil || !ok {
		return err
	}
	p, ok := ev.Payload.(events.TriggeredPayload)
	if !ok || p.AlertID == "" {
		d.metrics.RecordError("dispatcher_malformed")
		d.log.Warn("dropping malformed trigger event",
			logger.String("event_id", ev.ID),
			logger.String("payload_type", fmt.Sprintf("%T", ev.Payload)))
		return nil
	}
	d.Dispatch(ctx, ev.ID, p)
	return nil
}

func (d *NotificationDispatcher) Cleanup(ctx context.Context) error {
	for _, unsub := range d.unsubs {
		unsub()
	}
	d.unsubs = nil
	return nil
}

// webhookBody is what webhook receivers get.
type webhookBody struct {
	EventID string `json:"eventId"`
	events.TriggeredPayload
}

// Dispatch delivers one trigger to every requested channel concurrently and
// returns the per-channel outcome.
func (d *NotificationDispatcher) Dispatch(ctx context.Context, eventID string, p events.TriggeredPayload) models.DispatchResult {
	res := models.DispatchResult{
		AlertID:  p.AlertID,
		EventID:  eventID,
		Outcomes: make(map[models.NotificationChannel]models.ChannelOutcome),
	}

	var channels []models.NotificationChannel
	for _, ch := range p.Channels() {
		if _, dup := res.Outcomes[ch]; dup {
			continue
		}
		res.Outcomes[ch] = models.OutcomeSkipped
		channels = append(channels, ch)
	}

	// each goroutine owns one slot; the map is filled after Wait
	outcomes := make([]models.ChannelOutcome, len(channels))
	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, ch models.NotificationChannel) {
			defer wg.Done()
			outcomes[i] = d.deliver(ctx, ch, eventID, p)
		}(i, ch)
	}
	wg.Wait()
	for i, ch := range channels {
		res.Outcomes[ch] = outcomes[i]
	}

	for ch, out := range res.Outcomes {
		d.metrics.RecordNotification(string(ch), string(out))
		fields := []logger.Field{
			logger.String("alert_id", p.AlertID),
			logger.String("event_id", eventID),
			logger.String("channel", string(ch)),
			logger.String("outcome", string(out)),
		}
		if out == models.OutcomeFailed {
			d.log.Warn("notification failed", fields...)
		} else {
			d.log.Debug("notification delivered", fields...)
		}
	}
	return res
}

func (d *NotificationDispatcher) deliver(ctx context.Context, ch models.NotificationChannel, eventID string, p events.TriggeredPayload) (out models.ChannelOutcome) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("notification channel panic",
				logger.String("channel", string(ch)),
				logger.String("alert_id", p.AlertID),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
			out = models.OutcomeFailed
		}
	}()

	priority := models.Priority(p.Priority)
	switch ch {
	case models.ChannelLocalNotice:
		if d.channels.Local == nil {
			return models.OutcomeSkipped
		}
		title := fmt.Sprintf("%s %s", p.Symbol, p.Condition)
		return outcome(d.channels.Local.Notice(ctx, title, p.Message, priority))

	case models.ChannelSound:
		if d.channels.Audible == nil {
			return models.OutcomeSkipped
		}
		return outcome(d.channels.Audible.Signal(ctx, priority))

	case models.ChannelWebhook:
		if d.channels.Webhook == nil || p.WebhookURL == "" {
			return models.OutcomeSkipped
		}
		body, err := json.Marshal(webhookBody{EventID: eventID, TriggeredPayload: p})
		if err != nil {
			return models.OutcomeFailed
		}
		return outcome(d.channels.Webhook.Call(ctx, p.WebhookURL, body, d.cfg.WebhookTimeout))
	}
	return models.OutcomeSkipped
}

func outcome(ok bool) models.ChannelOutcome {
	if ok {
		return models.OutcomeSent
	}
	return models.OutcomeFailed
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"StockAlert/internal/domain/events"
	"StockAlert/internal/domain/models"
	drepo "StockAlert/internal/domain/repository"
	"StockAlert/internal/eventbus"
	"StockAlert/internal/services/conditions"
	"StockAlert/pkg/logger"

	"github.com/google/uuid"
)

// EventBus is the part of eventbus.Bus the usecases depend on.
type EventBus interface {
	Publish(ctx context.Context, ev events.Event) events.Event
	Subscribe(kind events.Kind, fn eventbus.Handler) func()
}

// EvaluatorConfig tunes the alert evaluator.
type EvaluatorConfig struct {
	CacheTTL       time.Duration
	InboxSize      int
	EnqueueTimeout time.Duration
	IdlePoll       time.Duration
	StoreTimeout   time.Duration
}

func (c EvaluatorConfig) withDefaults() EvaluatorConfig {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 1024
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = 100 * time.Millisecond
	}
	if c.IdlePoll <= 0 {
		c.IdlePoll = time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	return c
}

// AlertEvaluator matches price updates against active alerts.
//
// Bus handlers only enqueue; the per-instrument cache is owned by the worker
// goroutine running RunOnce and needs no locking.
type AlertEvaluator struct {
	store   drepo.AlertStore
	bus     EventBus
	eval    conditions.Evaluator
	metrics drepo.Metrics
	log     *logger.Logger
	cfg     EvaluatorConfig
	now     func() time.Time
	newID   func() string

	inbox  *inbox
	unsubs []func()

	cache        map[string][]*models.Alert
	cacheBuiltAt time.Time
}

func NewAlertEvaluator(
	store drepo.AlertStore,
	bus EventBus,
	eval conditions.Evaluator,
	metrics drepo.Metrics,
	log *logger.Logger,
	cfg EvaluatorConfig,
) *AlertEvaluator {
	cfg = cfg.withDefaults()
	e := &AlertEvaluator{
		store:   store,
		bus:     bus,
		eval:    eval,
		metrics: metrics,
		log:     log,
		cfg:     cfg,
		now:     time.Now,
		newID:   uuid.NewString,
		cache:   make(map[string][]*models.Alert),
	}
	e.inbox = newInbox(e.Name(), cfg.InboxSize, cfg.EnqueueTimeout, metrics, log)
	return e
}

func (e *AlertEvaluator) Name() string { return "alert-evaluator" }

func (e *AlertEvaluator) Init(ctx context.Context) error {
	e.resetCache()
	e.unsubs = e.inbox.subscribeAll(e.bus,
		events.PriceUpdate,
		events.AlertCreated,
		events.AlertUpdated,
		events.AlertDeleted,
	)
	return nil
}

func (e *AlertEvaluator) RunOnce(ctx context.Context) error {
	if now := e.now(); now.Sub(e.cacheBuiltAt) >= e.cfg.CacheTTL {
		e.resetCache()
	}
	ev, ok, err := e.inbox.next(ctx, e.cfg.IdlePoll)
	if err != nil || !ok {
		return err
	}
	return e.handle(ctx, ev)
}

func (e *AlertEvaluator) Cleanup(ctx context.Context) error {
	for _, unsub := range e.unsubs {
		unsub()
	}
	e.unsubs = nil
	e.resetCache()
	return nil
}

func (e *AlertEvaluator) handle(ctx context.Context, ev events.Event) error {
	switch ev.Kind {
	case events.PriceUpdate:
		p, ok := ev.Payload.(events.PricePayload)
		if !ok {
			e.malformed(ev, fmt.Errorf("payload type %T", ev.Payload))
			return nil
		}
		upd, err := p.ToPriceUpdate()
		if err != nil {
			e.malformed(ev, err)
			return nil
		}
		return e.processPrice(ctx, upd)

	case events.AlertCreated, events.AlertUpdated, events.AlertDeleted:
		p, ok := ev.Payload.(events.LifecyclePayload)
		if !ok || p.InstrumentKey == "" {
			e.resetCache()
			return nil
		}
		delete(e.cache, p.InstrumentKey)
	}
	return nil
}

func (e *AlertEvaluator) malformed(ev events.Event, err error) {
	e.metrics.RecordError("evaluator_malformed")
	e.log.Warn("dropping malformed event",
		logger.String("kind", string(ev.Kind)),
		logger.String("event_id", ev.ID),
		logger.Error(err))
}

func (e *AlertEvaluator) resetCache() {
	e.cache = make(map[string][]*models.Alert)
	e.cacheBuiltAt = e.now()
}

func (e *AlertEvaluator) alertsFor(ctx context.Context, key string) ([]*models.Alert, error) {
	if alerts, ok := e.cache[key]; ok {
		return alerts, nil
	}
	sctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	loaded, err := e.store.LoadActiveAlertsForInstrument(sctx, key)
	if err != nil {
		e.metrics.RecordError("evaluator_load")
		return nil, fmt.Errorf("load alerts for %s: %w", key, err)
	}
	alerts := make([]*models.Alert, 0, len(loaded))
	for _, a := range loaded {
		if a.Status == models.StatusActive {
			alerts = append(alerts, a)
		}
	}
	e.cache[key] = alerts
	return alerts, nil
}

// processPrice runs one evaluation cycle for an instrument.
func (e *AlertEvaluator) processPrice(ctx context.Context, upd *models.PriceUpdate) error {
	start := time.Now()
	key := upd.InstrumentKey
	alerts, err := e.alertsFor(ctx, key)
	if err != nil {
		return err
	}
	e.metrics.RecordLastPrice(key, upd.Price)

	now := e.now()
	keep := alerts[:0:0]
	stale := false
	for _, a := range alerts {
		if a.Status != models.StatusActive {
			continue
		}
		if a.IsExpired(now) {
			if !e.expire(ctx, a, now) {
				keep = append(keep, a)
			}
			continue
		}

		fired, retry, wasStale := e.consider(ctx, a, upd, now)
		stale = stale || wasStale
		if fired && a.Status != models.StatusActive {
			continue
		}
		keep = append(keep, a)
		if !retry {
			e.rememberPrice(ctx, a, upd.Price, fired, now)
		}
	}

	if stale {
		delete(e.cache, key)
	} else {
		e.cache[key] = keep
	}
	e.metrics.RecordLatency("evaluate", time.Since(start).Seconds())
	return nil
}

// consider evaluates a single alert. retry reports a trigger that could not be
// persisted, so the next observation must see the same previous price.
func (e *AlertEvaluator) consider(ctx context.Context, a *models.Alert, upd *models.PriceUpdate, now time.Time) (fired, retry, stale bool) {
	if !a.ShouldTriggerAgain(now) {
		return false, false, false
	}
	res, err := e.safeEvaluate(a, upd)
	if err != nil {
		e.metrics.RecordError("evaluator_condition")
		e.log.Warn("condition evaluation failed",
			logger.String("alert_id", a.ID),
			logger.String("condition", string(a.Condition)),
			logger.Error(err))
		return false, false, false
	}
	if !res.Triggered {
		return false, false, false
	}

	err = e.trigger(ctx, a, upd, res, now)
	switch {
	case err == nil:
		return true, false, false
	case errors.Is(err, models.ErrStale):
		e.log.Info("alert changed underneath evaluator, reloading",
			logger.String("alert_id", a.ID))
		return false, true, true
	default:
		e.metrics.RecordError("evaluator_persist")
		e.log.Error("persist trigger failed",
			logger.String("alert_id", a.ID),
			logger.Error(err))
		return false, true, false
	}
}

func (e *AlertEvaluator) safeEvaluate(a *models.Alert, upd *models.PriceUpdate) (res conditions.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluator panic: %v", r)
			e.log.Error("condition evaluator panic",
				logger.String("alert_id", a.ID),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
		}
	}()
	return e.eval.Evaluate(a, upd)
}

// trigger persists the trigger bookkeeping, appends the audit record and
// publishes ALERT_TRIGGERED. The in-memory alert changes only after the store
// accepted the patch.
func (e *AlertEvaluator) trigger(ctx context.Context, a *models.Alert, upd *models.PriceUpdate, res conditions.Result, now time.Time) error {
	patch := a.TriggerPatch(now, upd.Price)
	if err := e.patch(ctx, a.ID, patch); err != nil {
		return err
	}
	a.Apply(patch)

	msg := res.Message
	if a.Message != "" {
		msg = msg + ": " + a.Message
	}

	eventID := e.newID()
	rec := &models.AlertTriggerRecord{
		EventID:       eventID,
		AlertID:       a.ID,
		UserID:        a.UserID,
		Symbol:        a.Symbol,
		InstrumentKey: a.InstrumentKey,
		Condition:     a.Condition,
		TargetValue:   a.TargetValue,
		ActualValue:   res.Actual,
		Message:       msg,
		TriggeredAt:   now,
	}
	sctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	if err := e.store.AppendTriggerRecord(sctx, rec); err != nil {
		e.metrics.RecordError("evaluator_history")
		e.log.Warn("append trigger record failed",
			logger.String("alert_id", a.ID),
			logger.String("event_id", eventID),
			logger.Error(err))
	}
	cancel()

	e.bus.Publish(ctx, events.Event{
		Kind:    events.AlertTriggered,
		ID:      eventID,
		Payload: events.TriggeredOf(a, res.Actual, msg),
	})
	e.metrics.RecordTrigger(string(a.Condition))
	e.log.Info("alert triggered",
		logger.String("alert_id", a.ID),
		logger.String("instrument", a.InstrumentKey),
		logger.String("condition", string(a.Condition)),
		logger.Float64("actual", res.Actual),
		logger.Int("trigger_count", a.TriggerCount))
	return nil
}

// expire persists EXPIRED. It reports whether the alert may leave the cache.
func (e *AlertEvaluator) expire(ctx context.Context, a *models.Alert, now time.Time) bool {
	patch := models.TransitionPatch(a.Status, models.StatusExpired, now)
	if err := e.patch(ctx, a.ID, patch); err != nil && !errors.Is(err, models.ErrStale) {
		e.metrics.RecordError("evaluator_expire")
		e.log.Warn("expire alert failed", logger.String("alert_id", a.ID), logger.Error(err))
		return false
	}
	a.Apply(patch)
	e.log.Info("alert expired", logger.String("alert_id", a.ID))
	return true
}

// rememberPrice keeps the observation for crossing conditions. Only conditions
// that read the previous price persist it; a trigger patch already carried it.
func (e *AlertEvaluator) rememberPrice(ctx context.Context, a *models.Alert, price float64, fired bool, now time.Time) {
	changed := a.PreviousPrice == nil || *a.PreviousPrice != price
	p := price
	a.PreviousPrice = &p
	if fired || !changed || !a.Condition.NeedsPreviousPrice() {
		return
	}
	patch := models.AlertPatch{PreviousPrice: &p, UpdatedAt: now}
	if err := e.patch(ctx, a.ID, patch); err != nil {
		e.log.Debug("persist previous price failed", logger.String("alert_id", a.ID), logger.Error(err))
		return
	}
	a.UpdatedAt = now
}

func (e *AlertEvaluator) patch(ctx context.Context, id string, p models.AlertPatch) error {
	sctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	return e.store.UpdateAlertFields(sctx, id, p)
}

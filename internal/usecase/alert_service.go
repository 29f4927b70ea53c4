package usecase

import (
	"context"
	"fmt"
	"time"

	"StockAlert/internal/domain/events"
	"StockAlert/internal/domain/models"
	drepo "StockAlert/internal/domain/repository"
	"StockAlert/internal/services/conditions"
	"StockAlert/pkg/logger"

	"github.com/google/uuid"
)

// PriceLookup returns the last observed price for an instrument, if any.
type PriceLookup interface {
	LastPrice(ctx context.Context, instrumentKey string) (float64, bool)
}

// AlertUpdate carries owner-editable fields; nil means unchanged.
type AlertUpdate struct {
	TargetValue  *float64
	TargetValue2 *float64
	Priority     *models.Priority
	Channels     []models.NotificationChannel
	WebhookURL   *string
	Message      *string
	TriggerOnce  *bool
	Cooldown     *time.Duration
	ExpiresAt    *time.Time
}

// AlertService implements the owner operations. Every change is announced on
// the bus so evaluator caches drop the instrument.
type AlertService struct {
	store   drepo.AlertStore
	bus     EventBus
	prices  PriceLookup
	metrics drepo.Metrics
	log     *logger.Logger
	now     func() time.Time
	newID   func() string
}

func NewAlertService(store drepo.AlertStore, bus EventBus, prices PriceLookup, metrics drepo.Metrics, log *logger.Logger) *AlertService {
	return &AlertService{
		store:   store,
		bus:     bus,
		prices:  prices,
		metrics: metrics,
		log:     log,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

func (s *AlertService) Create(ctx context.Context, a *models.Alert) (*models.Alert, error) {
	now := s.now().UTC()
	a.ID = s.newID()
	a.Status = models.StatusActive
	if a.Category == "" {
		a.Category = a.Condition.Category()
	}
	if a.Priority == "" {
		a.Priority = models.PriorityMedium
	}
	if a.InstrumentKey == "" {
		a.InstrumentKey = a.Symbol
	}
	a.TriggerCount, a.LastTriggeredAt, a.PreviousPrice = 0, nil, nil
	a.CreatedAt, a.UpdatedAt = now, now
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreateAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}
	s.announce(ctx, events.AlertCreated, a)
	return a, nil
}

// Get returns the alert when userID owns it.
func (s *AlertService) Get(ctx context.Context, userID, id string) (*models.Alert, error) {
	a, err := s.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		return nil, models.ErrForbidden
	}
	return a, nil
}

func (s *AlertService) List(ctx context.Context, userID string, status models.AlertStatus) ([]*models.Alert, error) {
	return s.store.ListAlertsByUser(ctx, userID, status)
}

func (s *AlertService) Update(ctx context.Context, userID, id string, u AlertUpdate) (*models.Alert, error) {
	a, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if a.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: alert is %s", models.ErrInvalidTransition, a.Status)
	}

	if u.TargetValue != nil {
		a.TargetValue = *u.TargetValue
	}
	if u.TargetValue2 != nil {
		a.TargetValue2 = u.TargetValue2
	}
	if u.Priority != nil {
		a.Priority = *u.Priority
	}
	if u.Channels != nil {
		a.Channels = u.Channels
	}
	if u.WebhookURL != nil {
		a.WebhookURL = *u.WebhookURL
	}
	if u.Message != nil {
		a.Message = *u.Message
	}
	if u.TriggerOnce != nil {
		a.TriggerOnce = *u.TriggerOnce
	}
	if u.Cooldown != nil {
		a.Cooldown = *u.Cooldown
	}
	if u.ExpiresAt != nil {
		a.ExpiresAt = u.ExpiresAt
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}

	a.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("update alert: %w", err)
	}
	s.announce(ctx, events.AlertUpdated, a)
	return a, nil
}

func (s *AlertService) Pause(ctx context.Context, userID, id string) (*models.Alert, error) {
	return s.transition(ctx, userID, id, models.StatusPaused, events.AlertUpdated, nil)
}

// Resume reactivates a paused alert. A triggered alert needs Reset. The
// previous price is dropped so no crossing fires on the first observation.
func (s *AlertService) Resume(ctx context.Context, userID, id string) (*models.Alert, error) {
	a, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if a.Status != models.StatusPaused {
		return nil, fmt.Errorf("%w: cannot resume %s alert", models.ErrInvalidTransition, a.Status)
	}
	return s.transition(ctx, userID, id, models.StatusActive, events.AlertUpdated, func(p *models.AlertPatch) {
		p.ClearPreviousPrice = true
	})
}

// Reset rearms a triggered alert, clearing its trigger bookkeeping.
func (s *AlertService) Reset(ctx context.Context, userID, id string) (*models.Alert, error) {
	a, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if a.Status != models.StatusTriggered {
		return nil, fmt.Errorf("%w: cannot reset %s alert", models.ErrInvalidTransition, a.Status)
	}
	return s.transition(ctx, userID, id, models.StatusActive, events.AlertUpdated, func(p *models.AlertPatch) {
		p.ClearTriggerState = true
		p.ClearPreviousPrice = true
	})
}

// Delete cancels the alert. Cancelled alerts are kept for their history.
func (s *AlertService) Delete(ctx context.Context, userID, id string) error {
	_, err := s.transition(ctx, userID, id, models.StatusCancelled, events.AlertDeleted, nil)
	return err
}

// transition writes the status change only if the stored status is still the
// one validated here; a concurrent trigger or sweep makes it ErrStale.
func (s *AlertService) transition(ctx context.Context, userID, id string, to models.AlertStatus, kind events.Kind, edit func(*models.AlertPatch)) (*models.Alert, error) {
	a, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !a.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, a.Status, to)
	}
	patch := models.TransitionPatch(a.Status, to, s.now().UTC())
	if edit != nil {
		edit(&patch)
	}
	if err := s.store.UpdateAlertFields(ctx, a.ID, patch); err != nil {
		return nil, fmt.Errorf("%s alert: %w", to, err)
	}
	a.Apply(patch)
	s.announce(ctx, kind, a)
	return a, nil
}

// TriggerCustom fires a CUSTOM alert on its owner's request. price is the
// observed value to report; zero falls back to the last known price.
func (s *AlertService) TriggerCustom(ctx context.Context, userID, id string, price float64) (*models.AlertTriggerRecord, error) {
	a, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if a.Category != models.CategoryCustom || a.Status != models.StatusActive {
		return nil, fmt.Errorf("%w: %s alert in status %s", models.ErrNotTriggerable, a.Category, a.Status)
	}
	now := s.now().UTC()
	if !a.ShouldTriggerAgain(now) {
		return nil, fmt.Errorf("%w: cooling down", models.ErrNotTriggerable)
	}
	if price <= 0 && s.prices != nil {
		if p, ok := s.prices.LastPrice(ctx, a.InstrumentKey); ok {
			price = p
		}
	}

	patch := a.TriggerPatch(now, price)
	if price <= 0 {
		patch.PreviousPrice = nil
	}
	if err := s.store.UpdateAlertFields(ctx, a.ID, patch); err != nil {
		return nil, fmt.Errorf("trigger alert: %w", err)
	}
	a.Apply(patch)

	msg := conditions.ManualMessage(a, price)
	rec := &models.AlertTriggerRecord{
		EventID:       s.newID(),
		AlertID:       a.ID,
		UserID:        a.UserID,
		Symbol:        a.Symbol,
		InstrumentKey: a.InstrumentKey,
		Condition:     a.Condition,
		TargetValue:   a.TargetValue,
		ActualValue:   price,
		Message:       msg,
		TriggeredAt:   now,
	}
	if err := s.store.AppendTriggerRecord(ctx, rec); err != nil {
		s.log.Warn("append trigger record failed", logger.String("alert_id", a.ID), logger.Error(err))
	}
	s.bus.Publish(ctx, events.Event{
		Kind:    events.AlertTriggered,
		ID:      rec.EventID,
		Payload: events.TriggeredOf(a, price, msg),
	})
	s.metrics.RecordTrigger(string(a.Condition))
	return rec, nil
}

// History returns the newest trigger records first.
func (s *AlertService) History(ctx context.Context, userID, id string, limit int) ([]*models.AlertTriggerRecord, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.store.ListTriggers(ctx, id, limit)
}

func (s *AlertService) announce(ctx context.Context, kind events.Kind, a *models.Alert) {
	s.bus.Publish(ctx, events.New(kind, events.LifecycleOf(a)))
	s.log.Info("alert lifecycle",
		logger.String("kind", string(kind)),
		logger.String("alert_id", a.ID),
		logger.String("status", string(a.Status)))
}

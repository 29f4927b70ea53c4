package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"StockAlert/internal/domain/events"
	"StockAlert/internal/domain/models"
	"StockAlert/pkg/metrics"
)

// memStore is an in-memory AlertStore with failure injection.
type memStore struct {
	mu       sync.Mutex
	alerts   map[string]*models.Alert
	triggers []*models.AlertTriggerRecord
	patches  []models.AlertPatch

	loads       int
	loadErr     error
	failUpdates int
}

func newMemStore(alerts ...*models.Alert) *memStore {
	s := &memStore{alerts: make(map[string]*models.Alert)}
	for _, a := range alerts {
		s.alerts[a.ID] = a.Clone()
	}
	return s
}

func (s *memStore) LoadActiveAlertsForInstrument(ctx context.Context, key string) ([]*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	var out []*models.Alert
	for _, a := range s.alerts {
		if a.InstrumentKey == key && a.Status == models.StatusActive {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) UpdateAlertFields(ctx context.Context, id string, p models.AlertPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdates > 0 {
		s.failUpdates--
		return errors.New("store unavailable")
	}
	a, ok := s.alerts[id]
	if !ok {
		return models.ErrNotFound
	}
	if a.UpdatedAt.After(p.UpdatedAt) {
		return models.ErrStale
	}
	if p.ExpectStatus != nil && a.Status != *p.ExpectStatus {
		return models.ErrStale
	}
	a.Apply(p)
	s.patches = append(s.patches, p)
	return nil
}

func (s *memStore) AppendTriggerRecord(ctx context.Context, rec *models.AlertTriggerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.triggers {
		if r.EventID == rec.EventID {
			return nil
		}
	}
	cp := *rec
	s.triggers = append(s.triggers, &cp)
	return nil
}

func (s *memStore) ListTriggers(ctx context.Context, alertID string, limit int) ([]*models.AlertTriggerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AlertTriggerRecord
	for i := len(s.triggers) - 1; i >= 0; i-- {
		if s.triggers[i].AlertID == alertID {
			out = append(out, s.triggers[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) CreateAlert(ctx context.Context, a *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[a.ID] = a.Clone()
	return nil
}

func (s *memStore) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return a.Clone(), nil
}

func (s *memStore) ListAlertsByUser(ctx context.Context, userID string, status models.AlertStatus) ([]*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Alert
	for _, a := range s.alerts {
		if a.UserID == userID && (status == "" || a.Status == status) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) UpdateAlert(ctx context.Context, a *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.alerts[a.ID]
	if !ok {
		return models.ErrNotFound
	}
	if cur.UpdatedAt.After(a.UpdatedAt) {
		return models.ErrStale
	}
	s.alerts[a.ID] = a.Clone()
	return nil
}

func (s *memStore) ExpireDue(ctx context.Context, now time.Time) ([]*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Alert
	for _, a := range s.alerts {
		if (a.Status == models.StatusActive || a.Status == models.StatusPaused) && a.IsExpired(now) {
			a.Status = models.StatusExpired
			a.UpdatedAt = now
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) get(id string) *models.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alerts[id].Clone()
}

// recorder collects published events of the given kinds.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(ctx context.Context, ev events.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// countingMetrics counts the calls the tests assert on.
type countingMetrics struct {
	metrics.Noop
	mu            sync.Mutex
	dropped       int
	triggers      int
	notifications map[string]int
}

func (m *countingMetrics) RecordDropped(string) {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordTrigger(string) {
	m.mu.Lock()
	m.triggers++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordNotification(channel, outcome string) {
	m.mu.Lock()
	if m.notifications == nil {
		m.notifications = make(map[string]int)
	}
	m.notifications[channel+"/"+outcome]++
	m.mu.Unlock()
}

package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"StockAlert/internal/domain/events"
	"StockAlert/internal/domain/models"
	"StockAlert/internal/eventbus"
	"StockAlert/pkg/logger"
)

type staticPrices map[string]float64

func (p staticPrices) LastPrice(ctx context.Context, key string) (float64, bool) {
	v, ok := p[key]
	return v, ok
}

func newService(t *testing.T) (*AlertService, *memStore, *recorder) {
	t.Helper()
	store := newMemStore()
	bus := eventbus.New()
	rec := &recorder{}
	for _, k := range []events.Kind{events.AlertCreated, events.AlertUpdated, events.AlertDeleted, events.AlertTriggered} {
		bus.Subscribe(k, rec.handle)
	}
	svc := NewAlertService(store, bus, staticPrices{instrument: 2450}, &countingMetrics{}, logger.Nop())
	clk := &clock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	svc.now = func() time.Time {
		clk.advance(time.Second)
		return clk.now()
	}
	return svc, store, rec
}

func draft(c models.Condition) *models.Alert {
	return &models.Alert{
		UserID:        "u1",
		Symbol:        "RELIANCE",
		InstrumentKey: instrument,
		Condition:     c,
		TargetValue:   2500,
		Channels:      []models.NotificationChannel{models.ChannelLocalNotice},
	}
}

func TestCreateValidatesAndAnnounces(t *testing.T) {
	svc, store, rec := newService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, draft(models.PriceAbove))
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == "" || a.Status != models.StatusActive || a.Category != models.CategoryPrice || a.Priority != models.PriorityMedium {
		t.Fatalf("created = %+v", a)
	}
	if _, err := store.GetAlert(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	evs := rec.all()
	if len(evs) != 1 || evs[0].Kind != events.AlertCreated {
		t.Fatalf("events = %+v", evs)
	}
	if p := evs[0].Payload.(events.LifecyclePayload); p.InstrumentKey != instrument || p.AlertID != a.ID {
		t.Fatalf("payload = %+v", p)
	}

	bad := draft(models.PriceAbove)
	bad.TargetValue = 0
	if _, err := svc.Create(ctx, bad); !errors.Is(err, models.ErrInvalidAlert) {
		t.Fatalf("err = %v", err)
	}
}

func TestOwnershipIsEnforced(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	a, _ := svc.Create(ctx, draft(models.PriceAbove))

	if _, err := svc.Get(ctx, "intruder", a.ID); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("err = %v", err)
	}
	if err := svc.Delete(ctx, "intruder", a.ID); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("err = %v", err)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	svc, store, rec := newService(t)
	ctx := context.Background()
	a, _ := svc.Create(ctx, draft(models.PriceAbove))

	if _, err := svc.Pause(ctx, "u1", a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Reset(ctx, "u1", a.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("reset of paused alert: %v", err)
	}
	if _, err := svc.Resume(ctx, "u1", a.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, "u1", a.ID); err != nil {
		t.Fatal(err)
	}
	if st := store.get(a.ID).Status; st != models.StatusCancelled {
		t.Fatalf("status = %s", st)
	}
	if _, err := svc.Resume(ctx, "u1", a.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("resume of cancelled alert: %v", err)
	}

	kinds := []events.Kind{}
	for _, ev := range rec.all() {
		kinds = append(kinds, ev.Kind)
	}
	want := []events.Kind{events.AlertCreated, events.AlertUpdated, events.AlertUpdated, events.AlertDeleted}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds = %v", kinds)
		}
	}
}

func TestResetRearmsTriggerOnce(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	d := draft(models.PriceCrossesAbove)
	d.TriggerOnce = true
	a, _ := svc.Create(ctx, d)

	at := svc.now()
	store.mu.Lock()
	store.alerts[a.ID].Apply(store.alerts[a.ID].TriggerPatch(at, 2501))
	store.mu.Unlock()

	got, err := svc.Reset(ctx, "u1", a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusActive || got.TriggerCount != 0 || got.LastTriggeredAt != nil || got.PreviousPrice != nil {
		t.Fatalf("reset = %+v", got)
	}
	if !store.get(a.ID).ShouldTriggerAgain(svc.now()) {
		t.Fatal("reset alert must be eligible again")
	}
}

// staleReadStore serves a fixed snapshot on GetAlert, as if another writer
// changed the row right after the read.
type staleReadStore struct {
	*memStore
	snapshot *models.Alert
}

func (s *staleReadStore) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	return s.snapshot.Clone(), nil
}

func TestPauseLosesToConcurrentTrigger(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	d := draft(models.PriceAbove)
	d.TriggerOnce = true
	a, _ := svc.Create(ctx, d)

	snapshot := store.get(a.ID)
	store.mu.Lock()
	store.alerts[a.ID].Apply(store.alerts[a.ID].TriggerPatch(svc.now(), 2501))
	store.mu.Unlock()
	svc.store = &staleReadStore{memStore: store, snapshot: snapshot}

	if _, err := svc.Pause(ctx, "u1", a.ID); !errors.Is(err, models.ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}
	if st := store.get(a.ID).Status; st != models.StatusTriggered {
		t.Fatalf("status = %s, want TRIGGERED", st)
	}
}

func TestUpdateOwnerFields(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	a, _ := svc.Create(ctx, draft(models.PriceAbove))

	target := 2600.0
	cooldown := 15 * time.Minute
	got, err := svc.Update(ctx, "u1", a.ID, AlertUpdate{TargetValue: &target, Cooldown: &cooldown})
	if err != nil {
		t.Fatal(err)
	}
	if got.TargetValue != 2600 || store.get(a.ID).Cooldown != cooldown {
		t.Fatalf("updated = %+v", got)
	}

	zero := 0.0
	if _, err := svc.Update(ctx, "u1", a.ID, AlertUpdate{TargetValue: &zero}); !errors.Is(err, models.ErrInvalidAlert) {
		t.Fatalf("err = %v", err)
	}
}

func TestTriggerCustom(t *testing.T) {
	svc, store, rec := newService(t)
	ctx := context.Background()
	d := draft(models.Custom)
	d.TargetValue = 1
	d.Cooldown = time.Hour
	a, _ := svc.Create(ctx, d)

	r, err := svc.TriggerCustom(ctx, "u1", a.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if r.ActualValue != 2450 {
		t.Fatalf("actual = %v, want last known price", r.ActualValue)
	}
	if _, err := svc.TriggerCustom(ctx, "u1", a.ID, 0); !errors.Is(err, models.ErrNotTriggerable) {
		t.Fatalf("second trigger inside cooldown: %v", err)
	}
	if store.get(a.ID).TriggerCount != 1 || len(store.triggers) != 1 {
		t.Fatal("trigger not recorded")
	}

	var triggered int
	for _, ev := range rec.all() {
		if ev.Kind == events.AlertTriggered {
			triggered++
			if ev.ID != r.EventID {
				t.Fatalf("event id %s != record %s", ev.ID, r.EventID)
			}
		}
	}
	if triggered != 1 {
		t.Fatalf("triggered events = %d", triggered)
	}

	hist, err := svc.History(ctx, "u1", a.ID, 0)
	if err != nil || len(hist) != 1 {
		t.Fatalf("history = %v, %v", hist, err)
	}
}

func TestTriggerCustomRejectsPriceAlerts(t *testing.T) {
	svc, _, _ := newService(t)
	a, _ := svc.Create(context.Background(), draft(models.PriceAbove))
	if _, err := svc.TriggerCustom(context.Background(), "u1", a.ID, 10); !errors.Is(err, models.ErrNotTriggerable) {
		t.Fatalf("err = %v", err)
	}
}

package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"StockAlert/internal/domain/events"
	"StockAlert/internal/domain/models"
	"StockAlert/internal/eventbus"
	"StockAlert/internal/services/conditions"
	"StockAlert/pkg/logger"
)

const instrument = "NSE:RELIANCE"

type evalFixture struct {
	store     *memStore
	bus       *eventbus.Bus
	eval      *AlertEvaluator
	clk       *clock
	triggered *recorder
	metrics   *countingMetrics
}

func newEvalFixture(t *testing.T, alerts ...*models.Alert) *evalFixture {
	t.Helper()
	f := &evalFixture{
		store:     newMemStore(alerts...),
		bus:       eventbus.New(),
		clk:       &clock{t: time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)},
		triggered: &recorder{},
		metrics:   &countingMetrics{},
	}
	f.bus.Subscribe(events.AlertTriggered, f.triggered.handle)
	f.eval = NewAlertEvaluator(f.store, f.bus, conditions.NewComposite(), f.metrics, logger.Nop(),
		EvaluatorConfig{IdlePoll: 10 * time.Millisecond, CacheTTL: time.Hour})
	f.eval.now = f.clk.now
	if err := f.eval.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = f.eval.Cleanup(context.Background()) })
	return f
}

// price publishes one observation and lets the evaluator consume it.
func (f *evalFixture) price(t *testing.T, p float64) {
	t.Helper()
	f.bus.Publish(context.Background(), events.New(events.PriceUpdate, events.FromPriceUpdate(&models.PriceUpdate{
		Symbol:        "RELIANCE",
		InstrumentKey: instrument,
		Price:         p,
		Timestamp:     f.clk.now(),
	})))
	f.step(t)
}

func (f *evalFixture) step(t *testing.T) {
	t.Helper()
	if err := f.eval.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
}

func priceAlert(id string, c models.Condition, target float64) *models.Alert {
	return &models.Alert{
		ID:            id,
		UserID:        "u1",
		Symbol:        "RELIANCE",
		InstrumentKey: instrument,
		Category:      c.Category(),
		Condition:     c,
		TargetValue:   target,
		Status:        models.StatusActive,
		Priority:      models.PriorityHigh,
		Channels:      []models.NotificationChannel{models.ChannelLocalNotice},
	}
}

func TestEvaluatorThresholdFiresOnce(t *testing.T) {
	f := newEvalFixture(t, priceAlert("a1", models.PriceAbove, 2500))

	for _, p := range []float64{2490, 2495, 2501} {
		f.price(t, p)
	}

	got := f.triggered.all()
	if len(got) != 1 {
		t.Fatalf("expected 1 trigger, got %d", len(got))
	}
	p := got[0].Payload.(events.TriggeredPayload)
	if p.AlertID != "a1" || p.ActualValue != 2501 {
		t.Fatalf("payload = %+v", p)
	}
	if !strings.Contains(p.Message, "2501") || !strings.Contains(p.Message, "2500") {
		t.Fatalf("message = %q", p.Message)
	}

	stored := f.store.get("a1")
	if stored.TriggerCount != 1 || stored.Status != models.StatusActive || stored.LastTriggeredAt == nil {
		t.Fatalf("stored = %+v", stored)
	}
	if len(f.store.triggers) != 1 || f.store.triggers[0].EventID != got[0].ID {
		t.Fatalf("trigger record must share the event id: %+v", f.store.triggers)
	}
	if f.store.loads != 1 {
		t.Fatalf("alerts loaded %d times, want 1", f.store.loads)
	}
}

func TestEvaluatorCrossingRespectsCooldown(t *testing.T) {
	a := priceAlert("a1", models.PriceCrossesAbove, 100)
	a.Cooldown = time.Hour
	f := newEvalFixture(t, a)

	f.price(t, 95)
	if prev := f.store.get("a1").PreviousPrice; prev == nil || *prev != 95 {
		t.Fatalf("previous price not persisted: %v", prev)
	}

	f.clk.advance(time.Minute)
	f.price(t, 105)
	if prev := f.store.get("a1").PreviousPrice; prev == nil || *prev != 105 {
		t.Fatalf("trigger patch should carry the price: %v", prev)
	}

	f.clk.advance(time.Minute)
	f.price(t, 110)

	if n := len(f.triggered.all()); n != 1 {
		t.Fatalf("expected 1 trigger, got %d", n)
	}
}

func TestEvaluatorTriggerOnce(t *testing.T) {
	a := priceAlert("a1", models.PriceBelow, 100)
	a.TriggerOnce = true
	f := newEvalFixture(t, a)

	f.price(t, 99)
	f.price(t, 98)

	if n := len(f.triggered.all()); n != 1 {
		t.Fatalf("expected 1 trigger, got %d", n)
	}
	if st := f.store.get("a1").Status; st != models.StatusTriggered {
		t.Fatalf("status = %s", st)
	}
}

func TestEvaluatorCrossingIgnoresPriceSeenBeforePause(t *testing.T) {
	f := newEvalFixture(t, priceAlert("a1", models.PriceCrossesAbove, 100))
	svc := NewAlertService(f.store, f.bus, nil, f.metrics, logger.Nop())
	svc.now = f.clk.now
	ctx := context.Background()

	f.price(t, 95)

	f.clk.advance(time.Minute)
	if _, err := svc.Pause(ctx, "u1", "a1"); err != nil {
		t.Fatal(err)
	}
	f.step(t)
	f.clk.advance(time.Minute)
	f.price(t, 130)

	f.clk.advance(time.Minute)
	if _, err := svc.Resume(ctx, "u1", "a1"); err != nil {
		t.Fatal(err)
	}
	if prev := f.store.get("a1").PreviousPrice; prev != nil {
		t.Fatalf("resume kept previous price %v", *prev)
	}
	f.step(t)
	f.clk.advance(time.Minute)
	f.price(t, 105)

	if n := len(f.triggered.all()); n != 0 {
		t.Fatalf("crossing fired %d time(s) on first observation after resume", n)
	}
	if prev := f.store.get("a1").PreviousPrice; prev == nil || *prev != 105 {
		t.Fatalf("previous price after resume = %v", prev)
	}

	f.clk.advance(time.Minute)
	f.price(t, 99)
	f.clk.advance(time.Minute)
	f.price(t, 101)
	if n := len(f.triggered.all()); n != 1 {
		t.Fatalf("expected 1 trigger after a real crossing, got %d", n)
	}
}

func TestEvaluatorInvalidatesOnLifecycle(t *testing.T) {
	f := newEvalFixture(t, priceAlert("a1", models.PriceAbove, 2500))

	f.price(t, 2400)

	f.store.mu.Lock()
	f.store.alerts["a1"].TargetValue = 2300
	f.store.mu.Unlock()

	f.price(t, 2400)
	if n := len(f.triggered.all()); n != 0 {
		t.Fatalf("cached alert should still use the old target, got %d triggers", n)
	}

	f.bus.Publish(context.Background(), events.New(events.AlertUpdated, events.LifecycleOf(f.store.get("a1"))))
	f.step(t)
	f.price(t, 2400)

	if n := len(f.triggered.all()); n != 1 {
		t.Fatalf("expected trigger after invalidation, got %d", n)
	}
	if f.store.loads != 2 {
		t.Fatalf("loads = %d, want 2", f.store.loads)
	}
}

func TestEvaluatorLifecycleWithoutInstrumentClearsAll(t *testing.T) {
	f := newEvalFixture(t, priceAlert("a1", models.PriceAbove, 2500))
	f.price(t, 2400)

	f.bus.Publish(context.Background(), events.New(events.AlertDeleted, events.LifecyclePayload{AlertID: "a1"}))
	f.step(t)
	f.price(t, 2400)

	if f.store.loads != 2 {
		t.Fatalf("loads = %d, want 2", f.store.loads)
	}
}

func TestEvaluatorRetriesFailedPersist(t *testing.T) {
	a := priceAlert("a1", models.PriceCrossesAbove, 100)
	a.PreviousPrice = f64(95)
	f := newEvalFixture(t, a)
	f.store.failUpdates = 1

	f.price(t, 105)
	if n := len(f.triggered.all()); n != 0 {
		t.Fatalf("unpersisted trigger must not publish, got %d", n)
	}
	if len(f.store.triggers) != 0 {
		t.Fatal("unpersisted trigger must not append history")
	}

	f.price(t, 106)
	if n := len(f.triggered.all()); n != 1 {
		t.Fatalf("expected retry to fire, got %d", n)
	}
}

func TestEvaluatorExpiresInsteadOfEvaluating(t *testing.T) {
	a := priceAlert("a1", models.PriceAbove, 100)
	past := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a.ExpiresAt = &past
	f := newEvalFixture(t, a)

	f.price(t, 150)

	if n := len(f.triggered.all()); n != 0 {
		t.Fatalf("expired alert fired %d times", n)
	}
	if st := f.store.get("a1").Status; st != models.StatusExpired {
		t.Fatalf("status = %s", st)
	}
}

type panickyEvaluator struct{ next conditions.Evaluator }

func (p panickyEvaluator) Evaluate(a *models.Alert, u *models.PriceUpdate) (conditions.Result, error) {
	if a.ID == "boom" {
		panic("bad evaluator")
	}
	return p.next.Evaluate(a, u)
}

func TestEvaluatorIsolatesPanics(t *testing.T) {
	f := newEvalFixture(t, priceAlert("boom", models.PriceAbove, 100), priceAlert("ok", models.PriceAbove, 100))
	f.eval.eval = panickyEvaluator{next: conditions.NewComposite()}

	f.price(t, 101)

	got := f.triggered.all()
	if len(got) != 1 || got[0].Payload.(events.TriggeredPayload).AlertID != "ok" {
		t.Fatalf("triggers = %+v", got)
	}
}

func TestEvaluatorLoadFailureIsReturned(t *testing.T) {
	f := newEvalFixture(t)
	f.store.loadErr = errors.New("connection refused")

	f.bus.Publish(context.Background(), events.New(events.PriceUpdate, events.PricePayload{InstrumentKey: instrument, Price: 10}))
	if err := f.eval.RunOnce(context.Background()); err == nil {
		t.Fatal("expected load error")
	}
}

func TestEvaluatorDropsMalformedPrice(t *testing.T) {
	f := newEvalFixture(t, priceAlert("a1", models.PriceAbove, 1))

	f.bus.Publish(context.Background(), events.New(events.PriceUpdate, events.PricePayload{InstrumentKey: instrument, Price: -1}))
	f.step(t)

	if f.store.loads != 0 {
		t.Fatal("malformed update must not reach the store")
	}
}

func TestEvaluatorAppendsOwnerNote(t *testing.T) {
	a := priceAlert("a1", models.PriceAbove, 100)
	a.Message = "check the order book"
	f := newEvalFixture(t, a)

	f.price(t, 101)

	got := f.triggered.all()
	if len(got) != 1 || !strings.HasSuffix(got[0].Payload.(events.TriggeredPayload).Message, "check the order book") {
		t.Fatalf("triggers = %+v", got)
	}
}

func TestEvaluatorCacheTTL(t *testing.T) {
	f := newEvalFixture(t, priceAlert("a1", models.PriceAbove, 2500))
	f.price(t, 2400)
	f.clk.advance(2 * time.Hour)
	f.price(t, 2400)

	if f.store.loads != 2 {
		t.Fatalf("loads = %d, want reload after TTL", f.store.loads)
	}
}

func TestEvaluatorDropsOnFullInbox(t *testing.T) {
	store := newMemStore()
	bus := eventbus.New()
	m := &countingMetrics{}
	e := NewAlertEvaluator(store, bus, conditions.NewComposite(), m, logger.Nop(),
		EvaluatorConfig{InboxSize: 1, EnqueueTimeout: time.Millisecond})
	if err := e.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer e.Cleanup(context.Background())

	for i := 0; i < 3; i++ {
		bus.Publish(context.Background(), events.New(events.PriceUpdate, events.PricePayload{InstrumentKey: instrument, Price: 1}))
	}
	if m.dropped != 2 {
		t.Fatalf("dropped = %d, want 2", m.dropped)
	}
}

func f64(v float64) *float64 { return &v }

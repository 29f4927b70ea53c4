package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"StockAlert/internal/domain/events"
	"StockAlert/internal/domain/models"
	"StockAlert/internal/domain/service"
	"StockAlert/internal/eventbus"
	"StockAlert/pkg/logger"
)

type fakeLocal struct {
	mu     sync.Mutex
	titles []string
	ok     bool
	panics bool
}

func (f *fakeLocal) Notice(ctx context.Context, title, body string, priority models.Priority) bool {
	if f.panics {
		panic("tray crashed")
	}
	f.mu.Lock()
	f.titles = append(f.titles, title)
	f.mu.Unlock()
	return f.ok
}

type fakeAudible struct{ calls int }

func (f *fakeAudible) Signal(ctx context.Context, priority models.Priority) bool {
	f.calls++
	return true
}

type fakeWebhook struct {
	mu     sync.Mutex
	ok     bool
	bodies [][]byte
}

func (f *fakeWebhook) Call(ctx context.Context, url string, body []byte, timeout time.Duration) bool {
	f.mu.Lock()
	f.bodies = append(f.bodies, body)
	f.mu.Unlock()
	return f.ok
}

func triggered(channels ...string) events.TriggeredPayload {
	return events.TriggeredPayload{
		AlertID:              "a1",
		UserID:               "u1",
		Symbol:               "RELIANCE",
		Condition:            string(models.PriceAbove),
		TargetValue:          2500,
		ActualValue:          2501,
		Message:              "RELIANCE price 2501 is above 2500",
		NotificationChannels: channels,
		WebhookURL:           "http://hooks.local/alert",
		Priority:             string(models.PriorityHigh),
	}
}

func TestDispatchPartialFailure(t *testing.T) {
	local := &fakeLocal{ok: true}
	hook := &fakeWebhook{ok: false}
	m := &countingMetrics{}
	d := NewNotificationDispatcher(service.Channels{Local: local, Webhook: hook}, eventbus.New(), m, logger.Nop(), DispatcherConfig{})

	res := d.Dispatch(context.Background(), "ev1", triggered("LOCAL_NOTICE", "WEBHOOK"))

	want := map[models.NotificationChannel]models.ChannelOutcome{
		models.ChannelLocalNotice: models.OutcomeSent,
		models.ChannelWebhook:     models.OutcomeFailed,
	}
	if len(res.Outcomes) != len(want) {
		t.Fatalf("outcomes = %v", res.Outcomes)
	}
	for ch, out := range want {
		if res.Outcomes[ch] != out {
			t.Errorf("%s = %s, want %s", ch, res.Outcomes[ch], out)
		}
	}
	if m.notifications["WEBHOOK/failed"] != 1 || m.notifications["LOCAL_NOTICE/sent"] != 1 {
		t.Fatalf("metrics = %v", m.notifications)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(hook.bodies[0], &body); err != nil {
		t.Fatal(err)
	}
	if body["eventId"] != "ev1" || body["alertId"] != "a1" {
		t.Fatalf("webhook body = %v", body)
	}
}

func TestDispatchSkipsUnavailableChannels(t *testing.T) {
	d := NewNotificationDispatcher(service.Channels{Webhook: &fakeWebhook{ok: true}}, eventbus.New(), &countingMetrics{}, logger.Nop(), DispatcherConfig{})

	p := triggered("SOUND", "WEBHOOK", "PIGEON")
	p.WebhookURL = ""
	res := d.Dispatch(context.Background(), "ev1", p)

	for _, ch := range []models.NotificationChannel{models.ChannelSound, models.ChannelWebhook, "PIGEON"} {
		if res.Outcomes[ch] != models.OutcomeSkipped {
			t.Errorf("%s = %s, want skipped", ch, res.Outcomes[ch])
		}
	}
}

func TestDispatchManyChannelsConcurrently(t *testing.T) {
	local := &fakeLocal{ok: true}
	d := NewNotificationDispatcher(service.Channels{Local: local, Audible: &fakeAudible{}, Webhook: &fakeWebhook{ok: true}},
		eventbus.New(), &countingMetrics{}, logger.Nop(), DispatcherConfig{})

	channels := []string{"LOCAL_NOTICE", "SOUND", "WEBHOOK"}
	for i := 0; i < 200; i++ {
		channels = append(channels, fmt.Sprintf("UNKNOWN_%d", i))
	}
	channels = append(channels, "LOCAL_NOTICE", "WEBHOOK")

	res := d.Dispatch(context.Background(), "ev1", triggered(channels...))

	if len(res.Outcomes) != 203 {
		t.Fatalf("outcomes = %d, want 203", len(res.Outcomes))
	}
	for _, ch := range []models.NotificationChannel{models.ChannelLocalNotice, models.ChannelSound, models.ChannelWebhook} {
		if res.Outcomes[ch] != models.OutcomeSent {
			t.Errorf("%s = %s, want sent", ch, res.Outcomes[ch])
		}
	}
	if res.Outcomes["UNKNOWN_7"] != models.OutcomeSkipped {
		t.Errorf("unknown channel = %s", res.Outcomes["UNKNOWN_7"])
	}
	if len(local.titles) != 1 {
		t.Fatalf("duplicate channel delivered %d times", len(local.titles))
	}
}

func TestDispatchIsolatesPanickingChannel(t *testing.T) {
	audible := &fakeAudible{}
	d := NewNotificationDispatcher(service.Channels{Local: &fakeLocal{panics: true}, Audible: audible}, eventbus.New(), &countingMetrics{}, logger.Nop(), DispatcherConfig{})

	res := d.Dispatch(context.Background(), "ev1", triggered("LOCAL_NOTICE", "SOUND"))

	if res.Outcomes[models.ChannelLocalNotice] != models.OutcomeFailed {
		t.Fatalf("panicking channel = %s", res.Outcomes[models.ChannelLocalNotice])
	}
	if res.Outcomes[models.ChannelSound] != models.OutcomeSent || audible.calls != 1 {
		t.Fatalf("sound = %s calls=%d", res.Outcomes[models.ChannelSound], audible.calls)
	}
}

func TestDispatcherConsumesTriggeredEvents(t *testing.T) {
	bus := eventbus.New()
	local := &fakeLocal{ok: true}
	d := NewNotificationDispatcher(service.Channels{Local: local}, bus, &countingMetrics{}, logger.Nop(), DispatcherConfig{IdlePoll: 10 * time.Millisecond})
	ctx := context.Background()
	if err := d.Init(ctx); err != nil {
		t.Fatal(err)
	}
	defer d.Cleanup(ctx)

	bus.Publish(ctx, events.New(events.AlertTriggered, triggered("LOCAL_NOTICE")))
	if err := d.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if len(local.titles) != 1 || local.titles[0] != "RELIANCE PRICE_ABOVE" {
		t.Fatalf("titles = %v", local.titles)
	}

	// idle poll returns without error
	if err := d.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
}

package events

import (
	"testing"
	"time"

	"StockAlert/internal/domain/models"
)

func TestEncodeDecodeTriggered(t *testing.T) {
	a := &models.Alert{
		ID:         "a-1",
		UserID:     "u-1",
		Symbol:     "RELIANCE",
		Condition:  models.PriceAbove,
		Priority:   models.PriorityHigh,
		Channels:   []models.NotificationChannel{models.ChannelLocalNotice, models.ChannelWebhook},
		WebhookURL: "http://example.invalid/hook",
	}
	in := Event{
		Kind:      AlertTriggered,
		Payload:   TriggeredOf(a, 2501, "above"),
		ID:        "evt-1",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Origin:    "node-a",
	}

	b, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Kind != AlertTriggered || out.ID != "evt-1" || out.Origin != "node-a" {
		t.Fatalf("unexpected envelope: %+v", out)
	}
	p, ok := out.Payload.(TriggeredPayload)
	if !ok {
		t.Fatalf("payload type %T", out.Payload)
	}
	if p.ActualValue != 2501 || len(p.Channels()) != 2 || p.WebhookURL == "" {
		t.Fatalf("payload mismatch: %+v", p)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":     `{`,
		"missing kind": `{"eventId":"x","payload":{}}`,
		"unknown kind": `{"eventType":"NOPE","eventId":"x","payload":{}}`,
		"bad payload":  `{"eventType":"PRICE_UPDATE","eventId":"x","payload":"str"}`,
	}
	for name, raw := range cases {
		if _, err := Decode([]byte(raw)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestPricePayloadValidation(t *testing.T) {
	if _, err := (PricePayload{Price: 10}).ToPriceUpdate(); err == nil {
		t.Fatal("expected error for missing instrument key")
	}
	if _, err := (PricePayload{InstrumentKey: "NSE:X", Price: 0}).ToPriceUpdate(); err == nil {
		t.Fatal("expected error for zero price")
	}
	u, err := (PricePayload{InstrumentKey: "NSE:X", Price: 12.5, PrevClose: 10}).ToPriceUpdate()
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if pct, ok := u.PercentChange(); !ok || pct != 25 {
		t.Fatalf("pct = %v, %v", pct, ok)
	}
}

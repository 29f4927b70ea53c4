package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"StockAlert/internal/domain/models"
	"StockAlert/internal/service/ratelimit"
	xhttp "StockAlert/pkg/http"
	"StockAlert/pkg/logger"
)

type enqueued struct {
	msgType string
	payload any
}

type fakeQueue struct {
	mu   sync.Mutex
	msgs []enqueued
}

func (q *fakeQueue) Enqueue(ctx context.Context, msgType string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, enqueued{msgType, payload})
	return nil
}

func TestConsoleNotice(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, logger.Nop())
	if !c.Notice(context.Background(), "RELIANCE PRICE_ABOVE", "price 2501 above 2500", models.PriorityHigh) {
		t.Fatal("notice not delivered")
	}
	out := buf.String()
	if !strings.Contains(out, "HIGH RELIANCE PRICE_ABOVE") || !strings.Contains(out, "price 2501 above 2500") {
		t.Fatalf("output = %q", out)
	}
}

func TestBellRingsByPriority(t *testing.T) {
	tests := []struct {
		p    models.Priority
		want int
	}{
		{models.PriorityLow, 1},
		{models.PriorityMedium, 1},
		{models.PriorityHigh, 2},
		{models.PriorityCritical, 3},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if !NewBell(&buf).Signal(context.Background(), tt.p) {
			t.Fatalf("%s: signal failed", tt.p)
		}
		if got := strings.Count(buf.String(), "\a"); got != tt.want {
			t.Errorf("%s: rings = %d, want %d", tt.p, got, tt.want)
		}
	}
	if NewBell(nil).Signal(context.Background(), models.PriorityHigh) {
		t.Fatal("bell without output must report failure")
	}
}

func TestWebhookPostsBody(t *testing.T) {
	var got []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		got, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(xhttp.NewClient(), nil, nil, logger.Nop())
	if !w.Call(context.Background(), srv.URL+"/hook", []byte(`{"alertId":"a1"}`), time.Second) {
		t.Fatal("call failed")
	}
	if string(got) != `{"alertId":"a1"}` {
		t.Fatalf("body = %s", got)
	}
}

func TestWebhookQueuesRetryableFailures(t *testing.T) {
	status := http.StatusBadGateway
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	q := &fakeQueue{}
	w := NewWebhook(xhttp.NewClient(), nil, q, logger.Nop())
	if w.Call(context.Background(), srv.URL, []byte(`{}`), time.Second) {
		t.Fatal("502 must fail")
	}
	status = http.StatusBadRequest
	if w.Call(context.Background(), srv.URL, []byte(`{}`), time.Second) {
		t.Fatal("400 must fail")
	}
	if len(q.msgs) != 1 || q.msgs[0].msgType != WebhookRetryType {
		t.Fatalf("queued = %+v, want only the 502", q.msgs)
	}
}

func TestWebhookTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	w := NewWebhook(xhttp.NewClient(), nil, nil, logger.Nop())
	start := time.Now()
	if w.Call(context.Background(), srv.URL, []byte(`{}`), 50*time.Millisecond) {
		t.Fatal("slow endpoint must fail")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("timeout not applied")
	}
}

func TestWebhookRateLimitedPerHost(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	w := NewWebhook(xhttp.NewClient(), ratelimit.New(1, 0), nil, logger.Nop())
	first := w.Call(context.Background(), srv.URL, []byte(`{}`), time.Second)
	second := w.Call(context.Background(), srv.URL, []byte(`{}`), time.Second)
	if !first || second || hits != 1 {
		t.Fatalf("first=%v second=%v hits=%d", first, second, hits)
	}
}

func TestRetryJobRedelivers(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	job := NewRetryJob(NewWebhook(xhttp.NewClient(), nil, &fakeQueue{}, logger.Nop()))
	payload, _ := json.Marshal(webhookJob{URL: srv.URL, Body: json.RawMessage(`{"a":1}`), Timeout: time.Second})

	if err := job.Handle(context.Background(), payload); err == nil {
		t.Fatal("503 must be returned for another attempt")
	}
	if err := job.Handle(context.Background(), payload); err != nil {
		t.Fatal(err)
	}
}

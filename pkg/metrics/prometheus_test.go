package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	r := NewWithRegisterer(prometheus.NewRegistry())

	r.RecordNotification("WEBHOOK", "failed")
	r.RecordNotification("WEBHOOK", "failed")
	r.RecordNotification("LOCAL_NOTICE", "sent")
	r.RecordTrigger("PRICE_ABOVE")
	r.RecordLastPrice("NSE:RELIANCE", 2501)

	if got := testutil.ToFloat64(r.notifications.WithLabelValues("WEBHOOK", "failed")); got != 2 {
		t.Fatalf("webhook failed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.notifications.WithLabelValues("LOCAL_NOTICE", "sent")); got != 1 {
		t.Fatalf("local sent = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.triggers.WithLabelValues("PRICE_ABOVE")); got != 1 {
		t.Fatalf("triggers = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.lastPrice.WithLabelValues("NSE:RELIANCE")); got != 2501 {
		t.Fatalf("last price = %v", got)
	}
}

package service

import (
	"context"
	"time"

	"StockAlert/internal/domain/models"
)

// LocalNotifier shows a notice inside the running process (console, tray, log).
type LocalNotifier interface {
	Notice(ctx context.Context, title, body string, priority models.Priority) bool
}

// AudibleSignaler plays an attention signal.
type AudibleSignaler interface {
	Signal(ctx context.Context, priority models.Priority) bool
}

// WebhookCaller posts a JSON body to url within timeout.
type WebhookCaller interface {
	Call(ctx context.Context, url string, body []byte, timeout time.Duration) bool
}

// Channels is the capability set the dispatcher fans out to. A nil member
// means the channel is not available in this process.
type Channels struct {
	Local   LocalNotifier
	Audible AudibleSignaler
	Webhook WebhookCaller
}

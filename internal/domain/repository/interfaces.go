package repository

import (
	"context"
	"time"

	"StockAlert/internal/domain/models"
)

// AlertStore is the durable alert store. Every call must honour ctx deadlines.
type AlertStore interface {
	LoadActiveAlertsForInstrument(ctx context.Context, instrumentKey string) ([]*models.Alert, error)
	// UpdateAlertFields applies patch only when the stored updated_at is not newer
	// than patch.UpdatedAt; otherwise it returns models.ErrStale.
	UpdateAlertFields(ctx context.Context, id string, patch models.AlertPatch) error
	TriggerHistory

	CreateAlert(ctx context.Context, a *models.Alert) error
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	ListAlertsByUser(ctx context.Context, userID string, status models.AlertStatus) ([]*models.Alert, error)
	// UpdateAlert rewrites owner-controlled fields under the same last-writer-wins rule.
	UpdateAlert(ctx context.Context, a *models.Alert) error
	// ExpireDue flips ACTIVE and PAUSED alerts past their expiry to EXPIRED and
	// returns the rows it changed.
	ExpireDue(ctx context.Context, now time.Time) ([]*models.Alert, error)
	Close() error
}

// TriggerHistory is the append-only trigger audit log.
type TriggerHistory interface {
	// AppendTriggerRecord is a no-op when rec.EventID was already stored.
	AppendTriggerRecord(ctx context.Context, rec *models.AlertTriggerRecord) error
	ListTriggers(ctx context.Context, alertID string, limit int) ([]*models.AlertTriggerRecord, error)
}

// Broker carries encoded events between processes.
type Broker interface {
	Publish(ctx context.Context, channel string, key, payload []byte) error
	// Listen blocks until ctx is cancelled or the subscription fails, calling fn
	// for each message received on any of channels.
	Listen(ctx context.Context, channels []string, fn func(ctx context.Context, channel string, payload []byte) error) error
	Close() error
}

// MarketStream is a live trade feed.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Trade, <-chan error)
	Close() error
	IsConnected() bool
}

// QuoteSource returns the session snapshot (open/high/low/previous close) for a symbol.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (*models.Quote, error)
}

type Metrics interface {
	RecordEvent(kind, path string)
	RecordError(kind string)
	RecordDropped(component string)
	RecordTrigger(condition string)
	RecordNotification(channel, outcome string)
	RecordLastPrice(instrument string, price float64)
	RecordLatency(op string, seconds float64)
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"StockAlert/internal/domain/models"
	drepo "StockAlert/internal/domain/repository"
	pkgch "StockAlert/pkg/clickhouse"
	"StockAlert/pkg/logger"
)

// ClickHouseSchema keeps trigger history in a ReplacingMergeTree keyed by
// event id, so a replayed trigger collapses into one row.
var ClickHouseSchema = []string{
	`CREATE TABLE IF NOT EXISTS alert_triggers (
		event_id       String,
		alert_id       String,
		user_id        String,
		symbol         LowCardinality(String),
		instrument_key LowCardinality(String),
		condition      LowCardinality(String),
		target_value   Float64,
		actual_value   Float64,
		message        String,
		triggered_at   DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree
	PARTITION BY toYYYYMM(triggered_at)
	ORDER BY (alert_id, event_id)`,
}

// CHTriggerHistory implements TriggerHistory on ClickHouse.
type CHTriggerHistory struct {
	db      *sql.DB
	l       *logger.Logger
	timeout time.Duration
}

var _ drepo.TriggerHistory = (*CHTriggerHistory)(nil)

func NewCHTriggerHistory(ch *pkgch.Client, l *logger.Logger) *CHTriggerHistory {
	return &CHTriggerHistory{db: ch.DB(), l: l, timeout: 5 * time.Second}
}

func (h *CHTriggerHistory) AppendTriggerRecord(ctx context.Context, rec *models.AlertTriggerRecord) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO alert_triggers (event_id, alert_id, user_id, symbol, instrument_key, condition,
			target_value, actual_value, message, triggered_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EventID, rec.AlertID, rec.UserID, rec.Symbol, rec.InstrumentKey, string(rec.Condition),
		rec.TargetValue, rec.ActualValue, rec.Message, rec.TriggeredAt.UTC())
	if err != nil {
		h.l.Error("clickhouse append trigger error",
			logger.String("event_id", rec.EventID),
			logger.String("alert_id", rec.AlertID),
			logger.Error(err))
		return fmt.Errorf("append trigger %s: %w", rec.EventID, err)
	}
	return nil
}

// ListTriggers reads with FINAL so rows not yet merged are still deduplicated.
func (h *CHTriggerHistory) ListTriggers(ctx context.Context, alertID string, limit int) ([]*models.AlertTriggerRecord, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	rows, err := h.db.QueryContext(ctx,
		`SELECT event_id, alert_id, user_id, symbol, instrument_key, condition, target_value,
			actual_value, message, triggered_at
		FROM alert_triggers FINAL
		WHERE alert_id = ?
		ORDER BY triggered_at DESC
		LIMIT ?`, alertID, limit)
	if err != nil {
		return nil, fmt.Errorf("list triggers %s: %w", alertID, err)
	}
	defer rows.Close()

	out := make([]*models.AlertTriggerRecord, 0, limit)
	for rows.Next() {
		var (
			r    models.AlertTriggerRecord
			cond string
		)
		if err := rows.Scan(&r.EventID, &r.AlertID, &r.UserID, &r.Symbol, &r.InstrumentKey, &cond,
			&r.TargetValue, &r.ActualValue, &r.Message, &r.TriggeredAt); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		r.Condition = models.Condition(cond)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	h.l.Debug("clickhouse list triggers ok",
		logger.String("alert_id", alertID),
		logger.Int("rows", len(out)),
		logger.Duration("duration_ms", time.Since(start)))
	return out, nil
}

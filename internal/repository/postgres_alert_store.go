package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"StockAlert/internal/domain/models"
	drepo "StockAlert/internal/domain/repository"
	"StockAlert/pkg/logger"
)

// PostgresSchema creates the alert tables. Statements are idempotent.
var PostgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		id                TEXT PRIMARY KEY,
		user_id           TEXT NOT NULL,
		symbol            TEXT NOT NULL,
		instrument_key    TEXT NOT NULL,
		asset_type        TEXT NOT NULL,
		category          TEXT NOT NULL,
		condition         TEXT NOT NULL,
		target_value      DOUBLE PRECISION NOT NULL,
		target_value2     DOUBLE PRECISION,
		status            TEXT NOT NULL,
		priority          TEXT NOT NULL,
		channels          TEXT NOT NULL DEFAULT '',
		webhook_url       TEXT NOT NULL DEFAULT '',
		message           TEXT NOT NULL DEFAULT '',
		trigger_once      BOOLEAN NOT NULL DEFAULT FALSE,
		cooldown_ms       BIGINT NOT NULL DEFAULT 0,
		expires_at        TIMESTAMPTZ,
		previous_price    DOUBLE PRECISION,
		trigger_count     INTEGER NOT NULL DEFAULT 0,
		last_triggered_at TIMESTAMPTZ,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS alerts_instrument_status_idx ON alerts (instrument_key, status)`,
	`CREATE INDEX IF NOT EXISTS alerts_user_idx ON alerts (user_id)`,
	`CREATE TABLE IF NOT EXISTS alert_triggers (
		event_id       TEXT PRIMARY KEY,
		alert_id       TEXT NOT NULL,
		user_id        TEXT NOT NULL,
		symbol         TEXT NOT NULL,
		instrument_key TEXT NOT NULL,
		condition      TEXT NOT NULL,
		target_value   DOUBLE PRECISION NOT NULL,
		actual_value   DOUBLE PRECISION NOT NULL,
		message        TEXT NOT NULL,
		triggered_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS alert_triggers_alert_idx ON alert_triggers (alert_id, triggered_at DESC)`,
}

const alertColumns = `id, user_id, symbol, instrument_key, asset_type, category, condition,
	target_value, target_value2, status, priority, channels, webhook_url, message,
	trigger_once, cooldown_ms, expires_at, previous_price, trigger_count,
	last_triggered_at, created_at, updated_at`

// PostgresAlertStore implements AlertStore on database/sql with the pgx driver.
type PostgresAlertStore struct {
	db      *sql.DB
	history drepo.TriggerHistory
	timeout time.Duration
	log     *logger.Logger
}

var _ drepo.AlertStore = (*PostgresAlertStore)(nil)

type PostgresOption func(*PostgresAlertStore)

// WithTriggerHistory sends trigger records to h instead of alert_triggers.
func WithTriggerHistory(h drepo.TriggerHistory) PostgresOption {
	return func(s *PostgresAlertStore) { s.history = h }
}

// WithCallTimeout bounds every store call.
func WithCallTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresAlertStore) { s.timeout = d }
}

func NewPostgresAlertStore(db *sql.DB, log *logger.Logger, opts ...PostgresOption) *PostgresAlertStore {
	s := &PostgresAlertStore{db: db, timeout: 5 * time.Second, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitSchema applies PostgresSchema.
func (s *PostgresAlertStore) InitSchema(ctx context.Context) error {
	for _, stmt := range PostgresSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresAlertStore) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *PostgresAlertStore) LoadActiveAlertsForInstrument(ctx context.Context, instrumentKey string) ([]*models.Alert, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE instrument_key = $1 AND status = $2`,
		instrumentKey, string(models.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("load alerts %s: %w", instrumentKey, err)
	}
	return scanAlerts(rows)
}

func (s *PostgresAlertStore) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()
	a, err := scanAlert(s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get alert %s: %w", id, err)
	}
	return a, nil
}

func (s *PostgresAlertStore) ListAlertsByUser(ctx context.Context, userID string, status models.AlertStatus) ([]*models.Alert, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()
	q := `SELECT ` + alertColumns + ` FROM alerts WHERE user_id = $1`
	args := []any{userID}
	if status != "" {
		q += ` AND status = $2`
		args = append(args, string(status))
	}
	q += ` ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return scanAlerts(rows)
}

func (s *PostgresAlertStore) CreateAlert(ctx context.Context, a *models.Alert) error {
	ctx, cancel := s.call(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (`+alertColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		a.ID, a.UserID, a.Symbol, a.InstrumentKey, string(a.AssetType), string(a.Category),
		string(a.Condition), a.TargetValue, nullFloat(a.TargetValue2), string(a.Status),
		string(a.Priority), joinChannels(a.Channels), a.WebhookURL, a.Message, a.TriggerOnce,
		a.Cooldown.Milliseconds(), nullTime(a.ExpiresAt), nullFloat(a.PreviousPrice),
		a.TriggerCount, nullTime(a.LastTriggeredAt), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	return nil
}

// UpdateAlert rewrites the owner fields when the stored row is not newer.
func (s *PostgresAlertStore) UpdateAlert(ctx context.Context, a *models.Alert) error {
	ctx, cancel := s.call(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET target_value = $2, target_value2 = $3, priority = $4, channels = $5,
			webhook_url = $6, message = $7, trigger_once = $8, cooldown_ms = $9, expires_at = $10,
			updated_at = $11
		WHERE id = $1 AND updated_at <= $11`,
		a.ID, a.TargetValue, nullFloat(a.TargetValue2), string(a.Priority), joinChannels(a.Channels),
		a.WebhookURL, a.Message, a.TriggerOnce, a.Cooldown.Milliseconds(), nullTime(a.ExpiresAt),
		a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update alert %s: %w", a.ID, err)
	}
	return s.checkApplied(ctx, res, a.ID)
}

// UpdateAlertFields writes only the fields set on p.
func (s *PostgresAlertStore) UpdateAlertFields(ctx context.Context, id string, p models.AlertPatch) error {
	ctx, cancel := s.call(ctx)
	defer cancel()

	args := []any{id}
	var sets []string
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if p.Status != nil {
		set("status", string(*p.Status))
	}
	switch {
	case p.ClearTriggerState:
		set("trigger_count", 0)
		set("last_triggered_at", nil)
	default:
		if p.TriggerCount != nil {
			set("trigger_count", *p.TriggerCount)
		}
		if p.LastTriggeredAt != nil {
			set("last_triggered_at", *p.LastTriggeredAt)
		}
	}
	switch {
	case p.ClearPreviousPrice:
		set("previous_price", nil)
	case p.PreviousPrice != nil:
		set("previous_price", *p.PreviousPrice)
	}
	set("updated_at", p.UpdatedAt)

	where := fmt.Sprintf("id = $1 AND updated_at <= $%d", len(args))
	if p.ExpectStatus != nil {
		args = append(args, string(*p.ExpectStatus))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	q := fmt.Sprintf(`UPDATE alerts SET %s WHERE %s`, strings.Join(sets, ", "), where)
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("patch alert %s: %w", id, err)
	}
	return s.checkApplied(ctx, res, id)
}

// checkApplied tells a lost last-writer-wins race from a missing row.
func (s *PostgresAlertStore) checkApplied(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM alerts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check alert %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("alert %s: %w", id, models.ErrNotFound)
	}
	return fmt.Errorf("alert %s: %w", id, models.ErrStale)
}

func (s *PostgresAlertStore) ExpireDue(ctx context.Context, now time.Time) ([]*models.Alert, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`UPDATE alerts SET status = $1, updated_at = $2
		WHERE status IN ($3, $4) AND expires_at IS NOT NULL AND expires_at <= $2
		RETURNING `+alertColumns,
		string(models.StatusExpired), now, string(models.StatusActive), string(models.StatusPaused))
	if err != nil {
		return nil, fmt.Errorf("expire alerts: %w", err)
	}
	return scanAlerts(rows)
}

func (s *PostgresAlertStore) AppendTriggerRecord(ctx context.Context, rec *models.AlertTriggerRecord) error {
	if s.history != nil {
		return s.history.AppendTriggerRecord(ctx, rec)
	}
	ctx, cancel := s.call(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_triggers (event_id, alert_id, user_id, symbol, instrument_key, condition,
			target_value, actual_value, message, triggered_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (event_id) DO NOTHING`,
		rec.EventID, rec.AlertID, rec.UserID, rec.Symbol, rec.InstrumentKey, string(rec.Condition),
		rec.TargetValue, rec.ActualValue, rec.Message, rec.TriggeredAt)
	if err != nil {
		return fmt.Errorf("append trigger %s: %w", rec.EventID, err)
	}
	return nil
}

func (s *PostgresAlertStore) ListTriggers(ctx context.Context, alertID string, limit int) ([]*models.AlertTriggerRecord, error) {
	if s.history != nil {
		return s.history.ListTriggers(ctx, alertID, limit)
	}
	ctx, cancel := s.call(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, alert_id, user_id, symbol, instrument_key, condition, target_value,
			actual_value, message, triggered_at
		FROM alert_triggers WHERE alert_id = $1 ORDER BY triggered_at DESC LIMIT $2`,
		alertID, limit)
	if err != nil {
		return nil, fmt.Errorf("list triggers %s: %w", alertID, err)
	}
	defer rows.Close()

	var out []*models.AlertTriggerRecord
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
	return out, rows.Err()
}

func (s *PostgresAlertStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		a                              models.Alert
		assetType, category, condition string
		status, priority, channels     string
		target2, prevPrice             sql.NullFloat64
		expiresAt, lastTriggered       sql.NullTime
		cooldownMS                     int64
	)
	err := row.Scan(&a.ID, &a.UserID, &a.Symbol, &a.InstrumentKey, &assetType, &category, &condition,
		&a.TargetValue, &target2, &status, &priority, &channels, &a.WebhookURL, &a.Message,
		&a.TriggerOnce, &cooldownMS, &expiresAt, &prevPrice, &a.TriggerCount,
		&lastTriggered, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.AssetType = models.AssetType(assetType)
	a.Category = models.AlertCategory(category)
	a.Condition = models.Condition(condition)
	a.Status = models.AlertStatus(status)
	a.Priority = models.Priority(priority)
	a.Channels = splitChannels(channels)
	a.Cooldown = time.Duration(cooldownMS) * time.Millisecond
	if target2.Valid {
		a.TargetValue2 = &target2.Float64
	}
	if prevPrice.Valid {
		a.PreviousPrice = &prevPrice.Float64
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		a.ExpiresAt = &t
	}
	if lastTriggered.Valid {
		t := lastTriggered.Time
		a.LastTriggeredAt = &t
	}
	return &a, nil
}

func scanAlerts(rows *sql.Rows) ([]*models.Alert, error) {
	defer rows.Close()
	var out []*models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func joinChannels(chs []models.NotificationChannel) string {
	parts := make([]string, len(chs))
	for i, c := range chs {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

func splitChannels(s string) []models.NotificationChannel {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]models.NotificationChannel, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, models.NotificationChannel(p))
		}
	}
	return out
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

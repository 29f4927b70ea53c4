package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"StockAlert/internal/domain/models"
	"StockAlert/pkg/logger"

	"github.com/DATA-DOG/go-sqlmock"
)

var alertCols = []string{
	"id", "user_id", "symbol", "instrument_key", "asset_type", "category", "condition",
	"target_value", "target_value2", "status", "priority", "channels", "webhook_url", "message",
	"trigger_once", "cooldown_ms", "expires_at", "previous_price", "trigger_count",
	"last_triggered_at", "created_at", "updated_at",
}

func newMockStore(t *testing.T, opts ...PostgresOption) (*PostgresAlertStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresAlertStore(db, logger.Nop(), opts...), mock
}

func TestLoadActiveAlertsForInstrument(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(alertCols).
		AddRow("a1", "u1", "RELIANCE", "NSE:RELIANCE", "EQUITY", "PRICE", "PRICE_CROSSES_ABOVE",
			2500.0, nil, "ACTIVE", "HIGH", "LOCAL_NOTICE,WEBHOOK", "https://example.test/h", "",
			false, int64(60000), nil, 2490.0, 2, ts, ts, ts)
	mock.ExpectQuery("(?s)SELECT (.+) FROM alerts WHERE instrument_key = \\$1 AND status = \\$2").
		WithArgs("NSE:RELIANCE", "ACTIVE").
		WillReturnRows(rows)

	got, err := store.LoadActiveAlertsForInstrument(context.Background(), "NSE:RELIANCE")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d alerts", len(got))
	}
	a := got[0]
	if a.Condition != models.PriceCrossesAbove || a.Cooldown != time.Minute || a.TargetValue2 != nil {
		t.Fatalf("alert = %+v", a)
	}
	if len(a.Channels) != 2 || a.Channels[1] != models.ChannelWebhook {
		t.Fatalf("channels = %v", a.Channels)
	}
	if a.PreviousPrice == nil || *a.PreviousPrice != 2490 || a.LastTriggeredAt == nil {
		t.Fatalf("evaluation state = %v %v", a.PreviousPrice, a.LastTriggeredAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetAlertNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("(?s)SELECT (.+) FROM alerts WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(alertCols))

	if _, err := store.GetAlert(context.Background(), "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestUpdateAlertFieldsLastWriterWins(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	a := &models.Alert{ID: "a1", Status: models.StatusActive, TriggerOnce: true}
	patch := a.TriggerPatch(now, 2501)

	update := regexp.QuoteMeta(`UPDATE alerts SET status = $2, trigger_count = $3, last_triggered_at = $4, previous_price = $5, updated_at = $6 WHERE id = $1 AND updated_at <= $6 AND status = $7`)

	tests := []struct {
		name     string
		affected int64
		exists   bool
		want     error
	}{
		{"applied", 1, true, nil},
		{"newer row or status changed", 0, true, models.ErrStale},
		{"missing row", 0, false, models.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			mock.ExpectExec(update).
				WithArgs("a1", "TRIGGERED", 1, now, 2501.0, now, "ACTIVE").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			if tt.affected == 0 {
				mock.ExpectQuery("SELECT EXISTS").
					WithArgs("a1").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tt.exists))
			}

			err := store.UpdateAlertFields(context.Background(), "a1", patch)
			if !errors.Is(err, tt.want) && !(tt.want == nil && err == nil) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestUpdateAlertFieldsClearsState(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	active := models.StatusActive
	patch := models.AlertPatch{Status: &active, ClearTriggerState: true, ClearPreviousPrice: true, UpdatedAt: now}

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE alerts SET status = $2, trigger_count = $3, last_triggered_at = $4, previous_price = $5, updated_at = $6 WHERE id = $1 AND updated_at <= $6`)).
		WithArgs("a1", "ACTIVE", 0, nil, nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.UpdateAlertFields(context.Background(), "a1", patch); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAppendTriggerRecordIsIdempotent(t *testing.T) {
	store, mock := newMockStore(t)
	rec := &models.AlertTriggerRecord{
		EventID: "e1", AlertID: "a1", UserID: "u1", Symbol: "RELIANCE", InstrumentKey: "NSE:RELIANCE",
		Condition: models.PriceAbove, TargetValue: 2500, ActualValue: 2501, Message: "hit",
		TriggeredAt: time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC),
	}
	for i := 0; i < 2; i++ {
		mock.ExpectExec("(?s)INSERT INTO alert_triggers (.+)ON CONFLICT \\(event_id\\) DO NOTHING").
			WithArgs("e1", "a1", "u1", "RELIANCE", "NSE:RELIANCE", "PRICE_ABOVE", 2500.0, 2501.0, "hit", rec.TriggeredAt).
			WillReturnResult(sqlmock.NewResult(0, int64(1-i)))
		if err := store.AppendTriggerRecord(context.Background(), rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestExpireDue(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)
	exp := now.Add(-time.Minute)

	mock.ExpectQuery("(?s)UPDATE alerts SET status = \\$1, updated_at = \\$2(.+)RETURNING").
		WithArgs("EXPIRED", now, "ACTIVE", "PAUSED").
		WillReturnRows(sqlmock.NewRows(alertCols).
			AddRow("a1", "u1", "RELIANCE", "NSE:RELIANCE", "EQUITY", "PRICE", "PRICE_ABOVE",
				2500.0, nil, "EXPIRED", "LOW", "", "", "", false, int64(0), exp, nil, 0, nil, exp, now))

	got, err := store.ExpireDue(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Status != models.StatusExpired || got[0].ExpiresAt == nil {
		t.Fatalf("expired = %+v", got)
	}
}

type fakeHistory struct {
	recs []*models.AlertTriggerRecord
}

func (f *fakeHistory) AppendTriggerRecord(ctx context.Context, rec *models.AlertTriggerRecord) error {
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakeHistory) ListTriggers(ctx context.Context, alertID string, limit int) ([]*models.AlertTriggerRecord, error) {
	return f.recs, nil
}

func TestTriggerHistoryDelegation(t *testing.T) {
	h := &fakeHistory{}
	store, mock := newMockStore(t, WithTriggerHistory(h))

	if err := store.AppendTriggerRecord(context.Background(), &models.AlertTriggerRecord{EventID: "e1"}); err != nil {
		t.Fatal(err)
	}
	got, err := store.ListTriggers(context.Background(), "a1", 10)
	if err != nil || len(got) != 1 {
		t.Fatalf("got %v %v", got, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no SQL expected: %v", err)
	}
}

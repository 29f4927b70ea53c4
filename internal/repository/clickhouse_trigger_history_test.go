package repository

import (
	"context"
	"testing"
	"time"

	"StockAlert/internal/domain/models"
	pkgch "StockAlert/pkg/clickhouse"
	"StockAlert/pkg/logger"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestCHTriggerHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()
	h := NewCHTriggerHistory(pkgch.NewFromDB(db), logger.Nop())
	at := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

	mock.ExpectExec("(?s)INSERT INTO alert_triggers").
		WithArgs("e1", "a1", "u1", "AAPL", "AAPL", "PRICE_BELOW", 180.0, 179.5, "dip", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	err = h.AppendTriggerRecord(context.Background(), &models.AlertTriggerRecord{
		EventID: "e1", AlertID: "a1", UserID: "u1", Symbol: "AAPL", InstrumentKey: "AAPL",
		Condition: models.PriceBelow, TargetValue: 180, ActualValue: 179.5, Message: "dip", TriggeredAt: at,
	})
	if err != nil {
		t.Fatal(err)
	}

	mock.ExpectQuery("(?s)FROM alert_triggers FINAL(.+)LIMIT").
		WithArgs("a1", 5).
		WillReturnRows(sqlmock.NewRows([]string{"event_id", "alert_id", "user_id", "symbol", "instrument_key",
			"condition", "target_value", "actual_value", "message", "triggered_at"}).
			AddRow("e1", "a1", "u1", "AAPL", "AAPL", "PRICE_BELOW", 180.0, 179.5, "dip", at))
	got, err := h.ListTriggers(context.Background(), "a1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Condition != models.PriceBelow || !got[0].TriggeredAt.Equal(at) {
		t.Fatalf("triggers = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

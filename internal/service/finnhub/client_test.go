package finnhub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"StockAlert/internal/domain/models"
	xhttp "StockAlert/pkg/http"
	"StockAlert/pkg/logger"

	"github.com/gorilla/websocket"
)

func TestQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" || r.Header.Get("X-Finnhub-Token") != "k" {
			http.Error(w, "bad", http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("symbol") == "NOPE" {
			_, _ = w.Write([]byte(`{"c":0,"pc":0}`))
			return
		}
		_, _ = w.Write([]byte(`{"c":2501,"h":2510,"l":2480,"o":2490,"pc":2470}`))
	}))
	defer srv.Close()

	q := NewQuotes("k", srv.URL+"/", xhttp.NewClient())
	got, err := q.Quote(context.Background(), "RELIANCE")
	if err != nil {
		t.Fatal(err)
	}
	if got.Current != 2501 || got.PrevClose != 2470 || got.High != 2510 {
		t.Fatalf("quote = %+v", got)
	}

	if _, err := q.Quote(context.Background(), "NOPE"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestStreamReadsTrades(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub map[string]string
		if err := conn.ReadJSON(&sub); err != nil || sub["symbol"] != "AAPL" {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"trade","data":[{"s":"AAPL","p":190.5,"v":10,"t":1767225600000}]}`))
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	s := NewStream("k", "ws"+strings.TrimPrefix(srv.URL, "http"), []string{"AAPL"}, time.Minute, logger.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Subscribe(ctx); err != nil {
		t.Fatal(err)
	}

	trades, errs := s.Read(ctx)
	select {
	case tr := <-trades:
		if tr.Symbol != "AAPL" || tr.Price != 190.5 || tr.Timestamp.Unix() != 1767225600 {
			t.Fatalf("trade = %+v", tr)
		}
	case err := <-errs:
		t.Fatalf("read error: %v", err)
	case <-ctx.Done():
		t.Fatal("no trade received")
	}

	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("expected error when server closes")
		}
		if s.IsConnected() {
			t.Fatal("stream must report disconnected")
		}
	case <-ctx.Done():
		t.Fatal("no error after server close")
	}
}

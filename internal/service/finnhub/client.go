package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"StockAlert/internal/domain/models"
	drepo "StockAlert/internal/domain/repository"
	"StockAlert/pkg/logger"

	"github.com/gorilla/websocket"
)

// Stream implements drepo.MarketStream over the Finnhub trade WebSocket.
type Stream struct {
	apiKey       string
	websocketURL string
	symbols      []string
	pingInterval time.Duration
	bufferSize   int
	log          *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

var _ drepo.MarketStream = (*Stream)(nil)

func NewStream(apiKey, websocketURL string, symbols []string, pingInterval time.Duration, log *logger.Logger) *Stream {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Stream{
		apiKey:       apiKey,
		websocketURL: websocketURL,
		symbols:      symbols,
		pingInterval: pingInterval,
		bufferSize:   1024,
		log:          log,
	}
}

// Connect dials the WebSocket, closing any previous connection first.
func (s *Stream) Connect(ctx context.Context) error {
	_ = s.Close()

	u, err := url.Parse(s.websocketURL)
	if err != nil {
		return fmt.Errorf("finnhub url: %w", err)
	}
	if s.apiKey != "" {
		q := u.Query()
		q.Set("token", s.apiKey)
		u.RawQuery = q.Encode()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("finnhub connect: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	s.log.Info("finnhub connected", logger.Int("symbols", len(s.symbols)))
	return nil
}

// Subscribe subscribes to configured symbols.
func (s *Stream) Subscribe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || !s.connected {
		return fmt.Errorf("finnhub not connected")
	}
	for _, sym := range s.symbols {
		if err := s.conn.WriteJSON(map[string]string{"type": "subscribe", "symbol": sym}); err != nil {
			return fmt.Errorf("subscribe %s: %w", sym, err)
		}
	}
	return nil
}

type fhTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type fhMessage struct {
	Type string    `json:"type"`
	Data []fhTrade `json:"data"`
}

// Read streams trades until ctx ends or the connection fails. The error
// channel receives at most one error; both channels close when reading stops.
func (s *Stream) Read(ctx context.Context) (<-chan *models.Trade, <-chan error) {
	trades := make(chan *models.Trade, s.bufferSize)
	errs := make(chan error, 1)

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		errs <- fmt.Errorf("finnhub not connected")
		close(trades)
		close(errs)
		return trades, errs
	}

	rctx, cancel := context.WithCancel(ctx)
	go s.pingLoop(rctx, conn)
	go func() {
		<-rctx.Done()
		// unblocks ReadMessage
		_ = conn.SetReadDeadline(time.Now())
	}()

	go func() {
		defer cancel()
		defer close(trades)
		defer close(errs)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if rctx.Err() == nil {
					s.markDisconnected(conn)
					errs <- fmt.Errorf("finnhub read: %w", err)
				}
				return
			}
			var m fhMessage
			if err := json.Unmarshal(b, &m); err != nil || m.Type != "trade" {
				continue
			}
			for _, d := range m.Data {
				t := &models.Trade{Symbol: d.S, Price: d.P, Volume: d.V, Timestamp: time.UnixMilli(d.T).UTC()}
				select {
				case trades <- t:
				default:
					s.log.Debug("finnhub trade dropped on backpressure", logger.String("symbol", d.S))
				}
			}
		}
	}()

	return trades, errs
}

func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			s.mu.Unlock()
			if err != nil {
				s.log.Debug("finnhub ping failed", logger.Error(err))
			}
		}
	}
}

func (s *Stream) markDisconnected(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.connected = false
	}
	s.mu.Unlock()
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

package events

import (
	"encoding/json"
	"fmt"
	"time"

	"StockAlert/internal/domain/models"
)

type Kind string

const (
	PriceUpdate    Kind = "PRICE_UPDATE"
	AlertCreated   Kind = "ALERT_CREATED"
	AlertUpdated   Kind = "ALERT_UPDATED"
	AlertDeleted   Kind = "ALERT_DELETED"
	AlertTriggered Kind = "ALERT_TRIGGERED"
	WorkerStarted  Kind = "WORKER_STARTED"
	WorkerStopped  Kind = "WORKER_STOPPED"
	WorkerError    Kind = "WORKER_ERROR"
)

// IsLifecycle reports whether the kind describes an owner-side alert change.
func (k Kind) IsLifecycle() bool {
	return k == AlertCreated || k == AlertUpdated || k == AlertDeleted
}

// Event is the envelope delivered on the bus. Payload is one of the payload
// structs below and must not be mutated after Publish.
type Event struct {
	Kind      Kind
	Payload   interface{}
	ID        string
	Timestamp time.Time
	Origin    string
}

// New builds an event with the given payload; the bus fills the rest.
func New(kind Kind, payload interface{}) Event {
	return Event{Kind: kind, Payload: payload}
}

// PricePayload is the wire form of a market observation.
type PricePayload struct {
	Symbol         string          `json:"symbol"`
	InstrumentKey  string          `json:"instrumentKey"`
	AssetType      string          `json:"assetType,omitempty"`
	Price          float64         `json:"price"`
	PrevClose      float64         `json:"prevClose"`
	Change         float64         `json:"change"`
	ChangePct      float64         `json:"changePct"`
	Volume         float64         `json:"volume"`
	High           float64         `json:"high"`
	Low            float64         `json:"low"`
	Open           float64         `json:"open"`
	RSI            *float64        `json:"rsi,omitempty"`
	MovingAverages map[int]float64 `json:"movingAverages,omitempty"`
	AvgVolume      *float64        `json:"avgVolume,omitempty"`
	BollingerUpper *float64        `json:"bollingerUpper,omitempty"`
	BollingerLower *float64        `json:"bollingerLower,omitempty"`
	TrailingHigh   *float64        `json:"trailingHigh,omitempty"`
	TrailingLow    *float64        `json:"trailingLow,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

func FromPriceUpdate(u *models.PriceUpdate) PricePayload {
	return PricePayload{
		Symbol:         u.Symbol,
		InstrumentKey:  u.InstrumentKey,
		AssetType:      string(u.AssetType),
		Price:          u.Price,
		PrevClose:      u.PrevClose,
		Change:         u.Change,
		ChangePct:      u.ChangePct,
		Volume:         u.Volume,
		High:           u.High,
		Low:            u.Low,
		Open:           u.Open,
		RSI:            u.RSI,
		MovingAverages: u.MovingAverages,
		AvgVolume:      u.AvgVolume,
		BollingerUpper: u.BollingerUpper,
		BollingerLower: u.BollingerLower,
		TrailingHigh:   u.TrailingHigh,
		TrailingLow:    u.TrailingLow,
		Timestamp:      u.Timestamp,
	}
}

// ToPriceUpdate validates the payload and converts it to the domain type.
func (p PricePayload) ToPriceUpdate() (*models.PriceUpdate, error) {
	if p.InstrumentKey == "" {
		return nil, fmt.Errorf("price payload: missing instrumentKey")
	}
	if !(p.Price > 0) {
		return nil, fmt.Errorf("price payload: invalid price %v for %s", p.Price, p.InstrumentKey)
	}
	return &models.PriceUpdate{
		Symbol:         p.Symbol,
		InstrumentKey:  p.InstrumentKey,
		AssetType:      models.AssetType(p.AssetType),
		Price:          p.Price,
		PrevClose:      p.PrevClose,
		Open:           p.Open,
		High:           p.High,
		Low:            p.Low,
		Volume:         p.Volume,
		Change:         p.Change,
		ChangePct:      p.ChangePct,
		RSI:            p.RSI,
		MovingAverages: p.MovingAverages,
		AvgVolume:      p.AvgVolume,
		BollingerUpper: p.BollingerUpper,
		BollingerLower: p.BollingerLower,
		TrailingHigh:   p.TrailingHigh,
		TrailingLow:    p.TrailingLow,
		Timestamp:      p.Timestamp,
	}, nil
}

// LifecyclePayload drives evaluator cache invalidation only.
type LifecyclePayload struct {
	AlertID       string `json:"alertId"`
	UserID        string `json:"userId"`
	Symbol        string `json:"symbol"`
	InstrumentKey string `json:"instrumentKey"`
}

func LifecycleOf(a *models.Alert) LifecyclePayload {
	return LifecyclePayload{
		AlertID:       a.ID,
		UserID:        a.UserID,
		Symbol:        a.Symbol,
		InstrumentKey: a.InstrumentKey,
	}
}

type TriggeredPayload struct {
	AlertID              string   `json:"alertId"`
	UserID               string   `json:"userId"`
	Symbol               string   `json:"symbol"`
	Condition            string   `json:"condition"`
	TargetValue          float64  `json:"targetValue"`
	ActualValue          float64  `json:"actualValue"`
	Message              string   `json:"message"`
	NotificationChannels []string `json:"notificationChannels"`
	WebhookURL           string   `json:"webhookUrl,omitempty"`
	Priority             string   `json:"priority"`
}

func TriggeredOf(a *models.Alert, actual float64, message string) TriggeredPayload {
	channels := make([]string, 0, len(a.Channels))
	for _, c := range a.Channels {
		channels = append(channels, string(c))
	}
	return TriggeredPayload{
		AlertID:              a.ID,
		UserID:               a.UserID,
		Symbol:               a.Symbol,
		Condition:            string(a.Condition),
		TargetValue:          a.TargetValue,
		ActualValue:          actual,
		Message:              message,
		NotificationChannels: channels,
		WebhookURL:           a.WebhookURL,
		Priority:             string(a.Priority),
	}
}

// Channels converts the wire channel names back to the domain enum.
func (p TriggeredPayload) Channels() []models.NotificationChannel {
	out := make([]models.NotificationChannel, 0, len(p.NotificationChannels))
	for _, c := range p.NotificationChannels {
		out = append(out, models.NotificationChannel(c))
	}
	return out
}

type WorkerPayload struct {
	Worker              string `json:"worker"`
	State               string `json:"state"`
	Error               string `json:"error,omitempty"`
	ConsecutiveFailures int    `json:"consecutiveFailures,omitempty"`
	BackoffMs           int64  `json:"backoffMs,omitempty"`
}

// envelope is the broker wire form.
type envelope struct {
	EventType Kind            `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
	EventID   string          `json:"eventId"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
}

// Encode marshals an event into the broker envelope.
func Encode(e Event) ([]byte, error) {
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.Kind, err)
	}
	return json.Marshal(envelope{
		EventType: e.Kind,
		Payload:   raw,
		EventID:   e.ID,
		Timestamp: e.Timestamp,
		Source:    e.Origin,
	})
}

// Decode parses a broker envelope and its kind-specific payload.
func Decode(b []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventType == "" || env.EventID == "" {
		return Event{}, fmt.Errorf("decode envelope: missing eventType or eventId")
	}

	var payload interface{}
	var err error
	switch env.EventType {
	case PriceUpdate:
		var p PricePayload
		err = json.Unmarshal(env.Payload, &p)
		payload = p
	case AlertCreated, AlertUpdated, AlertDeleted:
		var p LifecyclePayload
		err = json.Unmarshal(env.Payload, &p)
		payload = p
	case AlertTriggered:
		var p TriggeredPayload
		err = json.Unmarshal(env.Payload, &p)
		payload = p
	case WorkerStarted, WorkerStopped, WorkerError:
		var p WorkerPayload
		err = json.Unmarshal(env.Payload, &p)
		payload = p
	default:
		return Event{}, fmt.Errorf("decode envelope: unknown event type %q", env.EventType)
	}
	if err != nil {
		return Event{}, fmt.Errorf("decode %s payload: %w", env.EventType, err)
	}

	return Event{
		Kind:      env.EventType,
		Payload:   payload,
		ID:        env.EventID,
		Timestamp: env.Timestamp,
		Origin:    env.Source,
	}, nil
}

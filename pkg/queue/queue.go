package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Job handles one message type.
type Job interface {
	Name() string
	Type() string
	Handle(ctx context.Context, payload json.RawMessage) error
}

// Publisher enqueues messages for asynchronous handling.
type Publisher interface {
	Enqueue(ctx context.Context, msgType string, payload any) error
}

type Config struct {
	Workers    int           `yaml:"workers" default:"2"`
	RetryLimit int           `yaml:"retry_limit" default:"5"`
	RetryDelay time.Duration `yaml:"retry_delay" default:"10s"`
	MaxDelay   time.Duration `yaml:"max_delay" default:"10m"`
	KeyPrefix  string        `yaml:"key_prefix" default:"stockalert:queue"`
}

// Message is the envelope stored in Redis.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"timestamp"`
	LastError string          `json:"lastError,omitempty"`
}

// Decode unmarshals a job payload.
func Decode[T any](payload json.RawMessage) (*T, error) {
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &out, nil
}

// retryDelay doubles base per attempt, capped at max.
func retryDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt && d < max; i++ {
		d *= 2
	}
	if max > 0 && d > max {
		d = max
	}
	return d
}

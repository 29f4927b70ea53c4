package models

import "time"

// AlertTriggerRecord is an append-only audit row, one per trigger.
// EventID makes replays idempotent.
type AlertTriggerRecord struct {
	EventID       string
	AlertID       string
	UserID        string
	Symbol        string
	InstrumentKey string
	Condition     Condition
	TargetValue   float64
	ActualValue   float64
	Message       string
	TriggeredAt   time.Time
}

type ChannelOutcome string

const (
	OutcomeSent    ChannelOutcome = "sent"
	OutcomeFailed  ChannelOutcome = "failed"
	OutcomeSkipped ChannelOutcome = "skipped"
)

// DispatchResult holds the per-channel outcome of one notification fan-out.
type DispatchResult struct {
	AlertID  string
	EventID  string
	Outcomes map[NotificationChannel]ChannelOutcome
}

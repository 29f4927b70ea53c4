package models

import (
	"fmt"
	"math"
	"time"
)

type AlertStatus string

const (
	StatusActive    AlertStatus = "ACTIVE"
	StatusTriggered AlertStatus = "TRIGGERED"
	StatusPaused    AlertStatus = "PAUSED"
	StatusExpired   AlertStatus = "EXPIRED"
	StatusCancelled AlertStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition (other than an owner reset
// of a triggered alert) is possible.
func (s AlertStatus) IsTerminal() bool {
	return s == StatusExpired || s == StatusCancelled
}

type AssetType string

const (
	AssetEquity AssetType = "EQUITY"
	AssetIndex  AssetType = "INDEX"
	AssetETF    AssetType = "ETF"
	AssetCrypto AssetType = "CRYPTO"
	AssetFX     AssetType = "FX"
)

type AlertCategory string

const (
	CategoryPrice     AlertCategory = "PRICE"
	CategoryVolume    AlertCategory = "VOLUME"
	CategoryTechnical AlertCategory = "TECHNICAL"
	CategoryCustom    AlertCategory = "CUSTOM"
)

type Condition string

const (
	PriceAbove        Condition = "PRICE_ABOVE"
	PriceBelow        Condition = "PRICE_BELOW"
	PriceBetween      Condition = "PRICE_BETWEEN"
	PriceCrossesAbove Condition = "PRICE_CROSSES_ABOVE"
	PriceCrossesBelow Condition = "PRICE_CROSSES_BELOW"
	PercentChangeUp   Condition = "PERCENT_CHANGE_UP"
	PercentChangeDown Condition = "PERCENT_CHANGE_DOWN"

	VolumeAbove Condition = "VOLUME_ABOVE"
	VolumeSpike Condition = "VOLUME_SPIKE"

	RSIOverbought       Condition = "RSI_OVERBOUGHT"
	RSIOversold         Condition = "RSI_OVERSOLD"
	PriceAboveMA        Condition = "PRICE_ABOVE_MA"
	PriceBelowMA        Condition = "PRICE_BELOW_MA"
	MACrossAbove        Condition = "MA_CROSS_ABOVE"
	MACrossBelow        Condition = "MA_CROSS_BELOW"
	BollingerUpperTouch Condition = "BOLLINGER_UPPER_TOUCH"
	BollingerLowerTouch Condition = "BOLLINGER_LOWER_TOUCH"
	HighBreakout        Condition = "HIGH_BREAKOUT"
	LowBreakdown        Condition = "LOW_BREAKDOWN"

	Custom Condition = "CUSTOM"
)

var conditionCategory = map[Condition]AlertCategory{
	PriceAbove:        CategoryPrice,
	PriceBelow:        CategoryPrice,
	PriceBetween:      CategoryPrice,
	PriceCrossesAbove: CategoryPrice,
	PriceCrossesBelow: CategoryPrice,
	PercentChangeUp:   CategoryPrice,
	PercentChangeDown: CategoryPrice,

	VolumeAbove: CategoryVolume,
	VolumeSpike: CategoryVolume,

	RSIOverbought:       CategoryTechnical,
	RSIOversold:         CategoryTechnical,
	PriceAboveMA:        CategoryTechnical,
	PriceBelowMA:        CategoryTechnical,
	MACrossAbove:        CategoryTechnical,
	MACrossBelow:        CategoryTechnical,
	BollingerUpperTouch: CategoryTechnical,
	BollingerLowerTouch: CategoryTechnical,
	HighBreakout:        CategoryTechnical,
	LowBreakdown:        CategoryTechnical,

	Custom: CategoryCustom,
}

// Category returns the category a condition belongs to, or "" if unknown.
func (c Condition) Category() AlertCategory { return conditionCategory[c] }

// NeedsPreviousPrice is true for crossing conditions.
func (c Condition) NeedsPreviousPrice() bool {
	switch c {
	case PriceCrossesAbove, PriceCrossesBelow, MACrossAbove, MACrossBelow:
		return true
	default:
		return false
	}
}

// IsRange is true for conditions that use the second target value.
func (c Condition) IsRange() bool { return c == PriceBetween }

type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

type NotificationChannel string

const (
	ChannelLocalNotice NotificationChannel = "LOCAL_NOTICE"
	ChannelSound       NotificationChannel = "SOUND"
	ChannelWebhook     NotificationChannel = "WEBHOOK"
)

// Alert is a user-defined rule evaluated against live observations.
//
// Status, TriggerCount, LastTriggeredAt and PreviousPrice are the only fields the
// evaluator writes. Everything else belongs to the owner.
type Alert struct {
	ID            string
	UserID        string
	Symbol        string
	InstrumentKey string
	AssetType     AssetType
	Category      AlertCategory
	Condition     Condition
	TargetValue   float64
	TargetValue2  *float64
	Status        AlertStatus
	Priority      Priority
	Channels      []NotificationChannel
	WebhookURL    string
	Message       string
	TriggerOnce   bool
	Cooldown      time.Duration
	ExpiresAt     *time.Time

	// PreviousPrice is the last observed price, kept for crossing detection.
	PreviousPrice   *float64
	TriggerCount    int
	LastTriggeredAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the owner-controlled invariants.
func (a *Alert) Validate() error {
	if a.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidAlert)
	}
	if a.Symbol == "" || a.InstrumentKey == "" {
		return fmt.Errorf("%w: symbol and instrument key are required", ErrInvalidAlert)
	}
	cat := a.Condition.Category()
	if cat == "" {
		return fmt.Errorf("%w: unknown condition %q", ErrInvalidAlert, a.Condition)
	}
	if a.Category != cat {
		return fmt.Errorf("%w: condition %s does not belong to category %s", ErrInvalidAlert, a.Condition, a.Category)
	}
	if !(a.TargetValue > 0) || math.IsInf(a.TargetValue, 0) {
		return fmt.Errorf("%w: target value must be > 0", ErrInvalidAlert)
	}
	if a.Condition.IsRange() {
		if a.TargetValue2 == nil || !(*a.TargetValue2 > 0) {
			return fmt.Errorf("%w: %s requires a second target value > 0", ErrInvalidAlert, a.Condition)
		}
	}
	if a.Cooldown < 0 {
		return fmt.Errorf("%w: cooldown must not be negative", ErrInvalidAlert)
	}
	for _, ch := range a.Channels {
		switch ch {
		case ChannelLocalNotice, ChannelSound:
		case ChannelWebhook:
			if a.WebhookURL == "" {
				return fmt.Errorf("%w: webhook channel requires a webhook url", ErrInvalidAlert)
			}
		default:
			return fmt.Errorf("%w: unknown channel %q", ErrInvalidAlert, ch)
		}
	}
	return nil
}

// Band returns the [lo, hi] band of a range condition regardless of input order.
func (a *Alert) Band() (lo, hi float64) {
	lo, hi = a.TargetValue, a.TargetValue
	if a.TargetValue2 != nil {
		lo = math.Min(a.TargetValue, *a.TargetValue2)
		hi = math.Max(a.TargetValue, *a.TargetValue2)
	}
	return lo, hi
}

// IsExpired reports whether the alert is past its expiry at now.
func (a *Alert) IsExpired(now time.Time) bool {
	return a.ExpiresAt != nil && !now.Before(*a.ExpiresAt)
}

// ShouldTriggerAgain enforces trigger-once and the cooldown window.
func (a *Alert) ShouldTriggerAgain(now time.Time) bool {
	if a.TriggerOnce && a.TriggerCount > 0 {
		return false
	}
	if a.LastTriggeredAt != nil && now.Sub(*a.LastTriggeredAt) < a.Cooldown {
		return false
	}
	return true
}

// TriggerPatch builds the evaluator-owned field update for a trigger at now.
// The alert itself is not modified; callers apply the patch after it persisted.
func (a *Alert) TriggerPatch(now time.Time, price float64) AlertPatch {
	status := StatusActive
	if a.TriggerOnce {
		status = StatusTriggered
	}
	count := a.TriggerCount + 1
	at := now
	p := price
	from := a.Status
	return AlertPatch{
		Status:          &status,
		ExpectStatus:    &from,
		TriggerCount:    &count,
		LastTriggeredAt: &at,
		PreviousPrice:   &p,
		UpdatedAt:       now,
	}
}

// Apply copies the non-nil fields of p onto a.
func (a *Alert) Apply(p AlertPatch) {
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.TriggerCount != nil {
		a.TriggerCount = *p.TriggerCount
	}
	if p.LastTriggeredAt != nil {
		t := *p.LastTriggeredAt
		a.LastTriggeredAt = &t
	}
	if p.ClearPreviousPrice {
		a.PreviousPrice = nil
	} else if p.PreviousPrice != nil {
		v := *p.PreviousPrice
		a.PreviousPrice = &v
	}
	if p.ClearTriggerState {
		a.TriggerCount = 0
		a.LastTriggeredAt = nil
	}
	if !p.UpdatedAt.IsZero() {
		a.UpdatedAt = p.UpdatedAt
	}
}

// HasChannel reports whether ch is configured on the alert.
func (a *Alert) HasChannel(ch NotificationChannel) bool {
	for _, c := range a.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

var transitions = map[AlertStatus][]AlertStatus{
	StatusActive:    {StatusTriggered, StatusPaused, StatusExpired, StatusCancelled},
	StatusTriggered: {StatusActive, StatusCancelled},
	StatusPaused:    {StatusActive, StatusExpired, StatusCancelled},
}

// CanTransition reports whether the lifecycle allows moving from the current
// status to the given one.
func (a *Alert) CanTransition(to AlertStatus) bool {
	for _, s := range transitions[a.Status] {
		if s == to {
			return true
		}
	}
	return false
}

// AlertPatch is a partial update of the evaluator-owned fields.
// UpdatedAt drives last-writer-wins at the store. When ExpectStatus is set the
// patch only applies while the stored status still equals it.
type AlertPatch struct {
	Status          *AlertStatus
	ExpectStatus    *AlertStatus
	TriggerCount    *int
	LastTriggeredAt *time.Time
	PreviousPrice   *float64

	ClearPreviousPrice bool
	ClearTriggerState  bool

	UpdatedAt time.Time
}

// StatusPatch is a convenience for status-only updates.
func StatusPatch(s AlertStatus, now time.Time) AlertPatch {
	return AlertPatch{Status: &s, UpdatedAt: now}
}

// TransitionPatch moves the alert from one status to another and loses with
// ErrStale if the status changed in between.
func TransitionPatch(from, to AlertStatus, now time.Time) AlertPatch {
	p := StatusPatch(to, now)
	p.ExpectStatus = &from
	return p
}

// Clone returns a deep copy.
func (a *Alert) Clone() *Alert {
	c := *a
	c.Channels = append([]NotificationChannel(nil), a.Channels...)
	c.TargetValue2 = cloneFloat(a.TargetValue2)
	c.PreviousPrice = cloneFloat(a.PreviousPrice)
	c.ExpiresAt = cloneTime(a.ExpiresAt)
	c.LastTriggeredAt = cloneTime(a.LastTriggeredAt)
	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	x := *v
	return &x
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	x := *v
	return &x
}

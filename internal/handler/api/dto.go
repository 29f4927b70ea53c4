package api

import (
	"time"

	"StockAlert/internal/domain/models"
	"StockAlert/internal/usecase"
)

type CreateAlertRequest struct {
	Symbol        string   `json:"symbol" validate:"required,max=32"`
	InstrumentKey string   `json:"instrumentKey" validate:"omitempty,max=64"`
	AssetType     string   `json:"assetType" default:"EQUITY" validate:"oneof=EQUITY INDEX ETF CRYPTO FX"`
	Condition     string   `json:"condition" validate:"required"`
	TargetValue   float64  `json:"targetValue" validate:"gt=0"`
	TargetValue2  *float64 `json:"targetValue2,omitempty" validate:"omitempty,gt=0"`
	Priority      string   `json:"priority" default:"MEDIUM" validate:"oneof=LOW MEDIUM HIGH CRITICAL"`
	Channels      []string `json:"channels" validate:"required,min=1,dive,oneof=LOCAL_NOTICE SOUND WEBHOOK"`
	WebhookURL    string   `json:"webhookUrl,omitempty" validate:"omitempty,url"`
	Message       string   `json:"message,omitempty" validate:"max=500"`
	TriggerOnce   bool     `json:"triggerOnce"`
	// CooldownSeconds defaults to five minutes.
	CooldownSeconds *int64     `json:"cooldownSeconds,omitempty" validate:"omitempty,gte=0"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
}

func (r *CreateAlertRequest) toModel(userID string) *models.Alert {
	cond := models.Condition(r.Condition)
	cooldown := 5 * time.Minute
	if r.CooldownSeconds != nil {
		cooldown = time.Duration(*r.CooldownSeconds) * time.Second
	}
	return &models.Alert{
		UserID:        userID,
		Symbol:        r.Symbol,
		InstrumentKey: r.InstrumentKey,
		AssetType:     models.AssetType(r.AssetType),
		Category:      cond.Category(),
		Condition:     cond,
		TargetValue:   r.TargetValue,
		TargetValue2:  r.TargetValue2,
		Priority:      models.Priority(r.Priority),
		Channels:      channels(r.Channels),
		WebhookURL:    r.WebhookURL,
		Message:       r.Message,
		TriggerOnce:   r.TriggerOnce,
		Cooldown:      cooldown,
		ExpiresAt:     r.ExpiresAt,
	}
}

type UpdateAlertRequest struct {
	TargetValue     *float64   `json:"targetValue,omitempty" validate:"omitempty,gt=0"`
	TargetValue2    *float64   `json:"targetValue2,omitempty" validate:"omitempty,gt=0"`
	Priority        *string    `json:"priority,omitempty" validate:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`
	Channels        []string   `json:"channels,omitempty" validate:"omitempty,min=1,dive,oneof=LOCAL_NOTICE SOUND WEBHOOK"`
	WebhookURL      *string    `json:"webhookUrl,omitempty" validate:"omitempty,url"`
	Message         *string    `json:"message,omitempty" validate:"omitempty,max=500"`
	TriggerOnce     *bool      `json:"triggerOnce,omitempty"`
	CooldownSeconds *int64     `json:"cooldownSeconds,omitempty" validate:"omitempty,gte=0"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
}

func (r *UpdateAlertRequest) toUpdate() usecase.AlertUpdate {
	u := usecase.AlertUpdate{
		TargetValue:  r.TargetValue,
		TargetValue2: r.TargetValue2,
		Channels:     channels(r.Channels),
		WebhookURL:   r.WebhookURL,
		Message:      r.Message,
		TriggerOnce:  r.TriggerOnce,
		ExpiresAt:    r.ExpiresAt,
	}
	if r.Priority != nil {
		p := models.Priority(*r.Priority)
		u.Priority = &p
	}
	if r.CooldownSeconds != nil {
		d := time.Duration(*r.CooldownSeconds) * time.Second
		u.Cooldown = &d
	}
	return u
}

type ListAlertsQuery struct {
	Status string `query:"status" validate:"omitempty,oneof=ACTIVE TRIGGERED PAUSED EXPIRED CANCELLED"`
}

type TriggerRequest struct {
	// Price is optional; the last published price is used when it is zero.
	Price float64 `json:"price" validate:"gte=0"`
}

type HistoryQuery struct {
	Limit int `query:"limit" default:"50" validate:"gte=1,lte=500"`
	// Since drops older records; RFC3339 or unix seconds/milliseconds.
	Since string `query:"since"`
}

type AlertResponse struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	Symbol          string     `json:"symbol"`
	InstrumentKey   string     `json:"instrumentKey"`
	AssetType       string     `json:"assetType"`
	Category        string     `json:"category"`
	Condition       string     `json:"condition"`
	TargetValue     float64    `json:"targetValue"`
	TargetValue2    *float64   `json:"targetValue2,omitempty"`
	Status          string     `json:"status"`
	Priority        string     `json:"priority"`
	Channels        []string   `json:"channels"`
	WebhookURL      string     `json:"webhookUrl,omitempty"`
	Message         string     `json:"message,omitempty"`
	TriggerOnce     bool       `json:"triggerOnce"`
	CooldownSeconds int64      `json:"cooldownSeconds"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	PreviousPrice   *float64   `json:"previousPrice,omitempty"`
	TriggerCount    int        `json:"triggerCount"`
	LastTriggeredAt *time.Time `json:"lastTriggeredAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func toAlertResponse(a *models.Alert) AlertResponse {
	chs := make([]string, len(a.Channels))
	for i, c := range a.Channels {
		chs[i] = string(c)
	}
	return AlertResponse{
		ID:              a.ID,
		UserID:          a.UserID,
		Symbol:          a.Symbol,
		InstrumentKey:   a.InstrumentKey,
		AssetType:       string(a.AssetType),
		Category:        string(a.Category),
		Condition:       string(a.Condition),
		TargetValue:     a.TargetValue,
		TargetValue2:    a.TargetValue2,
		Status:          string(a.Status),
		Priority:        string(a.Priority),
		Channels:        chs,
		WebhookURL:      a.WebhookURL,
		Message:         a.Message,
		TriggerOnce:     a.TriggerOnce,
		CooldownSeconds: int64(a.Cooldown / time.Second),
		ExpiresAt:       a.ExpiresAt,
		PreviousPrice:   a.PreviousPrice,
		TriggerCount:    a.TriggerCount,
		LastTriggeredAt: a.LastTriggeredAt,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

type TriggerRecordResponse struct {
	EventID     string    `json:"eventId"`
	AlertID     string    `json:"alertId"`
	Symbol      string    `json:"symbol"`
	Condition   string    `json:"condition"`
	TargetValue float64   `json:"targetValue"`
	ActualValue float64   `json:"actualValue"`
	Message     string    `json:"message"`
	TriggeredAt time.Time `json:"triggeredAt"`
}

func toTriggerResponse(r *models.AlertTriggerRecord) TriggerRecordResponse {
	return TriggerRecordResponse{
		EventID:     r.EventID,
		AlertID:     r.AlertID,
		Symbol:      r.Symbol,
		Condition:   string(r.Condition),
		TargetValue: r.TargetValue,
		ActualValue: r.ActualValue,
		Message:     r.Message,
		TriggeredAt: r.TriggeredAt,
	}
}

func channels(in []string) []models.NotificationChannel {
	if in == nil {
		return nil
	}
	out := make([]models.NotificationChannel, len(in))
	for i, c := range in {
		out[i] = models.NotificationChannel(c)
	}
	return out
}

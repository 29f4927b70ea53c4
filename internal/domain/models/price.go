package models

import "time"

// PriceUpdate is one market observation for an instrument. It is never persisted.
type PriceUpdate struct {
	Symbol        string
	InstrumentKey string
	AssetType     AssetType
	Price         float64
	PrevClose     float64
	Open          float64
	High          float64
	Low           float64
	Volume        float64
	Change        float64
	ChangePct     float64

	// Optional technical fields; nil means not available.
	RSI            *float64
	MovingAverages map[int]float64
	AvgVolume      *float64
	BollingerUpper *float64
	BollingerLower *float64
	TrailingHigh   *float64
	TrailingLow    *float64

	Timestamp time.Time
}

// PercentChange returns the move vs previous close in percent and false when
// the previous close is unusable.
func (p *PriceUpdate) PercentChange() (float64, bool) {
	if p.PrevClose <= 0 {
		return 0, false
	}
	return (p.Price - p.PrevClose) / p.PrevClose * 100, true
}

// Trade is a single print from a live feed.
type Trade struct {
	Symbol    string
	Price     float64
	Volume    float64
	Timestamp time.Time
}

// Quote is the current session snapshot for a symbol.
type Quote struct {
	Current   float64 `json:"c"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Open      float64 `json:"o"`
	PrevClose float64 `json:"pc"`
}

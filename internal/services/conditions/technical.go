package conditions

import (
	"fmt"
	"math"

	"StockAlert/internal/domain/models"
)

// Technical handles the TECHNICAL category. A missing indicator never fires.
//
// For moving-average conditions TargetValue is the MA period.
type Technical struct{}

func (Technical) Evaluate(a *models.Alert, u *models.PriceUpdate) (Result, error) {
	if a.Category != models.CategoryTechnical {
		return Result{}, fmt.Errorf("%w: %s", ErrWrongCategory, a.Condition)
	}
	p := u.Price

	switch a.Condition {
	case models.RSIOverbought:
		if u.RSI == nil {
			return miss(0), nil
		}
		if *u.RSI >= a.TargetValue {
			return hit(*u.RSI, "%s RSI %s is overbought (>= %s)", label(a), num(roundTo(*u.RSI, 2)), num(a.TargetValue)), nil
		}
		return miss(*u.RSI), nil

	case models.RSIOversold:
		if u.RSI == nil {
			return miss(0), nil
		}
		if *u.RSI <= a.TargetValue {
			return hit(*u.RSI, "%s RSI %s is oversold (<= %s)", label(a), num(roundTo(*u.RSI, 2)), num(a.TargetValue)), nil
		}
		return miss(*u.RSI), nil

	case models.PriceAboveMA, models.PriceBelowMA, models.MACrossAbove, models.MACrossBelow:
		return movingAverage(a, u)

	case models.BollingerUpperTouch:
		if u.BollingerUpper == nil {
			return miss(p), nil
		}
		if p >= *u.BollingerUpper {
			return hit(p, "%s price %s touched upper band %s", label(a), num(p), num(*u.BollingerUpper)), nil
		}
		return miss(p), nil

	case models.BollingerLowerTouch:
		if u.BollingerLower == nil {
			return miss(p), nil
		}
		if p <= *u.BollingerLower {
			return hit(p, "%s price %s touched lower band %s", label(a), num(p), num(*u.BollingerLower)), nil
		}
		return miss(p), nil

	case models.HighBreakout:
		if u.TrailingHigh == nil {
			return miss(p), nil
		}
		if p > *u.TrailingHigh {
			return hit(p, "%s broke out above %s at %s", label(a), num(*u.TrailingHigh), num(p)), nil
		}
		return miss(p), nil

	case models.LowBreakdown:
		if u.TrailingLow == nil {
			return miss(p), nil
		}
		if p < *u.TrailingLow {
			return hit(p, "%s broke down below %s at %s", label(a), num(*u.TrailingLow), num(p)), nil
		}
		return miss(p), nil
	}
	return Result{}, fmt.Errorf("%w: %s", ErrWrongCategory, a.Condition)
}

func movingAverage(a *models.Alert, u *models.PriceUpdate) (Result, error) {
	p := u.Price
	period := int(a.TargetValue)
	ma, ok := u.MovingAverages[period]
	if !ok || ma <= 0 {
		return miss(p), nil
	}

	switch a.Condition {
	case models.PriceAboveMA:
		if p > ma {
			return hit(p, "%s price %s is above %d MA %s", label(a), num(p), period, num(roundTo(ma, 4))), nil
		}
	case models.PriceBelowMA:
		if p < ma {
			return hit(p, "%s price %s is below %d MA %s", label(a), num(p), period, num(roundTo(ma, 4))), nil
		}
	case models.MACrossAbove:
		if a.PreviousPrice != nil && *a.PreviousPrice < ma && p >= ma {
			return hit(p, "%s crossed above %d MA %s (%s -> %s)", label(a), period, num(roundTo(ma, 4)), num(*a.PreviousPrice), num(p)), nil
		}
	case models.MACrossBelow:
		if a.PreviousPrice != nil && *a.PreviousPrice > ma && p <= ma {
			return hit(p, "%s crossed below %d MA %s (%s -> %s)", label(a), period, num(roundTo(ma, 4)), num(*a.PreviousPrice), num(p)), nil
		}
	}
	return miss(p), nil
}

func roundTo(v float64, places int) float64 {
	f := math.Pow(10, float64(places))
	return math.Round(v*f) / f
}

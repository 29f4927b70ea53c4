package conditions

import (
	"fmt"

	"StockAlert/internal/domain/models"
)

// Price handles the PRICE category.
type Price struct{}

func (Price) Evaluate(a *models.Alert, u *models.PriceUpdate) (Result, error) {
	if a.Category != models.CategoryPrice {
		return Result{}, fmt.Errorf("%w: %s", ErrWrongCategory, a.Condition)
	}
	p, target := u.Price, a.TargetValue

	switch a.Condition {
	case models.PriceAbove:
		if p >= target {
			return hit(p, "%s price %s is above target %s", label(a), num(p), num(target)), nil
		}
		return miss(p), nil

	case models.PriceBelow:
		if p <= target {
			return hit(p, "%s price %s is below target %s", label(a), num(p), num(target)), nil
		}
		return miss(p), nil

	case models.PriceBetween:
		lo, hi := a.Band()
		if p >= lo && p <= hi {
			return hit(p, "%s price %s is within %s - %s", label(a), num(p), num(lo), num(hi)), nil
		}
		return miss(p), nil

	case models.PriceCrossesAbove:
		if a.PreviousPrice == nil {
			return miss(p), nil
		}
		prev := *a.PreviousPrice
		if prev < target && p >= target {
			return hit(p, "%s crossed above %s (%s -> %s)", label(a), num(target), num(prev), num(p)), nil
		}
		return miss(p), nil

	case models.PriceCrossesBelow:
		if a.PreviousPrice == nil {
			return miss(p), nil
		}
		prev := *a.PreviousPrice
		if prev > target && p <= target {
			return hit(p, "%s crossed below %s (%s -> %s)", label(a), num(target), num(prev), num(p)), nil
		}
		return miss(p), nil

	case models.PercentChangeUp:
		change, ok := u.PercentChange()
		if !ok {
			return miss(0), nil
		}
		if change >= target {
			return hit(change, "%s is up %s (threshold %s%%)", label(a), pct(change), num(target)), nil
		}
		return miss(change), nil

	case models.PercentChangeDown:
		change, ok := u.PercentChange()
		if !ok {
			return miss(0), nil
		}
		if change <= -target {
			return hit(change, "%s is down %s (threshold %s%%)", label(a), pct(-change), num(target)), nil
		}
		return miss(change), nil
	}
	return Result{}, fmt.Errorf("%w: %s", ErrWrongCategory, a.Condition)
}

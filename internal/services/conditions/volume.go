package conditions

import (
	"fmt"

	"StockAlert/internal/domain/models"
)

// Volume handles the VOLUME category.
type Volume struct{}

func (Volume) Evaluate(a *models.Alert, u *models.PriceUpdate) (Result, error) {
	if a.Category != models.CategoryVolume {
		return Result{}, fmt.Errorf("%w: %s", ErrWrongCategory, a.Condition)
	}
	v := u.Volume

	switch a.Condition {
	case models.VolumeAbove:
		if v >= a.TargetValue {
			return hit(v, "%s volume %s is above %s", label(a), num(v), num(a.TargetValue)), nil
		}
		return miss(v), nil

	case models.VolumeSpike:
		if u.AvgVolume == nil || *u.AvgVolume <= 0 {
			return miss(0), nil
		}
		ratio := v / *u.AvgVolume
		if ratio >= a.TargetValue {
			return hit(ratio, "%s volume spike %sx average (threshold %sx)", label(a), num(roundTo(ratio, 2)), num(a.TargetValue)), nil
		}
		return miss(ratio), nil
	}
	return Result{}, fmt.Errorf("%w: %s", ErrWrongCategory, a.Condition)
}

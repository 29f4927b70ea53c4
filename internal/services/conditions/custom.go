package conditions

import (
	"fmt"

	"StockAlert/internal/domain/models"
)

// Custom alerts are fired by their owner, never by observations.
type Custom struct{}

func (Custom) Evaluate(a *models.Alert, u *models.PriceUpdate) (Result, error) {
	if a.Category != models.CategoryCustom {
		return Result{}, fmt.Errorf("%w: %s", ErrWrongCategory, a.Condition)
	}
	return miss(u.Price), nil
}

// ManualMessage builds the notification text for an owner-fired custom alert.
func ManualMessage(a *models.Alert, price float64) string {
	if a.Message != "" {
		return a.Message
	}
	if price > 0 {
		return fmt.Sprintf("%s custom alert triggered at %s", label(a), num(price))
	}
	return fmt.Sprintf("%s custom alert triggered", label(a))
}

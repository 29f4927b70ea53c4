// Package conditions holds the trigger math for every alert condition.
// Evaluators are pure: they read the alert and the observation and never
// mutate either.
package conditions

import (
	"errors"
	"fmt"

	"StockAlert/internal/domain/models"

	"github.com/shopspring/decimal"
)

var ErrWrongCategory = errors.New("condition does not belong to evaluator category")

// Result of one evaluation. Actual is the observed value compared to the target.
type Result struct {
	Triggered bool
	Message   string
	Actual    float64
}

type Evaluator interface {
	Evaluate(a *models.Alert, u *models.PriceUpdate) (Result, error)
}

// Composite dispatches by alert category.
type Composite struct {
	price     Price
	volume    Volume
	technical Technical
	custom    Custom
}

func NewComposite() *Composite { return &Composite{} }

func (c *Composite) Evaluate(a *models.Alert, u *models.PriceUpdate) (Result, error) {
	if a.Condition.Category() != a.Category {
		return Result{}, fmt.Errorf("%w: %s in %s", ErrWrongCategory, a.Condition, a.Category)
	}
	switch a.Category {
	case models.CategoryPrice:
		return c.price.Evaluate(a, u)
	case models.CategoryVolume:
		return c.volume.Evaluate(a, u)
	case models.CategoryTechnical:
		return c.technical.Evaluate(a, u)
	case models.CategoryCustom:
		return c.custom.Evaluate(a, u)
	default:
		return Result{}, fmt.Errorf("unknown alert category %q", a.Category)
	}
}

func hit(actual float64, format string, args ...interface{}) Result {
	return Result{Triggered: true, Actual: actual, Message: fmt.Sprintf(format, args...)}
}

func miss(actual float64) Result {
	return Result{Actual: actual}
}

// num renders a float without trailing zeros or exponent noise.
func num(v float64) string {
	return decimal.NewFromFloat(v).String()
}

func pct(v float64) string {
	return decimal.NewFromFloat(v).Round(2).String() + "%"
}

func label(a *models.Alert) string {
	if a.Symbol != "" {
		return a.Symbol
	}
	return a.InstrumentKey
}

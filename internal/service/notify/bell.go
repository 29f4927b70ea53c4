package notify

import (
	"context"
	"io"
	"strings"
	"sync"

	"StockAlert/internal/domain/models"
	"StockAlert/internal/domain/service"
)

// Bell rings the terminal bell, more often for urgent alerts.
type Bell struct {
	mu  sync.Mutex
	out io.Writer
}

var _ service.AudibleSignaler = (*Bell)(nil)

func NewBell(out io.Writer) *Bell { return &Bell{out: out} }

func (b *Bell) Signal(ctx context.Context, priority models.Priority) bool {
	if b.out == nil || ctx.Err() != nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := io.WriteString(b.out, strings.Repeat("\a", rings(priority)))
	return err == nil
}

func rings(p models.Priority) int {
	switch p {
	case models.PriorityCritical:
		return 3
	case models.PriorityHigh:
		return 2
	default:
		return 1
	}
}

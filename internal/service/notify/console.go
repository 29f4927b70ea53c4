package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"StockAlert/internal/domain/models"
	"StockAlert/internal/domain/service"
	"StockAlert/pkg/logger"
)

// Console prints notices to a writer and mirrors them to the log.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	log *logger.Logger
	now func() time.Time
}

var _ service.LocalNotifier = (*Console)(nil)

// NewConsole writes to out, or stdout when out is nil.
func NewConsole(out io.Writer, log *logger.Logger) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{out: out, log: log, now: time.Now}
}

func (c *Console) Notice(ctx context.Context, title, body string, priority models.Priority) bool {
	if ctx.Err() != nil {
		return false
	}
	c.mu.Lock()
	_, err := fmt.Fprintf(c.out, "[%s] %s %s\n  %s\n", c.now().Format("15:04:05"), priority, title, body)
	c.mu.Unlock()
	if err != nil {
		c.log.Warn("console notice failed", logger.String("title", title), logger.Error(err))
		return false
	}
	c.log.Info("alert notice", logger.String("title", title), logger.String("priority", string(priority)))
	return true
}

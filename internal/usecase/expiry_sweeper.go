package usecase

import (
	"context"
	"fmt"
	"time"

	"StockAlert/internal/domain/events"
	drepo "StockAlert/internal/domain/repository"
	"StockAlert/pkg/logger"

	"github.com/go-co-op/gocron"
)

// ExpirySweeper expires overdue alerts on a schedule so that instruments
// without price traffic still see their alerts leave ACTIVE.
type ExpirySweeper struct {
	cron     *gocron.Scheduler
	store    drepo.AlertStore
	bus      EventBus
	log      *logger.Logger
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
}

func NewExpirySweeper(store drepo.AlertStore, bus EventBus, log *logger.Logger, interval time.Duration) *ExpirySweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpirySweeper{
		cron:     gocron.NewScheduler(time.UTC),
		store:    store,
		bus:      bus,
		log:      log,
		interval: interval,
		timeout:  30 * time.Second,
		now:      time.Now,
	}
}

func (s *ExpirySweeper) Start(ctx context.Context) error {
	base := context.WithoutCancel(ctx)
	_, err := s.cron.Every(s.interval).SingletonMode().Do(func() {
		sctx, cancel := context.WithTimeout(base, s.timeout)
		defer cancel()
		if _, err := s.Sweep(sctx); err != nil {
			s.log.Warn("expiry sweep failed", logger.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule expiry sweep: %w", err)
	}
	s.cron.StartAsync()
	s.log.Info("expiry sweeper started", logger.Duration("interval_ms", s.interval))
	return nil
}

func (s *ExpirySweeper) Stop(ctx context.Context) error {
	s.cron.Stop()
	return nil
}

// Sweep expires everything due now and announces each change.
func (s *ExpirySweeper) Sweep(ctx context.Context) (int, error) {
	expired, err := s.store.ExpireDue(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("expire due alerts: %w", err)
	}
	for _, a := range expired {
		s.bus.Publish(ctx, events.New(events.AlertUpdated, events.LifecycleOf(a)))
	}
	if len(expired) > 0 {
		s.log.Info("expired alerts", logger.Int("count", len(expired)))
	}
	return len(expired), nil
}

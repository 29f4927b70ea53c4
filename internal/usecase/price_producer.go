package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"StockAlert/internal/domain/events"
	"StockAlert/internal/domain/models"
	drepo "StockAlert/internal/domain/repository"
	"StockAlert/pkg/cache"
	"StockAlert/pkg/logger"
)

// Instrument maps a feed symbol to the instrument key alerts are keyed by.
type Instrument struct {
	Symbol        string
	InstrumentKey string
	AssetType     models.AssetType
}

type ProducerConfig struct {
	Instruments []Instrument
	// MinInterval throttles PRICE_UPDATE per instrument; zero publishes every trade.
	MinInterval  time.Duration
	QuoteRefresh time.Duration
	SnapshotTTL  time.Duration
	IdlePoll     time.Duration
}

// session is the running daily picture of one instrument.
type session struct {
	day                        time.Time
	open, high, low, prevClose float64
	volume                     float64
	quotedAt                   time.Time
	lastSent                   time.Time
}

// roll starts a new trading day; the previous close comes from the next quote.
func (s *session) roll(day time.Time) {
	s.day = day
	s.open, s.high, s.low, s.volume = 0, 0, 0, 0
	s.quotedAt = time.Time{}
}

// PriceSnapshot is the last published observation, kept in the cache.
type PriceSnapshot struct {
	InstrumentKey string    `json:"instrumentKey"`
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	PrevClose     float64   `json:"prevClose"`
	ChangePct     float64   `json:"changePct"`
	Volume        float64   `json:"volume"`
	Timestamp     time.Time `json:"timestamp"`
}

// PriceProducer turns live trades into PRICE_UPDATE events.
type PriceProducer struct {
	stream  drepo.MarketStream
	quotes  drepo.QuoteSource
	bus     EventBus
	snaps   cache.Service
	metrics drepo.Metrics
	log     *logger.Logger
	cfg     ProducerConfig
	now     func() time.Time

	bySymbol map[string]Instrument
	sessions map[string]*session
	trades   <-chan *models.Trade
	errs     <-chan error
}

func NewPriceProducer(
	stream drepo.MarketStream,
	quotes drepo.QuoteSource,
	bus EventBus,
	snaps cache.Service,
	metrics drepo.Metrics,
	log *logger.Logger,
	cfg ProducerConfig,
) *PriceProducer {
	if cfg.QuoteRefresh <= 0 {
		cfg.QuoteRefresh = 15 * time.Minute
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = 24 * time.Hour
	}
	if cfg.IdlePoll <= 0 {
		cfg.IdlePoll = time.Second
	}
	bySymbol := make(map[string]Instrument, len(cfg.Instruments))
	for _, in := range cfg.Instruments {
		if in.InstrumentKey == "" {
			in.InstrumentKey = in.Symbol
		}
		bySymbol[in.Symbol] = in
	}
	return &PriceProducer{
		stream:   stream,
		quotes:   quotes,
		bus:      bus,
		snaps:    snaps,
		metrics:  metrics,
		log:      log,
		cfg:      cfg,
		now:      time.Now,
		bySymbol: bySymbol,
		sessions: make(map[string]*session),
	}
}

func (p *PriceProducer) Name() string { return "price-producer" }

func (p *PriceProducer) Init(ctx context.Context) error {
	if len(p.bySymbol) == 0 {
		return errors.New("price producer: no instruments configured")
	}
	return nil
}

// RunOnce connects when needed and handles at most one trade. A stream error
// is returned so the worker backs off before reconnecting.
func (p *PriceProducer) RunOnce(ctx context.Context) error {
	if p.trades == nil || !p.stream.IsConnected() {
		if err := p.connect(ctx); err != nil {
			return err
		}
	}

	idle := time.NewTimer(p.cfg.IdlePoll)
	defer idle.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-idle.C:
		return nil
	case err, ok := <-p.errs:
		p.trades, p.errs = nil, nil
		_ = p.stream.Close()
		if !ok || err == nil {
			return errors.New("market stream closed")
		}
		p.metrics.RecordError("stream")
		return err
	case t, ok := <-p.trades:
		if !ok {
			p.trades, p.errs = nil, nil
			return errors.New("market stream closed")
		}
		p.onTrade(ctx, t)
		return nil
	}
}

func (p *PriceProducer) Cleanup(ctx context.Context) error {
	p.trades, p.errs = nil, nil
	return p.stream.Close()
}

func (p *PriceProducer) connect(ctx context.Context) error {
	if err := p.stream.Connect(ctx); err != nil {
		p.metrics.RecordError("stream_connect")
		return err
	}
	if err := p.stream.Subscribe(ctx); err != nil {
		_ = p.stream.Close()
		return err
	}
	p.trades, p.errs = p.stream.Read(ctx)
	return nil
}

func (p *PriceProducer) onTrade(ctx context.Context, t *models.Trade) {
	in, ok := p.bySymbol[t.Symbol]
	if !ok || t.Price <= 0 {
		return
	}
	now := p.now()
	s := p.session(ctx, in, now)

	prevHigh, prevLow := s.high, s.low
	if s.open == 0 {
		s.open = t.Price
	}
	if s.high == 0 || t.Price > s.high {
		s.high = t.Price
	}
	if s.low == 0 || t.Price < s.low {
		s.low = t.Price
	}
	s.volume += t.Volume

	if p.cfg.MinInterval > 0 && now.Sub(s.lastSent) < p.cfg.MinInterval {
		return
	}
	s.lastSent = now

	ts := t.Timestamp
	if ts.IsZero() {
		ts = now
	}
	upd := &models.PriceUpdate{
		Symbol:        in.Symbol,
		InstrumentKey: in.InstrumentKey,
		AssetType:     in.AssetType,
		Price:         t.Price,
		PrevClose:     s.prevClose,
		Open:          s.open,
		High:          s.high,
		Low:           s.low,
		Volume:        s.volume,
		Timestamp:     ts,
	}
	if prevHigh > 0 {
		upd.TrailingHigh = &prevHigh
	}
	if prevLow > 0 {
		upd.TrailingLow = &prevLow
	}
	if pct, ok := upd.PercentChange(); ok {
		upd.Change = upd.Price - upd.PrevClose
		upd.ChangePct = pct
	}

	p.bus.Publish(ctx, events.New(events.PriceUpdate, events.FromPriceUpdate(upd)))
	p.metrics.RecordLastPrice(in.InstrumentKey, t.Price)
	p.snapshot(ctx, upd)
}

// session returns the instrument's session, seeding it from the quote
// endpoint when it is new or stale. The session rolls over on a new UTC day
// or when the quote reports a different previous close. Quote failures only
// cost the previous close; trades keep flowing.
func (p *PriceProducer) session(ctx context.Context, in Instrument, now time.Time) *session {
	day := now.UTC().Truncate(24 * time.Hour)
	s, ok := p.sessions[in.InstrumentKey]
	if !ok {
		s = &session{day: day}
		p.sessions[in.InstrumentKey] = s
	}
	if !day.Equal(s.day) {
		s.roll(day)
	}
	if p.quotes == nil || now.Sub(s.quotedAt) < p.cfg.QuoteRefresh {
		return s
	}
	s.quotedAt = now

	qctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	q, err := p.quotes.Quote(qctx, in.Symbol)
	if err != nil {
		p.log.Warn("quote refresh failed", logger.String("symbol", in.Symbol), logger.Error(err))
		return s
	}
	if s.prevClose > 0 && q.PrevClose > 0 && q.PrevClose != s.prevClose {
		p.log.Info("trading session rolled over", logger.String("symbol", in.Symbol))
		s.roll(day)
		s.quotedAt = now
	}
	s.prevClose = q.PrevClose
	if q.Open > 0 {
		s.open = q.Open
	}
	if q.High > s.high {
		s.high = q.High
	}
	if q.Low > 0 && (s.low == 0 || q.Low < s.low) {
		s.low = q.Low
	}
	return s
}

func (p *PriceProducer) snapshot(ctx context.Context, u *models.PriceUpdate) {
	if p.snaps == nil {
		return
	}
	err := p.snaps.Set(ctx, snapshotKey(u.InstrumentKey), PriceSnapshot{
		InstrumentKey: u.InstrumentKey,
		Symbol:        u.Symbol,
		Price:         u.Price,
		PrevClose:     u.PrevClose,
		ChangePct:     u.ChangePct,
		Volume:        u.Volume,
		Timestamp:     u.Timestamp,
	}, p.cfg.SnapshotTTL)
	if err != nil {
		p.log.Debug("price snapshot write failed", logger.String("instrument", u.InstrumentKey), logger.Error(err))
	}
}

func snapshotKey(instrumentKey string) string { return "price:" + instrumentKey }

// Snapshots reads published prices back from the cache. It serves the API and
// custom-alert triggers in any process sharing the cache.
type Snapshots struct {
	cache cache.Service
}

func NewSnapshots(c cache.Service) *Snapshots { return &Snapshots{cache: c} }

func (s *Snapshots) Get(ctx context.Context, instrumentKey string) (*PriceSnapshot, error) {
	var snap PriceSnapshot
	if err := s.cache.Get(ctx, snapshotKey(instrumentKey), &snap); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, fmt.Errorf("price %s: %w", instrumentKey, models.ErrNotFound)
		}
		return nil, err
	}
	return &snap, nil
}

func (s *Snapshots) LastPrice(ctx context.Context, instrumentKey string) (float64, bool) {
	snap, err := s.Get(ctx, instrumentKey)
	if err != nil {
		return 0, false
	}
	return snap.Price, true
}

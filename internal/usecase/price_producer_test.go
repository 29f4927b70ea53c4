package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"StockAlert/internal/domain/events"
	"StockAlert/internal/domain/models"
	"StockAlert/internal/eventbus"
	"StockAlert/pkg/cache"
	"StockAlert/pkg/logger"
)

type fakeStream struct {
	trades    chan *models.Trade
	errs      chan error
	connected bool
	connects  int
}

func newFakeStream() *fakeStream {
	return &fakeStream{trades: make(chan *models.Trade, 16), errs: make(chan error, 1)}
}

func (s *fakeStream) Connect(ctx context.Context) error {
	s.connects++
	s.connected = true
	return nil
}
func (s *fakeStream) Subscribe(ctx context.Context) error { return nil }
func (s *fakeStream) Read(ctx context.Context) (<-chan *models.Trade, <-chan error) {
	return s.trades, s.errs
}
func (s *fakeStream) Close() error      { s.connected = false; return nil }
func (s *fakeStream) IsConnected() bool { return s.connected }

type fakeQuotes struct {
	q     models.Quote
	err   error
	calls int
}

func (f *fakeQuotes) Quote(ctx context.Context, symbol string) (*models.Quote, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	q := f.q
	return &q, nil
}

func newProducer(t *testing.T, stream *fakeStream, quotes *fakeQuotes, minInterval time.Duration) (*PriceProducer, *recorder, cache.Service) {
	t.Helper()
	bus := eventbus.New()
	rec := &recorder{}
	bus.Subscribe(events.PriceUpdate, rec.handle)
	snaps := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	p := NewPriceProducer(stream, quotes, bus, snaps, &countingMetrics{}, logger.Nop(), ProducerConfig{
		Instruments: []Instrument{{Symbol: "RELIANCE.NS", InstrumentKey: instrument, AssetType: models.AssetEquity}},
		MinInterval: minInterval,
		IdlePoll:    10 * time.Millisecond,
	})
	if err := p.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	return p, rec, snaps
}

func TestProducerPublishesMappedUpdates(t *testing.T) {
	stream := newFakeStream()
	quotes := &fakeQuotes{q: models.Quote{Current: 2480, Open: 2470, High: 2490, Low: 2460, PrevClose: 2400}}
	p, rec, snaps := newProducer(t, stream, quotes, 0)
	ctx := context.Background()

	stream.trades <- &models.Trade{Symbol: "RELIANCE.NS", Price: 2520, Volume: 10}
	stream.trades <- &models.Trade{Symbol: "UNKNOWN", Price: 1, Volume: 1}
	for i := 0; i < 2; i++ {
		if err := p.RunOnce(ctx); err != nil {
			t.Fatal(err)
		}
	}

	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("published %d updates, want 1", len(got))
	}
	pl := got[0].Payload.(events.PricePayload)
	if pl.InstrumentKey != instrument || pl.Price != 2520 || pl.PrevClose != 2400 || pl.ChangePct != 5 {
		t.Fatalf("payload = %+v", pl)
	}
	if pl.TrailingHigh == nil || *pl.TrailingHigh != 2490 {
		t.Fatalf("trailing high = %v", pl.TrailingHigh)
	}
	if pl.High != 2520 {
		t.Fatalf("session high = %v", pl.High)
	}

	last, ok := NewSnapshots(snaps).LastPrice(ctx, instrument)
	if !ok || last != 2520 {
		t.Fatalf("snapshot = %v %v", last, ok)
	}
	if quotes.calls != 1 {
		t.Fatalf("quote calls = %d", quotes.calls)
	}
}

func TestProducerRollsSessionOnNewDay(t *testing.T) {
	stream := newFakeStream()
	quotes := &fakeQuotes{q: models.Quote{Open: 2470, High: 2490, Low: 2460, PrevClose: 2400}}
	p, rec, _ := newProducer(t, stream, quotes, 0)
	clk := &clock{t: time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)}
	p.now = clk.now
	ctx := context.Background()

	trade := func(price, volume float64) events.PricePayload {
		t.Helper()
		stream.trades <- &models.Trade{Symbol: "RELIANCE.NS", Price: price, Volume: volume}
		if err := p.RunOnce(ctx); err != nil {
			t.Fatal(err)
		}
		all := rec.all()
		return all[len(all)-1].Payload.(events.PricePayload)
	}

	trade(2520, 10)
	day1 := trade(2300, 5)
	if day1.Volume != 15 || day1.Low != 2300 || day1.High != 2520 {
		t.Fatalf("day one = %+v", day1)
	}

	clk.advance(22 * time.Hour)
	quotes.q = models.Quote{Open: 2360, High: 2370, Low: 2355, PrevClose: 2350}
	day2 := trade(2365, 3)
	if day2.Volume != 3 || day2.High != 2370 || day2.Low != 2355 || day2.Open != 2360 || day2.PrevClose != 2350 {
		t.Fatalf("day two = %+v", day2)
	}
	if quotes.calls != 2 {
		t.Fatalf("quote calls = %d, want a refresh on the new day", quotes.calls)
	}
}

func TestProducerThrottles(t *testing.T) {
	stream := newFakeStream()
	p, rec, _ := newProducer(t, stream, &fakeQuotes{err: errors.New("quota")}, time.Hour)

	for _, price := range []float64{100, 101, 102} {
		stream.trades <- &models.Trade{Symbol: "RELIANCE.NS", Price: price, Volume: 1}
		if err := p.RunOnce(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(rec.all()); n != 1 {
		t.Fatalf("published %d, want 1 inside the throttle window", n)
	}
}

func TestProducerReturnsStreamErrorAndReconnects(t *testing.T) {
	stream := newFakeStream()
	p, _, _ := newProducer(t, stream, nil, 0)

	stream.errs <- errors.New("socket closed")
	if err := p.RunOnce(context.Background()); err == nil {
		t.Fatal("expected stream error")
	}
	if stream.connected {
		t.Fatal("stream should be closed after error")
	}

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if stream.connects != 2 {
		t.Fatalf("connects = %d, want reconnect", stream.connects)
	}
}

func TestProducerRequiresInstruments(t *testing.T) {
	p := NewPriceProducer(newFakeStream(), nil, eventbus.New(), nil, &countingMetrics{}, logger.Nop(), ProducerConfig{})
	if err := p.Init(context.Background()); err == nil {
		t.Fatal("expected configuration error")
	}
}

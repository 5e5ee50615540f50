package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"depthscope/internal/domain"
	"depthscope/internal/event"
)

func testConfig() Config {
	return Config{
		PaneID:     "pane-1",
		Exchange:   "binance",
		Ticker:     "btcusdt",
		TickSize:   d("0.1"),
		Timeframes: []domain.Timeframe{domain.TF1m},
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := testConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if cfg.Depth != DefaultDepth || cfg.InboxSize != DefaultInboxSize {
		t.Error("defaults should be filled in")
	}

	bad := testConfig()
	bad.TickSize = decimal.Zero
	if err := bad.Validate(); err == nil {
		t.Error("zero tick size should be rejected")
	}

	bad = testConfig()
	bad.Timeframes = nil
	if err := bad.Validate(); err == nil {
		t.Error("empty timeframes should be rejected")
	}

	bad = testConfig()
	bad.PaneID = ""
	if err := bad.Validate(); err == nil {
		t.Error("missing pane id should be rejected")
	}
}

func TestPaneSession_EndToEnd(t *testing.T) {
	s, err := NewPaneSession(testConfig())
	if err != nil {
		t.Fatalf("NewPaneSession failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Close()

	s.Offer(&event.SnapshotEvent{
		BaseEvent: event.BaseEvent{Time: 1000},
		UpdateID:  1,
		Bids:      []domain.BookLevel{lvl("100.0", "5")},
		Asks:      []domain.BookLevel{lvl("100.1", "3")},
	})
	s.Offer(&event.TradeEvent{
		BaseEvent: event.BaseEvent{Time: 60_000},
		Trade:     trade("100.05", "2", domain.SideBuy, 60_000),
	})
	s.Offer(&event.TradeEvent{
		BaseEvent: event.BaseEvent{Time: 70_000},
		Trade:     trade("100.05", "1", domain.SideSell, 70_000),
	})

	// Wait for the consumer goroutine to drain the inbox
	time.Sleep(100 * time.Millisecond)

	book := s.Book()
	if !book.Synced {
		t.Fatal("book should be synced after the snapshot")
	}
	bid, _ := book.BestBid()
	if !bid.Price.Equal(d("100.0")) {
		t.Errorf("best bid = %s, want 100.0", bid.Price)
	}

	candles, err := s.Candles(domain.TF1m)
	if err != nil {
		t.Fatalf("Candles failed: %v", err)
	}
	if len(candles) != 1 {
		t.Fatalf("got %d candles, want 1", len(candles))
	}
	c := candles[0]
	if !c.Open.Equal(d("100.05")) || !c.Close.Equal(d("100.05")) {
		t.Errorf("OHLC = %s/%s", c.Open, c.Close)
	}
	if !c.Volume.Equal(d("3")) {
		t.Errorf("Volume = %s, want 3", c.Volume)
	}

	bucketer := mustBucketer(t, "0.1")
	cell := c.Footprint[bucketer.Bucket(d("100.05"))]
	if !cell.BuyQty.Equal(d("2")) || !cell.SellQty.Equal(d("1")) {
		t.Errorf("footprint cell = %s/%s, want 2/1", cell.BuyQty, cell.SellQty)
	}

	if len(s.HeatmapColumns()) == 0 {
		t.Error("snapshot should have produced a heatmap column")
	}
}

func TestPaneSession_UnknownTimeframe(t *testing.T) {
	s, err := NewPaneSession(testConfig())
	if err != nil {
		t.Fatalf("NewPaneSession failed: %v", err)
	}
	defer s.Close()

	if _, err := s.Candles(domain.TF30m); err == nil {
		t.Error("querying an unconfigured timeframe should fail")
	}
}

func TestPaneSession_OfferOverflowDrops(t *testing.T) {
	cfg := testConfig()
	cfg.InboxSize = 2
	s, err := NewPaneSession(cfg)
	if err != nil {
		t.Fatalf("NewPaneSession failed: %v", err)
	}
	defer s.Close()

	// Consumer not started: the inbox fills and further offers must not block.
	ev := &event.TradeEvent{Trade: trade("100.0", "1", domain.SideBuy, 0)}
	if !s.Offer(ev) || !s.Offer(ev) {
		t.Fatal("offers within capacity should succeed")
	}
	done := make(chan bool, 1)
	go func() { done <- s.Offer(ev) }()
	select {
	case ok := <-done:
		if ok {
			t.Error("overflow offer should report a drop")
		}
	case <-time.After(time.Second):
		t.Fatal("Offer must never block")
	}
}

func TestPaneSession_OfferAfterClose(t *testing.T) {
	s, err := NewPaneSession(testConfig())
	if err != nil {
		t.Fatalf("NewPaneSession failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Close()
	s.Close() // idempotent

	if s.Offer(&event.ResetEvent{}) {
		t.Error("closed session must refuse events")
	}
}

func TestPaneSession_ConcurrentClose(t *testing.T) {
	s, err := NewPaneSession(testConfig())
	if err != nil {
		t.Fatalf("NewPaneSession failed: %v", err)
	}
	s.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()

	if s.Offer(&event.ResetEvent{}) {
		t.Error("closed session must refuse events")
	}
}

func TestPaneSession_ResetEventResyncsBook(t *testing.T) {
	s, err := NewPaneSession(testConfig())
	if err != nil {
		t.Fatalf("NewPaneSession failed: %v", err)
	}
	defer s.Close()
	req := &fakeRequester{}
	s.SetSnapshotRequester(req)

	s.processEvent(&event.SnapshotEvent{
		BaseEvent: event.BaseEvent{Time: 1000},
		UpdateID:  1,
		Bids:      []domain.BookLevel{lvl("100.0", "5")},
		Asks:      []domain.BookLevel{lvl("100.1", "3")},
	})
	if s.BookState() != StateSynced {
		t.Fatalf("state = %v, want synced", s.BookState())
	}

	s.processEvent(&event.ResetEvent{BaseEvent: event.BaseEvent{Time: 2000}})
	if s.BookState() != StateResyncing {
		t.Errorf("state = %v, want resyncing", s.BookState())
	}
	if req.calls != 1 {
		t.Errorf("RequestSnapshot called %d times, want 1", req.calls)
	}
}

func TestPaneSession_KlineEventRouting(t *testing.T) {
	cfg := testConfig()
	cfg.Timeframes = []domain.Timeframe{domain.TF1m, domain.TF5m}
	s, err := NewPaneSession(cfg)
	if err != nil {
		t.Fatalf("NewPaneSession failed: %v", err)
	}
	defer s.Close()

	s.processEvent(&event.KlineEvent{
		BaseEvent: event.BaseEvent{Time: 0},
		Bar: domain.PeriodicOhlcv{
			OpenTime: 0, Timeframe: domain.TF5m,
			Open: d("100"), High: d("100"), Low: d("100"), Close: d("100"),
			Volume: d("9"),
		},
	})

	c5, _ := s.Candles(domain.TF5m)
	c1, _ := s.Candles(domain.TF1m)
	if len(c5) != 1 {
		t.Errorf("5m candles = %d, want the seeded bar", len(c5))
	}
	if len(c1) != 0 {
		t.Errorf("1m candles = %d, bar must route to its own timeframe", len(c1))
	}
}

func TestPaneSession_ReconfigureTickSize(t *testing.T) {
	s, err := NewPaneSession(testConfig())
	if err != nil {
		t.Fatalf("NewPaneSession failed: %v", err)
	}
	defer s.Close()

	s.processEvent(&event.TradeEvent{
		BaseEvent: event.BaseEvent{Time: 0},
		Trade:     trade("100.00", "1", domain.SideBuy, 0),
	})
	s.processEvent(&event.TradeEvent{
		BaseEvent: event.BaseEvent{Time: 1000},
		Trade:     trade("100.10", "2", domain.SideBuy, 1000),
	})

	if err := s.ReconfigureTickSize(d("0.5")); err != nil {
		t.Fatalf("ReconfigureTickSize failed: %v", err)
	}
	if !s.TickSize().Equal(d("0.5")) {
		t.Errorf("TickSize = %s, want 0.5", s.TickSize())
	}

	coarse := mustBucketer(t, "0.5")
	candles, _ := s.Candles(domain.TF1m)
	cell := candles[0].Footprint[coarse.Bucket(d("100.0"))]
	if !cell.BuyQty.Equal(d("3")) {
		t.Errorf("merged footprint qty = %s, want 3", cell.BuyQty)
	}

	if err := s.ReconfigureTickSize(decimal.Zero); err == nil {
		t.Error("zero tick size should be rejected")
	}
}

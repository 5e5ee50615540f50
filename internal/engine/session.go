package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"depthscope/internal/domain"
	"depthscope/internal/event"
	"depthscope/internal/infra"
)

// Config is the per-pane aggregation configuration.
type Config struct {
	PaneID   string
	Exchange string
	Ticker   string

	TickSize   decimal.Decimal
	Timeframes []domain.Timeframe

	Depth          int             // top-N book levels per side
	HeatmapColumns int             // retained heatmap columns
	TradeMarkers   int             // retained heatmap trade markers
	CandleHistory  int             // retained closed candles per timeframe
	SizeFilter     decimal.Decimal // trades below are excluded from footprint/heatmap
	InboxSize      int
}

// Defaults sized to the visible ranges of the chart views.
const (
	DefaultDepth          = 50
	DefaultHeatmapColumns = 1000
	DefaultTradeMarkers   = 6000
	DefaultCandleHistory  = 720
	DefaultInboxSize      = 1024
)

// Validate checks the configuration and fills defaults. Invalid tick size
// or an empty timeframe set rejects the pane at subscribe time.
func (c *Config) Validate() error {
	if c.PaneID == "" {
		return &domain.ConfigError{Field: "pane_id", Err: fmt.Errorf("must not be empty")}
	}
	if c.Exchange == "" || c.Ticker == "" {
		return &domain.ConfigError{Field: "stream", Err: fmt.Errorf("exchange and ticker are required")}
	}
	if c.TickSize.Sign() <= 0 {
		return &domain.ConfigError{Field: "tick_size", Err: domain.ErrInvalidTickSize}
	}
	if len(c.Timeframes) == 0 {
		return &domain.ConfigError{Field: "timeframes", Err: domain.ErrEmptyTimeframes}
	}
	if c.SizeFilter.Sign() < 0 {
		return &domain.ConfigError{Field: "size_filter", Err: fmt.Errorf("must not be negative")}
	}
	if c.Depth <= 0 {
		c.Depth = DefaultDepth
	}
	if c.HeatmapColumns <= 0 {
		c.HeatmapColumns = DefaultHeatmapColumns
	}
	if c.TradeMarkers <= 0 {
		c.TradeMarkers = DefaultTradeMarkers
	}
	if c.CandleHistory <= 0 {
		c.CandleHistory = DefaultCandleHistory
	}
	if c.InboxSize <= 0 {
		c.InboxSize = DefaultInboxSize
	}
	return nil
}

// PaneSession owns the aggregation state of one chart pane: one order book
// reconstructor, one time binner per configured timeframe and one heatmap
// grid, all scoped to a single (exchange, ticker) stream. Events are
// consumed by a single goroutine from a bounded inbox, so the aggregation
// path needs no locking of its own; the RWMutex only guards the pull-based
// read queries from the rendering side, which always receive copies.
type PaneSession struct {
	cfg      Config
	inbox    chan event.Event
	bucketer Bucketer
	book     *Reconstructor
	binners  map[domain.Timeframe]*TimeBinner
	grid     *RollingGrid

	mu      sync.RWMutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	closed  atomic.Bool
}

// NewPaneSession allocates fresh owned state for a pane.
func NewPaneSession(cfg Config) (*PaneSession, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bucketer, err := NewBucketer(cfg.TickSize)
	if err != nil {
		return nil, err
	}

	binners := make(map[domain.Timeframe]*TimeBinner, len(cfg.Timeframes))
	for _, tf := range cfg.Timeframes {
		binners[tf] = NewTimeBinner(tf, bucketer, cfg.CandleHistory, cfg.SizeFilter)
	}

	return &PaneSession{
		cfg:      cfg,
		inbox:    make(chan event.Event, cfg.InboxSize),
		bucketer: bucketer,
		book:     NewReconstructor(cfg.Depth),
		binners:  binners,
		grid:     NewRollingGrid(bucketer, cfg.HeatmapColumns, cfg.TradeMarkers, cfg.SizeFilter),
		done:     make(chan struct{}),
	}, nil
}

// PaneID returns the owning pane's identity.
func (s *PaneSession) PaneID() string { return s.cfg.PaneID }

// Exchange returns the subscribed exchange.
func (s *PaneSession) Exchange() string { return s.cfg.Exchange }

// Ticker returns the subscribed instrument.
func (s *PaneSession) Ticker() string { return s.cfg.Ticker }

// TickSize returns the current price grouping granularity.
func (s *PaneSession) TickSize() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bucketer.TickSize()
}

// Timeframes returns the configured candle intervals.
func (s *PaneSession) Timeframes() []domain.Timeframe {
	return append([]domain.Timeframe(nil), s.cfg.Timeframes...)
}

// SetSnapshotRequester wires the transport-side resync path.
func (s *PaneSession) SetSnapshotRequester(req domain.SnapshotRequester) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.book.SetSnapshotRequester(req)
}

// Start launches the consumer goroutine. Must be called once.
func (s *PaneSession) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.mu.Unlock()
	go s.run(ctx)
}

func (s *PaneSession) run(ctx context.Context) {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("pane session panic recovered",
				slog.String("pane", s.cfg.PaneID), slog.Any("panic", r))
			infra.GlobalMetrics.RecordError()
		}
	}()

	slog.Info("pane session started",
		slog.String("pane", s.cfg.PaneID),
		slog.String("exchange", s.cfg.Exchange),
		slog.String("ticker", s.cfg.Ticker))

	for {
		select {
		case <-ctx.Done():
			slog.Info("pane session stopping", slog.String("pane", s.cfg.PaneID))
			return
		case ev := <-s.inbox:
			s.processEvent(ev)
		}
	}
}

// Offer enqueues an event without blocking. On overflow the event is
// dropped and counted; a dropped depth delta leaves a hole the
// reconstructor detects as a sequence gap, which is the recovery path.
func (s *PaneSession) Offer(ev event.Event) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.inbox <- ev:
		return true
	default:
		infra.GlobalMetrics.RecordDropped()
		return false
	}
}

func (s *PaneSession) processEvent(ev event.Event) {
	start := time.Now()

	s.mu.Lock()
	switch e := ev.(type) {
	case *event.TradeEvent:
		for _, tb := range s.binners {
			tb.ApplyTrade(e.Trade)
		}
		s.grid.ApplyTrade(e.Trade)
		event.ReleaseTradeEvent(e)

	case *event.DeltaEvent:
		if err := s.book.ApplyDelta(e); err != nil {
			infra.GlobalMetrics.RecordResync()
			slog.Warn("book resync triggered",
				slog.String("pane", s.cfg.PaneID), slog.Any("error", err))
		} else if s.book.State() == StateSynced {
			v := s.book.View()
			s.grid.ApplyBook(e.Time, v.Bids, v.Asks)
		}
		event.ReleaseDeltaEvent(e)

	case *event.SnapshotEvent:
		if err := s.book.ApplySnapshot(e); err != nil {
			infra.GlobalMetrics.RecordResync()
			slog.Warn("book resync triggered on snapshot",
				slog.String("pane", s.cfg.PaneID), slog.Any("error", err))
		} else {
			v := s.book.View()
			s.grid.ApplyBook(e.Time, v.Bids, v.Asks)
		}

	case *event.KlineEvent:
		if tb, ok := s.binners[e.Bar.Timeframe]; ok {
			tb.ApplyBar(e.Bar)
		}

	case *event.ResetEvent:
		infra.GlobalMetrics.RecordResync()
		s.book.Reset()

	default:
		slog.Warn("unknown event kind", slog.String("kind", ev.GetKind().String()))
	}
	s.mu.Unlock()

	infra.GlobalMetrics.RecordEvent(time.Since(start).Nanoseconds())
}

// ReconfigureTickSize rebuckets all retained footprint cells and heatmap
// columns in place under the new tick size. The regrouping works from
// bucket representative prices, so it is approximate: sub-bucket precision
// is lost retroactively.
func (s *PaneSession) ReconfigureTickSize(tick decimal.Decimal) error {
	next, err := NewBucketer(tick)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tb := range s.binners {
		tb.Rebucket(next)
	}
	s.grid.Rebucket(next)
	s.bucketer = next

	slog.Info("tick size reconfigured",
		slog.String("pane", s.cfg.PaneID), slog.String("tick_size", tick.String()))
	return nil
}

// Close tears the session down. Idempotent; queued events are discarded.
// Safe to call from any goroutine relative to Start.
func (s *PaneSession) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if !started {
		close(s.done)
	}
	<-s.done
}

// Book returns a consistent snapshot view of the order book.
func (s *PaneSession) Book() domain.BookView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.View()
}

// BookState returns the reconstructor's sync state.
func (s *PaneSession) BookState() BookState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.State()
}

// Candles returns closed plus open candles for one timeframe.
func (s *PaneSession) Candles(tf domain.Timeframe) ([]domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tb, ok := s.binners[tf]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidTimeframe, tf)
	}
	return tb.Candles(), nil
}

// HeatmapColumns returns the retained heatmap columns, oldest first.
func (s *PaneSession) HeatmapColumns() []domain.HeatmapColumn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grid.Columns()
}

// TradeMarkers returns the retained heatmap trade markers, oldest first.
func (s *PaneSession) TradeMarkers() []domain.TradeMarker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grid.Markers()
}

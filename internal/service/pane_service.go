package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"depthscope/internal/domain"
	"depthscope/internal/engine"
)

// StreamHandle is a running transport attachment for one pane.
type StreamHandle interface {
	Close()
}

// StreamFactory attaches transport (stream worker, snapshot path, kline
// poller) to a freshly created session. Implemented by the bootstrap
// wiring; tests inject fakes.
type StreamFactory func(ctx context.Context, cfg engine.Config, session *engine.PaneSession) (StreamHandle, error)

// PaneService owns the lifecycle of all pane sessions and serves the
// pull-based read queries of the rendering collaborator. Panes are fully
// independent: one pane's malfunction never touches another.
type PaneService struct {
	mu      sync.RWMutex
	panes   map[string]*paneEntry
	factory StreamFactory
	repo    domain.PaneSettingRepository // optional
}

type paneEntry struct {
	session *engine.PaneSession
	stream  StreamHandle
}

// NewPaneService creates a pane registry. repo may be nil to disable
// settings persistence.
func NewPaneService(factory StreamFactory, repo domain.PaneSettingRepository) *PaneService {
	return &PaneService{
		panes:   make(map[string]*paneEntry),
		factory: factory,
		repo:    repo,
	}
}

// Subscribe allocates fresh owned state for a pane and attaches its
// stream. An existing pane with the same id is torn down first, which is
// how a pane's ticker or exchange change is expressed. Invalid
// configuration rejects the subscribe; no pane is created.
func (s *PaneService) Subscribe(ctx context.Context, cfg engine.Config) error {
	session, err := engine.NewPaneSession(cfg)
	if err != nil {
		return err
	}

	s.Unsubscribe(cfg.PaneID)

	session.Start(ctx)
	stream, err := s.factory(ctx, cfg, session)
	if err != nil {
		session.Close()
		return err
	}

	s.mu.Lock()
	s.panes[cfg.PaneID] = &paneEntry{session: session, stream: stream}
	s.mu.Unlock()

	s.persist(session)

	slog.Info("pane subscribed",
		slog.String("pane", cfg.PaneID),
		slog.String("exchange", cfg.Exchange),
		slog.String("ticker", cfg.Ticker))
	return nil
}

// Unsubscribe tears a pane down and drops all owned state. Idempotent.
func (s *PaneService) Unsubscribe(paneID string) {
	s.mu.Lock()
	entry, ok := s.panes[paneID]
	if ok {
		delete(s.panes, paneID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	entry.stream.Close()
	entry.session.Close()

	if s.repo != nil {
		if err := s.repo.DeletePane(paneID); err != nil {
			slog.Warn("failed to delete pane setting", slog.String("pane", paneID), slog.Any("error", err))
		}
	}
	slog.Info("pane unsubscribed", slog.String("pane", paneID))
}

// ReconfigureTickSize regroups a pane's retained aggregates under a new
// tick size in place.
func (s *PaneService) ReconfigureTickSize(paneID string, tick decimal.Decimal) error {
	entry, err := s.entry(paneID)
	if err != nil {
		return err
	}
	if err := entry.session.ReconfigureTickSize(tick); err != nil {
		return err
	}
	s.persist(entry.session)
	return nil
}

// CurrentBook returns a snapshot view of a pane's order book.
func (s *PaneService) CurrentBook(paneID string) (domain.BookView, error) {
	entry, err := s.entry(paneID)
	if err != nil {
		return domain.BookView{}, err
	}
	return entry.session.Book(), nil
}

// Candles returns a pane's closed plus open candles for one timeframe.
func (s *PaneService) Candles(paneID string, tf domain.Timeframe) ([]domain.Candle, error) {
	entry, err := s.entry(paneID)
	if err != nil {
		return nil, err
	}
	return entry.session.Candles(tf)
}

// HeatmapColumns returns a pane's retained heatmap columns, oldest first.
func (s *PaneService) HeatmapColumns(paneID string) ([]domain.HeatmapColumn, error) {
	entry, err := s.entry(paneID)
	if err != nil {
		return nil, err
	}
	return entry.session.HeatmapColumns(), nil
}

// TradeMarkers returns a pane's retained heatmap trade markers.
func (s *PaneService) TradeMarkers(paneID string) ([]domain.TradeMarker, error) {
	entry, err := s.entry(paneID)
	if err != nil {
		return nil, err
	}
	return entry.session.TradeMarkers(), nil
}

// Resyncing reports whether a pane's book is currently without a
// consistent ladder, for the transient indicator.
func (s *PaneService) Resyncing(paneID string) (bool, error) {
	entry, err := s.entry(paneID)
	if err != nil {
		return false, err
	}
	return entry.session.BookState() != engine.StateSynced, nil
}

// PaneIDs returns the subscribed pane ids sorted for consistent ordering.
func (s *PaneService) PaneIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.panes))
	for id := range s.panes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CloseAll unsubscribes every pane.
func (s *PaneService) CloseAll() {
	for _, id := range s.PaneIDs() {
		s.Unsubscribe(id)
	}
}

func (s *PaneService) entry(paneID string) (*paneEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.panes[paneID]
	if !ok {
		return nil, domain.ErrPaneNotFound
	}
	return entry, nil
}

func (s *PaneService) persist(session *engine.PaneSession) {
	if s.repo == nil {
		return
	}
	tfs := make([]string, 0, len(session.Timeframes()))
	for _, tf := range session.Timeframes() {
		tfs = append(tfs, tf.String())
	}
	setting := &domain.PaneSetting{
		PaneID:     session.PaneID(),
		Exchange:   session.Exchange(),
		Ticker:     session.Ticker(),
		TickSize:   session.TickSize().String(),
		Timeframes: strings.Join(tfs, ","),
		UpdatedAt:  time.Now(),
	}
	if err := s.repo.SavePane(setting); err != nil {
		slog.Warn("failed to persist pane setting",
			slog.String("pane", session.PaneID()), slog.Any("error", err))
	}
}

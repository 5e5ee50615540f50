package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"depthscope/internal/domain"
	"depthscope/internal/engine"
	"depthscope/internal/infra"
	"depthscope/internal/infra/binance"
	"depthscope/internal/infra/bybit"
	"depthscope/internal/infra/storage"
	"depthscope/internal/service"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config     *infra.Config
	Storage    *storage.Storage
	Downloader *infra.IconDownloader
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, logger, DB)
func (b *Bootstrap) Initialize() error {
	slog.Info("Bootstrapping DepthScope...")

	// 1. Load Config
	cfg, err := infra.LoadConfig("configs/config.yaml")
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage()
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("Database initialized")

	// 4. Initialize Icon Downloader
	downloader, err := infra.NewIconDownloader()
	if err != nil {
		return err
	}
	b.Downloader = downloader
	slog.Info("Icon downloader ready")

	return nil
}

// StreamFactory wires the per-exchange transport onto a new session:
// the websocket worker (which also serves the snapshot resync path) and
// the kline backfill/refresh poller.
func (b *Bootstrap) StreamFactory() service.StreamFactory {
	return func(ctx context.Context, cfg engine.Config, session *engine.PaneSession) (service.StreamHandle, error) {
		switch cfg.Exchange {
		case "binance":
			worker := binance.NewWorker(cfg.Ticker, b.Config.API.Binance.WSURL, b.Config.API.Binance.RestURL, session)
			session.SetSnapshotRequester(worker)
			if err := worker.Connect(ctx); err != nil {
				return nil, err
			}
			klines := binance.NewKlineClient(cfg.Ticker, b.Config.API.Binance.RestURL,
				cfg.Timeframes, b.Config.API.KlineRefreshSec, session)
			if err := klines.Start(ctx); err != nil {
				worker.Disconnect()
				return nil, err
			}
			return streamHandle{func() {
				klines.Stop()
				worker.Disconnect()
			}}, nil

		case "bybit":
			worker := bybit.NewWorker(cfg.Ticker, b.Config.API.Bybit.WSURL, session)
			session.SetSnapshotRequester(worker)
			if err := worker.Connect(ctx); err != nil {
				return nil, err
			}
			klines := bybit.NewKlineClient(cfg.Ticker, b.Config.API.Bybit.RestURL,
				cfg.Timeframes, b.Config.API.KlineRefreshSec, session)
			if err := klines.Start(ctx); err != nil {
				worker.Disconnect()
				return nil, err
			}
			return streamHandle{func() {
				klines.Stop()
				worker.Disconnect()
			}}, nil
		}
		return nil, &domain.ConfigError{Field: "exchange", Err: fmt.Errorf("unsupported exchange %q", cfg.Exchange)}
	}
}

type streamHandle struct {
	closeFn func()
}

func (h streamHandle) Close() { h.closeFn() }

// PaneConfigs resolves the panes to open on startup: the last persisted
// set when restore is enabled and any exist, the configured panes otherwise.
func (b *Bootstrap) PaneConfigs() ([]engine.Config, error) {
	if b.Config.RestorePanes {
		stored, err := b.Storage.AllPanes()
		if err != nil {
			slog.Warn("Failed to load persisted panes", slog.Any("error", err))
		} else if len(stored) > 0 {
			out := make([]engine.Config, 0, len(stored))
			for i := range stored {
				cfg, err := b.paneConfigFromSetting(&stored[i])
				if err != nil {
					slog.Warn("Skipping invalid persisted pane",
						slog.String("pane", stored[i].PaneID), slog.Any("error", err))
					continue
				}
				out = append(out, cfg)
			}
			if len(out) > 0 {
				return out, nil
			}
		}
	}

	out := make([]engine.Config, 0, len(b.Config.Panes))
	for _, pane := range b.Config.Panes {
		tick, err := decimal.NewFromString(pane.TickSize)
		if err != nil {
			return nil, &domain.ConfigError{Field: "tick_size", Err: err}
		}
		tfs, err := parseTimeframes(pane.Timeframes)
		if err != nil {
			return nil, err
		}
		out = append(out, b.engineConfig(pane.ID, pane.Exchange, pane.Ticker, tick, tfs))
	}
	return out, nil
}

func (b *Bootstrap) paneConfigFromSetting(setting *domain.PaneSetting) (engine.Config, error) {
	tick, err := decimal.NewFromString(setting.TickSize)
	if err != nil {
		return engine.Config{}, &domain.ConfigError{Field: "tick_size", Err: err}
	}
	tfs, err := parseTimeframes(strings.Split(setting.Timeframes, ","))
	if err != nil {
		return engine.Config{}, err
	}
	return b.engineConfig(setting.PaneID, setting.Exchange, setting.Ticker, tick, tfs), nil
}

func (b *Bootstrap) engineConfig(paneID, exchange, ticker string, tick decimal.Decimal, tfs []domain.Timeframe) engine.Config {
	return engine.Config{
		PaneID:         paneID,
		Exchange:       exchange,
		Ticker:         ticker,
		TickSize:       tick,
		Timeframes:     tfs,
		Depth:          b.Config.Engine.Depth,
		HeatmapColumns: b.Config.Engine.HeatmapColumns,
		TradeMarkers:   b.Config.Engine.TradeMarkers,
		CandleHistory:  b.Config.Engine.CandleHistory,
		SizeFilter:     b.Config.SizeFilter(),
		InboxSize:      b.Config.Engine.InboxSize,
	}
}

func parseTimeframes(raw []string) ([]domain.Timeframe, error) {
	out := make([]domain.Timeframe, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		tf, err := domain.ParseTimeframe(s)
		if err != nil {
			return nil, err
		}
		out = append(out, tf)
	}
	return out, nil
}

// SyncAssets synchronizes ticker metadata and icons in the background
func (b *Bootstrap) SyncAssets(ctx context.Context, panes []engine.Config) {
	slog.Info("Starting asset synchronization...")

	uniqueTickers := make(map[string]bool)
	for _, pane := range panes {
		uniqueTickers[strings.ToUpper(pane.Ticker)] = true
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, 5) // Limit concurrent downloads

	for ticker := range uniqueTickers {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case semaphore <- struct{}{}: // Acquire
			}
			defer func() { <-semaphore }() // Release

			info := &domain.TickerInfo{
				Symbol:    sym,
				Name:      infra.BaseAsset(sym),
				IsActive:  true,
				UpdatedAt: time.Now(),
			}

			if existing, _ := b.Storage.GetTicker(sym); existing != nil {
				info.IconPath = existing.IconPath
				info.LastSyncedAt = existing.LastSyncedAt
			}

			if err := b.Storage.UpsertTicker(info); err != nil {
				slog.Error("Failed to upsert ticker", slog.String("symbol", sym), slog.Any("error", err))
			}

			path, err := b.Downloader.DownloadIcon(sym)
			if err != nil {
				slog.Warn("Failed to download icon", slog.String("symbol", sym), slog.Any("error", err))
			} else if path != "" {
				info.IconPath = path
				info.LastSyncedAt = time.Now()
				b.Storage.UpsertTicker(info)
			}
		}(ticker)
	}

	wg.Wait()
	slog.Info("Asset synchronization completed")
}

package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"depthscope/internal/domain"
	"depthscope/internal/event"
	"depthscope/internal/infra"
)

const (
	backfillLimit = 720
	refreshLimit  = 2
)

// KlineClient backfills candle history on start and keeps the open bar
// reconciled against exchange-side aggregation by polling the REST kline
// endpoint. Bars are offered into the pane session as kline events.
type KlineClient struct {
	ticker     string
	restURL    string
	timeframes []domain.Timeframe
	sink       event.Sink

	pollInterval time.Duration
	httpClient   *http.Client
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewKlineClient creates a kline poller for one instrument.
func NewKlineClient(ticker, restURL string, timeframes []domain.Timeframe, pollIntervalSec int, sink event.Sink) *KlineClient {
	if restURL == "" {
		restURL = DefaultRestURL
	}
	if pollIntervalSec <= 0 {
		pollIntervalSec = 30
	}
	return &KlineClient{
		ticker:       strings.ToUpper(ticker),
		restURL:      restURL,
		timeframes:   append([]domain.Timeframe(nil), timeframes...),
		sink:         sink,
		pollInterval: time.Duration(pollIntervalSec) * time.Second,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Start backfills history once, then begins periodic refresh polling.
func (c *KlineClient) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	for _, tf := range c.timeframes {
		if err := c.fetch(ctx, tf, backfillLimit); err != nil {
			slog.Warn("Initial kline backfill failed",
				slog.String("ticker", c.ticker), slog.String("timeframe", tf.String()), slog.Any("error", err))
			// Continue anyway - will retry on next tick
		}
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Kline polling panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Kline polling stopped", slog.String("ticker", c.ticker))
				return
			case <-ticker.C:
				for _, tf := range c.timeframes {
					if err := c.fetch(ctx, tf, refreshLimit); err != nil {
						slog.Warn("Kline refresh failed",
							slog.String("ticker", c.ticker), slog.String("timeframe", tf.String()), slog.Any("error", err))
					}
				}
			}
		}
	}()

	return nil
}

func (c *KlineClient) fetch(ctx context.Context, tf domain.Timeframe, limit int) error {
	url := fmt.Sprintf("%s/fapi/v1/klines?symbol=%s&interval=%s&limit=%d",
		c.restURL, c.ticker, tf.String(), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", infra.DefaultUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewNetworkError("klines", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	bars, err := parseKlines(body, tf)
	if err != nil {
		return domain.NewParseError("binance", err)
	}
	for i := range bars {
		c.sink.Offer(&event.KlineEvent{
			BaseEvent: event.BaseEvent{Time: bars[i].OpenTime},
			Bar:       bars[i],
		})
	}
	return nil
}

// parseKlines decodes the REST kline rows:
// [openTime, "o", "h", "l", "c", "v", closeTime, "quoteVol", trades, "takerBuyBase", ...]
func parseKlines(body []byte, tf domain.Timeframe) ([]domain.PeriodicOhlcv, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}

	out := make([]domain.PeriodicOhlcv, 0, len(rows))
	for _, row := range rows {
		if len(row) < 10 {
			return nil, fmt.Errorf("kline row too short: %d fields", len(row))
		}
		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			return nil, err
		}
		fields := make([]decimal.Decimal, 0, 6)
		for _, idx := range []int{1, 2, 3, 4, 5, 9} {
			var s string
			if err := json.Unmarshal(row[idx], &s); err != nil {
				return nil, err
			}
			d, err := decimal.NewFromString(s)
			if err != nil {
				return nil, err
			}
			fields = append(fields, d)
		}
		out = append(out, domain.PeriodicOhlcv{
			OpenTime:  openTime,
			Timeframe: tf,
			Open:      fields[0],
			High:      fields[1],
			Low:       fields[2],
			Close:     fields[3],
			Volume:    fields[4],
			BuyVolume: fields[5],
		})
	}
	return out, nil
}

// Stop stops the polling
func (c *KlineClient) Stop() {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}
}

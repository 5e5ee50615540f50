package bybit

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

// KlineClient polls the v5 market kline endpoint: one backfill pass on
// start, then periodic refresh of the open bar. Bybit reports no taker-buy
// split, so bars carry zero BuyVolume and the binner keeps the locally
// accumulated split.
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
		}
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
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
	url := fmt.Sprintf("%s/v5/market/kline?category=linear&symbol=%s&interval=%d&limit=%d",
		c.restURL, c.ticker, int64(tf), limit)

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

	var decoded klineResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return domain.NewParseError("bybit", err)
	}
	if decoded.RetCode != 0 {
		return fmt.Errorf("kline request rejected: %s", decoded.RetMsg)
	}

	// Rows arrive newest first; replay oldest first so the binner rolls
	// forward naturally.
	list := decoded.Result.List
	for i := len(list) - 1; i >= 0; i-- {
		bar, err := parseKlineRow(list[i], tf)
		if err != nil {
			return domain.NewParseError("bybit", err)
		}
		c.sink.Offer(&event.KlineEvent{
			BaseEvent: event.BaseEvent{Time: bar.OpenTime},
			Bar:       bar,
		})
	}
	return nil
}

func parseKlineRow(row [7]string, tf domain.Timeframe) (domain.PeriodicOhlcv, error) {
	openTime, err := decimal.NewFromString(row[0])
	if err != nil {
		return domain.PeriodicOhlcv{}, err
	}
	fields := make([]decimal.Decimal, 0, 5)
	for _, s := range row[1:6] {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return domain.PeriodicOhlcv{}, err
		}
		fields = append(fields, d)
	}
	return domain.PeriodicOhlcv{
		OpenTime:  openTime.IntPart(),
		Timeframe: tf,
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
	}, nil
}

// Stop stops the polling
func (c *KlineClient) Stop() {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}
}

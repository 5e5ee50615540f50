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
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"depthscope/internal/domain"
	"depthscope/internal/event"
	"depthscope/internal/infra"
)

const (
	DefaultWSURL   = "wss://fstream.binance.com/stream"
	DefaultRestURL = "https://fapi.binance.com"

	maxRetries    = 10
	readTimeout   = 60 * time.Second
	snapshotDepth = 500
)

// Worker streams one Binance USDT-futures instrument (aggTrade + 100ms
// differential depth) into a pane session's inbox. It also serves the
// resync path: RequestSnapshot fetches the REST depth ladder and feeds it
// in as a snapshot event.
type Worker struct {
	ticker  string
	wsURL   string
	restURL string
	sink    event.Sink

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	fetching  atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	ctx       context.Context
	client    *http.Client
}

// NewWorker creates a Binance market stream worker. Empty URLs select the
// production endpoints.
func NewWorker(ticker, wsURL, restURL string, sink event.Sink) *Worker {
	if wsURL == "" {
		wsURL = DefaultWSURL
	}
	if restURL == "" {
		restURL = DefaultRestURL
	}
	return &Worker{
		ticker:  strings.ToLower(ticker),
		wsURL:   wsURL,
		restURL: restURL,
		sink:    sink,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Connect starts the WebSocket connection
func (w *Worker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.ctx = ctx
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			slog.Warn("Binance connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			delay := infra.CalculateBackoff(retryCount)
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		} else {
			retryCount = 0
			w.readLoop(ctx)
		}
	}
}

func (w *Worker) connect(ctx context.Context) error {
	streams := fmt.Sprintf("%s@aggTrade/%s@depth@100ms", w.ticker, w.ticker)
	url := fmt.Sprintf("%s?streams=%s", w.wsURL, streams)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()
	infra.GlobalMetrics.IncrementStreams()

	// The book must resync onto a fresh ladder after every (re)connect.
	// The reset event routes back here through RequestSnapshot.
	w.sink.Offer(&event.ResetEvent{})

	slog.Info("Binance connected", slog.String("ticker", w.ticker))
	return nil
}

func (w *Worker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.mu.RLock()
		if w.conn == nil {
			w.mu.RUnlock()
			return
		}
		w.conn.SetReadDeadline(time.Now().Add(readTimeout))
		w.mu.RUnlock()

		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			w.closeConnection()
			return
		}
		w.handleMessage(msg)
	}
}

// handleMessage normalizes one wire payload into the canonical event
// model. Malformed payloads are dropped and counted; they never take the
// stream down.
func (w *Worker) handleMessage(msg []byte) {
	var combined combinedMessage
	if err := json.Unmarshal(msg, &combined); err != nil {
		w.reportParseError(err)
		return
	}

	switch {
	case strings.HasSuffix(combined.Stream, "@aggTrade"):
		w.handleTrade(combined.Data)
	case strings.Contains(combined.Stream, "@depth"):
		w.handleDepth(combined.Data)
	}
}

func (w *Worker) handleTrade(data []byte) {
	var raw aggTradeMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		w.reportParseError(err)
		return
	}
	price, err := decimal.NewFromString(raw.Price)
	if err != nil {
		w.reportParseError(err)
		return
	}
	qty, err := decimal.NewFromString(raw.Qty)
	if err != nil {
		w.reportParseError(err)
		return
	}

	side := domain.SideBuy
	if raw.BuyerIsMaker {
		side = domain.SideSell
	}

	ev := event.AcquireTradeEvent()
	ev.Time = raw.TradeTime
	ev.Trade = domain.Trade{Price: price, Qty: qty, Side: side, Time: raw.TradeTime}
	if !w.sink.Offer(ev) {
		event.ReleaseTradeEvent(ev)
	}
}

func (w *Worker) handleDepth(data []byte) {
	var raw depthMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		w.reportParseError(err)
		return
	}
	bids, err := parseLevels(raw.Bids)
	if err != nil {
		w.reportParseError(err)
		return
	}
	asks, err := parseLevels(raw.Asks)
	if err != nil {
		w.reportParseError(err)
		return
	}

	ev := event.AcquireDeltaEvent()
	ev.Time = raw.TradeTime
	ev.FirstID = raw.FirstID
	ev.FinalID = raw.FinalID
	ev.PrevID = raw.PrevID
	ev.Bids = append(ev.Bids, bids...)
	ev.Asks = append(ev.Asks, asks...)
	if !w.sink.Offer(ev) {
		event.ReleaseDeltaEvent(ev)
	}
}

// RequestSnapshot fetches the REST depth ladder asynchronously and offers
// it as a snapshot event. Concurrent requests collapse into one fetch.
func (w *Worker) RequestSnapshot() {
	if !w.fetching.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer w.fetching.Store(false)
		ctx := w.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		if err := w.fetchSnapshot(ctx); err != nil {
			slog.Warn("Binance snapshot fetch failed",
				slog.String("ticker", w.ticker), slog.Any("error", err))
		}
	}()
}

func (w *Worker) fetchSnapshot(ctx context.Context) error {
	url := fmt.Sprintf("%s/fapi/v1/depth?symbol=%s&limit=%d",
		w.restURL, strings.ToUpper(w.ticker), snapshotDepth)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return domain.NewNetworkError("snapshot", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var snap depthSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return err
	}
	bids, err := parseLevels(snap.Bids)
	if err != nil {
		return err
	}
	asks, err := parseLevels(snap.Asks)
	if err != nil {
		return err
	}

	ev := &event.SnapshotEvent{
		BaseEvent: event.BaseEvent{Time: snap.TradeTime},
		UpdateID:  snap.LastUpdateID,
		Bids:      bids,
		Asks:      asks,
	}
	w.sink.Offer(ev)
	return nil
}

func (w *Worker) reportParseError(err error) {
	infra.GlobalMetrics.RecordParseError()
	slog.Debug("Binance payload dropped", slog.Any("error", domain.NewParseError("binance", err)))
}

func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
		infra.GlobalMetrics.DecrementStreams()
	}
	w.connected = false
}

// IsConnected reports whether the stream is up
func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// Disconnect tears the stream down
func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}

package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"depthscope/internal/domain"
	"depthscope/internal/event"
	"depthscope/internal/infra"
)

const (
	DefaultWSURL   = "wss://stream.bybit.com/v5/public/linear"
	DefaultRestURL = "https://api.bybit.com"

	maxRetries   = 10
	readTimeout  = 60 * time.Second
	pingInterval = 20 * time.Second
	bookDepth    = 200
)

// Worker streams one Bybit linear perpetual (publicTrade + orderbook.200)
// into a pane session's inbox. Bybit delivers the initial book snapshot
// over the websocket on subscribe, so the resync path re-subscribes the
// orderbook topic instead of hitting REST.
type Worker struct {
	ticker string
	wsURL  string
	sink   event.Sink

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	pingStop  chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewWorker creates a Bybit market stream worker. An empty URL selects the
// production endpoint.
func NewWorker(ticker, wsURL string, sink event.Sink) *Worker {
	if wsURL == "" {
		wsURL = DefaultWSURL
	}
	return &Worker{
		ticker: strings.ToUpper(ticker),
		wsURL:  wsURL,
		sink:   sink,
	}
}

// Connect starts the WebSocket connection
func (w *Worker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
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
			slog.Warn("Bybit connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
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
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.pingStop = make(chan struct{})
	stop := w.pingStop
	w.mu.Unlock()
	infra.GlobalMetrics.IncrementStreams()

	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return err
	}

	// Discard any pre-reconnect ladder; the subscribe above re-delivers
	// a snapshot.
	w.sink.Offer(&event.ResetEvent{})

	w.wg.Add(1)
	go w.pingLoop(ctx, stop)

	slog.Info("Bybit connected", slog.String("ticker", w.ticker))
	return nil
}

func (w *Worker) subscribe() error {
	msg := map[string]interface{}{
		"op": "subscribe",
		"args": []string{
			fmt.Sprintf("orderbook.%d.%s", bookDepth, w.ticker),
			fmt.Sprintf("publicTrade.%s", w.ticker),
		},
	}
	b, _ := json.Marshal(msg)
	return w.threadSafeWrite(websocket.TextMessage, b)
}

// RequestSnapshot re-subscribes the orderbook topic; Bybit answers a
// subscribe with a fresh snapshot message.
func (w *Worker) RequestSnapshot() {
	topic := fmt.Sprintf("orderbook.%d.%s", bookDepth, w.ticker)
	unsub, _ := json.Marshal(map[string]interface{}{"op": "unsubscribe", "args": []string{topic}})
	sub, _ := json.Marshal(map[string]interface{}{"op": "subscribe", "args": []string{topic}})

	go func() {
		if err := w.threadSafeWrite(websocket.TextMessage, unsub); err != nil {
			return
		}
		if err := w.threadSafeWrite(websocket.TextMessage, sub); err != nil {
			slog.Warn("Bybit resubscribe failed", slog.String("ticker", w.ticker), slog.Any("error", err))
		}
	}()
}

// pingLoop keeps one connection alive. stop is closed when that
// connection goes down, so a reconnect never accumulates loops.
func (w *Worker) pingLoop(ctx context.Context, stop <-chan struct{}) {
	defer w.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	ping, _ := json.Marshal(map[string]string{"op": "ping"})
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if w.threadSafeWrite(websocket.TextMessage, ping) != nil {
				return
			}
		}
	}
}

func (w *Worker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return fmt.Errorf("no conn")
	}
	return w.conn.WriteMessage(msgType, data)
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

func (w *Worker) handleMessage(msg []byte) {
	var envelope wsMessage
	if err := json.Unmarshal(msg, &envelope); err != nil {
		w.reportParseError(err)
		return
	}
	if envelope.Topic == "" {
		return // op acks and pong responses
	}

	switch {
	case strings.HasPrefix(envelope.Topic, "orderbook."):
		w.handleOrderbook(&envelope)
	case strings.HasPrefix(envelope.Topic, "publicTrade."):
		w.handleTrades(&envelope)
	}
}

func (w *Worker) handleOrderbook(envelope *wsMessage) {
	var data orderbookData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		w.reportParseError(err)
		return
	}
	bids, err := parseLevels(data.Bids)
	if err != nil {
		w.reportParseError(err)
		return
	}
	asks, err := parseLevels(data.Asks)
	if err != nil {
		w.reportParseError(err)
		return
	}

	if envelope.Type == "snapshot" || data.UpdateID == 1 {
		// u==1 marks a service-restart snapshot per the v5 stream contract
		w.sink.Offer(&event.SnapshotEvent{
			BaseEvent: event.BaseEvent{Time: envelope.TS},
			UpdateID:  data.UpdateID,
			Bids:      bids,
			Asks:      asks,
		})
		return
	}

	ev := event.AcquireDeltaEvent()
	ev.Time = envelope.TS
	ev.FinalID = data.UpdateID
	ev.Bids = append(ev.Bids, bids...)
	ev.Asks = append(ev.Asks, asks...)
	if !w.sink.Offer(ev) {
		event.ReleaseDeltaEvent(ev)
	}
}

func (w *Worker) handleTrades(envelope *wsMessage) {
	var trades []tradeData
	if err := json.Unmarshal(envelope.Data, &trades); err != nil {
		w.reportParseError(err)
		return
	}
	for _, t := range trades {
		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			w.reportParseError(err)
			continue
		}
		qty, err := decimal.NewFromString(t.Qty)
		if err != nil {
			w.reportParseError(err)
			continue
		}
		side := domain.SideBuy
		if t.Side == "Sell" {
			side = domain.SideSell
		}

		ev := event.AcquireTradeEvent()
		ev.Time = t.TradeTime
		ev.Trade = domain.Trade{Price: price, Qty: qty, Side: side, Time: t.TradeTime}
		if !w.sink.Offer(ev) {
			event.ReleaseTradeEvent(ev)
		}
	}
}

func parseLevels(raw [][2]string) ([]domain.BookLevel, error) {
	out := make([]domain.BookLevel, 0, len(raw))
	for _, pair := range raw {
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, err
		}
		qty, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, err
		}
		out = append(out, domain.BookLevel{Price: price, Qty: qty})
	}
	return out, nil
}

func (w *Worker) reportParseError(err error) {
	infra.GlobalMetrics.RecordParseError()
	slog.Debug("Bybit payload dropped", slog.Any("error", domain.NewParseError("bybit", err)))
}

func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
		infra.GlobalMetrics.DecrementStreams()
	}
	if w.pingStop != nil {
		close(w.pingStop)
		w.pingStop = nil
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

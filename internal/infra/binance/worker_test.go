package binance

import (
	"testing"

	"github.com/shopspring/decimal"

	"depthscope/internal/domain"
	"depthscope/internal/event"
)

type captureSink struct {
	events []event.Event
}

func (s *captureSink) Offer(ev event.Event) bool {
	s.events = append(s.events, ev)
	return true
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestWorker_HandleAggTrade(t *testing.T) {
	sink := &captureSink{}
	w := NewWorker("btcusdt", "", "", sink)

	msg := `{"stream":"btcusdt@aggTrade","data":{"T":1700000000123,"p":"42000.50","q":"0.250","m":true}}`
	w.handleMessage([]byte(msg))

	if len(sink.events) != 1 {
		t.Fatalf("got %d events, want 1", len(sink.events))
	}
	te, ok := sink.events[0].(*event.TradeEvent)
	if !ok {
		t.Fatalf("got %T, want TradeEvent", sink.events[0])
	}
	if !te.Trade.Price.Equal(d("42000.50")) || !te.Trade.Qty.Equal(d("0.250")) {
		t.Errorf("trade = %s x %s", te.Trade.Price, te.Trade.Qty)
	}
	// Buyer-is-maker means the aggressor sold.
	if te.Trade.Side != domain.SideSell {
		t.Errorf("side = %v, want sell", te.Trade.Side)
	}
	if te.Trade.Time != 1700000000123 {
		t.Errorf("time = %d", te.Trade.Time)
	}
}

func TestWorker_HandleDepth(t *testing.T) {
	sink := &captureSink{}
	w := NewWorker("btcusdt", "", "", sink)

	msg := `{"stream":"btcusdt@depth@100ms","data":{
		"T":1700000000200,"U":100,"u":105,"pu":99,
		"b":[["42000.0","1.5"],["41999.5","0"]],
		"a":[["42000.5","2.0"]]}}`
	w.handleMessage([]byte(msg))

	if len(sink.events) != 1 {
		t.Fatalf("got %d events, want 1", len(sink.events))
	}
	de, ok := sink.events[0].(*event.DeltaEvent)
	if !ok {
		t.Fatalf("got %T, want DeltaEvent", sink.events[0])
	}
	if de.FirstID != 100 || de.FinalID != 105 || de.PrevID != 99 {
		t.Errorf("ids = %d/%d/%d", de.FirstID, de.FinalID, de.PrevID)
	}
	if len(de.Bids) != 2 || len(de.Asks) != 1 {
		t.Fatalf("levels = %d bids, %d asks", len(de.Bids), len(de.Asks))
	}
	// Zero quantity passes through as a level removal.
	if de.Bids[1].Qty.Sign() != 0 {
		t.Errorf("removal qty = %s, want 0", de.Bids[1].Qty)
	}
}

func TestWorker_MalformedPayloadDropped(t *testing.T) {
	sink := &captureSink{}
	w := NewWorker("btcusdt", "", "", sink)

	w.handleMessage([]byte(`not json`))
	w.handleMessage([]byte(`{"stream":"btcusdt@aggTrade","data":{"p":"abc","q":"1"}}`))
	w.handleMessage([]byte(`{"stream":"btcusdt@depth@100ms","data":{"b":[["x","y"]]}}`))

	if len(sink.events) != 0 {
		t.Errorf("malformed payloads produced %d events, want 0", len(sink.events))
	}
}

func TestWorker_UnknownStreamIgnored(t *testing.T) {
	sink := &captureSink{}
	w := NewWorker("btcusdt", "", "", sink)

	w.handleMessage([]byte(`{"stream":"btcusdt@markPrice","data":{}}`))
	if len(sink.events) != 0 {
		t.Errorf("unknown stream produced %d events", len(sink.events))
	}
}

func TestParseLevels(t *testing.T) {
	lvls, err := parseLevels([][2]string{{"100.5", "2"}, {"100.4", "0"}})
	if err != nil {
		t.Fatalf("parseLevels failed: %v", err)
	}
	if len(lvls) != 2 {
		t.Fatalf("got %d levels", len(lvls))
	}
	if !lvls[0].Price.Equal(d("100.5")) || !lvls[0].Qty.Equal(d("2")) {
		t.Errorf("level = %s x %s", lvls[0].Price, lvls[0].Qty)
	}

	if _, err := parseLevels([][2]string{{"bad", "1"}}); err == nil {
		t.Error("invalid price should fail")
	}
}

func TestParseKlines(t *testing.T) {
	body := `[
		[1700000000000,"100.0","101.0","99.0","100.5","12.5",1700000059999,"1255.0",42,"7.5","755.0","0"],
		[1700000060000,"100.5","102.0","100.5","101.5","8.0",1700000119999,"810.0",30,"3.0","305.0","0"]
	]`
	bars, err := parseKlines([]byte(body), domain.TF1m)
	if err != nil {
		t.Fatalf("parseKlines failed: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}
	b := bars[0]
	if b.OpenTime != 1700000000000 || b.Timeframe != domain.TF1m {
		t.Errorf("bar identity = %d %v", b.OpenTime, b.Timeframe)
	}
	if !b.Open.Equal(d("100.0")) || !b.High.Equal(d("101.0")) ||
		!b.Low.Equal(d("99.0")) || !b.Close.Equal(d("100.5")) {
		t.Errorf("OHLC = %s/%s/%s/%s", b.Open, b.High, b.Low, b.Close)
	}
	if !b.Volume.Equal(d("12.5")) || !b.BuyVolume.Equal(d("7.5")) {
		t.Errorf("volume = %s, taker buy = %s", b.Volume, b.BuyVolume)
	}
}

func TestParseKlines_Malformed(t *testing.T) {
	if _, err := parseKlines([]byte(`{"not":"an array"}`), domain.TF1m); err == nil {
		t.Error("non-array body should fail")
	}
	if _, err := parseKlines([]byte(`[[1700000000000,"100.0"]]`), domain.TF1m); err == nil {
		t.Error("short row should fail")
	}
}

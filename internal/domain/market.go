package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is the aggressor side of a trade.
type Side uint8

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideSell {
		return "sell"
	}
	return "buy"
}

// Trade is a single executed trade, immutable once received.
// Ordering key is Time (exchange timestamp, ms), tie-broken by arrival order.
type Trade struct {
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"qty"`
	Side  Side            `json:"side"`
	Time  int64           `json:"time"`
}

// BookLevel is one price level of an order book ladder.
// A zero Qty means "remove this level".
type BookLevel struct {
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"qty"`
}

// BookView is a read-side snapshot of a reconstructed order book.
// Bids are sorted descending, asks ascending. Synced is false while the
// reconstructor has no consistent ladder to show (initial sync or resync).
type BookView struct {
	Bids         []BookLevel `json:"bids"`
	Asks         []BookLevel `json:"asks"`
	LastUpdateID int64       `json:"last_update_id"`
	Time         int64       `json:"time"`
	Synced       bool        `json:"synced"`
}

// BestBid returns the highest bid, if any.
func (v *BookView) BestBid() (BookLevel, bool) {
	if len(v.Bids) == 0 {
		return BookLevel{}, false
	}
	return v.Bids[0], true
}

// BestAsk returns the lowest ask, if any.
func (v *BookView) BestAsk() (BookLevel, bool) {
	if len(v.Asks) == 0 {
		return BookLevel{}, false
	}
	return v.Asks[0], true
}

// Timeframe is a candle interval in minutes.
type Timeframe int64

const (
	TF1m  Timeframe = 1
	TF3m  Timeframe = 3
	TF5m  Timeframe = 5
	TF15m Timeframe = 15
	TF30m Timeframe = 30
)

// DurationMs returns the interval length in milliseconds.
func (tf Timeframe) DurationMs() int64 {
	return int64(tf) * 60_000
}

func (tf Timeframe) String() string {
	return fmt.Sprintf("%dm", int64(tf))
}

// ParseTimeframe parses the "1m"/"3m"/"5m"/"15m"/"30m" notation.
func ParseTimeframe(s string) (Timeframe, error) {
	switch s {
	case "1m":
		return TF1m, nil
	case "3m":
		return TF3m, nil
	case "5m":
		return TF5m, nil
	case "15m":
		return TF15m, nil
	case "30m":
		return TF30m, nil
	}
	return 0, fmt.Errorf("%w: unsupported timeframe %q", ErrInvalidTimeframe, s)
}

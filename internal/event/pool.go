package event

import (
	"sync"

	"github.com/shopspring/decimal"

	"depthscope/internal/domain"
)

// Pools for the high-frequency event kinds (trades and depth deltas arrive
// at stream cadence). Use these to reduce GC pressure in the hotpath.
//
// Usage:
//
//	ev := AcquireTradeEvent()
//	ev.Trade = ...
//	// ... send into a session inbox; the consumer releases it ...
var tradePool = sync.Pool{
	New: func() interface{} {
		return &TradeEvent{}
	},
}

// AcquireTradeEvent gets a TradeEvent from the pool.
// The returned event has zero values and must be initialized.
func AcquireTradeEvent() *TradeEvent {
	return tradePool.Get().(*TradeEvent)
}

// ReleaseTradeEvent returns a TradeEvent to the pool.
func ReleaseTradeEvent(ev *TradeEvent) {
	if ev == nil {
		return
	}
	ev.Time = 0
	ev.Trade = domain.Trade{}

	tradePool.Put(ev)
}

var deltaPool = sync.Pool{
	New: func() interface{} {
		return &DeltaEvent{}
	},
}

// AcquireDeltaEvent gets a DeltaEvent from the pool.
func AcquireDeltaEvent() *DeltaEvent {
	return deltaPool.Get().(*DeltaEvent)
}

// ReleaseDeltaEvent returns a DeltaEvent to the pool. Level slices are
// truncated, not freed, so capacity is reused across acquisitions.
func ReleaseDeltaEvent(ev *DeltaEvent) {
	if ev == nil {
		return
	}
	ev.Time = 0
	ev.FirstID = 0
	ev.FinalID = 0
	ev.PrevID = 0
	for i := range ev.Bids {
		ev.Bids[i] = domain.BookLevel{Price: decimal.Zero, Qty: decimal.Zero}
	}
	ev.Bids = ev.Bids[:0]
	for i := range ev.Asks {
		ev.Asks[i] = domain.BookLevel{Price: decimal.Zero, Qty: decimal.Zero}
	}
	ev.Asks = ev.Asks[:0]

	deltaPool.Put(ev)
}

// Warmup pre-allocates event objects to reduce GC pressure at startup.
func Warmup() {
	const batchSize = 1000

	tradeEvs := make([]*TradeEvent, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		tradeEvs = append(tradeEvs, AcquireTradeEvent())
	}
	for _, ev := range tradeEvs {
		ReleaseTradeEvent(ev)
	}

	deltaEvs := make([]*DeltaEvent, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		deltaEvs = append(deltaEvs, AcquireDeltaEvent())
	}
	for _, ev := range deltaEvs {
		ReleaseDeltaEvent(ev)
	}
}

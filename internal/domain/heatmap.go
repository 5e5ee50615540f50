package domain

import "github.com/shopspring/decimal"

// HeatmapSlotMs is the width of one heatmap time slot. The depth stream
// ticks at this cadence, so one column holds one book snapshot.
const HeatmapSlotMs int64 = 100

// HeatmapColumn is one time-sliced snapshot of resting book quantity,
// keyed by price bucket. Quantities are raw; opacity normalization over
// the visible window belongs to the rendering collaborator.
type HeatmapColumn struct {
	TimeBucket int64                     `json:"time_bucket"`
	BidQty     map[int64]decimal.Decimal `json:"bid_qty"`
	AskQty     map[int64]decimal.Decimal `json:"ask_qty"`
}

// Clone returns a deep copy of the column.
func (c *HeatmapColumn) Clone() HeatmapColumn {
	out := HeatmapColumn{
		TimeBucket: c.TimeBucket,
		BidQty:     make(map[int64]decimal.Decimal, len(c.BidQty)),
		AskQty:     make(map[int64]decimal.Decimal, len(c.AskQty)),
	}
	for b, q := range c.BidQty {
		out.BidQty[b] = q
	}
	for b, q := range c.AskQty {
		out.AskQty[b] = q
	}
	return out
}

// TradeMarker is a size-filtered trade dot drawn over the heatmap.
type TradeMarker struct {
	TimeBucket int64           `json:"time_bucket"`
	Price      decimal.Decimal `json:"price"`
	Qty        decimal.Decimal `json:"qty"`
	Side       Side            `json:"side"`
}

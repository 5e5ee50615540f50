package engine

import (
	"github.com/shopspring/decimal"

	"depthscope/internal/domain"
)

// RollingGrid maintains the bounded time×price intensity grid behind the
// heatmap view. Each ~100ms depth tick contributes one column of raw book
// quantity per price bucket; a second tick landing in the same slot
// replaces the column. Size-filtered trades are retained alongside as
// markers. Both rings evict their oldest entry on overflow, never grow.
// Opacity normalization is the renderer's job; the grid serves raw
// quantities only.
type RollingGrid struct {
	bucketer Bucketer
	minQty   decimal.Decimal

	cols []domain.HeatmapColumn
	head int
	n    int

	markers []domain.TradeMarker
	mhead   int
	mn      int
}

// NewRollingGrid creates a grid retaining columns book snapshots and
// markerCap trade markers.
func NewRollingGrid(bucketer Bucketer, columns, markerCap int, minQty decimal.Decimal) *RollingGrid {
	if columns <= 0 {
		columns = 1
	}
	if markerCap <= 0 {
		markerCap = 1
	}
	return &RollingGrid{
		bucketer: bucketer,
		minQty:   minQty,
		cols:     make([]domain.HeatmapColumn, columns),
		markers:  make([]domain.TradeMarker, markerCap),
	}
}

// ApplyBook folds the current top-N ladder into the column for timeMs's
// slot. Levels that fall into the same bucket accumulate additively.
func (g *RollingGrid) ApplyBook(timeMs int64, bids, asks []domain.BookLevel) {
	slot := (timeMs / domain.HeatmapSlotMs) * domain.HeatmapSlotMs

	col := domain.HeatmapColumn{
		TimeBucket: slot,
		BidQty:     make(map[int64]decimal.Decimal, len(bids)),
		AskQty:     make(map[int64]decimal.Decimal, len(asks)),
	}
	for _, lvl := range bids {
		b := g.bucketer.Bucket(lvl.Price)
		col.BidQty[b] = col.BidQty[b].Add(lvl.Qty)
	}
	for _, lvl := range asks {
		b := g.bucketer.Bucket(lvl.Price)
		col.AskQty[b] = col.AskQty[b].Add(lvl.Qty)
	}

	if g.n > 0 {
		lastIdx := (g.head + g.n - 1) % len(g.cols)
		if g.cols[lastIdx].TimeBucket == slot {
			g.cols[lastIdx] = col
			return
		}
	}
	g.pushColumn(col)
}

func (g *RollingGrid) pushColumn(col domain.HeatmapColumn) {
	if g.n < len(g.cols) {
		g.cols[(g.head+g.n)%len(g.cols)] = col
		g.n++
		return
	}
	g.cols[g.head] = col
	g.head = (g.head + 1) % len(g.cols)
}

// ApplyTrade records a trade marker unless it falls under the size filter.
func (g *RollingGrid) ApplyTrade(t domain.Trade) {
	if g.minQty.Sign() > 0 && t.Qty.LessThan(g.minQty) {
		return
	}
	m := domain.TradeMarker{
		TimeBucket: (t.Time / domain.HeatmapSlotMs) * domain.HeatmapSlotMs,
		Price:      t.Price,
		Qty:        t.Qty,
		Side:       t.Side,
	}
	if g.mn < len(g.markers) {
		g.markers[(g.mhead+g.mn)%len(g.markers)] = m
		g.mn++
		return
	}
	g.markers[g.mhead] = m
	g.mhead = (g.mhead + 1) % len(g.markers)
}

// Columns returns retained columns in chronological order.
func (g *RollingGrid) Columns() []domain.HeatmapColumn {
	out := make([]domain.HeatmapColumn, 0, g.n)
	for i := 0; i < g.n; i++ {
		c := g.cols[(g.head+i)%len(g.cols)]
		out = append(out, c.Clone())
	}
	return out
}

// Markers returns retained trade markers in chronological order.
func (g *RollingGrid) Markers() []domain.TradeMarker {
	out := make([]domain.TradeMarker, 0, g.mn)
	for i := 0; i < g.mn; i++ {
		out = append(out, g.markers[(g.mhead+i)%len(g.markers)])
	}
	return out
}

// Len returns the number of retained columns.
func (g *RollingGrid) Len() int {
	return g.n
}

// Rebucket regroups every retained column under a new tick size, merging
// by bucket representative price. Approximate, same caveat as footprint
// rebucketing.
func (g *RollingGrid) Rebucket(next Bucketer) {
	old := g.bucketer
	for i := 0; i < g.n; i++ {
		idx := (g.head + i) % len(g.cols)
		g.cols[idx].BidQty = rebucketQty(g.cols[idx].BidQty, old, next)
		g.cols[idx].AskQty = rebucketQty(g.cols[idx].AskQty, old, next)
	}
	g.bucketer = next
}

func rebucketQty(m map[int64]decimal.Decimal, old, next Bucketer) map[int64]decimal.Decimal {
	out := make(map[int64]decimal.Decimal, len(m))
	for bucket, qty := range m {
		nb := next.Bucket(old.Price(bucket))
		out[nb] = out[nb].Add(qty)
	}
	return out
}

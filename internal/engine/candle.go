package engine

import (
	"github.com/shopspring/decimal"

	"depthscope/internal/domain"
)

// TimeBinner folds trades into OHLCV bars with per-bucket footprints for a
// single timeframe. It keeps one mutable open candle; closed candles live
// in a fixed-capacity ring so memory stays bounded on long sessions.
// Gaps produce no synthetic bars: the next trade lazily opens the candle
// it belongs to, and only periodic OHLCV refresh data seeds missed bars.
type TimeBinner struct {
	tf       domain.Timeframe
	bucketer Bucketer
	// Trades below minQty still count toward OHLCV but are excluded
	// from the footprint.
	minQty decimal.Decimal

	open   *domain.Candle
	closed []domain.Candle // ring, oldest at head
	head   int
	count  int
}

// NewTimeBinner creates a binner retaining history closed candles.
func NewTimeBinner(tf domain.Timeframe, bucketer Bucketer, history int, minQty decimal.Decimal) *TimeBinner {
	if history <= 0 {
		history = 1
	}
	return &TimeBinner{
		tf:       tf,
		bucketer: bucketer,
		minQty:   minQty,
		closed:   make([]domain.Candle, history),
	}
}

// Timeframe returns the interval this binner aggregates.
func (tb *TimeBinner) Timeframe() domain.Timeframe {
	return tb.tf
}

// ApplyTrade folds one trade into the open candle, rolling the candle
// over when the trade's timestamp reaches the close boundary. A trade at
// exactly the boundary opens the next candle, it never extends the
// current one.
func (tb *TimeBinner) ApplyTrade(t domain.Trade) {
	dur := tb.tf.DurationMs()
	openTime := (t.Time / dur) * dur

	if tb.open == nil || t.Time >= tb.open.OpenTime+dur {
		if tb.open != nil {
			tb.push(*tb.open)
		}
		tb.open = &domain.Candle{
			OpenTime:  openTime,
			Timeframe: tb.tf,
			Open:      t.Price,
			High:      t.Price,
			Low:       t.Price,
			Close:     t.Price,
			Footprint: make(map[int64]domain.FootprintCell),
		}
	}

	c := tb.open
	if t.Price.GreaterThan(c.High) {
		c.High = t.Price
	}
	if t.Price.LessThan(c.Low) {
		c.Low = t.Price
	}
	c.Close = t.Price
	c.Volume = c.Volume.Add(t.Qty)
	if t.Side == domain.SideBuy {
		c.BuyVolume = c.BuyVolume.Add(t.Qty)
	}

	if tb.minQty.Sign() > 0 && t.Qty.LessThan(tb.minQty) {
		return
	}
	bucket := tb.bucketer.Bucket(t.Price)
	cell := c.Footprint[bucket]
	if t.Side == domain.SideBuy {
		cell.BuyQty = cell.BuyQty.Add(t.Qty)
	} else {
		cell.SellQty = cell.SellQty.Add(t.Qty)
	}
	c.Footprint[bucket] = cell
}

// ApplyBar reconciles the open candle against exchange-side aggregation or
// seeds candles the trade stream never opened. Bars for wholly missed
// intervals between the open candle and the new bar are filled flat at the
// last known close with zero volume. Footprints of live candles survive the
// reconciliation; seeded bars have none to give.
func (tb *TimeBinner) ApplyBar(bar domain.PeriodicOhlcv) {
	if bar.Timeframe != tb.tf {
		return
	}
	dur := tb.tf.DurationMs()

	if tb.open != nil {
		switch {
		case bar.OpenTime < tb.open.OpenTime:
			return // stale refresh
		case bar.OpenTime == tb.open.OpenTime:
			tb.reconcile(tb.open, bar)
			return
		default:
			lastClose := tb.open.Close
			tb.push(*tb.open)
			tb.open = nil
			tb.fillGap(tb.openTimeAfterLast(), bar.OpenTime, dur, lastClose)
		}
	}

	tb.open = &domain.Candle{
		OpenTime:  bar.OpenTime,
		Timeframe: tb.tf,
		Open:      bar.Open,
		High:      bar.High,
		Low:       bar.Low,
		Close:     bar.Close,
		Volume:    bar.Volume,
		BuyVolume: bar.BuyVolume,
		Footprint: make(map[int64]domain.FootprintCell),
	}
}

// reconcile overwrites the candle's OHLCV from the exchange bar when the
// bar matches its interval, keeping the locally built footprint.
func (tb *TimeBinner) reconcile(c *domain.Candle, bar domain.PeriodicOhlcv) {
	if bar.OpenTime != c.OpenTime {
		return
	}
	c.Open = bar.Open
	c.High = bar.High
	c.Low = bar.Low
	c.Close = bar.Close
	c.Volume = bar.Volume
	// Feeds without a taker-buy split report zero; keep the locally
	// accumulated split in that case.
	if bar.BuyVolume.Sign() > 0 {
		c.BuyVolume = bar.BuyVolume
	}
}

func (tb *TimeBinner) openTimeAfterLast() int64 {
	if tb.count == 0 {
		return 0
	}
	last := tb.closed[(tb.head+tb.count-1)%len(tb.closed)]
	return last.OpenTime + tb.tf.DurationMs()
}

func (tb *TimeBinner) fillGap(from, until, dur int64, lastClose decimal.Decimal) {
	if from == 0 {
		return
	}
	for t := from; t < until; t += dur {
		tb.push(domain.Candle{
			OpenTime:  t,
			Timeframe: tb.tf,
			Open:      lastClose,
			High:      lastClose,
			Low:       lastClose,
			Close:     lastClose,
			Footprint: map[int64]domain.FootprintCell{},
		})
	}
}

func (tb *TimeBinner) push(c domain.Candle) {
	if tb.count < len(tb.closed) {
		tb.closed[(tb.head+tb.count)%len(tb.closed)] = c
		tb.count++
		return
	}
	tb.closed[tb.head] = c
	tb.head = (tb.head + 1) % len(tb.closed)
}

// Candles returns the retained closed candles in chronological order,
// followed by a copy of the open candle if one exists.
func (tb *TimeBinner) Candles() []domain.Candle {
	out := make([]domain.Candle, 0, tb.count+1)
	for i := 0; i < tb.count; i++ {
		out = append(out, tb.closed[(tb.head+i)%len(tb.closed)].Clone())
	}
	if tb.open != nil {
		out = append(out, tb.open.Clone())
	}
	return out
}

// Rebucket regroups every retained footprint under a new tick size. Raw
// trades are gone once folded, so cells move by their bucket's
// representative price: the result is approximate, sub-bucket precision
// is lost retroactively.
func (tb *TimeBinner) Rebucket(next Bucketer) {
	old := tb.bucketer
	for i := 0; i < tb.count; i++ {
		idx := (tb.head + i) % len(tb.closed)
		tb.closed[idx].Footprint = rebucketFootprint(tb.closed[idx].Footprint, old, next)
	}
	if tb.open != nil {
		tb.open.Footprint = rebucketFootprint(tb.open.Footprint, old, next)
	}
	tb.bucketer = next
}

func rebucketFootprint(cells map[int64]domain.FootprintCell, old, next Bucketer) map[int64]domain.FootprintCell {
	out := make(map[int64]domain.FootprintCell, len(cells))
	for bucket, cell := range cells {
		nb := next.Bucket(old.Price(bucket))
		merged := out[nb]
		merged.BuyQty = merged.BuyQty.Add(cell.BuyQty)
		merged.SellQty = merged.SellQty.Add(cell.SellQty)
		out[nb] = merged
	}
	return out
}

package domain

import "github.com/shopspring/decimal"

// FootprintCell is the traded quantity split by aggressor side
// at one price bucket within one candle interval.
type FootprintCell struct {
	BuyQty  decimal.Decimal `json:"buy_qty"`
	SellQty decimal.Decimal `json:"sell_qty"`
}

// Candle is an OHLCV bar with a per-bucket footprint.
// OpenTime is the inclusive start of the interval in ms; the interval
// covers [OpenTime, OpenTime+Timeframe). Closed candles are immutable.
type Candle struct {
	OpenTime  int64                   `json:"open_time"`
	Timeframe Timeframe               `json:"timeframe"`
	Open      decimal.Decimal         `json:"open"`
	High      decimal.Decimal         `json:"high"`
	Low       decimal.Decimal         `json:"low"`
	Close     decimal.Decimal         `json:"close"`
	Volume    decimal.Decimal         `json:"volume"`
	BuyVolume decimal.Decimal         `json:"buy_volume"`
	Footprint map[int64]FootprintCell `json:"footprint"`
}

// SellVolume is the taker-sell share of Volume.
func (c *Candle) SellVolume() decimal.Decimal {
	return c.Volume.Sub(c.BuyVolume)
}

// Clone returns a deep copy, safe to hand across the read boundary.
func (c *Candle) Clone() Candle {
	out := *c
	out.Footprint = make(map[int64]FootprintCell, len(c.Footprint))
	for b, cell := range c.Footprint {
		out.Footprint[b] = cell
	}
	return out
}

// PeriodicOhlcv is refresh/backfill bar data from the historical-fetch
// collaborator. It seeds candles the live trade stream never opened and
// reconciles the open bar against exchange-side aggregation.
type PeriodicOhlcv struct {
	OpenTime  int64
	Timeframe Timeframe
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	BuyVolume decimal.Decimal
}

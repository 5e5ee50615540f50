package engine

import (
	"github.com/shopspring/decimal"

	"depthscope/internal/domain"
)

// Bucketer maps raw prices onto an integer grid of tick-size multiples.
// bucket = floor(price / tick), representative price = bucket * tick.
// It is a pure value type; a tick-size change means building a new Bucketer
// and re-bucketing retained aggregates (see Rebucket on the consumers; that
// pass works from representative prices, so it loses sub-bucket precision
// retroactively).
type Bucketer struct {
	tick decimal.Decimal
}

// NewBucketer creates a Bucketer for a positive tick size.
func NewBucketer(tick decimal.Decimal) (Bucketer, error) {
	if tick.Sign() <= 0 {
		return Bucketer{}, &domain.ConfigError{Field: "tick_size", Err: domain.ErrInvalidTickSize}
	}
	return Bucketer{tick: tick}, nil
}

// Bucket returns the bucket index for a price.
func (b Bucketer) Bucket(price decimal.Decimal) int64 {
	return price.Div(b.tick).Floor().IntPart()
}

// Price returns the representative price of a bucket (its lower bound).
func (b Bucketer) Price(bucket int64) decimal.Decimal {
	return b.tick.Mul(decimal.NewFromInt(bucket))
}

// TickSize returns the configured tick size.
func (b Bucketer) TickSize() decimal.Decimal {
	return b.tick
}

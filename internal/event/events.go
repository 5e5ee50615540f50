package event

import (
	"depthscope/internal/domain"
)

// Kind tags the variants of the canonical stream event model.
type Kind uint8

const (
	KindTrade Kind = iota
	KindSnapshot
	KindDelta
	KindKline
	KindReset
)

func (k Kind) String() string {
	switch k {
	case KindTrade:
		return "trade"
	case KindSnapshot:
		return "snapshot"
	case KindDelta:
		return "delta"
	case KindKline:
		return "kline"
	case KindReset:
		return "reset"
	}
	return "unknown"
}

// Event is a normalized inbound stream event. Transport workers translate
// heterogeneous exchange payloads into these; the translation is stateless
// and carries no business logic.
type Event interface {
	GetKind() Kind
	GetTime() int64
}

// Sink accepts normalized events without blocking. Offer reports whether
// the event was enqueued; callers must treat false as a dropped event.
type Sink interface {
	Offer(ev Event) bool
}

// BaseEvent holds fields common to all events
type BaseEvent struct {
	Time int64 // exchange timestamp, ms
}

func (e *BaseEvent) GetTime() int64 { return e.Time }

// TradeEvent carries one executed trade.
type TradeEvent struct {
	BaseEvent
	Trade domain.Trade
}

func (e *TradeEvent) GetKind() Kind { return KindTrade }

// SnapshotEvent carries a full order book ladder with its update id.
type SnapshotEvent struct {
	BaseEvent
	UpdateID int64
	Bids     []domain.BookLevel
	Asks     []domain.BookLevel
}

func (e *SnapshotEvent) GetKind() Kind { return KindSnapshot }

// DeltaEvent carries an incremental depth update. Quantities are absolute
// replacements ("set quantity at price to X"); zero removes the level.
// FirstID/FinalID bound the ids folded into this delta; PrevID is the
// final id of the previous delta when the exchange provides chaining
// (Binance futures "pu"), zero otherwise.
type DeltaEvent struct {
	BaseEvent
	FirstID int64
	FinalID int64
	PrevID  int64
	Bids    []domain.BookLevel
	Asks    []domain.BookLevel
}

func (e *DeltaEvent) GetKind() Kind { return KindDelta }

// KlineEvent carries periodic OHLCV refresh data from the historical-fetch
// collaborator.
type KlineEvent struct {
	BaseEvent
	Bar domain.PeriodicOhlcv
}

func (e *KlineEvent) GetKind() Kind { return KindKline }

// ResetEvent signals that the transport connection was lost and re-established;
// the book must resync from a fresh snapshot.
type ResetEvent struct {
	BaseEvent
}

func (e *ResetEvent) GetKind() Kind { return KindReset }

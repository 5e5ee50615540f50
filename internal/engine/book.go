package engine

import (
	"log/slog"
	"sort"

	"depthscope/internal/domain"
	"depthscope/internal/event"
)

// BookState is the sync state of the order book reconstructor.
type BookState uint8

const (
	StateUninitialized BookState = iota
	StateSynced
	StateResyncing
)

func (s BookState) String() string {
	switch s {
	case StateSynced:
		return "synced"
	case StateResyncing:
		return "resyncing"
	}
	return "uninitialized"
}

// maxPending bounds the delta buffer held while waiting for a snapshot.
// Overflow drops the oldest delta; the resulting hole is caught by the
// sequence check during replay and triggers another resync.
const maxPending = 2048

// Reconstructor turns a snapshot plus sequenced deltas into a consistent
// bid/ask ladder. It is an explicit Uninitialized → Synced → Resyncing
// state machine; consumers only ever observe best_bid < best_ask or a
// "not synced" view. Not safe for concurrent use: the owning session
// serializes all calls.
type Reconstructor struct {
	state   BookState
	bids    map[string]domain.BookLevel
	asks    map[string]domain.BookLevel
	lastID  int64
	time    int64
	depth   int // top-N levels retained per side
	chained bool

	pending   []bufferedDelta
	requester domain.SnapshotRequester
}

type bufferedDelta struct {
	firstID int64
	finalID int64
	prevID  int64
	time    int64
	bids    []domain.BookLevel
	asks    []domain.BookLevel
}

// NewReconstructor creates a reconstructor retaining depth levels per side.
func NewReconstructor(depth int) *Reconstructor {
	return &Reconstructor{
		state: StateUninitialized,
		bids:  make(map[string]domain.BookLevel),
		asks:  make(map[string]domain.BookLevel),
		depth: depth,
	}
}

// SetSnapshotRequester wires the transport-side snapshot fetch used on resync.
func (r *Reconstructor) SetSnapshotRequester(req domain.SnapshotRequester) {
	r.requester = req
}

// State returns the current sync state.
func (r *Reconstructor) State() BookState {
	return r.state
}

// LastUpdateID returns the id of the last applied update.
func (r *Reconstructor) LastUpdateID() int64 {
	return r.lastID
}

// ApplySnapshot initializes the ladder from a full snapshot, discards
// buffered deltas at or below the snapshot id and replays the rest in order.
func (r *Reconstructor) ApplySnapshot(ev *event.SnapshotEvent) error {
	r.bids = make(map[string]domain.BookLevel, len(ev.Bids))
	r.asks = make(map[string]domain.BookLevel, len(ev.Asks))
	for _, lvl := range ev.Bids {
		if lvl.Qty.Sign() > 0 {
			r.bids[lvl.Price.String()] = lvl
		}
	}
	for _, lvl := range ev.Asks {
		if lvl.Qty.Sign() > 0 {
			r.asks[lvl.Price.String()] = lvl
		}
	}
	r.truncate()
	r.lastID = ev.UpdateID
	r.time = ev.Time
	r.state = StateSynced
	r.chained = false

	if err := r.checkCrossed(); err != nil {
		r.resync()
		return err
	}

	pending := r.pending
	r.pending = nil
	for i := range pending {
		d := pending[i]
		if d.finalID <= ev.UpdateID {
			continue
		}
		if err := r.applySequenced(d); err != nil {
			return err
		}
	}
	return nil
}

// ApplyDelta applies one depth delta. While not synced the delta is
// buffered; once synced it must chain onto the last applied update id or
// the book resyncs. A crossed ladder after apply is treated as a gap.
func (r *Reconstructor) ApplyDelta(ev *event.DeltaEvent) error {
	d := bufferedDelta{
		firstID: ev.FirstID,
		finalID: ev.FinalID,
		prevID:  ev.PrevID,
		time:    ev.Time,
		bids:    append([]domain.BookLevel(nil), ev.Bids...),
		asks:    append([]domain.BookLevel(nil), ev.Asks...),
	}

	if r.state != StateSynced {
		r.buffer(d)
		return nil
	}
	return r.applySequenced(d)
}

func (r *Reconstructor) applySequenced(d bufferedDelta) error {
	if d.finalID <= r.lastID {
		return nil // stale, already covered by the snapshot
	}

	if !r.accepts(d) {
		expected := r.lastID + 1
		r.resync()
		return &domain.SequenceGapError{Expected: expected, Got: d.firstID, Reason: "gap"}
	}

	for _, lvl := range d.bids {
		r.setLevel(r.bids, lvl)
	}
	for _, lvl := range d.asks {
		r.setLevel(r.asks, lvl)
	}
	r.truncate()
	r.lastID = d.finalID
	r.time = d.time
	r.chained = true

	if err := r.checkCrossed(); err != nil {
		r.resync()
		return err
	}
	return nil
}

// accepts implements the sequencing rule. Feeds that chain deltas
// (prev id present) must continue from the last applied final id, except
// for the first delta after a snapshot, which may straddle the snapshot id.
// Feeds without chaining require a strict last+1 progression.
func (r *Reconstructor) accepts(d bufferedDelta) bool {
	if d.prevID != 0 {
		if !r.chained {
			return d.firstID <= r.lastID+1 && r.lastID+1 <= d.finalID
		}
		return d.prevID == r.lastID
	}
	if d.firstID != 0 {
		return d.firstID <= r.lastID+1 && r.lastID+1 <= d.finalID
	}
	return d.finalID == r.lastID+1
}

func (r *Reconstructor) setLevel(side map[string]domain.BookLevel, lvl domain.BookLevel) {
	key := lvl.Price.String()
	if lvl.Qty.Sign() <= 0 {
		delete(side, key)
		return
	}
	side[key] = lvl
}

// Reset discards everything and requests a fresh snapshot. Used for
// connection resets and inbox overflow recovery.
func (r *Reconstructor) Reset() {
	r.resync()
}

func (r *Reconstructor) resync() {
	slog.Info("order book resyncing", slog.Int64("last_update_id", r.lastID))
	r.bids = make(map[string]domain.BookLevel)
	r.asks = make(map[string]domain.BookLevel)
	r.lastID = 0
	r.chained = false
	r.pending = nil
	r.state = StateResyncing
	if r.requester != nil {
		r.requester.RequestSnapshot()
	}
}

func (r *Reconstructor) buffer(d bufferedDelta) {
	if len(r.pending) >= maxPending {
		r.pending = r.pending[1:]
	}
	r.pending = append(r.pending, d)
}

func (r *Reconstructor) checkCrossed() error {
	bid, bok := r.bestBid()
	ask, aok := r.bestAsk()
	if bok && aok && bid.Price.GreaterThanOrEqual(ask.Price) {
		return domain.NewCrossedBookError(r.lastID)
	}
	return nil
}

func (r *Reconstructor) bestBid() (domain.BookLevel, bool) {
	var best domain.BookLevel
	found := false
	for _, lvl := range r.bids {
		if !found || lvl.Price.GreaterThan(best.Price) {
			best = lvl
			found = true
		}
	}
	return best, found
}

func (r *Reconstructor) bestAsk() (domain.BookLevel, bool) {
	var best domain.BookLevel
	found := false
	for _, lvl := range r.asks {
		if !found || lvl.Price.LessThan(best.Price) {
			best = lvl
			found = true
		}
	}
	return best, found
}

// truncate drops levels beyond the configured depth on each side.
// Levels outside the window are not retained "just in case".
func (r *Reconstructor) truncate() {
	if r.depth <= 0 {
		return
	}
	if len(r.bids) > r.depth {
		lvls := sortedLevels(r.bids, true)
		for _, lvl := range lvls[r.depth:] {
			delete(r.bids, lvl.Price.String())
		}
	}
	if len(r.asks) > r.depth {
		lvls := sortedLevels(r.asks, false)
		for _, lvl := range lvls[r.depth:] {
			delete(r.asks, lvl.Price.String())
		}
	}
}

// View returns a sorted snapshot of the ladder. Synced is false while the
// reconstructor has nothing consistent to show.
func (r *Reconstructor) View() domain.BookView {
	return domain.BookView{
		Bids:         sortedLevels(r.bids, true),
		Asks:         sortedLevels(r.asks, false),
		LastUpdateID: r.lastID,
		Time:         r.time,
		Synced:       r.state == StateSynced,
	}
}

func sortedLevels(side map[string]domain.BookLevel, descending bool) []domain.BookLevel {
	out := make([]domain.BookLevel, 0, len(side))
	for _, lvl := range side {
		out = append(out, lvl)
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

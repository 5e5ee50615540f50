package engine

import (
	"errors"
	"testing"

	"depthscope/internal/domain"
	"depthscope/internal/event"
)

type fakeRequester struct {
	calls int
}

func (f *fakeRequester) RequestSnapshot() { f.calls++ }

func snapshot(id int64, bids, asks []domain.BookLevel) *event.SnapshotEvent {
	return &event.SnapshotEvent{
		BaseEvent: event.BaseEvent{Time: id * 10},
		UpdateID:  id,
		Bids:      bids,
		Asks:      asks,
	}
}

func delta(first, final int64, bids, asks []domain.BookLevel) *event.DeltaEvent {
	return &event.DeltaEvent{
		BaseEvent: event.BaseEvent{Time: final * 10},
		FirstID:   first,
		FinalID:   final,
		Bids:      bids,
		Asks:      asks,
	}
}

func TestReconstructor_SnapshotThenDeltas(t *testing.T) {
	r := NewReconstructor(50)

	err := r.ApplySnapshot(snapshot(100,
		[]domain.BookLevel{lvl("100.0", "5"), lvl("99.9", "2")},
		[]domain.BookLevel{lvl("100.1", "3")}))
	if err != nil {
		t.Fatalf("ApplySnapshot failed: %v", err)
	}
	if r.State() != StateSynced {
		t.Fatalf("State = %v, want synced", r.State())
	}

	// Replace the best bid, remove the second level, add an ask.
	if err := r.ApplyDelta(delta(101, 101,
		[]domain.BookLevel{lvl("100.0", "7"), lvl("99.9", "0")},
		[]domain.BookLevel{lvl("100.2", "4")})); err != nil {
		t.Fatalf("ApplyDelta failed: %v", err)
	}

	v := r.View()
	if !v.Synced {
		t.Error("View should be synced")
	}
	if len(v.Bids) != 1 || !v.Bids[0].Qty.Equal(d("7")) {
		t.Errorf("Bids = %v, want single level qty 7", v.Bids)
	}
	if len(v.Asks) != 2 {
		t.Errorf("Asks = %v, want 2 levels", v.Asks)
	}
	bid, _ := v.BestBid()
	ask, _ := v.BestAsk()
	if !bid.Price.LessThan(ask.Price) {
		t.Errorf("Book crossed: bid %s >= ask %s", bid.Price, ask.Price)
	}
	if v.LastUpdateID != 101 {
		t.Errorf("LastUpdateID = %d, want 101", v.LastUpdateID)
	}
}

func TestReconstructor_SequenceGap(t *testing.T) {
	r := NewReconstructor(50)
	req := &fakeRequester{}
	r.SetSnapshotRequester(req)

	r.ApplySnapshot(snapshot(0,
		[]domain.BookLevel{lvl("100.0", "5")},
		[]domain.BookLevel{lvl("100.1", "3")}))

	for _, id := range []int64{1, 2, 3} {
		if err := r.ApplyDelta(delta(id, id,
			[]domain.BookLevel{lvl("100.0", "5")}, nil)); err != nil {
			t.Fatalf("delta %d rejected: %v", id, err)
		}
	}

	// Jump to 7: the hole must poison the sequence.
	err := r.ApplyDelta(delta(7, 7, []domain.BookLevel{lvl("100.0", "9")}, nil))
	var gap *domain.SequenceGapError
	if !errors.As(err, &gap) {
		t.Fatalf("expected SequenceGapError, got %v", err)
	}
	if r.State() != StateResyncing {
		t.Errorf("State = %v, want resyncing", r.State())
	}
	if req.calls != 1 {
		t.Errorf("RequestSnapshot called %d times, want 1", req.calls)
	}

	// The gapped delta's contents must be discarded, not applied.
	v := r.View()
	if v.Synced {
		t.Error("View should not report synced during resync")
	}
	if len(v.Bids) != 0 {
		t.Errorf("ladder should be cleared, got %d bids", len(v.Bids))
	}
}

func TestReconstructor_BuffersUntilSnapshot(t *testing.T) {
	r := NewReconstructor(50)

	// Deltas before any snapshot are buffered, not applied.
	r.ApplyDelta(delta(99, 99, []domain.BookLevel{lvl("100.0", "1")}, nil))
	r.ApplyDelta(delta(101, 101, []domain.BookLevel{lvl("100.0", "8")}, nil))
	r.ApplyDelta(delta(102, 102, nil, []domain.BookLevel{lvl("100.3", "2")}))
	if r.State() != StateUninitialized {
		t.Fatalf("State = %v, want uninitialized", r.State())
	}
	if len(r.View().Bids) != 0 {
		t.Fatal("nothing should be applied before the snapshot")
	}

	// Snapshot at 100: the delta at 99 is stale, 101 and 102 replay.
	if err := r.ApplySnapshot(snapshot(100,
		[]domain.BookLevel{lvl("100.0", "5")},
		[]domain.BookLevel{lvl("100.1", "3")})); err != nil {
		t.Fatalf("ApplySnapshot failed: %v", err)
	}

	v := r.View()
	if v.LastUpdateID != 102 {
		t.Errorf("LastUpdateID = %d, want 102 after replay", v.LastUpdateID)
	}
	if !v.Bids[0].Qty.Equal(d("8")) {
		t.Errorf("replayed bid qty = %s, want 8", v.Bids[0].Qty)
	}
	if len(v.Asks) != 2 {
		t.Errorf("Asks = %v, want snapshot level plus replayed level", v.Asks)
	}
}

func TestReconstructor_StaleDeltaSkipped(t *testing.T) {
	r := NewReconstructor(50)
	r.ApplySnapshot(snapshot(100,
		[]domain.BookLevel{lvl("100.0", "5")},
		[]domain.BookLevel{lvl("100.1", "3")}))

	if err := r.ApplyDelta(delta(90, 95,
		[]domain.BookLevel{lvl("100.0", "999")}, nil)); err != nil {
		t.Fatalf("stale delta should be a no-op, got %v", err)
	}
	if !r.View().Bids[0].Qty.Equal(d("5")) {
		t.Error("stale delta must not mutate the ladder")
	}
	if r.State() != StateSynced {
		t.Errorf("State = %v, want synced", r.State())
	}
}

func TestReconstructor_CrossedBookResyncs(t *testing.T) {
	r := NewReconstructor(50)
	req := &fakeRequester{}
	r.SetSnapshotRequester(req)

	r.ApplySnapshot(snapshot(100,
		[]domain.BookLevel{lvl("100.0", "5")},
		[]domain.BookLevel{lvl("100.1", "3")}))

	// A bid at or above the best ask is inconsistent state.
	err := r.ApplyDelta(delta(101, 101,
		[]domain.BookLevel{lvl("100.1", "2")}, nil))
	if err == nil {
		t.Fatal("crossed book should surface an error")
	}
	if r.State() != StateResyncing {
		t.Errorf("State = %v, want resyncing", r.State())
	}
	if req.calls != 1 {
		t.Errorf("RequestSnapshot called %d times, want 1", req.calls)
	}
}

func TestReconstructor_CrossedSnapshotResyncs(t *testing.T) {
	r := NewReconstructor(50)
	req := &fakeRequester{}
	r.SetSnapshotRequester(req)

	// A snapshot that is crossed on arrival must never be served.
	err := r.ApplySnapshot(snapshot(100,
		[]domain.BookLevel{lvl("100.2", "5")},
		[]domain.BookLevel{lvl("100.1", "3")}))
	if err == nil {
		t.Fatal("crossed snapshot should surface an error")
	}
	if r.State() != StateResyncing {
		t.Errorf("State = %v, want resyncing", r.State())
	}
	if req.calls != 1 {
		t.Errorf("RequestSnapshot called %d times, want 1", req.calls)
	}

	v := r.View()
	if v.Synced {
		t.Error("View must not report synced for a crossed snapshot")
	}
	if len(v.Bids) != 0 || len(v.Asks) != 0 {
		t.Errorf("ladder should be cleared, got %d bids / %d asks", len(v.Bids), len(v.Asks))
	}

	// The next clean snapshot recovers as usual.
	if err := r.ApplySnapshot(snapshot(200,
		[]domain.BookLevel{lvl("100.0", "5")},
		[]domain.BookLevel{lvl("100.1", "3")})); err != nil {
		t.Fatalf("recovery snapshot failed: %v", err)
	}
	if r.State() != StateSynced {
		t.Errorf("State = %v, want synced after recovery", r.State())
	}
}

func TestReconstructor_PrevIDChaining(t *testing.T) {
	r := NewReconstructor(50)

	r.ApplySnapshot(snapshot(100,
		[]domain.BookLevel{lvl("100.0", "5")},
		[]domain.BookLevel{lvl("100.1", "3")}))

	// First chained delta after the snapshot may straddle the snapshot id.
	first := &event.DeltaEvent{
		BaseEvent: event.BaseEvent{Time: 1},
		FirstID:   98, FinalID: 103, PrevID: 97,
		Bids: []domain.BookLevel{lvl("99.9", "1")},
	}
	if err := r.ApplyDelta(first); err != nil {
		t.Fatalf("straddling first delta rejected: %v", err)
	}

	// From here on pu must equal the last final id.
	chained := &event.DeltaEvent{
		BaseEvent: event.BaseEvent{Time: 2},
		FirstID:   104, FinalID: 110, PrevID: 103,
		Bids: []domain.BookLevel{lvl("99.8", "2")},
	}
	if err := r.ApplyDelta(chained); err != nil {
		t.Fatalf("chained delta rejected: %v", err)
	}

	broken := &event.DeltaEvent{
		BaseEvent: event.BaseEvent{Time: 3},
		FirstID:   115, FinalID: 120, PrevID: 114, // should be 110
		Bids: []domain.BookLevel{lvl("99.7", "2")},
	}
	if err := r.ApplyDelta(broken); err == nil {
		t.Fatal("broken pu chain should trigger a gap")
	}
	if r.State() != StateResyncing {
		t.Errorf("State = %v, want resyncing", r.State())
	}
}

func TestReconstructor_DepthTruncation(t *testing.T) {
	r := NewReconstructor(3)

	bids := []domain.BookLevel{
		lvl("100.0", "1"), lvl("99.9", "1"), lvl("99.8", "1"),
		lvl("99.7", "1"), lvl("99.6", "1"),
	}
	r.ApplySnapshot(snapshot(1, bids, []domain.BookLevel{lvl("100.1", "1")}))

	v := r.View()
	if len(v.Bids) != 3 {
		t.Fatalf("got %d bids, want 3", len(v.Bids))
	}
	// The best levels survive, the tail is dropped.
	if !v.Bids[0].Price.Equal(d("100.0")) || !v.Bids[2].Price.Equal(d("99.8")) {
		t.Errorf("kept wrong levels: %v", v.Bids)
	}
}

func TestReconstructor_ResetClearsEverything(t *testing.T) {
	r := NewReconstructor(50)
	req := &fakeRequester{}
	r.SetSnapshotRequester(req)

	r.ApplySnapshot(snapshot(100,
		[]domain.BookLevel{lvl("100.0", "5")},
		[]domain.BookLevel{lvl("100.1", "3")}))

	r.Reset()
	if r.State() != StateResyncing {
		t.Errorf("State = %v, want resyncing", r.State())
	}
	if r.LastUpdateID() != 0 {
		t.Errorf("LastUpdateID = %d, want 0", r.LastUpdateID())
	}
	if req.calls != 1 {
		t.Errorf("RequestSnapshot called %d times, want 1", req.calls)
	}

	// A fresh snapshot recovers to synced.
	if err := r.ApplySnapshot(snapshot(200,
		[]domain.BookLevel{lvl("101.0", "5")},
		[]domain.BookLevel{lvl("101.1", "3")})); err != nil {
		t.Fatalf("recovery snapshot failed: %v", err)
	}
	if r.State() != StateSynced {
		t.Errorf("State = %v, want synced after recovery", r.State())
	}
}

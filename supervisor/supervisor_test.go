package supervisor

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dbaops/cdc-sync/changestream"
	"github.com/dbaops/cdc-sync/state"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// fakeStream replays a fixed, ordered script of events, then reports idle.
// onExhausted, if set, fires the first time the script runs out -- tests use
// it to flip the shutdown flag so drain's loop terminates deterministically
// instead of spinning forever on an always-idle fake cursor.
type fakeStream struct {
	target      state.WatchTarget
	events      []*changestream.Event
	pos         int
	closed      bool
	onExhausted func()
}

func (f *fakeStream) TryNext(ctx context.Context) (state.WatchTarget, *changestream.Event) {
	if f.pos >= len(f.events) {
		if f.pos == len(f.events) && f.onExhausted != nil {
			f.pos++ // fire exactly once
			f.onExhausted()
		}
		return state.WatchTarget{}, nil
	}
	ev := f.events[f.pos]
	f.pos++
	return f.target, ev
}

func (f *fakeStream) Close(ctx context.Context) { f.closed = true }

// fakeApplier always continues (true) unless the event is an invalidate.
type fakeApplier struct {
	applied []changestream.Event
}

func (f *fakeApplier) Apply(ctx context.Context, ev changestream.Event) (bool, error) {
	f.applied = append(f.applied, ev)
	if ev.OperationType == changestream.OpInvalidate {
		return false, nil
	}
	return true, nil
}

// fakeStore is an in-memory stand-in for *state.Store, good enough to drive
// the loop without ever touching a filesystem.
type fakeStore struct {
	tokens    map[string]state.Token
	flushes   int
	persists  int
	updateErr error
	stats     state.Stats
}

func newFakeStore() *fakeStore {
	return &fakeStore{tokens: map[string]state.Token{}}
}

func (f *fakeStore) InitCollections(targets []state.WatchTarget) error { return nil }

func (f *fakeStore) GetResumeToken(target state.WatchTarget) state.Token {
	return f.tokens[target.String()]
}

func (f *fakeStore) UpdateResumeToken(target state.WatchTarget, token state.Token, persistInterval int) error {
	f.tokens[target.String()] = token
	return f.updateErr
}

func (f *fakeStore) RecordOperation(kind state.OperationKind) {
	f.stats.TotalSynced++
}

func (f *fakeStore) FlushIfPending() error {
	f.flushes++
	return nil
}

func (f *fakeStore) Persist() error {
	f.persists++
	return nil
}

func (f *fakeStore) Stats() state.Stats { return f.stats }

// mustEvent builds an Event the same way the real cursor does: marshal a
// change-stream-shaped document, then decode it through the same Unmarshal
// path *mongo.ChangeStream.Decode uses, rather than hand-building a
// bson.RawValue with internal type constants.
func mustEvent(t *testing.T, opType, tokenData string, ns changestream.Namespace, documentKey, fullDocument bson.D) changestream.Event {
	t.Helper()
	doc := bson.D{
		{Key: "_id", Value: bson.D{{Key: "_data", Value: tokenData}}},
		{Key: "operationType", Value: opType},
		{Key: "ns", Value: bson.D{{Key: "db", Value: ns.DB}, {Key: "coll", Value: ns.Coll}}},
		{Key: "documentKey", Value: documentKey},
		{Key: "fullDocument", Value: fullDocument},
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal event fixture: %v", err)
	}
	var ev changestream.Event
	if err := bson.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("unmarshal event fixture: %v", err)
	}
	return ev
}

func tokenLabelOf(tok state.Token) string {
	return bson.Raw(tok).Lookup("_data").StringValue()
}

func TestDrainAdvancesTokenThenStopsWhenStreamGoesIdle(t *testing.T) {
	target := state.WatchTarget{Database: "d", Collection: "c"}
	ev := mustEvent(t, changestream.OpInsert, "TOKEN1",
		changestream.Namespace{DB: "d", Coll: "c"},
		bson.D{{Key: "_id", Value: "A"}},
		bson.D{{Key: "_id", Value: "A"}, {Key: "v", Value: int32(1)}})
	ap := &fakeApplier{}
	store := newFakeStore()
	sv := &Supervisor{PersistInterval: 10}

	st := &fakeStream{
		target: target,
		events: []*changestream.Event{&ev},
		onExhausted: func() {
			sv.shuttingDown.Store(true)
		},
	}

	err := sv.drain(context.Background(), st, ap, store, slog.Default())
	if err != nil {
		t.Fatalf("drain returned %v, want nil on shutdown", err)
	}

	if got := tokenLabelOf(store.GetResumeToken(target)); got != "TOKEN1" {
		t.Fatalf("resume token not advanced to TOKEN1, got %q", got)
	}
	if len(ap.applied) != 1 {
		t.Fatalf("expected exactly 1 event applied, got %d", len(ap.applied))
	}
	if store.flushes == 0 {
		t.Fatal("expected at least one idle flush before shutdown was observed")
	}
}

func TestDrainReturnsErrInvalidatedOnInvalidate(t *testing.T) {
	target := state.WatchTarget{Database: "d", Collection: "c"}
	ev := mustEvent(t, changestream.OpInvalidate, "TI", changestream.Namespace{}, nil, nil)
	st := &fakeStream{target: target, events: []*changestream.Event{&ev}}
	ap := &fakeApplier{}
	store := newFakeStore()

	sv := &Supervisor{PersistInterval: 10}

	err := sv.drain(context.Background(), st, ap, store, slog.Default())
	if err != errInvalidated {
		t.Fatalf("got %v, want errInvalidated", err)
	}
	// The invalidate event's own id must not be recorded as a resume token.
	if len(store.tokens) != 0 {
		t.Fatalf("expected no resume token recorded for an invalidate event, got %v", store.tokens)
	}
}

func TestDriveStreamsReopensAfterInvalidation(t *testing.T) {
	target := state.WatchTarget{Database: "d", Collection: "c"}
	invalidateEv := mustEvent(t, changestream.OpInvalidate, "TI", changestream.Namespace{}, nil, nil)
	insertEv := mustEvent(t, changestream.OpInsert, "TOKEN2",
		changestream.Namespace{DB: "d", Coll: "c"},
		bson.D{{Key: "_id", Value: "A"}},
		bson.D{{Key: "_id", Value: "A"}, {Key: "v", Value: int32(1)}})

	ap := &fakeApplier{}
	store := newFakeStore()
	sv := &Supervisor{PersistInterval: 10}

	firstStream := &fakeStream{target: target, events: []*changestream.Event{&invalidateEv}}
	secondStream := &fakeStream{
		target: target,
		events: []*changestream.Event{&insertEv},
		onExhausted: func() {
			sv.shuttingDown.Store(true)
		},
	}

	opens := 0
	open := func() (stream, error) {
		opens++
		if opens == 1 {
			return firstStream, nil
		}
		return secondStream, nil
	}

	err := sv.driveStreams(context.Background(), open, ap, store, slog.Default())
	if err != nil {
		t.Fatalf("driveStreams returned %v, want nil", err)
	}
	if opens != 2 {
		t.Fatalf("expected the stream to be reopened once after invalidation, got %d opens", opens)
	}
	if !firstStream.closed || !secondStream.closed {
		t.Fatal("expected both streams to be closed")
	}
	if got := tokenLabelOf(store.GetResumeToken(target)); got != "TOKEN2" {
		t.Fatalf("expected the post-reopen event's token to be recorded, got %q", got)
	}
}

func TestDrainStopsImmediatelyWhenAlreadyShuttingDown(t *testing.T) {
	target := state.WatchTarget{Database: "d", Collection: "c"}
	st := &fakeStream{target: target} // no events -- would spin forever if reached
	ap := &fakeApplier{}
	store := newFakeStore()

	sv := &Supervisor{PersistInterval: 10}
	sv.shuttingDown.Store(true)

	err := sv.drain(context.Background(), st, ap, store, slog.Default())
	if err != nil {
		t.Fatalf("drain returned %v, want nil", err)
	}
	if len(ap.applied) != 0 {
		t.Fatal("expected no events applied once shutdown is already observed")
	}
}

func TestDrainStopsOnContextCancellation(t *testing.T) {
	target := state.WatchTarget{Database: "d", Collection: "c"}
	st := &fakeStream{target: target}
	ap := &fakeApplier{}
	store := newFakeStore()
	sv := &Supervisor{PersistInterval: 10}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sv.drain(ctx, st, ap, store, slog.Default())
	if err != nil {
		t.Fatalf("drain returned %v, want nil", err)
	}
}

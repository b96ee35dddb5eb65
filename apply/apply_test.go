package apply

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dbaops/cdc-sync/changestream"
	"github.com/dbaops/cdc-sync/state"
)

// fakeStats records every kind passed to RecordOperation, in order.
type fakeStats struct {
	recorded []state.OperationKind
}

func (f *fakeStats) RecordOperation(kind state.OperationKind) {
	f.recorded = append(f.recorded, kind)
}

// The following scenarios only exercise paths that return before touching
// the target client, so a nil *mongo.Client is safe to embed in Applier.
// Round-trip writes against a real collection need a live MongoDB and are
// out of scope for this suite (see SPEC_FULL.md's testing strategy).

func TestApplyMissingFullDocumentIsNoOp(t *testing.T) {
	stats := &fakeStats{}
	a := New(nil, stats, slog.Default())

	ev := changestream.Event{
		OperationType: changestream.OpUpdate,
		Ns:            changestream.Namespace{DB: "d", Coll: "c"},
		DocumentKey:   nil,
		FullDocument:  nil,
	}

	cont, err := a.Apply(context.Background(), ev)
	if err != nil || !cont {
		t.Fatalf("got (%v, %v), want (true, nil)", cont, err)
	}
	if len(stats.recorded) != 0 {
		t.Fatalf("expected no stats recorded, got %v", stats.recorded)
	}
}

func TestApplyInvalidateSignalsReopen(t *testing.T) {
	stats := &fakeStats{}
	a := New(nil, stats, slog.Default())

	ev := changestream.Event{OperationType: changestream.OpInvalidate}

	cont, err := a.Apply(context.Background(), ev)
	if err != nil || cont {
		t.Fatalf("got (%v, %v), want (false, nil)", cont, err)
	}
	if len(stats.recorded) != 0 {
		t.Fatalf("expected no stats recorded, got %v", stats.recorded)
	}
}

func TestApplyUnhandledOperationIsIgnored(t *testing.T) {
	stats := &fakeStats{}
	a := New(nil, stats, slog.Default())

	ev := changestream.Event{OperationType: "rename", Ns: changestream.Namespace{DB: "d", Coll: "c"}}

	cont, err := a.Apply(context.Background(), ev)
	if err != nil || !cont {
		t.Fatalf("got (%v, %v), want (true, nil)", cont, err)
	}
	if len(stats.recorded) != 0 {
		t.Fatalf("expected no stats recorded, got %v", stats.recorded)
	}
}

func TestNewDefaultsNilLogger(t *testing.T) {
	a := New(nil, &fakeStats{}, nil)
	if a.log == nil {
		t.Fatal("expected New to install a default logger when nil is passed")
	}
}

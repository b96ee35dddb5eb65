// Package apply translates a change event into an idempotent mutation on
// the target database. Replaying the same event any number of times
// produces the same target state as applying it once.
package apply

import (
	"context"
	"log/slog"

	"github.com/dbaops/cdc-sync/changestream"
	"github.com/dbaops/cdc-sync/state"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// statsRecorder is the slice of *state.Store the applier needs -- just
// enough to record outcomes, not to touch resume tokens.
type statsRecorder interface {
	RecordOperation(kind state.OperationKind)
}

// Applier applies change events to a target client. It holds no
// collection-scoped state: every event carries its own namespace.
type Applier struct {
	target *mongo.Client
	stats  statsRecorder
	log    *slog.Logger
}

// New creates an Applier writing to target, recording outcomes in stats.
func New(target *mongo.Client, stats statsRecorder, log *slog.Logger) *Applier {
	if log == nil {
		log = slog.Default()
	}
	return &Applier{target: target, stats: stats, log: log}
}

// Apply applies one event. It returns false only for invalidate: the
// supervisor must tear down and reopen the stream. true means the
// caller may advance the resume token, even when the per-document write
// itself failed -- a single bad document must not block the pipeline.
func (a *Applier) Apply(ctx context.Context, ev changestream.Event) (bool, error) {
	ns := ev.Ns.DB + "." + ev.Ns.Coll

	switch ev.OperationType {
	case changestream.OpInsert, changestream.OpUpdate, changestream.OpReplace:
		return a.applyUpsert(ctx, ev, ns)

	case changestream.OpDelete:
		return a.applyDelete(ctx, ev, ns)

	case changestream.OpDrop:
		coll := a.target.Database(ev.Ns.DB).Collection(ev.Ns.Coll)
		if err := coll.Drop(ctx); err != nil {
			a.log.Warn("drop collection failed on target", "ns", ns, "error", err)
		}
		return true, nil

	case changestream.OpDropDatabase:
		if err := a.target.Database(ev.Ns.DB).Drop(ctx); err != nil {
			a.log.Warn("drop database failed on target", "db", ev.Ns.DB, "error", err)
		}
		return true, nil

	case changestream.OpInvalidate:
		return false, nil

	default:
		a.log.Debug("ignoring unhandled operation type", "op", ev.OperationType, "ns", ns)
		return true, nil
	}
}

func (a *Applier) applyUpsert(ctx context.Context, ev changestream.Event, ns string) (bool, error) {
	if ev.FullDocument == nil {
		a.log.Warn("change event missing fullDocument, skipping apply", "op", ev.OperationType, "ns", ns)
		return true, nil
	}

	id, ok := documentID(ev.DocumentKey, ev.FullDocument)
	if !ok {
		a.log.Warn("change event missing document identity", "op", ev.OperationType, "ns", ns)
		return true, nil
	}

	body := stripID(ev.FullDocument)
	coll := a.target.Database(ev.Ns.DB).Collection(ev.Ns.Coll)
	_, err := coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: id}}, body, options.Replace().SetUpsert(true))
	if err != nil {
		a.log.Error("replace failed on target", "op", ev.OperationType, "ns", ns, "error", err)
		a.stats.RecordOperation(state.OpError)
		return true, nil
	}

	kind := state.OpInsert
	if ev.OperationType != changestream.OpInsert {
		kind = state.OpUpdate
	}
	a.stats.RecordOperation(kind)
	return true, nil
}

func (a *Applier) applyDelete(ctx context.Context, ev changestream.Event, ns string) (bool, error) {
	id, ok := documentID(ev.DocumentKey, ev.FullDocument)
	if !ok {
		a.log.Warn("delete event missing document identity", "ns", ns)
		return true, nil
	}

	coll := a.target.Database(ev.Ns.DB).Collection(ev.Ns.Coll)
	if _, err := coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
		a.log.Error("delete failed on target", "ns", ns, "error", err)
		a.stats.RecordOperation(state.OpError)
		return true, nil
	}
	a.stats.RecordOperation(state.OpDelete)
	return true, nil
}

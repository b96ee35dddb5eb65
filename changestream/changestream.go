// Package changestream multiplexes one change-stream cursor per watched
// collection behind a single non-blocking poll surface, tagging every
// event with the collection it came from.
package changestream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dbaops/cdc-sync/state"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// cursor is the minimal surface the multiplexer needs from a change
// stream. Tests substitute a fake; *mongo.ChangeStream satisfies it.
type cursor interface {
	TryNext(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

var _ cursor = (*mongo.ChangeStream)(nil)

// TokenSource supplies the last persisted resume token for a target so a
// freshly opened cursor can pick up where the previous one left off.
type TokenSource interface {
	GetResumeToken(target state.WatchTarget) state.Token
}

// Options are the base change-stream options shared by every cursor the
// multiplexer opens; Open clones them per target and injects that
// target's resume token when one is known.
type Options struct {
	BatchSize    int32
	MaxAwaitTime time.Duration
	FullDocument options.FullDocument
}

type entry struct {
	target state.WatchTarget
	cur    cursor
}

// Multiplexer presents N per-collection change cursors as one
// round-robin, non-blocking event source.
type Multiplexer struct {
	entries []entry
	idx     int
	log     *slog.Logger
}

// Open opens one change cursor per target. A malformed target spec or a
// failed Watch call drops that target (logged) rather than failing the
// whole construction; construction fails only if not a single cursor
// opens.
func Open(ctx context.Context, client *mongo.Client, targets []string, pipeline mongo.Pipeline, base Options, tokens TokenSource, log *slog.Logger) (*Multiplexer, error) {
	if log == nil {
		log = slog.Default()
	}

	m := &Multiplexer{log: log}
	for _, spec := range targets {
		target, err := state.ParseWatchTarget(spec)
		if err != nil {
			log.Warn("skipping malformed watch target", "spec", spec, "error", err)
			continue
		}

		opts := options.ChangeStream().
			SetBatchSize(base.BatchSize).
			SetMaxAwaitTime(base.MaxAwaitTime).
			SetFullDocument(base.FullDocument)
		if tok := tokens.GetResumeToken(target); !tok.IsZero() {
			opts = opts.SetResumeAfter(bson.Raw(tok))
		}

		coll := client.Database(target.Database).Collection(target.Collection)
		cur, err := coll.Watch(ctx, pipeline, opts)
		if err != nil {
			log.Warn("failed to open change stream", "target", target.String(), "error", err)
			continue
		}
		m.entries = append(m.entries, entry{target: target, cur: cur})
	}

	if len(m.entries) == 0 {
		return nil, fmt.Errorf("changestream: no cursor could be opened for %v", targets)
	}
	return m, nil
}

// TryNext probes each cursor at most once, starting at the round-robin
// index, and returns the first event found. Returns a zero WatchTarget and
// nil event if a full sweep finds nothing. Per-cursor errors are logged
// and treated as "no event this sweep" for that cursor -- they never
// surface to the caller.
func (m *Multiplexer) TryNext(ctx context.Context) (state.WatchTarget, *Event) {
	n := len(m.entries)
	for i := 0; i < n; i++ {
		pos := (m.idx + i) % n
		e := m.entries[pos]

		if !e.cur.TryNext(ctx) {
			if err := e.cur.Err(); err != nil {
				m.log.Warn("change stream read error", "target", e.target.String(), "error", err)
			}
			continue
		}

		var ev Event
		if err := e.cur.Decode(&ev); err != nil {
			m.log.Warn("failed to decode change event", "target", e.target.String(), "error", err)
			continue
		}

		m.idx = (pos + 1) % n
		return e.target, &ev
	}
	return state.WatchTarget{}, nil
}

// Close closes every cursor, swallowing per-cursor errors.
func (m *Multiplexer) Close(ctx context.Context) {
	for _, e := range m.entries {
		if err := e.cur.Close(ctx); err != nil {
			m.log.Warn("error closing change stream", "target", e.target.String(), "error", err)
		}
	}
}

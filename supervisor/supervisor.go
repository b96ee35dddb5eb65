// Package supervisor owns the top-level sync loop: connect both clients,
// initialize state, open streams, drain events into the target, advance
// resume tokens, and retry on connection failures with exponential backoff.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dbaops/cdc-sync/apply"
	"github.com/dbaops/cdc-sync/changestream"
	"github.com/dbaops/cdc-sync/state"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	sourceConnectTimeout = 10 * time.Second
	targetConnectTimeout = 30 * time.Second
	statusLogInterval    = 60 * time.Second
	idlePollDelay        = 150 * time.Millisecond
	maxRetries           = 5
	backoffBase          = 5 * time.Second
	backoffCap           = 60 * time.Second

	watchBatchSize    = 100
	watchMaxAwaitTime = 5 * time.Second
)

// stream is the subset of *changestream.Multiplexer the main loop needs --
// small enough that tests substitute a fake without a live driver.
type stream interface {
	TryNext(ctx context.Context) (state.WatchTarget, *changestream.Event)
	Close(ctx context.Context)
}

var _ stream = (*changestream.Multiplexer)(nil)

// applier is the subset of *apply.Applier the main loop needs.
type applier interface {
	Apply(ctx context.Context, ev changestream.Event) (bool, error)
}

var _ applier = (*apply.Applier)(nil)

// stateStore is the subset of *state.Store the main loop needs.
type stateStore interface {
	InitCollections(targets []state.WatchTarget) error
	UpdateResumeToken(target state.WatchTarget, token state.Token, persistInterval int) error
	FlushIfPending() error
	Persist() error
	Stats() state.Stats
}

var _ stateStore = (*state.Store)(nil)

// Supervisor orchestrates connect -> init -> stream -> apply -> persist,
// with graceful shutdown and retry on connection failures.
type Supervisor struct {
	SourceURI       string
	TargetURI       string
	Targets         []string
	PersistInterval int
	StatePath       string
	Reset           bool
	Log             *slog.Logger

	shuttingDown atomic.Bool
}

func (sv *Supervisor) log() *slog.Logger {
	if sv.Log == nil {
		return slog.Default()
	}
	return sv.Log
}

// Run loads (and optionally resets) state, then drives the retry loop until
// ctx is canceled, a non-retriable error occurs, or retries are exhausted.
func (sv *Supervisor) Run(ctx context.Context) error {
	log := sv.log()

	store := state.New(sv.StatePath, log)
	if err := store.Load(); err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	if sv.Reset {
		if err := store.Reset(); err != nil {
			return fmt.Errorf("supervisor: reset: %w", err)
		}
	}

	go func() {
		<-ctx.Done()
		sv.shuttingDown.Store(true)
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = backoffBase
	b.Multiplier = 2
	b.MaxInterval = backoffCap
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0

	attempt := 0
	lastErr := error(nil)
	operation := func() error {
		if sv.shuttingDown.Load() {
			return nil
		}
		attempt++
		err := sv.runOnce(ctx, store, log)
		lastErr = err
		if err == nil {
			return nil
		}
		if sv.shuttingDown.Load() || !isRetriableConnectionError(err) {
			return backoff.Permanent(err)
		}
		log.Warn("sync attempt failed, retrying", "attempt", attempt, "error", err)
		return err
	}

	// WithMaxRetries bounds total attempts to 1 (the initial call) + N
	// retries, so maxRetries-1 retries caps the run at maxRetries attempts
	// total, matching the original's "for attempt in range(max_retries)".
	err := backoff.Retry(operation, backoff.WithMaxRetries(b, maxRetries-1))
	if err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	if lastErr != nil && !sv.shuttingDown.Load() {
		return fmt.Errorf("supervisor: max retries exceeded: %w", lastErr)
	}
	return nil
}

// runOnce is one connect/init/drain/persist attempt. It returns nil on a
// clean shutdown (ctx canceled or the shutdown flag observed) and a non-nil
// error for anything the caller's retry loop should classify and possibly
// retry. Teardown (stream close, final persist, client disconnect) always
// runs, regardless of how the loop exits.
func (sv *Supervisor) runOnce(ctx context.Context, store stateStore, log *slog.Logger) error {
	watchTargets := make([]state.WatchTarget, 0, len(sv.Targets))
	for _, spec := range sv.Targets {
		t, err := state.ParseWatchTarget(spec)
		if err != nil {
			log.Warn("skipping malformed watch target", "spec", spec, "error", err)
			continue
		}
		watchTargets = append(watchTargets, t)
	}

	connectCtx, cancel := context.WithTimeout(ctx, sourceConnectTimeout)
	src, err := connectAndPing(connectCtx, sv.SourceURI)
	cancel()
	if err != nil {
		return fmt.Errorf("connect source: %w", err)
	}
	defer func() { _ = src.Disconnect(context.Background()) }()

	connectCtx, cancel = context.WithTimeout(ctx, targetConnectTimeout)
	tgt, err := connectAndPing(connectCtx, sv.TargetURI)
	cancel()
	if err != nil {
		return fmt.Errorf("connect target: %w", err)
	}
	defer func() { _ = tgt.Disconnect(context.Background()) }()

	if err := store.InitCollections(watchTargets); err != nil {
		return fmt.Errorf("init collections: %w", err)
	}

	tokenStore, ok := store.(tokenSource)
	if !ok {
		return fmt.Errorf("state store does not expose resume tokens")
	}

	ap := apply.New(tgt, storeRecorder(store), log)

	defer func() {
		log.Info("persisting final state")
		if err := store.Persist(); err != nil {
			log.Error("final persist failed", "error", err)
		}
	}()

	open := func() (stream, error) {
		return changestream.Open(ctx, src, sv.Targets, mongo.Pipeline{}, changestream.Options{
			BatchSize:    watchBatchSize,
			MaxAwaitTime: watchMaxAwaitTime,
			FullDocument: options.UpdateLookup,
		}, tokenStore, log)
	}

	return sv.driveStreams(ctx, open, ap, store, log)
}

// driveStreams opens a stream, drains it, and reopens on invalidation using
// whatever tokens have been recorded so far. Invalidation is not a
// connection failure and does not count against the outer retry loop's
// max_retries budget -- it is handled entirely in this inner loop.
func (sv *Supervisor) driveStreams(ctx context.Context, open func() (stream, error), ap applier, store stateStore, log *slog.Logger) error {
	for {
		if ctx.Err() != nil || sv.shuttingDown.Load() {
			return nil
		}

		st, err := open()
		if err != nil {
			return fmt.Errorf("open change streams: %w", err)
		}

		err = sv.drain(ctx, st, ap, store, log)
		st.Close(context.Background())

		if err == nil {
			return nil
		}
		if errors.Is(err, errInvalidated) {
			log.Info("reopening change streams after invalidation")
			continue
		}
		return err
	}
}

// tokenSource narrows stateStore down to what changestream.Open needs.
type tokenSource interface {
	GetResumeToken(target state.WatchTarget) state.Token
}

// recorder narrows stateStore down to what apply.New needs.
type recorder interface {
	RecordOperation(kind state.OperationKind)
}

func storeRecorder(store stateStore) recorder {
	return store.(recorder)
}

// drain runs the main loop: poll, apply, advance tokens, flush on idle,
// periodic status. It returns nil when the shutdown flag (or ctx
// cancellation) is observed, and errInvalidated when the applier reports a
// stream invalidation; driveStreams reopens the streams on that error
// without involving the outer retry loop.
func (sv *Supervisor) drain(ctx context.Context, st stream, ap applier, store stateStore, log *slog.Logger) error {
	var synced int
	lastStatus := time.Now()

	for {
		if ctx.Err() != nil || sv.shuttingDown.Load() {
			return nil
		}

		target, ev := st.TryNext(ctx)
		if ev == nil {
			if err := store.FlushIfPending(); err != nil {
				log.Error("flush failed", "error", err)
			}
			time.Sleep(idlePollDelay)
			continue
		}

		log.Info("applying change event", "op", ev.OperationType, "ns", target.String())

		cont, err := ap.Apply(ctx, *ev)
		if err != nil {
			log.Error("apply failed", "ns", target.String(), "error", err)
		}
		if !cont {
			log.Warn("change stream invalidated, reopening", "ns", target.String())
			return errInvalidated
		}

		token := state.Token(ev.ID.Document())
		if err := store.UpdateResumeToken(target, token, sv.PersistInterval); err != nil {
			log.Error("update resume token failed", "ns", target.String(), "error", err)
		}

		synced++
		if time.Since(lastStatus) > statusLogInterval {
			stats := store.Stats()
			log.Info("sync status",
				"synced_this_attempt", synced,
				"total_synced", stats.TotalSynced,
				"inserts", stats.Inserts,
				"updates", stats.Updates,
				"deletes", stats.Deletes,
				"errors", stats.Errors,
				"last_token", tokenLabel(token))
			lastStatus = time.Now()
		}
	}
}

// errInvalidated signals that the change stream was invalidated; driveStreams
// reopens it in place rather than surfacing it to the outer retry loop.
var errInvalidated = errors.New("supervisor: change stream invalidated")

func tokenLabel(t state.Token) string {
	raw := bson.Raw(t)
	if len(raw) == 0 {
		return ""
	}
	data, ok := raw.Lookup("_data").StringValueOK()
	if !ok || len(data) < 12 {
		return data
	}
	return data[:12]
}

func connectAndPing(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

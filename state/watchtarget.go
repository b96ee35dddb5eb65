package state

import (
	"fmt"
	"strings"
)

// WatchTarget is a fully-qualified collection reference the engine watches.
// The set of watch targets is fixed for the lifetime of a supervisor run.
type WatchTarget struct {
	Database   string
	Collection string
}

// String renders the canonical "database.collection" form used as the
// state file's resume_tokens map key.
func (t WatchTarget) String() string {
	return t.Database + "." + t.Collection
}

// ParseWatchTarget splits a "db.coll" spec into its parts. The collection
// name is everything after the first dot, so dotted collection names
// ("system.buckets") round-trip correctly.
func ParseWatchTarget(spec string) (WatchTarget, error) {
	i := strings.Index(spec, ".")
	if i <= 0 || i == len(spec)-1 {
		return WatchTarget{}, fmt.Errorf("state: malformed watch target %q, want \"db.coll\"", spec)
	}
	return WatchTarget{Database: spec[:i], Collection: spec[i+1:]}, nil
}

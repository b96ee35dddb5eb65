package changestream

import "go.mongodb.org/mongo-driver/v2/bson"

// Namespace is the source (db, coll) pair a change event occurred on.
type Namespace struct {
	DB   string `bson:"db"`
	Coll string `bson:"coll"`
}

// Event is the subset of a MongoDB change-stream document the engine
// consumes. FullDocument is nil when the server didn't attach a post-image
// (no update-lookup, or the document was deleted before lookup ran).
type Event struct {
	ID            bson.RawValue `bson:"_id"`
	OperationType string        `bson:"operationType"`
	Ns            Namespace     `bson:"ns"`
	DocumentKey   bson.D        `bson:"documentKey"`
	FullDocument  bson.D        `bson:"fullDocument"`
}

// Operation type constants, per the change-stream wire protocol.
const (
	OpInsert       = "insert"
	OpUpdate       = "update"
	OpReplace      = "replace"
	OpDelete       = "delete"
	OpDrop         = "drop"
	OpDropDatabase = "dropDatabase"
	OpInvalidate   = "invalidate"
)

package state

import (
	"bytes"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Token is an opaque resume token produced by the source change feed. The
// engine never inspects its fields; it is carried verbatim from the driver
// into the state file and back out again as the resume_after option on the
// next watch.
type Token bson.Raw

// MarshalJSON renders the token using MongoDB's extended JSON so the state
// file stays a single parseable JSON document instead of an opaque blob.
func (t Token) MarshalJSON() ([]byte, error) {
	if len(t) == 0 {
		return []byte("null"), nil
	}
	return bson.MarshalExtJSON(bson.Raw(t), false, false)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (t *Token) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*t = nil
		return nil
	}
	var raw bson.Raw
	if err := bson.UnmarshalExtJSON(data, false, &raw); err != nil {
		return err
	}
	*t = Token(raw)
	return nil
}

// IsZero reports whether the token is absent ("start from current position").
func (t Token) IsZero() bool {
	return len(t) == 0
}

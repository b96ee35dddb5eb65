package apply

import "go.mongodb.org/mongo-driver/v2/bson"

// documentID extracts the affected document's identity from a change
// event, in the order: documentKey["_id"], documentKey[""] (some source
// variants emit the key name empty), fullDocument["_id"], then the first
// value in documentKey's iteration order as a last resort.
func documentID(documentKey, fullDocument bson.D) (any, bool) {
	if v, ok := lookup(documentKey, "_id"); ok {
		return v, true
	}
	if v, ok := lookup(documentKey, ""); ok {
		return v, true
	}
	if fullDocument != nil {
		if v, ok := lookup(fullDocument, "_id"); ok {
			return v, true
		}
	}
	if len(documentKey) > 0 {
		return documentKey[0].Value, true
	}
	return nil, false
}

func lookup(d bson.D, key string) (any, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// stripID returns a copy of doc with its _id field removed, so a replace
// body doesn't try to overwrite the (immutable) _id of an existing target
// document.
func stripID(doc bson.D) bson.D {
	out := make(bson.D, 0, len(doc))
	for _, e := range doc {
		if e.Key == "_id" {
			continue
		}
		out = append(out, e)
	}
	return out
}

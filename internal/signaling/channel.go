// Package signaling abstracts the real-time document store that carries call
// and chat signaling. Paths use the Firestore convention: collections and
// documents alternate, so "calls/abc" is a document and
// "calls/abc/offerCandidates" is a collection.
package signaling

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when a document does not exist
var ErrNotFound = errors.New("signaling: document not found")

// ChangeKind describes how a document moved in or out of a query result
type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// Change is one entry delivered to a collection subscription
type Change struct {
	Kind ChangeKind
	Doc  *Document
}

// Query selects documents of one collection, optionally filtered by an
// equality match on a dotted field path.
type Query struct {
	Collection string
	Field      string
	Value      any
}

// Where returns a copy of q filtered to Field == value
func (q Query) Where(field string, value any) Query {
	q.Field = field
	q.Value = value
	return q
}

// Collection starts a query over every document in path
func Collection(path string) Query {
	return Query{Collection: path}
}

// Unsubscribe stops a subscription. It is safe to call more than once.
type Unsubscribe func()

// Channel is a document store with live subscriptions.
//
// Publish merges fields into a document, creating it when missing. Append
// adds a document with a store-generated id to a collection. Subscribe
// delivers the current result set as Added changes, then every later change,
// in order, on a goroutine owned by the channel.
type Channel interface {
	NewID(collection string) string
	Get(ctx context.Context, path string) (*Document, error)
	Publish(ctx context.Context, path string, data map[string]any) error
	// Claim merges data into an existing document only when field is absent.
	// It reports false when another writer set field first, and ErrNotFound
	// when the document does not exist.
	Claim(ctx context.Context, path, field string, data map[string]any) (bool, error)
	Append(ctx context.Context, collection string, data map[string]any) (string, error)
	// Delete removes a document and every document beneath it. Deleting a
	// missing document succeeds.
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, q Query) ([]*Document, error)
	Subscribe(ctx context.Context, q Query, fn func(Change)) (Unsubscribe, error)
	// SubscribeDoc delivers the current state of one document and every
	// later state. A deleted or missing document arrives with Exists false.
	SubscribeDoc(ctx context.Context, path string, fn func(*Document)) (Unsubscribe, error)
}

// Join builds a store path from segments
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Split returns the parent collection path and id of a document path
func Split(docPath string) (collection, id string) {
	i := strings.LastIndex(docPath, "/")
	if i < 0 {
		return "", docPath
	}
	return docPath[:i], docPath[i+1:]
}

// IsDocumentPath reports whether path names a document rather than a collection
func IsDocumentPath(path string) bool {
	if path == "" {
		return false
	}
	return strings.Count(path, "/")%2 == 1
}

// ServerTimestamp is replaced by the store's clock when written
var ServerTimestamp = serverTimestamp{}

type serverTimestamp struct{}

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

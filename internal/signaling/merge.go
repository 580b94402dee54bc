package signaling

import (
	"reflect"
	"time"
)

// Copy deep-copies a document body so callers never share maps with a store
func Copy(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if m, ok := v.(map[string]any); ok {
			out[k] = Copy(m)
			continue
		}
		out[k] = v
	}
	return out
}

// Merge applies patch onto dst field by field, descending into nested maps
// the way a Firestore MergeAll write does. dst is modified and returned.
func Merge(dst, patch map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		pm, patchIsMap := v.(map[string]any)
		dm, dstIsMap := dst[k].(map[string]any)
		if patchIsMap && dstIsMap {
			dst[k] = Merge(dm, pm)
			continue
		}
		if patchIsMap {
			dst[k] = Copy(pm)
			continue
		}
		dst[k] = v
	}
	return dst
}

// ResolveTimestamps replaces every ServerTimestamp sentinel in data with now
func ResolveTimestamps(data map[string]any, now time.Time) map[string]any {
	for k, v := range data {
		switch t := v.(type) {
		case serverTimestamp:
			data[k] = now
		case map[string]any:
			ResolveTimestamps(t, now)
		}
	}
	return data
}

// Matches reports whether doc belongs to the result set of q
func Matches(q Query, doc *Document) bool {
	if doc == nil || !doc.Exists {
		return false
	}
	if collection, _ := Split(doc.Path); collection != q.Collection {
		return false
	}
	if q.Field == "" {
		return true
	}
	v, ok := doc.Lookup(q.Field)
	if !ok {
		return false
	}
	return equalValues(v, q.Value)
}

func equalValues(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Tracker turns raw document writes into query changes. Stores without
// native query listeners keep one per subscription so that a document
// entering the filter is Added, one leaving it is Removed and one staying
// in it is Modified.
type Tracker struct {
	q       Query
	members map[string]bool
}

// NewTracker creates a Tracker for q
func NewTracker(q Query) *Tracker {
	return &Tracker{q: q, members: make(map[string]bool)}
}

// Observe feeds the latest state of a document. It returns the change to
// deliver, if any.
func (t *Tracker) Observe(doc *Document) (Change, bool) {
	was := t.members[doc.Path]
	is := Matches(t.q, doc)
	switch {
	case is && !was:
		t.members[doc.Path] = true
		return Change{Kind: Added, Doc: doc}, true
	case is && was:
		return Change{Kind: Modified, Doc: doc}, true
	case !is && was:
		delete(t.members, doc.Path)
		return Change{Kind: Removed, Doc: doc}, true
	}
	return Change{}, false
}

// Drop reports the deletion of a document. last carries the final stored
// body so Removed changes can still be routed by their fields.
func (t *Tracker) Drop(last *Document) (Change, bool) {
	if !t.members[last.Path] {
		return Change{}, false
	}
	delete(t.members, last.Path)
	return Change{Kind: Removed, Doc: last}, true
}

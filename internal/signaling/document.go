package signaling

import (
	"strings"
	"time"
)

// Document is a snapshot of one stored document
type Document struct {
	ID     string
	Path   string
	Exists bool
	Data   map[string]any
}

// NewDocument builds an existing document snapshot for path
func NewDocument(path string, data map[string]any) *Document {
	_, id := Split(path)
	return &Document{ID: id, Path: path, Exists: true, Data: data}
}

// Missing builds a snapshot for a document that does not exist
func Missing(path string) *Document {
	_, id := Split(path)
	return &Document{ID: id, Path: path}
}

// Lookup resolves a dotted field path such as "offer.targetUserId"
func (d *Document) Lookup(field string) (any, bool) {
	if d == nil || d.Data == nil {
		return nil, false
	}
	return Lookup(d.Data, field)
}

// Has reports whether field is present and not null
func (d *Document) Has(field string) bool {
	v, ok := d.Lookup(field)
	return ok && v != nil
}

// String returns a string field, or "" when absent or of another type
func (d *Document) String(field string) string {
	v, _ := d.Lookup(field)
	s, _ := v.(string)
	return s
}

// Map returns a nested map field
func (d *Document) Map(field string) map[string]any {
	v, _ := d.Lookup(field)
	m, _ := v.(map[string]any)
	return m
}

// Time returns a timestamp field. Backends hand timestamps back as
// time.Time, RFC 3339 strings or epoch milliseconds; all three are accepted.
func (d *Document) Time(field string) (time.Time, bool) {
	v, ok := d.Lookup(field)
	if !ok {
		return time.Time{}, false
	}
	return AsTime(v)
}

// Lookup resolves a dotted field path inside data
func Lookup(data map[string]any, field string) (any, bool) {
	cur := any(data)
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// AsTime converts a stored timestamp value
func AsTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, !t.IsZero()
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	case int64:
		return time.UnixMilli(t), true
	case float64:
		return time.UnixMilli(int64(t)), true
	}
	return time.Time{}, false
}

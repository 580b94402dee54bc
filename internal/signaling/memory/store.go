// Package memory is an in-process signaling channel. It backs single-node
// deployments and every signaling test.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lexhub-backend/internal/signaling"
)

// Store is an in-memory signaling.Channel
type Store struct {
	mu   sync.Mutex
	docs map[string]*entry
	seq  uint64
	subs map[*subscription]struct{}
	now  func() time.Time

	// WriteHook, when set, runs before every write and can fail it.
	WriteHook func(op, path string) error
}

type entry struct {
	seq  uint64
	data map[string]any
}

type subscription struct {
	query    *signaling.Query
	docPath  string
	tracker  *signaling.Tracker
	onChange func(signaling.Change)
	onDoc    func(*signaling.Document)
	disp     *signaling.Dispatcher
}

// New creates an empty store
func New() *Store {
	return &Store{
		docs: make(map[string]*entry),
		subs: make(map[*subscription]struct{}),
		now:  time.Now,
	}
}

// SetClock replaces the clock used for server timestamps
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// NewID implements signaling.Channel
func (s *Store) NewID(string) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

// Get implements signaling.Channel
func (s *Store) Get(_ context.Context, path string) (*signaling.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.docs[path]
	if !ok {
		return nil, signaling.ErrNotFound
	}
	return signaling.NewDocument(path, signaling.Copy(e.data)), nil
}

// Publish implements signaling.Channel
func (s *Store) Publish(_ context.Context, path string, data map[string]any) error {
	if err := s.hook("publish", path); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mergeLocked(path, data)
	return nil
}

// Claim implements signaling.Channel
func (s *Store) Claim(_ context.Context, path, field string, data map[string]any) (bool, error) {
	if err := s.hook("claim", path); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.docs[path]
	if !ok {
		return false, signaling.ErrNotFound
	}
	if v, present := signaling.Lookup(e.data, field); present && v != nil {
		return false, nil
	}
	s.mergeLocked(path, data)
	return true, nil
}

// Append implements signaling.Channel
func (s *Store) Append(_ context.Context, collection string, data map[string]any) (string, error) {
	if err := s.hook("append", collection); err != nil {
		return "", err
	}
	id := s.NewID(collection)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mergeLocked(signaling.Join(collection, id), data)
	return id, nil
}

// Delete implements signaling.Channel
func (s *Store) Delete(_ context.Context, path string) error {
	if err := s.hook("delete", path); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var doomed []string
	for p := range s.docs {
		if p == path || strings.HasPrefix(p, path+"/") {
			doomed = append(doomed, p)
		}
	}
	// children before their parent
	sort.Slice(doomed, func(i, j int) bool { return len(doomed[i]) > len(doomed[j]) })
	for _, p := range doomed {
		last := s.docs[p]
		delete(s.docs, p)
		s.notifyLocked(p, last.data, nil)
	}
	return nil
}

// List implements signaling.Channel
func (s *Store) List(_ context.Context, q signaling.Query) ([]*signaling.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryLocked(q), nil
}

// Subscribe implements signaling.Channel
func (s *Store) Subscribe(ctx context.Context, q signaling.Query, fn func(signaling.Change)) (signaling.Unsubscribe, error) {
	sub := &subscription{
		query:    &q,
		tracker:  signaling.NewTracker(q),
		onChange: fn,
		disp:     signaling.NewDispatcher(),
	}

	s.mu.Lock()
	for _, doc := range s.queryLocked(q) {
		if change, ok := sub.tracker.Observe(doc); ok {
			sub.disp.Submit(func() { fn(change) })
		}
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	return s.track(ctx, sub), nil
}

// SubscribeDoc implements signaling.Channel
func (s *Store) SubscribeDoc(ctx context.Context, path string, fn func(*signaling.Document)) (signaling.Unsubscribe, error) {
	sub := &subscription{
		docPath: path,
		onDoc:   fn,
		disp:    signaling.NewDispatcher(),
	}

	s.mu.Lock()
	initial := signaling.Missing(path)
	if e, ok := s.docs[path]; ok {
		initial = signaling.NewDocument(path, signaling.Copy(e.data))
	}
	sub.disp.Submit(func() { fn(initial) })
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	return s.track(ctx, sub), nil
}

// Subscribers returns the number of live subscriptions
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Len returns the number of stored documents
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

func (s *Store) track(ctx context.Context, sub *subscription) signaling.Unsubscribe {
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, sub)
			s.mu.Unlock()
			sub.disp.Stop()
		})
	}
	stop := context.AfterFunc(ctx, unsubscribe)
	return func() {
		stop()
		unsubscribe()
	}
}

func (s *Store) hook(op, path string) error {
	s.mu.Lock()
	h := s.WriteHook
	s.mu.Unlock()
	if h == nil {
		return nil
	}
	return h(op, path)
}

func (s *Store) mergeLocked(path string, patch map[string]any) {
	patch = signaling.ResolveTimestamps(signaling.Copy(patch), s.now().UTC())
	e, ok := s.docs[path]
	var before map[string]any
	if ok {
		before = signaling.Copy(e.data)
		e.data = signaling.Merge(e.data, patch)
	} else {
		s.seq++
		e = &entry{seq: s.seq, data: signaling.Merge(nil, patch)}
		s.docs[path] = e
	}
	s.notifyLocked(path, before, e.data)
}

func (s *Store) notifyLocked(path string, before, after map[string]any) {
	for sub := range s.subs {
		switch {
		case sub.onDoc != nil:
			if sub.docPath != path {
				continue
			}
			snap := signaling.Missing(path)
			if after != nil {
				snap = signaling.NewDocument(path, signaling.Copy(after))
			}
			fn := sub.onDoc
			sub.disp.Submit(func() { fn(snap) })

		case sub.query != nil:
			var change signaling.Change
			var ok bool
			if after == nil {
				last := signaling.Missing(path)
				last.Data = signaling.Copy(before)
				change, ok = sub.tracker.Drop(last)
			} else {
				change, ok = sub.tracker.Observe(signaling.NewDocument(path, signaling.Copy(after)))
			}
			if ok {
				fn := sub.onChange
				sub.disp.Submit(func() { fn(change) })
			}
		}
	}
}

func (s *Store) queryLocked(q signaling.Query) []*signaling.Document {
	type hit struct {
		seq uint64
		doc *signaling.Document
	}
	var hits []hit
	for p, e := range s.docs {
		doc := signaling.NewDocument(p, e.data)
		if signaling.Matches(q, doc) {
			hits = append(hits, hit{seq: e.seq, doc: signaling.NewDocument(p, signaling.Copy(e.data))})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].seq < hits[j].seq })
	docs := make([]*signaling.Document, len(hits))
	for i, h := range hits {
		docs[i] = h.doc
	}
	return docs
}

var _ signaling.Channel = (*Store)(nil)

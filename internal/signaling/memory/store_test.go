package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexhub-backend/internal/signaling"
)

type recorder struct {
	mu      sync.Mutex
	changes []signaling.Change
}

func (r *recorder) add(c signaling.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) snapshot() []signaling.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]signaling.Change(nil), r.changes...)
}

func (r *recorder) len() int {
	return len(r.snapshot())
}

func TestStore_PublishGetMerge(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Publish(ctx, "calls/c1", map[string]any{
		"status": "calling",
		"offer":  map[string]any{"sdp": "o", "type": "offer"},
	}))
	require.NoError(t, s.Publish(ctx, "calls/c1", map[string]any{
		"status": "connected",
		"answer": map[string]any{"sdp": "a", "type": "answer"},
	}))

	doc, err := s.Get(ctx, "calls/c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", doc.ID)
	assert.Equal(t, "connected", doc.String("status"))
	assert.Equal(t, "o", doc.String("offer.sdp"))
	assert.Equal(t, "a", doc.String("answer.sdp"))

	_, err = s.Get(ctx, "calls/missing")
	assert.ErrorIs(t, err, signaling.ErrNotFound)
}

func TestStore_ServerTimestampUsesClock(t *testing.T) {
	ctx := context.Background()
	s := New()
	fixed := time.Date(2026, 7, 1, 9, 30, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return fixed })

	require.NoError(t, s.Publish(ctx, "calls/c1", map[string]any{
		"offer": map[string]any{"createdAt": signaling.ServerTimestamp},
	}))

	doc, err := s.Get(ctx, "calls/c1")
	require.NoError(t, err)
	ts, ok := doc.Time("offer.createdAt")
	require.True(t, ok)
	assert.Equal(t, fixed, ts)
}

func TestStore_Claim(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Publish(ctx, "calls/c1", map[string]any{"status": "calling"}))

	won, err := s.Claim(ctx, "calls/c1", "answer", map[string]any{"answer": map[string]any{"sdp": "first"}})
	require.NoError(t, err)
	assert.True(t, won)

	won, err = s.Claim(ctx, "calls/c1", "answer", map[string]any{"answer": map[string]any{"sdp": "second"}})
	require.NoError(t, err)
	assert.False(t, won)

	doc, _ := s.Get(ctx, "calls/c1")
	assert.Equal(t, "first", doc.String("answer.sdp"))

	_, err = s.Claim(ctx, "calls/none", "answer", map[string]any{})
	assert.ErrorIs(t, err, signaling.ErrNotFound)
}

func TestStore_ClaimConcurrent(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Publish(ctx, "calls/c1", map[string]any{"status": "calling"}))

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := s.Claim(ctx, "calls/c1", "answer", map[string]any{"answer": map[string]any{"sdp": "x"}})
			if err == nil && won {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestStore_DeleteCascadesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Publish(ctx, "calls/c1", map[string]any{"status": "calling"}))
	_, err := s.Append(ctx, "calls/c1/offerCandidates", map[string]any{"candidate": "a"})
	require.NoError(t, err)
	_, err = s.Append(ctx, "calls/c1/answerCandidates", map[string]any{"candidate": "b"})
	require.NoError(t, err)
	require.NoError(t, s.Publish(ctx, "calls/c10", map[string]any{"status": "calling"}))

	require.NoError(t, s.Delete(ctx, "calls/c1"))
	require.NoError(t, s.Delete(ctx, "calls/c1"))

	assert.Equal(t, 1, s.Len())
	_, err = s.Get(ctx, "calls/c10")
	assert.NoError(t, err)
}

func TestStore_ListInInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	var ids []string
	for i := 0; i < 5; i++ {
		id, err := s.Append(ctx, "chatSessions/s1/messages", map[string]any{"n": i})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	docs, err := s.List(ctx, signaling.Collection("chatSessions/s1/messages"))
	require.NoError(t, err)
	require.Len(t, docs, 5)
	for i, d := range docs {
		assert.Equal(t, ids[i], d.ID)
	}
}

func TestStore_SubscribeInitialAndLive(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Publish(ctx, "calls/old", map[string]any{"offer": map[string]any{"targetUserId": "b"}}))
	require.NoError(t, s.Publish(ctx, "calls/other", map[string]any{"offer": map[string]any{"targetUserId": "z"}}))

	rec := &recorder{}
	unsub, err := s.Subscribe(ctx, signaling.Collection("calls").Where("offer.targetUserId", "b"), rec.add)
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, s.Publish(ctx, "calls/new", map[string]any{"offer": map[string]any{"targetUserId": "b"}}))
	require.NoError(t, s.Publish(ctx, "calls/new", map[string]any{"answer": map[string]any{"sdp": "x"}}))
	require.NoError(t, s.Delete(ctx, "calls/new"))

	require.Eventually(t, func() bool { return rec.len() == 4 }, time.Second, 5*time.Millisecond)
	got := rec.snapshot()
	assert.Equal(t, signaling.Added, got[0].Kind)
	assert.Equal(t, "old", got[0].Doc.ID)
	assert.Equal(t, signaling.Added, got[1].Kind)
	assert.Equal(t, "new", got[1].Doc.ID)
	assert.Equal(t, signaling.Modified, got[2].Kind)
	assert.Equal(t, signaling.Removed, got[3].Kind)
	assert.Equal(t, "b", got[3].Doc.String("offer.targetUserId"))
}

func TestStore_UnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	s := New()
	rec := &recorder{}

	unsub, err := s.Subscribe(ctx, signaling.Collection("calls"), rec.add)
	require.NoError(t, err)
	unsub()
	unsub()

	require.NoError(t, s.Publish(ctx, "calls/c1", map[string]any{"status": "calling"}))
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 0, rec.len())
	assert.Equal(t, 0, s.Subscribers())
}

func TestStore_ContextCancelUnsubscribes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New()

	_, err := s.SubscribeDoc(ctx, "calls/c1", func(*signaling.Document) {})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Subscribers())

	cancel()
	assert.Eventually(t, func() bool { return s.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStore_SubscribeDoc(t *testing.T) {
	ctx := context.Background()
	s := New()

	var mu sync.Mutex
	var states []bool
	unsub, err := s.SubscribeDoc(ctx, "calls/c1", func(d *signaling.Document) {
		mu.Lock()
		states = append(states, d.Exists)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, s.Publish(ctx, "calls/c1", map[string]any{"status": "calling"}))
	_, err = s.Append(ctx, "calls/c1/offerCandidates", map[string]any{"candidate": "x"})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "calls/c1"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 3
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []bool{false, true, false}, states)
	mu.Unlock()
}

func TestStore_WriteHook(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("unavailable")
	s.WriteHook = func(op, path string) error {
		if op == "append" {
			return boom
		}
		return nil
	}

	_, err := s.Append(ctx, "calls/c1/offerCandidates", map[string]any{})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, s.Publish(ctx, "calls/c1", map[string]any{}))
}

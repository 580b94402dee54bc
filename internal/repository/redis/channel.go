package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lexhub-backend/internal/database"
	"lexhub-backend/internal/signaling"
	"lexhub-backend/pkg/logger"
)

// Key layout of the self-hosted signaling channel:
//
//	sig:doc:{path}        JSON body of one document
//	sig:col:{collection}  ZSET of document ids scored by creation sequence
//	sig:sub:{path}        SET of subcollection paths under a document
//	sig:ev:{collection}   pub/sub channel carrying every write to the collection
const (
	seqKey        = "sig:seq"
	maxTxAttempts = 8
)

func docKey(path string) string       { return "sig:doc:" + path }
func colKey(collection string) string { return "sig:col:" + collection }
func subsKey(docPath string) string   { return "sig:sub:" + docPath }
func eventChannel(coll string) string { return "sig:ev:" + coll }

type eventKind string

const (
	eventSet    eventKind = "set"
	eventDelete eventKind = "delete"
)

// event is the pub/sub payload. Deletes carry the last body so query
// subscribers can still route the removal.
type event struct {
	Kind eventKind      `json:"kind"`
	Path string         `json:"path"`
	Data map[string]any `json:"data,omitempty"`
}

// Channel is a signaling.Channel on Redis: documents live in keys and every
// write is fanned out over pub/sub
type Channel struct {
	rdb *redis.Client
	now func() time.Time
	log *zap.Logger
}

// NewChannel creates a Redis signaling channel
func NewChannel(client *database.RedisClient) *Channel {
	return &Channel{rdb: client.Client, now: time.Now, log: logger.Named("redis-signaling")}
}

// NewID returns a 20 character id in the style of Firestore auto-ids
func (c *Channel) NewID(string) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

// Get reads one document
func (c *Channel) Get(ctx context.Context, path string) (*signaling.Document, error) {
	raw, err := c.rdb.Get(ctx, docKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, signaling.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", path, err)
	}
	data, err := decodeBody(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return signaling.NewDocument(path, data), nil
}

// Publish merges data into the document at path
func (c *Channel) Publish(ctx context.Context, path string, data map[string]any) error {
	_, err := c.update(ctx, path, func(current map[string]any, exists bool) (map[string]any, bool, error) {
		return signaling.Merge(current, data), true, nil
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Claim merges data under WATCH only while field is unset
func (c *Channel) Claim(ctx context.Context, path, field string, data map[string]any) (bool, error) {
	won, err := c.update(ctx, path, func(current map[string]any, exists bool) (map[string]any, bool, error) {
		if !exists {
			return nil, false, signaling.ErrNotFound
		}
		if v, ok := signaling.Lookup(current, field); ok && v != nil {
			return nil, false, nil
		}
		return signaling.Merge(current, data), true, nil
	})
	if errors.Is(err, signaling.ErrNotFound) {
		return false, err
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim %s on %s: %w", field, path, err)
	}
	return won, nil
}

// Append adds a document with a generated id to collection
func (c *Channel) Append(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := c.NewID(collection)
	if err := c.Publish(ctx, signaling.Join(collection, id), data); err != nil {
		return "", err
	}
	return id, nil
}

// update runs an optimistic read-modify-write of one document. mutate returns
// the new body and whether to write it.
func (c *Channel) update(ctx context.Context, path string, mutate func(map[string]any, bool) (map[string]any, bool, error)) (bool, error) {
	collection, id := signaling.Split(path)
	seq, err := c.rdb.Incr(ctx, seqKey).Result()
	if err != nil {
		return false, err
	}

	wrote := false
	txf := func(tx *redis.Tx) error {
		wrote = false
		raw, err := tx.Get(ctx, docKey(path)).Bytes()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists = false
		} else if err != nil {
			return err
		}

		var current map[string]any
		if exists {
			if current, err = decodeBody(raw); err != nil {
				return err
			}
		}

		next, write, err := mutate(current, exists)
		if err != nil || !write {
			return err
		}
		next = signaling.ResolveTimestamps(next, c.now().UTC())
		body, err := json.Marshal(next)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(event{Kind: eventSet, Path: path, Data: next})
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, docKey(path), body, 0)
			pipe.ZAddNX(ctx, colKey(collection), redis.Z{Score: float64(seq), Member: id})
			if i := strings.LastIndex(collection, "/"); i > 0 {
				pipe.SAdd(ctx, subsKey(collection[:i]), collection)
			}
			pipe.Publish(ctx, eventChannel(collection), payload)
			return nil
		})
		if err == nil {
			wrote = true
		}
		return err
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = c.rdb.Watch(ctx, txf, docKey(path))
		if !errors.Is(err, redis.TxFailedErr) {
			return wrote, err
		}
	}
	return false, fmt.Errorf("too much contention on %s", path)
}

// Delete removes the document and everything beneath it
func (c *Channel) Delete(ctx context.Context, path string) error {
	paths, err := c.descendants(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", path, err)
	}
	paths = append(paths, path)

	for _, p := range paths {
		if err := c.deleteOne(ctx, p); err != nil {
			return fmt.Errorf("failed to delete %s: %w", p, err)
		}
	}
	return nil
}

// descendants lists every document below path, deepest first
func (c *Channel) descendants(ctx context.Context, path string) ([]string, error) {
	cols, err := c.rdb.SMembers(ctx, subsKey(path)).Result()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, col := range cols {
		ids, err := c.rdb.ZRange(ctx, colKey(col), 0, -1).Result()
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			child := signaling.Join(col, id)
			below, err := c.descendants(ctx, child)
			if err != nil {
				return nil, err
			}
			out = append(out, below...)
			out = append(out, child)
		}
	}
	return out, nil
}

func (c *Channel) deleteOne(ctx context.Context, path string) error {
	collection, id := signaling.Split(path)
	raw, err := c.rdb.Get(ctx, docKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	last, _ := decodeBody(raw)
	payload, err := json.Marshal(event{Kind: eventDelete, Path: path, Data: last})
	if err != nil {
		return err
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, docKey(path), subsKey(path))
		pipe.ZRem(ctx, colKey(collection), id)
		pipe.Publish(ctx, eventChannel(collection), payload)
		return nil
	})
	return err
}

// List runs q once, in creation order
func (c *Channel) List(ctx context.Context, q signaling.Query) ([]*signaling.Document, error) {
	ids, err := c.rdb.ZRange(ctx, colKey(q.Collection), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", q.Collection, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = docKey(signaling.Join(q.Collection, id))
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", q.Collection, err)
	}

	var docs []*signaling.Document
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		data, err := decodeBody([]byte(s))
		if err != nil {
			c.log.Warn("Skipping undecodable document", zap.String("id", ids[i]), zap.Error(err))
			continue
		}
		doc := signaling.NewDocument(signaling.Join(q.Collection, ids[i]), data)
		if signaling.Matches(q, doc) {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// Subscribe listens on the collection's event channel and filters locally
func (c *Channel) Subscribe(ctx context.Context, q signaling.Query, fn func(signaling.Change)) (signaling.Unsubscribe, error) {
	ps, err := c.listen(ctx, q.Collection)
	if err != nil {
		return nil, err
	}

	initial, err := c.List(ctx, q)
	if err != nil {
		ps.Close()
		return nil, err
	}

	tracker := signaling.NewTracker(q)
	disp := signaling.NewDispatcher()
	for _, doc := range initial {
		if change, ok := tracker.Observe(doc); ok {
			disp.Submit(func() { fn(change) })
		}
	}

	return c.pump(ctx, ps, disp, func(ev event) {
		var change signaling.Change
		var ok bool
		if ev.Kind == eventDelete {
			last := signaling.Missing(ev.Path)
			last.Data = ev.Data
			change, ok = tracker.Drop(last)
		} else {
			change, ok = tracker.Observe(signaling.NewDocument(ev.Path, ev.Data))
		}
		if ok {
			disp.Submit(func() { fn(change) })
		}
	}), nil
}

// SubscribeDoc follows one document through its collection's event channel
func (c *Channel) SubscribeDoc(ctx context.Context, path string, fn func(*signaling.Document)) (signaling.Unsubscribe, error) {
	collection, _ := signaling.Split(path)
	ps, err := c.listen(ctx, collection)
	if err != nil {
		return nil, err
	}

	initial, err := c.Get(ctx, path)
	if errors.Is(err, signaling.ErrNotFound) {
		initial, err = signaling.Missing(path), nil
	}
	if err != nil {
		ps.Close()
		return nil, err
	}

	disp := signaling.NewDispatcher()
	disp.Submit(func() { fn(initial) })

	return c.pump(ctx, ps, disp, func(ev event) {
		if ev.Path != path {
			return
		}
		doc := signaling.Missing(path)
		if ev.Kind == eventSet {
			doc = signaling.NewDocument(path, ev.Data)
		}
		disp.Submit(func() { fn(doc) })
	}), nil
}

func (c *Channel) listen(ctx context.Context, collection string) (*redis.PubSub, error) {
	ps := c.rdb.Subscribe(ctx, eventChannel(collection))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", collection, err)
	}
	return ps, nil
}

func (c *Channel) pump(ctx context.Context, ps *redis.PubSub, disp *signaling.Dispatcher, handle func(event)) signaling.Unsubscribe {
	ctx, cancel := context.WithCancel(ctx)
	msgs := ps.Channel()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					c.log.Warn("Dropping malformed signaling event", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				handle(ev)
			}
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			disp.Stop()
			cancel()
			if err := ps.Close(); err != nil {
				c.log.Debug("Failed to close subscription", zap.Error(err))
			}
		})
	}
	context.AfterFunc(ctx, unsubscribe)
	return unsubscribe
}

func decodeBody(raw []byte) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

var _ signaling.Channel = (*Channel)(nil)

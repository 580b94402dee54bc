// Package firestore implements the signaling channel on Cloud Firestore, the
// store the web and mobile support-hub clients talk to directly.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"lexhub-backend/internal/signaling"
	"lexhub-backend/pkg/logger"
)

// Channel is a signaling.Channel backed by Firestore
type Channel struct {
	client *firestore.Client
	log    *zap.Logger
}

// NewChannel wraps a Firestore client
func NewChannel(client *firestore.Client) *Channel {
	return &Channel{client: client, log: logger.Named("firestore")}
}

// Close releases the underlying client
func (c *Channel) Close() error {
	return c.client.Close()
}

// NewID allocates a Firestore auto-id without writing
func (c *Channel) NewID(collection string) string {
	return c.client.Collection(collection).NewDoc().ID
}

// Get reads one document
func (c *Channel) Get(ctx context.Context, path string) (*signaling.Document, error) {
	snap, err := c.client.Doc(path).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, signaling.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", path, err)
	}
	return toDocument(snap), nil
}

// Publish merges data into the document at path
func (c *Channel) Publish(ctx context.Context, path string, data map[string]any) error {
	if _, err := c.client.Doc(path).Set(ctx, toFirestore(data), firestore.MergeAll); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Claim merges data inside a transaction only while field is unset
func (c *Channel) Claim(ctx context.Context, path, field string, data map[string]any) (bool, error) {
	ref := c.client.Doc(path)
	won := false
	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		won = false
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		if toDocument(snap).Has(field) {
			return nil
		}
		won = true
		return tx.Set(ref, toFirestore(data), firestore.MergeAll)
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, signaling.ErrNotFound
		}
		return false, fmt.Errorf("failed to claim %s on %s: %w", field, path, err)
	}
	return won, nil
}

// Append adds a document with an auto-id to collection
func (c *Channel) Append(ctx context.Context, collection string, data map[string]any) (string, error) {
	ref, _, err := c.client.Collection(collection).Add(ctx, toFirestore(data))
	if err != nil {
		return "", fmt.Errorf("failed to append to %s: %w", collection, err)
	}
	return ref.ID, nil
}

// Delete removes the document and, recursively, its subcollections.
// Firestore does not cascade on its own.
func (c *Channel) Delete(ctx context.Context, path string) error {
	return c.deleteRecursive(ctx, c.client.Doc(path))
}

func (c *Channel) deleteRecursive(ctx context.Context, ref *firestore.DocumentRef) error {
	cols := ref.Collections(ctx)
	for {
		col, err := cols.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to list subcollections of %s: %w", ref.Path, err)
		}
		docs, err := col.DocumentRefs(ctx).GetAll()
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", col.Path, err)
		}
		for _, child := range docs {
			if err := c.deleteRecursive(ctx, child); err != nil {
				return err
			}
		}
	}

	if _, err := ref.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete %s: %w", ref.Path, err)
	}
	return nil
}

// List runs q once
func (c *Channel) List(ctx context.Context, q signaling.Query) ([]*signaling.Document, error) {
	snaps, err := c.query(q).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.Collection, err)
	}
	docs := make([]*signaling.Document, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, toDocument(snap))
	}
	return docs, nil
}

// Subscribe attaches a Firestore snapshot listener to q
func (c *Channel) Subscribe(ctx context.Context, q signaling.Query, fn func(signaling.Change)) (signaling.Unsubscribe, error) {
	ctx, cancel := context.WithCancel(ctx)
	it := c.query(q).Snapshots(ctx)
	disp := signaling.NewDispatcher()

	go func() {
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				c.logIteratorEnd(ctx, q.Collection, err)
				return
			}
			for _, dc := range qs.Changes {
				change := signaling.Change{Kind: toKind(dc.Kind), Doc: toDocument(dc.Doc)}
				disp.Submit(func() { fn(change) })
			}
		}
	}()

	return stopper(cancel, disp), nil
}

// SubscribeDoc attaches a snapshot listener to one document
func (c *Channel) SubscribeDoc(ctx context.Context, path string, fn func(*signaling.Document)) (signaling.Unsubscribe, error) {
	ctx, cancel := context.WithCancel(ctx)
	it := c.client.Doc(path).Snapshots(ctx)
	disp := signaling.NewDispatcher()

	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				c.logIteratorEnd(ctx, path, err)
				return
			}
			doc := signaling.Missing(path)
			if snap.Exists() {
				doc = toDocument(snap)
			}
			disp.Submit(func() { fn(doc) })
		}
	}()

	return stopper(cancel, disp), nil
}

func (c *Channel) logIteratorEnd(ctx context.Context, target string, err error) {
	if errors.Is(err, iterator.Done) || ctx.Err() != nil || status.Code(err) == codes.Canceled {
		return
	}
	c.log.Warn("Snapshot listener ended", zap.String("target", target), zap.Error(err))
}

func (c *Channel) query(q signaling.Query) firestore.Query {
	query := c.client.Collection(q.Collection).Query
	if q.Field != "" {
		query = query.Where(q.Field, "==", q.Value)
	}
	return query
}

func stopper(cancel context.CancelFunc, disp *signaling.Dispatcher) signaling.Unsubscribe {
	var once sync.Once
	return func() {
		once.Do(func() {
			disp.Stop()
			cancel()
		})
	}
}

func toKind(k firestore.DocumentChangeKind) signaling.ChangeKind {
	switch k {
	case firestore.DocumentAdded:
		return signaling.Added
	case firestore.DocumentRemoved:
		return signaling.Removed
	}
	return signaling.Modified
}

func toDocument(snap *firestore.DocumentSnapshot) *signaling.Document {
	path := relativePath(snap.Ref.Path)
	if !snap.Exists() {
		return signaling.Missing(path)
	}
	return signaling.NewDocument(path, snap.Data())
}

// relativePath strips "projects/{p}/databases/{d}/documents/" from a full resource name
func relativePath(full string) string {
	if _, rel, ok := strings.Cut(full, "/documents/"); ok {
		return rel
	}
	return full
}

func toFirestore(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch t := v.(type) {
		case map[string]any:
			out[k] = toFirestore(t)
		default:
			if signaling.IsServerTimestamp(v) {
				out[k] = firestore.ServerTimestamp
				continue
			}
			out[k] = v
		}
	}
	return out
}

var _ signaling.Channel = (*Channel)(nil)

package cassandra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"lexhub-backend/internal/database"
	"lexhub-backend/internal/domain"
	"lexhub-backend/pkg/metrics"
)

// TranscriptSchema creates the archive table. Rows of one session share a
// partition and are clustered by message time.
const TranscriptSchema = `
	CREATE TABLE IF NOT EXISTS support_transcripts (
		session_id text,
		created_at timestamp,
		message_id text,
		sender_id text,
		sender_role text,
		text text,
		kind text,
		PRIMARY KEY ((session_id), created_at, message_id)
	) WITH CLUSTERING ORDER BY (created_at ASC, message_id ASC)
`

const transcriptTable = "support_transcripts"

// maxBatch keeps unlogged batches under the coordinator's size warning
const maxBatch = 50

// TranscriptRepository archives closed chat sessions in Cassandra
type TranscriptRepository struct {
	db *database.CassandraDB
}

// NewTranscriptRepository creates a new TranscriptRepository
func NewTranscriptRepository(db *database.CassandraDB) *TranscriptRepository {
	return &TranscriptRepository{db: db}
}

// EnsureSchema creates the table when missing
func (r *TranscriptRepository) EnsureSchema(ctx context.Context) error {
	if err := r.db.ExecWithContext(ctx, TranscriptSchema); err != nil {
		return fmt.Errorf("failed to create %s: %w", transcriptTable, err)
	}
	return nil
}

// Save writes a transcript. Entries are idempotent on (session, time, id),
// so a retried archive overwrites rather than duplicates.
func (r *TranscriptRepository) Save(ctx context.Context, entries []*domain.TranscriptEntry) error {
	const stmt = `
		INSERT INTO support_transcripts (
			session_id, created_at, message_id, sender_id, sender_role, text, kind
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for start := 0; start < len(entries); start += maxBatch {
		end := start + maxBatch
		if end > len(entries) {
			end = len(entries)
		}

		batch := r.db.Session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
		for _, e := range entries[start:end] {
			batch.Query(stmt, e.SessionID, e.CreatedAt, e.MessageID, e.SenderID, string(e.SenderRole), e.Text, string(e.Kind))
		}

		started := time.Now()
		err := r.db.Session.ExecuteBatch(batch)
		metrics.RecordCassandraQuery("batch_insert", transcriptTable, started, err)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				metrics.RecordCassandraQueryTimeout("batch_insert", transcriptTable)
			}
			return fmt.Errorf("failed to archive transcript: %w", err)
		}
	}
	return nil
}

// List returns the archived transcript of a session in message order
func (r *TranscriptRepository) List(ctx context.Context, sessionID string, limit int) ([]*domain.TranscriptEntry, error) {
	const stmt = `
		SELECT session_id, created_at, message_id, sender_id, sender_role, text, kind
		FROM support_transcripts
		WHERE session_id = ?
		LIMIT ?
	`
	started := time.Now()
	iter := r.db.QueryWithContext(ctx, stmt, sessionID, limit).Iter()

	var entries []*domain.TranscriptEntry
	for {
		e := &domain.TranscriptEntry{}
		var role, kind string
		if !iter.Scan(&e.SessionID, &e.CreatedAt, &e.MessageID, &e.SenderID, &role, &e.Text, &kind) {
			break
		}
		e.SenderRole = domain.Role(role)
		e.Kind = domain.MessageKind(kind)
		entries = append(entries, e)
	}
	err := iter.Close()
	metrics.RecordCassandraQuery("select", transcriptTable, started, err)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	return entries, nil
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit/domain"
)

// StoredEvent is a persisted security event. Details stay as raw JSON since the payload type
// is not recoverable from the row alone.
type StoredEvent struct {
	ID          string          `json:"id"`
	Kind        domain.Kind     `json:"kind"`
	SessionID   string          `json:"sessionId,omitempty"`
	ContextHash string          `json:"contextHash,omitempty"`
	Details     json.RawMessage `json:"details,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// PostgresRepository stores security events in the security_events table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a security event repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Emit persists event. It satisfies telemetry.EventEmitter so the repository can sit in the sink fan-out.
// Re-emitting the same event ID is a no-op.
func (r *PostgresRepository) Emit(ctx context.Context, event *domain.SecurityEvent) error {
	if event == nil {
		return nil
	}
	var details []byte
	if event.Details != nil {
		b, err := json.Marshal(event.Details)
		if err != nil {
			return err
		}
		details = b
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO security_events (id, kind, session_id, context_hash, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		event.ID, string(event.Kind), event.SessionID, event.ContextHash, nullJSON(details), event.Timestamp,
	)
	return err
}

// ListByKind returns events of kind created at or after since, newest first.
// An empty kind matches every kind.
func (r *PostgresRepository) ListByKind(ctx context.Context, kind domain.Kind, since time.Time, limit int32) ([]*StoredEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, session_id, context_hash, details, created_at
		FROM security_events
		WHERE ($1 = '' OR kind = $1) AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3`,
		string(kind), since, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*StoredEvent
	for rows.Next() {
		var (
			ev      StoredEvent
			kindStr string
			details []byte
		)
		if err := rows.Scan(&ev.ID, &kindStr, &ev.SessionID, &ev.ContextHash, &details, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Kind = domain.Kind(kindStr)
		if len(details) > 0 {
			ev.Details = json.RawMessage(details)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// DeleteBefore removes events created before cutoff and returns how many were deleted.
func (r *PostgresRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM security_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

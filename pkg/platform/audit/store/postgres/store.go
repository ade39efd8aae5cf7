package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	pg "nser/internal/platform/postgres"
	id "nser/pkg/domain"
	audit "nser/pkg/platform/audit"
	txcontext "nser/pkg/platform/tx"
)

// Store implements audit.Store on PostgreSQL with a transactional outbox.
// Each Append writes the queryable audit_entries row and an outbox row that
// the relay publishes to Kafka, in the caller's transaction.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// outboxPayload is the JSON published to the audit topic.
type outboxPayload struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Action     string          `json:"action"`
	Category   string          `json:"category"`
	Actor      string          `json:"actor"`
	RequestID  string          `json:"request_id,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	OccurredAt string          `json:"occurred_at"`
}

func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	if _, ok := txcontext.From(ctx); !ok {
		sqlTx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin audit tx: %w", err)
		}
		defer func() { _ = sqlTx.Rollback() }()
		if err := s.append(txcontext.WithTx(ctx, sqlTx), entry); err != nil {
			return err
		}
		return sqlTx.Commit()
	}
	return s.append(ctx, entry)
}

func (s *Store) append(ctx context.Context, entry audit.Entry) error {
	conn := pg.Conn(ctx, s.db)

	_, err := conn.ExecContext(ctx, `
		INSERT INTO audit_entries (id, entity_type, entity_id, action, category, actor, request_id, reason, before, after, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		uuid.UUID(entry.ID),
		string(entry.EntityType),
		entry.EntityID,
		string(entry.Action),
		string(entry.Category),
		entry.Actor,
		entry.RequestID,
		entry.Reason,
		nullJSON(entry.Before),
		nullJSON(entry.After),
		entry.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	payload, err := json.Marshal(outboxPayload{
		ID:         entry.ID.String(),
		EntityType: string(entry.EntityType),
		EntityID:   entry.EntityID,
		Action:     string(entry.Action),
		Category:   string(entry.Category),
		Actor:      entry.Actor,
		RequestID:  entry.RequestID,
		Reason:     entry.Reason,
		Before:     entry.Before,
		After:      entry.After,
		OccurredAt: entry.OccurredAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	_, err = conn.ExecContext(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New(), string(entry.EntityType), entry.EntityID, string(entry.Action), payload, time.Now())
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

const entryColumns = `id, entity_type, entity_id, action, category, actor, request_id, reason, before, after, occurred_at`

func (s *Store) ListByEntity(ctx context.Context, entityType audit.EntityType, entityID string) ([]audit.Entry, error) {
	rows, err := pg.Conn(ctx, s.db).QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM audit_entries
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY occurred_at, id
	`, string(entityType), entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries by entity: %w", err)
	}
	return scanEntries(rows)
}

func (s *Store) ListByTimeRange(ctx context.Context, from, to time.Time, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := pg.Conn(ctx, s.db).QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM audit_entries
		WHERE occurred_at >= $1 AND occurred_at < $2
		ORDER BY occurred_at, id
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries by time: %w", err)
	}
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]audit.Entry, error) {
	defer rows.Close()
	var out []audit.Entry
	for rows.Next() {
		var (
			e             audit.Entry
			entryID       uuid.UUID
			entityType    string
			action        string
			category      string
			before, after []byte
		)
		if err := rows.Scan(&entryID, &entityType, &e.EntityID, &action, &category, &e.Actor,
			&e.RequestID, &e.Reason, &before, &after, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.ID = id.AuditEntryID(entryID)
		e.EntityType = audit.EntityType(entityType)
		e.Action = audit.Action(action)
		e.Category = audit.EventCategory(category)
		if len(before) > 0 {
			e.Before = json.RawMessage(before)
		}
		if len(after) > 0 {
			e.After = json.RawMessage(after)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

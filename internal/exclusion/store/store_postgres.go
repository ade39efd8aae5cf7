package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"nser/internal/exclusion/models"
	"nser/internal/platform/postgres"
	id "nser/pkg/domain"
	"nser/pkg/platform/sentinel"
)

// PostgresStore persists exclusion records. The partial unique index on
// open records per token backs up the service's write-time check.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `id, reference, token_id, period, custom_days, reason, status, status_reason,
	changed_by, effective_at, expires_at, actual_end_at, auto_renewable, renewal_count, state_version,
	created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, r *models.Record) error {
	query := `
		INSERT INTO exclusions (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := postgres.Conn(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(r.ID),
		r.Reference,
		uuid.UUID(r.TokenID),
		string(r.Period),
		r.CustomDays,
		r.Reason,
		string(r.Status),
		r.StatusReason,
		r.ChangedBy,
		r.EffectiveAt,
		r.ExpiresAt,
		postgres.NullTime(r.ActualEndAt),
		r.AutoRenewable,
		r.RenewalCount,
		r.StateVersion,
		r.CreatedAt,
		r.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert exclusion: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, exclusionID id.ExclusionID) (*models.Record, error) {
	return s.findOne(ctx, `SELECT `+recordColumns+` FROM exclusions WHERE id = $1`, uuid.UUID(exclusionID))
}

func (s *PostgresStore) FindByReference(ctx context.Context, reference string) (*models.Record, error) {
	return s.findOne(ctx, `SELECT `+recordColumns+` FROM exclusions WHERE reference = $1`, reference)
}

func (s *PostgresStore) FindOpenByToken(ctx context.Context, tokenID id.TokenID) (*models.Record, error) {
	return s.findOne(ctx,
		`SELECT `+recordColumns+` FROM exclusions WHERE token_id = $1 AND status IN ('pending', 'active')`,
		uuid.UUID(tokenID))
}

func (s *PostgresStore) ListByToken(ctx context.Context, tokenID id.TokenID) ([]*models.Record, error) {
	return s.list(ctx,
		`SELECT `+recordColumns+` FROM exclusions WHERE token_id = $1 ORDER BY created_at DESC`,
		uuid.UUID(tokenID))
}

func (s *PostgresStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.list(ctx,
		`SELECT `+recordColumns+` FROM exclusions WHERE status = 'active' AND expires_at <= $1 ORDER BY expires_at LIMIT $2`,
		now, limit)
}

// Execute locks the row for the duration of the caller's transaction.
func (s *PostgresStore) Execute(ctx context.Context, exclusionID id.ExclusionID, validate func(*models.Record) error, mutate func(*models.Record)) (*models.Record, error) {
	conn := postgres.Conn(ctx, s.db)
	r, err := scanRecord(conn.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM exclusions WHERE id = $1 FOR UPDATE`, uuid.UUID(exclusionID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("lock exclusion: %w", err)
	}
	if err := validate(r); err != nil {
		return nil, err
	}
	mutate(r)

	_, err = conn.ExecContext(ctx, `
		UPDATE exclusions
		SET token_id = $2, status = $3, status_reason = $4, changed_by = $5, effective_at = $6,
		    expires_at = $7, actual_end_at = $8, renewal_count = $9, state_version = $10, updated_at = $11
		WHERE id = $1
	`,
		uuid.UUID(r.ID),
		uuid.UUID(r.TokenID),
		string(r.Status),
		r.StatusReason,
		r.ChangedBy,
		r.EffectiveAt,
		r.ExpiresAt,
		postgres.NullTime(r.ActualEndAt),
		r.RenewalCount,
		r.StateVersion,
		r.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, sentinel.ErrConflict
		}
		return nil, fmt.Errorf("update exclusion: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) findOne(ctx context.Context, query string, args ...any) (*models.Record, error) {
	r, err := scanRecord(postgres.Conn(ctx, s.db).QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find exclusion: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.Record, error) {
	rows, err := postgres.Conn(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list exclusions: %w", err)
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exclusion: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRecord(row postgres.RowScanner) (*models.Record, error) {
	var (
		r           models.Record
		recordID    uuid.UUID
		tokenID     uuid.UUID
		period      string
		status      string
		actualEndAt sql.NullTime
	)
	if err := row.Scan(
		&recordID,
		&r.Reference,
		&tokenID,
		&period,
		&r.CustomDays,
		&r.Reason,
		&status,
		&r.StatusReason,
		&r.ChangedBy,
		&r.EffectiveAt,
		&r.ExpiresAt,
		&actualEndAt,
		&r.AutoRenewable,
		&r.RenewalCount,
		&r.StateVersion,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.ID = id.ExclusionID(recordID)
	r.TokenID = id.TokenID(tokenID)
	r.Period = models.Period(period)
	r.Status = models.Status(status)
	r.ActualEndAt = postgres.TimePtr(actualEndAt)
	r.EffectiveAt = r.EffectiveAt.UTC()
	r.ExpiresAt = r.ExpiresAt.UTC()
	return &r, nil
}

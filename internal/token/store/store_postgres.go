package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"nser/internal/platform/postgres"
	"nser/internal/token/models"
	id "nser/pkg/domain"
	"nser/pkg/platform/sentinel"
)

// PostgresStore persists tokens in PostgreSQL. Reads and writes join the
// transaction carried by the context, if any.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tokenColumns = `id, value, version, hash, checksum, owner_ref, salt, status, issued_at,
	last_used_at, lookup_count, predecessor_id, rotation_count, deactivated_at, deactivation_reason`

func (s *PostgresStore) Create(ctx context.Context, t *models.Token) error {
	query := `
		INSERT INTO tokens (` + tokenColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := postgres.Conn(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(t.ID),
		t.Value,
		t.Version,
		t.Hash,
		t.Checksum,
		t.OwnerRef,
		t.Salt,
		string(t.Status),
		t.IssuedAt,
		postgres.NullTime(t.LastUsedAt),
		t.LookupCount,
		nullTokenID(t.PredecessorID),
		t.RotationCount,
		postgres.NullTime(t.DeactivatedAt),
		t.DeactivationReason,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, tokenID id.TokenID) (*models.Token, error) {
	return s.findOne(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE id = $1`, uuid.UUID(tokenID))
}

func (s *PostgresStore) FindByHash(ctx context.Context, hash string) (*models.Token, error) {
	return s.findOne(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE hash = $1`, hash)
}

func (s *PostgresStore) FindActiveByOwner(ctx context.Context, ownerRef string) (*models.Token, error) {
	return s.findOne(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE owner_ref = $1 AND status = 'active'`, ownerRef)
}

func (s *PostgresStore) FindSuccessor(ctx context.Context, predecessorID id.TokenID) (*models.Token, error) {
	return s.findOne(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE predecessor_id = $1`, uuid.UUID(predecessorID))
}

func (s *PostgresStore) findOne(ctx context.Context, query string, arg any) (*models.Token, error) {
	t, err := scanToken(postgres.Conn(ctx, s.db).QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find token: %w", err)
	}
	return t, nil
}

// Execute locks the row for the duration of the caller's transaction.
func (s *PostgresStore) Execute(ctx context.Context, tokenID id.TokenID, validate func(*models.Token) error, mutate func(*models.Token)) (*models.Token, error) {
	conn := postgres.Conn(ctx, s.db)
	t, err := scanToken(conn.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE id = $1 FOR UPDATE`, uuid.UUID(tokenID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("lock token: %w", err)
	}
	if err := validate(t); err != nil {
		return nil, err
	}
	mutate(t)

	// Only lifecycle fields are mutable; hash, checksum and value are fixed.
	_, err = conn.ExecContext(ctx, `
		UPDATE tokens
		SET status = $2, deactivated_at = $3, deactivation_reason = $4
		WHERE id = $1
	`, uuid.UUID(t.ID), string(t.Status), postgres.NullTime(t.DeactivatedAt), t.DeactivationReason)
	if err != nil {
		return nil, fmt.Errorf("update token: %w", err)
	}
	return t, nil
}

// RecordUsage applies a batch of usage counters in one statement.
func (s *PostgresStore) RecordUsage(ctx context.Context, usages []Usage) error {
	if len(usages) == 0 {
		return nil
	}
	ids := make([]string, len(usages))
	usedAt := make([]int64, len(usages))
	counts := make([]int64, len(usages))
	for i, u := range usages {
		ids[i] = u.TokenID.String()
		usedAt[i] = u.UsedAt.UnixMicro()
		counts[i] = u.Count
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE tokens AS t
		SET last_used_at = GREATEST(COALESCE(t.last_used_at, to_timestamp(u.used_at / 1e6)), to_timestamp(u.used_at / 1e6)),
		    lookup_count = t.lookup_count + u.n
		FROM unnest($1::uuid[], $2::bigint[], $3::bigint[]) AS u(id, used_at, n)
		WHERE t.id = u.id
	`, pq.Array(ids), pq.Array(usedAt), pq.Array(counts))
	if err != nil {
		return fmt.Errorf("record token usage: %w", err)
	}
	return nil
}

func scanToken(row postgres.RowScanner) (*models.Token, error) {
	var (
		t             models.Token
		tokenID       uuid.UUID
		status        string
		lastUsedAt    sql.NullTime
		predecessorID uuid.NullUUID
		deactivatedAt sql.NullTime
	)
	if err := row.Scan(
		&tokenID,
		&t.Value,
		&t.Version,
		&t.Hash,
		&t.Checksum,
		&t.OwnerRef,
		&t.Salt,
		&status,
		&t.IssuedAt,
		&lastUsedAt,
		&t.LookupCount,
		&predecessorID,
		&t.RotationCount,
		&deactivatedAt,
		&t.DeactivationReason,
	); err != nil {
		return nil, err
	}
	t.ID = id.TokenID(tokenID)
	t.Status = models.Status(status)
	t.LastUsedAt = postgres.TimePtr(lastUsedAt)
	t.DeactivatedAt = postgres.TimePtr(deactivatedAt)
	if predecessorID.Valid {
		p := id.TokenID(predecessorID.UUID)
		t.PredecessorID = &p
	}
	return &t, nil
}

func nullTokenID(tokenID *id.TokenID) uuid.NullUUID {
	if tokenID == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*tokenID), Valid: true}
}

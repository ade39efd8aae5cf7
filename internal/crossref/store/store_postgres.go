package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"nser/internal/crossref/models"
	"nser/internal/platform/postgres"
	id "nser/pkg/domain"
	"nser/pkg/platform/sentinel"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const refColumns = `id, identifier_type, identifier_hash, token_id, confidence_score, verified, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, ref *models.CrossReference) error {
	query := `
		INSERT INTO cross_references (` + refColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := postgres.Conn(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(ref.ID),
		string(ref.IdentifierType),
		ref.IdentifierHash,
		uuid.UUID(ref.TokenID),
		ref.ConfidenceScore,
		ref.Verified,
		ref.CreatedAt,
		ref.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert cross reference: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByPair(ctx context.Context, t models.IdentifierType, hash string) (*models.CrossReference, error) {
	query := `SELECT ` + refColumns + ` FROM cross_references WHERE identifier_type = $1 AND identifier_hash = $2`
	ref, err := scanRef(postgres.Conn(ctx, s.db).QueryRowContext(ctx, query, string(t), hash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find cross reference: %w", err)
	}
	return ref, nil
}

func (s *PostgresStore) FindByHashes(ctx context.Context, hashes []string) ([]*models.CrossReference, error) {
	query := `
		SELECT ` + refColumns + ` FROM cross_references
		WHERE identifier_hash = ANY($1)
		ORDER BY identifier_type, identifier_hash
	`
	return s.list(ctx, query, pq.Array(hashes))
}

func (s *PostgresStore) ListByToken(ctx context.Context, tokenID id.TokenID) ([]*models.CrossReference, error) {
	query := `
		SELECT ` + refColumns + ` FROM cross_references
		WHERE token_id = $1
		ORDER BY identifier_type, identifier_hash
	`
	return s.list(ctx, query, uuid.UUID(tokenID))
}

func (s *PostgresStore) Update(ctx context.Context, ref *models.CrossReference) error {
	query := `
		UPDATE cross_references
		SET token_id = $2, confidence_score = $3, verified = $4, updated_at = $5
		WHERE id = $1
	`
	res, err := postgres.Conn(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(ref.ID),
		uuid.UUID(ref.TokenID),
		ref.ConfidenceScore,
		ref.Verified,
		ref.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update cross reference: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update cross reference: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Relink(ctx context.Context, from, to id.TokenID, now time.Time) (int, error) {
	res, err := postgres.Conn(ctx, s.db).ExecContext(ctx,
		`UPDATE cross_references SET token_id = $2, updated_at = $3 WHERE token_id = $1`,
		uuid.UUID(from), uuid.UUID(to), now,
	)
	if err != nil {
		return 0, fmt.Errorf("relink cross references: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("relink cross references: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) list(ctx context.Context, query string, arg any) ([]*models.CrossReference, error) {
	rows, err := postgres.Conn(ctx, s.db).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list cross references: %w", err)
	}
	defer rows.Close()

	var out []*models.CrossReference
	for rows.Next() {
		ref, err := scanRef(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cross reference: %w", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

func scanRef(row postgres.RowScanner) (*models.CrossReference, error) {
	var (
		ref     models.CrossReference
		refID   uuid.UUID
		tokenID uuid.UUID
		typ     string
	)
	if err := row.Scan(&refID, &typ, &ref.IdentifierHash, &tokenID, &ref.ConfidenceScore, &ref.Verified, &ref.CreatedAt, &ref.UpdatedAt); err != nil {
		return nil, err
	}
	ref.ID = id.CrossReferenceID(refID)
	ref.TokenID = id.TokenID(tokenID)
	ref.IdentifierType = models.IdentifierType(typ)
	return &ref, nil
}

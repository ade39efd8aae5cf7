package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"nser/internal/platform/postgres"
	"nser/internal/propagation/models"
	id "nser/pkg/domain"
	"nser/pkg/platform/sentinel"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const deliveryColumns = `exclusion_id, operator_id, state_version, status, retry_count, max_retries,
	next_retry_at, last_attempt_at, last_error, is_compliant, acknowledged_at, created_at, updated_at`

// noticeRow keeps the token id next to the JSON payload, which omits it.
type noticeRow struct {
	models.Notice
	TokenID id.TokenID `json:"tokenId"`
}

func (s *PostgresStore) SaveNotice(ctx context.Context, n models.Notice) (bool, error) {
	payload, err := json.Marshal(noticeRow{Notice: n, TokenID: n.TokenID})
	if err != nil {
		return false, fmt.Errorf("marshal notice: %w", err)
	}
	res, err := postgres.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO propagation_notices (exclusion_id, state_version, payload, token_id, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (exclusion_id) DO UPDATE
		SET state_version = EXCLUDED.state_version, payload = EXCLUDED.payload,
		    token_id = EXCLUDED.token_id, created_at = EXCLUDED.created_at
		WHERE propagation_notices.state_version < EXCLUDED.state_version
	`, uuid.UUID(n.ExclusionID), n.StateVersion, payload, uuid.UUID(n.TokenID))
	if err != nil {
		return false, fmt.Errorf("save notice: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save notice: %w", err)
	}
	return affected == 1, nil
}

func (s *PostgresStore) LatestNotice(ctx context.Context, exclusionID id.ExclusionID) (*models.Notice, error) {
	var payload []byte
	err := postgres.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT payload FROM propagation_notices WHERE exclusion_id = $1`, uuid.UUID(exclusionID),
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find notice: %w", err)
	}
	return decodeNotice(payload)
}

func (s *PostgresStore) ListNotices(ctx context.Context, after id.ExclusionID, limit int) ([]*models.Notice, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := postgres.Conn(ctx, s.db).QueryContext(ctx, `
		SELECT payload FROM propagation_notices
		WHERE exclusion_id > $1
		ORDER BY exclusion_id
		LIMIT $2
	`, uuid.UUID(after), limit)
	if err != nil {
		return nil, fmt.Errorf("list notices: %w", err)
	}
	defer rows.Close()

	var out []*models.Notice
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan notice: %w", err)
		}
		n, err := decodeNotice(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func decodeNotice(payload []byte) (*models.Notice, error) {
	var row noticeRow
	if err := json.Unmarshal(payload, &row); err != nil {
		return nil, fmt.Errorf("decode notice: %w", err)
	}
	n := row.Notice
	n.TokenID = row.TokenID
	return &n, nil
}

// EnsureForVersion upserts in one statement. A row comes back only when it
// was inserted or restarted, which is exactly when an attempt is due.
func (s *PostgresStore) EnsureForVersion(ctx context.Context, exclusionID id.ExclusionID, operatorID id.OperatorID, stateVersion, maxRetries int, now time.Time) (*models.Delivery, bool, error) {
	d, err := scanDelivery(postgres.Conn(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO operator_deliveries (`+deliveryColumns+`)
		VALUES ($1, $2, $3, $4, 0, $5, $6, NULL, '', FALSE, NULL, $6, $6)
		ON CONFLICT (exclusion_id, operator_id) DO UPDATE
		SET state_version = EXCLUDED.state_version, status = EXCLUDED.status, retry_count = 0,
		    max_retries = EXCLUDED.max_retries, next_retry_at = EXCLUDED.next_retry_at,
		    last_error = '', is_compliant = FALSE, acknowledged_at = NULL, updated_at = EXCLUDED.updated_at
		WHERE operator_deliveries.state_version < EXCLUDED.state_version
		RETURNING `+deliveryColumns,
		uuid.UUID(exclusionID),
		uuid.UUID(operatorID),
		stateVersion,
		string(models.DeliveryPending),
		maxRetries,
		now,
	))
	if err == nil {
		return d, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("ensure delivery: %w", err)
	}
	d, err = s.FindDelivery(ctx, exclusionID, operatorID)
	if err != nil {
		return nil, false, err
	}
	return d, false, nil
}

func (s *PostgresStore) FindDelivery(ctx context.Context, exclusionID id.ExclusionID, operatorID id.OperatorID) (*models.Delivery, error) {
	d, err := scanDelivery(postgres.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM operator_deliveries WHERE exclusion_id = $1 AND operator_id = $2`,
		uuid.UUID(exclusionID), uuid.UUID(operatorID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find delivery: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) ListByExclusion(ctx context.Context, exclusionID id.ExclusionID) ([]*models.Delivery, error) {
	return s.list(ctx,
		`SELECT `+deliveryColumns+` FROM operator_deliveries WHERE exclusion_id = $1 ORDER BY operator_id`,
		uuid.UUID(exclusionID))
}

func (s *PostgresStore) ListRecoverable(ctx context.Context, dueBefore, staleBefore time.Time, limit int) ([]*models.Delivery, error) {
	if limit <= 0 {
		limit = 500
	}
	return s.list(ctx, `
		SELECT `+deliveryColumns+` FROM operator_deliveries
		WHERE (status IN ('pending', 'timeout') AND next_retry_at <= $1)
		   OR (status = 'notified' AND last_attempt_at < $2)
		ORDER BY COALESCE(next_retry_at, last_attempt_at)
		LIMIT $3
	`, dueBefore, staleBefore, limit)
}

// Execute locks the row for the duration of the caller's transaction.
func (s *PostgresStore) Execute(ctx context.Context, exclusionID id.ExclusionID, operatorID id.OperatorID, validate func(*models.Delivery) error, mutate func(*models.Delivery)) (*models.Delivery, error) {
	conn := postgres.Conn(ctx, s.db)
	d, err := scanDelivery(conn.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM operator_deliveries WHERE exclusion_id = $1 AND operator_id = $2 FOR UPDATE`,
		uuid.UUID(exclusionID), uuid.UUID(operatorID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("lock delivery: %w", err)
	}
	if err := validate(d); err != nil {
		return nil, err
	}
	mutate(d)

	_, err = conn.ExecContext(ctx, `
		UPDATE operator_deliveries
		SET state_version = $3, status = $4, retry_count = $5, max_retries = $6, next_retry_at = $7,
		    last_attempt_at = $8, last_error = $9, is_compliant = $10, acknowledged_at = $11, updated_at = $12
		WHERE exclusion_id = $1 AND operator_id = $2
	`,
		uuid.UUID(d.ExclusionID),
		uuid.UUID(d.OperatorID),
		d.StateVersion,
		string(d.Status),
		d.RetryCount,
		d.MaxRetries,
		postgres.NullTime(d.NextRetryAt),
		postgres.NullTime(d.LastAttemptAt),
		d.LastError,
		d.IsCompliant,
		postgres.NullTime(d.AcknowledgedAt),
		d.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update delivery: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.Delivery, error) {
	rows, err := postgres.Conn(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var out []*models.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDelivery(row postgres.RowScanner) (*models.Delivery, error) {
	var (
		d              models.Delivery
		exclusionID    uuid.UUID
		operatorID     uuid.UUID
		status         string
		nextRetryAt    sql.NullTime
		lastAttemptAt  sql.NullTime
		acknowledgedAt sql.NullTime
	)
	if err := row.Scan(
		&exclusionID,
		&operatorID,
		&d.StateVersion,
		&status,
		&d.RetryCount,
		&d.MaxRetries,
		&nextRetryAt,
		&lastAttemptAt,
		&d.LastError,
		&d.IsCompliant,
		&acknowledgedAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.ExclusionID = id.ExclusionID(exclusionID)
	d.OperatorID = id.OperatorID(operatorID)
	d.Status = models.DeliveryStatus(status)
	d.NextRetryAt = postgres.TimePtr(nextRetryAt)
	d.LastAttemptAt = postgres.TimePtr(lastAttemptAt)
	d.AcknowledgedAt = postgres.TimePtr(acknowledgedAt)
	return &d, nil
}

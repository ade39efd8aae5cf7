package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nser/internal/operator/models"
	"nser/internal/platform/postgres"
	id "nser/pkg/domain"
	"nser/pkg/platform/sentinel"
	"nser/pkg/platform/tx"
)

type operatorRow struct {
	ID             uuid.UUID                             `gorm:"type:uuid;primaryKey"`
	Name           string                                `gorm:"not null"`
	LicenseNumber  string                                `gorm:"not null"`
	LicenseStatus  string                                `gorm:"not null;index"`
	Endpoint       string                                `gorm:"not null"`
	ClientID       string                                `gorm:"not null;uniqueIndex"`
	APIKeyHash     string                                `gorm:"column:api_key_hash;not null"`
	DeliverySecret string                                `gorm:"not null"`
	Metadata       datatypes.JSONType[map[string]string] `gorm:"type:jsonb"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (operatorRow) TableName() string {
	return "operators"
}

// GormStore keeps the directory in the operators table.
type GormStore struct {
	db *gorm.DB
}

func NewGorm(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// conn joins the transaction carried by ctx so directory writes commit with
// their audit entries.
func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	db := s.db.WithContext(ctx)
	if sqlTx, ok := tx.From(ctx); ok {
		db.Statement.ConnPool = sqlTx
	}
	return db
}

func (s *GormStore) Create(ctx context.Context, op *models.Operator) error {
	row := toRow(op)
	if err := s.conn(ctx).Create(&row).Error; err != nil {
		if postgres.IsUniqueViolation(err) || errors.Is(err, gorm.ErrDuplicatedKey) {
			return sentinel.ErrConflict
		}
		return err
	}
	return nil
}

func (s *GormStore) FindByID(ctx context.Context, operatorID id.OperatorID) (*models.Operator, error) {
	return s.first(s.conn(ctx).Where("id = ?", uuid.UUID(operatorID)))
}

func (s *GormStore) FindByClientID(ctx context.Context, clientID string) (*models.Operator, error) {
	return s.first(s.conn(ctx).Where("client_id = ?", clientID))
}

func (s *GormStore) List(ctx context.Context) ([]*models.Operator, error) {
	return s.find(s.conn(ctx))
}

func (s *GormStore) ListActive(ctx context.Context) ([]*models.Operator, error) {
	return s.find(s.conn(ctx).Where("license_status = ?", string(models.LicenseActive)))
}

func (s *GormStore) Execute(ctx context.Context, operatorID id.OperatorID, validate func(*models.Operator) error, mutate func(*models.Operator)) (*models.Operator, error) {
	var out *models.Operator
	err := s.conn(ctx).Transaction(func(db *gorm.DB) error {
		var row operatorRow
		err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", uuid.UUID(operatorID)).
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return err
		}
		op := fromRow(row)
		if err := validate(op); err != nil {
			return err
		}
		mutate(op)
		updated := toRow(op)
		if err := db.Save(&updated).Error; err != nil {
			return err
		}
		out = op
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) first(db *gorm.DB) (*models.Operator, error) {
	var row operatorRow
	err := db.First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRow(row), nil
}

func (s *GormStore) find(db *gorm.DB) ([]*models.Operator, error) {
	var rows []operatorRow
	if err := db.Order("name, client_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*models.Operator, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

func toRow(op *models.Operator) operatorRow {
	return operatorRow{
		ID:             uuid.UUID(op.ID),
		Name:           op.Name,
		LicenseNumber:  op.LicenseNumber,
		LicenseStatus:  string(op.LicenseStatus),
		Endpoint:       op.Endpoint,
		ClientID:       op.ClientID,
		APIKeyHash:     op.APIKeyHash,
		DeliverySecret: op.DeliverySecret,
		Metadata:       datatypes.NewJSONType(op.Metadata),
		CreatedAt:      op.CreatedAt,
		UpdatedAt:      op.UpdatedAt,
	}
}

func fromRow(row operatorRow) *models.Operator {
	return &models.Operator{
		ID:             id.OperatorID(row.ID),
		Name:           row.Name,
		LicenseNumber:  row.LicenseNumber,
		LicenseStatus:  models.LicenseStatus(row.LicenseStatus),
		Endpoint:       row.Endpoint,
		ClientID:       row.ClientID,
		APIKeyHash:     row.APIKeyHash,
		DeliverySecret: row.DeliverySecret,
		Metadata:       row.Metadata.Data(),
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}

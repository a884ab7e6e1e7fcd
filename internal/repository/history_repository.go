package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type HistoryRepository interface {
	Record(ctx context.Context, rec *QueryRecord) error
	Recent(ctx context.Context, datasetID string, limit int) ([]QueryRecord, error)
}

type gormHistoryRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(db *gorm.DB) HistoryRepository {
	return &gormHistoryRepository{db: db}
}

func (r *gormHistoryRepository) Record(ctx context.Context, rec *QueryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *gormHistoryRepository) Recent(ctx context.Context, datasetID string, limit int) ([]QueryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []QueryRecord
	err := r.db.WithContext(ctx).
		Where("dataset_id = ?", datasetID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var ErrDatasetNotFound = errors.New("dataset not found")

type DatasetRepository interface {
	GetByID(ctx context.Context, id string) (*Dataset, error)
}

type gormDatasetRepository struct {
	db *gorm.DB
}

func NewDatasetRepository(db *gorm.DB) DatasetRepository {
	return &gormDatasetRepository{db: db}
}

func (r *gormDatasetRepository) GetByID(ctx context.Context, id string) (*Dataset, error) {
	var ds Dataset
	err := r.db.WithContext(ctx).First(&ds, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDatasetNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/nfsync/internal/invoice/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ExistsByKey(ctx context.Context, db *gorm.DB, invoiceNumber, series string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Record{}).
		Where("nr_nota_fiscal = ? AND cd_serie_nf = ?", invoiceNumber, series).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.Record) error {
	return db.WithContext(ctx).Create(record).Error
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, invoiceNumber, series string) (*domain.Record, error) {
	var record domain.Record
	err := db.WithContext(ctx).
		Where("nr_nota_fiscal = ? AND cd_serie_nf = ?", invoiceNumber, series).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repo) Count(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Record{}).Count(&count).Error
	return count, err
}

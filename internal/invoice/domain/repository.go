package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	ExistsByKey(ctx context.Context, db *gorm.DB, invoiceNumber, series string) (bool, error)
	Insert(ctx context.Context, db *gorm.DB, record *Record) error
	FindByKey(ctx context.Context, db *gorm.DB, invoiceNumber, series string) (*Record, error)
	Count(ctx context.Context, db *gorm.DB) (int64, error)
}

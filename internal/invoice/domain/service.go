package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Persist stores record in one transaction, rejecting a second record
	// with the same invoice number and series with a *DuplicateError.
	Persist(ctx context.Context, record *Record) (snowflake.ID, error)
	GetByKey(ctx context.Context, invoiceNumber, series string) (Record, error)
}

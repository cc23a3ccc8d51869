package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateInvoice = errors.New("duplicate_invoice")
	ErrInvalidRecord    = errors.New("invalid_record")
	ErrNotFound         = errors.New("not_found")
)

// DuplicateError reports that an invoice with the same number and series is
// already stored. It matches ErrDuplicateInvoice under errors.Is.
type DuplicateError struct {
	InvoiceNumber string
	Series        string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("invoice %s series %s already processed", e.InvoiceNumber, e.Series)
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicateInvoice
}

// StorageError wraps any other persistence failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("invoice storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/nfsync/internal/invoice/domain"
	"github.com/smallbiznis/nfsync/internal/observability/tracing"
	"github.com/smallbiznis/nfsync/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Persist(ctx context.Context, record *domain.Record) (id snowflake.ID, err error) {
	if record == nil ||
		strings.TrimSpace(record.InvoiceNumber) == "" ||
		strings.TrimSpace(record.Series) == "" {
		return 0, domain.ErrInvalidRecord
	}

	ctx, span := tracing.StartSpan(ctx, "invoice.persist",
		attribute.String("invoice.number", record.InvoiceNumber),
		attribute.String("invoice.series", record.Series),
	)
	defer func() { tracing.EndSpan(span, err) }()

	assigned := false
	if record.ID == 0 {
		record.ID = s.genID.Generate()
		assigned = true
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := s.repo.ExistsByKey(ctx, tx, record.InvoiceNumber, record.Series)
		if err != nil {
			return &domain.StorageError{Op: "exists", Err: err}
		}
		if exists {
			return &domain.DuplicateError{InvoiceNumber: record.InvoiceNumber, Series: record.Series}
		}
		if err := s.repo.Insert(ctx, tx, record); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return &keyConflict{err: err}
			}
			return &domain.StorageError{Op: "insert", Err: err}
		}
		return nil
	})
	var conflict *keyConflict
	if errors.As(err, &conflict) {
		err = s.resolveConflict(ctx, record, conflict.err)
	}
	if err != nil {
		if assigned {
			record.ID = 0
		}
		var dupErr *domain.DuplicateError
		var storageErr *domain.StorageError
		if !errors.As(err, &dupErr) && !errors.As(err, &storageErr) {
			err = &domain.StorageError{Op: "commit", Err: err}
		}
		return 0, err
	}

	s.log.Debug("invoice persisted",
		zap.String("invoice_number", record.InvoiceNumber),
		zap.String("series", record.Series),
		zap.Int64("id", record.ID.Int64()),
	)
	return record.ID, nil
}

// dedupIndex is the unique index over (invoice number, series).
const dedupIndex = "ux_nf_xmlfs_numero_serie"

// keyConflict carries a unique violation out of the aborted transaction.
type keyConflict struct {
	err error
}

func (e *keyConflict) Error() string { return e.err.Error() }

func (e *keyConflict) Unwrap() error { return e.err }

// resolveConflict decides whether a unique violation on insert was the dedup
// key, which makes it a DuplicateError, or any other constraint, which makes
// it a StorageError. When the driver no longer names the constraint the key
// is looked up again outside the failed transaction.
func (s *Service) resolveConflict(ctx context.Context, record *domain.Record, cause error) error {
	duplicate := &domain.DuplicateError{InvoiceNumber: record.InvoiceNumber, Series: record.Series}
	if target := db.DuplicateKeyTarget(cause); target != "" {
		if isDedupTarget(target) {
			return duplicate
		}
		return &domain.StorageError{Op: "insert", Err: cause}
	}

	exists, err := s.repo.ExistsByKey(ctx, s.db, record.InvoiceNumber, record.Series)
	if err != nil {
		return &domain.StorageError{Op: "insert", Err: errors.Join(cause, err)}
	}
	if exists {
		return duplicate
	}
	return &domain.StorageError{Op: "insert", Err: cause}
}

// isDedupTarget matches the dedup index by name or, for SQLite, by its
// invoice number column.
func isDedupTarget(target string) bool {
	return strings.Contains(target, dedupIndex) || strings.Contains(target, "nr_nota_fiscal")
}

func (s *Service) GetByKey(ctx context.Context, invoiceNumber, series string) (domain.Record, error) {
	invoiceNumber = strings.TrimSpace(invoiceNumber)
	series = strings.TrimSpace(series)
	if invoiceNumber == "" || series == "" {
		return domain.Record{}, domain.ErrInvalidRecord
	}

	record, err := s.repo.FindByKey(ctx, s.db, invoiceNumber, series)
	if err != nil {
		return domain.Record{}, &domain.StorageError{Op: "find", Err: err}
	}
	if record == nil {
		return domain.Record{}, domain.ErrNotFound
	}
	return *record, nil
}

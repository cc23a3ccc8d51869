package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifyStorageReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ReasonNone},
		{name: "deadline", err: fmt.Errorf("persist: %w", context.DeadlineExceeded), want: ReasonDeadlineExceeded},
		{name: "gorm_duplicate", err: gorm.ErrDuplicatedKey, want: ReasonDuplicate},
		{name: "pg_duplicate", err: &pgconn.PgError{Code: "23505"}, want: ReasonDuplicate},
		{name: "pg_other", err: &pgconn.PgError{Code: "08006"}, want: ReasonStorage},
		{name: "invalid_tx", err: gorm.ErrInvalidTransaction, want: ReasonStorage},
		{name: "unknown", err: errors.New("boom"), want: ReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyStorageReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestIngestionCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewIngestionMetrics(registry, Config{ServiceName: "nfsync", Environment: "test"})

	m.IncFile(FileOutcomeProcessed, ReasonNone)
	m.IncFile(FileOutcomeProcessed, ReasonNone)
	m.IncFile(FileOutcomeFailed, ReasonParse)
	m.IncSkipped(SkipNotXML)
	m.IncRun(RunResultOK)
	m.ObserveRunLoopLag(-time.Second)

	if got := testutil.ToFloat64(m.files.WithLabelValues(FileOutcomeProcessed, ReasonNone)); got != 2 {
		t.Fatalf("expected 2 processed files, got %v", got)
	}
	if got := testutil.ToFloat64(m.files.WithLabelValues(FileOutcomeFailed, ReasonParse)); got != 1 {
		t.Fatalf("expected 1 parse failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.skipped.WithLabelValues(SkipNotXML)); got != 1 {
		t.Fatalf("expected 1 skipped entry, got %v", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues(RunResultOK)); got != 1 {
		t.Fatalf("expected 1 run, got %v", got)
	}
}

func TestNilIngestionMetricsIsSafe(t *testing.T) {
	var m *IngestionMetrics
	m.IncRun(RunResultFailed)
	m.IncFile(FileOutcomeFailed, ReasonUnknown)
	m.ObserveRunDuration(time.Second)
	m.IncRelocationFailure(RelocateError)
	m.IncListingError()
}

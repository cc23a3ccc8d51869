package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	RunResultOK        = "ok"
	RunResultFailed    = "failed"
	RunResultSkipped   = "skipped"
	RunResultContended = "contended"
)

const (
	FileOutcomeProcessed = "processed"
	FileOutcomeFailed    = "failed"
)

// Low-cardinality failure reasons recorded per file.
const (
	ReasonNone             = "none"
	ReasonDownload         = "download"
	ReasonParse            = "parse"
	ReasonDuplicate        = "duplicate"
	ReasonStorage          = "storage"
	ReasonDeadlineExceeded = "deadline_exceeded"
	ReasonUnknown          = "unknown"
)

const (
	SkipDirectory = "directory"
	SkipNotXML    = "not_xml"
)

const (
	RelocateProcessed = "processed"
	RelocateError     = "error"
)

// IngestionMetrics tracks scheduled ingestion health on the Prometheus registry.
type IngestionMetrics struct {
	runs               *prometheus.CounterVec
	runDuration        prometheus.Observer
	files              *prometheus.CounterVec
	skipped            *prometheus.CounterVec
	relocationFailures *prometheus.CounterVec
	runLoopLag         prometheus.Observer
	listingErrors      prometheus.Counter
}

// NewIngestionMetrics registers ingestion collectors on registerer.
func NewIngestionMetrics(registerer prometheus.Registerer, cfg Config) *IngestionMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "nfsync"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "nfsync_ingestion_runs_total",
		Help:        "Ingestion runs by result.",
		ConstLabels: constLabels,
	}, []string{"result"})
	runDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "nfsync_ingestion_run_duration_seconds",
		Help:        "Wall time of one pass over the source directory.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
		ConstLabels: constLabels,
	})
	files := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "nfsync_ingestion_files_total",
		Help:        "Files handled by outcome and failure reason.",
		ConstLabels: constLabels,
	}, []string{"outcome", "reason"})
	skipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "nfsync_ingestion_entries_skipped_total",
		Help:        "Listing entries ignored because they are directories or not XML.",
		ConstLabels: constLabels,
	}, []string{"kind"})
	relocationFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "nfsync_ingestion_relocation_failures_total",
		Help:        "Moves to the processed or error directory that did not complete.",
		ConstLabels: constLabels,
	}, []string{"target"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "nfsync_ingestion_runloop_lag_seconds",
		Help:        "Delay between the scheduled and actual start of a run.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})
	listingErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "nfsync_ingestion_listing_errors_total",
		Help:        "Runs aborted because the source directory could not be listed.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(runs, runDuration, files, skipped, relocationFailures, runLoopLag, listingErrors)

	return &IngestionMetrics{
		runs:               runs,
		runDuration:        runDuration,
		files:              files,
		skipped:            skipped,
		relocationFailures: relocationFailures,
		runLoopLag:         runLoopLag,
		listingErrors:      listingErrors,
	}
}

func (m *IngestionMetrics) IncRun(result string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
}

func (m *IngestionMetrics) ObserveRunDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Observe(d.Seconds())
}

// IncFile records one handled file; reason is ReasonNone for successes.
func (m *IngestionMetrics) IncFile(outcome, reason string) {
	if m == nil {
		return
	}
	m.files.WithLabelValues(outcome, reason).Inc()
}

func (m *IngestionMetrics) IncSkipped(kind string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(kind).Inc()
}

func (m *IngestionMetrics) IncRelocationFailure(target string) {
	if m == nil {
		return
	}
	m.relocationFailures.WithLabelValues(target).Inc()
}

func (m *IngestionMetrics) IncListingError() {
	if m == nil {
		return
	}
	m.listingErrors.Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *IngestionMetrics) ObserveRunLoopLag(d time.Duration) {
	if m == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	m.runLoopLag.Observe(d.Seconds())
}

// ClassifyStorageReason maps persistence errors to a reason label. Errors the
// caller has already classified should not be passed here.
func ClassifyStorageReason(err error) string {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ReasonDeadlineExceeded
	case isUniqueViolation(err):
		return ReasonDuplicate
	case isDBError(err):
		return ReasonStorage
	default:
		return ReasonUnknown
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrInvalidValue) ||
		errors.Is(err, gorm.ErrForeignKeyViolated) ||
		errors.Is(err, gorm.ErrCheckConstraintViolated) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}

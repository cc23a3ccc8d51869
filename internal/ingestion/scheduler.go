package ingestion

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/nfsync/internal/clock"
	"github.com/smallbiznis/nfsync/internal/config"
	invoicedomain "github.com/smallbiznis/nfsync/internal/invoice/domain"
	"github.com/smallbiznis/nfsync/internal/lock"
	"github.com/smallbiznis/nfsync/internal/nfxml"
	obscontext "github.com/smallbiznis/nfsync/internal/observability/context"
	obsmetrics "github.com/smallbiznis/nfsync/internal/observability/metrics"
	"github.com/smallbiznis/nfsync/internal/observability/tracing"
	remotedomain "github.com/smallbiznis/nfsync/internal/remotestore/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrInvalidConfig     = errors.New("invalid_ingestion_config")
	ErrRunInProgress     = errors.New("ingestion_run_in_progress")
	ErrIngestionDisabled = errors.New("ingestion_disabled")
)

const (
	TriggerSchedule = "schedule"
	TriggerWatch    = "watch"
	TriggerHTTP     = "http"
	TriggerCLI      = "cli"
)

type Params struct {
	fx.In

	Config    Config
	Store     remotedomain.Client
	Invoices  invoicedomain.Service
	Extractor *nfxml.Extractor
	Clock     clock.Clock
	Log       *zap.Logger

	Metrics   *obsmetrics.IngestionMetrics  `optional:"true"`
	Telemetry *obsmetrics.Metrics           `optional:"true"`
	Locker    *lock.Locker                  `optional:"true"`
	Settings  *config.RuntimeSettingsHolder `optional:"true"`
}

// Scheduler drains the source directory one file at a time. At most one run
// is active per process; a Redis lock, when configured, extends that across
// processes.
type Scheduler struct {
	cfg       Config
	store     remotedomain.Client
	invoices  invoicedomain.Service
	extractor *nfxml.Extractor
	clock     clock.Clock
	log       *zap.Logger
	metrics   *obsmetrics.IngestionMetrics
	telemetry *obsmetrics.Metrics
	locker    *lock.Locker
	settings  *config.RuntimeSettingsHolder

	running   atomic.Bool
	dirsReady atomic.Bool
	nudge     chan struct{}
}

// RunSummary reports what one run did.
type RunSummary struct {
	RunID              string        `json:"run_id"`
	Trigger            string        `json:"trigger"`
	Listed             int           `json:"listed"`
	Skipped            int           `json:"skipped"`
	Processed          int           `json:"processed"`
	Failed             int           `json:"failed"`
	Duplicates         int           `json:"duplicates"`
	RelocationFailures int           `json:"relocation_failures"`
	StartedAt          time.Time     `json:"started_at"`
	Duration           time.Duration `json:"duration_ns"`
}

func New(p Params) (*Scheduler, error) {
	if p.Store == nil || p.Invoices == nil || p.Extractor == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		cfg:       cfg,
		store:     p.Store,
		invoices:  p.Invoices,
		extractor: p.Extractor,
		clock:     clk,
		log:       log.Named("ingestion").With(zap.String("component", "ingestion")),
		metrics:   p.Metrics,
		telemetry: p.Telemetry,
		locker:    p.Locker,
		settings:  p.Settings,
		nudge:     make(chan struct{}, 1),
	}, nil
}

func (s *Scheduler) Config() Config { return s.cfg }

// Running reports whether a run is in flight in this process.
func (s *Scheduler) Running() bool { return s.running.Load() }

func (s *Scheduler) runtime() config.RuntimeSettings {
	if s.settings != nil {
		current := s.settings.Get()
		if current.Delay <= 0 {
			current.Delay = s.cfg.Delay
		}
		return current
	}
	return config.RuntimeSettings{Enabled: s.cfg.Enabled, Delay: s.cfg.Delay}
}

// RunOnce lists the source directory and handles every XML file in listing
// order. Per-file failures are counted in the summary and never abort the
// run; the returned error covers only the run itself.
func (s *Scheduler) RunOnce(ctx context.Context) (RunSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.runtime().Enabled {
		s.metrics.IncRun(obsmetrics.RunResultSkipped)
		s.logger(ctx).Warn("ingestion.run.disabled", zap.String("source_dir", s.cfg.SourceDir))
		return RunSummary{}, ErrIngestionDisabled
	}
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.IncRun(obsmetrics.RunResultContended)
		return RunSummary{}, ErrRunInProgress
	}
	defer s.running.Store(false)

	ctx, runID := obscontext.EnsureRunID(ctx)
	release, acquired := s.acquireLock(ctx)
	if !acquired {
		s.metrics.IncRun(obsmetrics.RunResultContended)
		s.logger(ctx).Info("ingestion.run.contended", zap.String("lock_key", s.cfg.LockKey))
		return RunSummary{RunID: runID}, ErrRunInProgress
	}
	defer release()

	run := s.startRun(ctx, runID)
	ctx, span := tracing.StartSpan(ctx, "ingestion.run",
		attribute.String("nfsync.source_dir", s.cfg.SourceDir),
		attribute.String("nfsync.trigger", run.summary.Trigger),
	)
	err := s.drain(ctx, run)
	tracing.EndSpan(span, err)

	summary := s.finishRun(ctx, run, err)
	if err != nil {
		s.metrics.IncRun(obsmetrics.RunResultFailed)
	} else {
		s.metrics.IncRun(obsmetrics.RunResultOK)
	}
	s.metrics.ObserveRunDuration(summary.Duration)
	return summary, err
}

func (s *Scheduler) drain(ctx context.Context, run *runState) error {
	names, err := s.list(ctx, run)
	if err != nil {
		s.metrics.IncListingError()
		return err
	}
	if len(names) == 0 {
		s.logger(ctx).Info("ingestion.run.empty", zap.String("source_dir", s.cfg.SourceDir))
		return nil
	}
	s.prepareDirectories(ctx)
	for _, name := range names {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.processFile(ctx, run, name)
	}
	return nil
}

// list returns the XML file names in the source directory, skipping
// subdirectories and anything else.
func (s *Scheduler) list(ctx context.Context, run *runState) ([]string, error) {
	entries, err := s.store.ListFiles(ctx, s.cfg.SourceDir)
	if err != nil {
		return nil, err
	}
	log := s.logger(ctx)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		switch {
		case entry.IsDirectory:
			s.metrics.IncSkipped(obsmetrics.SkipDirectory)
			log.Debug("ingestion.list.skip", zap.String("name", entry.Name), zap.String("kind", obsmetrics.SkipDirectory))
			run.summary.Skipped++
		case !isXML(entry.Name):
			s.metrics.IncSkipped(obsmetrics.SkipNotXML)
			log.Debug("ingestion.list.skip", zap.String("name", entry.Name), zap.String("kind", obsmetrics.SkipNotXML))
			run.summary.Skipped++
		default:
			names = append(names, entry.Name)
		}
	}
	run.summary.Listed = len(names)
	log.Info("ingestion.list", zap.String("source_dir", s.cfg.SourceDir), zap.Int("xml_count", len(names)))
	return names, nil
}

func isXML(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".xml")
}

func (s *Scheduler) processFile(ctx context.Context, run *runState, name string) {
	ctx = obscontext.WithFile(ctx, name)
	ctx, span := tracing.StartSpan(ctx, "ingestion.file", attribute.String("nfsync.file", name))

	fileCtx, cancel := context.WithTimeout(ctx, s.cfg.FileTimeout)
	extraction, id, err := s.ingest(fileCtx, name)
	cancel()
	tracing.EndSpan(span, err)

	reason := failureReason(err)
	target := s.cfg.ProcessedDir
	relocation := obsmetrics.RelocateProcessed
	switch {
	case err == nil:
		run.summary.Processed++
		s.metrics.IncFile(obsmetrics.FileOutcomeProcessed, obsmetrics.ReasonNone)
		s.telemetry.RecordInvoicePersisted(ctx, extraction.Format.String())
		s.logFileProcessed(ctx, extraction, id)
	case reason == obsmetrics.ReasonDuplicate:
		run.summary.Duplicates++
		if s.cfg.DuplicatePolicy == config.DuplicatePolicyProcessed {
			s.metrics.IncFile(obsmetrics.FileOutcomeProcessed, reason)
			s.logFileDuplicate(ctx, err, true)
			break
		}
		run.summary.Failed++
		target, relocation = s.cfg.ErrorDir, obsmetrics.RelocateError
		s.metrics.IncFile(obsmetrics.FileOutcomeFailed, reason)
		s.logFileDuplicate(ctx, err, false)
	default:
		run.summary.Failed++
		target, relocation = s.cfg.ErrorDir, obsmetrics.RelocateError
		s.metrics.IncFile(obsmetrics.FileOutcomeFailed, reason)
		s.logFileFailed(ctx, reason, err)
	}

	if !s.relocate(ctx, name, target) {
		run.summary.RelocationFailures++
		s.metrics.IncRelocationFailure(relocation)
	}
}

// ingest downloads, parses, extracts and persists one file.
func (s *Scheduler) ingest(ctx context.Context, name string) (nfxml.Extraction, snowflake.ID, error) {
	src := path.Join(s.cfg.SourceDir, name)
	data, err := s.download(ctx, src)
	if err != nil {
		return nfxml.Extraction{}, 0, err
	}
	s.telemetry.RecordDownload(ctx, len(data))

	doc, err := nfxml.Parse(bytes.NewReader(data))
	if err != nil {
		return nfxml.Extraction{}, 0, err
	}
	extraction := s.extractor.Extract(doc, name)
	s.telemetry.RecordDefaultedFields(ctx, extraction.Format.String(), len(extraction.Defaulted))

	id, err := s.invoices.Persist(ctx, extraction.Record)
	if err != nil {
		return extraction, 0, err
	}
	return extraction, id, nil
}

func (s *Scheduler) download(ctx context.Context, src string) ([]byte, error) {
	body, err := s.store.Download(ctx, src)
	if err != nil {
		return nil, err
	}
	data, readErr := io.ReadAll(body)
	closeErr := body.Close()
	if readErr != nil {
		return nil, &remotedomain.TransferError{Op: "download", Path: src, Err: readErr}
	}
	if closeErr != nil {
		return nil, &remotedomain.TransferError{Op: "download", Path: src, Err: closeErr}
	}
	return data, nil
}

// relocate moves name from the source directory into dir. It reports false
// when the file could not be moved; the failure is logged, not retried.
func (s *Scheduler) relocate(ctx context.Context, name, dir string) bool {
	src := path.Join(s.cfg.SourceDir, name)
	dst := path.Join(dir, name)
	moveCtx, cancel := context.WithTimeout(ctx, s.cfg.FileTimeout)
	defer cancel()

	moved, err := s.store.Move(moveCtx, src, dst)
	log := s.logger(ctx)
	if err != nil {
		log.Error("ingestion.file.relocate_failed", zap.String("src", src), zap.String("dst", dst), zap.Error(err))
		return false
	}
	if !moved {
		log.Error("ingestion.file.relocate_failed", zap.String("src", src), zap.String("dst", dst), zap.String("error", "source not found"))
		return false
	}
	log.Debug("ingestion.file.relocated", zap.String("src", src), zap.String("dst", dst))
	return true
}

// Bootstrap prepares the target directories and logs the source listing.
// It blocks on the store, so StartLoop calls it from the loop goroutine.
func (s *Scheduler) Bootstrap(ctx context.Context) {
	s.prepareDirectories(ctx)
	s.LogSourceListing(ctx)
}

// prepareDirectories runs EnsureDirectories until one pass completes
// cleanly; later calls are no-ops.
func (s *Scheduler) prepareDirectories(ctx context.Context) {
	if !s.cfg.EnsureDirectories || s.dirsReady.Load() {
		return
	}
	if s.EnsureDirectories(ctx) {
		s.dirsReady.Store(true)
	}
}

// EnsureDirectories creates the processed and error directories when the
// store lacks them. Failures are logged and reported as false.
func (s *Scheduler) EnsureDirectories(ctx context.Context) bool {
	log := s.logger(ctx)
	ok := true
	for _, dir := range []string{s.cfg.ProcessedDir, s.cfg.ErrorDir} {
		exists, err := s.store.Exists(ctx, dir)
		if err != nil {
			log.Warn("ingestion.dir.check_failed", zap.String("dir", dir), zap.Error(err))
			ok = false
			continue
		}
		if exists {
			continue
		}
		created, err := s.store.MakeDirectory(ctx, dir)
		switch {
		case err != nil:
			log.Warn("ingestion.dir.create_failed", zap.String("dir", dir), zap.Error(err))
			ok = false
		case created:
			log.Info("ingestion.dir.created", zap.String("dir", dir))
		default:
			log.Warn("ingestion.dir.create_refused", zap.String("dir", dir))
			ok = false
		}
	}
	return ok
}

// LogSourceListing logs every entry of the source directory at debug level.
func (s *Scheduler) LogSourceListing(ctx context.Context) {
	log := s.logger(ctx)
	if !log.Core().Enabled(zap.DebugLevel) {
		return
	}
	entries, err := s.store.ListFiles(ctx, s.cfg.SourceDir)
	if err != nil {
		log.Debug("ingestion.source.unreadable", zap.String("source_dir", s.cfg.SourceDir), zap.Error(err))
		return
	}
	log.Debug("ingestion.source.listing", zap.String("source_dir", s.cfg.SourceDir), zap.Int("entries", len(entries)))
	for _, entry := range entries {
		if entry.IsDirectory {
			log.Debug("ingestion.source.dir", zap.String("name", entry.Name))
			continue
		}
		log.Debug("ingestion.source.file",
			zap.String("name", entry.Name),
			zap.Int64("size", entry.Size),
			zap.String("ext", path.Ext(entry.Name)),
		)
	}
}

func (s *Scheduler) acquireLock(ctx context.Context) (func(), bool) {
	if s.locker == nil {
		return func() {}, true
	}
	token, ok, err := s.locker.TryLock(ctx, s.cfg.LockKey, s.cfg.LockTTL)
	if err != nil {
		s.logger(ctx).Warn("ingestion.lock.unavailable", zap.Error(err))
		return func() {}, true
	}
	if !ok {
		return nil, false
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, s.cfg.LockKey, token); err != nil {
			s.logger(ctx).Warn("ingestion.lock.release_failed", zap.Error(err))
		}
	}, true
}

// Nudge asks RunForever to start the next run now instead of waiting out the
// delay. Nudges during a run collapse into one.
func (s *Scheduler) Nudge() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// RunForever runs immediately, then again a fixed delay after each run
// completes, until ctx is done.
func (s *Scheduler) RunForever(ctx context.Context) {
	trigger := TriggerSchedule
	nextRun := s.clock.Now()

	for {
		if lag := s.clock.Now().Sub(nextRun); lag > 0 {
			s.metrics.ObserveRunLoopLag(lag)
		}
		_, err := s.RunOnce(obscontext.WithTrigger(ctx, trigger))
		if err != nil && !errors.Is(err, ErrIngestionDisabled) && !errors.Is(err, ErrRunInProgress) && ctx.Err() == nil {
			s.log.Warn("ingestion run failed", zap.Error(err))
		}

		delay := s.runtime().Delay
		nextRun = s.clock.Now().Add(delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			trigger = TriggerSchedule
		case <-s.nudge:
			timer.Stop()
			trigger = TriggerWatch
			nextRun = s.clock.Now()
		}
	}
}

func failureReason(err error) string {
	var (
		transferErr *remotedomain.TransferError
		parseErr    *nfxml.ParseError
		storageErr  *invoicedomain.StorageError
	)
	switch {
	case err == nil:
		return obsmetrics.ReasonNone
	case errors.Is(err, context.DeadlineExceeded):
		return obsmetrics.ReasonDeadlineExceeded
	case errors.Is(err, invoicedomain.ErrDuplicateInvoice):
		return obsmetrics.ReasonDuplicate
	case errors.As(err, &parseErr):
		return obsmetrics.ReasonParse
	case errors.As(err, &transferErr):
		return obsmetrics.ReasonDownload
	case errors.As(err, &storageErr):
		// the persister already turned dedup-key violations into DuplicateError
		if obsmetrics.ClassifyStorageReason(storageErr.Err) == obsmetrics.ReasonDeadlineExceeded {
			return obsmetrics.ReasonDeadlineExceeded
		}
		return obsmetrics.ReasonStorage
	case errors.Is(err, invoicedomain.ErrInvalidRecord):
		return obsmetrics.ReasonStorage
	default:
		return obsmetrics.ReasonUnknown
	}
}

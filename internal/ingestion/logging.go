package ingestion

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/nfsync/internal/invoice/domain"
	"github.com/smallbiznis/nfsync/internal/nfxml"
	obscontext "github.com/smallbiznis/nfsync/internal/observability/context"
	obslogger "github.com/smallbiznis/nfsync/internal/observability/logger"
	"go.uber.org/zap"
)

type runState struct {
	summary RunSummary
	started time.Time
}

func (s *Scheduler) startRun(ctx context.Context, runID string) *runState {
	trigger := obscontext.TriggerFromContext(ctx)
	if trigger == "" {
		trigger = TriggerSchedule
	}
	run := &runState{
		summary: RunSummary{
			RunID:     runID,
			Trigger:   trigger,
			StartedAt: s.clock.Now(),
		},
		started: time.Now(),
	}
	s.logger(ctx).Info("ingestion.run.start",
		zap.String("trigger", trigger),
		zap.String("source_dir", s.cfg.SourceDir),
	)
	return run
}

func (s *Scheduler) finishRun(ctx context.Context, run *runState, err error) RunSummary {
	run.summary.Duration = time.Since(run.started)
	summary := run.summary
	fields := []zap.Field{
		zap.String("trigger", summary.Trigger),
		zap.Int64("duration_ms", summary.Duration.Milliseconds()),
		zap.Int("listed_count", summary.Listed),
		zap.Int("skipped_count", summary.Skipped),
		zap.Int("processed_count", summary.Processed),
		zap.Int("failed_count", summary.Failed),
		zap.Int("duplicate_count", summary.Duplicates),
		zap.Int("relocation_failure_count", summary.RelocationFailures),
	}
	log := s.logger(ctx)
	switch {
	case err != nil:
		log.Error("ingestion.run.finish", append(fields, zap.Error(err))...)
	case summary.Failed > 0 || summary.RelocationFailures > 0:
		log.Warn("ingestion.run.finish", fields...)
	default:
		log.Info("ingestion.run.finish", fields...)
	}
	return summary
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logFileProcessed(ctx context.Context, extraction nfxml.Extraction, id snowflake.ID) {
	fields := []zap.Field{
		zap.String("record_id", id.String()),
		zap.String("format", extraction.Format.String()),
	}
	if record := extraction.Record; record != nil {
		fields = append(fields,
			zap.String("invoice_number", record.InvoiceNumber),
			zap.String("series", record.Series),
			zap.String("total_value", record.TotalValue.StringFixed(2)),
		)
	}
	if len(extraction.Defaulted) > 0 {
		fields = append(fields, zap.Strings("defaulted_fields", extraction.Defaulted))
	}
	s.logger(ctx).Info("invoice.persisted", fields...)
}

func (s *Scheduler) logFileDuplicate(ctx context.Context, err error, treatAsProcessed bool) {
	fields := []zap.Field{
		zap.Bool("treated_as_processed", treatAsProcessed),
		zap.String("error", err.Error()),
	}
	var dup *invoicedomain.DuplicateError
	if errors.As(err, &dup) {
		fields = append(fields,
			zap.String("invoice_number", dup.InvoiceNumber),
			zap.String("series", dup.Series),
		)
	}
	s.logger(ctx).Warn("ingestion.file.duplicate", fields...)
}

func (s *Scheduler) logFileFailed(ctx context.Context, reason string, err error) {
	s.logger(ctx).Error("ingestion.file.failed",
		zap.String("reason", reason),
		zap.String("error", err.Error()),
	)
}

package metrics

import (
	"context"
	"log/slog"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
	"github.com/kirillkom/evidence-journal/internal/core/ports"
)

// StepFanout delivers every step to each recorder in order. Recorders must
// not block; a panicking recorder is logged and skipped.
type StepFanout []ports.StepRecorder

func (f StepFanout) RecordStep(ctx context.Context, step domain.StepLog) {
	for _, recorder := range f {
		if recorder == nil {
			continue
		}
		record(ctx, recorder, step)
	}
}

func record(ctx context.Context, recorder ports.StepRecorder, step domain.StepLog) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("step_recorder_panic", "entry_id", step.EntryID, "tier", step.Tier.String(), "panic", r)
		}
	}()
	recorder.RecordStep(ctx, step)
}

// StepLogger writes each step as a debug event.
type StepLogger struct {
	logger *slog.Logger
}

func NewStepLogger(logger *slog.Logger) *StepLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &StepLogger{logger: logger}
}

func (l *StepLogger) RecordStep(ctx context.Context, step domain.StepLog) {
	attrs := []any{
		"entry_id", step.EntryID,
		"attempt_id", step.AttemptID,
		"tier", step.Tier.String(),
		"outcome", step.Outcome,
		"duration_ms", float64(step.Duration.Microseconds()) / 1000.0,
		"candidates", step.Candidates,
	}
	if step.Score != nil {
		attrs = append(attrs, "score", *step.Score)
	}
	if step.MatchID != "" {
		attrs = append(attrs, "match_id", step.MatchID)
	}
	if step.Error != "" {
		attrs = append(attrs, "error", step.Error)
	}
	l.logger.DebugContext(ctx, "assessment_step", attrs...)
}

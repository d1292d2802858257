// Package sinks contains progress.Sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/retailscout/catalog-crawler/internal/progress"
)

// LogSink writes progress events through a zap logger. Unit completions log
// at debug to keep steady-state output quiet; retries, failures, and run
// lifecycle events log at higher levels.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wraps the logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs every event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("store", evt.StoreID),
			zap.String("category", evt.CanonicalID),
			zap.Int("page", evt.Page),
			zap.Duration("dur", evt.Dur),
		}
		switch evt.Stage {
		case progress.StageUnitDone:
			s.logger.Debug("unit done", append(fields, zap.Int64("products", evt.Products))...)
		case progress.StageUnitRetry:
			s.logger.Warn("unit retry", append(fields, zap.String("reason", evt.Note))...)
		case progress.StageUnitFailed:
			s.logger.Error("unit failed permanently", append(fields, zap.String("reason", evt.Note))...)
		case progress.StageRunStart:
			s.logger.Info("run started", zap.String("run_id", evt.RunID))
		case progress.StageRunDone:
			s.logger.Info("run finished", zap.String("run_id", evt.RunID), zap.Duration("dur", evt.Dur), zap.String("note", evt.Note))
		default:
			s.logger.Debug(string(evt.Stage), fields...)
		}
	}
	return nil
}

// Close is a no-op.
func (s *LogSink) Close(_ context.Context) error {
	return nil
}

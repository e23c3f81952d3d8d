package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultRetentionDays is the history retention used when none is configured.
const DefaultRetentionDays = 90

// SchemaLister names the schemas whose history should be pruned.
type SchemaLister interface {
	Names() []string
}

// RetentionService removes query history older than the retention period.
type RetentionService interface {
	// PruneSchema removes entries older than retentionDays for one schema.
	PruneSchema(ctx context.Context, schemaName string, retentionDays int) (int64, error)

	// RunScheduler prunes every listed schema now and then on each interval,
	// until ctx is cancelled. It returns once the background loop has started.
	RunScheduler(ctx context.Context, interval time.Duration)
}

type retentionService struct {
	history       QueryHistoryService
	schemas       SchemaLister
	retentionDays int
	now           func() time.Time
	logger        *zap.Logger
}

// NewRetentionService creates a retention service. A non-positive retentionDays
// uses DefaultRetentionDays.
func NewRetentionService(history QueryHistoryService, schemas SchemaLister, retentionDays int, logger *zap.Logger) RetentionService {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &retentionService{
		history:       history,
		schemas:       schemas,
		retentionDays: retentionDays,
		now:           time.Now,
		logger:        logger.Named("retention-service"),
	}
}

var _ RetentionService = (*retentionService)(nil)

func (s *retentionService) PruneSchema(ctx context.Context, schemaName string, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = s.retentionDays
	}
	cutoff := s.now().AddDate(0, 0, -retentionDays)

	deleted, err := s.history.PruneOlderThan(ctx, schemaName, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune query history for %q: %w", schemaName, err)
	}
	if deleted > 0 {
		s.logger.Info("Retention cleanup completed",
			zap.String("schema", schemaName),
			zap.Int("retention_days", retentionDays),
			zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

func (s *retentionService) RunScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	go func() {
		s.logger.Info("Retention scheduler started",
			zap.Duration("interval", interval),
			zap.Int("retention_days", s.retentionDays))

		s.pruneAll(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Retention scheduler stopped")
				return
			case <-ticker.C:
				s.pruneAll(ctx)
			}
		}
	}()
}

// pruneAll keeps going past a failing schema.
func (s *retentionService) pruneAll(ctx context.Context) {
	for _, name := range s.schemas.Names() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.PruneSchema(ctx, name, s.retentionDays); err != nil {
			s.logger.Error("Retention scheduler: failed to prune schema",
				zap.String("schema", name),
				zap.Error(err))
		}
	}
}

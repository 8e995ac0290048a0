package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/tollgate/pkg/limits/storage"
)

// Recorder receives the outcome of each pruning run.
type Recorder interface {
	RecordRetentionRun(success bool, removed int, unixTime int64)
}

// Pruner deletes usage and request records older than the retention period.
// Token limit records are never touched.
type Pruner struct {
	store     storage.Store
	retention time.Duration
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewPruner creates a pruner. recorder may be nil.
func NewPruner(store storage.Store, retention time.Duration, recorder Recorder, logger *slog.Logger) (*Pruner, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %v", retention)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		store:     store,
		retention: retention,
		recorder:  recorder,
		logger:    logger.With("component", "retention.pruner"),
		now:       time.Now,
	}, nil
}

// Prune removes every usage record older than now minus the retention
// period and returns how many were removed.
func (p *Pruner) Prune(ctx context.Context) (int, error) {
	now := p.now()
	cutoff := now.Add(-p.retention)

	removed, err := p.store.Cleanup(ctx, cutoff)
	if p.recorder != nil {
		p.recorder.RecordRetentionRun(err == nil, removed, now.Unix())
	}
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage records before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	p.logger.Debug("usage records pruned",
		"cutoff", cutoff,
		"removed", removed,
	)
	return removed, nil
}

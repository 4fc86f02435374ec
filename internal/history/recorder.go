// Package history writes the per-device audit trail.
package history

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fleet-control-plane/internal/history/domain"
	historyrepo "fleet-control-plane/internal/history/repository"
)

// Recorder stamps and persists history entries.
type Recorder struct {
	repo  historyrepo.Repository
	clock *Clock
	log   *zap.Logger
}

// NewRecorder returns a Recorder writing to repo. log may be nil.
func NewRecorder(repo historyrepo.Repository, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{repo: repo, clock: NewClock(), log: log}
}

// Stamp assigns an ID (when empty) and a monotonic CreatedAt to e.
// Use it for entries written through a transaction-scoped repository.
func (r *Recorder) Stamp(e *domain.Entry) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.CreatedAt = r.clock.Now()
}

// Record stamps and persists e.
func (r *Recorder) Record(ctx context.Context, e *domain.Entry) error {
	r.Stamp(e)
	return r.repo.Create(ctx, e)
}

// RecordBestEffort is Record with failures logged instead of returned.
func (r *Recorder) RecordBestEffort(ctx context.Context, e *domain.Entry) {
	if r.repo == nil {
		return
	}
	if err := r.Record(ctx, e); err != nil {
		r.log.Warn("history write failed",
			zap.String("device_id", e.DeviceID),
			zap.String("action", e.Action),
			zap.Error(err))
	}
}

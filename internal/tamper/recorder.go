// Package tamper records security signals raised against devices and forwards
// them to the configured publishers.
package tamper

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fleet-control-plane/internal/tamper/domain"
	"fleet-control-plane/internal/tamper/publisher"
	tamperrepo "fleet-control-plane/internal/tamper/repository"
)

// publishTimeout bounds a single async publish. ShutdownDrainDuration must be at least this long.
const publishTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after the servers stop before closing
// publishers and telemetry providers so in-flight publishes can finish.
const ShutdownDrainDuration = publishTimeout

// Recorder persists signals and publishes them asynchronously.
type Recorder struct {
	repo       tamperrepo.Repository
	publishers []publisher.Publisher
	now        func() time.Time
	log        *zap.Logger
}

// NewRecorder returns a Recorder. Nil publishers are skipped. log may be nil.
func NewRecorder(repo tamperrepo.Repository, log *zap.Logger, pubs ...publisher.Publisher) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Recorder{repo: repo, now: time.Now, log: log}
	for _, p := range pubs {
		if p != nil {
			r.publishers = append(r.publishers, p)
		}
	}
	return r
}

// Raise persists s and then publishes it in the background. Only the persistence error is returned.
func (r *Recorder) Raise(ctx context.Context, s *domain.Signal) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = r.now().UTC()
	}
	if err := r.repo.Create(ctx, s); err != nil {
		return err
	}
	for _, p := range r.publishers {
		PublishAsync(p, s, r.log)
	}
	return nil
}

// RaiseBestEffort is Raise with the error logged.
func (r *Recorder) RaiseBestEffort(ctx context.Context, s *domain.Signal) {
	if err := r.Raise(ctx, s); err != nil {
		r.log.Error("tamper signal write failed",
			zap.String("device_id", s.DeviceID),
			zap.String("signal_type", string(s.Type)),
			zap.Error(err))
	}
}

// Close closes every publisher.
func (r *Recorder) Close() error {
	var lastErr error
	for _, p := range r.publishers {
		if err := p.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// PublishAsync runs Publish in a goroutine bounded by publishTimeout. The goroutine
// uses a background context so request cancellation does not abort it.
func PublishAsync(p publisher.Publisher, s *domain.Signal, log *zap.Logger) {
	if p == nil || s == nil {
		return
	}
	go func() {
		pubCtx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.Publish(pubCtx, s); err != nil && log != nil {
			log.Warn("tamper signal publish failed", zap.String("device_id", s.DeviceID), zap.Error(err))
		}
	}()
}

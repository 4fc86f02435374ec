// Package publisher fans tamper signals out to external sinks.
package publisher

import (
	"context"

	"fleet-control-plane/internal/tamper/domain"
)

// Publisher forwards a persisted signal. Callers use it best-effort: log and ignore errors.
type Publisher interface {
	Publish(ctx context.Context, s *domain.Signal) error
	// Close releases resources. Safe to call if already closed.
	Close() error
}

package integrity

import (
	"context"
	"fmt"

	historydomain "fleet-control-plane/internal/history/domain"
)

// HistoryReader is the slice of the history repository the resolver needs.
type HistoryReader interface {
	FirstByAction(ctx context.Context, deviceID, action string) (*historydomain.Entry, error)
}

// BaselineResolver loads the registration baseline: the new values of the
// device's first "create" history entry.
type BaselineResolver struct {
	history HistoryReader
}

// NewBaselineResolver returns a resolver reading from history.
func NewBaselineResolver(history HistoryReader) *BaselineResolver {
	return &BaselineResolver{history: history}
}

// Resolve returns the baseline for deviceID and its status. Storage failures are returned as errors.
func (b *BaselineResolver) Resolve(ctx context.Context, deviceID string) (map[string]any, BaselineStatus, error) {
	entry, err := b.history.FirstByAction(ctx, deviceID, historydomain.ActionCreate)
	if err != nil {
		return nil, "", fmt.Errorf("load registration baseline: %w", err)
	}
	if entry == nil || len(entry.NewValues) == 0 {
		return nil, BaselineNotEstablished, nil
	}
	for _, v := range entry.NewValues {
		if hasData(v) {
			return entry.NewValues, BaselineEstablished, nil
		}
	}
	return entry.NewValues, BaselineEmpty, nil
}

func hasData(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	}
	return true
}

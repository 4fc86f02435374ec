// Package integrity compares live device state reported by heartbeats against
// the registration baseline and classifies drift by severity.
package integrity

import (
	"context"
	"strings"

	"go.uber.org/zap"

	devicedomain "fleet-control-plane/internal/device/domain"
)

// LockReasonPrefix starts every auto-lock reason.
const LockReasonPrefix = "Device security compromised: "

// Engine runs heartbeat comparisons. It never writes state.
type Engine struct {
	baseline *BaselineResolver
	log      *zap.Logger
}

// NewEngine returns an Engine. log may be nil.
func NewEngine(baseline *BaselineResolver, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{baseline: baseline, log: log}
}

// Compare checks the normalized heartbeat fields in incoming against the
// device's registration baseline. Without an established baseline the result is empty.
func (e *Engine) Compare(ctx context.Context, device *devicedomain.Device, incoming map[string]any) (*Result, error) {
	baseline, status, err := e.baseline.Resolve(ctx, device.ID)
	if err != nil {
		return nil, err
	}
	res := newResult(status)
	if status != BaselineEstablished {
		return res, nil
	}

	for _, field := range TrackedFields {
		current, ok := incoming[field]
		if !ok || Skips(device.DeviceType, field) {
			continue
		}
		registered := baseline[field]

		switch {
		case field == "device_imeis":
			out := compareIMEIs(registered, current)
			switch {
			case !out.ok:
				res.addMismatch(field, SeverityOf(field))
			case out.decreased():
				res.Details[field] = FieldDetail{Status: StatusMatchedWithWarning, Warning: out.warning()}
				e.log.Warn("imei count decreased",
					zap.String("device_id", device.ID),
					zap.Int("baseline_count", out.baselineCount),
					zap.Int("current_count", out.currentCount),
					zap.Strings("missing_imeis", out.missing))
			default:
				res.Details[field] = FieldDetail{Status: StatusMatched}
			}

		case field == "installed_ram" && device.DeviceType.IsDesktop():
			out := compareRAM(registered, current)
			if out.ok {
				res.Details[field] = FieldDetail{Status: StatusMatched}
				continue
			}
			res.addMismatch(field, SeverityHigh)
			e.log.Warn("ram below tolerance",
				zap.String("device_id", device.ID),
				zap.Float64("registered_gb", out.registeredGB),
				zap.Float64("current_gb", out.currentGB),
				zap.Float64("min_allowed_gb", out.minAllowedGB))

		default:
			switch st := compareExact(registered, current); st {
			case StatusMismatch:
				res.addMismatch(field, SeverityOf(field))
			default:
				res.Details[field] = FieldDetail{Status: st}
			}
		}
	}

	if res.HighSeverityCount > 0 {
		res.ShouldAutoLock = true
		res.LockReason = LockReasonPrefix + strings.Join(res.HighFields(), ", ")
	}
	return res, nil
}

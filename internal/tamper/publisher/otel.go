package publisher

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"fleet-control-plane/internal/tamper/domain"
)

const instrumentationName = "fleet.tamper"

// NewOTelPublisher returns a Publisher that emits signals as OTel log records via provider.
// If provider is nil, it returns nil so callers can pass it straight to the recorder.
func NewOTelPublisher(provider *sdklog.LoggerProvider) Publisher {
	if provider == nil {
		return nil
	}
	return &otelPublisher{logger: provider.Logger(instrumentationName)}
}

// RecordEmitter is the subset of otellog.Logger the publisher needs.
type RecordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewOTelPublisherWithLogger wraps an existing emitter.
func NewOTelPublisherWithLogger(logger RecordEmitter) Publisher {
	return &otelPublisher{logger: logger}
}

type otelPublisher struct {
	logger RecordEmitter
}

func (p *otelPublisher) Publish(ctx context.Context, s *domain.Signal) error {
	if s == nil {
		return nil
	}
	var rec otellog.Record
	ts := s.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetSeverity(severity(s.Level))
	rec.SetSeverityText(string(s.Level))
	rec.SetBody(otellog.StringValue(s.Description))
	rec.AddAttributes(
		otellog.String("device_id", s.DeviceID),
		otellog.String("signal_type", string(s.Type)),
		otellog.String("level", string(s.Level)),
		otellog.Bool("auto_action_taken", s.AutoActionTaken),
	)
	if s.ActionDescription != "" {
		rec.AddAttributes(otellog.String("action_description", s.ActionDescription))
	}
	p.logger.Emit(ctx, rec)
	return nil
}

func (p *otelPublisher) Close() error { return nil }

func severity(l domain.Level) otellog.Severity {
	if l == domain.LevelHigh {
		return otellog.SeverityError
	}
	return otellog.SeverityWarn
}

package alerts

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes alerts to the structured log
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.L()
	}
	return &LogNotifier{log: logger.Named("alerts")}
}

func (l *LogNotifier) Notify(_ context.Context, a Alert) error {
	fields := []zap.Field{
		zap.String("kind", a.Kind),
		zap.String("severity", a.Severity),
		zap.String("subject", a.Subject),
		zap.String("message", a.Message),
	}
	for k, v := range a.Fields {
		fields = append(fields, zap.String(k, v))
	}
	switch a.Severity {
	case SeverityCritical:
		l.log.Error("alert", fields...)
	case SeverityWarning:
		l.log.Warn("alert", fields...)
	default:
		l.log.Info("alert", fields...)
	}
	return nil
}

// Multi fans an alert out to every notifier, returning the first error.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, a Alert) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Send delivers a best-effort alert; failures are only logged.
func Send(ctx context.Context, n Notifier, a Alert) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, a); err != nil {
		zap.L().Warn("alert delivery failed", zap.String("kind", a.Kind), zap.Error(err))
	}
}

package zapsink

import (
	"context"

	"github.com/goliatone/go-traits/pkg/observe"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Hook adapts observe events to a zap structured logger.
type Hook struct {
	logger *zap.Logger
	level  zapcore.Level
}

// Option configures a Hook instance.
type Option func(*Hook)

// WithLevel sets the level events are logged at. Defaults to Info.
func WithLevel(level zapcore.Level) Option {
	return func(h *Hook) {
		h.level = level
	}
}

// New constructs a hook that writes each event as one log entry.
func New(logger *zap.Logger, opts ...Option) Hook {
	hook := Hook{logger: logger, level: zapcore.InfoLevel}
	for _, opt := range opts {
		if opt != nil {
			opt(&hook)
		}
	}
	return hook
}

// Notify maps the event into zap fields and forwards it to the logger.
func (h Hook) Notify(_ context.Context, event observe.Event) error {
	if h.logger == nil {
		return nil
	}

	normalized := observe.NormalizeEvent(event)
	if normalized.Verb == "" || normalized.Trait == "" {
		return nil
	}

	fields := []zap.Field{
		zap.String("trait", normalized.Trait),
		zap.String("channel", normalized.Channel),
		zap.Time("occurred_at", normalized.OccurredAt),
	}
	if normalized.Key != "" {
		fields = append(fields, zap.String("key", normalized.Key))
	}
	if normalized.Duration > 0 {
		fields = append(fields, zap.Duration("duration", normalized.Duration))
	}
	if len(normalized.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", normalized.Metadata))
	}

	h.logger.Log(h.level, normalized.Verb, fields...)
	return nil
}

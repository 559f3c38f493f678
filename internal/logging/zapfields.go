package logging

import (
	"sort"

	"go.uber.org/zap"
)

// toZapFields converts a field map into zap fields in key order, so that
// entries with the same fields always encode identically.
func toZapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		switch v := fields[k].(type) {
		case error:
			out = append(out, zap.NamedError(k, v))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}

// Zap returns the underlying *zap.Logger, carrying this logger's fields.
func (l *Logger) Zap() *zap.Logger {
	return l.base.WithOptions(zap.AddCallerSkip(-2))
}

// Named returns a zap logger for a component, e.g. "power_estimator".
func (l *Logger) Named(component string) *zap.Logger {
	return l.Zap().Named(component)
}

// NewZapLogger creates a new *zap.Logger that writes through logger.
func NewZapLogger(logger *Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger.Zap()
}

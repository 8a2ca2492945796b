// Package zap adapts *zap.Logger to cqcache.Logger.
package zap

import (
	"github.com/unkn0wn-root/cqcache"
	"go.uber.org/zap"
)

type Logger struct{ L *zap.Logger }

var _ cqcache.Logger = Logger{}

func New(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return Logger{L: l.Named("cqcache")}
}

func (z Logger) Debug(msg string, f cqcache.Fields) { z.L.Debug(msg, fields(f)...) }
func (z Logger) Info(msg string, f cqcache.Fields)  { z.L.Info(msg, fields(f)...) }
func (z Logger) Warn(msg string, f cqcache.Fields)  { z.L.Warn(msg, fields(f)...) }
func (z Logger) Error(msg string, f cqcache.Fields) { z.L.Error(msg, fields(f)...) }

func (z Logger) With(f cqcache.Fields) cqcache.Logger {
	return Logger{L: z.L.With(fields(f)...)}
}

func fields(f cqcache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}

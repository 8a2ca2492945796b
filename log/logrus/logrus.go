// Package logrus adapts *logrus.Entry to cqcache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/cqcache"
)

type Logger struct{ E *logrus.Entry }

var _ cqcache.Logger = Logger{}

func New(l *logrus.Logger) Logger {
	return Logger{E: logrus.NewEntry(l).WithField("component", "cqcache")}
}

func (l Logger) Debug(msg string, f cqcache.Fields) { l.E.WithFields(logrus.Fields(f)).Debug(msg) }
func (l Logger) Info(msg string, f cqcache.Fields)  { l.E.WithFields(logrus.Fields(f)).Info(msg) }
func (l Logger) Warn(msg string, f cqcache.Fields)  { l.E.WithFields(logrus.Fields(f)).Warn(msg) }
func (l Logger) Error(msg string, f cqcache.Fields) { l.E.WithFields(logrus.Fields(f)).Error(msg) }

func (l Logger) With(f cqcache.Fields) cqcache.Logger {
	return Logger{E: l.E.WithFields(logrus.Fields(f))}
}

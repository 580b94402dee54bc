package logger

import (
	"github.com/pion/logging"
	"go.uber.org/zap"
)

// PionFactory routes pion's internal logging (ICE, DTLS, SCTP...) into zap.
type PionFactory struct {
	base *zap.Logger
}

// NewPionFactory returns a pion LoggerFactory writing through base.
// A nil base uses the global logger at the time each scope is created.
func NewPionFactory(base *zap.Logger) *PionFactory {
	return &PionFactory{base: base}
}

// NewLogger implements logging.LoggerFactory
func (f *PionFactory) NewLogger(scope string) logging.LeveledLogger {
	base := f.base
	if base == nil {
		base = Log
	}
	return &pionLogger{
		l: base.WithOptions(zap.AddCallerSkip(1)).Named("pion").With(zap.String("scope", scope)).Sugar(),
	}
}

type pionLogger struct {
	l *zap.SugaredLogger
}

// zap has no trace level; trace folds into debug.
func (p *pionLogger) Trace(msg string)                          { p.l.Debug(msg) }
func (p *pionLogger) Tracef(format string, args ...interface{}) { p.l.Debugf(format, args...) }
func (p *pionLogger) Debug(msg string)                          { p.l.Debug(msg) }
func (p *pionLogger) Debugf(format string, args ...interface{}) { p.l.Debugf(format, args...) }
func (p *pionLogger) Info(msg string)                           { p.l.Info(msg) }
func (p *pionLogger) Infof(format string, args ...interface{})  { p.l.Infof(format, args...) }
func (p *pionLogger) Warn(msg string)                           { p.l.Warn(msg) }
func (p *pionLogger) Warnf(format string, args ...interface{})  { p.l.Warnf(format, args...) }
func (p *pionLogger) Error(msg string)                          { p.l.Error(msg) }
func (p *pionLogger) Errorf(format string, args ...interface{}) { p.l.Errorf(format, args...) }

var _ logging.LoggerFactory = (*PionFactory)(nil)

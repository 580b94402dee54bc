package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process logger. It discards output until Init is called.
var Log = zap.NewNop()

// Config holds logger configuration
type Config struct {
	Level    string // debug, info, warn, error
	Format   string // json, text
	Output   string // stdout, file
	FilePath string
}

// Init replaces Log according to cfg. Unknown levels mean info.
func Init(cfg *Config) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewDevelopmentConfig()
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	zc.OutputPaths, zc.ErrorOutputPaths = []string{"stdout"}, []string{"stderr"}
	if cfg.Output == "file" && cfg.FilePath != "" {
		zc.OutputPaths, zc.ErrorOutputPaths = []string{cfg.FilePath}, []string{cfg.FilePath}
	}

	built, err := zc.Build(
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return err
	}
	Log = built
	return nil
}

type fieldsKey struct{}

// WithFields tags ctx so FromContext adds fields to every entry
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	prev, _ := ctx.Value(fieldsKey{}).([]zap.Field)
	merged := make([]zap.Field, 0, len(prev)+len(fields))
	merged = append(merged, prev...)
	merged = append(merged, fields...)
	return context.WithValue(ctx, fieldsKey{}, merged)
}

// WithRequestID tags ctx with the request id
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return WithFields(ctx, zap.String("request_id", requestID))
}

// WithCallID tags ctx with the call record a request is working on
func WithCallID(ctx context.Context, callID string) context.Context {
	return WithFields(ctx, zap.String("call_id", callID))
}

// FromContext returns Log carrying the fields tagged on ctx
func FromContext(ctx context.Context) *zap.Logger {
	if fields, ok := ctx.Value(fieldsKey{}).([]zap.Field); ok {
		return Log.With(fields...)
	}
	return Log
}

func Debug(msg string, fields ...zap.Field) { Log.Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { Log.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { Log.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Log.Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { Log.Fatal(msg, fields...) }

// With creates a child logger with additional fields
func With(fields ...zap.Field) *zap.Logger { return Log.With(fields...) }

// Named creates a child logger for a component
func Named(component string) *zap.Logger { return Log.Named(component) }

// Sync flushes any buffered log entries
func Sync() error { return Log.Sync() }

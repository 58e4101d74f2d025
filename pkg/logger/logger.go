package logger

import (
	"context"
	"os"
	"time"

	"github.com/DanielCayresFilho/NoVendx/internal/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the global logger
var Log *zap.Logger

// Options configures optional log file output.
type Options struct {
	// File, when set, receives a copy of every entry, rotated by size.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Initialize sets up the global logger with the specified log level
func Initialize(level string, opts ...Options) error {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.InfoLevel
	}

	customTimeEncoder := func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     customTimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stdout)}
	if len(opts) > 0 && opts[0].File != "" {
		o := opts[0]
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    o.MaxSizeMB,
			MaxBackups: o.MaxBackups,
			MaxAge:     o.MaxAgeDays,
			Compress:   true,
		}))
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.NewMultiWriteSyncer(sinks...),
		zap.NewAtomicLevelAt(zapLevel),
	)

	Log = zap.New(core,
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
	)

	return nil
}

// WithLogger attaches a scoped logger to the context
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts a logger from the context
func FromContext(ctx context.Context) *zap.Logger {
	baseLogger := Log
	if baseLogger == nil {
		baseLogger = zap.NewNop()
	}
	if ctx == nil {
		return baseLogger
	}

	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		baseLogger = logger
	}

	if requestID, err := trace.RequestIDFromContext(ctx); err == nil {
		baseLogger = baseLogger.With(zap.String("request_id", requestID))
	}
	if operatorID, ok := trace.OperatorIDFromContext(ctx); ok {
		baseLogger = baseLogger.With(zap.Int64("operator_id", operatorID))
	}

	return baseLogger
}

// Sync flushes any buffered log entries
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}

// FromContextOr returns the logger from the context or the default logger if not found.
func FromContextOr(ctx context.Context, defaultLogger *zap.Logger) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
			return l
		}
	}
	if defaultLogger != nil {
		return defaultLogger
	}
	return FromContext(nil)
}

type contextKey int

const (
	loggerKey contextKey = iota
)

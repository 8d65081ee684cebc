package main

import (
	"context"
	"io"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLogger adapts a sugared zap logger to the glog contract the service consumes.
// zap has no trace level; trace records are written at debug.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

func newLogger(w io.Writer, level string) *zapLogger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(w),
		zap.NewAtomicLevelAt(parseLevel(level)),
	)
	return &zapLogger{sugar: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace", "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *zapLogger) Trace(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *zapLogger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *zapLogger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *zapLogger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *zapLogger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }
func (l *zapLogger) Fatal(msg string, args ...any) { l.sugar.Fatalw(msg, args...) }

func (l *zapLogger) WithContext(context.Context) glog.Logger {
	return l
}

// GetLogger satisfies glog.LoggerProvider with a named child logger.
func (l *zapLogger) GetLogger(name string) glog.Logger {
	return &zapLogger{sugar: l.sugar.Named(name)}
}

func (l *zapLogger) Sync() error {
	return l.sugar.Sync()
}

var (
	_ glog.Logger         = (*zapLogger)(nil)
	_ glog.LoggerProvider = (*zapLogger)(nil)
)

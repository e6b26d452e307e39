// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"context"
	"fmt"

	"github.com/netascode/go-xows"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLogger adapts a zap logger to xows.Logger
type zapLogger struct {
	l *zap.SugaredLogger
}

func newZapLogger(l *zap.Logger) *zapLogger {
	return &zapLogger{l: l.Sugar()}
}

func (z *zapLogger) Debug(_ context.Context, msg string, keysAndValues ...any) {
	z.l.Debugw(msg, keysAndValues...)
}

func (z *zapLogger) Info(_ context.Context, msg string, keysAndValues ...any) {
	z.l.Infow(msg, keysAndValues...)
}

func (z *zapLogger) Warn(_ context.Context, msg string, keysAndValues ...any) {
	z.l.Warnw(msg, keysAndValues...)
}

func (z *zapLogger) Error(_ context.Context, msg string, keysAndValues ...any) {
	z.l.Errorw(msg, keysAndValues...)
}

// Level reports the zap threshold as an xows level
func (z *zapLogger) Level() xows.LogLevel {
	switch level := z.l.Level(); {
	case level <= zapcore.DebugLevel:
		return xows.LogLevelDebug
	case level == zapcore.InfoLevel:
		return xows.LogLevelInfo
	case level == zapcore.WarnLevel:
		return xows.LogLevelWarn
	default:
		return xows.LogLevelError
	}
}

// zapLevel maps an xows level name to a zap level. ok is false for "none".
func zapLevel(name string) (level zapcore.Level, ok bool, err error) {
	parsed, err := xows.ParseLogLevel(name)
	if err != nil {
		return 0, false, err
	}
	switch parsed {
	case xows.LogLevelDebug:
		return zapcore.DebugLevel, true, nil
	case xows.LogLevelInfo:
		return zapcore.InfoLevel, true, nil
	case xows.LogLevelWarn:
		return zapcore.WarnLevel, true, nil
	case xows.LogLevelError:
		return zapcore.ErrorLevel, true, nil
	default:
		return 0, false, nil
	}
}

// buildLogger creates the library logger writing to standard error
func buildLogger(levelName string) (xows.Logger, error) {
	level, ok, err := zapLevel(levelName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &xows.NoOpLogger{}, nil
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return newZapLogger(l), nil
}

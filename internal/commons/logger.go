// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package commons provides the structured logger used across every
// component of the orchestration engine.
package commons

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging surface every component depends on. Call sites
// across the engine use the zap-sugared method set (Xf for printf-style,
// Xw for structured key/value pairs) plus a Benchmark helper for timing
// network round-trips.
type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})

	Debugw(msg string, kv ...interface{})
	Infow(msg string, kv ...interface{})
	Warnw(msg string, kv ...interface{})
	Errorw(msg string, kv ...interface{})

	Error(args ...interface{})
	Warn(args ...interface{})

	// Benchmark logs how long a named operation took, the way
	// WebsocketExecutor.Initialize reports its connect time.
	Benchmark(name string, d time.Duration)

	// Sync flushes any buffered log entries before process exit.
	Sync() error
}

type sugaredLogger struct {
	*zap.SugaredLogger
}

func (l *sugaredLogger) Benchmark(name string, d time.Duration) {
	l.Infow("benchmark", "op", name, "duration_ms", d.Milliseconds())
}

// Config controls where/how logs are written.
type Config struct {
	Level      string // debug|info|warn|error
	Filename   string // rotated log file path; empty disables file output
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Console    bool // also write to stderr
}

// NewLogger builds a Logger backed by zap, with lumberjack.v2 as the
// rotating file sink when Config.Filename is set — the same pairing the
// teacher's go.mod carries (go.uber.org/zap + gopkg.in/natefinch/lumberjack.v2).
func NewLogger(cfg Config) (Logger, error) {
	level := parseLevel(cfg.Level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	var cores []zapcore.Core
	if cfg.Filename != "" {
		writer := &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    orDefault(cfg.MaxSizeMB, 50),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(writer), level))
	}
	if cfg.Console || cfg.Filename == "" {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level))
	}

	core := zapcore.NewTee(cores...)
	zl := zap.New(core, zap.AddCaller())
	return &sugaredLogger{zl.Sugar()}, nil
}

// NewNopLogger returns a Logger that discards everything, for tests that
// don't want to assert on log output.
func NewNopLogger() Logger {
	return &sugaredLogger{zap.NewNop().Sugar()}
}

func parseLevel(level string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Package observability owns the process-wide zap logger. The console core
// writes to the terminal at a quiet level; the file core keeps a rotated JSON
// log of everything the engine does.
package observability

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/m4xw311/shellmind/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger atomic.Pointer[zap.Logger]
	once         sync.Once
)

// Initialize builds the global logger from cfg. Console output goes to
// consoleWriter only when cfg.Console is set; otherwise the console core
// reports warnings and above so the REPL stays readable.
func Initialize(cfg config.LogConfig, consoleWriter zapcore.WriteSyncer) {
	once.Do(func() {
		level := zap.NewAtomicLevel()
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level.SetLevel(zap.InfoLevel)
		}

		consoleLevel := zap.NewAtomicLevelAt(zap.WarnLevel)
		if cfg.Console {
			consoleLevel = level
		}
		cores := []zapcore.Core{
			zapcore.NewCore(consoleEncoder(), consoleWriter, consoleLevel),
		}

		if cfg.File != "" {
			path, err := config.ExpandPath(cfg.File)
			if err == nil && os.MkdirAll(filepath.Dir(path), 0o755) == nil {
				fileWriter := zapcore.AddSync(&lumberjack.Logger{
					Filename:   path,
					MaxSize:    cfg.MaxSize,
					MaxBackups: cfg.MaxBackups,
					MaxAge:     cfg.MaxAge,
				})
				cores = append(cores, zapcore.NewCore(jsonEncoder(), fileWriter, level))
			}
		}

		logger := zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zap.ErrorLevel)).Named("shellmind")
		globalLogger.Store(logger)
		zap.ReplaceGlobals(logger)
	})
}

func jsonEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

func consoleEncoder() zapcore.Encoder {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(name + ".")
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

// GetLogger returns the global logger, or a no-op logger before Initialize.
func GetLogger() *zap.Logger {
	if logger := globalLogger.Load(); logger != nil {
		return logger
	}
	return zap.NewNop()
}

// Sync flushes buffered log entries.
func Sync() {
	if logger := globalLogger.Load(); logger != nil {
		_ = logger.Sync()
	}
}

// ResetForTest clears the global logger. Tests only.
func ResetForTest() {
	globalLogger.Store(nil)
	once = sync.Once{}
}

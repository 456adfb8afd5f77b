package logger

import (
	"os"
	"strings"

	"FunnelCheck/pkg/utils"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global zap logger instance
	globalLogger *zap.Logger
	globalSugar  *zap.SugaredLogger
)

// ParseLevel maps a config level name onto a zap level, defaulting to INFO.
func ParseLevel(logLevel string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(logLevel)) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "INFO":
		return zapcore.InfoLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Init initializes the global zap logger. An empty logFile logs to stderr
// so stdout stays free for reports.
func Init(logLevel string, logFile string) error {
	level := ParseLevel(logLevel)

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if logFile != "" {
		fileConfig := zap.Config{
			Level:            zap.NewAtomicLevelAt(level),
			Development:      false,
			Encoding:         "json",
			EncoderConfig:    encoderConfig,
			OutputPaths:      []string{logFile},
			ErrorOutputPaths: []string{logFile},
		}
		logger, err := fileConfig.Build()
		if err != nil {
			return err
		}
		globalLogger = logger
	} else {
		consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)
		core := zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stderr), level)
		globalLogger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	}

	globalSugar = globalLogger.Sugar()
	return nil
}

// SetLogger replaces the global logger, e.g. with zaptest/observer in tests.
func SetLogger(l *zap.Logger) {
	globalLogger = l
	globalSugar = l.Sugar()
}

// GetLogger returns the global zap logger
func GetLogger() *zap.Logger {
	if globalLogger == nil {
		// Initialize with default config if not already done
		_ = Init("INFO", "")
	}
	return globalLogger
}

// GetSugarLogger returns the global sugared zap logger
func GetSugarLogger() *zap.SugaredLogger {
	if globalSugar == nil {
		_ = Init("INFO", "")
	}
	return globalSugar
}

// Sync flushes any buffered log entries
func Sync() error {
	if globalLogger != nil {
		return globalLogger.Sync()
	}
	return nil
}

// Convenience functions
func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(utils.SanitizeLog(msg), fields...)
}

func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(utils.SanitizeLog(msg), fields...)
}

func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(utils.SanitizeLog(msg), fields...)
}

func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(utils.SanitizeLog(msg), fields...)
}

// Sugared convenience functions
func Debugf(template string, args ...interface{}) {
	GetSugarLogger().Debug(sanitize(template, args...))
}

func Infof(template string, args ...interface{}) {
	GetSugarLogger().Info(sanitize(template, args...))
}

func Warnf(template string, args ...interface{}) {
	GetSugarLogger().Warn(sanitize(template, args...))
}

func Errorf(template string, args ...interface{}) {
	GetSugarLogger().Error(sanitize(template, args...))
}

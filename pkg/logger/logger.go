// Package logger wraps zap for FunnelCheck: a global console logger for the
// CLI and a file-backed Logger that keeps the debug log of a single run.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"FunnelCheck/pkg/utils"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	DEBUG Level = "DEBUG"
	INFO  Level = "INFO"
	WARN  Level = "WARN"
	ERROR Level = "ERROR"
)

// RunLogFile is the name of the per-run debug log inside the artifacts directory.
const RunLogFile = "debug.log"

// Logger writes a run's debug log to a file and can mirror entries to the
// global console logger.
type Logger struct {
	sugar    *zap.SugaredLogger
	file     *os.File
	filePath string
	mirror   bool
}

// New creates a Logger appending to <storagePath>/debug.log.
func New(storagePath string) (*Logger, error) {
	if err := os.MkdirAll(storagePath, 0755); err != nil {
		return nil, err
	}

	logPath := filepath.Join(storagePath, RunLogFile)

	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	fileEncoder := zapcore.NewConsoleEncoder(encoderConfig)
	fileCore := zapcore.NewCore(fileEncoder, zapcore.AddSync(logFile), zapcore.DebugLevel)
	zapLogger := zap.New(fileCore, zap.AddCaller(), zap.AddCallerSkip(1))

	return &Logger{
		sugar:    zapLogger.Sugar(),
		file:     logFile,
		filePath: logPath,
	}, nil
}

// Mirror makes the logger also forward INFO and above to the global logger.
func (l *Logger) Mirror(on bool) *Logger {
	l.mirror = on
	return l
}

// Path returns the log file path.
func (l *Logger) Path() string {
	return l.filePath
}

func (l *Logger) log(level Level, message string) {
	message = utils.SanitizeLog(message)

	switch level {
	case DEBUG:
		l.sugar.Debug(message)
	case INFO:
		l.sugar.Info(message)
		if l.mirror {
			GetSugarLogger().Info(message)
		}
	case WARN:
		l.sugar.Warn(message)
		if l.mirror {
			GetSugarLogger().Warn(message)
		}
	case ERROR:
		l.sugar.Error(message)
		if l.mirror {
			GetSugarLogger().Error(message)
		}
	}
}

func (l *Logger) Debug(format string, v ...any) {
	l.log(DEBUG, fmt.Sprintf(format, v...))
}

func (l *Logger) Info(format string, v ...any) {
	l.log(INFO, fmt.Sprintf(format, v...))
}

func (l *Logger) Warn(format string, v ...any) {
	l.log(WARN, fmt.Sprintf(format, v...))
}

func (l *Logger) Error(format string, v ...any) {
	l.log(ERROR, fmt.Sprintf(format, v...))
}

// GetLastLines returns the last n lines of the log file.
func (l *Logger) GetLastLines(n int) string {
	content, err := os.ReadFile(l.filePath)
	if err != nil {
		return "Error reading log file"
	}

	lines := splitLines(string(content))
	if len(lines) <= n {
		return string(content)
	}

	return strings.Join(lines[len(lines)-n:], "\n")
}

func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	_ = l.sugar.Sync()
	return l.file.Close()
}

func splitLines(s string) []string {
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

func sanitize(format string, args ...any) string {
	return utils.SanitizeLog(fmt.Sprintf(format, args...))
}

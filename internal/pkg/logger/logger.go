// Package logger wraps logrus with rotation via lumberjack and exposes a
// package-level global instance so every component can log without
// threading a logger handle through every constructor.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"endpointagent/internal/config"
)

// Manager owns a configured logrus instance and the LogConfig it was built
// from, so UpdateConfig can diff against the previous settings.
type Manager struct {
	logger *logrus.Logger
	config *config.LogConfig
}

// Instance is the process-wide logger, set by Init and read by the
// package-level convenience functions below.
var Instance *Manager

// Init builds a Manager from cfg and installs it as the global Instance.
func Init(cfg *config.LogConfig) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("log config cannot be nil")
	}

	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
		l.Warnf("invalid log level %q, defaulting to info", cfg.Level)
	}
	l.SetLevel(level)

	if err := setFormatter(l, cfg); err != nil {
		return nil, fmt.Errorf("failed to set log formatter: %w", err)
	}
	if err := setOutput(l, cfg); err != nil {
		return nil, fmt.Errorf("failed to set log output: %w", err)
	}
	l.SetReportCaller(cfg.Caller)

	m := &Manager{logger: l, config: cfg}
	Instance = m
	return m, nil
}

func setFormatter(l *logrus.Logger, cfg *config.LogConfig) error {
	timestampFormat := "2006-01-02 15:04:05.000"
	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
				logrus.FieldKeyFunc:  "function",
				logrus.FieldKeyFile:  "file",
			},
		})
	case "text", "":
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: timestampFormat,
			FullTimestamp:   true,
		})
	default:
		return fmt.Errorf("unsupported log format: %s", cfg.Format)
	}
	return nil
}

func setOutput(l *logrus.Logger, cfg *config.LogConfig) error {
	switch strings.ToLower(cfg.Output) {
	case "stdout", "":
		l.SetOutput(os.Stdout)
	case "stderr":
		l.SetOutput(os.Stderr)
	case "file":
		if cfg.FilePath == "" {
			return fmt.Errorf("file path is required when output is file")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		if strings.ToLower(cfg.Level) == "debug" {
			l.SetOutput(io.MultiWriter(os.Stdout, rotator))
		} else {
			l.SetOutput(rotator)
		}
	default:
		return fmt.Errorf("unsupported log output: %s", cfg.Output)
	}
	return nil
}

// Logger returns the underlying logrus instance.
func (m *Manager) Logger() *logrus.Logger { return m.logger }

// UpdateConfig applies a changed LogConfig at runtime, touching only the
// settings that actually differ from the current one.
func (m *Manager) UpdateConfig(next *config.LogConfig) error {
	if next == nil {
		return fmt.Errorf("new log config cannot be nil")
	}
	if next.Level != m.config.Level {
		level, err := logrus.ParseLevel(next.Level)
		if err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
		m.logger.SetLevel(level)
	}
	if next.Format != m.config.Format {
		if err := setFormatter(m.logger, next); err != nil {
			return err
		}
	}
	if next.Output != m.config.Output || next.FilePath != m.config.FilePath {
		if err := setOutput(m.logger, next); err != nil {
			return err
		}
	}
	if next.Caller != m.config.Caller {
		m.logger.SetReportCaller(next.Caller)
	}
	m.config = next
	return nil
}

func Debug(args ...interface{}) {
	if Instance != nil {
		Instance.logger.Debug(args...)
	}
}

func Debugf(format string, args ...interface{}) {
	if Instance != nil {
		Instance.logger.Debugf(format, args...)
	}
}

func Info(args ...interface{}) {
	if Instance != nil {
		Instance.logger.Info(args...)
	}
}

func Infof(format string, args ...interface{}) {
	if Instance != nil {
		Instance.logger.Infof(format, args...)
	}
}

func Warn(args ...interface{}) {
	if Instance != nil {
		Instance.logger.Warn(args...)
	}
}

func Warnf(format string, args ...interface{}) {
	if Instance != nil {
		Instance.logger.Warnf(format, args...)
	}
}

func Error(args ...interface{}) {
	if Instance != nil {
		Instance.logger.Error(args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if Instance != nil {
		Instance.logger.Errorf(format, args...)
	}
}

func Fatal(args ...interface{}) {
	if Instance != nil {
		Instance.logger.Fatal(args...)
	}
}

func WithField(key string, value interface{}) *logrus.Entry {
	if Instance != nil {
		return Instance.logger.WithField(key, value)
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	if Instance != nil {
		return Instance.logger.WithFields(fields)
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

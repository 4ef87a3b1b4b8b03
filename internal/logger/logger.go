package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"

	"github.com/calign/retime/internal/config"
	"github.com/calign/retime/pkg/version"
)

// Fields aliases logrus.Fields so callers outside the host do not need a
// logrus import for one map literal.
type Fields = logrus.Fields

// New builds the process logger. Level, format and destination come from
// cfg; anything other than stdout or stderr is treated as a file path and
// rotated through lumberjack. Every record is stamped with the service
// identity by a hook, so entries derived with extra fields keep it.
func New(cfg *config.LoggingConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	out, err := buildOutput(cfg)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(buildFormatter(cfg.Format))
	logger.SetOutput(out)
	logger.AddHook(&identityHook{
		service: "retime",
		version: version.GetInfo().Short(),
	})
	return logger, nil
}

func buildFormatter(format string) logrus.Formatter {
	if format == "json" {
		return &logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	}
}

// buildOutput resolves the log destination. The converted stream may own
// stdout, which is why file and stderr destinations exist at all; the
// config default is stderr.
func buildOutput(cfg *config.LoggingConfig) (io.Writer, error) {
	switch cfg.Output {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Output), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.Output,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}, nil
}

// identityHook adds the service name and version to every record unless
// the entry already set them.
type identityHook struct {
	service string
	version string
}

func (h *identityHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *identityHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["service"]; !ok {
		e.Data["service"] = h.service
	}
	if _, ok := e.Data["version"]; !ok {
		e.Data["version"] = h.version
	}
	return nil
}

// WithComponent derives the entry a subsystem logs through.
func WithComponent(logger *logrus.Logger, component string) *logrus.Entry {
	return logger.WithField("component", component)
}

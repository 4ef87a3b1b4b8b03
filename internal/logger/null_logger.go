package logger

import "github.com/sirupsen/logrus"

// NullLogger discards everything. Components that accept an optional
// logger substitute it for nil so they never have to branch.
type NullLogger struct{}

// NewNullLogger returns a logger that drops all output.
func NewNullLogger() Logger {
	return NullLogger{}
}

func (n NullLogger) WithFields(fields map[string]interface{}) Logger { return n }

func (n NullLogger) WithField(key string, value interface{}) Logger { return n }

func (n NullLogger) WithError(err error) Logger { return n }

func (n NullLogger) Debug(args ...interface{}) {}

func (n NullLogger) Info(args ...interface{}) {}

func (n NullLogger) Warn(args ...interface{}) {}

func (n NullLogger) Error(args ...interface{}) {}

func (n NullLogger) Log(level logrus.Level, args ...interface{}) {}

func (n NullLogger) Debugf(format string, args ...interface{}) {}

func (n NullLogger) Infof(format string, args ...interface{}) {}

func (n NullLogger) Warnf(format string, args ...interface{}) {}

func (n NullLogger) Errorf(format string, args ...interface{}) {}

// Fatal is absorbed like every other level. A discarded logger must not
// take the process down.
func (n NullLogger) Fatal(args ...interface{}) {}

// Package app holds the per-process context handed to every component.
package app

import (
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Env is passed into each component at construction. It replaces any
// package-level logger or version state.
type Env struct {
	Log     *logrus.Entry
	Version string
	RunID   string
	Now     func() time.Time
}

// New builds an Env around logger, tagging every entry with the run id
// and version.
func New(logger *logrus.Logger, version string) *Env {
	runID := uuid.NewString()
	return &Env{
		Log: logger.WithFields(logrus.Fields{
			"run_id":  runID,
			"version": version,
		}),
		Version: version,
		RunID:   runID,
		Now:     time.Now,
	}
}

// NewLogger creates a logrus logger with the given level and format
// ("text" or "json").
func NewLogger(out io.Writer, verbose bool, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// Discard returns an Env whose log output goes nowhere. Used by tests.
func Discard() *Env {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(logger, "test")
}

// Clock returns the current time according to env.
func (e *Env) Clock() time.Time {
	if e == nil || e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// Fork returns a copy of env with a fresh run id. Used when one process
// executes several runs.
func (e *Env) Fork() *Env {
	runID := uuid.NewString()
	return &Env{
		Log:     e.Log.WithField("run_id", runID),
		Version: e.Version,
		RunID:   runID,
		Now:     e.Now,
	}
}

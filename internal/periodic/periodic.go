// Package periodic repeats runs on a cron schedule.
package periodic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/feedsweep/internal/app"
)

// Job is one scheduled run. Its context is cancelled when the watcher
// stops.
type Job func(ctx context.Context)

// Watcher runs a job on a cron schedule, never overlapping itself.
type Watcher struct {
	cron    *cron.Cron
	log     *logrus.Entry
	mu      sync.Mutex
	entryID cron.EntryID
}

// New creates a watcher for the given timezone ("" means local time).
func New(env *app.Env, timezone string) (*Watcher, error) {
	loc := time.Local
	if timezone != "" {
		var err error
		if loc, err = time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
		}
	}
	log := env.Log.WithField("component", "periodic")
	cl := cronLogger{log}
	return &Watcher{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log: log,
	}, nil
}

// Validate reports whether Watch would accept schedule.
func Validate(schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return nil
}

// Schedule sets the job, replacing any previous one.
func (w *Watcher) Schedule(ctx context.Context, schedule string, job Job) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.entryID != 0 {
		w.cron.Remove(w.entryID)
	}
	id, err := w.cron.AddFunc(schedule, func() { job(ctx) })
	if err != nil {
		return fmt.Errorf("add cron job: %w", err)
	}
	w.entryID = id
	return nil
}

// Watch schedules job and blocks until ctx is done, then waits for a
// running job to return.
func (w *Watcher) Watch(ctx context.Context, schedule string, job Job) error {
	if err := w.Schedule(ctx, schedule, job); err != nil {
		return err
	}
	w.cron.Start()
	w.log.WithField("schedule", schedule).Info("watching")

	<-ctx.Done()
	w.log.Info("stopping, waiting for running job")
	<-w.cron.Stop().Done()
	return nil
}

// cronLogger routes cron's own messages to logrus.
type cronLogger struct {
	log *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(kv []any) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}

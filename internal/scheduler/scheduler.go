// Package scheduler runs feed fetches with a bounded number in flight and
// delivers their outcomes in completion order.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/TobiSchelling/feedsweep/internal/app"
	"github.com/TobiSchelling/feedsweep/internal/feed"
	"github.com/TobiSchelling/feedsweep/internal/metrics"
)

// Fetcher produces a channel for one feed.
type Fetcher interface {
	Fetch(ctx context.Context, d *feed.Descriptor) (*feed.Channel, error)
}

// Result is the outcome of one fetch. Exactly one of Channel and Err is set.
type Result struct {
	Feed    *feed.Descriptor
	Channel *feed.Channel
	Err     error
}

// State is the scheduler's lifecycle stage within one run.
type State int32

const (
	Idle State = iota
	Dispatching
	Draining
	Done
)

func (s State) String() string {
	switch s {
	case Dispatching:
		return "dispatching"
	case Draining:
		return "draining"
	case Done:
		return "done"
	default:
		return "idle"
	}
}

// Scheduler is used for one run at a time.
type Scheduler struct {
	fetcher Fetcher
	limit   int
	log     *logrus.Entry
	metrics *metrics.Recorder
	state   atomic.Int32
}

// New creates a Scheduler allowing at most limit concurrent fetches.
func New(env *app.Env, fetcher Fetcher, limit int, rec *metrics.Recorder) *Scheduler {
	if limit <= 0 {
		limit = 1
	}
	return &Scheduler{
		fetcher: fetcher,
		limit:   limit,
		log:     env.Log.WithField("component", "scheduler"),
		metrics: rec,
	}
}

// State reports the current lifecycle stage.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Run dispatches feeds in order and returns a channel of results that is
// closed once every dispatched fetch has finished. Cancelling ctx stops
// further dispatch; fetches already running are not interrupted and their
// results are still delivered.
func (s *Scheduler) Run(ctx context.Context, feeds []*feed.Descriptor) <-chan Result {
	results := make(chan Result, len(feeds))
	s.state.Store(int32(Dispatching))

	go func() {
		defer close(results)

		sem := semaphore.NewWeighted(int64(s.limit))
		fetchCtx := context.WithoutCancel(ctx)
		var wg sync.WaitGroup

		dispatched := 0
		for _, d := range feeds {
			if ctx.Err() != nil {
				break
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			dispatched++
			wg.Add(1)
			go func(d *feed.Descriptor) {
				defer wg.Done()
				defer sem.Release(1)

				done := s.metrics.FetchStarted()
				ch, err := s.fetcher.Fetch(fetchCtx, d)
				done()
				if err != nil {
					ch = nil
				}
				results <- Result{Feed: d, Channel: ch, Err: err}
			}(d)
		}

		if dispatched < len(feeds) {
			s.log.WithFields(logrus.Fields{
				"dispatched": dispatched,
				"skipped":    len(feeds) - dispatched,
			}).Warn("run aborted, not dispatching remaining feeds")
		}

		s.state.Store(int32(Draining))
		wg.Wait()
		s.state.Store(int32(Done))
	}()

	return results
}

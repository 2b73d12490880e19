package output

import (
	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/feedsweep/internal/app"
	"github.com/TobiSchelling/feedsweep/internal/feed"
	"github.com/TobiSchelling/feedsweep/internal/metrics"
)

type named struct {
	name string
	dest Destination
}

// Coordinator owns the run's destinations. It isolates their failures from
// each other and flushes each exactly once.
type Coordinator struct {
	log     *logrus.Entry
	metrics *metrics.Recorder
	dests   []named
	counts  map[string]int
	flushed bool
}

// NewCoordinator returns a coordinator with no destinations.
func NewCoordinator(env *app.Env, rec *metrics.Recorder) *Coordinator {
	return &Coordinator{
		log:     env.Log.WithField("component", "output"),
		metrics: rec,
		counts:  make(map[string]int),
	}
}

// Add registers a destination under name.
func (c *Coordinator) Add(name string, d Destination) {
	c.dests = append(c.dests, named{name: name, dest: d})
	c.counts[name] = 0
}

// Names returns destination names in registration order.
func (c *Coordinator) Names() []string {
	out := make([]string, len(c.dests))
	for i, n := range c.dests {
		out[i] = n.name
	}
	return out
}

// Accumulate hands items to every destination. Failures are logged and
// returned; the remaining destinations still receive the items.
func (c *Coordinator) Accumulate(ch *feed.Channel, items []*feed.Item, d *feed.Descriptor) []error {
	if len(items) == 0 {
		return nil
	}
	var errs []error
	for _, n := range c.dests {
		if err := n.dest.Accumulate(ch, items, d); err != nil {
			oerr := &Error{Destination: n.name, Op: "accumulate", Err: err}
			c.log.WithError(err).WithFields(logrus.Fields{
				"destination": n.name,
				"feed":        d.URL,
			}).Error("output failed to accumulate")
			c.metrics.OutputFailed(n.name, "accumulate")
			errs = append(errs, oerr)
			continue
		}
		c.counts[n.name] += len(items)
		c.metrics.ItemsOutput(n.name, len(items))
	}
	return errs
}

// Flush flushes every destination once. Later calls do nothing.
func (c *Coordinator) Flush() []error {
	if c.flushed {
		return nil
	}
	c.flushed = true

	var errs []error
	for _, n := range c.dests {
		if err := n.dest.Flush(); err != nil {
			c.log.WithError(err).WithField("destination", n.name).Error("output failed to flush")
			c.metrics.OutputFailed(n.name, "flush")
			errs = append(errs, &Error{Destination: n.name, Op: "flush", Err: err})
			continue
		}
		c.log.WithFields(logrus.Fields{
			"destination":  n.name,
			"content_type": n.dest.ContentType(),
			"items":        c.counts[n.name],
		}).Debug("output flushed")
	}
	return errs
}

// Counts returns items accepted per destination.
func (c *Coordinator) Counts() map[string]int {
	out := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// Package metrics records run statistics in a Prometheus registry that can
// be dumped as a node-exporter textfile after each run. A nil *Recorder
// records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Recorder struct {
	reg *prometheus.Registry

	feedsAttempted prometheus.Counter
	feedsFailed    *prometheus.CounterVec
	newItems       prometheus.Counter
	itemsOutput    *prometheus.CounterVec
	outputErrors   *prometheus.CounterVec
	fetchDuration  prometheus.Histogram
	inFlight       prometheus.Gauge
	cacheEntries   prometheus.Gauge
	cachePruned    prometheus.Counter
	runDuration    prometheus.Gauge
	lastSuccess    prometheus.Gauge
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		feedsAttempted: f.NewCounter(prometheus.CounterOpts{
			Name: "feedsweep_feeds_attempted_total",
			Help: "Feeds dispatched for fetching",
		}),
		feedsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsweep_feeds_failed_total",
			Help: "Feeds skipped because of an error",
		}, []string{"stage"}),
		newItems: f.NewCounter(prometheus.CounterOpts{
			Name: "feedsweep_new_items_total",
			Help: "Items not present in the cache when their feed was processed",
		}),
		itemsOutput: f.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsweep_items_output_total",
			Help: "Items handed to each output destination",
		}, []string{"destination"}),
		outputErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsweep_output_errors_total",
			Help: "Output destination failures",
		}, []string{"destination", "op"}),
		fetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedsweep_fetch_duration_seconds",
			Help:    "Time spent fetching and parsing one feed",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "feedsweep_fetches_in_flight",
			Help: "Fetches currently running",
		}),
		cacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "feedsweep_cache_entries",
			Help: "Entries in the item cache",
		}),
		cachePruned: f.NewCounter(prometheus.CounterOpts{
			Name: "feedsweep_cache_pruned_total",
			Help: "Cache entries evicted for exceeding their feed's horizon",
		}),
		runDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "feedsweep_run_duration_seconds",
			Help: "Wall time of the last run",
		}),
		lastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "feedsweep_last_success_timestamp_seconds",
			Help: "Unix time of the last run that finished without a fatal error",
		}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// FetchStarted marks a fetch as in flight. The returned func ends it.
func (r *Recorder) FetchStarted() func() {
	if r == nil {
		return func() {}
	}
	r.feedsAttempted.Inc()
	r.inFlight.Inc()
	start := time.Now()
	return func() {
		r.inFlight.Dec()
		r.fetchDuration.Observe(time.Since(start).Seconds())
	}
}

func (r *Recorder) FeedFailed(stage string) {
	if r == nil {
		return
	}
	r.feedsFailed.WithLabelValues(stage).Inc()
}

func (r *Recorder) NewItems(n int) {
	if r == nil {
		return
	}
	r.newItems.Add(float64(n))
}

func (r *Recorder) ItemsOutput(destination string, n int) {
	if r == nil {
		return
	}
	r.itemsOutput.WithLabelValues(destination).Add(float64(n))
}

func (r *Recorder) OutputFailed(destination, op string) {
	if r == nil {
		return
	}
	r.outputErrors.WithLabelValues(destination, op).Inc()
}

func (r *Recorder) Cache(entries, pruned int) {
	if r == nil {
		return
	}
	r.cacheEntries.Set(float64(entries))
	r.cachePruned.Add(float64(pruned))
}

// RunFinished records the run's duration and, when ok, its end time.
func (r *Recorder) RunFinished(start, end time.Time, ok bool) {
	if r == nil {
		return
	}
	r.runDuration.Set(end.Sub(start).Seconds())
	if ok {
		r.lastSuccess.Set(float64(end.Unix()))
	}
}

// WriteTextfile dumps all metrics in the Prometheus text format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.reg)
}

package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "pagestream"

	// Status label values for success/error metrics
	StatusSuccess = "success"
	StatusError   = "error"

	Pager    = "pager"
	Stream   = "stream"
	Mediator = "mediator"
)

// Labels holds constant labels applied to all metrics.
// These are useful for distinguishing metrics from multiple engine instances.
type Labels struct {
	Dataset       string // Logical dataset or feed name served by this instance
	Environment   string // Deployment environment (e.g., "production", "staging", "development")
	Region        string // Cloud region (e.g., "us-east-1", "eu-west-1")
	CloudProvider string // Cloud provider (e.g., "aws", "oci", "gcp")
}

// toPrometheusLabels converts Labels to prometheus.Labels map.
// Only non-empty labels are included to avoid empty label values.
func (l Labels) toPrometheusLabels() prometheus.Labels {
	labels := prometheus.Labels{}
	if l.Dataset != "" {
		labels["dataset"] = l.Dataset
	}
	if l.Environment != "" {
		labels["environment"] = l.Environment
	}
	if l.Region != "" {
		labels["region"] = l.Region
	}
	if l.CloudProvider != "" {
		labels["cloud_provider"] = l.CloudProvider
	}
	return labels
}

type Metrics struct {
	// Window state
	totalSize  prometheus.Gauge
	windowKeys prometheus.Gauge

	// Pull pager loads
	loadsStarted    prometheus.Counter
	loadsSuperseded prometheus.Counter
	loadsFailed     prometheus.Counter
	loadDuration    prometheus.Histogram
	portionsMerged  prometheus.Counter
	evictedKeys     prometheus.Counter

	// Streaming pager subscriptions
	activeStreams prometheus.Gauge
	streamsOpened prometheus.Counter
	streamsClosed prometheus.Counter
	totalUpdates  prometheus.Counter
	rangeErrors   prometheus.Counter

	// Mediator local/remote coordination
	localHits          prometheus.Counter
	localMisses        prometheus.Counter
	remoteFetches      *prometheus.CounterVec
	remoteDuration     prometheus.Histogram
	consistencyRetries prometheus.Counter
	portionsSaved      prometheus.Counter
}

// New creates a new Metrics instance and registers all metrics with the provided registerer.
// Returns an error if any metric registration fails.
// For metrics with constant labels (e.g., dataset), use NewWithLabels instead.
func New(reg prometheus.Registerer) (*Metrics, error) {
	return NewWithLabels(reg, Labels{})
}

// NewWithLabels creates a new Metrics instance with constant labels applied to all metrics.
// This is useful when running multiple engine instances and needing to filter by dataset.
func NewWithLabels(reg prometheus.Registerer, labels Labels) (*Metrics, error) {
	// Wrap the registerer with constant labels if any are provided
	promLabels := labels.toPrometheusLabels()
	if len(promLabels) > 0 {
		reg = prometheus.WrapRegistererWith(promLabels, reg)
	}

	return newMetrics(reg)
}

// newMetrics is the internal constructor that creates and registers all metrics.
func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		totalSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "total_size",
			Help:      "Current known total item count of the dataset",
		}),
		windowKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "window_keys",
			Help:      "Number of positions currently materialized in the cache window",
		}),
		loadsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Pager,
			Name:      "loads_started_total",
			Help:      "Total background loads started by the pull pager",
		}),
		loadsSuperseded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Pager,
			Name:      "loads_superseded_total",
			Help:      "Total in-flight loads cancelled because a newer access key arrived",
		}),
		loadsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Pager,
			Name:      "loads_failed_total",
			Help:      "Total loads terminated by a source error",
		}),
		loadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Pager,
			Name:      "load_duration_seconds",
			Help:      "Time from load start to queue drain",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		portionsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "portions_merged_total",
			Help:      "Total data portions merged into the window",
		}),
		evictedKeys: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "evicted_keys_total",
			Help:      "Total positions dropped by cache-window eviction",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Stream,
			Name:      "active_subscriptions",
			Help:      "Number of open chunk subscriptions held by the streaming pager",
		}),
		streamsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Stream,
			Name:      "subscriptions_opened_total",
			Help:      "Total chunk subscriptions opened",
		}),
		streamsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Stream,
			Name:      "subscriptions_closed_total",
			Help:      "Total chunk subscriptions closed by window movement or total shrink",
		}),
		totalUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Stream,
			Name:      "total_updates_total",
			Help:      "Total distinct total-size values received from the side-channel",
		}),
		rangeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Stream,
			Name:      "range_errors_total",
			Help:      "Total chunk subscriptions terminated by a source error",
		}),
		localHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Mediator,
			Name:      "local_hits_total",
			Help:      "Total positions served from the local cache source",
		}),
		localMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Mediator,
			Name:      "local_misses_total",
			Help:      "Total positions missing or stale in the local cache source",
		}),
		remoteFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Mediator,
			Name:      "remote_fetches_total",
			Help:      "Total remote fetches by status",
		}, []string{"status"}),
		remoteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Mediator,
			Name:      "remote_fetch_duration_seconds",
			Help:      "Remote fetch duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		consistencyRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Mediator,
			Name:      "consistency_retries_total",
			Help:      "Total clear-and-refetch rounds triggered by total-size disagreement",
		}),
		portionsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Mediator,
			Name:      "portions_saved_total",
			Help:      "Total merged portions persisted to the local cache source",
		}),
	}

	err := errors.Join(
		reg.Register(m.totalSize),
		reg.Register(m.windowKeys),
		reg.Register(m.loadsStarted),
		reg.Register(m.loadsSuperseded),
		reg.Register(m.loadsFailed),
		reg.Register(m.loadDuration),
		reg.Register(m.portionsMerged),
		reg.Register(m.evictedKeys),
		reg.Register(m.activeStreams),
		reg.Register(m.streamsOpened),
		reg.Register(m.streamsClosed),
		reg.Register(m.totalUpdates),
		reg.Register(m.rangeErrors),
		reg.Register(m.localHits),
		reg.Register(m.localMisses),
		reg.Register(m.remoteFetches),
		reg.Register(m.remoteDuration),
		reg.Register(m.consistencyRetries),
		reg.Register(m.portionsSaved),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// UpdateWindowMetrics updates the window state gauges after a merge or eviction.
func (m *Metrics) UpdateWindowMetrics(totalSize, windowKeys int) {
	if m == nil {
		return
	}
	m.totalSize.Set(float64(totalSize))
	m.windowKeys.Set(float64(windowKeys))
}

// IncLoadStarted records a new background load dispatched by the pull pager.
func (m *Metrics) IncLoadStarted() {
	if m == nil {
		return
	}
	m.loadsStarted.Inc()
}

// IncLoadSuperseded records an in-flight load cancelled by a newer access key.
func (m *Metrics) IncLoadSuperseded() {
	if m == nil {
		return
	}
	m.loadsSuperseded.Inc()
}

// RecordLoad records a finished load with its outcome and duration.
func (m *Metrics) RecordLoad(err error, durationSeconds float64) {
	if m == nil {
		return
	}
	m.loadDuration.Observe(durationSeconds)
	if err != nil {
		m.loadsFailed.Inc()
	}
}

// RecordMerge records one portion merged into the window and the number of
// positions evicted while applying the cache-window filter.
func (m *Metrics) RecordMerge(evicted int) {
	if m == nil {
		return
	}
	m.portionsMerged.Inc()
	if evicted > 0 {
		m.evictedKeys.Add(float64(evicted))
	}
}

// SetActiveStreams updates the open chunk subscription gauge.
func (m *Metrics) SetActiveStreams(n int) {
	if m == nil {
		return
	}
	m.activeStreams.Set(float64(n))
}

// IncStreamOpened records a chunk subscription being opened.
func (m *Metrics) IncStreamOpened() {
	if m == nil {
		return
	}
	m.streamsOpened.Inc()
}

// AddStreamsClosed records chunk subscriptions being closed.
func (m *Metrics) AddStreamsClosed(n int) {
	if m == nil {
		return
	}
	if n > 0 {
		m.streamsClosed.Add(float64(n))
	}
}

// IncTotalUpdate records a distinct total-size emission from the side-channel.
func (m *Metrics) IncTotalUpdate() {
	if m == nil {
		return
	}
	m.totalUpdates.Inc()
}

// IncRangeError records a chunk subscription terminated by a source error.
func (m *Metrics) IncRangeError() {
	if m == nil {
		return
	}
	m.rangeErrors.Inc()
}

// RecordLocalRead records the hit/miss split of one local cache read.
func (m *Metrics) RecordLocalRead(hits, misses int) {
	if m == nil {
		return
	}
	if hits > 0 {
		m.localHits.Add(float64(hits))
	}
	if misses > 0 {
		m.localMisses.Add(float64(misses))
	}
}

// RecordRemoteFetch records one remote fetch with its outcome and duration.
func (m *Metrics) RecordRemoteFetch(err error, durationSeconds float64) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.remoteFetches.WithLabelValues(status).Inc()
	m.remoteDuration.Observe(durationSeconds)
}

// IncConsistencyRetry records a clear-and-refetch round.
func (m *Metrics) IncConsistencyRetry() {
	if m == nil {
		return
	}
	m.consistencyRetries.Inc()
}

// IncPortionSaved records a merged portion persisted to the local source.
func (m *Metrics) IncPortionSaved() {
	if m == nil {
		return
	}
	m.portionsSaved.Inc()
}

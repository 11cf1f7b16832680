package observer

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "go-degen-pov/internal/errors"
)

const metricsNamespace = "degenpov"

// MetricsObserver exports pipeline events as Prometheus metrics
type MetricsObserver struct {
	started       prometheus.Counter
	outcomes      *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	duration      prometheus.Histogram
	inFlight      prometheus.Gauge
	assetNotFound prometheus.Counter
}

// NewMetricsObserver registers the pipeline metrics with reg
func NewMetricsObserver(reg prometheus.Registerer) *MetricsObserver {
	factory := promauto.With(reg)
	return &MetricsObserver{
		started: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pipeline_started_total",
			Help:      "The total number of overlay pipeline invocations.",
		}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pipeline_outcomes_total",
			Help:      "Finished overlay pipelines by outcome; reason is empty on success.",
		}, []string{"outcome", "reason"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Time spent in each pipeline state.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"state"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "pipeline_duration_seconds",
			Help:      "End to end pipeline latency.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pipeline_in_flight",
			Help:      "Pipelines started but not yet finished.",
		}),
		assetNotFound: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "asset_not_found_total",
			Help:      "Requests naming an asset that is not in the registry.",
		}),
	}
}

// OnEvent handles pipeline events by updating metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event PipelineEvent) {
	if event.PreviousState != "" {
		o.stageDuration.WithLabelValues(event.PreviousState).Observe(event.StageDuration.Seconds())
	}

	switch event.EventType {
	case PipelineStarted:
		o.started.Inc()
		o.inFlight.Inc()
	case PipelineCompleted:
		o.inFlight.Dec()
		o.outcomes.WithLabelValues("done", "").Inc()
		o.duration.Observe(event.Elapsed.Seconds())
	case PipelineFailed:
		o.inFlight.Dec()
		o.outcomes.WithLabelValues("failed", string(event.Reason)).Inc()
		o.duration.Observe(event.Elapsed.Seconds())
		if event.Reason == apperrors.ReasonAssetNotFound {
			o.assetNotFound.Inc()
		}
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

package harness

import (
	"context"
	"errors"
	"time"

	"github.com/ZanzyTHEbar/intentguard/intentguard/generation/artifact"
	"github.com/ZanzyTHEbar/intentguard/intentguard/generation/models"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "intentguard"

// Metrics holds the consensus engine's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	Verdicts       *prometheus.CounterVec
	PredictLatency prometheus.Histogram
	PredictErrors  *prometheus.CounterVec
	Evaluations    prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Consensus requests answered from the result cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Consensus requests that required inference.",
		}),
		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "consensus",
			Name:      "verdicts_total",
			Help:      "Consensus verdicts by outcome.",
		}, []string{"result"}),
		PredictLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "provider",
			Name:      "predict_duration_seconds",
			Help:      "Latency of single inference calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		PredictErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "provider",
			Name:      "predict_errors_total",
			Help:      "Failed inference calls by error kind.",
		}, []string{"kind"}),
		Evaluations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "consensus",
			Name:      "evaluation_duration_seconds",
			Help:      "Wall time of uncached consensus runs.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.CacheHits, m.CacheMisses, m.Verdicts, m.PredictLatency, m.PredictErrors, m.Evaluations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) cacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) cacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) verdict(result bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := "false"
	if result {
		label = "true"
	}
	m.Verdicts.WithLabelValues(label).Inc()
	m.Evaluations.Observe(elapsed.Seconds())
}

func (m *Metrics) predict(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PredictErrors.WithLabelValues(ErrorKind(err)).Inc()
		return
	}
	m.PredictLatency.Observe(elapsed.Seconds())
}

// ErrorKind maps a provider error to a short, bounded label.
func ErrorKind(err error) string {
	var (
		transportErr *models.TransportError
		apiErr       *models.APIError
		parseErr     *models.ResponseParseError
	)
	switch {
	case errors.As(err, &transportErr):
		return "transport"
	case errors.As(err, &apiErr):
		return "api"
	case errors.As(err, &parseErr):
		return "parse"
	case errors.Is(err, artifact.ErrChecksumMismatch):
		return "checksum"
	case errors.Is(err, models.ErrProcessExitedDuringStartup), errors.Is(err, models.ErrPortDetectionTimeout):
		return "startup"
	case errors.Is(err, models.ErrRuntimeTerminated):
		return "terminated"
	case errors.Is(err, models.ErrLlamaUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}

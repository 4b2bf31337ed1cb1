package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"imagereader/internal/analysis"
	"imagereader/internal/prompt"
)

var (
	once sync.Once

	// AnalysesTotal counts finished analyses by outcome (complete or a failure kind).
	AnalysesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imagereader",
		Name:      "analyses_total",
		Help:      "Total number of finished analyses, labeled by result.",
	}, []string{"result"})

	AnalysisDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "imagereader",
		Name:      "analysis_duration_seconds",
		Help:      "End-to-end time of one analysis, from upload to published result.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 60, 120, 300},
	}, []string{"result"})

	ModelCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imagereader",
		Name:      "model_calls_total",
		Help:      "Total number of model calls, labeled by prompt label and result.",
	}, []string{"label", "result"})

	ModelCallDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "imagereader",
		Name:      "model_call_duration_seconds",
		Help:      "Latency of a single model call.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 60, 120},
	}, []string{"label"})

	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "imagereader",
		Name:      "sessions_active",
		Help:      "Number of sessions currently held in memory.",
	})
)

// Register registers the metrics with the default registry. Safe to call
// multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			AnalysesTotal,
			AnalysisDurationSeconds,
			ModelCallsTotal,
			ModelCallDurationSeconds,
			SessionsActive,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Observer feeds analysis timings into the collectors above.
type Observer struct{}

func (Observer) ObserveCall(label prompt.Label, err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ModelCallsTotal.WithLabelValues(string(label), result).Inc()
	ModelCallDurationSeconds.WithLabelValues(string(label)).Observe(d.Seconds())
}

func (Observer) ObserveAnalysis(out analysis.Outcome) {
	status := out.Status()
	AnalysesTotal.WithLabelValues(status).Inc()
	AnalysisDurationSeconds.WithLabelValues(status).Observe(out.Elapsed.Seconds())
}

// SetSessions is used as a session.Manager change hook.
func SetSessions(active int) {
	SessionsActive.Set(float64(active))
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder counts what the bracket engine does. A nil Recorder is valid and
// records nothing, which keeps tests free of metric wiring.
type Recorder struct {
	registry *prometheus.Registry

	advancements      prometheus.Counter
	byes              prometheus.Counter
	repairs           *prometheus.CounterVec
	rejections        *prometheus.CounterVec
	retries           *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		advancements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bracket",
			Name:      "advancements_total",
			Help:      "Occupants written into a downstream slot.",
		}),
		byes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bracket",
			Name:      "byes_resolved_total",
			Help:      "Matches completed without being played.",
		}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bracket",
			Name:      "repairs_total",
			Help:      "Structural repairs derived from round and slot arithmetic.",
		}, []string{"kind"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bracket",
			Name:      "rejections_total",
			Help:      "Operations rejected with a typed failure.",
		}, []string{"kind"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bracket",
			Name:      "store_retries_total",
			Help:      "Store calls retried after a transient failure.",
		}, []string{"op"}),
		reconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bracket",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of reconciliation passes.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	r.registry.MustRegister(
		r.advancements, r.byes, r.repairs, r.rejections, r.retries, r.reconcileDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) Advancement() {
	if r == nil {
		return
	}
	r.advancements.Inc()
}

func (r *Recorder) ByeResolved() {
	if r == nil {
		return
	}
	r.byes.Inc()
}

func (r *Recorder) Repair(kind string) {
	if r == nil {
		return
	}
	r.repairs.WithLabelValues(kind).Inc()
}

func (r *Recorder) Rejection(kind string) {
	if r == nil {
		return
	}
	r.rejections.WithLabelValues(kind).Inc()
}

func (r *Recorder) StoreRetry(op string) {
	if r == nil {
		return
	}
	r.retries.WithLabelValues(op).Inc()
}

func (r *Recorder) ReconcileDuration(d time.Duration) {
	if r == nil {
		return
	}
	r.reconcileDuration.Observe(d.Seconds())
}

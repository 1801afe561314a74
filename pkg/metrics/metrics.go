package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "editorbridge"

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	Callbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "callbacks_total", Help: "Editor callbacks by reported status and reconciliation outcome."},
		[]string{"status", "outcome"},
	)
	SessionsBuilt = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "sessions_built_total", Help: "Editor sessions built by mode."},
		[]string{"mode"},
	)
	ContentServed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "content_fetch_total", Help: "Content endpoint requests by result."},
		[]string{"result"},
	)
	CallbackFetchSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{Namespace: namespace, Name: "callback_fetch_seconds", Help: "Time spent downloading saved content from the editor server.", Buckets: prometheus.DefBuckets},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(Callbacks)
	reg.MustRegister(SessionsBuilt)
	reg.MustRegister(ContentServed)
	reg.MustRegister(CallbackFetchSeconds)
}

// Package metrics exposes the assistant's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tailortalk/internal/apperr"
)

const namespace = "tailortalk"

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_total",
		Help:      "Conversation turns by classified action.",
	}, []string{"action"})
	turnFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turn_failures_total",
		Help:      "Recovered turn failures by kind.",
	}, []string{"kind"})
	calendarCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "calendar_calls_total",
		Help:      "Calendar backend calls by operation and result.",
	}, []string{"op", "result"})
	llmRequestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "llm_request_seconds",
		Help:      "Latency of language model requests.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
	}, []string{"result"})
)

func Turn(action string) {
	turnsTotal.WithLabelValues(action).Inc()
}

func TurnFailure(kind apperr.Code) {
	turnFailuresTotal.WithLabelValues(string(kind)).Inc()
}

func CalendarCall(op string, err error) {
	calendarCallsTotal.WithLabelValues(op, result(err)).Inc()
}

func ObserveLLM(d time.Duration, err error) {
	llmRequestSeconds.WithLabelValues(result(err)).Observe(d.Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Package metrics exposes Prometheus counters for the turn pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TurnsCompleted counts turns that finished with a full answer.
	TurnsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_turns_completed_total",
		Help: "Turns that streamed to completion.",
	})

	// TurnsFailed counts turns aborted by transport or patch failures.
	TurnsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_turns_failed_total",
		Help: "Turns aborted before completion, by cause.",
	}, []string{"cause"})

	// FeedbackSubmitted counts feedback side-channel submissions.
	FeedbackSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_feedback_submitted_total",
		Help: "Feedback submissions, by key and outcome.",
	}, []string{"key", "outcome"})
)

// Failure causes recorded on TurnsFailed.
const (
	CauseMalformedPatch = "malformed_patch"
	CauseTransport      = "transport"
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

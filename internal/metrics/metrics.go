// Package metrics holds the prometheus collectors of the joke economy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// CreditsAwarded counts credits earned by publishing jokes.
	CreditsAwarded prometheus.Counter
	// Unlocks counts view attempts by outcome: author, unlocked, debited, denied.
	Unlocks *prometheus.CounterVec
	// Ratings counts submitted ratings, updates included.
	Ratings prometheus.Counter
	// Comments counts comments by action: added, deleted.
	Comments *prometheus.CounterVec
	// Moderation counts moderator actions by action and result kind.
	Moderation *prometheus.CounterVec
	// RequestDuration tracks HTTP handler latency by route and status code.
	RequestDuration *prometheus.HistogramVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CreditsAwarded: f.NewCounter(prometheus.CounterOpts{
			Name: "jokes_credits_awarded_total",
			Help: "Credits awarded for published jokes",
		}),
		Unlocks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jokes_view_unlocks_total",
			Help: "Joke view attempts by outcome",
		}, []string{"outcome"}),
		Ratings: f.NewCounter(prometheus.CounterOpts{
			Name: "jokes_ratings_total",
			Help: "Ratings submitted",
		}),
		Comments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jokes_comments_total",
			Help: "Comment changes by action",
		}, []string{"action"}),
		Moderation: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jokes_moderation_actions_total",
			Help: "Moderator actions by action and result",
		}, []string{"action", "result"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jokes_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"route", "code"}),
	}
}

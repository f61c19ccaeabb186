// Package metrics exposes the Prometheus instruments of the name engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// NamesGenerated counts generated names by the strategy that produced them.
	NamesGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onomancer_names_generated_total",
		Help: "Total number of generated names by strategy",
	}, []string{"strategy"})

	// VotesProcessed counts votes by outcome (applied or dropped).
	VotesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onomancer_votes_processed_total",
		Help: "Total number of votes processed by outcome",
	}, []string{"outcome"})

	// FlagsRecorded counts accepted flags by entity kind.
	FlagsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onomancer_flags_recorded_total",
		Help: "Total number of flags that rejected an entity",
	}, []string{"kind"})

	// ModerationDecisions counts moderation transitions by entity kind and target state.
	ModerationDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onomancer_moderation_decisions_total",
		Help: "Total number of moderation decisions",
	}, []string{"kind", "state"})

	// ReplayedRequests counts requests refused because their nonce was already seen.
	ReplayedRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onomancer_replayed_requests_total",
		Help: "Total number of requests refused by the replay guard",
	})

	// RedisErrors counts failed Redis commands by command name.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onomancer_redis_errors_total",
		Help: "Total number of failed Redis commands",
	}, []string{"command"})

	// LeaderboardCacheLookups counts leaderboard cache lookups by result (hit, miss, error).
	LeaderboardCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onomancer_leaderboard_cache_lookups_total",
		Help: "Total number of leaderboard cache lookups by result",
	}, []string{"result"})
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

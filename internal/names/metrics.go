package names

import "github.com/MarcoPoloResearchLab/onomancer/backend/internal/metrics"

const (
	voteOutcomeApplied = "applied"
	voteOutcomeDropped = "dropped"

	strategyFresh   = "fresh"
	strategyRecent  = "recent"
	strategyLeaders = "leaders"
)

func voteCounter(outcome string) {
	metrics.VotesProcessed.WithLabelValues(outcome).Inc()
}

func generatedCounter(strategy string) {
	metrics.NamesGenerated.WithLabelValues(strategy).Inc()
}

func flagCounter(kind EntityKind) {
	metrics.FlagsRecorded.WithLabelValues(string(kind)).Inc()
}

func moderationCounter(kind EntityKind, state Moderation) {
	metrics.ModerationDecisions.WithLabelValues(string(kind), string(state)).Inc()
}

func cacheLookupCounter(result string) {
	metrics.LeaderboardCacheLookups.WithLabelValues(result).Inc()
}

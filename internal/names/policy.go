package names

import "time"

// FragmentPolicy decides whether a fragment is a "bad" fragment: one that is either
// heavily downvoted relative to its upvotes once it has enough volume, or that has
// passed an absolute downvote floor while net negative.
type FragmentPolicy struct {
	MinVolume     int64
	MaxDownRatio  float64
	DownvoteFloor int64
	NetFloor      int64
}

// IsBad applies the policy to a fragment's counters.
func (p FragmentPolicy) IsBad(fragment Fragment) bool {
	up := fragment.Upvotes
	down := fragment.Downvotes
	if up+down > p.MinVolume {
		if up == 0 || float64(down)/float64(up) > p.MaxDownRatio {
			return true
		}
	}
	return down >= p.DownvoteFloor && up-down <= p.NetFloor
}

// IsGood reports whether a fragment is eligible to count in a composite's favour.
func (p FragmentPolicy) IsGood(fragment Fragment) bool {
	return fragment.Moderation != ModerationRejected && !p.IsBad(fragment)
}

// GeneratorConfig tunes the layered random generator.
type GeneratorConfig struct {
	FreshProbability      float64
	BottomProbability     float64
	BottomPoolSize        int
	MedianBiasProbability float64
	RecencyProbability    float64
	RecencyWindow         time.Duration
	FragmentScoreFloor    int64
}

// EngineConfig gathers every tunable threshold of the engine.
type EngineConfig struct {
	LeaderboardThreshold int64
	AnnotateThreshold    int64
	MinFlagReasonLength  int
	RecencyBucket        time.Duration
	Fragments            FragmentPolicy
	Generator            GeneratorConfig
}

// DefaultEngineConfig returns the thresholds the service ships with.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		LeaderboardThreshold: -2,
		AnnotateThreshold:    1,
		MinFlagReasonLength:  6,
		RecencyBucket:        24 * time.Hour,
		Fragments: FragmentPolicy{
			MinVolume:     15,
			MaxDownRatio:  0.5,
			DownvoteFloor: 4,
			NetFloor:      -2,
		},
		Generator: GeneratorConfig{
			FreshProbability:      0.7,
			BottomProbability:     0.05,
			BottomPoolSize:        200,
			MedianBiasProbability: 0.3,
			RecencyProbability:    0.02,
			RecencyWindow:         7 * 24 * time.Hour,
			FragmentScoreFloor:    -2,
		},
	}
}

func (c EngineConfig) bucketStart(at time.Time) int64 {
	bucket := c.RecencyBucket
	if bucket <= 0 {
		bucket = 24 * time.Hour
	}
	return at.UTC().Truncate(bucket).Unix()
}

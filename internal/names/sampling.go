package names

import (
	"math/rand"
	"sort"
	"sync"
	"time"
)

// SelectionKind enumerates the draw strategies the sampler supports.
type SelectionKind int

const (
	// SelectUniform draws every candidate with equal probability.
	SelectUniform SelectionKind = iota
	// SelectWeighted draws proportionally to each candidate's positive weight.
	SelectWeighted
	// SelectBottom draws uniformly from the N lowest-weighted candidates.
	SelectBottom
)

// Selection is a sampling policy applied to a filtered candidate set.
type Selection struct {
	Kind    SelectionKind
	BottomN int
}

// Candidate is anything the sampler can draw: a text and the weight or score attached.
type Candidate struct {
	Text   string
	Weight int64
}

// Sampler is a goroutine-safe source of the engine's random decisions.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler builds a sampler from a seed. Tests pass fixed seeds; the service seeds
// from the clock.
func NewSampler(seed int64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewSource(seed))}
}

func newClockSampler() *Sampler {
	return NewSampler(time.Now().UnixNano())
}

// Chance returns true with probability p.
func (s *Sampler) Chance(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < p
}

func (s *Sampler) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

func (s *Sampler) int63n(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Int63n(n)
}

// Pick draws one candidate under the selection policy. It returns false for an empty set.
func (s *Sampler) Pick(candidates []Candidate, selection Selection) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	switch selection.Kind {
	case SelectWeighted:
		return s.pickWeighted(candidates)
	case SelectBottom:
		return s.pickBottom(candidates, selection.BottomN)
	default:
		return candidates[s.intn(len(candidates))], true
	}
}

func (s *Sampler) pickWeighted(candidates []Candidate) (Candidate, bool) {
	var total int64
	for _, candidate := range candidates {
		if candidate.Weight > 0 {
			total += candidate.Weight
		}
	}
	if total <= 0 {
		return candidates[s.intn(len(candidates))], true
	}
	target := s.int63n(total)
	for _, candidate := range candidates {
		if candidate.Weight <= 0 {
			continue
		}
		if target < candidate.Weight {
			return candidate, true
		}
		target -= candidate.Weight
	}
	return candidates[len(candidates)-1], true
}

func (s *Sampler) pickBottom(candidates []Candidate, bottomN int) (Candidate, bool) {
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Weight < ordered[j].Weight
	})
	if bottomN > 0 && bottomN < len(ordered) {
		ordered = ordered[:bottomN]
	}
	return ordered[s.intn(len(ordered))], true
}

// Sample draws up to n distinct candidates uniformly, in random order.
func (s *Sampler) Sample(candidates []Candidate, n int) []Candidate {
	if n <= 0 || len(candidates) == 0 {
		return nil
	}
	pool := make([]Candidate, len(candidates))
	copy(pool, candidates)
	if n > len(pool) {
		n = len(pool)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		j := i + s.rng.Intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n]
}

// ShuffleTies randomises the order of runs of equal weight inside an already
// descending-sorted slice, leaving the ranking itself intact.
func (s *Sampler) ShuffleTies(entries []LeaderboardEntry) {
	start := 0
	for start < len(entries) {
		end := start + 1
		for end < len(entries) && entries[end].Votes == entries[start].Votes {
			end++
		}
		if end-start > 1 {
			run := entries[start:end]
			s.mu.Lock()
			s.rng.Shuffle(len(run), func(i, j int) {
				run[i], run[j] = run[j], run[i]
			})
			s.mu.Unlock()
		}
		start = end
	}
}

// medianScore returns the upper median of the scores, or 0 for an empty set.
func medianScore(scores []int64) int64 {
	if len(scores) == 0 {
		return 0
	}
	ordered := make([]int64, len(scores))
	copy(ordered, scores)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
	return ordered[len(ordered)/2]
}

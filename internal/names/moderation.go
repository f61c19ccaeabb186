package names

import (
	"fmt"
	"strings"
)

var allowedTransitions = map[Moderation][]Moderation{
	ModerationPending:  {ModerationApproved, ModerationRejected},
	ModerationApproved: {ModerationRejected},
	ModerationRejected: {ModerationPending},
}

// Valid reports whether m is one of the three known states.
func (m Moderation) Valid() bool {
	_, ok := allowedTransitions[m]
	return ok
}

// String returns the stored representation.
func (m Moderation) String() string {
	return string(m)
}

// ParseModeration accepts the stored names plus the moderator shorthands good, bad and queue.
func ParseModeration(raw string) (Moderation, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModerationPending), "queue", "back to queue":
		return ModerationPending, nil
	case string(ModerationApproved), "good":
		return ModerationApproved, nil
	case string(ModerationRejected), "bad":
		return ModerationRejected, nil
	default:
		return "", fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, raw)
	}
}

// CanTransition reports whether the gate allows moving from one state to another.
// Staying in the same state is always allowed.
func CanTransition(from, to Moderation) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// initialCompositeModeration decides the starting state of a new composite. Only a
// composite of exactly two approved fragments starts approved.
func initialCompositeModeration(fragments []*Fragment) Moderation {
	if len(fragments) != 2 {
		return ModerationPending
	}
	for _, fragment := range fragments {
		if fragment == nil || fragment.Moderation != ModerationApproved {
			return ModerationPending
		}
	}
	return ModerationApproved
}

package names

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// VoteResult reports what a vote did. Votes on rejected content report Applied == 0 and
// are otherwise indistinguishable from success.
type VoteResult struct {
	Name    string
	Applied int64
	Votes   int64
}

// SubmitFragment stores a single fragment the caller has already screened. A submission
// that failed screening is stored rejected so it can never be composed.
func (s *Service) SubmitFragment(ctx context.Context, text string, rejected bool) (Fragment, error) {
	normalized := NormalizeFragment(text)
	if err := validateFragmentText(normalized); err != nil {
		return Fragment{}, newServiceError(opSubmitFragment, "invalid_text", err)
	}
	state := ModerationPending
	if rejected {
		state = ModerationRejected
	}
	var stored *Fragment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fragment, err := ensureFragment(tx, normalized, state, s.now())
		if err != nil {
			return err
		}
		stored = fragment
		return nil
	})
	if err != nil {
		return Fragment{}, s.fail(opSubmitFragment, "ensure_failed", err, zap.String("fragment", normalized))
	}
	return *stored, nil
}

// SubmitComposite registers a full name. A text without a separator is treated as a
// fragment submission; otherwise the composite is registered with a zero vote.
func (s *Service) SubmitComposite(ctx context.Context, text string, rejected bool) error {
	parts := SplitComposite(text)
	switch len(parts) {
	case 0:
		return newServiceError(opSubmitComposite, "invalid_text", ErrInvalidText)
	case 1:
		_, err := s.SubmitFragment(ctx, parts[0], rejected)
		return err
	}
	if !rejected {
		_, err := s.Vote(ctx, text, 0, true)
		return err
	}
	canonical := strings.Join(parts, Separator)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, part := range parts {
			if _, err := ensureFragment(tx, part, ModerationPending, s.now()); err != nil {
				return err
			}
		}
		_, _, err := ensureComposite(tx, canonical, ModerationRejected, s.now())
		return err
	})
	if err != nil {
		return s.fail(opSubmitComposite, "ensure_failed", err, zap.String("name", canonical))
	}
	return nil
}

// Vote applies one judgement to a composite and, when propagate is set, to each of its
// fragments. Downvotes count double against a pairing that contains at least one good
// fragment. Votes on rejected composites are silently dropped.
func (s *Service) Vote(ctx context.Context, compositeText string, delta int64, propagate bool) (VoteResult, error) {
	parts := SplitComposite(compositeText)
	canonical := strings.Join(parts, Separator)
	if err := validateText(canonical); err != nil {
		return VoteResult{}, newServiceError(opVote, "invalid_text", err)
	}

	now := s.now()
	result := VoteResult{Name: canonical}
	var stored *Composite
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := lockComposite(tx, canonical)
		if err != nil {
			return err
		}
		if existing != nil && existing.Moderation == ModerationRejected {
			stored = existing
			return nil
		}

		fragments := make([]*Fragment, 0, len(parts))
		for _, part := range parts {
			fragment, err := ensureFragment(tx, part, ModerationPending, now)
			if err != nil {
				return err
			}
			fragments = append(fragments, fragment)
		}

		multiplier := int64(1)
		if propagate {
			for _, part := range parts {
				if err := recordFragmentVote(tx, part, delta); err != nil {
					return err
				}
			}
			if delta < 0 {
				current, err := fragmentsByText(tx, parts)
				if err != nil {
					return err
				}
				for _, fragment := range current {
					if s.engine.Fragments.IsGood(fragment) {
						multiplier = 2
						break
					}
				}
			}
		}

		initial := ModerationPending
		if existing == nil {
			initial = initialCompositeModeration(fragments)
		}
		composite, inserted, err := recordComposite(tx, canonical, delta*multiplier, initial, now)
		if err != nil {
			return err
		}
		stored = composite
		created = inserted
		result.Applied = delta * multiplier

		return addRecentVote(tx, canonical, s.engine.bucketStart(now), delta)
	})
	if err != nil {
		return VoteResult{}, s.fail(opVote, "transaction_failed", err,
			zap.String("name", canonical), zap.Int64("delta", delta))
	}

	result.Votes = stored.Votes
	if stored.Moderation == ModerationRejected {
		voteCounter(voteOutcomeDropped)
		return VoteResult{Name: canonical, Votes: stored.Votes}, nil
	}
	voteCounter(voteOutcomeApplied)

	if result.Applied != 0 || created {
		s.invalidateLeaderboard(ctx)
	}
	if s.observer != nil {
		s.observer.VoteApplied(VoteEvent{
			Name:       canonical,
			Delta:      delta,
			Applied:    result.Applied,
			Votes:      stored.Votes,
			Moderation: stored.Moderation,
			At:         now,
		})
	}
	return result, nil
}

// Annotate nudges a fragment's positional affinity. With both set the deltas are derived
// from the current counters: each side above their average moves down, the other up.
func (s *Service) Annotate(ctx context.Context, fragmentText string, firstDelta, secondDelta int64, both bool) (Fragment, error) {
	normalized := NormalizeFragment(fragmentText)
	if err := validateFragmentText(normalized); err != nil {
		return Fragment{}, newServiceError(opAnnotate, "invalid_text", err)
	}
	var stored *Fragment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fragment, err := lockFragment(tx, normalized)
		if err != nil {
			return err
		}
		if fragment == nil {
			return ErrNotFound
		}
		if fragment.Moderation == ModerationRejected {
			stored = fragment
			return nil
		}
		first, second := firstDelta, secondDelta
		if both {
			first, second = rebalanceAffinity(*fragment)
		}
		if err := tx.Model(&Fragment{}).Where("id = ?", fragment.ID).UpdateColumns(map[string]interface{}{
			"first_affinity":  gorm.Expr("first_affinity + ?", first),
			"second_affinity": gorm.Expr("second_affinity + ?", second),
		}).Error; err != nil {
			return err
		}
		stored, err = lockFragment(tx, normalized)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return Fragment{}, newServiceError(opAnnotate, "not_found", err)
	}
	if err != nil {
		return Fragment{}, s.fail(opAnnotate, "transaction_failed", err, zap.String("fragment", normalized))
	}
	return *stored, nil
}

func rebalanceAffinity(fragment Fragment) (int64, int64) {
	average := float64(fragment.FirstAffinity+fragment.SecondAffinity) / 2
	first, second := int64(1), int64(1)
	if float64(fragment.FirstAffinity) > average {
		first = -1
	}
	if float64(fragment.SecondAffinity) > average {
		second = -1
	}
	return first, second
}

// Flag records a reason against an entity and rejects it. Reasons shorter than the
// configured minimum leave the entity untouched. Flagging an unseen composite text
// creates it already rejected.
func (s *Service) Flag(ctx context.Context, ref EntityRef, reason string) error {
	if err := ref.validate(); err != nil {
		return newServiceError(opFlag, "invalid_reference", err)
	}
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" || len([]rune(trimmed)) < s.engine.MinFlagReasonLength {
		return nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"flag_reason": trimmed,
			"moderation":  ModerationRejected,
		}
		switch ref.Kind {
		case EntityFragment:
			id, err := s.resolveFragmentID(tx, ref)
			if err != nil {
				return err
			}
			return tx.Model(&Fragment{}).Where("id = ?", id).UpdateColumns(updates).Error
		default:
			if ref.ID > 0 {
				id, err := s.resolveCompositeID(tx, ref)
				if err != nil {
					return err
				}
				return tx.Model(&Composite{}).Where("id = ?", id).UpdateColumns(updates).Error
			}
			canonical := CanonicalComposite(ref.Text)
			if err := validateText(canonical); err != nil {
				return err
			}
			composite, _, err := ensureComposite(tx, canonical, ModerationRejected, s.now())
			if err != nil {
				return err
			}
			return tx.Model(&Composite{}).Where("id = ?", composite.ID).UpdateColumns(updates).Error
		}
	})
	if errors.Is(err, ErrNotFound) {
		return newServiceError(opFlag, "not_found", err)
	}
	if errors.Is(err, ErrInvalidText) {
		return newServiceError(opFlag, "invalid_text", err)
	}
	if err != nil {
		return s.fail(opFlag, "transaction_failed", err)
	}
	flagCounter(ref.Kind)
	s.invalidateLeaderboard(ctx)
	return nil
}

// Moderate moves an entity through the moderation gate.
func (s *Service) Moderate(ctx context.Context, ref EntityRef, state Moderation) error {
	if err := ref.validate(); err != nil {
		return newServiceError(opModerate, "invalid_reference", err)
	}
	if !state.Valid() {
		return newServiceError(opModerate, "invalid_state", ErrInvalidTransition)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch ref.Kind {
		case EntityFragment:
			id, err := s.resolveFragmentID(tx, ref)
			if err != nil {
				return err
			}
			fragment, err := findFragmentByID(tx, id)
			if err != nil {
				return err
			}
			if !CanTransition(fragment.Moderation, state) {
				return ErrInvalidTransition
			}
			return setModeration(tx, &Fragment{}, id, state)
		default:
			id, err := s.resolveCompositeID(tx, ref)
			if err != nil {
				return err
			}
			composite, err := findCompositeByID(tx, id)
			if err != nil {
				return err
			}
			if !CanTransition(composite.Moderation, state) {
				return ErrInvalidTransition
			}
			return setModeration(tx, &Composite{}, id, state)
		}
	})
	switch {
	case errors.Is(err, ErrNotFound):
		return newServiceError(opModerate, "not_found", err)
	case errors.Is(err, ErrInvalidTransition):
		return newServiceError(opModerate, "invalid_transition", err)
	case err != nil:
		return s.fail(opModerate, "transaction_failed", err)
	}
	moderationCounter(ref.Kind, state)
	s.invalidateLeaderboard(ctx)
	return nil
}

// ListPending returns the moderation queue for both stores, oldest first.
func (s *Service) ListPending(ctx context.Context) (PendingList, error) {
	var pending PendingList
	db := s.db.WithContext(ctx)
	if err := db.Where("moderation = ?", ModerationPending).Order("id ASC").Find(&pending.Fragments).Error; err != nil {
		return PendingList{}, s.fail(opListPending, "fragment_query_failed", err)
	}
	if err := db.Where("moderation = ?", ModerationPending).Order("id ASC").Find(&pending.Composites).Error; err != nil {
		return PendingList{}, s.fail(opListPending, "composite_query_failed", err)
	}
	return pending, nil
}

func (s *Service) resolveFragmentID(tx *gorm.DB, ref EntityRef) (int64, error) {
	if ref.ID > 0 {
		fragment, err := findFragmentByID(tx, ref.ID)
		if err != nil {
			return 0, err
		}
		return fragment.ID, nil
	}
	fragment, err := lockFragment(tx, NormalizeFragment(ref.Text))
	if err != nil {
		return 0, err
	}
	if fragment == nil {
		return 0, ErrNotFound
	}
	return fragment.ID, nil
}

func (s *Service) resolveCompositeID(tx *gorm.DB, ref EntityRef) (int64, error) {
	if ref.ID > 0 {
		composite, err := findCompositeByID(tx, ref.ID)
		if err != nil {
			return 0, err
		}
		return composite.ID, nil
	}
	composite, err := lockComposite(tx, CanonicalComposite(ref.Text))
	if err != nil {
		return 0, err
	}
	if composite == nil {
		return 0, ErrNotFound
	}
	return composite.ID, nil
}

func (s *Service) invalidateLeaderboard(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.loggerOrDefault().Warn("leaderboard cache invalidation failed", zap.Error(err))
	}
}

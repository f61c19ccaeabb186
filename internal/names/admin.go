package names

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	adminListingLimit = 200
	lookupLimit       = 100

	// textContains matches a likePattern with backslash as the escape character.
	textContains = `text LIKE ? ESCAPE '\'`
)

// FragmentByText returns the fragment stored under text.
func (s *Service) FragmentByText(ctx context.Context, text string) (Fragment, error) {
	fragment, err := takeFragment(s.db.WithContext(ctx), NormalizeFragment(text))
	if err != nil {
		return Fragment{}, s.fail(opLookup, "fragment_query_failed", err)
	}
	if fragment == nil {
		return Fragment{}, newServiceError(opLookup, "not_found", ErrNotFound)
	}
	return *fragment, nil
}

// FragmentByID returns the fragment with id.
func (s *Service) FragmentByID(ctx context.Context, id int64) (Fragment, error) {
	fragment, err := findFragmentByID(s.db.WithContext(ctx), id)
	if errors.Is(err, ErrNotFound) {
		return Fragment{}, newServiceError(opLookup, "not_found", err)
	}
	if err != nil {
		return Fragment{}, s.fail(opLookup, "fragment_query_failed", err)
	}
	return *fragment, nil
}

// CompositeByText returns the composite stored under text.
func (s *Service) CompositeByText(ctx context.Context, text string) (Composite, error) {
	composite, err := takeComposite(s.db.WithContext(ctx), CanonicalComposite(text))
	if err != nil {
		return Composite{}, s.fail(opLookup, "composite_query_failed", err)
	}
	if composite == nil {
		return Composite{}, newServiceError(opLookup, "not_found", ErrNotFound)
	}
	return *composite, nil
}

// CompositeByID returns the composite with id.
func (s *Service) CompositeByID(ctx context.Context, id int64) (Composite, error) {
	composite, err := findCompositeByID(s.db.WithContext(ctx), id)
	if errors.Is(err, ErrNotFound) {
		return Composite{}, newServiceError(opLookup, "not_found", err)
	}
	if err != nil {
		return Composite{}, s.fail(opLookup, "composite_query_failed", err)
	}
	return *composite, nil
}

// CompositeFragments resolves the two fragments of a composite by text. Fragments that no
// longer exist come back as placeholders.
func (s *Service) CompositeFragments(ctx context.Context, compositeText string) ([]Fragment, error) {
	parts := SplitComposite(compositeText)
	stored, err := fragmentsByText(s.db.WithContext(ctx), parts)
	if err != nil {
		return nil, s.fail(opCompositeFragment, "query_failed", err)
	}
	fragments := make([]Fragment, 0, len(parts))
	for _, part := range parts {
		fragment, ok := stored[part]
		if !ok {
			fragment = placeholderFragment()
		}
		fragments = append(fragments, fragment)
	}
	return fragments, nil
}

// FlipComposite exchanges the vote totals of "A B" and "B A", registering the reversed
// composite when it does not exist yet. Nothing changes when either side is rejected.
func (s *Service) FlipComposite(ctx context.Context, compositeText string) (Composite, Composite, error) {
	parts := SplitComposite(compositeText)
	if len(parts) != 2 {
		return Composite{}, Composite{}, newServiceError(opFlipComposite, "invalid_text", ErrInvalidText)
	}
	original := parts[0] + Separator + parts[1]
	flipped := parts[1] + Separator + parts[0]
	if err := validateText(original); err != nil {
		return Composite{}, Composite{}, newServiceError(opFlipComposite, "invalid_text", err)
	}

	var forward, reverse *Composite
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		fragments := make([]*Fragment, 0, len(parts))
		for _, part := range parts {
			fragment, err := ensureFragment(tx, part, ModerationPending, now)
			if err != nil {
				return err
			}
			fragments = append(fragments, fragment)
		}
		initial := initialCompositeModeration(fragments)
		var err error
		if forward, _, err = ensureComposite(tx, original, initial, now); err != nil {
			return err
		}
		if reverse, _, err = ensureComposite(tx, flipped, initial, now); err != nil {
			return err
		}
		if forward.Moderation == ModerationRejected || reverse.Moderation == ModerationRejected {
			return nil
		}
		if err := tx.Model(&Composite{}).Where("id = ?", forward.ID).UpdateColumn("votes", reverse.Votes).Error; err != nil {
			return err
		}
		if err := tx.Model(&Composite{}).Where("id = ?", reverse.ID).UpdateColumn("votes", forward.Votes).Error; err != nil {
			return err
		}
		forward.Votes, reverse.Votes = reverse.Votes, forward.Votes
		return nil
	})
	if err != nil {
		return Composite{}, Composite{}, s.fail(opFlipComposite, "transaction_failed", err, zap.String("name", original))
	}
	s.invalidateLeaderboard(ctx)
	return *forward, *reverse, nil
}

// Lookup searches both stores by substring. With onlyGood set, rejected rows and composites
// at or below the leaderboard threshold are hidden.
func (s *Service) Lookup(ctx context.Context, substring string, onlyGood bool) (LookupResult, error) {
	trimmed := strings.TrimSpace(substring)
	if trimmed == "" {
		return LookupResult{Fragments: []Fragment{}, Composites: []Composite{}}, nil
	}
	db := s.db.WithContext(ctx)
	result := LookupResult{}

	fragments := db.Where(textContains, likePattern(NormalizeFragment(trimmed)))
	if onlyGood {
		fragments = fragments.Where("moderation <> ?", ModerationRejected)
	}
	if err := fragments.Order("id ASC").Limit(lookupLimit).Find(&result.Fragments).Error; err != nil {
		return LookupResult{}, s.fail(opLookup, "fragment_query_failed", err)
	}

	composites := db.Where(textContains, likePattern(trimmed))
	if onlyGood {
		composites = composites.Where("moderation <> ? AND votes > ?", ModerationRejected, s.engine.LeaderboardThreshold)
	}
	if err := composites.Order("votes DESC").Order("id ASC").Limit(lookupLimit).Find(&result.Composites).Error; err != nil {
		return LookupResult{}, s.fail(opLookup, "composite_query_failed", err)
	}
	return result, nil
}

// likePattern escapes LIKE wildcards in value so it matches literally as a substring.
func likePattern(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return "%" + replacer.Replace(value) + "%"
}

// AdminListing gathers rejected composites, composites sunk to or below the leaderboard
// threshold, and rejected fragments, newest first.
func (s *Service) AdminListing(ctx context.Context) (AdminListing, error) {
	db := s.db.WithContext(ctx)
	listing := AdminListing{}
	if err := db.Where("moderation = ?", ModerationRejected).
		Order("id DESC").Limit(adminListingLimit).
		Find(&listing.RejectedComposites).Error; err != nil {
		return AdminListing{}, s.fail(opAdminListing, "rejected_composites_failed", err)
	}
	if err := db.Where("moderation <> ? AND votes <= ?", ModerationRejected, s.engine.LeaderboardThreshold).
		Order("id DESC").Limit(adminListingLimit).
		Find(&listing.SunkComposites).Error; err != nil {
		return AdminListing{}, s.fail(opAdminListing, "sunk_composites_failed", err)
	}
	if err := db.Where("moderation = ?", ModerationRejected).
		Order("id DESC").Limit(adminListingLimit).
		Find(&listing.RejectedFragments).Error; err != nil {
		return AdminListing{}, s.fail(opAdminListing, "rejected_fragments_failed", err)
	}
	return listing, nil
}

// ResetFragment clears a fragment's counters and flag. A rejected fragment goes back to
// the moderation queue.
func (s *Service) ResetFragment(ctx context.Context, id int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fragment, err := findFragmentByID(tx, id)
		if err != nil {
			return err
		}
		state := fragment.Moderation
		if state == ModerationRejected {
			state = ModerationPending
		}
		return tx.Model(&Fragment{}).Where("id = ?", id).UpdateColumns(map[string]interface{}{
			"upvotes":         0,
			"downvotes":       0,
			"first_affinity":  0,
			"second_affinity": 0,
			"flag_reason":     "",
			"moderation":      state,
		}).Error
	})
	if errors.Is(err, ErrNotFound) {
		return newServiceError(opReset, "not_found", err)
	}
	if err != nil {
		return s.fail(opReset, "transaction_failed", err, zap.Int64("fragment_id", id))
	}
	return nil
}

// ResetComposite zeroes a composite's votes, clears its flag and recency history. A
// rejected composite goes back to the moderation queue.
func (s *Service) ResetComposite(ctx context.Context, id int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		composite, err := findCompositeByID(tx, id)
		if err != nil {
			return err
		}
		state := composite.Moderation
		if state == ModerationRejected {
			state = ModerationPending
		}
		if err := tx.Model(&Composite{}).Where("id = ?", id).UpdateColumns(map[string]interface{}{
			"votes":       0,
			"flag_reason": "",
			"moderation":  state,
		}).Error; err != nil {
			return err
		}
		return tx.Where("text = ?", composite.Text).Delete(&RecentVote{}).Error
	})
	if errors.Is(err, ErrNotFound) {
		return newServiceError(opReset, "not_found", err)
	}
	if err != nil {
		return s.fail(opReset, "transaction_failed", err, zap.Int64("composite_id", id))
	}
	s.invalidateLeaderboard(ctx)
	return nil
}

// PurgeFragment deletes a fragment. Composites that reference its text keep their votes and
// render the missing half as a placeholder.
func (s *Service) PurgeFragment(ctx context.Context, id int64) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Fragment{})
	if result.Error != nil {
		return s.fail(opPurge, "delete_failed", result.Error, zap.Int64("fragment_id", id))
	}
	if result.RowsAffected == 0 {
		return newServiceError(opPurge, "not_found", ErrNotFound)
	}
	return nil
}

// PurgeComposite deletes a composite and its recency history.
func (s *Service) PurgeComposite(ctx context.Context, id int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		composite, err := findCompositeByID(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Where("text = ?", composite.Text).Delete(&RecentVote{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Composite{}, composite.ID).Error
	})
	if errors.Is(err, ErrNotFound) {
		return newServiceError(opPurge, "not_found", err)
	}
	if err != nil {
		return s.fail(opPurge, "transaction_failed", err, zap.Int64("composite_id", id))
	}
	s.invalidateLeaderboard(ctx)
	return nil
}

// PurgeResult counts the rows removed by PurgeText.
type PurgeResult struct {
	Fragments  int64 `json:"fragments"`
	Composites int64 `json:"composites"`
}

// PurgeText deletes a fragment together with every composite that uses it in either slot.
func (s *Service) PurgeText(ctx context.Context, fragmentText string) (PurgeResult, error) {
	normalized := NormalizeFragment(fragmentText)
	if err := validateFragmentText(normalized); err != nil {
		return PurgeResult{}, newServiceError(opPurge, "invalid_text", err)
	}
	var purged PurgeResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		deleted := tx.Where("text = ?", normalized).Delete(&Fragment{})
		if deleted.Error != nil {
			return deleted.Error
		}
		purged.Fragments = deleted.RowsAffected

		var candidates []Composite
		if err := tx.Where(textContains, likePattern(normalized)).Find(&candidates).Error; err != nil {
			return err
		}
		ids := make([]int64, 0, len(candidates))
		texts := make([]string, 0, len(candidates))
		for _, candidate := range candidates {
			for _, part := range SplitComposite(candidate.Text) {
				if part == normalized {
					ids = append(ids, candidate.ID)
					texts = append(texts, candidate.Text)
					break
				}
			}
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("text IN ?", texts).Delete(&RecentVote{}).Error; err != nil {
			return err
		}
		removed := tx.Where("id IN ?", ids).Delete(&Composite{})
		if removed.Error != nil {
			return removed.Error
		}
		purged.Composites = removed.RowsAffected
		return nil
	})
	if err != nil {
		return PurgeResult{}, s.fail(opPurge, "transaction_failed", err, zap.String("fragment", normalized))
	}
	if purged.Composites > 0 {
		s.invalidateLeaderboard(ctx)
	}
	return purged, nil
}

// Collect draws up to count distinct approved composites with at least minVotes votes.
func (s *Service) Collect(ctx context.Context, count int, minVotes int64) ([]LeaderboardEntry, error) {
	if count <= 0 {
		return []LeaderboardEntry{}, nil
	}
	var rows []Composite
	if err := s.db.WithContext(ctx).
		Where("moderation = ? AND votes >= ?", ModerationApproved, minVotes).
		Find(&rows).Error; err != nil {
		return nil, s.fail(opPool, "query_failed", err)
	}
	byText := make(map[string]Composite, len(rows))
	candidates := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		byText[row.Text] = row
		candidates = append(candidates, Candidate{Text: row.Text, Weight: row.Votes})
	}
	picked := s.sampler.Sample(candidates, count)
	entries := make([]LeaderboardEntry, 0, len(picked))
	for _, candidate := range picked {
		row := byText[candidate.Text]
		entry := LeaderboardEntry{Name: row.Text, Votes: row.Votes}
		if row.ShareToken != nil {
			entry.ShareToken = *row.ShareToken
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Pool returns up to count random approved names that have collected at least one vote.
func (s *Service) Pool(ctx context.Context, count int) ([]string, error) {
	entries, err := s.Collect(ctx, count, 1)
	if err != nil {
		return nil, err
	}
	pool := make([]string, 0, len(entries))
	for _, entry := range entries {
		pool = append(pool, entry.Name)
	}
	return pool, nil
}

// Dump exports both stores ordered by id.
func (s *Service) Dump(ctx context.Context) (CorpusDump, error) {
	db := s.db.WithContext(ctx)
	dump := CorpusDump{Fragments: []Fragment{}, Composites: []Composite{}}
	if err := db.Order("id ASC").Find(&dump.Fragments).Error; err != nil {
		return CorpusDump{}, s.fail(opDump, "fragment_query_failed", err)
	}
	if err := db.Order("id ASC").Find(&dump.Composites).Error; err != nil {
		return CorpusDump{}, s.fail(opDump, "composite_query_failed", err)
	}
	return dump, nil
}

// SeedFragments loads trusted fragments as approved. Existing fragments are left alone;
// the number of newly created fragments is returned.
func (s *Service) SeedFragments(ctx context.Context, texts []string) (int, error) {
	created := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		for _, text := range texts {
			normalized := NormalizeFragment(text)
			if validateFragmentText(normalized) != nil {
				continue
			}
			row := Fragment{Text: normalized, Moderation: ModerationApproved, CreatedAtSeconds: now.Unix()}
			result := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "text"}},
				DoNothing: true,
			}).Create(&row)
			if result.Error != nil {
				return result.Error
			}
			created += int(result.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return 0, s.fail(opSeed, "transaction_failed", err)
	}
	return created, nil
}

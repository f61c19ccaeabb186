package names

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fragmentSlot int

const (
	slotFirst fragmentSlot = iota
	slotSecond
)

// GenerateName produces one composite name. Fresh fragment pairings are tried first with
// FreshProbability, then occasionally a recently upvoted composite, and finally a uniform
// draw over approved composites above the leaderboard threshold.
func (s *Service) GenerateName(ctx context.Context) (string, error) {
	db := s.db.WithContext(ctx)
	generator := s.engine.Generator

	triedFresh := false
	if s.sampler.Chance(generator.FreshProbability) {
		triedFresh = true
		name, ok, err := s.composeFresh(db)
		if err != nil {
			return "", s.fail(opGenerateName, "fresh_failed", err)
		}
		if ok {
			generatedCounter(strategyFresh)
			return name, nil
		}
	}

	if s.sampler.Chance(generator.RecencyProbability) {
		name, ok, err := s.pickRecent(db)
		if err != nil {
			return "", s.fail(opGenerateName, "recent_failed", err)
		}
		if ok {
			generatedCounter(strategyRecent)
			return name, nil
		}
	}

	name, ok, err := s.pickLeader(db)
	if err != nil {
		return "", s.fail(opGenerateName, "fallback_failed", err)
	}
	if ok {
		generatedCounter(strategyLeaders)
		return name, nil
	}

	if !triedFresh {
		name, ok, err = s.composeFresh(db)
		if err != nil {
			return "", s.fail(opGenerateName, "fresh_failed", err)
		}
		if ok {
			generatedCounter(strategyFresh)
			return name, nil
		}
	}
	return "", newServiceError(opGenerateName, "empty_corpus", ErrEmptyCorpus)
}

// composeFresh pairs two eligible fragments. It reports false when the store cannot
// supply both halves or when the resulting composite has already been demoted.
func (s *Service) composeFresh(db *gorm.DB) (string, bool, error) {
	var approved []Fragment
	if err := db.Where("moderation = ?", ModerationApproved).Find(&approved).Error; err != nil {
		return "", false, err
	}
	eligible := make([]Fragment, 0, len(approved))
	scores := make([]int64, 0, len(approved))
	for _, fragment := range approved {
		if s.engine.Fragments.IsBad(fragment) {
			continue
		}
		eligible = append(eligible, fragment)
		scores = append(scores, fragment.Score())
	}
	if len(eligible) < 2 {
		return "", false, nil
	}
	median := medianScore(scores)

	first, ok := s.pickFragment(eligible, slotFirst, median, "")
	if !ok {
		return "", false, nil
	}
	second, ok := s.pickFragment(eligible, slotSecond, median, first)
	if !ok {
		return "", false, nil
	}
	name := first + Separator + second

	var existing Composite
	err := db.Where("text = ?", name).Take(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return name, true, nil
	case err != nil:
		return "", false, err
	}
	if existing.Moderation == ModerationRejected || existing.Votes <= s.engine.LeaderboardThreshold {
		s.loggerOrDefault().Debug("fresh composition already demoted", zap.String("name", name))
		return "", false, nil
	}
	return name, true, nil
}

func (s *Service) pickFragment(eligible []Fragment, slot fragmentSlot, median int64, exclude string) (string, bool) {
	generator := s.engine.Generator
	threshold := s.engine.AnnotateThreshold

	base := make([]Candidate, 0, len(eligible))
	for _, fragment := range eligible {
		if fragment.Text == exclude {
			continue
		}
		switch slot {
		case slotFirst:
			if fragment.FirstAffinity+threshold < fragment.SecondAffinity {
				continue
			}
		case slotSecond:
			if fragment.FirstAffinity > fragment.SecondAffinity+threshold {
				continue
			}
		}
		base = append(base, Candidate{Text: fragment.Text, Weight: fragment.Score()})
	}
	if len(base) == 0 {
		return "", false
	}

	if s.sampler.Chance(generator.BottomProbability) {
		picked, ok := s.sampler.Pick(base, Selection{Kind: SelectBottom, BottomN: generator.BottomPoolSize})
		return picked.Text, ok
	}

	candidates := make([]Candidate, 0, len(base))
	for _, candidate := range base {
		if candidate.Weight > generator.FragmentScoreFloor {
			candidates = append(candidates, candidate)
		}
	}
	if s.sampler.Chance(generator.MedianBiasProbability) {
		biased := make([]Candidate, 0, len(candidates))
		for _, candidate := range candidates {
			if candidate.Weight >= median {
				biased = append(biased, candidate)
			}
		}
		if len(biased) > 0 {
			candidates = biased
		}
	}
	picked, ok := s.sampler.Pick(candidates, Selection{Kind: SelectUniform})
	return picked.Text, ok
}

// pickRecent draws an approved composite weighted by the votes it collected inside the
// recency window.
func (s *Service) pickRecent(db *gorm.DB) (string, bool, error) {
	since := s.engine.bucketStart(s.now().Add(-s.engine.Generator.RecencyWindow))
	var candidates []Candidate
	err := db.Table(RecentVote{}.TableName()).
		Select("recent_votes.text AS text, SUM(recent_votes.votes) AS weight").
		Joins("JOIN composites ON composites.text = recent_votes.text").
		Where("recent_votes.bucket_start_s >= ?", since).
		Where("composites.moderation = ? AND composites.votes > ?", ModerationApproved, s.engine.LeaderboardThreshold).
		Group("recent_votes.text").
		Having("SUM(recent_votes.votes) > ?", 0).
		Scan(&candidates).Error
	if err != nil {
		return "", false, err
	}
	picked, ok := s.sampler.Pick(candidates, Selection{Kind: SelectWeighted})
	return picked.Text, ok, nil
}

// pickLeader draws uniformly among approved composites above the leaderboard threshold.
func (s *Service) pickLeader(db *gorm.DB) (string, bool, error) {
	scope := db.Model(&Composite{}).
		Where("moderation = ? AND votes > ?", ModerationApproved, s.engine.LeaderboardThreshold)
	var total int64
	if err := scope.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return "", false, err
	}
	if total == 0 {
		return "", false, nil
	}
	var texts []string
	if err := scope.Session(&gorm.Session{}).
		Order("id ASC").
		Offset(int(s.sampler.int63n(total))).
		Limit(1).
		Pluck("text", &texts).Error; err != nil {
		return "", false, err
	}
	if len(texts) == 0 {
		return "", false, nil
	}
	return texts[0], true, nil
}

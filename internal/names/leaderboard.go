package names

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	leaderboardSnapshotSize = 100
	defaultLeaderboardLimit = 10

	cacheResultHit   = "hit"
	cacheResultMiss  = "miss"
	cacheResultError = "error"
)

// Leaderboard returns approved composites above the leaderboard threshold ordered by votes
// descending. Equal vote totals are returned in random order.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	if limit <= leaderboardSnapshotSize {
		if cached, ok := s.cachedLeaderboard(ctx); ok {
			return truncateEntries(cached, limit), nil
		}
	}

	size := limit
	if size < leaderboardSnapshotSize {
		size = leaderboardSnapshotSize
	}
	entries, err := s.rankComposites(s.db.WithContext(ctx), size)
	if err != nil {
		return nil, s.fail(opLeaderboard, "query_failed", err)
	}
	if size == leaderboardSnapshotSize {
		s.storeLeaderboard(ctx, entries)
	}
	return truncateEntries(entries, limit), nil
}

// rankComposites loads the top limit composites. Rows tied with the last ranked vote total
// are all loaded and shuffled before truncation so the cut does not favour insertion order.
func (s *Service) rankComposites(db *gorm.DB, limit int) ([]LeaderboardEntry, error) {
	scope := db.Model(&Composite{}).
		Where("moderation = ? AND votes > ?", ModerationApproved, s.engine.LeaderboardThreshold)

	var cutoff []int64
	if err := scope.Session(&gorm.Session{}).
		Order("votes DESC").
		Offset(limit-1).
		Limit(1).
		Pluck("votes", &cutoff).Error; err != nil {
		return nil, err
	}
	ranked := scope.Session(&gorm.Session{})
	if len(cutoff) > 0 {
		ranked = ranked.Where("votes >= ?", cutoff[0])
	}
	var rows []Composite
	if err := ranked.Order("votes DESC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(rows))
	for _, row := range rows {
		entry := LeaderboardEntry{Name: row.Text, Votes: row.Votes}
		if row.ShareToken != nil {
			entry.ShareToken = *row.ShareToken
		}
		entries = append(entries, entry)
	}
	s.sampler.ShuffleTies(entries)
	return truncateEntries(entries, limit), nil
}

// RecentLeaders ranks approved composites by the votes they collected inside the recency
// window.
func (s *Service) RecentLeaders(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	since := s.engine.bucketStart(s.now().Add(-s.engine.Generator.RecencyWindow))
	var rows []struct {
		Text  string
		Total int64
	}
	err := s.db.WithContext(ctx).Table(RecentVote{}.TableName()).
		Select("recent_votes.text AS text, SUM(recent_votes.votes) AS total").
		Joins("JOIN composites ON composites.text = recent_votes.text").
		Where("recent_votes.bucket_start_s >= ?", since).
		Where("composites.moderation = ?", ModerationApproved).
		Group("recent_votes.text").
		Having("SUM(recent_votes.votes) > ?", 0).
		Order("total DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, s.fail(opRecentLeaders, "query_failed", err)
	}
	entries := make([]LeaderboardEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, LeaderboardEntry{Name: row.Text, Votes: row.Total})
	}
	s.sampler.ShuffleTies(entries)
	return truncateEntries(entries, limit), nil
}

func (s *Service) cachedLeaderboard(ctx context.Context) ([]LeaderboardEntry, bool) {
	if s.cache == nil {
		return nil, false
	}
	payload, err := s.cache.Load(ctx)
	if err != nil {
		cacheLookupCounter(cacheResultError)
		s.loggerOrDefault().Warn("leaderboard cache load failed", zap.Error(err))
		return nil, false
	}
	if payload == nil {
		cacheLookupCounter(cacheResultMiss)
		return nil, false
	}
	var entries []LeaderboardEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		cacheLookupCounter(cacheResultError)
		s.loggerOrDefault().Warn("leaderboard cache payload unreadable", zap.Error(err))
		return nil, false
	}
	cacheLookupCounter(cacheResultHit)
	return entries, true
}

func (s *Service) storeLeaderboard(ctx context.Context, entries []LeaderboardEntry) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		s.loggerOrDefault().Warn("leaderboard cache encode failed", zap.Error(err))
		return
	}
	if err := s.cache.Store(ctx, payload); err != nil {
		s.loggerOrDefault().Warn("leaderboard cache store failed", zap.Error(err))
	}
}

func truncateEntries(entries []LeaderboardEntry, limit int) []LeaderboardEntry {
	if entries == nil {
		return []LeaderboardEntry{}
	}
	if len(entries) > limit {
		return entries[:limit]
	}
	return entries
}

package names

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

type sequentialTokens struct {
	mu   sync.Mutex
	next int
}

func (p *sequentialTokens) NewToken() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("share-%03d", p.next), nil
}

type memoryLeaderboardCache struct {
	mu            sync.Mutex
	payload       []byte
	stores        int
	invalidations int
}

func (c *memoryLeaderboardCache) Load(context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payload, nil
}

func (c *memoryLeaderboardCache) Store(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payload = payload
	c.stores++
	return nil
}

func (c *memoryLeaderboardCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payload = nil
	c.invalidations++
	return nil
}

type recordingObserver struct {
	mu     sync.Mutex
	events []VoteEvent
}

func (o *recordingObserver) VoteApplied(event VoteEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
}

func (o *recordingObserver) snapshot() []VoteEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]VoteEvent(nil), o.events...)
}

type testOption func(*ServiceConfig)

func withEngine(mutate func(*EngineConfig)) testOption {
	return func(cfg *ServiceConfig) {
		engine := DefaultEngineConfig()
		if cfg.Engine != nil {
			engine = *cfg.Engine
		}
		mutate(&engine)
		cfg.Engine = &engine
	}
}

func withCache(cache LeaderboardCache) testOption {
	return func(cfg *ServiceConfig) {
		cfg.Cache = cache
	}
}

func withObserver(observer VoteObserver) testOption {
	return func(cfg *ServiceConfig) {
		cfg.Observer = observer
	}
}

func withSeed(seed int64) testOption {
	return func(cfg *ServiceConfig) {
		cfg.Sampler = NewSampler(seed)
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:names_%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := db.AutoMigrate(&Fragment{}, &Composite{}, &RecentVote{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, options ...testOption) (*Service, *gorm.DB) {
	t.Helper()

	db := newTestDB(t)
	cfg := ServiceConfig{
		Database:      db,
		Clock:         func() time.Time { return testNow },
		TokenProvider: &sequentialTokens{},
		Sampler:       NewSampler(7),
	}
	for _, option := range options {
		option(&cfg)
	}
	service, err := NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service, db
}

func seedFragment(t *testing.T, db *gorm.DB, text string, up, down int64, state Moderation) Fragment {
	t.Helper()
	fragment := Fragment{
		Text:             NormalizeFragment(text),
		Upvotes:          up,
		Downvotes:        down,
		Moderation:       state,
		CreatedAtSeconds: testNow.Unix(),
	}
	if err := db.Create(&fragment).Error; err != nil {
		t.Fatalf("seed fragment %q: %v", text, err)
	}
	return fragment
}

func seedComposite(t *testing.T, db *gorm.DB, text string, votes int64, state Moderation) Composite {
	t.Helper()
	composite := Composite{
		Text:             CanonicalComposite(text),
		Votes:            votes,
		Moderation:       state,
		CreatedAtSeconds: testNow.Unix(),
	}
	if err := db.Create(&composite).Error; err != nil {
		t.Fatalf("seed composite %q: %v", text, err)
	}
	return composite
}

func reloadFragment(t *testing.T, db *gorm.DB, text string) Fragment {
	t.Helper()
	var fragment Fragment
	if err := db.Where("text = ?", NormalizeFragment(text)).Take(&fragment).Error; err != nil {
		t.Fatalf("reload fragment %q: %v", text, err)
	}
	return fragment
}

func reloadComposite(t *testing.T, db *gorm.DB, text string) Composite {
	t.Helper()
	var composite Composite
	if err := db.Where("text = ?", CanonicalComposite(text)).Take(&composite).Error; err != nil {
		t.Fatalf("reload composite %q: %v", text, err)
	}
	return composite
}

func mustVote(t *testing.T, service *Service, text string, delta int64, propagate bool) VoteResult {
	t.Helper()
	result, err := service.Vote(context.Background(), text, delta, propagate)
	if err != nil {
		t.Fatalf("vote on %q: %v", text, err)
	}
	return result
}

func mustLeaderboard(t *testing.T, service *Service, limit int) []LeaderboardEntry {
	t.Helper()
	entries, err := service.Leaderboard(context.Background(), limit)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	return entries
}

func leaderboardNames(entries []LeaderboardEntry) []string {
	texts := make([]string, 0, len(entries))
	for _, entry := range entries {
		texts = append(texts, entry.Name)
	}
	return texts
}

func expectErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

package names

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

var (
	errMissingDatabase      = errors.New("database handle is required")
	errMissingTokenProvider = errors.New("share token provider is required")
	noOpLogger              = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew        = "names.service.new"
	opGenerateName      = "names.generate_name"
	opSubmitFragment    = "names.submit_fragment"
	opSubmitComposite   = "names.submit_composite"
	opVote              = "names.vote"
	opAnnotate          = "names.annotate"
	opFlag              = "names.flag"
	opModerate          = "names.moderate"
	opListPending       = "names.list_pending"
	opShareToken        = "names.share_token"
	opResolveToken      = "names.resolve_share_token"
	opEncodeCollection  = "names.encode_collection"
	opDecodeCollection  = "names.decode_collection"
	opLeaderboard       = "names.leaderboard"
	opRecentLeaders     = "names.recent_leaders"
	opFlipComposite     = "names.flip_composite"
	opLookup            = "names.lookup"
	opAdminListing      = "names.admin_listing"
	opReset             = "names.reset"
	opPurge             = "names.purge"
	opPool              = "names.pool"
	opDump              = "names.dump"
	opSeed              = "names.seed"
	opCompositeFragment = "names.composite_fragments"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// TokenProvider issues opaque share tokens.
type TokenProvider interface {
	NewToken() (string, error)
}

// LeaderboardCache stores a serialized leaderboard snapshot. A nil payload from Load
// means the cache had nothing.
type LeaderboardCache interface {
	Load(ctx context.Context) ([]byte, error)
	Store(ctx context.Context, payload []byte) error
	Invalidate(ctx context.Context) error
}

// VoteEvent describes a vote that changed stored counters.
type VoteEvent struct {
	Name       string
	Delta      int64
	Applied    int64
	Votes      int64
	Moderation Moderation
	At         time.Time
}

// VoteObserver is notified after a vote commits.
type VoteObserver interface {
	VoteApplied(event VoteEvent)
}

type ServiceConfig struct {
	Database      *gorm.DB
	Clock         func() time.Time
	TokenProvider TokenProvider
	Sampler       *Sampler
	Engine        *EngineConfig
	Cache         LeaderboardCache
	Observer      VoteObserver
	Logger        *zap.Logger
}

// Service is the name composition and ranking engine.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	tokens     TokenProvider
	sampler    *Sampler
	engine     EngineConfig
	cache      LeaderboardCache
	observer   VoteObserver
	logger     *zap.Logger
	shareGroup singleflight.Group
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.TokenProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_token_provider", errMissingTokenProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	sampler := cfg.Sampler
	if sampler == nil {
		sampler = newClockSampler()
	}

	engine := DefaultEngineConfig()
	if cfg.Engine != nil {
		engine = *cfg.Engine
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:       cfg.Database,
		clock:    clock,
		tokens:   cfg.TokenProvider,
		sampler:  sampler,
		engine:   engine,
		cache:    cfg.Cache,
		observer: cfg.Observer,
		logger:   logger,
	}, nil
}

// Engine returns the thresholds the service runs with.
func (s *Service) Engine() EngineConfig {
	return s.engine
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("names service error", attrs...)
}

// fail logs and wraps a storage failure.
func (s *Service) fail(operation, reason string, err error, fields ...zap.Field) error {
	s.logError(operation, reason, err, fields...)
	return newServiceError(operation, reason, err)
}

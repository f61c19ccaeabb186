package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/names"
	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/replay"
)

const (
	moderatorContextKey = "onomancer_moderator_session"
	requestNonceHeader  = "X-Request-Nonce"
	defaultHeartbeat    = 25 * time.Second
	maxListLimit        = 100
)

var (
	errMissingNamesService   = errors.New("names service dependency required")
	errMissingSessionIssuer  = errors.New("session issuer dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
	defaultFallbackNameSlice = []string{"Wanderer Unknown"}
)

// ModeratorSessions exchanges the moderator key for session tokens and validates them.
type ModeratorSessions interface {
	Exchange(presentedKey string) (string, int64, error)
	Validate(token string) (*auth.ModeratorClaims, error)
}

type Dependencies struct {
	Names          *names.Service
	Sessions       ModeratorSessions
	Nonces         *replay.NonceCache
	Dispatcher     *RealtimeDispatcher
	FallbackNames  []string
	AllowedOrigins []string
	Heartbeat      time.Duration
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Names == nil {
		return nil, errMissingNamesService
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionIssuer
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	nonces := deps.Nonces
	if nonces == nil {
		nonces = replay.NewNonceCache(replay.DefaultCapacity)
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = NewRealtimeDispatcher()
	}
	fallback := nonEmpty(deps.FallbackNames)
	if len(fallback) == 0 {
		fallback = defaultFallbackNameSlice
	}
	heartbeat := deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		names:      deps.Names,
		sessions:   deps.Sessions,
		nonces:     nonces,
		dispatcher: dispatcher,
		fallback:   fallback,
		sampler:    names.NewSampler(time.Now().UnixNano()),
		heartbeat:  heartbeat,
		logger:     logger,
	}
	router.Use(handler.rejectReplays)

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.GET("/names/random", handler.handleRandomName)
	router.POST("/fragments", handler.handleSubmitFragment)
	router.POST("/composites", handler.handleSubmitComposite)
	router.POST("/votes", handler.handleVote)
	router.POST("/annotations", handler.handleAnnotate)
	router.POST("/flags", handler.handleFlag)
	router.GET("/leaderboard", handler.handleLeaderboard)
	router.GET("/leaderboard/recent", handler.handleRecentLeaders)
	router.GET("/leaderboard/events", handler.handleLeaderboardEvents)
	router.GET("/share/:token", handler.handleResolveShare)
	router.POST("/share", handler.handleShareToken)
	router.POST("/collections", handler.handleEncodeCollection)
	router.GET("/collections/:token", handler.handleDecodeCollection)
	router.GET("/pool", handler.handlePool)

	router.POST("/moderation/session", handler.handleModeratorSession)
	moderation := router.Group("/moderation")
	moderation.Use(handler.authorizeModerator)
	moderation.GET("/pending", handler.handlePending)
	moderation.POST("/decisions", handler.handleDecision)
	moderation.POST("/flip", handler.handleFlip)
	moderation.GET("/admin", handler.handleAdminListing)
	moderation.GET("/lookup", handler.handleLookup)
	moderation.POST("/reset", handler.handleReset)
	moderation.POST("/purge", handler.handlePurge)
	moderation.GET("/export", handler.handleExport)

	return router, nil
}

type httpHandler struct {
	names      *names.Service
	sessions   ModeratorSessions
	nonces     *replay.NonceCache
	dispatcher *RealtimeDispatcher
	fallback   []string
	sampler    *names.Sampler
	heartbeat  time.Duration
	logger     *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", requestNonceHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	origins := nonEmpty(allowedOrigins)
	if len(origins) == 0 || containsString(origins, "*") {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

// rejectReplays refuses a POST whose nonce was already seen.
func (h *httpHandler) rejectReplays(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.Next()
		return
	}
	nonce := strings.TrimSpace(c.GetHeader(requestNonceHeader))
	if nonce == "" {
		c.Next()
		return
	}
	if !h.nonces.Remember(nonce) {
		metrics.ReplayedRequests.Inc()
		h.logger.Info("replayed request rejected", zap.String("path", c.FullPath()))
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "replayed_request"})
		return
	}
	c.Next()
}

func (h *httpHandler) authorizeModerator(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.sessions.Validate(token)
	if err != nil {
		h.logger.Info("moderator session validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(moderatorContextKey, claims.ID)
	c.Next()
}

// respondError maps engine errors onto HTTP statuses.
func (h *httpHandler) respondError(c *gin.Context, message string, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, names.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, names.ErrInvalidText):
		status, code = http.StatusBadRequest, "invalid_text"
	case errors.Is(err, names.ErrInvalidReference):
		status, code = http.StatusBadRequest, "invalid_reference"
	case errors.Is(err, names.ErrInvalidToken), errors.Is(err, names.ErrInvalidID):
		status, code = http.StatusBadRequest, "invalid_token"
	case errors.Is(err, names.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, names.ErrEmptyCorpus):
		status, code = http.StatusNotFound, "empty_corpus"
	}
	if status == http.StatusInternalServerError {
		h.logger.Error(message, zap.Error(err))
	}
	c.JSON(status, gin.H{"error": code})
}

func parseLimit(c *gin.Context, key string, fallback int) (int, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, false
	}
	if value > maxListLimit {
		value = maxListLimit
	}
	return value, true
}

func parseEntityKind(value string) (names.EntityKind, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(names.EntityFragment):
		return names.EntityFragment, true
	case string(names.EntityComposite):
		return names.EntityComposite, true
	default:
		return "", false
	}
}

func nonEmpty(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

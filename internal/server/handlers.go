package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/names"
)

type randomNameResponse struct {
	Name     string `json:"name"`
	Fallback bool   `json:"fallback"`
}

func (h *httpHandler) handleRandomName(c *gin.Context) {
	name, err := h.names.GenerateName(c.Request.Context())
	if errors.Is(err, names.ErrEmptyCorpus) {
		candidates := make([]names.Candidate, 0, len(h.fallback))
		for _, text := range h.fallback {
			candidates = append(candidates, names.Candidate{Text: text})
		}
		picked, _ := h.sampler.Pick(candidates, names.Selection{Kind: names.SelectUniform})
		c.JSON(http.StatusOK, randomNameResponse{Name: picked.Text, Fallback: true})
		return
	}
	if err != nil {
		h.respondError(c, "failed to generate name", err)
		return
	}
	c.JSON(http.StatusOK, randomNameResponse{Name: name})
}

type submissionPayload struct {
	Text     string `json:"text"`
	Rejected bool   `json:"rejected"`
}

func (h *httpHandler) handleSubmitFragment(c *gin.Context) {
	var request submissionPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	fragment, err := h.names.SubmitFragment(c.Request.Context(), request.Text, request.Rejected)
	if err != nil {
		h.respondError(c, "failed to submit fragment", err)
		return
	}
	c.JSON(http.StatusCreated, fragment)
}

func (h *httpHandler) handleSubmitComposite(c *gin.Context) {
	var request submissionPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.names.SubmitComposite(c.Request.Context(), request.Text, request.Rejected); err != nil {
		h.respondError(c, "failed to submit composite", err)
		return
	}
	c.Status(http.StatusAccepted)
}

type votePayload struct {
	Name      string `json:"name"`
	Delta     int64  `json:"delta"`
	Propagate *bool  `json:"propagate"`
}

type voteResponse struct {
	Name    string `json:"name"`
	Applied int64  `json:"applied"`
	Votes   int64  `json:"votes"`
}

// handleVote accepts single up or down votes; larger deltas are an engine-only operation.
func (h *httpHandler) handleVote(c *gin.Context) {
	var request votePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if request.Delta < -1 || request.Delta > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_delta"})
		return
	}
	propagate := true
	if request.Propagate != nil {
		propagate = *request.Propagate
	}
	result, err := h.names.Vote(c.Request.Context(), request.Name, request.Delta, propagate)
	if err != nil {
		h.respondError(c, "failed to record vote", err)
		return
	}
	c.JSON(http.StatusOK, voteResponse{Name: result.Name, Applied: result.Applied, Votes: result.Votes})
}

type annotationPayload struct {
	Fragment string `json:"fragment"`
	First    int64  `json:"first"`
	Second   int64  `json:"second"`
	Both     bool   `json:"both"`
}

func (h *httpHandler) handleAnnotate(c *gin.Context) {
	var request annotationPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Fragment) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	fragment, err := h.names.Annotate(c.Request.Context(), request.Fragment, request.First, request.Second, request.Both)
	if err != nil {
		h.respondError(c, "failed to annotate fragment", err)
		return
	}
	c.JSON(http.StatusOK, fragment)
}

type entityPayload struct {
	Kind   string `json:"kind"`
	ID     int64  `json:"id"`
	Text   string `json:"text"`
	Reason string `json:"reason"`
	State  string `json:"state"`
}

func (p entityPayload) ref() (names.EntityRef, bool) {
	kind, ok := parseEntityKind(p.Kind)
	if !ok {
		return names.EntityRef{}, false
	}
	return names.EntityRef{Kind: kind, ID: p.ID, Text: p.Text}, true
}

func (h *httpHandler) handleFlag(c *gin.Context) {
	var request entityPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	ref, ok := request.ref()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_reference"})
		return
	}
	if err := h.names.Flag(c.Request.Context(), ref, request.Reason); err != nil {
		h.respondError(c, "failed to flag entity", err)
		return
	}
	c.Status(http.StatusAccepted)
}

type leaderboardResponse struct {
	Entries []names.LeaderboardEntry `json:"entries"`
}

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	limit, ok := parseLimit(c, "limit", 10)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
		return
	}
	entries, err := h.names.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, "failed to rank composites", err)
		return
	}
	c.JSON(http.StatusOK, leaderboardResponse{Entries: nonNilEntries(entries)})
}

func (h *httpHandler) handleRecentLeaders(c *gin.Context) {
	limit, ok := parseLimit(c, "limit", 10)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
		return
	}
	entries, err := h.names.RecentLeaders(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, "failed to rank recent composites", err)
		return
	}
	c.JSON(http.StatusOK, leaderboardResponse{Entries: nonNilEntries(entries)})
}

type sharePayload struct {
	Name string `json:"name"`
}

type shareResponse struct {
	Token string `json:"token"`
}

type sharedNameResponse struct {
	Name  string `json:"name"`
	Votes int64  `json:"votes"`
}

// handleShareToken returns an empty token when the name is not trusted enough to share.
func (h *httpHandler) handleShareToken(c *gin.Context) {
	var request sharePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	token, err := h.names.ShareToken(c.Request.Context(), request.Name)
	if err != nil {
		h.respondError(c, "failed to issue share token", err)
		return
	}
	c.JSON(http.StatusOK, shareResponse{Token: token})
}

func (h *httpHandler) handleResolveShare(c *gin.Context) {
	composite, err := h.names.ResolveShareToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.respondError(c, "failed to resolve share token", err)
		return
	}
	c.JSON(http.StatusOK, sharedNameResponse{Name: composite.Text, Votes: composite.Votes})
}

type collectionPayload struct {
	Names []string `json:"names"`
	IDs   []int64  `json:"ids"`
}

type collectionResponse struct {
	Names   []string `json:"names"`
	Partial bool     `json:"partial"`
}

func (h *httpHandler) handleEncodeCollection(c *gin.Context) {
	var request collectionPayload
	if err := c.ShouldBindJSON(&request); err != nil || (len(request.Names) == 0 && len(request.IDs) == 0) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	var (
		token string
		err   error
	)
	if len(request.IDs) > 0 {
		token, err = h.names.EncodeCollection(request.IDs)
	} else {
		token, err = h.names.EncodeCollectionNames(c.Request.Context(), request.Names)
	}
	if err != nil {
		h.respondError(c, "failed to encode collection", err)
		return
	}
	c.JSON(http.StatusOK, shareResponse{Token: token})
}

// handleDecodeCollection serves whatever decoded before damage, flagged as partial.
func (h *httpHandler) handleDecodeCollection(c *gin.Context) {
	decoded, err := h.names.DecodeCollection(c.Request.Context(), c.Param("token"))
	if err != nil && !errors.Is(err, names.ErrInvalidToken) {
		h.respondError(c, "failed to decode collection", err)
		return
	}
	if err != nil && len(decoded) == 0 {
		h.respondError(c, "failed to decode collection", err)
		return
	}
	if decoded == nil {
		decoded = []string{}
	}
	c.JSON(http.StatusOK, collectionResponse{Names: decoded, Partial: err != nil})
}

type poolResponse struct {
	Names []string `json:"names"`
}

func (h *httpHandler) handlePool(c *gin.Context) {
	count, ok := parseLimit(c, "count", 10)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_count"})
		return
	}
	pool, err := h.names.Pool(c.Request.Context(), count)
	if err != nil {
		h.respondError(c, "failed to draw pool", err)
		return
	}
	if pool == nil {
		pool = []string{}
	}
	c.JSON(http.StatusOK, poolResponse{Names: pool})
}

func (h *httpHandler) handleLeaderboardEvents(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.dispatcher.Subscribe(ctx, TopicLeaderboard)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-stream:
			if !ok {
				return
			}
			c.SSEvent(message.EventType, message)
			c.Writer.Flush()
		case <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend})
			c.Writer.Flush()
			h.logger.Debug("leaderboard heartbeat sent", zap.String("topic", TopicLeaderboard))
		}
	}
}

func nonNilEntries(entries []names.LeaderboardEntry) []names.LeaderboardEntry {
	if entries == nil {
		return []names.LeaderboardEntry{}
	}
	return entries
}

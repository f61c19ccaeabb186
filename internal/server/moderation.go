package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/names"
)

type sessionRequestPayload struct {
	Key string `json:"key"`
}

type sessionResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleModeratorSession(c *gin.Context) {
	var request sessionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Key) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	token, expiresIn, err := h.sessions.Exchange(request.Key)
	if errors.Is(err, auth.ErrInvalidModeratorKey) {
		h.logger.Warn("moderator key rejected", zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err != nil {
		h.logger.Error("failed to issue moderator session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, sessionResponsePayload{AccessToken: token, ExpiresIn: expiresIn, TokenType: "Bearer"})
}

func (h *httpHandler) handlePending(c *gin.Context) {
	pending, err := h.names.ListPending(c.Request.Context())
	if err != nil {
		h.respondError(c, "failed to list pending content", err)
		return
	}
	c.JSON(http.StatusOK, pending)
}

func (h *httpHandler) handleDecision(c *gin.Context) {
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
	state, err := names.ParseModeration(request.State)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_state"})
		return
	}
	if err := h.names.Moderate(c.Request.Context(), ref, state); err != nil {
		h.respondError(c, "failed to apply moderation decision", err)
		return
	}
	h.logger.Info("moderation decision applied",
		zap.String("session_id", c.GetString(moderatorContextKey)),
		zap.String("kind", string(ref.Kind)),
		zap.Int64("id", ref.ID),
		zap.String("state", string(state)),
	)
	c.Status(http.StatusNoContent)
}

type flipResponse struct {
	Original names.Composite `json:"original"`
	Flipped  names.Composite `json:"flipped"`
}

func (h *httpHandler) handleFlip(c *gin.Context) {
	var request sharePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	original, flipped, err := h.names.FlipComposite(c.Request.Context(), request.Name)
	if err != nil {
		h.respondError(c, "failed to flip composite", err)
		return
	}
	c.JSON(http.StatusOK, flipResponse{Original: original, Flipped: flipped})
}

func (h *httpHandler) handleAdminListing(c *gin.Context) {
	listing, err := h.names.AdminListing(c.Request.Context())
	if err != nil {
		h.respondError(c, "failed to build admin listing", err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h *httpHandler) handleLookup(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query"})
		return
	}
	onlyGood, _ := strconv.ParseBool(c.DefaultQuery("only_good", "false"))
	result, err := h.names.Lookup(c.Request.Context(), query, onlyGood)
	if err != nil {
		h.respondError(c, "failed to look up content", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleReset(c *gin.Context) {
	var request entityPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.ID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	kind, ok := parseEntityKind(request.Kind)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_reference"})
		return
	}
	var err error
	if kind == names.EntityFragment {
		err = h.names.ResetFragment(c.Request.Context(), request.ID)
	} else {
		err = h.names.ResetComposite(c.Request.Context(), request.ID)
	}
	if err != nil {
		h.respondError(c, "failed to reset counters", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handlePurge deletes by id, or removes a fragment text and every composite using it.
func (h *httpHandler) handlePurge(c *gin.Context) {
	var request entityPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if request.ID <= 0 {
		if strings.TrimSpace(request.Text) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		result, err := h.names.PurgeText(c.Request.Context(), request.Text)
		if err != nil {
			h.respondError(c, "failed to purge text", err)
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}
	kind, ok := parseEntityKind(request.Kind)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_reference"})
		return
	}
	var err error
	if kind == names.EntityFragment {
		err = h.names.PurgeFragment(c.Request.Context(), request.ID)
	} else {
		err = h.names.PurgeComposite(c.Request.Context(), request.ID)
	}
	if err != nil {
		h.respondError(c, "failed to purge entity", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleExport(c *gin.Context) {
	format := strings.ToLower(c.DefaultQuery("format", "json"))
	if format != "json" && format != "yaml" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_format"})
		return
	}
	dump, err := h.names.Dump(c.Request.Context())
	if err != nil {
		h.respondError(c, "failed to export corpus", err)
		return
	}
	if format == "json" {
		c.JSON(http.StatusOK, dump)
		return
	}
	payload, err := yaml.Marshal(dump)
	if err != nil {
		h.logger.Error("failed to encode corpus export", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export_failed"})
		return
	}
	c.Data(http.StatusOK, "application/yaml", payload)
}

package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/database"
	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/names"
	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/replay"
)

const (
	testModeratorKey  = "moderator-key"
	testSigningSecret = "router-test-signing-secret"
	testIssuer        = "onomancer-test"
	testAudience      = "onomancer-moderation"
)

type routerHarness struct {
	handler    http.Handler
	service    *names.Service
	dispatcher *RealtimeDispatcher
}

type harnessOption func(*Dependencies)

func withLogger(logger *zap.Logger) harnessOption {
	return func(deps *Dependencies) {
		deps.Logger = logger
	}
}

func withFallbackNames(fallback ...string) harnessOption {
	return func(deps *Dependencies) {
		deps.FallbackNames = fallback
	}
}

func newRouterHarness(t *testing.T, options ...harnessOption) *routerHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:server_%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	db, err := database.Open(database.Options{Driver: database.DriverSQLite, Path: dsn}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	dispatcher := NewRealtimeDispatcher()
	service, err := names.NewService(names.ServiceConfig{
		Database:      db,
		TokenProvider: names.NewUUIDTokenProvider(),
		Sampler:       names.NewSampler(11),
		Observer:      dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to build names service: %v", err)
	}

	deps := Dependencies{
		Names:         service,
		Sessions:      mustSessionIssuer(t, time.Now),
		Nonces:        replay.NewNonceCache(32),
		Dispatcher:    dispatcher,
		FallbackNames: []string{"Wanderer Unknown"},
		Heartbeat:     time.Hour,
	}
	for _, option := range options {
		option(&deps)
	}

	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return &routerHarness{handler: handler, service: service, dispatcher: dispatcher}
}

func mustSessionIssuer(t *testing.T, clock func() time.Time) *auth.SessionIssuer {
	t.Helper()
	issuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		ModeratorKey:  testModeratorKey,
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
		SessionTTL:    time.Hour,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to build session issuer: %v", err)
	}
	return issuer
}

func (h *routerHarness) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}

func (h *routerHarness) moderatorToken(t *testing.T) string {
	t.Helper()
	recorder := h.do(t, http.MethodPost, "/moderation/session", map[string]string{"key": testModeratorKey}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected session exchange to succeed, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var response sessionResponsePayload
	mustDecode(t, recorder, &response)
	if response.AccessToken == "" || response.TokenType != "Bearer" {
		t.Fatalf("unexpected session response %+v", response)
	}
	return response.AccessToken
}

func (h *routerHarness) seed(t *testing.T, texts ...string) {
	t.Helper()
	if _, err := h.service.SeedFragments(t.Context(), texts); err != nil {
		t.Fatalf("failed to seed fragments: %v", err)
	}
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func mustDecode(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

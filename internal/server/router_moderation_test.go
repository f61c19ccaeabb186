package server

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/names"
)

func TestModerationRoutesRequireSession(t *testing.T) {
	harness := newRouterHarness(t)

	missing := harness.do(t, http.MethodGet, "/moderation/pending", nil, nil)
	if missing.Code != http.StatusUnauthorized {
		t.Fatalf("expected missing bearer to be 401, got %d", missing.Code)
	}
	garbage := harness.do(t, http.MethodGet, "/moderation/pending", nil, bearer("not-a-token"))
	if garbage.Code != http.StatusUnauthorized {
		t.Fatalf("expected invalid bearer to be 401, got %d", garbage.Code)
	}
	wrongKey := harness.do(t, http.MethodPost, "/moderation/session", sessionRequestPayload{Key: "guess"}, nil)
	if wrongKey.Code != http.StatusUnauthorized {
		t.Fatalf("expected wrong moderator key to be 401, got %d", wrongKey.Code)
	}
}

func TestExpiredSessionLogsAtInfo(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	harness := newRouterHarness(t, withLogger(zap.New(core)))

	past := func() time.Time { return time.Now().Add(-3 * time.Hour) }
	expired, _, err := mustSessionIssuer(t, past).Exchange(testModeratorKey)
	if err != nil {
		t.Fatalf("failed to issue expired session: %v", err)
	}

	recorder := harness.do(t, http.MethodGet, "/moderation/pending", nil, bearer(expired))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected expired session to be 401, got %d", recorder.Code)
	}

	entries := logs.FilterMessage("moderator session validation failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one validation log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected info level, got %s", entries[0].Level)
	}
}

func TestModerationDecisionFlow(t *testing.T) {
	harness := newRouterHarness(t)
	token := harness.moderatorToken(t)

	submitted := harness.do(t, http.MethodPost, "/fragments", submissionPayload{Text: "Orrin"}, nil)
	if submitted.Code != http.StatusCreated {
		t.Fatalf("expected submission to succeed, got %d", submitted.Code)
	}
	var fragment names.Fragment
	mustDecode(t, submitted, &fragment)

	pending := harness.do(t, http.MethodGet, "/moderation/pending", nil, bearer(token))
	if pending.Code != http.StatusOK {
		t.Fatalf("expected pending listing, got %d", pending.Code)
	}
	var queue names.PendingList
	mustDecode(t, pending, &queue)
	if len(queue.Fragments) != 1 || queue.Fragments[0].Text != "Orrin" {
		t.Fatalf("unexpected pending queue %+v", queue)
	}

	badState := harness.do(t, http.MethodPost, "/moderation/decisions", entityPayload{Kind: "fragment", ID: fragment.ID, State: "maybe"}, bearer(token))
	if badState.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown state to be rejected, got %d", badState.Code)
	}

	approve := harness.do(t, http.MethodPost, "/moderation/decisions", entityPayload{Kind: "fragment", ID: fragment.ID, State: "approved"}, bearer(token))
	if approve.Code != http.StatusNoContent {
		t.Fatalf("expected approval to succeed, got %d: %s", approve.Code, approve.Body.String())
	}
	stored, err := harness.service.FragmentByID(t.Context(), fragment.ID)
	if err != nil {
		t.Fatalf("failed to reload fragment: %v", err)
	}
	if stored.Moderation != names.ModerationApproved {
		t.Fatalf("expected approved fragment, got %s", stored.Moderation)
	}

	missing := harness.do(t, http.MethodPost, "/moderation/decisions", entityPayload{Kind: "fragment", ID: 9999, State: "approved"}, bearer(token))
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected unknown fragment to be 404, got %d", missing.Code)
	}
}

func TestModerationAdminTools(t *testing.T) {
	harness := newRouterHarness(t)
	harness.seed(t, "Alex", "Storm", "Mira")
	token := harness.moderatorToken(t)

	for _, name := range []string{"Alex Storm", "Alex Storm", "Mira Storm"} {
		if recorder := harness.do(t, http.MethodPost, "/votes", votePayload{Name: name, Delta: 1}, nil); recorder.Code != http.StatusOK {
			t.Fatalf("expected vote to succeed, got %d", recorder.Code)
		}
	}

	lookup := harness.do(t, http.MethodGet, "/moderation/lookup?q=Storm", nil, bearer(token))
	if lookup.Code != http.StatusOK {
		t.Fatalf("expected lookup to succeed, got %d", lookup.Code)
	}
	var found names.LookupResult
	mustDecode(t, lookup, &found)
	if len(found.Composites) != 2 {
		t.Fatalf("expected two composites containing Storm, got %+v", found.Composites)
	}

	flip := harness.do(t, http.MethodPost, "/moderation/flip", sharePayload{Name: "Alex Storm"}, bearer(token))
	if flip.Code != http.StatusOK {
		t.Fatalf("expected flip to succeed, got %d: %s", flip.Code, flip.Body.String())
	}
	var flipped flipResponse
	mustDecode(t, flip, &flipped)
	if flipped.Flipped.Text != "Storm Alex" || flipped.Flipped.Votes != 2 {
		t.Fatalf("unexpected flip result %+v", flipped)
	}

	composite, err := harness.service.CompositeByText(t.Context(), "Mira Storm")
	if err != nil {
		t.Fatalf("failed to load composite: %v", err)
	}
	reset := harness.do(t, http.MethodPost, "/moderation/reset", entityPayload{Kind: "composite", ID: composite.ID}, bearer(token))
	if reset.Code != http.StatusNoContent {
		t.Fatalf("expected reset to succeed, got %d", reset.Code)
	}
	reloaded, err := harness.service.CompositeByID(t.Context(), composite.ID)
	if err != nil {
		t.Fatalf("failed to reload composite: %v", err)
	}
	if reloaded.Votes != 0 {
		t.Fatalf("expected reset votes, got %d", reloaded.Votes)
	}

	purge := harness.do(t, http.MethodPost, "/moderation/purge", entityPayload{Text: "Mira"}, bearer(token))
	if purge.Code != http.StatusOK {
		t.Fatalf("expected purge by text to succeed, got %d", purge.Code)
	}
	var purged names.PurgeResult
	mustDecode(t, purge, &purged)
	if purged.Fragments != 1 || purged.Composites != 1 {
		t.Fatalf("unexpected purge result %+v", purged)
	}

	admin := harness.do(t, http.MethodGet, "/moderation/admin", nil, bearer(token))
	if admin.Code != http.StatusOK {
		t.Fatalf("expected admin listing, got %d", admin.Code)
	}
}

func TestModerationExportFormats(t *testing.T) {
	harness := newRouterHarness(t)
	harness.seed(t, "Alex", "Storm")
	token := harness.moderatorToken(t)

	asJSON := harness.do(t, http.MethodGet, "/moderation/export", nil, bearer(token))
	if asJSON.Code != http.StatusOK {
		t.Fatalf("expected json export, got %d", asJSON.Code)
	}
	var dump names.CorpusDump
	mustDecode(t, asJSON, &dump)
	if len(dump.Fragments) != 2 {
		t.Fatalf("expected two exported fragments, got %d", len(dump.Fragments))
	}

	asYAML := harness.do(t, http.MethodGet, "/moderation/export?format=yaml", nil, bearer(token))
	if asYAML.Code != http.StatusOK {
		t.Fatalf("expected yaml export, got %d", asYAML.Code)
	}
	if !strings.Contains(asYAML.Body.String(), "fragments:") || !strings.Contains(asYAML.Body.String(), "text: Alex") {
		t.Fatalf("unexpected yaml export %q", asYAML.Body.String())
	}

	unknown := harness.do(t, http.MethodGet, "/moderation/export?format=xml", nil, bearer(token))
	if unknown.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown format to be rejected, got %d", unknown.Code)
	}
}

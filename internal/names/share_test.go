package names

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
)

func TestShareTokenIssuesOnceForApprovedPairing(t *testing.T) {
	service, db := newTestService(t)
	seedFragment(t, db, "Alex", 10, 0, ModerationApproved)
	seedFragment(t, db, "Storm", 8, 1, ModerationApproved)
	ctx := context.Background()

	token, err := service.ShareToken(ctx, "Alex Storm")
	if err != nil {
		t.Fatalf("share token: %v", err)
	}
	if token != "share-001" {
		t.Fatalf("expected share-001, got %q", token)
	}

	composite := reloadComposite(t, db, "Alex Storm")
	if composite.Moderation != ModerationApproved || composite.Votes != 0 {
		t.Fatalf("expected an approved composite at zero votes, got %+v", composite)
	}

	again, err := service.ShareToken(ctx, "Alex Storm")
	if err != nil || again != token {
		t.Fatalf("expected the same token %q, got %q (%v)", token, again, err)
	}

	resolved, err := service.ResolveShareToken(ctx, token)
	if err != nil {
		t.Fatalf("resolve share token: %v", err)
	}
	if resolved.Text != "Alex Storm" {
		t.Fatalf("expected Alex Storm, got %q", resolved.Text)
	}
}

func TestShareTokenRefusesUntrustedContent(t *testing.T) {
	service, db := newTestService(t)
	seedFragment(t, db, "Alex", 10, 0, ModerationApproved)
	seedFragment(t, db, "Maybe", 0, 0, ModerationPending)
	seedComposite(t, db, "Storm Alex", 4, ModerationRejected)
	seedComposite(t, db, "Sunk Name", -5, ModerationApproved)
	seedComposite(t, db, "Queued Name", 6, ModerationPending)
	ctx := context.Background()

	voted := mustVote(t, service, "Unvetted Slur", 1, true)
	if voted.Applied != 1 {
		t.Fatalf("expected the vote to land, got %+v", voted)
	}
	if state := reloadComposite(t, db, "Unvetted Slur").Moderation; state != ModerationPending {
		t.Fatalf("expected a pending composite from unknown fragments, got %s", state)
	}

	for _, text := range []string{"Alex Maybe", "Storm Alex", "Sunk Name", "Queued Name", "Unvetted Slur", "Unknown Pair"} {
		token, err := service.ShareToken(ctx, text)
		if err != nil {
			t.Fatalf("share token for %q: %v", text, err)
		}
		if token != "" {
			t.Fatalf("expected no token for %q, got %q", text, token)
		}
	}
	if stored := reloadComposite(t, db, "Unvetted Slur"); stored.ShareToken != nil {
		t.Fatalf("expected no token stored on a pending composite, got %q", *stored.ShareToken)
	}
	var count int64
	if err := db.Model(&Composite{}).Where("text = ?", "Alex Maybe").Count(&count).Error; err != nil {
		t.Fatalf("count composites: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no composite for a pending fragment, got %d", count)
	}
}

func TestShareTokenAssignsLazilyToExistingComposite(t *testing.T) {
	service, db := newTestService(t)
	seedComposite(t, db, "Alex Storm", 3, ModerationApproved)

	token, err := service.ShareToken(context.Background(), "Alex Storm")
	if err != nil {
		t.Fatalf("share token: %v", err)
	}
	if token == "" {
		t.Fatalf("expected a token for an approved composite")
	}
	stored := reloadComposite(t, db, "Alex Storm")
	if stored.ShareToken == nil || *stored.ShareToken != token {
		t.Fatalf("expected stored token %q, got %v", token, stored.ShareToken)
	}
}

func TestShareTokenIsStableUnderConcurrency(t *testing.T) {
	service, db := newTestService(t)
	seedFragment(t, db, "Alex", 10, 0, ModerationApproved)
	seedFragment(t, db, "Storm", 8, 1, ModerationApproved)

	var mu sync.Mutex
	tokens := map[string]struct{}{}
	group, ctx := errgroup.WithContext(context.Background())
	for worker := 0; worker < 8; worker++ {
		group.Go(func() error {
			token, err := service.ShareToken(ctx, "Alex Storm")
			if err != nil {
				return err
			}
			mu.Lock()
			tokens[token] = struct{}{}
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		t.Fatalf("concurrent share tokens: %v", err)
	}
	if len(tokens) != 1 {
		t.Fatalf("expected a single token, got %v", tokens)
	}
}

func TestResolveShareTokenHidesUnapprovedComposites(t *testing.T) {
	service, db := newTestService(t)
	seedComposite(t, db, "Alex Storm", 3, ModerationApproved)
	ctx := context.Background()
	token, err := service.ShareToken(ctx, "Alex Storm")
	if err != nil {
		t.Fatalf("share token: %v", err)
	}

	if err := service.Flag(ctx, CompositeTextRef("Alex Storm"), "reported by users"); err != nil {
		t.Fatalf("flag: %v", err)
	}
	_, err = service.ResolveShareToken(ctx, token)
	expectErrorIs(t, err, ErrNotFound)

	if err := service.Moderate(ctx, CompositeTextRef("Alex Storm"), ModerationPending); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	_, err = service.ResolveShareToken(ctx, token)
	expectErrorIs(t, err, ErrNotFound)

	_, err = service.ResolveShareToken(ctx, "missing")
	expectErrorIs(t, err, ErrNotFound)
}

func TestResolveShareTokensKeepsOrder(t *testing.T) {
	service, db := newTestService(t)
	seedComposite(t, db, "Alex Storm", 3, ModerationApproved)
	seedComposite(t, db, "Nova Lane", 1, ModerationApproved)
	ctx := context.Background()
	first, err := service.ShareToken(ctx, "Alex Storm")
	if err != nil {
		t.Fatalf("share token: %v", err)
	}
	second, err := service.ShareToken(ctx, "Nova Lane")
	if err != nil {
		t.Fatalf("share token: %v", err)
	}

	resolved, err := service.ResolveShareTokens(ctx, []string{second, "bogus", first})
	if err != nil {
		t.Fatalf("resolve share tokens: %v", err)
	}
	if diff := cmp.Diff([]string{"Nova Lane", "Alex Storm"}, resolved); diff != "" {
		t.Fatalf("unexpected resolution (-want +got):\n%s", diff)
	}
}

func TestCollectionRoundTripResolvesNames(t *testing.T) {
	service, db := newTestService(t)
	for _, id := range []int64{3, 27, 5} {
		if err := db.Create(&Composite{
			ID:               id,
			Text:             "name" + strconv.FormatInt(id, 10),
			Moderation:       ModerationApproved,
			CreatedAtSeconds: testNow.Unix(),
		}).Error; err != nil {
			t.Fatalf("seed composite %d: %v", id, err)
		}
	}
	ctx := context.Background()

	cases := []struct {
		ids  []int64
		want []string
	}{
		{ids: []int64{3, 27, 5}, want: []string{"name3", "name27", "name5"}},
		{ids: []int64{3, 99, 5}, want: []string{"name3", PlaceholderText, "name5"}},
	}
	for _, testCase := range cases {
		token, err := service.EncodeCollection(testCase.ids)
		if err != nil {
			t.Fatalf("encode %v: %v", testCase.ids, err)
		}
		texts, err := service.DecodeCollection(ctx, token)
		if err != nil {
			t.Fatalf("decode %q: %v", token, err)
		}
		if diff := cmp.Diff(testCase.want, texts); diff != "" {
			t.Fatalf("unexpected names for %v (-want +got):\n%s", testCase.ids, diff)
		}
	}
}

func TestDecodeCollectionDegradesOnDamage(t *testing.T) {
	service, db := newTestService(t)
	composite := seedComposite(t, db, "Alex Storm", 1, ModerationApproved)
	rejected := seedComposite(t, db, "Storm Alex", 1, ModerationRejected)
	ctx := context.Background()

	token, err := service.EncodeCollection([]int64{composite.ID, rejected.ID})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	texts, err := service.DecodeCollection(ctx, token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff([]string{"Alex Storm", PlaceholderText}, texts); diff != "" {
		t.Fatalf("unexpected names (-want +got):\n%s", diff)
	}

	texts, err = service.DecodeCollection(ctx, token+"@@")
	expectErrorIs(t, err, ErrInvalidToken)
	if len(texts) != 0 {
		t.Fatalf("expected no names from an undecodable token, got %v", texts)
	}
}

func TestEncodeCollectionNamesSkipsUnknownNames(t *testing.T) {
	service, db := newTestService(t)
	first := seedComposite(t, db, "Alex Storm", 1, ModerationApproved)
	second := seedComposite(t, db, "Nova Lane", 1, ModerationPending)
	seedComposite(t, db, "Storm Alex", 1, ModerationRejected)
	ctx := context.Background()

	ids, err := service.CollectionIDs(ctx, []string{"Nova Lane", "Storm Alex", "Ghost Name", " Alex Storm "})
	if err != nil {
		t.Fatalf("collection ids: %v", err)
	}
	if diff := cmp.Diff([]int64{second.ID, first.ID}, ids); diff != "" {
		t.Fatalf("unexpected ids (-want +got):\n%s", diff)
	}

	token, err := service.EncodeCollectionNames(ctx, []string{"Alex Storm", "Nova Lane"})
	if err != nil {
		t.Fatalf("encode names: %v", err)
	}
	texts, err := service.DecodeCollection(ctx, token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff([]string{"Alex Storm", "Nova Lane"}, texts); diff != "" {
		t.Fatalf("unexpected names (-want +got):\n%s", diff)
	}
}

func TestEncodeCollectionRejectsInvalidIDs(t *testing.T) {
	service, _ := newTestService(t)
	_, err := service.EncodeCollection([]int64{1, 0})
	expectErrorIs(t, err, ErrInvalidID)
}

package names

import (
	"context"
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
)

func mustGenerateName(t *testing.T, service *Service) string {
	t.Helper()
	name, err := service.GenerateName(context.Background())
	if err != nil {
		t.Fatalf("generate name: %v", err)
	}
	return name
}

func TestGenerateNameFailsOnEmptyCorpus(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.GenerateName(context.Background())
	expectErrorIs(t, err, ErrEmptyCorpus)
}

func TestGenerateNameNeverReturnsRejectedComposites(t *testing.T) {
	service, db := newTestService(t, withSeed(11))
	seedFragment(t, db, "Grim", 3, 0, ModerationApproved)
	seedFragment(t, db, "Reaper", 3, 0, ModerationApproved)
	seedComposite(t, db, "Grim Reaper", 10, ModerationRejected)
	seedComposite(t, db, "Reaper Grim", 10, ModerationRejected)
	seedComposite(t, db, "Fair Weather", 5, ModerationApproved)
	seedComposite(t, db, "Calm Harbor", 0, ModerationApproved)
	seedComposite(t, db, "Sunk Ship", -3, ModerationApproved)

	seen := map[string]int{}
	for call := 0; call < 1000; call++ {
		seen[mustGenerateName(t, service)]++
	}
	for _, hidden := range []string{"Grim Reaper", "Reaper Grim", "Sunk Ship"} {
		if seen[hidden] != 0 {
			t.Fatalf("expected %q never to be generated, got %d draws", hidden, seen[hidden])
		}
	}
	for _, visible := range []string{"Fair Weather", "Calm Harbor"} {
		if seen[visible] == 0 {
			t.Fatalf("expected %q to be generated at least once: %v", visible, seen)
		}
	}
}

func TestGenerateNameComposesOnlyEligibleFragments(t *testing.T) {
	service, db := newTestService(t, withSeed(3), withEngine(func(engine *EngineConfig) {
		engine.Generator.FreshProbability = 1
		engine.Generator.RecencyProbability = 0
	}))

	faker := gofakeit.New(99)
	approved := map[string]bool{}
	for len(approved) < 40 {
		text := NormalizeFragment(faker.FirstName())
		if approved[text] {
			continue
		}
		approved[text] = true
		seedFragment(t, db, text, int64(faker.Number(0, 6)), int64(faker.Number(0, 2)), ModerationApproved)
	}
	excluded := []string{"Rejectus", "Pendix", "Downvotia"}
	seedFragment(t, db, "Rejectus", 50, 0, ModerationRejected)
	seedFragment(t, db, "Pendix", 50, 0, ModerationPending)
	seedFragment(t, db, "Downvotia", 1, 20, ModerationApproved)

	for call := 0; call < 500; call++ {
		name := mustGenerateName(t, service)
		parts := SplitComposite(name)
		if len(parts) != 2 || parts[0] == parts[1] {
			t.Fatalf("expected two distinct fragments in %q", name)
		}
		for _, part := range parts {
			if !approved[part] {
				t.Fatalf("fragment %q in %q is not eligible", part, name)
			}
			for _, bad := range excluded {
				if strings.EqualFold(part, bad) {
					t.Fatalf("excluded fragment %q used in %q", bad, name)
				}
			}
		}
	}
}

func TestGenerateNameHonoursPositionalAffinity(t *testing.T) {
	service, db := newTestService(t, withEngine(func(engine *EngineConfig) {
		engine.Generator.FreshProbability = 1
	}))
	if err := db.Create(&Fragment{
		Text: "Alpha", Moderation: ModerationApproved, FirstAffinity: 0, SecondAffinity: 5, CreatedAtSeconds: testNow.Unix(),
	}).Error; err != nil {
		t.Fatalf("seed fragment: %v", err)
	}
	seedFragment(t, db, "Beta", 0, 0, ModerationApproved)

	for call := 0; call < 50; call++ {
		if name := mustGenerateName(t, service); name != "Beta Alpha" {
			t.Fatalf("expected Beta Alpha, got %q", name)
		}
	}
}

func TestGenerateNameSkipsDemotedPairings(t *testing.T) {
	service, db := newTestService(t, withEngine(func(engine *EngineConfig) {
		engine.Generator.FreshProbability = 1
	}))
	seedFragment(t, db, "Alpha", 0, 0, ModerationApproved)
	seedFragment(t, db, "Beta", 0, 0, ModerationApproved)
	seedComposite(t, db, "Alpha Beta", -2, ModerationApproved)
	seedComposite(t, db, "Beta Alpha", 0, ModerationRejected)

	_, err := service.GenerateName(context.Background())
	expectErrorIs(t, err, ErrEmptyCorpus)
}

func TestGenerateNameRetriesCompositionWhenNoLeadersExist(t *testing.T) {
	service, db := newTestService(t, withEngine(func(engine *EngineConfig) {
		engine.Generator.FreshProbability = 0
	}))
	seedFragment(t, db, "Alpha", 0, 0, ModerationApproved)
	seedFragment(t, db, "Beta", 0, 0, ModerationApproved)

	name := mustGenerateName(t, service)
	if name != "Alpha Beta" && name != "Beta Alpha" {
		t.Fatalf("expected a fresh pairing, got %q", name)
	}
}

func TestGenerateNamePrefersRecentlyUpvotedComposites(t *testing.T) {
	service, db := newTestService(t, withEngine(func(engine *EngineConfig) {
		engine.Generator.FreshProbability = 0
		engine.Generator.RecencyProbability = 1
	}))
	seedComposite(t, db, "Alex Storm", 0, ModerationApproved)
	seedComposite(t, db, "Quiet Name", 0, ModerationApproved)
	mustVote(t, service, "Alex Storm", 3, false)

	for call := 0; call < 25; call++ {
		if name := mustGenerateName(t, service); name != "Alex Storm" {
			t.Fatalf("expected the recently upvoted name, got %q", name)
		}
	}
}

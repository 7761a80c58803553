package scenarios

import (
	"context"
	"testing"

	"github.com/showroomhq/showroom-backend/pkg/db/models"
)

func newMatchCache(t *testing.T, scenarios ...models.Scenario) *Cache {
	t.Helper()
	cache, err := NewCache(CacheParams{Repo: &stubRepo{scenarios: scenarios}})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return cache
}

func TestMatchPrefersTagOverlap(t *testing.T) {
	t.Parallel()

	beach := scenario("beach", "beach", "swim")
	urban := scenario("urban", "city")
	cache := newMatchCache(t, beach, urban)

	got, err := cache.Match(context.Background(), []string{"Beach"}, "streetwear")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if got == nil || got.ID != beach.ID {
		t.Fatalf("expected the beach scenario, got %+v", got)
	}
}

func TestMatchSubstringEitherDirection(t *testing.T) {
	t.Parallel()

	scene := scenario("outdoor", "beachfront")
	cache := newMatchCache(t, scene, scenario("studio"))

	// Keyword is a substring of the tag.
	got, err := cache.Match(context.Background(), []string{"beach"}, "")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if got == nil || got.ID != scene.ID {
		t.Fatalf("expected substring hit on tag, got %+v", got)
	}

	// Tag is a substring of the keyword.
	got, err = cache.Match(context.Background(), []string{"beachfront villa"}, "")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if got == nil || got.ID != scene.ID {
		t.Fatalf("expected substring hit on keyword, got %+v", got)
	}
}

func TestMatchFallsBackToCategory(t *testing.T) {
	t.Parallel()

	urban := scenario("urban", "rooftop")
	studio := scenario("studio", "plain")
	cache := newMatchCache(t, urban, studio)

	got, err := cache.Match(context.Background(), []string{"zzz"}, "streetwear")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if got == nil || got.ID != urban.ID {
		t.Fatalf("expected the urban scenario via category mapping, got %+v", got)
	}
}

func TestMatchNeverEmptyWhileScenariosExist(t *testing.T) {
	t.Parallel()

	only := scenario("studio", "plain")
	cache := newMatchCache(t, only)

	got, err := cache.Match(context.Background(), []string{"nomatch"}, "unknown-category")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if got == nil || got.ID != only.ID {
		t.Fatalf("expected fallback to any active scenario, got %+v", got)
	}
}

func TestMatchNilOnEmptyCache(t *testing.T) {
	t.Parallel()

	cache := newMatchCache(t)
	got, err := cache.Match(context.Background(), []string{"beach"}, "swimwear")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for empty cache, got %+v", got)
	}
}

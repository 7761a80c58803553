package scenarios

import (
	"context"
	"math/rand"
	"strings"

	"github.com/showroomhq/showroom-backend/pkg/db/models"
)

// categoryScenes maps product categories to the scenario category used when
// no tag overlap exists.
var categoryScenes = map[string]string{
	"swimwear":    "beach",
	"streetwear":  "urban",
	"denim":       "urban",
	"activewear":  "outdoor",
	"outerwear":   "outdoor",
	"formalwear":  "studio",
	"accessories": "studio",
}

// Match picks a scenario for the given product keywords, preferring tag
// overlap, then the first product's mapped category, then any active
// scenario. Returns nil only when no active scenario exists at all.
func (c *Cache) Match(ctx context.Context, keywords []string, productCategory string) (*models.Scenario, error) {
	snapshot, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if len(snapshot) == 0 {
		return nil, nil
	}

	if matches := byTags(snapshot, keywords); len(matches) > 0 {
		return pick(matches), nil
	}
	if scene, ok := categoryScenes[strings.ToLower(strings.TrimSpace(productCategory))]; ok {
		if matches := byCategory(snapshot, scene); len(matches) > 0 {
			return pick(matches), nil
		}
	}
	return pick(snapshot), nil
}

// byTags keeps scenarios whose tags overlap the keywords. A case-insensitive
// substring hit in either direction counts.
func byTags(scenarios []models.Scenario, keywords []string) []models.Scenario {
	if len(keywords) == 0 {
		return nil
	}
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if trimmed := strings.ToLower(strings.TrimSpace(kw)); trimmed != "" {
			lowered = append(lowered, trimmed)
		}
	}

	var matches []models.Scenario
	for _, scenario := range scenarios {
		if tagsOverlap(scenario.Tags, lowered) {
			matches = append(matches, scenario)
		}
	}
	return matches
}

func tagsOverlap(tags []string, keywords []string) bool {
	for _, tag := range tags {
		lowTag := strings.ToLower(tag)
		for _, kw := range keywords {
			if strings.Contains(lowTag, kw) || strings.Contains(kw, lowTag) {
				return true
			}
		}
	}
	return false
}

func byCategory(scenarios []models.Scenario, category string) []models.Scenario {
	var matches []models.Scenario
	for _, scenario := range scenarios {
		if strings.EqualFold(scenario.Category, category) {
			matches = append(matches, scenario)
		}
	}
	return matches
}

func pick(scenarios []models.Scenario) *models.Scenario {
	chosen := scenarios[rand.Intn(len(scenarios))]
	return &chosen
}

package controllers

import (
	"net/http"

	"github.com/showroomhq/showroom-backend/api/responses"
	"github.com/showroomhq/showroom-backend/internal/scenarios"
	"github.com/showroomhq/showroom-backend/pkg/db/models"
	pkgerrors "github.com/showroomhq/showroom-backend/pkg/errors"
	"github.com/showroomhq/showroom-backend/pkg/logger"
)

type scenarioResponse struct {
	ID             string   `json:"id"`
	ImageURL       string   `json:"image_url"`
	LightingPrompt string   `json:"lighting_prompt,omitempty"`
	Category       string   `json:"category"`
	Tags           []string `json:"tags"`
}

func newScenarioResponse(scenario models.Scenario) scenarioResponse {
	return scenarioResponse{
		ID:             scenario.ID.String(),
		ImageURL:       scenario.ImageURL,
		LightingPrompt: scenario.LightingPrompt,
		Category:       scenario.Category,
		Tags:           scenario.Tags,
	}
}

// ScenariosList serves the active scenario snapshot.
func ScenariosList(cache *scenarios.Cache, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cache == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "scenario cache unavailable"))
			return
		}

		snapshot, err := cache.Snapshot(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load scenarios"))
			return
		}
		payload := make([]scenarioResponse, 0, len(snapshot))
		for _, scenario := range snapshot {
			payload = append(payload, newScenarioResponse(scenario))
		}
		responses.WriteSuccess(w, payload)
	}
}

// ScenariosRefresh forces a cache reload.
func ScenariosRefresh(cache *scenarios.Cache, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cache == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "scenario cache unavailable"))
			return
		}

		snapshot, err := cache.Refresh(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "refresh scenarios"))
			return
		}
		responses.WriteSuccess(w, map[string]int{"count": len(snapshot)})
	}
}

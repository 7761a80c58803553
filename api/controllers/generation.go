package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/showroomhq/showroom-backend/api/responses"
	"github.com/showroomhq/showroom-backend/api/validators"
	generationsvc "github.com/showroomhq/showroom-backend/internal/generation"
	"github.com/showroomhq/showroom-backend/internal/generation/dispatch"
	ledgersvc "github.com/showroomhq/showroom-backend/internal/ledger"
	"github.com/showroomhq/showroom-backend/pkg/db/models"
	pkgerrors "github.com/showroomhq/showroom-backend/pkg/errors"
	"github.com/showroomhq/showroom-backend/pkg/logger"
)

type createGenerationRequest struct {
	StoreID        uuid.UUID       `json:"store_id" validate:"required"`
	CustomerID     *uuid.UUID      `json:"customer_id"`
	PersonImageURL string          `json:"person_image_url" validate:"required,url"`
	ProductIDs     []uuid.UUID     `json:"product_ids" validate:"required,min=1"`
	Options        json.RawMessage `json:"options"`
}

type createGenerationResponse struct {
	JobID         string `json:"job_id"`
	ReservationID string `json:"reservation_id"`
	Status        string `json:"status"`
}

type jobStatusResponse struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
	ResultImageURL string `json:"result_image_url,omitempty"`
	CompositionID  string `json:"composition_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

func newJobStatusResponse(job *models.GenerationJob) jobStatusResponse {
	resp := jobStatusResponse{
		JobID:  job.ID.String(),
		Status: job.Status.String(),
	}
	if job.ResultImageURL != nil {
		resp.ResultImageURL = *job.ResultImageURL
	}
	if job.CompositionID != nil {
		resp.CompositionID = *job.CompositionID
	}
	if job.Error != nil {
		resp.Error = *job.Error
	}
	return resp
}

// GenerationCreate reserves one credit and enqueues a generation job. The
// response is a 202; the job itself runs in the worker.
func GenerationCreate(jobs generationsvc.Service, ledg ledgersvc.Service, dispatcher dispatch.Dispatcher, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jobs == nil || ledg == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "generation service unavailable"))
			return
		}

		var payload createGenerationRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		reservation, err := ledg.Reserve(r.Context(), payload.StoreID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		job, err := jobs.Create(r.Context(), generationsvc.CreateJobInput{
			StoreID:        payload.StoreID,
			CustomerID:     payload.CustomerID,
			ReservationID:  reservation.ID,
			PersonImageURL: payload.PersonImageURL,
			ProductIDs:     payload.ProductIDs,
			Options:        payload.Options,
		})
		if err != nil {
			// The hold must not outlive a failed create.
			if rbErr := ledg.Rollback(r.Context(), payload.StoreID, reservation.ID); rbErr != nil {
				logg.Error(r.Context(), "release reservation after failed create", rbErr)
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if dispatcher != nil {
			dispatcher.Dispatch(r.Context(), job.ID)
		}

		responses.WriteSuccessStatus(w, http.StatusAccepted, createGenerationResponse{
			JobID:         job.ID.String(),
			ReservationID: reservation.ID,
			Status:        job.Status.String(),
		})
	}
}

// GenerationStatus serves the polling endpoint.
func GenerationStatus(jobs generationsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jobs == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "generation service unavailable"))
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "generation job not found"))
			return
		}

		job, err := jobs.Get(r.Context(), jobID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newJobStatusResponse(job))
	}
}

type jobActionRequest struct {
	StoreID uuid.UUID `json:"store_id" validate:"required"`
}

// GenerationConfirm commits the credit hold of a delivered job. Payment is
// only captured once the customer actually consumes the result.
func GenerationConfirm(jobs generationsvc.Service, ledg ledgersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jobs == nil || ledg == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "generation service unavailable"))
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "generation job not found"))
			return
		}
		var payload jobActionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		job, err := jobs.GetForStore(r.Context(), payload.StoreID, jobID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if job.ResultImageURL == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeStateConflict, "job has no result to confirm"))
			return
		}
		if err := ledg.Commit(r.Context(), job.StoreID, job.ReservationID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newJobStatusResponse(job))
	}
}

// GenerationCancel cancels a pre-terminal job and releases its credit hold.
func GenerationCancel(jobs generationsvc.Service, ledg ledgersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jobs == nil || ledg == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "generation service unavailable"))
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "generation job not found"))
			return
		}
		var payload jobActionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		job, err := jobs.Cancel(r.Context(), payload.StoreID, jobID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := ledg.Rollback(r.Context(), job.StoreID, job.ReservationID); err != nil {
			logg.Error(r.Context(), "release reservation after cancel", err)
		}
		responses.WriteSuccess(w, newJobStatusResponse(job))
	}
}

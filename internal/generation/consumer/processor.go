package consumer

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/showroomhq/showroom-backend/internal/generation"
	"github.com/showroomhq/showroom-backend/internal/ledger"
	"github.com/showroomhq/showroom-backend/pkg/db/models"
	pkgerrors "github.com/showroomhq/showroom-backend/pkg/errors"
	"github.com/showroomhq/showroom-backend/pkg/generator"
	"github.com/showroomhq/showroom-backend/pkg/logger"
)

type composeClient interface {
	Compose(ctx context.Context, request generator.Request) (*generator.Composition, error)
}

type scenarioMatcher interface {
	Match(ctx context.Context, keywords []string, productCategory string) (*models.Scenario, error)
}

// jobOptions is the subset of the job's opaque options the worker acts on.
type jobOptions struct {
	Keywords        []string `json:"keywords"`
	Category        string   `json:"category"`
	ProductImageURL string   `json:"product_image_url"`
}

// Processor runs one generation job end to end: claim, scenario selection,
// backend call, terminal bookkeeping. Safe to invoke concurrently and more
// than once per job; the job store's guarded transitions make duplicate
// triggers harmless.
type Processor struct {
	jobs      generation.Service
	scenarios scenarioMatcher
	backend   composeClient
	ledger    ledger.Service
	logg      *logger.Logger
}

// ProcessorParams groups processor dependencies.
type ProcessorParams struct {
	Jobs      generation.Service
	Scenarios scenarioMatcher
	Backend   composeClient
	Ledger    ledger.Service
	Logger    *logger.Logger
}

// NewProcessor wires a job processor.
func NewProcessor(params ProcessorParams) (*Processor, error) {
	if params.Jobs == nil {
		return nil, errors.New("generation service is required")
	}
	if params.Backend == nil {
		return nil, errors.New("generator backend is required")
	}
	if params.Ledger == nil {
		return nil, errors.New("ledger service is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Processor{
		jobs:      params.Jobs,
		scenarios: params.Scenarios,
		backend:   params.Backend,
		ledger:    params.Ledger,
		logg:      params.Logger,
	}, nil
}

// Process claims and runs the job. A job that is already claimed, finished,
// or unknown is not an error; duplicate triggers are expected.
func (p *Processor) Process(ctx context.Context, jobID uuid.UUID) error {
	ctx = p.logg.WithField(ctx, "job_id", jobID.String())

	job, err := p.jobs.MarkProcessing(ctx, jobID)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			switch typed.Code() {
			case pkgerrors.CodeStateConflict, pkgerrors.CodeNotFound:
				p.logg.Info(ctx, "skipping job, not pending")
				return nil
			}
		}
		return err
	}

	composition, composeErr := p.compose(ctx, job)
	if composeErr == nil {
		if err := p.jobs.MarkCompleted(ctx, job.ID, generation.Result{
			ImageURL:      composition.ImageURL,
			CompositionID: composition.CompositionID,
		}); err != nil {
			// Lost to a concurrent cancel; the reservation stays open
			// for an explicit rollback via the API.
			p.logg.Error(ctx, "record completion", err)
			return nil
		}
		p.logg.Info(ctx, "generation job completed")
		return nil
	}

	p.logg.Error(ctx, "generation attempt failed", composeErr)
	terminal, err := p.jobs.MarkFailedAndMaybeRequeue(ctx, job.ID, composeErr)
	if err != nil {
		p.logg.Error(ctx, "record failure", err)
		return nil
	}
	if !terminal {
		p.logg.Info(ctx, "generation job requeued")
		return nil
	}

	// Terminal failure releases the customer's credit hold.
	if err := p.ledger.Rollback(ctx, job.StoreID, job.ReservationID); err != nil {
		p.logg.Error(ctx, "release reservation after terminal failure", err)
	}
	return nil
}

func (p *Processor) compose(ctx context.Context, job *models.GenerationJob) (*generator.Composition, error) {
	var opts jobOptions
	if len(job.Options) > 0 {
		if err := json.Unmarshal(job.Options, &opts); err != nil {
			p.logg.Warn(ctx, "unreadable job options, composing without them")
		}
	}

	request := generator.Request{
		JobID:           job.ID.String(),
		PersonImageURL:  job.PersonImageURL,
		ProductImageURL: opts.ProductImageURL,
		Options:         job.Options,
	}
	if p.scenarios != nil {
		scenario, err := p.scenarios.Match(ctx, opts.Keywords, opts.Category)
		if err != nil {
			p.logg.Error(ctx, "scenario lookup failed, composing without a scene", err)
		} else if scenario != nil {
			request.SceneImageURL = scenario.ImageURL
			request.LightingPrompt = scenario.LightingPrompt
		}
	}
	return p.backend.Compose(ctx, request)
}

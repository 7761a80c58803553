package consumer

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/showroomhq/showroom-backend/internal/generation"
	"github.com/showroomhq/showroom-backend/internal/ledger"
	"github.com/showroomhq/showroom-backend/pkg/config"
	"github.com/showroomhq/showroom-backend/pkg/db/models"
	"github.com/showroomhq/showroom-backend/pkg/enums"
	"github.com/showroomhq/showroom-backend/pkg/generator"
	"github.com/showroomhq/showroom-backend/pkg/logger"
)

type stubBackend struct {
	mu       sync.Mutex
	requests []generator.Request
	result   *generator.Composition
	err      error
}

func (b *stubBackend) Compose(ctx context.Context, request generator.Request) (*generator.Composition, error) {
	b.mu.Lock()
	b.requests = append(b.requests, request)
	b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	return b.result, nil
}

type stubMatcher struct {
	scenario *models.Scenario
}

func (m *stubMatcher) Match(ctx context.Context, keywords []string, productCategory string) (*models.Scenario, error) {
	return m.scenario, nil
}

type stubLedger struct {
	mu        sync.Mutex
	rollbacks []string
}

func (l *stubLedger) Reserve(ctx context.Context, storeID uuid.UUID) (*ledger.Reservation, error) {
	return nil, errors.New("not implemented")
}

func (l *stubLedger) Commit(ctx context.Context, storeID uuid.UUID, reservationID string) error {
	return errors.New("not implemented")
}

func (l *stubLedger) Rollback(ctx context.Context, storeID uuid.UUID, reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollbacks = append(l.rollbacks, reservationID)
	return nil
}

type processorHarness struct {
	processor *Processor
	jobs      generation.Service
	backend   *stubBackend
	ledger    *stubLedger
}

func newHarness(t *testing.T, backend *stubBackend, scenario *models.Scenario) *processorHarness {
	t.Helper()

	dsn := "file:processor_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.GenerationJob{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	jobs, err := generation.NewService(generation.ServiceParams{
		Repo:   generation.NewRepository(db),
		Config: config.GenerationConfig{MaxRetries: 1},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	stubLedg := &stubLedger{}
	processor, err := NewProcessor(ProcessorParams{
		Jobs:      jobs,
		Scenarios: &stubMatcher{scenario: scenario},
		Backend:   backend,
		Ledger:    stubLedg,
		Logger:    logger.New(logger.Options{Level: zerolog.ErrorLevel, Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	return &processorHarness{
		processor: processor,
		jobs:      jobs,
		backend:   backend,
		ledger:    stubLedg,
	}
}

func (h *processorHarness) createJob(t *testing.T, options string) *models.GenerationJob {
	t.Helper()
	input := generation.CreateJobInput{
		StoreID:        uuid.New(),
		ReservationID:  uuid.NewString(),
		PersonImageURL: "https://cdn.example.com/person.jpg",
		ProductIDs:     []uuid.UUID{uuid.New()},
	}
	if options != "" {
		input.Options = []byte(options)
	}
	job, err := h.jobs.Create(context.Background(), input)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func TestProcessCompletesJobWithScenario(t *testing.T) {
	t.Parallel()

	scenario := &models.Scenario{
		ID:             uuid.New(),
		ImageURL:       "https://cdn.example.com/beach.jpg",
		LightingPrompt: "golden hour",
	}
	backend := &stubBackend{result: &generator.Composition{
		ImageURL:      "https://cdn.example.com/out.png",
		CompositionID: "comp-1",
	}}
	h := newHarness(t, backend, scenario)
	job := h.createJob(t, `{"keywords":["beach"],"category":"swimwear"}`)

	if err := h.processor.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	loaded, err := h.jobs.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != enums.GenerationJobStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", loaded.Status)
	}
	if len(backend.requests) != 1 {
		t.Fatalf("expected one backend call, got %d", len(backend.requests))
	}
	if backend.requests[0].SceneImageURL != scenario.ImageURL {
		t.Fatalf("scenario not relayed: %+v", backend.requests[0])
	}
	if len(h.ledger.rollbacks) != 0 {
		t.Fatalf("successful job must not roll back, got %v", h.ledger.rollbacks)
	}
}

func TestProcessRequeuesThenRollsBackOnExhaustion(t *testing.T) {
	t.Parallel()

	backend := &stubBackend{err: errors.New("render farm offline")}
	h := newHarness(t, backend, nil)
	job := h.createJob(t, "")
	ctx := context.Background()

	// MaxRetries is 1: first failure requeues.
	if err := h.processor.Process(ctx, job.ID); err != nil {
		t.Fatalf("first process: %v", err)
	}
	loaded, err := h.jobs.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != enums.GenerationJobStatusPending || loaded.RetryCount != 1 {
		t.Fatalf("expected requeued PENDING, got %s retry=%d", loaded.Status, loaded.RetryCount)
	}
	if len(h.ledger.rollbacks) != 0 {
		t.Fatal("requeue must not roll back the reservation")
	}

	// Second failure is terminal and releases the hold.
	if err := h.processor.Process(ctx, job.ID); err != nil {
		t.Fatalf("second process: %v", err)
	}
	loaded, err = h.jobs.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != enums.GenerationJobStatusFailed || !loaded.Terminal() {
		t.Fatalf("expected terminal FAILED, got %s", loaded.Status)
	}
	if loaded.Error == nil || *loaded.Error != "render farm offline" {
		t.Fatalf("expected recorded cause, got %+v", loaded.Error)
	}
	if len(h.ledger.rollbacks) != 1 || h.ledger.rollbacks[0] != job.ReservationID {
		t.Fatalf("expected one rollback of %s, got %v", job.ReservationID, h.ledger.rollbacks)
	}
}

func TestProcessSkipsNonPendingJob(t *testing.T) {
	t.Parallel()

	backend := &stubBackend{result: &generator.Composition{ImageURL: "https://cdn.example.com/out.png"}}
	h := newHarness(t, backend, nil)
	job := h.createJob(t, "")
	ctx := context.Background()

	if err := h.processor.Process(ctx, job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	// Duplicate trigger after completion must be a quiet no-op.
	if err := h.processor.Process(ctx, job.ID); err != nil {
		t.Fatalf("duplicate process: %v", err)
	}
	if len(backend.requests) != 1 {
		t.Fatalf("expected one backend call, got %d", len(backend.requests))
	}

	// Unknown job ids are ignored the same way.
	if err := h.processor.Process(ctx, uuid.New()); err != nil {
		t.Fatalf("unknown job: %v", err)
	}
}

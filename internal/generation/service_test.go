package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/showroomhq/showroom-backend/pkg/config"
	"github.com/showroomhq/showroom-backend/pkg/db/models"
	"github.com/showroomhq/showroom-backend/pkg/enums"
	pkgerrors "github.com/showroomhq/showroom-backend/pkg/errors"
	"github.com/showroomhq/showroom-backend/pkg/metrics"
)

func TestCreatePersistsPendingJob(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	job, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.Status != enums.GenerationJobStatusPending {
		t.Fatalf("expected PENDING, got %s", job.Status)
	}
	if job.MaxRetries != 2 {
		t.Fatalf("expected configured max retries, got %d", job.MaxRetries)
	}

	loaded, err := svc.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(loaded.ProductIDs) != 2 {
		t.Fatalf("expected product ids to round-trip, got %d", len(loaded.ProductIDs))
	}
}

func TestCreateValidatesInput(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateJobInput)
	}{
		{"missing store", func(in *CreateJobInput) { in.StoreID = uuid.Nil }},
		{"missing reservation", func(in *CreateJobInput) { in.ReservationID = "" }},
		{"missing person image", func(in *CreateJobInput) { in.PersonImageURL = "" }},
		{"no products", func(in *CreateJobInput) { in.ProductIDs = nil }},
	}
	for _, tc := range cases {
		input := validInput()
		tc.mutate(&input)
		_, err := svc.Create(ctx, input)
		if err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestMarkProcessingClaimsOnce(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	job := mustCreate(t, svc)

	claimed, err := svc.MarkProcessing(ctx, job.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != enums.GenerationJobStatusProcessing || claimed.StartedAt == nil {
		t.Fatalf("expected PROCESSING with started_at, got %+v", claimed)
	}

	_, err = svc.MarkProcessing(ctx, job.ID)
	if err == nil {
		t.Fatal("second claim must fail")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}

	_, err = svc.MarkProcessing(ctx, uuid.New())
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found for unknown job, got %v", err)
	}
}

func TestMarkCompletedStoresResult(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	job := mustCreate(t, svc)
	if _, err := svc.MarkProcessing(ctx, job.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	result := Result{ImageURL: "https://cdn.example.com/out.png", CompositionID: "comp-9"}
	if err := svc.MarkCompleted(ctx, job.ID, result); err != nil {
		t.Fatalf("complete: %v", err)
	}

	loaded, err := svc.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != enums.GenerationJobStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", loaded.Status)
	}
	if loaded.ResultImageURL == nil || *loaded.ResultImageURL != result.ImageURL {
		t.Fatalf("expected result url, got %+v", loaded.ResultImageURL)
	}
	if loaded.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}

	// Completing twice is a conflict, not a silent overwrite.
	if err := svc.MarkCompleted(ctx, job.ID, result); err == nil {
		t.Fatal("second complete must fail")
	}
}

func TestFailureRequeuesUntilRetriesExhausted(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	job := mustCreate(t, svc)
	cause := errors.New("backend unavailable")

	// MaxRetries is 2: two failures requeue, the third is terminal.
	for attempt := 0; attempt < 2; attempt++ {
		if _, err := svc.MarkProcessing(ctx, job.ID); err != nil {
			t.Fatalf("claim attempt %d: %v", attempt, err)
		}
		terminal, err := svc.MarkFailedAndMaybeRequeue(ctx, job.ID, cause)
		if err != nil {
			t.Fatalf("fail attempt %d: %v", attempt, err)
		}
		if terminal {
			t.Fatalf("attempt %d should requeue, not terminate", attempt)
		}
		loaded, err := svc.Get(ctx, job.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if loaded.Status != enums.GenerationJobStatusPending || loaded.RetryCount != attempt+1 {
			t.Fatalf("attempt %d: expected PENDING retry_count=%d, got %s/%d",
				attempt, attempt+1, loaded.Status, loaded.RetryCount)
		}
	}

	if _, err := svc.MarkProcessing(ctx, job.ID); err != nil {
		t.Fatalf("final claim: %v", err)
	}
	terminal, err := svc.MarkFailedAndMaybeRequeue(ctx, job.ID, cause)
	if err != nil {
		t.Fatalf("final fail: %v", err)
	}
	if !terminal {
		t.Fatal("expected terminal failure once retries are exhausted")
	}

	loaded, err := svc.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != enums.GenerationJobStatusFailed || !loaded.Terminal() {
		t.Fatalf("expected terminal FAILED, got %s retry=%d", loaded.Status, loaded.RetryCount)
	}
	if loaded.Error == nil || *loaded.Error != cause.Error() {
		t.Fatalf("expected recorded cause, got %+v", loaded.Error)
	}
}

func TestCancelPreTerminalOnly(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	job := mustCreate(t, svc)

	cancelled, err := svc.Cancel(ctx, job.StoreID, job.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != enums.GenerationJobStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}

	// Cancel is idempotent.
	if _, err := svc.Cancel(ctx, job.StoreID, job.ID); err != nil {
		t.Fatalf("second cancel: %v", err)
	}

	// A completed job cannot be cancelled.
	done := mustCreate(t, svc)
	if _, err := svc.MarkProcessing(ctx, done.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := svc.MarkCompleted(ctx, done.ID, Result{ImageURL: "https://cdn.example.com/x.png"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	_, err = svc.Cancel(ctx, done.StoreID, done.ID)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}

	// Scoped to the owning store.
	other := mustCreate(t, svc)
	_, err = svc.Cancel(ctx, uuid.New(), other.ID)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found for wrong store, got %v", err)
	}
}

func TestListStalePending(t *testing.T) {
	t.Parallel()

	current := time.Now().UTC()
	svc, db := newTestServiceAt(t, func() time.Time { return current })
	ctx := context.Background()

	old := mustCreate(t, svc)
	fresh := mustCreate(t, svc)
	if err := db.Model(&models.GenerationJob{}).
		Where("id = ?", old.ID).
		Update("created_at", current.Add(-10*time.Minute)).Error; err != nil {
		t.Fatalf("age job: %v", err)
	}

	stale, err := svc.ListStalePending(ctx, current.Add(-2*time.Minute), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != old.ID {
		t.Fatalf("expected only the aged job, got %d", len(stale))
	}
	_ = fresh
}

func validInput() CreateJobInput {
	return CreateJobInput{
		StoreID:        uuid.New(),
		ReservationID:  uuid.NewString(),
		PersonImageURL: "https://cdn.example.com/person.jpg",
		ProductIDs:     []uuid.UUID{uuid.New(), uuid.New()},
	}
}

func mustCreate(t *testing.T, svc Service) *models.GenerationJob {
	t.Helper()
	job, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	return newTestServiceAt(t, nil)
}

func newTestServiceAt(t *testing.T, now func() time.Time) (Service, *gorm.DB) {
	t.Helper()
	dsn := "file:generation_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.GenerationJob{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	svc, err := NewService(ServiceParams{
		Repo:   NewRepository(db),
		Config: config.GenerationConfig{MaxRetries: 2},
		Now:    now,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, db
}

func TestMarkCompletedRecordsProcessingDuration(t *testing.T) {
	t.Parallel()

	dsn := "file:generation_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.GenerationJob{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	reg := prometheus.NewRegistry()
	svc, err := NewService(ServiceParams{
		Repo:    NewRepository(db),
		Config:  config.GenerationConfig{MaxRetries: 2},
		Metrics: metrics.NewGenerationMetrics(reg),
		Now:     func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	ctx := context.Background()
	job := mustCreate(t, svc)
	if _, err := svc.MarkProcessing(ctx, job.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	now = base.Add(42 * time.Second)
	result := Result{ImageURL: "https://cdn.example.com/out.png", CompositionID: "comp-1"}
	if err := svc.MarkCompleted(ctx, job.ID, result); err != nil {
		t.Fatalf("complete: %v", err)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	var sum float64
	var samples uint64
	for _, mf := range mfs {
		if mf.GetName() != "generation_processing_seconds" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			sum += metric.GetHistogram().GetSampleSum()
			samples += metric.GetHistogram().GetSampleCount()
		}
	}
	if samples != 1 {
		t.Fatalf("expected one processing observation, got %d", samples)
	}
	if sum != 42 {
		t.Fatalf("expected 42s observed, got %fs", sum)
	}
}

package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/showroomhq/showroom-backend/pkg/db/models"
	"github.com/showroomhq/showroom-backend/pkg/logger"
)

type fakeJobStore struct {
	stalePending    []models.GenerationJob
	stuckProcessing []models.GenerationJob
	listErr         error

	failed    []uuid.UUID
	terminal  bool
	failErr   error
	pendingAt time.Time
	stuckAt   time.Time
}

func (f *fakeJobStore) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.GenerationJob, error) {
	f.pendingAt = olderThan
	return f.stalePending, f.listErr
}

func (f *fakeJobStore) ListStuckProcessing(ctx context.Context, startedBefore time.Time, limit int) ([]models.GenerationJob, error) {
	f.stuckAt = startedBefore
	return f.stuckProcessing, f.listErr
}

func (f *fakeJobStore) MarkFailedAndMaybeRequeue(ctx context.Context, jobID uuid.UUID, cause error) (bool, error) {
	if f.failErr != nil {
		return false, f.failErr
	}
	f.failed = append(f.failed, jobID)
	return f.terminal, nil
}

type fakeDispatcher struct {
	dispatched []uuid.UUID
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, jobID uuid.UUID) {
	f.dispatched = append(f.dispatched, jobID)
}

type fakeReleaser struct {
	rollbacks []string
	err       error
}

func (f *fakeReleaser) Rollback(ctx context.Context, storeID uuid.UUID, reservationID string) error {
	if f.err != nil {
		return f.err
	}
	f.rollbacks = append(f.rollbacks, reservationID)
	return nil
}

func newRequeueJob(t *testing.T, store *fakeJobStore, dispatcher *fakeDispatcher, releaser *fakeReleaser) *generationRequeueJob {
	t.Helper()
	jobIface, err := NewGenerationRequeueJob(GenerationRequeueJobParams{
		Logger:            logger.New(logger.Options{ServiceName: "test"}),
		Jobs:              store,
		Dispatcher:        dispatcher,
		Ledger:            releaser,
		PendingAge:        2 * time.Minute,
		ProcessingTimeout: 10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewGenerationRequeueJob: %v", err)
	}
	job, ok := jobIface.(*generationRequeueJob)
	if !ok {
		t.Fatalf("expected generationRequeueJob, got %T", jobIface)
	}
	return job
}

func TestGenerationRequeueJobRedispatchesStalePending(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stale := models.GenerationJob{ID: uuid.New()}
	store := &fakeJobStore{stalePending: []models.GenerationJob{stale}}
	dispatcher := &fakeDispatcher{}
	job := newRequeueJob(t, store, dispatcher, &fakeReleaser{})
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !store.pendingAt.Equal(now.Add(-2 * time.Minute)) {
		t.Fatalf("expected pending cutoff %s, got %s", now.Add(-2*time.Minute), store.pendingAt)
	}
	if len(dispatcher.dispatched) != 1 || dispatcher.dispatched[0] != stale.ID {
		t.Fatalf("expected stale job dispatched, got %v", dispatcher.dispatched)
	}
}

func TestGenerationRequeueJobRequeuesStuckProcessing(t *testing.T) {
	stuck := models.GenerationJob{ID: uuid.New(), StoreID: uuid.New(), ReservationID: uuid.NewString()}
	store := &fakeJobStore{stuckProcessing: []models.GenerationJob{stuck}, terminal: false}
	dispatcher := &fakeDispatcher{}
	releaser := &fakeReleaser{}
	job := newRequeueJob(t, store, dispatcher, releaser)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(store.failed) != 1 || store.failed[0] != stuck.ID {
		t.Fatalf("expected stuck job failed, got %v", store.failed)
	}
	if len(dispatcher.dispatched) != 1 {
		t.Fatalf("expected requeued job dispatched, got %v", dispatcher.dispatched)
	}
	if len(releaser.rollbacks) != 0 {
		t.Fatalf("requeue must not release the reservation, got %v", releaser.rollbacks)
	}
}

func TestGenerationRequeueJobReleasesReservationOnTerminalFailure(t *testing.T) {
	stuck := models.GenerationJob{ID: uuid.New(), StoreID: uuid.New(), ReservationID: uuid.NewString()}
	store := &fakeJobStore{stuckProcessing: []models.GenerationJob{stuck}, terminal: true}
	dispatcher := &fakeDispatcher{}
	releaser := &fakeReleaser{}
	job := newRequeueJob(t, store, dispatcher, releaser)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(releaser.rollbacks) != 1 || releaser.rollbacks[0] != stuck.ReservationID {
		t.Fatalf("expected reservation released, got %v", releaser.rollbacks)
	}
	if len(dispatcher.dispatched) != 0 {
		t.Fatalf("terminal job must not be redispatched, got %v", dispatcher.dispatched)
	}
}

func TestGenerationRequeueJobToleratesTransitionRaces(t *testing.T) {
	stuck := models.GenerationJob{ID: uuid.New()}
	store := &fakeJobStore{
		stuckProcessing: []models.GenerationJob{stuck},
		failErr:         errors.New("job is not processing"),
	}
	job := newRequeueJob(t, store, &fakeDispatcher{}, &fakeReleaser{})

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("transition race should not fail the sweep: %v", err)
	}
}

func TestGenerationRequeueJobPropagatesListErrors(t *testing.T) {
	store := &fakeJobStore{listErr: errors.New("db down")}
	job := newRequeueJob(t, store, &fakeDispatcher{}, &fakeReleaser{})

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

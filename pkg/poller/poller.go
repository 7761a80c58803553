// Package poller implements the client-side wait loop for generation jobs.
// It is transport-agnostic and fully cancellable, so callers embed it in
// whatever surface drives the user experience.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/showroomhq/showroom-backend/pkg/enums"
)

const (
	// DefaultInterval is the steady-state polling cadence.
	DefaultInterval = 2 * time.Second
	// DefaultDeadline bounds the overall wait when the caller does not
	// choose one.
	DefaultDeadline = 180 * time.Second
	// MinDeadline and MaxDeadline clamp caller-supplied deadlines.
	MinDeadline = 120 * time.Second
	MaxDeadline = 300 * time.Second

	// transportErrorCeiling aborts the wait after this many consecutive
	// transport failures.
	transportErrorCeiling = 5
	transportBackoffBase  = time.Second
	transportBackoffCap   = 16 * time.Second
)

var (
	// ErrNotVisible is returned by a StatusFetcher when the job cannot be
	// found yet. The poller treats it as transient; creation and the first
	// read may race.
	ErrNotVisible = errors.New("job not visible yet")
	// ErrDeadline is returned when the job never reached a terminal state
	// in time. The job itself keeps running server-side.
	ErrDeadline = errors.New("timed out waiting for generation job")
	// ErrConnection is returned after too many consecutive transport
	// failures.
	ErrConnection = errors.New("connection to generation service lost")
	// ErrMissingResult is returned for a COMPLETED job with no result
	// image, which indicates corrupt server state rather than a condition
	// worth retrying.
	ErrMissingResult = errors.New("generation job completed without a result")
)

// JobFailedError carries the error a terminally failed job recorded.
type JobFailedError struct {
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Message == "" {
		return "generation job failed"
	}
	return fmt.Sprintf("generation job failed: %s", e.Message)
}

// JobStatus is the fetcher's view of a job.
type JobStatus struct {
	Status         enums.GenerationJobStatus
	ResultImageURL string
	Error          string
}

// StatusFetcher reads the current status of one job. Implementations return
// ErrNotVisible for a job that does not exist yet and plain errors for
// transport failures.
type StatusFetcher interface {
	Fetch(ctx context.Context, jobID string) (*JobStatus, error)
}

// Params groups poller dependencies. Only Fetcher is required; the clock and
// sleeper hooks exist for tests.
type Params struct {
	Fetcher  StatusFetcher
	Interval time.Duration
	Deadline time.Duration
	Now      func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
}

// Poller waits for a generation job to reach a terminal state.
type Poller struct {
	fetcher  StatusFetcher
	interval time.Duration
	deadline time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// New wires a poller, applying defaults and clamping the deadline.
func New(params Params) (*Poller, error) {
	if params.Fetcher == nil {
		return nil, fmt.Errorf("status fetcher required")
	}
	interval := params.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	deadline := params.Deadline
	switch {
	case deadline <= 0:
		deadline = DefaultDeadline
	case deadline < MinDeadline:
		deadline = MinDeadline
	case deadline > MaxDeadline:
		deadline = MaxDeadline
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	sleep := params.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Poller{
		fetcher:  params.Fetcher,
		interval: interval,
		deadline: deadline,
		now:      now,
		sleep:    sleep,
	}, nil
}

// Wait polls until the job terminates, the deadline passes, or ctx is
// cancelled. On success the returned status is COMPLETED with a result
// image. A FAILED job surfaces its recorded error as a JobFailedError.
func (p *Poller) Wait(ctx context.Context, jobID string) (*JobStatus, error) {
	start := p.now()
	consecutiveErrors := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.now().Sub(start) >= p.deadline {
			return nil, ErrDeadline
		}

		status, err := p.fetcher.Fetch(ctx, jobID)
		switch {
		case errors.Is(err, ErrNotVisible):
			consecutiveErrors = 0
		case err != nil:
			consecutiveErrors++
			if consecutiveErrors >= transportErrorCeiling {
				return nil, fmt.Errorf("%w: %v", ErrConnection, err)
			}
			if err := p.sleep(ctx, backoff(consecutiveErrors)); err != nil {
				return nil, err
			}
			continue
		default:
			consecutiveErrors = 0
			switch status.Status {
			case enums.GenerationJobStatusCompleted:
				if status.ResultImageURL == "" {
					return nil, ErrMissingResult
				}
				return status, nil
			case enums.GenerationJobStatusFailed:
				return nil, &JobFailedError{Message: status.Error}
			case enums.GenerationJobStatusCancelled:
				return nil, &JobFailedError{Message: "job was cancelled"}
			}
			// PENDING, PROCESSING, or anything unrecognized: keep
			// polling.
		}

		if err := p.sleep(ctx, p.interval); err != nil {
			return nil, err
		}
	}
}

// backoff grows exponentially with the consecutive transport error count,
// capped so a flaky link does not stall the deadline check for too long.
func backoff(consecutive int) time.Duration {
	d := transportBackoffBase << (consecutive - 1)
	if d > transportBackoffCap || d <= 0 {
		return transportBackoffCap
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

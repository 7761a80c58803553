package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/showroomhq/showroom-backend/pkg/config"
	"github.com/showroomhq/showroom-backend/pkg/logger"
)

// Publisher abstracts the Pub/Sub publisher handle so tests can observe
// publishes without a broker.
type Publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) Result
}

// Result mirrors pubsub.PublishResult.
type Result interface {
	Get(ctx context.Context) (string, error)
}

// GCPPublisher adapts a v2 publisher to the Publisher interface.
type GCPPublisher struct {
	*pubsub.Publisher
}

func (p GCPPublisher) Publish(ctx context.Context, msg *pubsub.Message) Result {
	if p.Publisher == nil {
		return nil
	}
	return p.Publisher.Publish(ctx, msg)
}

// TriggerMessage is the payload published for each created job.
type TriggerMessage struct {
	JobID string `json:"job_id"`
}

// Dispatcher nudges workers after a job is created. Dispatch returns
// immediately; both triggers are best effort and any real delivery guarantee
// comes from subscription redelivery plus the recovery sweep.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID uuid.UUID)
}

// DispatcherParams groups dispatcher dependencies. Publisher and the worker
// base URL are each optional; a dispatcher with neither is a no-op.
type DispatcherParams struct {
	Publisher  Publisher
	HTTPClient *http.Client
	Config     config.DispatchConfig
	Logger     *logger.Logger
}

type dispatcher struct {
	publisher Publisher
	http      *http.Client
	cfg       config.DispatchConfig
	logg      *logger.Logger
}

// NewDispatcher wires a fire-and-forget job dispatcher.
func NewDispatcher(params DispatcherParams) Dispatcher {
	client := params.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: params.Config.TriggerTimeout}
	}
	return &dispatcher{
		publisher: params.Publisher,
		http:      client,
		cfg:       params.Config,
		logg:      params.Logger,
	}
}

func (d *dispatcher) Dispatch(ctx context.Context, jobID uuid.UUID) {
	// Detach from the request context so an early client disconnect does
	// not cancel the triggers. Request-scoped log fields are lost here on
	// purpose; the job id is carried explicitly.
	if d.publisher != nil {
		go d.publishTrigger(context.WithoutCancel(ctx), jobID)
	}
	if strings.TrimSpace(d.cfg.WorkerBaseURL) != "" {
		go d.pokeWorker(context.WithoutCancel(ctx), jobID)
	}
}

func (d *dispatcher) publishTrigger(ctx context.Context, jobID uuid.UUID) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.TriggerTimeout)
	defer cancel()

	payload, err := json.Marshal(TriggerMessage{JobID: jobID.String()})
	if err != nil {
		d.logError(ctx, jobID, "marshal generation trigger", err)
		return
	}
	result := d.publisher.Publish(ctx, &pubsub.Message{Data: payload})
	if result == nil {
		return
	}
	if _, err := result.Get(ctx); err != nil {
		d.logError(ctx, jobID, "publish generation trigger", err)
	}
}

func (d *dispatcher) pokeWorker(ctx context.Context, jobID uuid.UUID) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.TriggerTimeout)
	defer cancel()

	url := strings.TrimRight(d.cfg.WorkerBaseURL, "/") + "/internal/v1/generation/process"
	payload, _ := json.Marshal(TriggerMessage{JobID: jobID.String()})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		d.logError(ctx, jobID, "build worker trigger", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		d.logError(ctx, jobID, "trigger worker", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		d.logError(ctx, jobID, "trigger worker",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
}

func (d *dispatcher) logError(ctx context.Context, jobID uuid.UUID, msg string, err error) {
	if d.logg == nil {
		return
	}
	d.logg.Error(d.logg.WithField(ctx, "job_id", jobID.String()), msg, err)
}

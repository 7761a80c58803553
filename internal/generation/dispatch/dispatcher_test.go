package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/showroomhq/showroom-backend/pkg/config"
)

type stubResult struct{}

func (stubResult) Get(ctx context.Context) (string, error) { return "m1", nil }

type stubPublisher struct {
	published chan []byte
}

func (p *stubPublisher) Publish(ctx context.Context, msg *pubsub.Message) Result {
	p.published <- msg.Data
	return stubResult{}
}

func TestDispatchPublishesTrigger(t *testing.T) {
	t.Parallel()

	pub := &stubPublisher{published: make(chan []byte, 1)}
	d := NewDispatcher(DispatcherParams{
		Publisher: pub,
		Config:    config.DispatchConfig{TriggerTimeout: time.Second},
	})
	jobID := uuid.New()

	d.Dispatch(context.Background(), jobID)

	select {
	case data := <-pub.published:
		var msg TriggerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal trigger: %v", err)
		}
		if msg.JobID != jobID.String() {
			t.Fatalf("expected job id %s, got %s", jobID, msg.JobID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no trigger published")
	}
}

func TestDispatchPokesWorkerEndpoint(t *testing.T) {
	t.Parallel()

	received := make(chan TriggerMessage, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/v1/generation/process" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var msg TriggerMessage
		_ = json.NewDecoder(r.Body).Decode(&msg)
		received <- msg
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	d := NewDispatcher(DispatcherParams{
		Config: config.DispatchConfig{
			WorkerBaseURL:  server.URL,
			TriggerTimeout: time.Second,
		},
	})
	jobID := uuid.New()

	d.Dispatch(context.Background(), jobID)

	select {
	case msg := <-received:
		if msg.JobID != jobID.String() {
			t.Fatalf("expected job id %s, got %s", jobID, msg.JobID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker endpoint was not poked")
	}
}

func TestDispatchSurvivesCancelledRequestContext(t *testing.T) {
	t.Parallel()

	pub := &stubPublisher{published: make(chan []byte, 1)}
	d := NewDispatcher(DispatcherParams{
		Publisher: pub,
		Config:    config.DispatchConfig{TriggerTimeout: time.Second},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Dispatch(ctx, uuid.New())

	select {
	case <-pub.published:
	case <-time.After(2 * time.Second):
		t.Fatal("trigger should outlive the request context")
	}
}

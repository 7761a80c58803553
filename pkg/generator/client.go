// Package generator is the HTTP client for the external image-composition
// backend. It only relays inputs and returns the produced asset; everything
// about the rendering itself is the backend's business.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrMissingBaseURL indicates the client was configured without a backend.
var ErrMissingBaseURL = errors.New("generator: base url is required")

// Request captures the inputs for one composition.
type Request struct {
	JobID           string          `json:"job_id"`
	PersonImageURL  string          `json:"person_image_url"`
	ProductImageURL string          `json:"product_image_url,omitempty"`
	SceneImageURL   string          `json:"scene_image_url,omitempty"`
	LightingPrompt  string          `json:"lighting_prompt,omitempty"`
	Options         json.RawMessage `json:"options,omitempty"`
}

// Composition is the normalized backend result.
type Composition struct {
	ImageURL      string `json:"image_url"`
	CompositionID string `json:"composition_id"`
}

// BackendError carries the backend's recorded failure so callers can store
// it on the job verbatim.
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("generator backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("generator backend: %s", e.Message)
}

// Options configures the generator client.
type Options struct {
	BaseURL        string
	APIKey         string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the composition backend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient wires a generator client.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, ErrMissingBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    base,
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: httpClient,
	}, nil
}

// Compose submits a composition request and blocks until the backend
// answers. The backend is synchronous from this client's point of view;
// asynchrony lives in the job state machine around it.
func (c *Client) Compose(ctx context.Context, request Request) (*Composition, error) {
	if request.PersonImageURL == "" {
		return nil, errors.New("generator: person image url is required")
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal composition request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/compositions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build composition request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call composition backend: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read composition response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &BackendError{
			StatusCode: resp.StatusCode,
			Message:    backendMessage(body),
		}
	}

	var composition Composition
	if err := json.Unmarshal(body, &composition); err != nil {
		return nil, fmt.Errorf("decode composition response: %w", err)
	}
	if composition.ImageURL == "" {
		return nil, &BackendError{
			StatusCode: resp.StatusCode,
			Message:    "response carried no image url",
		}
	}
	return &composition, nil
}

func backendMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(body))
}

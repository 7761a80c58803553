package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/showroomhq/showroom-backend/pkg/enums"
)

// HTTPFetcher reads job status from the public status endpoint.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
}

// HTTPFetcherParams groups HTTP fetcher settings.
type HTTPFetcherParams struct {
	BaseURL string
	Client  *http.Client
	Timeout time.Duration
}

type statusEnvelope struct {
	Data struct {
		Status         string `json:"status"`
		ResultImageURL string `json:"result_image_url"`
		Error          string `json:"error"`
	} `json:"data"`
}

// NewHTTPFetcher wires a StatusFetcher against the given API base URL.
func NewHTTPFetcher(params HTTPFetcherParams) (*HTTPFetcher, error) {
	base := strings.TrimRight(strings.TrimSpace(params.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("base url required")
	}
	client := params.Client
	if client == nil {
		timeout := params.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPFetcher{baseURL: base, client: client}, nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, jobID string) (*JobStatus, error) {
	url := fmt.Sprintf("%s/api/v1/generation/%s", f.baseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch job status: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotVisible
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var envelope statusEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &JobStatus{
		Status:         enums.GenerationJobStatus(envelope.Data.Status),
		ResultImageURL: envelope.Data.ResultImageURL,
		Error:          envelope.Data.Error,
	}, nil
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"clinisync/internal/domain/sync"

	"golang.org/x/exp/slog"
)

// HTTPClient talks to the sync server's REST API with a bearer token.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
	log     *slog.Logger
}

// submitEnvelope mirrors the server's submit response: exactly one of the
// fields is set.
type submitEnvelope struct {
	Result *sync.BatchResponse  `json:"result,omitempty"`
	Queued *sync.QueuedResponse `json:"queued,omitempty"`
}

func NewHTTPClient(baseURL, token string, log *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 60 * time.Second},
		log:     log.With("component", "http_client"),
	}
}

// Submit pushes one batch. Returns the inline result or the queued ack,
// depending on how the server routed the batch.
func (c *HTTPClient) Submit(ctx context.Context, req sync.BatchRequest) (*sync.BatchResponse, *sync.QueuedResponse, error) {
	var envelope submitEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/v1/sync", req, &envelope); err != nil {
		return nil, nil, err
	}
	return envelope.Result, envelope.Queued, nil
}

func (c *HTTPClient) BatchStatus(ctx context.Context, batchID string) (*sync.BatchStatusResponse, error) {
	var status sync.BatchStatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/sync/batch/"+batchID, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *HTTPClient) DeviceStatus(ctx context.Context, deviceID string) (*sync.DeviceStatusResponse, error) {
	var status sync.DeviceStatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/sync/status?device_id="+deviceID, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		c.log.Debug("server returned error",
			"status", resp.StatusCode, "path", path, "body", string(data))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, errorDetail(data))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func errorDetail(body []byte) string {
	var e struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Detail != "" {
			return e.Detail
		}
		if e.Title != "" {
			return e.Title
		}
		if e.Error != "" {
			return e.Error
		}
	}
	return string(body)
}

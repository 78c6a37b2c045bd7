// Package client is an HTTP client for the scan API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/RishiKendai/plagcode/internal/models"
	"github.com/go-resty/resty/v2"
)

// APIError is a non-2xx response decoded from the {error, code} body
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error (status %d): %s - %s", e.StatusCode, e.Code, e.Message)
}

type Client struct {
	httpc *resty.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	httpc := resty.New()
	httpc.SetBaseURL(baseURL)
	httpc.SetTimeout(timeout)
	httpc.SetHeader("Accept", "application/json")

	return &Client{httpc: httpc}
}

// do runs req and turns an unexpected status into an *APIError
func do(req *resty.Request, method, path string, want int) error {
	var errResp models.ErrorResponse
	resp, err := req.SetError(&errResp).Execute(method, path)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	if resp.StatusCode() != want {
		apiErr := &APIError{StatusCode: resp.StatusCode(), Code: errResp.Code, Message: errResp.Error}
		if apiErr.Message == "" {
			apiErr.Message = resp.String()
		}
		return apiErr
	}
	return nil
}

// CreateScan uploads files as files[] parts and returns the queued scan id
func (c *Client) CreateScan(ctx context.Context, files []models.Upload, opts models.ScanOptions) (string, error) {
	optsJSON, err := json.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("failed to marshal options: %w", err)
	}

	var created models.CreateScanResponse
	req := c.httpc.R().
		SetContext(ctx).
		SetMultipartFormData(map[string]string{"options": string(optsJSON)}).
		SetResult(&created)
	for _, f := range files {
		req.SetFileReader("files[]", f.Name, bytes.NewReader(f.Content))
	}
	if err := do(req, http.MethodPost, "/api/scan", http.StatusAccepted); err != nil {
		return "", err
	}
	return created.ScanID, nil
}

func (c *Client) Status(ctx context.Context, scanID string) (*models.StatusResponse, error) {
	var r models.StatusResponse
	req := c.httpc.R().SetContext(ctx).SetPathParam("id", scanID).SetResult(&r)
	if err := do(req, http.MethodGet, "/api/scan/{id}/status", http.StatusOK); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) Results(ctx context.Context, scanID string) (*models.ResultsResponse, error) {
	var r models.ResultsResponse
	req := c.httpc.R().SetContext(ctx).SetPathParam("id", scanID).SetResult(&r)
	if err := do(req, http.MethodGet, "/api/scan/{id}/results", http.StatusOK); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) Cancel(ctx context.Context, scanID string) (*models.CancelResponse, error) {
	var r models.CancelResponse
	req := c.httpc.R().SetContext(ctx).SetPathParam("id", scanID).SetResult(&r)
	if err := do(req, http.MethodPost, "/api/scan/{id}/cancel", http.StatusOK); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) Scans(ctx context.Context, limit int) ([]models.ScanSummary, error) {
	var r models.ScansResponse
	req := c.httpc.R().SetContext(ctx).SetResult(&r)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	if err := do(req, http.MethodGet, "/api/scans", http.StatusOK); err != nil {
		return nil, err
	}
	return r.Scans, nil
}

func (c *Client) Alerts(ctx context.Context, limit int, query string) ([]models.AlertView, error) {
	var r models.AlertsResponse
	req := c.httpc.R().SetContext(ctx).SetResult(&r)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	if query != "" {
		req.SetQueryParam("q", query)
	}
	if err := do(req, http.MethodGet, "/api/alerts", http.StatusOK); err != nil {
		return nil, err
	}
	return r.Alerts, nil
}

// WaitForTerminal polls status every interval until the scan leaves queued and
// running. onProgress, when set, sees every polled status.
func (c *Client) WaitForTerminal(ctx context.Context, scanID string, interval time.Duration, onProgress func(*models.StatusResponse)) (*models.StatusResponse, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.Status(ctx, scanID)
		if err != nil {
			return nil, err
		}
		if onProgress != nil {
			onProgress(status)
		}
		if status.Status.Terminal() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

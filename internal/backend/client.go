// -----------------------------------------------------------------------
// Backend Client - HTTP access to the generation backend API
// -----------------------------------------------------------------------

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/gentrack/internal/common"
	"github.com/ternarybob/gentrack/internal/httpclient"
	"github.com/ternarybob/gentrack/internal/interfaces"
	"github.com/ternarybob/gentrack/internal/models"
)

// Client implements the BackendClient interface over the backend's REST API
type Client struct {
	baseURL    string
	owner      string
	httpClient *http.Client
	logger     arbor.ILogger
}

// NewClient creates a backend client from configuration
func NewClient(config *common.BackendConfig, logger arbor.ILogger) (interfaces.BackendClient, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("backend base_url is required")
	}

	timeout := common.ParseDurationOr(config.RequestTimeout, 30*time.Second)

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		owner:      config.Owner,
		httpClient: httpclient.NewHTTPClientWithAPIKey(config.APIKey, timeout),
		logger:     logger,
	}, nil
}

// CreateJob submits a new generation job
func (c *Client) CreateJob(ctx context.Context, req *models.JobRequest) (*models.SubmissionReceipt, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/jobs", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &interfaces.SubmissionError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &interfaces.SubmissionError{
			StatusCode: resp.StatusCode,
			Message:    readErrorMessage(resp.Body),
		}
	}

	var receipt models.SubmissionReceipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("failed to decode submission receipt: %w", err)
	}
	if receipt.JobID == "" {
		return nil, &interfaces.SubmissionError{Message: "backend returned no job id"}
	}

	c.logger.Info().
		Str("job_id", receipt.JobID).
		Str("type", string(req.Type)).
		Msg("Job created")
	return &receipt, nil
}

// GetJob fetches the full job row by id
func (c *Client) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job %s: %w", jobID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch job %s: unexpected status %d", jobID, resp.StatusCode)
	}

	var job models.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", jobID, err)
	}
	return &job, nil
}

// FindActiveJob runs the recovery query: the owner's most recent job with a
// non-terminal status created inside the window, limit 1.
func (c *Client) FindActiveJob(ctx context.Context, window time.Duration) (*models.Job, error) {
	query := url.Values{}
	if c.owner != "" {
		query.Set("owner", c.owner)
	}
	query.Set("status", "pending,queued,processing")
	query.Set("created_after", time.Now().Add(-window).UTC().Format(time.RFC3339))
	query.Set("order", "created_at.desc")
	query.Set("limit", "1")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/jobs?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build recovery request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("recovery query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recovery query: unexpected status %d", resp.StatusCode)
	}

	var jobs []models.Job
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return nil, fmt.Errorf("failed to decode recovery response: %w", err)
	}
	if len(jobs) == 0 {
		return nil, interfaces.ErrNoActiveJob
	}
	return &jobs[0], nil
}

// CancelJob requests deletion of the job on the backend
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return fmt.Errorf("failed to build cancel request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", jobID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("cancel job %s: unexpected status %d", jobID, resp.StatusCode)
	}
	return nil
}

// GetJobAssets performs the fallback asset lookup by job id
func (c *Client) GetJobAssets(ctx context.Context, jobID string) ([]models.Asset, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/jobs/"+url.PathEscape(jobID)+"/assets", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build asset request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch assets for job %s: %w", jobID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch assets for job %s: unexpected status %d", jobID, resp.StatusCode)
	}

	var assets []models.Asset
	if err := json.NewDecoder(resp.Body).Decode(&assets); err != nil {
		return nil, fmt.Errorf("failed to decode assets for job %s: %w", jobID, err)
	}
	return assets, nil
}

// readErrorMessage extracts a human-readable error from a rejection body.
// Backends respond with {"error": "..."} but plain text also occurs.
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return "request rejected"
	}

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(data))
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/opreport/internal/model"
)

// ServerClient talks to a running opr server over its HTTP/JSON API.
type ServerClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewServerClient creates a client for the opr server at baseURL
// (e.g. "http://localhost:8080"). A non-empty token is sent as a bearer token.
func NewServerClient(baseURL, token string) *ServerClient {
	return &ServerClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Health returns the server's reported status.
func (c *ServerClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// GetReport fetches the aggregate report, forcing a recomputation when refresh is set.
func (c *ServerClient) GetReport(ctx context.Context, refresh bool) (*model.AggregateReport, error) {
	path := "/v1/report"
	if refresh {
		path += "?refresh=true"
	}
	var r model.AggregateReport
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Refresh starts a background recomputation and returns its run id.
func (c *ServerClient) Refresh(ctx context.Context) (string, error) {
	var resp struct {
		RunID string `json:"run_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/report/refresh", nil, &resp); err != nil {
		return "", err
	}
	return resp.RunID, nil
}

// ListDimensions returns every dimension with its statistics.
func (c *ServerClient) ListDimensions(ctx context.Context) ([]*model.DimensionSummary, error) {
	var resp struct {
		Dimensions []*model.DimensionSummary `json:"dimensions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/report/dimensions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Dimensions, nil
}

// GetTaskStatuses returns the per-dimension statuses of one task.
func (c *ServerClient) GetTaskStatuses(ctx context.Context, id int) (*model.TaskStatuses, error) {
	var ts model.TaskStatuses
	if err := c.doJSON(ctx, http.MethodGet, "/v1/report/tasks/"+strconv.Itoa(id), nil, &ts); err != nil {
		return nil, err
	}
	return &ts, nil
}

// GetMatrix returns the template task × dimension status matrix.
func (c *ServerClient) GetMatrix(ctx context.Context) (*model.StatusMatrix, error) {
	var m model.StatusMatrix
	if err := c.doJSON(ctx, http.MethodGet, "/v1/report/matrix", nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListRuns returns up to limit persisted report runs, newest first.
func (c *ServerClient) ListRuns(ctx context.Context, limit int) ([]*model.ReportRun, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/report/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Runs []*model.ReportRun `json:"runs"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

func (c *ServerClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

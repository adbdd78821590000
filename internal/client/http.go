package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/opreport/internal/model"
)

const (
	// DefaultConnectTimeout bounds the TCP/TLS connect phase of each call.
	DefaultConnectTimeout = 5 * time.Second
	// DefaultReadTimeout bounds the wait for response headers of each call
	// and every stall while the response body is read.
	DefaultReadTimeout = 15 * time.Second

	// harvestPageSize is the listing size used to discover dimension options
	// from tasks when the form schema does not enumerate them.
	harvestPageSize = 200
)

// HTTPClient implements TaskRepository against the OpenProject v3 HAL API.
type HTTPClient struct {
	baseURL        string
	token          string
	dimensionField string
	readTimeout    time.Duration
	httpClient     *http.Client
	logger         *slog.Logger
}

// Option configures an HTTPClient.
type Option func(*httpOptions)

type httpOptions struct {
	connectTimeout time.Duration
	readTimeout    time.Duration
	dimensionField string
	transport      http.RoundTripper
	logger         *slog.Logger
}

// WithTimeouts sets the connect and read timeouts applied to every call.
func WithTimeouts(connect, read time.Duration) Option {
	return func(o *httpOptions) {
		o.connectTimeout = connect
		o.readTimeout = read
	}
}

// WithDimensionField sets the custom field used for classification.
func WithDimensionField(field string) Option {
	return func(o *httpOptions) { o.dimensionField = field }
}

// WithLogger sets the logger used to report listing elements that cannot be decoded.
func WithLogger(logger *slog.Logger) Option {
	return func(o *httpOptions) { o.logger = logger }
}

// WithTransport replaces the HTTP transport. The connect and header timeouts
// are then the transport's concern; the body read timeout still applies.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *httpOptions) { o.transport = rt }
}

// NewHTTPClient creates a client for the API rooted at baseURL
// (e.g. "https://openproject.example.com"). When token is non-empty every
// request authenticates with basic auth as user "apikey".
func NewHTTPClient(baseURL, token string, opts ...Option) *HTTPClient {
	o := httpOptions{
		connectTimeout: DefaultConnectTimeout,
		readTimeout:    DefaultReadTimeout,
		dimensionField: DefaultDimensionField,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	rt := o.transport
	if rt == nil {
		rt = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: o.connectTimeout}).DialContext,
			TLSHandshakeTimeout:   o.connectTimeout,
			ResponseHeaderTimeout: o.readTimeout,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
		}
	}
	return &HTTPClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		token:          token,
		dimensionField: o.dimensionField,
		readTimeout:    o.readTimeout,
		httpClient:     &http.Client{Transport: rt},
		logger:         o.logger,
	}
}

// Compile-time check that HTTPClient implements TaskRepository.
var _ TaskRepository = (*HTTPClient)(nil)

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// DimensionField returns the custom field used for classification.
func (c *HTTPClient) DimensionField() string { return c.dimensionField }

// --- Tasks ---

func (c *HTTPClient) ListTasks(ctx context.Context, projectID string, page, pageSize int) ([]*model.Task, int, error) {
	if page < 1 {
		page = 1
	}
	q := url.Values{}
	q.Set("offset", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))
	q.Set("filters", "[]")
	path := "/api/v3/projects/" + url.PathEscape(projectID) + "/work_packages?" + q.Encode()

	var coll workPackageCollection
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &coll); err != nil {
		return nil, 0, err
	}

	tasks := make([]*model.Task, 0, len(coll.Embedded.Elements))
	for i, raw := range coll.Embedded.Elements {
		t, err := decodeTask(raw, c.dimensionField)
		if err != nil {
			c.logger.Warn("skipping undecodable work package", "project", projectID, "element", i, "err", err)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, coll.Total, nil
}

func (c *HTTPClient) GetTask(ctx context.Context, id int) (*model.Task, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/api/v3/work_packages/"+strconv.Itoa(id), nil, &raw); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return decodeTask(raw, c.dimensionField)
}

// --- Dimension options ---

// ListDimensionOptions reads the allowed values of the classification field
// from the project's work package form. When the form does not enumerate
// them, options are harvested from the dimension links of a task listing.
func (c *HTTPClient) ListDimensionOptions(ctx context.Context, projectID string) ([]*model.DimensionOption, error) {
	var form workPackageForm
	formPath := "/api/v3/projects/" + url.PathEscape(projectID) + "/work_packages/form"
	formErr := c.doJSON(ctx, http.MethodPost, formPath, map[string]any{}, &form)
	if formErr == nil {
		if opts := optionsFromForm(&form, c.dimensionField); len(opts) > 0 {
			return opts, nil
		}
	}

	tasks, _, err := c.ListTasks(ctx, projectID, 1, harvestPageSize)
	if err != nil {
		if formErr != nil {
			return nil, fmt.Errorf("reading form: %v; harvesting from tasks: %w", formErr, err)
		}
		return nil, fmt.Errorf("harvesting options from tasks: %w", err)
	}
	return optionsFromTasks(tasks), nil
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the request may succeed when retried.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	// The transport only bounds the wait for headers; the body read is
	// bounded by cancelling the request once it stalls for readTimeout.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/hal+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.SetBasicAuth("apikey", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var respReader io.Reader = resp.Body
	var stalled *idleReader
	if c.readTimeout > 0 {
		stalled = newIdleReader(resp.Body, c.readTimeout, cancel)
		defer stalled.stop()
		respReader = stalled
	}
	respBody, err := io.ReadAll(respReader)
	if err != nil {
		if stalled != nil && stalled.expired.Load() {
			return fmt.Errorf("reading response: %w", ErrReadTimeout)
		}
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		// OpenProject error resources carry a human readable "message".
		var errResp struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil {
			if errResp.Message != "" {
				return &APIError{StatusCode: resp.StatusCode, Message: errResp.Message}
			}
			if errResp.Error != "" {
				return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
			}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}

// ErrReadTimeout is returned when a response body stops arriving for
// longer than the read timeout.
var ErrReadTimeout = errors.New("read timeout")

// idleReader cancels the request when no Read completes within d.
type idleReader struct {
	r       io.Reader
	d       time.Duration
	timer   *time.Timer
	expired atomic.Bool
}

func newIdleReader(r io.Reader, d time.Duration, cancel context.CancelFunc) *idleReader {
	ir := &idleReader{r: r, d: d}
	ir.timer = time.AfterFunc(d, func() {
		ir.expired.Store(true)
		cancel()
	})
	return ir
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 && !ir.expired.Load() {
		ir.timer.Reset(ir.d)
	}
	return n, err
}

func (ir *idleReader) stop() { ir.timer.Stop() }

package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alfredjeanlab/opreport/internal/model"
)

// testHandler captures the incoming request details and returns a canned response.
type testHandler struct {
	// captured from the request
	method   string
	path     string
	query    string
	body     string
	user     string
	password string
	accept   string

	// canned response
	statusCode   int
	responseBody string
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.method = r.Method
	h.path = r.URL.Path
	h.query = r.URL.RawQuery
	h.user, h.password, _ = r.BasicAuth()
	h.accept = r.Header.Get("Accept")
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		h.body = string(data)
	}

	w.Header().Set("Content-Type", "application/hal+json")
	if h.statusCode != 0 {
		w.WriteHeader(h.statusCode)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if h.responseBody != "" {
		_, _ = w.Write([]byte(h.responseBody))
	}
}

// newTestClient creates an HTTPClient pointed at a test server with the given handler.
func newTestClient(h http.Handler) (*HTTPClient, *httptest.Server) {
	srv := httptest.NewServer(h)
	c := NewHTTPClient(srv.URL, "secret")
	return c, srv
}

const listingBody = `{
	"_type": "WorkPackageCollection",
	"total": 3,
	"count": 3,
	"_embedded": {"elements": [
		{
			"id": 1,
			"subject": "Rollout",
			"percentageDone": 40,
			"createdAt": "2026-01-15T10:00:00Z",
			"_links": {
				"status": {"href": "/api/v3/statuses/1", "title": "New"},
				"parent": {"href": null},
				"children": [{"href": "/api/v3/work_packages/2", "title": "Install"}],
				"customField1": {"href": "/api/v3/custom_options/3", "title": "Hangzhou"}
			}
		},
		{
			"id": 2,
			"subject": "Install",
			"_links": {
				"status": {"href": "/api/v3/statuses/12", "title": "Closed"},
				"parent": {"href": "/api/v3/work_packages/1", "title": "Rollout"},
				"customField1": [{"href": "/api/v3/custom_options/3", "title": "Hangzhou"}]
			}
		},
		{
			"id": 3,
			"subject": "Train",
			"customField1": "Ningbo",
			"_links": {
				"status": {"href": "/api/v3/statuses/7"}
			}
		}
	]}
}`

// --- ListTasks ---

func TestHTTPClient_ListTasks(t *testing.T) {
	h := &testHandler{responseBody: listingBody}
	c, srv := newTestClient(h)
	defer srv.Close()

	tasks, total, err := c.ListTasks(context.Background(), "demo", 1, 50)
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}

	// Verify request
	if h.method != http.MethodGet {
		t.Errorf("method = %q, want GET", h.method)
	}
	if h.path != "/api/v3/projects/demo/work_packages" {
		t.Errorf("path = %q", h.path)
	}
	if h.query != "filters=%5B%5D&offset=1&pageSize=50" {
		t.Errorf("query = %q", h.query)
	}
	if h.user != "apikey" || h.password != "secret" {
		t.Errorf("basic auth = %q:%q, want apikey:secret", h.user, h.password)
	}
	if h.accept != "application/hal+json" {
		t.Errorf("accept = %q", h.accept)
	}

	// Verify response
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(tasks) != 3 {
		t.Fatalf("len(tasks) = %d, want 3", len(tasks))
	}

	root := tasks[0]
	if root.ID != 1 || root.Subject != "Rollout" || root.PercentDone != 40 {
		t.Errorf("root = %+v", root)
	}
	if !root.Complete() {
		t.Error("root.Complete() = false, want true")
	}
	if root.Parent == nil || root.Parent.Href != "" {
		t.Errorf("root.Parent = %+v, want empty link", root.Parent)
	}
	if len(root.Children) != 1 || root.Children[0].Href != "/api/v3/work_packages/2" {
		t.Errorf("root.Children = %+v", root.Children)
	}
	if root.Dimension.Kind != model.FieldSingle {
		t.Errorf("root.Dimension.Kind = %q, want single", root.Dimension.Kind)
	}
	if root.CreatedAt == nil {
		t.Error("root.CreatedAt = nil")
	}

	child := tasks[1]
	if id, ok, err := child.ParentID(); err != nil || !ok || id != 1 {
		t.Errorf("child.ParentID() = %d, %v, %v", id, ok, err)
	}
	if child.Dimension.Kind != model.FieldList || len(child.Dimension.Links) != 1 {
		t.Errorf("child.Dimension = %+v, want one-element list", child.Dimension)
	}

	text := tasks[2]
	if text.Complete() {
		t.Error("text.Complete() = true, want false (status has no title)")
	}
	if text.Dimension.Kind != model.FieldText || text.Dimension.Text != "Ningbo" {
		t.Errorf("text.Dimension = %+v, want text Ningbo", text.Dimension)
	}
}

func TestHTTPClient_ListTasks_PageFloor(t *testing.T) {
	h := &testHandler{responseBody: `{"total":0,"_embedded":{"elements":[]}}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	tasks, total, err := c.ListTasks(context.Background(), "demo", 0, 500)
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if total != 0 || len(tasks) != 0 {
		t.Errorf("got %d tasks, total %d", len(tasks), total)
	}
	if h.query != "filters=%5B%5D&offset=1&pageSize=500" {
		t.Errorf("query = %q", h.query)
	}
}

func TestHTTPClient_ListTasks_CustomField(t *testing.T) {
	h := &testHandler{responseBody: `{"total":1,"_embedded":{"elements":[
		{"id": 9, "subject": "x", "_links": {"customField7": {"href": "/api/v3/custom_options/1", "title": "A"}}}
	]}}`}
	srv := httptest.NewServer(h)
	defer srv.Close()
	c := NewHTTPClient(srv.URL, "", WithDimensionField("customField7"))

	tasks, _, err := c.ListTasks(context.Background(), "demo", 1, 10)
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if tasks[0].Dimension.Kind != model.FieldSingle {
		t.Errorf("Dimension.Kind = %q, want single", tasks[0].Dimension.Kind)
	}
	if h.user != "" {
		t.Errorf("basic auth user = %q, want none without token", h.user)
	}
}

func TestHTTPClient_ListTasks_SkipsUndecodableElements(t *testing.T) {
	h := &testHandler{responseBody: `{"total":3,"_embedded":{"elements":[
		{"id": "seven", "subject": "string id"},
		{"id": 8, "subject": "kept"},
		17
	]}}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	tasks, total, err := c.ListTasks(context.Background(), "demo", 1, 10)
	if err != nil {
		t.Fatalf("ListTasks() error = %v, want bad elements skipped", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(tasks) != 1 || tasks[0].ID != 8 {
		t.Fatalf("tasks = %+v, want only task 8", tasks)
	}
}

// --- GetTask ---

func TestHTTPClient_GetTask(t *testing.T) {
	h := &testHandler{responseBody: `{"id": 42, "subject": "Deep", "_links": {"status": {"href": "/api/v3/statuses/7", "title": "In progress"}}}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	task, err := c.GetTask(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if h.path != "/api/v3/work_packages/42" {
		t.Errorf("path = %q", h.path)
	}
	if task.ID != 42 || task.StatusLabel() != "In progress" {
		t.Errorf("task = %+v", task)
	}
}

func TestHTTPClient_GetTask_NotFound(t *testing.T) {
	h := &testHandler{
		statusCode:   http.StatusNotFound,
		responseBody: `{"_type":"Error","errorIdentifier":"urn:openproject-org:api:v3:errors:NotFound","message":"The requested resource could not be found."}`,
	}
	c, srv := newTestClient(h)
	defer srv.Close()

	_, err := c.GetTask(context.Background(), 7)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetTask() error = %v, want ErrNotFound", err)
	}
}

func TestHTTPClient_GetTask_StalledBody(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/hal+json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id": 42, "subj`))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	c := NewHTTPClient(srv.URL, "", WithTimeouts(100*time.Millisecond, 200*time.Millisecond))

	done := make(chan error, 1)
	go func() {
		_, err := c.GetTask(context.Background(), 42)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrReadTimeout) {
			t.Fatalf("GetTask() error = %v, want ErrReadTimeout", err)
		}
		if !Retryable(err) {
			t.Errorf("Retryable(%v) = false, want true", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("GetTask still blocked on a stalled body after 2s")
	}
}

func TestHTTPClient_SlowBodyWithinReadTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/hal+json")
		w.WriteHeader(http.StatusOK)
		// Each chunk arrives inside the read timeout although the
		// whole body takes longer than it.
		for _, chunk := range []string{`{"id": 42,`, ` "subject":`, ` "Deep"}`} {
			_, _ = w.Write([]byte(chunk))
			w.(http.Flusher).Flush()
			time.Sleep(120 * time.Millisecond)
		}
	}))
	defer srv.Close()
	c := NewHTTPClient(srv.URL, "", WithTimeouts(100*time.Millisecond, 300*time.Millisecond))

	task, err := c.GetTask(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if task.Subject != "Deep" {
		t.Errorf("Subject = %q, want Deep", task.Subject)
	}
}

func TestHTTPClient_APIError(t *testing.T) {
	for _, tc := range []struct {
		name      string
		status    int
		body      string
		wantMsg   string
		temporary bool
	}{
		{"Message", http.StatusForbidden, `{"message":"denied"}`, "denied", false},
		{"ErrorField", http.StatusBadRequest, `{"error":"bad filter"}`, "bad filter", false},
		{"PlainText", http.StatusBadGateway, `upstream down`, "upstream down", true},
		{"TooMany", http.StatusTooManyRequests, `{}`, "{}", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := &testHandler{statusCode: tc.status, responseBody: tc.body}
			c, srv := newTestClient(h)
			defer srv.Close()

			_, _, err := c.ListTasks(context.Background(), "demo", 1, 1)
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tc.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tc.status)
			}
			if apiErr.Message != tc.wantMsg {
				t.Errorf("Message = %q, want %q", apiErr.Message, tc.wantMsg)
			}
			if apiErr.Temporary() != tc.temporary {
				t.Errorf("Temporary() = %v, want %v", apiErr.Temporary(), tc.temporary)
			}
		})
	}
}

// --- ListDimensionOptions ---

func TestHTTPClient_ListDimensionOptions_FromForm(t *testing.T) {
	h := &testHandler{responseBody: `{"_embedded": {"schema": {
		"customField1": {
			"type": "CustomOption",
			"_embedded": {"allowedValues": [
				{"id": 3, "value": "Hangzhou", "_links": {"self": {"href": "/api/v3/custom_options/3"}}},
				{"id": 4, "value": "Ningbo"}
			]}
		}
	}}}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	opts, err := c.ListDimensionOptions(context.Background(), "demo")
	if err != nil {
		t.Fatalf("ListDimensionOptions() error = %v", err)
	}
	if h.method != http.MethodPost || h.path != "/api/v3/projects/demo/work_packages/form" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if len(opts) != 2 {
		t.Fatalf("len(opts) = %d, want 2", len(opts))
	}
	if opts[0].ID != "3" || opts[0].Value != "Hangzhou" || opts[0].Href != "/api/v3/custom_options/3" {
		t.Errorf("opts[0] = %+v", opts[0])
	}
	if opts[1].ReferenceHref() != "/api/v3/custom_options/4" {
		t.Errorf("opts[1].ReferenceHref() = %q", opts[1].ReferenceHref())
	}
}

func TestHTTPClient_ListDimensionOptions_FromLinks(t *testing.T) {
	h := &testHandler{responseBody: `{"_embedded": {"schema": {
		"customField1": {"_links": {"allowedValues": [
			{"href": "/api/v3/custom_options/5", "title": "Wenzhou"},
			{"href": "/api/v3/custom_options/6"}
		]}}
	}}}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	opts, err := c.ListDimensionOptions(context.Background(), "demo")
	if err != nil {
		t.Fatalf("ListDimensionOptions() error = %v", err)
	}
	if len(opts) != 1 {
		t.Fatalf("len(opts) = %d, want 1 (untitled link skipped)", len(opts))
	}
	if opts[0].ID != "5" || opts[0].Value != "Wenzhou" {
		t.Errorf("opts[0] = %+v", opts[0])
	}
}

func TestHTTPClient_ListDimensionOptions_Harvest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v3/projects/demo/work_packages/form", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"no permission"}`))
	})
	var pageSize string
	mux.HandleFunc("GET /api/v3/projects/demo/work_packages", func(w http.ResponseWriter, r *http.Request) {
		pageSize = r.URL.Query().Get("pageSize")
		_, _ = w.Write([]byte(listingBody))
	})
	c, srv := newTestClient(mux)
	defer srv.Close()

	opts, err := c.ListDimensionOptions(context.Background(), "demo")
	if err != nil {
		t.Fatalf("ListDimensionOptions() error = %v", err)
	}
	if pageSize != "200" {
		t.Errorf("harvest pageSize = %q, want 200", pageSize)
	}
	// Tasks 1 and 2 share one option; task 3 is a plain string.
	if len(opts) != 1 {
		t.Fatalf("len(opts) = %d, want 1", len(opts))
	}
	if opts[0].Name != "Hangzhou" || opts[0].ID != "3" {
		t.Errorf("opts[0] = %+v", opts[0])
	}
}

func TestHTTPClient_ListDimensionOptions_BothFail(t *testing.T) {
	h := &testHandler{statusCode: http.StatusInternalServerError, responseBody: `{"message":"boom"}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	_, err := c.ListDimensionOptions(context.Background(), "demo")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("error = %v, want wrapped 500 APIError", err)
	}
}

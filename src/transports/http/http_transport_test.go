package http

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/lspecian/intellirouter-go/src/config"
	ierrors "github.com/lspecian/intellirouter-go/src/errors"
	"github.com/lspecian/intellirouter-go/src/json"
)

func noBackoff(int) time.Duration { return 0 }

func newTestTransport(url string, retries int, opts ...Option) *HTTPTransport {
	cfg := config.Default()
	cfg.APIKey = "test-key"
	cfg.BaseURL = url + "/"
	cfg.MaxRetries = retries
	opts = append([]Option{WithBackoff(noBackoff)}, opts...)
	return NewHTTPTransport(cfg, opts...)
}

func TestHTTPTransport_Request(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if r.Header.Get("X-Request-Id") == "" {
			t.Error("missing request id header")
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		if r.Method != http.MethodPost || r.URL.Path != "/v1/chains" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var in map[string]any
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"chain-123","name":"` + in["name"].(string) + `"}`))
	}))
	defer server.Close()

	tr := newTestTransport(server.URL, 0)
	defer tr.Close()
	resp, err := tr.Request(context.Background(), http.MethodPost, "/v1/chains", nil, map[string]any{"name": "Test Chain"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp["id"] != "chain-123" || resp["name"] != "Test Chain" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestHTTPTransport_QueryParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "10" || r.URL.Query().Get("offset") != "20" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		w.Write([]byte(`{"chains":[]}`))
	}))
	defer server.Close()

	_, err := newTestTransport(server.URL, 0).Request(context.Background(), http.MethodGet, "/v1/chains",
		map[string]any{"limit": 10, "offset": 20}, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
}

func TestHTTPTransport_EmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	resp, err := newTestTransport(server.URL, 0).Request(context.Background(), http.MethodDelete, "/v1/chains/c1", nil, nil)
	if err != nil || resp != nil {
		t.Fatalf("expected nil response and error, got %v, %v", resp, err)
	}
}

func TestHTTPTransport_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	}))
	defer server.Close()

	_, err := newTestTransport(server.URL, 0).Request(context.Background(), http.MethodGet, "/v1/chains/c1", nil, nil)
	if !ierrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHTTPTransport_StatusMapping(t *testing.T) {
	tests := []struct {
		status  int
		body    string
		check   func(error) bool
		message string
	}{
		{http.StatusUnauthorized, `{"error":{"message":"Invalid API key"}}`, ierrors.IsAuth, "Authentication failed: Invalid API key"},
		{http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, ierrors.IsRateLimit, "Rate limit exceeded: slow down"},
		{http.StatusInternalServerError, `{}`, ierrors.IsServer, "Server error: Unknown error"},
		{http.StatusNotFound, `{"error":{"message":"Chain not found"}}`, func(err error) bool {
			return !ierrors.IsAuth(err) && !ierrors.IsRateLimit(err) && !ierrors.IsServer(err)
		}, "API error: Chain not found"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Request-Id", "req-1")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestTransport(server.URL, 0).Request(context.Background(), http.MethodGet, "/v1/chains/c1", nil, nil)
			if err == nil || !tt.check(err) {
				t.Fatalf("unexpected error %T %v", err, err)
			}
			api, ok := ierrors.AsAPIError(err)
			if !ok {
				t.Fatalf("expected *APIError in chain, got %T", err)
			}
			if api.StatusCode != tt.status || api.Message != tt.message || api.RequestID != "req-1" {
				t.Fatalf("unexpected api error %+v", api)
			}
			if string(api.Body) != tt.body {
				t.Fatalf("unexpected body %q", api.Body)
			}
			if !errors.Is(err, ierrors.ErrIntelliRouter) {
				t.Fatal("expected error to match ErrIntelliRouter")
			}
		})
	}
}

func TestHTTPTransport_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	var logged atomic.Int32
	tr := newTestTransport(server.URL, 3, WithLogger(func(string, ...interface{}) { logged.Add(1) }))
	resp, err := tr.Request(context.Background(), http.MethodGet, "/v1/chains", nil, nil)
	if err != nil || resp["ok"] != true {
		t.Fatalf("expected success after retries, got %v, %v", resp, err)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", hits.Load())
	}
	if logged.Load() < 2 {
		t.Fatalf("expected retries to be logged, got %d lines", logged.Load())
	}
}

func TestHTTPTransport_RetryBudget(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestTransport(server.URL, 2).Request(context.Background(), http.MethodGet, "/v1/chains", nil, nil)
	if !ierrors.IsRateLimit(err) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 1 attempt plus 2 retries, got %d", hits.Load())
	}
}

func TestHTTPTransport_NoRetryOnClientError(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newTestTransport(server.URL, 3).Request(context.Background(), http.MethodGet, "/v1/chains", nil, nil)
	if !ierrors.IsAuth(err) || hits.Load() != 1 {
		t.Fatalf("expected single auth failure, got %v after %d hits", err, hits.Load())
	}
}

func TestHTTPTransport_PostNotRetriedOnServerError(t *testing.T) {
	for _, path := range []string{"/v1/chains", "/v1/chains/c1/run"} {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))

		_, err := newTestTransport(server.URL, 3).Request(context.Background(), http.MethodPost, path, nil, map[string]any{"inputs": map[string]any{}})
		server.Close()
		if !ierrors.IsServer(err) {
			t.Fatalf("%s: expected server error, got %v", path, err)
		}
		if hits.Load() != 1 {
			t.Fatalf("%s: POST reached the server %d times", path, hits.Load())
		}
	}
}

func TestHTTPTransport_PostRetriedOnRateLimit(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"id":"chain-1"}`))
	}))
	defer server.Close()

	resp, err := newTestTransport(server.URL, 3).Request(context.Background(), http.MethodPost, "/v1/chains", nil, map[string]any{"name": "n"})
	if err != nil || resp["id"] != "chain-1" {
		t.Fatalf("expected success after 429, got %v, %v", resp, err)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", hits.Load())
	}
}

func TestHTTPTransport_PatchRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"id":"c1"}`))
	}))
	defer server.Close()

	if _, err := newTestTransport(server.URL, 1).Request(context.Background(), http.MethodPatch, "/v1/chains/c1", nil, map[string]any{"name": "n"}); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", hits.Load())
	}
}

func TestCanRetry(t *testing.T) {
	dial := ierrors.NetworkError(&url.Error{Op: "Post", URL: "http://x", Err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}})
	reset := ierrors.NetworkError(&url.Error{Op: "Post", URL: "http://x", Err: &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset")}})
	timeout := ierrors.NetworkError(&url.Error{Op: "Post", URL: "http://x", Err: io.ErrUnexpectedEOF})

	tests := []struct {
		method string
		err    error
		want   bool
	}{
		{http.MethodGet, ierrors.FromStatus(http.StatusBadGateway, nil, nil), true},
		{http.MethodDelete, reset, true},
		{http.MethodPatch, ierrors.FromStatus(http.StatusInternalServerError, nil, nil), true},
		{http.MethodPost, ierrors.FromStatus(http.StatusBadGateway, nil, nil), false},
		{http.MethodPost, ierrors.FromStatus(http.StatusRequestTimeout, nil, nil), false},
		{http.MethodPost, ierrors.FromStatus(http.StatusTooManyRequests, nil, nil), true},
		{http.MethodPost, dial, true},
		{http.MethodPost, reset, false},
		{http.MethodPost, timeout, false},
		{http.MethodGet, ierrors.FromStatus(http.StatusBadRequest, nil, nil), false},
	}
	for _, tt := range tests {
		if got := canRetry(tt.method, tt.err); got != tt.want {
			t.Errorf("canRetry(%s, %v) = %v, want %v", tt.method, tt.err, got, tt.want)
		}
	}
}

func TestHTTPTransport_PostRetriedWhenNeverSent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	var retries atomic.Int32
	tr := newTestTransport(addr, 2, WithLogger(func(format string, args ...interface{}) {
		if strings.HasPrefix(format, "retrying") {
			retries.Add(1)
		}
	}))
	if _, err := tr.Request(context.Background(), http.MethodPost, "/v1/chains", nil, map[string]any{"name": "n"}); err == nil {
		t.Fatal("expected network error")
	}
	if retries.Load() != 2 {
		t.Fatalf("expected 2 retries for a refused connection, got %d", retries.Load())
	}
}

func TestHTTPTransport_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestTransport(url, 0).Request(context.Background(), http.MethodGet, "/v1/chains", nil, nil)
	api, ok := ierrors.AsAPIError(err)
	if !ok || api.StatusCode != 0 || !strings.HasPrefix(api.Message, "Request failed:") {
		t.Fatalf("expected network error, got %T %v", err, err)
	}
}

func TestHTTPTransport_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	tr := newTestTransport(server.URL, 5, WithBackoff(func(int) time.Duration {
		cancel()
		return time.Minute
	}))
	_, err := tr.Request(ctx, http.MethodGet, "/v1/chains", nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestHTTPTransport_RateLimiter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	limiter := rate.NewLimiter(rate.Limit(1), 1)
	tr := newTestTransport(server.URL, 0, WithRateLimiter(limiter))
	if _, err := tr.Request(context.Background(), http.MethodGet, "/v1/chains", nil, nil); err != nil {
		t.Fatalf("first request: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := tr.Request(ctx, http.MethodGet, "/v1/chains", nil, nil); err == nil {
		t.Fatal("expected limiter to reject a request it cannot admit before the deadline")
	}
}

func TestHTTPTransport_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("unexpected accept header %q", r.Header.Get("Accept"))
		}
		if r.URL.Path != "/v1/chains/c1/run" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range []string{
			`{"event_type":"step_started","chain_id":"c1"}`,
			`{"event_type":"chain_completed","chain_id":"c1","data":{"outputs":{"x":1}}}`,
			`[DONE]`,
		} {
			w.Write([]byte("data: " + frame + "\n\n"))
			flusher.Flush()
		}
	}))
	defer server.Close()

	sr, err := newTestTransport(server.URL, 0).Stream(context.Background(), http.MethodPost, "/v1/chains/c1/run", nil,
		map[string]any{"inputs": map[string]any{}, "stream": true})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer sr.Close()

	var types []any
	for {
		frame, err := sr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		types = append(types, frame["event_type"])
	}
	if len(types) != 2 || types[0] != "step_started" || types[1] != "chain_completed" {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestHTTPTransport_StreamErrorStatus(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom"}}`))
	}))
	defer server.Close()

	_, err := newTestTransport(server.URL, 3).Stream(context.Background(), http.MethodPost, "/v1/chains/c1/run", nil, nil)
	if !ierrors.IsServer(err) {
		t.Fatalf("expected server error, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("streams must not be retried, got %d attempts", hits.Load())
	}
}

func TestHTTPTransport_UnencodableBody(t *testing.T) {
	_, err := newTestTransport("http://127.0.0.1:0", 0).Request(context.Background(), http.MethodPost, "/v1/chains", nil,
		map[string]any{"bad": make(chan int)})
	if !ierrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

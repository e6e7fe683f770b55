package http

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"golang.org/x/time/rate"

	"github.com/lspecian/intellirouter-go/src/config"
	ierrors "github.com/lspecian/intellirouter-go/src/errors"
	"github.com/lspecian/intellirouter-go/src/json"
	"github.com/lspecian/intellirouter-go/src/transports"
	"github.com/lspecian/intellirouter-go/src/transports/sse"
)

const defaultUserAgent = "intellirouter-go/1"

// HTTPTransport implements transports.Transport against the IntelliRouter
// HTTP API. It attaches the bearer token, classifies error statuses and
// retries failed non-streaming requests. It is safe for concurrent use.
type HTTPTransport struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	streamClient *http.Client
	limiter      *rate.Limiter
	maxRetries   int
	backoff      func(attempt int) time.Duration
	userAgent    string
	logger       func(format string, args ...interface{})
}

var _ transports.Transport = (*HTTPTransport)(nil)

type Option func(*HTTPTransport)

// WithHTTPClient replaces the client used for both requests and streams.
func WithHTTPClient(c *http.Client) Option {
	return func(t *HTTPTransport) {
		t.httpClient = c
		t.streamClient = c
	}
}

func WithLogger(logger func(format string, args ...interface{})) Option {
	return func(t *HTTPTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithRateLimiter overrides the limiter derived from Config.RateLimit.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(t *HTTPTransport) { t.limiter = l }
}

func WithUserAgent(ua string) Option {
	return func(t *HTTPTransport) { t.userAgent = ua }
}

// WithBackoff sets the delay before retry number attempt (starting at 1).
func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(t *HTTPTransport) {
		if fn != nil {
			t.backoff = fn
		}
	}
}

// NewHTTPTransport constructs a transport from cfg. Streams use a client
// without an overall timeout so long-lived executions are bounded by the
// caller's context instead.
func NewHTTPTransport(cfg *config.Config, opts ...Option) *HTTPTransport {
	if cfg == nil {
		cfg = config.Default()
	}
	t := &HTTPTransport{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		streamClient: &http.Client{},
		maxRetries:   cfg.MaxRetries,
		backoff:      exponentialBackoff,
		userAgent:    defaultUserAgent,
		logger:       func(format string, args ...interface{}) {},
	}
	if cfg.RateLimit > 0 {
		burst := int(math.Ceil(cfg.RateLimit))
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func exponentialBackoff(attempt int) time.Duration {
	d := 250 * time.Millisecond << (attempt - 1)
	if d > 4*time.Second || d <= 0 {
		d = 4 * time.Second
	}
	return d
}

// Request performs one logical round trip. Idempotent methods are retried on
// network failures, 408, 429 and 5xx up to the configured number of retries.
// POST is retried only on 429 or when the connection was never established,
// since a replayed create or run would execute twice.
func (t *HTTPTransport) Request(ctx context.Context, method, path string, params map[string]any, body any) (map[string]any, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	attempts := t.maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		data, err := t.doOnce(ctx, method, path, params, payload)
		if err == nil {
			return data, nil
		}
		if attempt >= attempts || !canRetry(method, err) {
			return nil, err
		}

		wait := t.backoff(attempt)
		var rl *ierrors.RateLimitError
		if stderrors.As(err, &rl) && rl.RetryAfter > wait {
			wait = rl.RetryAfter
		}
		t.logger("retrying %s %s after %v (attempt %d/%d): %v", method, path, wait, attempt, attempts, err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// retryMethods are safe to replay. PATCH bodies carry absolute field values,
// so applying one twice leaves the chain in the same state.
var retryMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
	http.MethodPatch:   true,
}

func canRetry(method string, err error) bool {
	if !ierrors.Retryable(err) {
		return false
	}
	if retryMethods[strings.ToUpper(method)] {
		return true
	}
	if ierrors.IsRateLimit(err) {
		return true
	}
	return notSent(err)
}

// notSent reports whether err happened while dialing, before any byte of the
// request reached the server.
func notSent(err error) bool {
	var opErr *net.OpError
	return stderrors.As(err, &opErr) && opErr.Op == "dial"
}

// Stream opens an event stream. It is never retried: once the server has
// accepted a run, replaying it would start a second execution.
func (t *HTTPTransport) Stream(ctx context.Context, method, path string, params map[string]any, body any) (transports.StreamResult, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	req, reqID, err := t.newRequest(ctx, method, path, params, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := t.streamClient.Do(req)
	if err != nil {
		return nil, t.networkError(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, statusError(resp, raw, reqID)
	}
	t.logger("stream opened %s %s request_id=%s", method, path, reqID)
	return sse.NewStream(resp.Body, t.logger), nil
}

// Close releases idle connections held by the transport.
func (t *HTTPTransport) Close() error {
	t.httpClient.CloseIdleConnections()
	if t.streamClient != t.httpClient {
		t.streamClient.CloseIdleConnections()
	}
	return nil
}

func (t *HTTPTransport) doOnce(ctx context.Context, method, path string, params map[string]any, payload []byte) (map[string]any, error) {
	req, reqID, err := t.newRequest(ctx, method, path, params, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, t.networkError(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, t.networkError(ctx, err)
	}
	if resp.StatusCode >= 400 {
		return nil, statusError(resp, raw, reqID)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	data, err := json.DecodeObject(raw)
	if err != nil {
		return nil, ierrors.Validationf(err, "invalid JSON response from %s %s", method, path)
	}
	return data, nil
}

func (t *HTTPTransport) newRequest(ctx context.Context, method, path string, params map[string]any, payload []byte) (*http.Request, string, error) {
	u, err := url.Parse(t.baseURL + path)
	if err != nil {
		return nil, "", &ierrors.ConfigurationError{Message: "invalid base URL " + t.baseURL, Cause: err}
	}
	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, cast.ToString(v))
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, "", err
	}

	reqID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("X-Request-Id", reqID)
	return req, reqID, nil
}

func (t *HTTPTransport) wait(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}

// networkError leaves context errors untouched so callers can match them.
func (t *HTTPTransport) networkError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	t.logger("request failed: %v", err)
	return ierrors.NetworkError(err)
}

func statusError(resp *http.Response, raw []byte, reqID string) error {
	h := resp.Header.Clone()
	if h.Get("X-Request-Id") == "" {
		h.Set("X-Request-Id", reqID)
	}
	return ierrors.FromStatus(resp.StatusCode, raw, h)
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, ierrors.Validationf(err, "cannot encode request body")
	}
	return b, nil
}

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/llmcore/observe"
)

// HTTPConfig configures an HTTPTransport.
type HTTPConfig struct {
	// BaseURL is the endpoint root, e.g. "https://api.openai.com/v1".
	// Required.
	BaseURL string

	// Headers are sent with every request.
	Headers map[string]string

	// UserAgent is sent with every request.
	// Default: "llmcore/1"
	UserAgent string

	// MaxResponseBytes bounds a buffered response body.
	// Default: 16 MiB
	MaxResponseBytes int64
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient sets the underlying client.
// Default: a client with no overall timeout; attempts are bounded by ctx.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		if c != nil {
			t.client = c
		}
	}
}

// WithTransportLogger logs each exchange at debug level.
func WithTransportLogger(l observe.Logger) HTTPOption {
	return func(t *HTTPTransport) {
		if l != nil {
			t.logger = l
		}
	}
}

// HTTPTransport implements Transport over net/http.
type HTTPTransport struct {
	config HTTPConfig
	base   string
	client *http.Client
	logger observe.Logger
	now    func() time.Time
}

// NewHTTPTransport validates config and returns a transport.
func NewHTTPTransport(config HTTPConfig, opts ...HTTPOption) (*HTTPTransport, error) {
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, ErrMissingBaseURL
	}
	u, err := url.Parse(config.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, config.BaseURL)
	}

	// Apply defaults
	if config.UserAgent == "" {
		config.UserAgent = "llmcore/1"
	}
	if config.MaxResponseBytes <= 0 {
		config.MaxResponseBytes = 16 << 20
	}

	t := &HTTPTransport{
		config: config,
		base:   strings.TrimRight(config.BaseURL, "/"),
		client: &http.Client{},
		logger: observe.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Send performs a buffered exchange.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	httpReq, id, err := t.newRequest(ctx, req, "application/json")
	if err != nil {
		return nil, err
	}

	start := t.now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(ctx, "send", err)
	}
	defer resp.Body.Close()

	body, err := readLimited(resp.Body, t.config.MaxResponseBytes)
	t.logExchange(ctx, httpReq, id, resp.StatusCode, start)
	if err != nil {
		if errors.Is(err, ErrResponseTooLarge) {
			return nil, err
		}
		return nil, classifyError(ctx, "read", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, t.statusError(resp, id, body)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		RequestID:  id,
	}, nil
}

// SendStreaming starts an exchange and returns the open body once a 2xx
// status arrives. Non-2xx bodies are read, closed and classified.
func (t *HTTPTransport) SendStreaming(ctx context.Context, req *Request) (io.ReadCloser, error) {
	httpReq, id, err := t.newRequest(ctx, req, "text/event-stream")
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Cache-Control", "no-cache")

	start := t.now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(ctx, "stream", err)
	}
	t.logExchange(ctx, httpReq, id, resp.StatusCode, start)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, t.statusError(resp, id, body)
	}
	return resp.Body, nil
}

func (t *HTTPTransport) newRequest(ctx context.Context, req *Request, accept string) (*http.Request, string, error) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	path := req.Path
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, t.base+path, body)
	if err != nil {
		return nil, "", fmt.Errorf("transport: build request: %w", err)
	}

	id := req.RequestID
	if id == "" {
		id = uuid.NewString()
	}

	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("User-Agent", t.config.UserAgent)
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range t.config.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, vs := range req.Header {
		httpReq.Header.Del(k)
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set(RequestIDHeader, id)
	return httpReq, id, nil
}

func (t *HTTPTransport) statusError(resp *http.Response, id string, body []byte) *StatusError {
	e := newStatusError(resp.StatusCode, resp.Header, body, t.now())
	if e.RequestID == "" {
		e.RequestID = id
	}
	return e
}

func (t *HTTPTransport) logExchange(ctx context.Context, req *http.Request, id string, status int, start time.Time) {
	t.logger.Debug(ctx, "http exchange",
		observe.Field{Key: "http.method", Value: req.Method},
		observe.Field{Key: "http.path", Value: req.URL.Path},
		observe.Field{Key: "http.status", Value: status},
		observe.Field{Key: "request_id", Value: id},
		observe.Field{Key: "duration_ms", Value: float64(t.now().Sub(start).Milliseconds())},
	)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, ErrResponseTooLarge
	}
	return body, nil
}

package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"boardsync/domain"
)

const (
	tracerName      = "boardsync/client"
	maxResponseSize = 4 << 20 // 4 MiB
	headerRequestID = "X-Request-ID"
)

// TokenSource supplies the bearer token attached to every request. An empty
// token means the request is sent with cookies only.
type TokenSource interface {
	Token() string
}

// Client talks to the board/todo REST backend.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	tokens  TokenSource
	logger  *log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient bases the underlying http.Client on a copy of h, so h
// itself is never modified. A cookie jar is added when h has none.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		cp := *h
		c.http = &cp
	}
}

// WithTokenSource attaches credentials to every request.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTimeout sets the per-request timeout of the underlying http.Client,
// whatever the order of the options.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New creates a Client for the backend rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, domain.InvalidArgument("baseURL", "is required")
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{},
		logger:  log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		c.http.Timeout = c.timeout
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		c.http.Jar = jar
	}
	return c, nil
}

// request describes a single backend call.
type request struct {
	op     string
	method string
	route  string // templated path used for span naming
	path   string
	body   any
	// notFoundCode overrides the code of a 404 whose cause is known at the
	// call site.
	notFoundCode string
}

type errorEnvelope struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (c *Client) do(ctx context.Context, r request, out any) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "boardsync.client."+r.op)
	span.SetAttributes(
		attribute.String("http.method", r.method),
		attribute.String("http.route", r.route),
	)
	start := time.Now()
	status := 0
	defer func() {
		span.SetAttributes(attribute.Int("http.status_code", status))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		c.logger.WithFields(log.Fields{
			"op":       r.op,
			"method":   r.method,
			"route":    r.route,
			"status":   status,
			"total_ms": float64(time.Since(start)) / float64(time.Millisecond),
		}).Debug("backend.request")
	}()

	var body io.Reader
	if r.body != nil {
		payload, mErr := sonic.Marshal(r.body)
		if mErr != nil {
			return fmt.Errorf("encode %s request: %w", r.op, mErr)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", r.op, err)
	}
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(headerRequestID, uuid.NewString())
	if c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.NetworkError{Op: r.method + " " + r.route, Err: err}
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &domain.NetworkError{Op: r.method + " " + r.route, Err: err}
	}

	if status < 200 || status > 299 {
		var env errorEnvelope
		if len(data) > 0 {
			// Non-JSON error bodies fall back to the generic message.
			_ = sonic.Unmarshal(data, &env)
		}
		code := env.Code
		if status == http.StatusNotFound && r.notFoundCode != "" && (code == "" || code == domain.CodeNotFound) {
			code = r.notFoundCode
		}
		return domain.NewAPIError(status, code, env.Message)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", r.op, err)
	}
	return nil
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"communitysync/application/ports"
	"communitysync/pkg/errors"
	"communitysync/pkg/observability"
)

const (
	serviceName     = "community-api"
	maxResponseSize = 4 << 20

	defaultConnectTimeout = 5 * time.Second
	defaultTLSTimeout     = 5 * time.Second
)

// ClientConfig configures the remote API client
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration

	// Circuit breaker: trips once FailureRatio of at least MinRequests
	// calls failed, stays open for OpenTimeout.
	FailureRatio float64
	MinRequests  uint32
	OpenTimeout  time.Duration
}

// DefaultClientConfig returns conservative breaker settings for baseURL
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:      baseURL,
		Timeout:      10 * time.Second,
		FailureRatio: 0.6,
		MinRequests:  5,
		OpenTimeout:  30 * time.Second,
	}
}

// StatusError is a non-2xx answer from the remote API
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote api returned %d", e.Status)
	}
	return fmt.Sprintf("remote api returned %d: %s", e.Status, e.Message)
}

// Client is the HTTP implementation of ports.RemoteAPI. Every call goes
// through a circuit breaker and an X-Ray subsegment; a 401 triggers one
// token refresh and a single retry.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	tokens  ports.TokenSource
	breaker *gobreaker.CircuitBreaker
	tracer  *observability.Tracer
	decoder *decoder
	logger  *zap.Logger
	newKey  func() string
}

var _ ports.RemoteAPI = (*Client)(nil)

// NewClient creates a client. tokens may be nil for anonymous access.
func NewClient(cfg ClientConfig, tokens ports.TokenSource, tracer *observability.Tracer, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	c := &Client{
		baseURL: base,
		http:    defaultHTTPClient(cfg.Timeout),
		tokens:  tokens,
		tracer:  tracer,
		decoder: newDecoder(),
		logger:  logger.With(zap.String("component", "api_client")),
		newKey:  uuid.NewString,
	}
	c.breaker = newBreaker(cfg, c.logger)
	return c, nil
}

// WithTokenSource returns a client sharing transport and breaker state
// but authenticating with tokens.
func (c *Client) WithTokenSource(tokens ports.TokenSource) *Client {
	clone := *c
	clone.tokens = tokens
	return &clone
}

func defaultHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultTLSTimeout,
		MaxIdleConnsPerHost: 16,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

func newBreaker(cfg ClientConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        serviceName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// Client errors say nothing about the health of the server.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var statusErr *StatusError
			if stderrors.As(err, &statusErr) {
				return statusErr.Status < http.StatusInternalServerError
			}
			return errors.IsUnauthorized(err) || stderrors.Is(err, context.Canceled)
		},
	})
}

// request describes one remote call
type request struct {
	op     string
	method string
	path   string
	query  url.Values
	body   interface{}
	// notFound replaces a 404 answer; nil leaves it a StatusError.
	notFound error
	// missingOK turns a 404 into success with an empty body.
	missingOK bool
}

// do executes req and returns the raw response body of a 2xx answer.
func (c *Client) do(ctx context.Context, req request) ([]byte, error) {
	var body []byte
	err := c.tracer.TraceFunction(ctx, "api."+req.op, func(ctx context.Context) error {
		out, err := c.breaker.Execute(func() (interface{}, error) {
			return c.roundTrip(ctx, req)
		})
		if err != nil {
			return err
		}
		body, _ = out.([]byte)
		return nil
	})
	if err == nil {
		return body, nil
	}

	var statusErr *StatusError
	switch {
	case stderrors.Is(err, gobreaker.ErrOpenState), stderrors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, errors.NewUnavailableError(serviceName).WithCause(err)
	case stderrors.As(err, &statusErr):
		if statusErr.Status == http.StatusNotFound {
			if req.missingOK {
				return nil, nil
			}
			if req.notFound != nil {
				return nil, req.notFound
			}
		}
		if statusErr.Status == http.StatusTooManyRequests {
			return nil, errors.RateLimited(serviceName).WithCause(statusErr)
		}
		return nil, errors.NewExternalError(serviceName, statusErr).
			WithCode(fmt.Sprintf("HTTP_%d", statusErr.Status))
	case errors.GetAppError(err) != nil, errors.GetDomainError(err) != nil:
		return nil, err
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return nil, errors.NewTimeoutError(req.op).WithCause(err)
	default:
		return nil, errors.NewNetworkError(req.op+" failed", err)
	}
}

// roundTrip sends req, refreshing the token and retrying once on 401.
// The idempotency key is shared by both attempts.
func (c *Client) roundTrip(ctx context.Context, req request) ([]byte, error) {
	var payload []byte
	if req.body != nil {
		var err error
		payload, err = json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", req.op, err)
		}
	}
	key := ""
	if req.method == http.MethodPost {
		key = c.newKey()
	}

	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	status, body, err := c.send(ctx, req, payload, key, token)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized && c.tokens != nil {
		c.logger.Info("Remote API rejected token, refreshing", zap.String("op", req.op))
		token, err = c.tokens.Refresh(ctx)
		if err != nil || token == "" {
			if err == nil {
				err = stderrors.New("token source returned no token")
			}
			return nil, errors.NewUnauthorizedError("token refresh failed").WithCause(err)
		}
		status, body, err = c.send(ctx, req, payload, key, token)
		if err != nil {
			return nil, err
		}
	}

	if status < 200 || status > 299 {
		return nil, &StatusError{Status: status, Message: strings.TrimSpace(string(body))}
	}
	return body, nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", nil
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("obtain token: %w", err)
	}
	return token, nil
}

func (c *Client) send(ctx context.Context, req request, payload []byte, key, token string) (int, []byte, error) {
	u := *c.baseURL
	u.Path = c.baseURL.Path + req.path
	if len(req.query) > 0 {
		u.RawQuery = req.query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), reader)
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		httpReq.Header.Set("Idempotency-Key", key)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("read %s response: %w", req.op, err)
	}

	c.logger.Debug("Remote API call",
		zap.String("op", req.op),
		zap.String("method", req.method),
		zap.String("path", req.path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)
	return resp.StatusCode, body, nil
}

package esi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/scan-intel/backend/internal/metrics"
	"github.com/scan-intel/backend/pkg/retry"
)

const maxBodyBytes = 8 << 20

type Config struct {
	BaseURL        string
	UserAgent      string
	Timeout        time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	MaxConnections int
	// RequestsPerSecond <= 0 disables outbound pacing.
	RequestsPerSecond float64
	Burst             int
	PreviewBytes      int
	NamesPerRequest   int
	IDsPerRequest     int
}

func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://esi.evetech.net/latest",
		UserAgent:         "scan-intel/1.0",
		Timeout:           15 * time.Second,
		MaxAttempts:       3,
		RetryBaseDelay:    500 * time.Millisecond,
		MaxConnections:    20,
		RequestsPerSecond: 50,
		Burst:             100,
		PreviewBytes:      512,
		NamesPerRequest:   namesPerRequest,
		IDsPerRequest:     idsPerRequest,
	}
}

// DeletionHandler soft-deletes a pilot the upstream reported as removed.
type DeletionHandler func(ctx context.Context, pilotID int64, at time.Time) error

type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	Attempts int
	// Deleted is set when a pilot lookup hit the deleted-resource 404 and the
	// soft-delete path ran instead of failing the call.
	Deleted bool
}

func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

func (r *Response) JSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (r *Response) Text() string {
	return string(r.Body)
}

// Expires returns the upstream cache horizon, if the response declared one.
func (r *Response) Expires() (time.Time, bool) {
	raw := r.Header.Get("Expires")
	if raw == "" {
		return time.Time{}, false
	}
	t, err := http.ParseTime(raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	cb         *gobreaker.CircuitBreaker[*Response]
	limits     *RateLimitState
	onDeleted  DeletionHandler
	logger     *zap.Logger
	now        func() time.Time
}

type Option func(*Client)

func WithDeletionHandler(h DeletionHandler) Option {
	return func(c *Client) { c.onDeleted = h }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(cfg Config, logger *zap.Logger, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = def.MaxConnections
	}
	if cfg.NamesPerRequest <= 0 || cfg.NamesPerRequest > namesPerRequest {
		cfg.NamesPerRequest = namesPerRequest
	}
	if cfg.IDsPerRequest <= 0 || cfg.IDsPerRequest > idsPerRequest {
		cfg.IDsPerRequest = idsPerRequest
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxConnsPerHost:     cfg.MaxConnections,
		MaxIdleConns:        cfg.MaxConnections,
		MaxIdleConnsPerHost: cfg.MaxConnections,
		IdleConnTimeout:     90 * time.Second,
	}

	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		limits: newRateLimitState(),
		logger: logger,
		now:    time.Now,
	}

	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	c.cb = gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        "esi",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 20 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.ESIBreakerState.Set(float64(to))
		},
		IsSuccessful: func(err error) bool {
			var se *serverError
			return err == nil || !errors.As(err, &se) && !isTransportError(err)
		},
	})

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RateLimits exposes the upstream error budget seen on the latest response.
func (c *Client) RateLimits() *RateLimitState {
	return c.limits
}

func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.cfg.BaseURL + path
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*Response, error) {
	target := c.url(path)
	resource := ResourceKind(target)

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	retryCfg := retry.Config{
		MaxAttempts:  c.cfg.MaxAttempts,
		InitialDelay: c.cfg.RetryBaseDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			metrics.ESIRetriesTotal.WithLabelValues(method, resource).Inc()
			c.logger.Warn("ESI request failed, retrying",
				zap.String("method", method),
				zap.String("url", target),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		},
		Logger: c.logger,
	}

	last, attempts, err := retry.DoWithResult(ctx, retryCfg, func(attempt int) (*Response, error) {
		resp, err := c.cb.Execute(func() (*Response, error) {
			return c.send(ctx, method, target, resource, payload)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return resp, retry.Permanent(fmt.Errorf("%w: %v", ErrCircuitOpen, err))
			}
			return resp, err
		}

		if resp.OK() {
			return resp, nil
		}

		msg := errorMessage(resp.Body)
		if resp.Status == http.StatusNotFound && strings.Contains(strings.ToLower(msg), "deleted") {
			return resp, c.handleDeleted(ctx, target, resp)
		}
		return resp, &statusError{status: resp.Status, message: msg}
	})

	metrics.ESIRequestAttempts.WithLabelValues(method, resource).Observe(float64(attempts))

	if err != nil {
		metrics.ESIFailuresTotal.WithLabelValues(method, resource).Inc()
		status := 0
		if last != nil {
			status = last.Status
		}
		c.logger.Error("ESI request exhausted retries",
			zap.String("method", method),
			zap.String("url", target),
			zap.Int("attempts", attempts),
			zap.Int("status", status),
			zap.Error(err),
		)
		return nil, &RequestError{Method: method, URL: target, Status: status, Attempts: attempts, Err: err}
	}

	last.Attempts = attempts
	c.logger.Debug("ESI request completed",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", last.Status),
		zap.Int("attempts", attempts),
		zap.Bool("deleted", last.Deleted),
		zap.String("preview", previewBody(last.Body, c.cfg.PreviewBytes)),
	)
	return last, nil
}

func (c *Client) handleDeleted(ctx context.Context, target string, resp *Response) error {
	id, ok := pilotIDFromURL(target)
	if !ok {
		return retry.Permanent(&statusError{status: resp.Status, message: errorMessage(resp.Body)})
	}

	metrics.ESIDeletedTotal.Inc()
	c.logger.Info("Pilot reported deleted upstream", zap.Int64("pilot_id", id))

	if c.onDeleted != nil {
		if err := c.onDeleted(ctx, id, c.now()); err != nil {
			return retry.Permanent(fmt.Errorf("failed to soft delete pilot %d: %w", id, err))
		}
	}
	resp.Deleted = true
	return nil
}

type serverError struct {
	status int
}

func (e *serverError) Error() string {
	return "upstream server error " + strconv.Itoa(e.status)
}

type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func isTransportError(err error) bool {
	var te *transportError
	return errors.As(err, &te)
}

// send performs a single attempt. 5xx responses are returned together with a
// serverError so the breaker counts them; other statuses are left to the caller.
func (c *Client) send(ctx context.Context, method, target, resource string, payload []byte) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, retry.Permanent(fmt.Errorf("rate limiter wait: %w", err))
		}
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	metrics.ESIRequestDuration.WithLabelValues(method, resource).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ESIRequestsTotal.WithLabelValues(method, "error", resource).Inc()
		if ctx.Err() != nil {
			return nil, retry.Permanent(ctx.Err())
		}
		return nil, &transportError{err: err}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		metrics.ESIRequestsTotal.WithLabelValues(method, "error", resource).Inc()
		return nil, &transportError{err: fmt.Errorf("failed to read response: %w", err)}
	}

	metrics.ESIRequestsTotal.WithLabelValues(method, strconv.Itoa(httpResp.StatusCode), resource).Inc()
	c.limits.observe(httpResp.Header, c.now())

	resp := &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   data,
	}
	if resp.Status >= 500 {
		c.logger.Debug("ESI server error",
			zap.String("url", target),
			zap.Int("status", resp.Status),
			zap.String("preview", previewBody(data, c.cfg.PreviewBytes)),
		)
		return resp, &serverError{status: resp.Status}
	}
	return resp, nil
}

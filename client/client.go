// Package client wraps the source and destination HTTP APIs with a minimum
// inter-request delay and a fixed-delay retry loop.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-catalog-migrator/config"
	"golang.org/x/time/rate"
)

const maxErrorBody = 512

// Option customises a Client.
type Option func(*Client)

// WithTransport swaps the HTTP transport, used by tests with httpmock.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.http.Transport = rt
	}
}

// WithMetrics records request metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// body produces a fresh request body for every attempt.
type body func() (io.Reader, string, error)

// Client is a throttled, retrying HTTP client bound to one remote API.
type Client struct {
	name    string
	base    *url.URL
	cfg     config.ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	metrics *Metrics
	auth    func(*http.Request)

	requests int64
	retries  int64
}

func newClient(name string, cfg config.ClientConfig, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse %s base url: %w", name, err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("%s base url must include a host", name)
	}

	limit := rate.Inf
	if cfg.Delay > 0 {
		limit = rate.Every(cfg.Delay)
	}

	c := &Client{
		name: name,
		base: base,
		cfg:  cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   cfg.Timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		limiter: rate.NewLimiter(limit, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name returns the label used in logs and metrics.
func (c *Client) Name() string {
	return c.name
}

// Requests returns the number of attempts dispatched so far.
func (c *Client) Requests() int64 {
	return atomic.LoadInt64(&c.requests)
}

// Retries returns the number of retry attempts so far.
func (c *Client) Retries() int64 {
	return atomic.LoadInt64(&c.retries)
}

// do sends one logical request, retrying transient failures a fixed number
// of times with a fixed delay. The last error is returned once retries are
// exhausted.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload body) (*Response, error) {
	attempt := func() (*Response, error) {
		return c.send(ctx, method, path, query, payload)
	}

	var lastErr error
	for i := 0; i <= c.cfg.MaxRetries; i++ {
		if i > 0 {
			atomic.AddInt64(&c.retries, 1)
			c.metrics.IncRetries(c.name)
			slog.Warn("retrying request",
				slog.String("client", c.name),
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("attempt", i+1),
				slog.Any("error", lastErr),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.cfg.RetryDelay):
			}
		}

		resp, err := attempt()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, payload body) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	target := c.resolve(path, query)
	var reader io.Reader
	contentType := ""
	if payload != nil {
		r, ct, err := payload()
		if err != nil {
			return nil, fmt.Errorf("build %s body: %w", path, err)
		}
		reader, contentType = r, ct
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.auth != nil {
		c.auth(req)
	}

	atomic.AddInt64(&c.requests, 1)
	c.metrics.IncRequest(c.name, method)
	start := time.Now()

	res, err := c.http.Do(req)
	if err != nil {
		classified := classifyError(err, 0)
		c.metrics.IncError(c.name, errorTypeLabel(classified))
		slog.Warn("api request failed",
			slog.String("client", c.name),
			slog.String("method", method),
			slog.String("path", path),
			slog.Any("error", err),
		)
		return nil, classified
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	c.metrics.ObserveDuration(c.name, time.Since(start))
	if err != nil {
		classified := classifyError(err, 0)
		c.metrics.IncError(c.name, errorTypeLabel(classified))
		return nil, fmt.Errorf("read %s response: %w", path, classified)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		statusErr := &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: res.StatusCode,
			Body:       truncateBody(data),
		}
		classified := classifyError(statusErr, res.StatusCode)
		category := errorTypeLabel(classified)
		c.metrics.IncError(c.name, category)
		slog.Warn("api response",
			slog.String("client", c.name),
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", res.StatusCode),
			slog.String("category", category),
		)
		return nil, classified
	}

	slog.Debug("api response",
		slog.String("client", c.name),
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", res.StatusCode),
		slog.Int("items", countItems(data)),
		slog.Duration("elapsed", time.Since(start)),
	)

	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: data}, nil
}

func (c *Client) resolve(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimSuffix(c.base.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func jsonBody(v any) body {
	return func() (io.Reader, string, error) {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

// countItems reports how many records a response carried, for logging.
func countItems(data []byte) int {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return 0
	}
	if data[0] == '{' {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &env); err != nil || len(env.Data) == 0 {
			return 1
		}
		data = bytes.TrimSpace(env.Data)
		if len(data) == 0 || data[0] != '[' {
			return 1
		}
	}
	if data[0] != '[' {
		return 0
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return 0
	}
	return len(items)
}

func truncateBody(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}

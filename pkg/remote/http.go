package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ledger-sync/pkg/logging"
	"ledger-sync/pkg/metrics"

	"go.uber.org/zap"
)

// TokenSource returns the bearer token to attach to a request.
// An empty token sends no Authorization header.
type TokenSource func(ctx context.Context) (string, error)

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	// BaseURL is the service root, e.g. "https://api.example.com/api/"
	BaseURL string

	// Timeout bounds each request (default 15s)
	Timeout time.Duration

	// Token attaches authentication; nil sends none
	Token TokenSource

	// Client overrides the underlying *http.Client
	Client *http.Client

	Metrics metrics.MetricsCollector
	Logger  *logging.Logger
}

// HTTPClient is a Doer speaking JSON over HTTP.
type HTTPClient struct {
	base    *url.URL
	client  *http.Client
	token   TokenSource
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

// NewHTTPClient creates an HTTPClient for config.BaseURL.
func NewHTTPClient(config HTTPConfig) (*HTTPClient, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("remote: base URL required")
	}
	base, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("remote: invalid base URL: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}

	return &HTTPClient{
		base:    base,
		client:  client,
		token:   config.Token,
		metrics: config.Metrics,
		logger:  config.Logger.Or().Named("remote"),
	}, nil
}

// Do sends req and returns the raw JSON response body.
// Non-2xx responses become *APIError when the body is structured and
// *TransportError otherwise.
func (c *HTTPClient) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	start := time.Now()

	target := c.base.ResolveReference(&url.URL{Path: strings.TrimPrefix(req.Path, "/")})
	if len(req.Query) > 0 {
		target.RawQuery = req.Query.Encode()
	}

	body, err := c.do(ctx, req, target)

	duration := time.Since(start)
	c.metrics.RecordRemoteCall(req.Method, req.Label(), err == nil, duration)
	if err != nil {
		c.logger.Debug("remote call failed",
			zap.String("method", req.Method),
			zap.String("route", req.Label()),
			zap.String("error_type", Classify(err)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
	}
	return body, err
}

func (c *HTTPClient) do(ctx context.Context, req Request, target *url.URL) (json.RawMessage, error) {
	transportErr := func(status int, err error) error {
		return &TransportError{Method: req.Method, URL: target.String(), Status: status, Err: err}
	}

	var reader io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("remote: encode %s body: %w", req.Label(), err)
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), reader)
	if err != nil {
		return nil, transportErr(0, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if reader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return nil, transportErr(0, fmt.Errorf("token: %w", err))
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, transportErr(0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportErr(resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if apiErr := ParseErrorBody(resp.StatusCode, data); apiErr != nil {
			return nil, apiErr
		}
		return nil, transportErr(resp.StatusCode, fmt.Errorf("%s", http.StatusText(resp.StatusCode)))
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	return json.RawMessage(data), nil
}

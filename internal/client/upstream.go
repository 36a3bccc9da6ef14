// Package client provides the HTTP client used to fetch third-party pages
// and sub-resources.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clone-proxy-go/internal/config"
	"clone-proxy-go/internal/metrics"
	"clone-proxy-go/internal/model"
)

// ErrTooManyRedirects is returned when an upstream redirect chain exceeds
// upstream.max_redirects.
var ErrTooManyRedirects = errors.New("too many redirects")

// Upstream fetches arbitrary upstream URLs, following redirects.
type Upstream struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstream creates an Upstream with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstream(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Upstream {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	maxRedirects := cfg.Upstream.MaxRedirects
	return &Upstream{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return fmt.Errorf("after %d redirects: %w", maxRedirects, ErrTooManyRedirects)
				}
				return nil
			},
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Do executes req and returns the raw response. purpose labels the
// upstream metrics (metrics.PurposeClone or metrics.PurposeProxy).
// The caller is responsible for closing the response body.
func (c *Upstream) Do(req *http.Request, purpose string) (*model.ProxyResponse, error) {
	c.logger.Debug("upstream request",
		"purpose", purpose,
		"method", req.Method,
		"url", req.URL.Redacted(),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(purpose).Observe(duration)
	}
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(purpose, strconv.Itoa(resp.StatusCode)).Inc()
	}

	finalURL := req.URL.String()
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Status:     reasonPhrase(resp),
		URL:        finalURL,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// Get issues a GET for rawURL with the given headers. The context controls
// the lifetime of the upstream request: when it is canceled (e.g. the
// client disconnects), the upstream request is canceled too.
func (c *Upstream) Get(ctx context.Context, purpose, rawURL string, header http.Header) (*model.ProxyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	if header != nil {
		req.Header = header
	}
	return c.Do(req, purpose)
}

// reasonPhrase strips the status code from resp.Status ("404 Not Found"
// becomes "Not Found"), falling back to the standard text.
func reasonPhrase(resp *http.Response) string {
	s := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if s == "" {
		s = http.StatusText(resp.StatusCode)
	}
	return s
}

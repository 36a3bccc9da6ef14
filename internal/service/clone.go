// Package service implements the clone and proxy logic behind the HTTP handlers.
package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"

	"golang.org/x/net/html/charset"

	"clone-proxy-go/internal/clone"
	"clone-proxy-go/internal/config"
	"clone-proxy-go/internal/metrics"
	"clone-proxy-go/internal/model"
)

// cloneAccept is the Accept header a desktop browser sends for navigation.
const cloneAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"

// Fetcher retrieves upstream URLs. *client.Upstream implements it.
type Fetcher interface {
	Get(ctx context.Context, purpose, rawURL string, header http.Header) (*model.ProxyResponse, error)
}

// CookieLookup returns the Cookie header recorded for a URL's host.
// *cookies.Store implements it.
type CookieLookup interface {
	Lookup(rawURL string) string
}

// CloneService fetches a page and runs it through the clone pipeline.
type CloneService struct {
	fetcher  Fetcher
	cookies  CookieLookup
	pipeline *clone.Pipeline
	cfg      *config.Config
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewCloneService creates a CloneService. The metrics parameter is optional.
func NewCloneService(f Fetcher, cookies CookieLookup, p *clone.Pipeline, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *CloneService {
	return &CloneService{
		fetcher:  f,
		cookies:  cookies,
		pipeline: p,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With("component", "clone_service"),
	}
}

// Clone fetches targetURL and returns the transformed page. Non-2xx
// upstream responses yield *UpstreamStatusError; no partial page is ever
// returned.
func (s *CloneService) Clone(ctx context.Context, targetURL, apiBase string) (*model.ClonedPage, error) {
	if targetURL == "" {
		return nil, ErrMissingURL
	}
	u, err := url.Parse(targetURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, targetURL)
	}

	header := http.Header{}
	header.Set("User-Agent", s.cfg.Upstream.UserAgent)
	header.Set("Accept", cloneAccept)
	if cookie := s.cookies.Lookup(targetURL); cookie != "" {
		header.Set("Cookie", cookie)
	}

	s.logger.Info("cloning page", "url", u.Redacted())

	resp, err := s.fetcher.Get(ctx, metrics.PurposeClone, targetURL, header)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.Redacted(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Error("clone upstream error",
			"url", u.Redacted(),
			"status", resp.StatusCode,
		)
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &UpstreamStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	pageURL := resp.URL
	if pageURL == "" {
		pageURL = targetURL
	}

	page, err := s.pipeline.Transform(pageReader(resp.Body, resp.Header.Get("Content-Type")), clone.Input{
		SourceURL: targetURL,
		PageURL:   pageURL,
		APIBase:   apiBase,
	})
	if err != nil {
		return nil, fmt.Errorf("transform %s: %w", u.Redacted(), err)
	}

	s.metrics.ObserveRewrite(metrics.RewriteHTML)
	return page, nil
}

// metaCharsetPattern matches <meta charset> and the http-equiv Content-Type
// form, the declarations charset.DetermineEncoding reads from the preview.
var metaCharsetPattern = regexp.MustCompile(`(?i)<meta\s[^>]*charset`)

// pageReader decodes a page to UTF-8 when its encoding is declared by the
// Content-Type header, a BOM or a <meta> charset. Pages that declare
// nothing are read as UTF-8.
func pageReader(r io.Reader, contentType string) io.Reader {
	br := bufio.NewReader(r)
	preview, _ := br.Peek(1024)

	enc, name, certain := charset.DetermineEncoding(preview, contentType)
	if name == "utf-8" || (!certain && !metaCharsetPattern.Match(preview)) {
		return br
	}
	return enc.NewDecoder().Reader(br)
}

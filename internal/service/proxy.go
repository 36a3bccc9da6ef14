package service

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"clone-proxy-go/internal/config"
	"clone-proxy-go/internal/metrics"
	"clone-proxy-go/internal/model"
	"clone-proxy-go/internal/rewrite"
)

// hostPattern validates the host segment of a proxy path.
var hostPattern = regexp.MustCompile(`(?i)^[a-z0-9.-]+(:\d+)?$`)

// passthroughResponseHeaders are copied verbatim on the streaming branch
// when the upstream sends them.
var passthroughResponseHeaders = []string{
	"Accept-Ranges",
	"Content-Range",
	"Content-Length",
	"Last-Modified",
	"ETag",
}

// ParseProxyPath turns the segments after /proxy/ into a ProxyRequest.
// A leading "http" or "https" segment selects the protocol explicitly;
// otherwise defaultProtocol applies and the first segment is the host.
// The host is validated before anything else happens with the request.
func ParseProxyPath(segments []string, rawQuery, defaultProtocol string) (*model.ProxyRequest, error) {
	if len(segments) == 0 || (len(segments) == 1 && segments[0] == "") {
		return nil, ErrMissingTarget
	}

	protocol := defaultProtocol
	host := segments[0]
	rest := segments[1:]
	if first := segments[0]; first == "http" || first == "https" {
		if len(segments) < 2 || segments[1] == "" {
			return nil, ErrMissingHost
		}
		protocol = first
		host = segments[1]
		rest = segments[2:]
	}

	if !hostPattern.MatchString(host) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHost, host)
	}
	if protocol != "http" && protocol != "https" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProtocol, protocol)
	}

	return &model.ProxyRequest{
		Protocol:     protocol,
		Host:         host,
		PathSegments: rest,
		Query:        rawQuery,
	}, nil
}

// ProxyService fetches proxied sub-resources and re-applies the CSS and
// script rewriting to text assets.
type ProxyService struct {
	fetcher Fetcher
	encoder rewrite.Encoder
	cfg     *config.Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewProxyService creates a ProxyService. The metrics parameter is optional.
func NewProxyService(f Fetcher, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		fetcher: f,
		encoder: rewrite.Encoder{IncludeProtocol: cfg.Rewrite.ProtocolSegment()},
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("component", "proxy_service"),
	}
}

// DefaultProtocol is the protocol used for proxy paths without one.
func (s *ProxyService) DefaultProtocol() string {
	return s.cfg.Proxy.DefaultProtocol
}

// assetKind classifies a proxied resource by content type or path suffix.
func assetKind(contentType, path string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "javascript") || strings.HasSuffix(path, ".js"):
		return metrics.RewriteJS
	case strings.Contains(ct, "text/css") || strings.HasSuffix(path, ".css"):
		return metrics.RewriteCSS
	default:
		return metrics.RewritePassthrough
	}
}

// Forward fetches the upstream resource for pr. JavaScript and CSS are read
// fully and rewritten (Rewritten is set and Text holds the result); anything
// else is returned with its body open for streaming, which the caller must
// close. Header carries the full response header set, CORS included.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	target := pr.TargetURL()
	path := pr.Path()

	header := http.Header{}
	header.Set("User-Agent", s.cfg.Upstream.UserAgent)
	// Ranges only make sense for bodies that are streamed untouched.
	if rng := pr.Header.Get("Range"); rng != "" && assetKind("", path) == metrics.RewritePassthrough {
		header.Set("Range", rng)
	}

	s.logger.Debug("forwarding request", "target", target)

	resp, err := s.fetcher.Get(pr.Ctx, metrics.PurposeProxy, target, header)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	ct := resp.Header.Get("Content-Type")
	kind := assetKind(ct, path)

	// An extensionless script or stylesheet may answer the Range with a
	// partial body, which cannot be rewritten. Fetch it again in full.
	if kind != metrics.RewritePassthrough && resp.StatusCode == http.StatusPartialContent {
		_ = resp.Body.Close()
		header.Del("Range")
		resp, err = s.fetcher.Get(pr.Ctx, metrics.PurposeProxy, target, header)
		if err != nil {
			return nil, fmt.Errorf("refetch %s without range: %w", target, err)
		}
		if v := resp.Header.Get("Content-Type"); v != "" {
			ct = v
		}
	}

	out := s.CORSHeaders(pr.Header, false)

	if kind == metrics.RewritePassthrough {
		if ct != "" {
			out.Set("Content-Type", ct)
		}
		out.Set("Cache-Control", cacheControl(resp.Header, s.cfg.Proxy.PassthroughCacheControl))
		for _, key := range passthroughResponseHeaders {
			if v := resp.Header.Get(key); v != "" {
				out.Set(key, v)
			}
		}
		s.metrics.ObserveRewrite(kind)
		return &model.ProxyResponse{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			URL:        resp.URL,
			Header:     out,
			Body:       resp.Body,
		}, nil
	}

	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	text := string(data)
	if kind == metrics.RewriteJS {
		text = s.rewriteScript(text, pr, target)
		if ct == "" {
			ct = "application/javascript"
		}
	} else {
		text = s.encoder.RewriteCSS(text, target, pr.APIBase)
		if ct == "" {
			ct = "text/css"
		}
	}

	out.Set("Content-Type", ct)
	out.Set("Cache-Control", cacheControl(resp.Header, s.cfg.Proxy.TextCacheControl))
	s.metrics.ObserveRewrite(kind)

	s.logger.Debug("rewrote proxied asset", "target", target, "kind", kind, "bytes", len(text))

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		URL:        resp.URL,
		Header:     out,
		Text:       text,
		Rewritten:  true,
	}, nil
}

// rewriteScript fixes root-relative url: literals, rewrites src-like
// assignments against the script's own URL and appends the execution signal.
func (s *ProxyService) rewriteScript(code string, pr *model.ProxyRequest, target string) string {
	code = rewrite.RewriteURLLiterals(code, pr.APIBase, pr.Host)
	code = s.encoder.RewriteInlineScript(code, model.RewriteContext{
		ClonedBase: target,
		APIBase:    pr.APIBase,
		TargetURL:  target,
	})
	return rewrite.InjectSignal(code, target)
}

// CORSHeaders returns the CORS header set for a proxy response. With
// preflight set, Access-Control-Max-Age is included.
func (s *ProxyService) CORSHeaders(reqHeader http.Header, preflight bool) http.Header {
	h := http.Header{}

	origin := reqHeader.Get("Origin")
	if s.cfg.Proxy.CORSMode == "echo" && origin != "" {
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Add("Vary", "Origin")
	} else {
		h.Set("Access-Control-Allow-Origin", "*")
	}

	h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	h.Set("Access-Control-Allow-Headers", allowHeaders(reqHeader.Get("Access-Control-Request-Headers")))
	h.Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")

	if preflight {
		h.Set("Access-Control-Max-Age", strconv.Itoa(s.cfg.Proxy.PreflightMaxAge))
	}
	return h
}

// allowHeaders always allows Range and echoes whatever else the browser
// asked for.
func allowHeaders(requested string) string {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return "Range"
	}
	for _, h := range strings.Split(requested, ",") {
		if strings.EqualFold(strings.TrimSpace(h), "range") {
			return requested
		}
	}
	return "Range, " + requested
}

func cacheControl(upstream http.Header, fallback string) string {
	if v := upstream.Get("Cache-Control"); v != "" {
		return v
	}
	return fallback
}

package handler

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	"clone-proxy-go/internal/client"
	"clone-proxy-go/internal/config"
)

// requestAPIBase returns the public origin that rewritten URLs point back
// to: server.public_base_url when set, otherwise the forwarded protocol and
// the Host header of the incoming request.
func requestAPIBase(cfg *config.Config, req *http.Request, defaultProto string) string {
	if cfg.Server.PublicBaseURL != "" {
		return cfg.Server.PublicBaseURL
	}

	proto := req.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		proto = req.Header.Get("X-Forwarded-Protocol")
	}
	if i := strings.IndexByte(proto, ','); i >= 0 {
		proto = proto[:i]
	}
	proto = strings.ToLower(strings.TrimSpace(proto))
	if proto != "http" && proto != "https" {
		proto = defaultProto
	}
	return proto + "://" + req.Host
}

// upstreamFailure maps a failed upstream fetch to a status and a client-safe message.
func upstreamFailure(err error) (int, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "upstream request timed out"
	}

	if errors.Is(err, context.Canceled) {
		return http.StatusBadGateway, "client disconnected"
	}

	if errors.Is(err, client.ErrTooManyRedirects) {
		return http.StatusBadGateway, "too many upstream redirects"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return http.StatusBadGateway, "upstream host unreachable"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return http.StatusGatewayTimeout, "upstream request timed out"
		}
		return http.StatusBadGateway, "upstream connection failed"
	}

	return http.StatusBadGateway, "upstream request failed"
}

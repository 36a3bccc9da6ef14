// Package model defines shared types for the clone service and the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"strings"
)

// ProxyRequest is a parsed /proxy/{protocol?}/{host}/{path...} request.
type ProxyRequest struct {
	Ctx          context.Context
	Protocol     string
	Host         string
	PathSegments []string
	Query        string // raw query string without the leading '?'
	Header       http.Header
	APIBase      string
}

// Path returns the upstream path rebuilt from the path segments.
func (r *ProxyRequest) Path() string {
	return "/" + strings.Join(r.PathSegments, "/")
}

// TargetURL returns the absolute upstream URL for the request.
func (r *ProxyRequest) TargetURL() string {
	u := r.Protocol + "://" + r.Host + r.Path()
	if r.Query != "" {
		u += "?" + r.Query
	}
	return u
}

// ProxyResponse represents the upstream response to be returned to the client.
// Exactly one of Body and Text is meaningful: Rewritten reports which.
type ProxyResponse struct {
	StatusCode int
	Status     string // reason phrase only, e.g. "Not Found"
	URL        string // final URL after redirects
	Header     http.Header
	Body       io.ReadCloser
	Text       string
	Rewritten  bool
}

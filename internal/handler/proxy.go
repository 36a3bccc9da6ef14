package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"clone-proxy-go/internal/config"
	"clone-proxy-go/internal/service"
)

// ProxyHandler serves /proxy/{protocol?}/{host}/{path...} for sub-resources
// of cloned pages.
type ProxyHandler struct {
	service *service.ProxyService
	cfg     *config.Config
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		cfg:     cfg,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle answers preflights, rejects anything but GET and forwards the rest.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	switch req.Method {
	case http.MethodOptions:
		copyHeader(c.Response().Header(), h.service.CORSHeaders(req.Header, true))
		return c.NoContent(http.StatusNoContent)
	case http.MethodGet:
	default:
		c.Response().Header().Set("Allow", "GET, OPTIONS")
		return c.JSON(http.StatusMethodNotAllowed, map[string]string{
			"error": "Method not allowed",
		})
	}

	pr, err := service.ParseProxyPath(proxySegments(req), req.URL.RawQuery, h.service.DefaultProtocol())
	if err != nil {
		return h.mapError(c, err)
	}
	pr.Ctx = req.Context()
	pr.Header = req.Header
	pr.APIBase = requestAPIBase(h.cfg, req, "https")

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}

	copyHeader(c.Response().Header(), resp.Header)

	if resp.Rewritten {
		c.Response().WriteHeader(resp.StatusCode)
		_, err := io.WriteString(c.Response(), resp.Text)
		if err != nil {
			h.logger.Error("writing rewritten body", "err", err, "path", req.URL.Path)
		}
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	c.Response().WriteHeader(resp.StatusCode)

	// Once the status is sent a failed copy can only truncate the response.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

// proxySegments splits the escaped path after /proxy/ so that encoded
// characters reach the upstream untouched.
func proxySegments(req *http.Request) []string {
	rest := strings.TrimPrefix(req.URL.EscapedPath(), "/proxy")
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	req := c.Request()
	copyHeader(c.Response().Header(), h.service.CORSHeaders(req.Header, false))

	switch {
	case errors.Is(err, service.ErrMissingTarget):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Missing target"})
	case errors.Is(err, service.ErrMissingHost):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Missing host"})
	case errors.Is(err, service.ErrInvalidHost):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid host"})
	case errors.Is(err, service.ErrInvalidProtocol):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid protocol"})
	}

	h.logger.Error("proxy error",
		"err", err,
		"path", req.URL.Path,
	)
	status, msg := upstreamFailure(err)
	return c.JSON(status, map[string]string{
		"error": msg,
	})
}

func copyHeader(dst, src http.Header) {
	for key, vals := range src {
		for _, v := range vals {
			dst.Add(key, v)
		}
	}
}

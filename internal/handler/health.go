package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"clone-proxy-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// statusResponse reports the build and the active rewrite variant.
type statusResponse struct {
	Status                 string `json:"status"`
	Version                string `json:"version"`
	IncludeProtocolSegment bool   `json:"include_protocol_segment"`
	HeadAssetStrategy      string `json:"head_asset_strategy"`
	ScriptPolicy           string `json:"script_policy"`
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns service status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Status:                 "ok",
		Version:                string(h.version),
		IncludeProtocolSegment: h.cfg.Rewrite.ProtocolSegment(),
		HeadAssetStrategy:      h.cfg.Rewrite.HeadAssetStrategy,
		ScriptPolicy:           h.cfg.Rewrite.ScriptPolicy,
	})
}

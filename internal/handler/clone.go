package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"clone-proxy-go/internal/config"
	"clone-proxy-go/internal/model"
	"clone-proxy-go/internal/service"
)

// cloneResponse is the JSON body of a successful /clone request. Scripts is
// omitted when scripts stay in the body; Styles is only sent when head
// assets are returned out of band.
type cloneResponse struct {
	Title   string                    `json:"title"`
	Favicon string                    `json:"favicon"`
	Body    string                    `json:"body"`
	Scripts *[]model.ScriptDescriptor `json:"scripts,omitempty"`
	Styles  *[]string                 `json:"styles,omitempty"`
}

// CloneHandler serves GET /clone.
type CloneHandler struct {
	service *service.CloneService
	cfg     *config.Config
	logger  *slog.Logger
}

// NewCloneHandler creates a CloneHandler.
func NewCloneHandler(svc *service.CloneService, cfg *config.Config, logger *slog.Logger) *CloneHandler {
	return &CloneHandler{
		service: svc,
		cfg:     cfg,
		logger:  logger.With("component", "clone_handler"),
	}
}

// Handle clones the page named by the url query parameter.
func (h *CloneHandler) Handle(c echo.Context) error {
	req := c.Request()
	target := c.QueryParam("url")

	page, err := h.service.Clone(req.Context(), target, requestAPIBase(h.cfg, req, "http"))
	if err != nil {
		return h.mapError(c, target, err)
	}

	return c.JSON(http.StatusOK, h.response(page))
}

func (h *CloneHandler) response(page *model.ClonedPage) cloneResponse {
	resp := cloneResponse{
		Title:   page.Title,
		Favicon: page.Favicon,
		Body:    page.Body,
	}

	if h.cfg.Rewrite.ScriptPolicy != "inline" {
		scripts := page.Scripts
		if scripts == nil {
			scripts = []model.ScriptDescriptor{}
		}
		resp.Scripts = &scripts
	}

	if h.cfg.Rewrite.HeadAssetStrategy == "separate-list" {
		styles := page.Styles
		if styles == nil {
			styles = []string{}
		}
		resp.Styles = &styles
	}
	return resp
}

func (h *CloneHandler) mapError(c echo.Context, target string, err error) error {
	switch {
	case errors.Is(err, service.ErrMissingURL):
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Missing URL parameter",
		})
	case errors.Is(err, service.ErrInvalidURL):
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "URL must be an absolute http or https URL",
		})
	}

	var statusErr *service.UpstreamStatusError
	if errors.As(err, &statusErr) {
		return c.JSON(statusErr.StatusCode, map[string]string{
			"error": statusErr.Status,
		})
	}

	h.logger.Error("clone error",
		"err", err,
		"url", target,
	)
	status, msg := upstreamFailure(err)
	return c.JSON(status, map[string]string{
		"error": msg,
	})
}

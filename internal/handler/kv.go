package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"clone-proxy-go/internal/service"
)

// kvSetRequest is the POST /kv body. Value is required; any JSON value is
// accepted, including null.
type kvSetRequest struct {
	Value json.RawMessage `json:"value"`
	TTL   float64         `json:"ttl"`
}

type kvGetResponse struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type kvSetResponse struct {
	Success bool    `json:"success"`
	Key     string  `json:"key"`
	Message string  `json:"message"`
	TTL     float64 `json:"ttl,omitempty"`
}

// KVHandler serves the small key-value endpoint used by annotation clients.
type KVHandler struct {
	service *service.KVService
	logger  *slog.Logger
}

// NewKVHandler creates a KVHandler.
func NewKVHandler(svc *service.KVService, logger *slog.Logger) *KVHandler {
	return &KVHandler{
		service: svc,
		logger:  logger.With("component", "kv_handler"),
	}
}

func setKVCORS(c echo.Context) {
	h := c.Response().Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}

// Preflight answers OPTIONS /kv.
func (h *KVHandler) Preflight(c echo.Context) error {
	setKVCORS(c)
	return c.NoContent(http.StatusNoContent)
}

// Get handles GET /kv?key=.
func (h *KVHandler) Get(c echo.Context) error {
	setKVCORS(c)
	key := c.QueryParam("key")

	value, err := h.service.Get(c.Request().Context(), key)
	if err != nil {
		return h.mapError(c, key, err, "Failed to get value from KV")
	}

	return c.JSON(http.StatusOK, kvGetResponse{Key: key, Value: value})
}

// Set handles POST /kv?key= with a {"value": ..., "ttl": seconds} body.
func (h *KVHandler) Set(c echo.Context) error {
	setKVCORS(c)
	key := c.QueryParam("key")
	if key == "" {
		return h.mapError(c, key, service.ErrMissingKey, "")
	}

	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
	}
	var body kvSetRequest
	if err := json.Unmarshal(data, &body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
	}

	ttl := int64(0)
	if body.TTL > 0 {
		ttl = int64(body.TTL)
	}

	if err := h.service.Set(c.Request().Context(), key, body.Value, ttl); err != nil {
		return h.mapError(c, key, err, "Failed to set value in KV")
	}

	return c.JSON(http.StatusOK, kvSetResponse{
		Success: true,
		Key:     key,
		Message: "Value stored successfully",
		TTL:     body.TTL,
	})
}

func (h *KVHandler) mapError(c echo.Context, key string, err error, failure string) error {
	switch {
	case errors.Is(err, service.ErrMissingKey):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Missing key parameter"})
	case errors.Is(err, service.ErrMissingValue):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Missing value in body"})
	case errors.Is(err, service.ErrKVDisabled):
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "KV store not configured"})
	case errors.Is(err, service.ErrKeyNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Key not found"})
	}

	h.logger.Error("kv error", "err", err, "key", key)
	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error":   failure,
		"details": err.Error(),
	})
}

package service

import (
	"errors"
	"fmt"
)

// Request validation errors.
var (
	ErrMissingURL      = errors.New("missing url parameter")
	ErrInvalidURL      = errors.New("url must be an absolute http(s) URL")
	ErrMissingTarget   = errors.New("missing proxy target")
	ErrMissingHost     = errors.New("missing proxy host")
	ErrInvalidHost     = errors.New("invalid proxy host")
	ErrInvalidProtocol = errors.New("invalid proxy protocol")
)

// KV errors.
var (
	ErrMissingKey   = errors.New("missing key parameter")
	ErrMissingValue = errors.New("missing value in body")
	ErrKVDisabled   = errors.New("kv store not configured")
	ErrKeyNotFound  = errors.New("key not found")
)

// UpstreamStatusError reports a non-2xx response from the page being cloned.
type UpstreamStatusError struct {
	StatusCode int
	Status     string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned %d %s", e.StatusCode, e.Status)
}

package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"clone-proxy-go/internal/client"
	"clone-proxy-go/internal/clone"
	"clone-proxy-go/internal/config"
	"clone-proxy-go/internal/cookies"
	"clone-proxy-go/internal/rewrite"
	"clone-proxy-go/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns a config with the defaults Load would apply.
func testConfig() *config.Config {
	on := true
	return &config.Config{
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  10,
			IdleConnections: 10,
			UserAgent:       config.DefaultUserAgent,
			MaxRedirects:    10,
		},
		Rewrite: config.RewriteConfig{
			IncludeProtocolSegment: &on,
			HeadAssetStrategy:      "inline-prepend",
			ScriptPolicy:           "extract",
			WrapperClass:           "cloned-content",
			DefaultTitle:           "Annotation Page",
			SkipFontHosts:          []string{"fonts.googleapis.com", "fonts.gstatic.com"},
		},
		Proxy: config.ProxyConfig{
			DefaultProtocol:         "https",
			CORSMode:                "wildcard",
			PassthroughCacheControl: "public, max-age=31536000, immutable",
			TextCacheControl:        "public, max-age=3600",
			PreflightMaxAge:         600,
		},
		Metrics: config.MetricsConfig{Path: "/metrics"},
	}
}

func newTestCloneHandler(cfg *config.Config) *CloneHandler {
	logger := discardLogger()
	pipeline := clone.NewPipeline(clone.Options{
		Encoder:       rewrite.Encoder{IncludeProtocol: cfg.Rewrite.ProtocolSegment()},
		HeadAssets:    clone.HeadAssetStrategy(cfg.Rewrite.HeadAssetStrategy),
		Scripts:       clone.ScriptPolicy(cfg.Rewrite.ScriptPolicy),
		WrapperClass:  cfg.Rewrite.WrapperClass,
		DefaultTitle:  cfg.Rewrite.DefaultTitle,
		SkipFontHosts: cfg.Rewrite.SkipFontHosts,
	}, logger)
	svc := service.NewCloneService(client.NewUpstream(cfg, logger, nil), cookies.New(nil, logger), pipeline, cfg, nil, logger)
	return NewCloneHandler(svc, cfg, logger)
}

func newTestProxyHandler(cfg *config.Config) *ProxyHandler {
	logger := discardLogger()
	svc := service.NewProxyService(client.NewUpstream(cfg, logger, nil), cfg, nil, logger)
	return NewProxyHandler(svc, cfg, logger)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal %q: %v", rec.Body.String(), err)
	}
	return body
}

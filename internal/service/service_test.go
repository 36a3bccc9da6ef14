package service

import (
	"io"
	"log/slog"

	"clone-proxy-go/internal/client"
	"clone-proxy-go/internal/clone"
	"clone-proxy-go/internal/config"
	"clone-proxy-go/internal/metrics"
	"clone-proxy-go/internal/rewrite"
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
	}
}

func newTestUpstream(cfg *config.Config, m *metrics.Metrics) *client.Upstream {
	return client.NewUpstream(cfg, discardLogger(), m)
}

func newTestPipeline(cfg *config.Config) *clone.Pipeline {
	return clone.NewPipeline(clone.Options{
		Encoder:       rewrite.Encoder{IncludeProtocol: cfg.Rewrite.ProtocolSegment()},
		HeadAssets:    clone.HeadAssetStrategy(cfg.Rewrite.HeadAssetStrategy),
		Scripts:       clone.ScriptPolicy(cfg.Rewrite.ScriptPolicy),
		WrapperClass:  cfg.Rewrite.WrapperClass,
		DefaultTitle:  cfg.Rewrite.DefaultTitle,
		SkipFontHosts: cfg.Rewrite.SkipFontHosts,
	}, discardLogger())
}

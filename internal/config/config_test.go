package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a fresh temp dir.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880
public_base_url = "https://clone.example.org/"

[upstream]
timeout_seconds = 60
idle_connections = 50
user_agent = "test-agent"

[rewrite]
include_protocol_segment = false
head_asset_strategy = "separate-list"
script_policy = "split"
proxy_images = true

[proxy]
default_protocol = "http"
cors_mode = "echo"

[cookies]
file = "/etc/clone-proxy/cookies.json"

[kv]
enabled = true
addr = "redis:6379"
db = 2
key_prefix = "annot:"

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Server.PublicBaseURL != "https://clone.example.org" {
		t.Errorf("Server.PublicBaseURL = %q, want trailing slash stripped", cfg.Server.PublicBaseURL)
	}
	if cfg.Upstream.TimeoutSeconds != 60 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 60)
	}
	if cfg.Upstream.UserAgent != "test-agent" {
		t.Errorf("Upstream.UserAgent = %q, want %q", cfg.Upstream.UserAgent, "test-agent")
	}
	if cfg.Rewrite.ProtocolSegment() {
		t.Error("Rewrite.ProtocolSegment() = true, want false (explicit)")
	}
	if cfg.Rewrite.HeadAssetStrategy != "separate-list" {
		t.Errorf("Rewrite.HeadAssetStrategy = %q, want %q", cfg.Rewrite.HeadAssetStrategy, "separate-list")
	}
	if cfg.Rewrite.ScriptPolicy != "split" {
		t.Errorf("Rewrite.ScriptPolicy = %q, want %q", cfg.Rewrite.ScriptPolicy, "split")
	}
	if !cfg.Rewrite.ProxyImages {
		t.Error("Rewrite.ProxyImages = false, want true")
	}
	if cfg.Proxy.DefaultProtocol != "http" {
		t.Errorf("Proxy.DefaultProtocol = %q, want %q", cfg.Proxy.DefaultProtocol, "http")
	}
	if cfg.Proxy.CORSMode != "echo" {
		t.Errorf("Proxy.CORSMode = %q, want %q", cfg.Proxy.CORSMode, "echo")
	}
	if cfg.Cookies.File != "/etc/clone-proxy/cookies.json" {
		t.Errorf("Cookies.File = %q", cfg.Cookies.File)
	}
	if !cfg.KV.Enabled || cfg.KV.Addr != "redis:6379" || cfg.KV.DB != 2 || cfg.KV.KeyPrefix != "annot:" {
		t.Errorf("KV = %+v", cfg.KV)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(cliWithPath(writeConfig(t, "")))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 8000)
	}
	if cfg.Server.BodyMaxBytes != 1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 1024*1024)
	}
	if cfg.Upstream.UserAgent != DefaultUserAgent {
		t.Errorf("default Upstream.UserAgent = %q", cfg.Upstream.UserAgent)
	}
	if cfg.Upstream.MaxRedirects != 10 {
		t.Errorf("default Upstream.MaxRedirects = %d, want 10", cfg.Upstream.MaxRedirects)
	}
	if !cfg.Rewrite.ProtocolSegment() {
		t.Error("default Rewrite.ProtocolSegment() = false, want true")
	}
	if cfg.Rewrite.HeadAssetStrategy != "inline-prepend" {
		t.Errorf("default Rewrite.HeadAssetStrategy = %q", cfg.Rewrite.HeadAssetStrategy)
	}
	if cfg.Rewrite.ScriptPolicy != "extract" {
		t.Errorf("default Rewrite.ScriptPolicy = %q", cfg.Rewrite.ScriptPolicy)
	}
	if cfg.Rewrite.WrapperClass != "cloned-content" {
		t.Errorf("default Rewrite.WrapperClass = %q", cfg.Rewrite.WrapperClass)
	}
	if cfg.Rewrite.DefaultTitle != "Annotation Page" {
		t.Errorf("default Rewrite.DefaultTitle = %q", cfg.Rewrite.DefaultTitle)
	}
	if len(cfg.Rewrite.SkipFontHosts) != 2 {
		t.Errorf("default Rewrite.SkipFontHosts = %v", cfg.Rewrite.SkipFontHosts)
	}
	if cfg.Proxy.DefaultProtocol != "https" {
		t.Errorf("default Proxy.DefaultProtocol = %q", cfg.Proxy.DefaultProtocol)
	}
	if cfg.Proxy.CORSMode != "wildcard" {
		t.Errorf("default Proxy.CORSMode = %q", cfg.Proxy.CORSMode)
	}
	if cfg.Proxy.PassthroughCacheControl != "public, max-age=31536000, immutable" {
		t.Errorf("default Proxy.PassthroughCacheControl = %q", cfg.Proxy.PassthroughCacheControl)
	}
	if cfg.Proxy.TextCacheControl != "public, max-age=3600" {
		t.Errorf("default Proxy.TextCacheControl = %q", cfg.Proxy.TextCacheControl)
	}
	if cfg.Proxy.PreflightMaxAge != 600 {
		t.Errorf("default Proxy.PreflightMaxAge = %d, want 600", cfg.Proxy.PreflightMaxAge)
	}
	if cfg.KV.Enabled {
		t.Error("default KV.Enabled = true, want false")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
}

func TestLoad_NoConfigFileUsesDefaults(t *testing.T) {
	// Run from an empty directory so configs/config.toml is not found.
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd() error = %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir() error = %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	if _, err := os.Stat(configSearchPaths[0]); err == nil {
		t.Skip("system config present")
	}

	cfg, err := Load(&CLI{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.filePath != "" {
		t.Errorf("filePath = %q, want empty", cfg.filePath)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing explicit file, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[cookies]
file = "toml.json"

[log]
level = "info"
`)

	cli := &CLI{
		Config:    path,
		Host:      "127.0.0.1",
		Port:      3000,
		LogLevel:  "debug",
		Cookies:   "cli.json",
		RedisAddr: "10.0.0.1:6379",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
	if cfg.Cookies.File != "cli.json" {
		t.Errorf("Cookies.File = %q, want %q (CLI override)", cfg.Cookies.File, "cli.json")
	}
	if !cfg.KV.Enabled || cfg.KV.Addr != "10.0.0.1:6379" {
		t.Errorf("KV = %+v, want enabled at CLI address", cfg.KV)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		mention string
	}{
		{"log level", "[log]\nlevel = \"verbose\"\n", "log.level"},
		{"log format", "[log]\nformat = \"xml\"\n", "log.format"},
		{"negative port", "[server]\nport = -1\n", "server.port"},
		{"negative body", "[server]\nbody_max_bytes = -1\n", "body_max_bytes"},
		{"relative public base", "[server]\npublic_base_url = \"/app\"\n", "public_base_url"},
		{"ftp public base", "[server]\npublic_base_url = \"ftp://x.org\"\n", "public_base_url"},
		{"negative timeout", "[upstream]\ntimeout_seconds = -5\n", "timeout_seconds"},
		{"negative redirects", "[upstream]\nmax_redirects = -1\n", "max_redirects"},
		{"head strategy", "[rewrite]\nhead_asset_strategy = \"append\"\n", "head_asset_strategy"},
		{"script policy", "[rewrite]\nscript_policy = \"drop\"\n", "script_policy"},
		{"wrapper class", "[rewrite]\nwrapper_class = \".cloned\"\n", "wrapper_class"},
		{"default protocol", "[proxy]\ndefault_protocol = \"ftp\"\n", "default_protocol"},
		{"cors mode", "[proxy]\ncors_mode = \"none\"\n", "cors_mode"},
		{"negative max age", "[proxy]\npreflight_max_age = -1\n", "preflight_max_age"},
		{"negative kv db", "[kv]\ndb = -1\n", "kv.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.mention) {
				t.Errorf("error = %q, want mention of %s", err, tt.mention)
			}
		})
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, `
[server.rate_limit]
enabled = true
requests_per_second = 50.0
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled = true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50.0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 50.0", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestLoad_RateLimitConfig_BadValue(t *testing.T) {
	path := writeConfig(t, `
[server.rate_limit]
enabled = true
requests_per_second = 0
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for rate limit enabled with requests_per_second=0, got nil")
	}
	if !strings.Contains(err.Error(), "requests_per_second") {
		t.Errorf("error = %q, want mention of requests_per_second", err)
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeConfig(t, "# test")

	cfg := &Config{filePath: path, KV: KVConfig{Password: "secret"}}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_NoSecret(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeConfig(t, "# test")

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning without kv.password, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path, KV: KVConfig{Password: "secret"}}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths_Found(t *testing.T) {
	path := writeConfig(t, "[server]\nport = 8001\n")

	got := findConfigInPaths([]string{path})
	if got != path {
		t.Errorf("findConfigInPaths() = %q, want %q", got, path)
	}
}

func TestFindConfigInPaths_NotFound(t *testing.T) {
	got := findConfigInPaths([]string{"/nonexistent/a.toml", "/nonexistent/b.toml"})
	if got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	path1 := writeConfig(t, "")
	path2 := writeConfig(t, "")

	got := findConfigInPaths([]string{path1, path2})
	if got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
}

func TestLoad_MetricsPathDefault(t *testing.T) {
	cfg, err := Load(cliWithPath(writeConfig(t, "[metrics]\nenabled = true\n")))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_MetricsPathNoLeadingSlash(t *testing.T) {
	_, err := Load(cliWithPath(writeConfig(t, "[metrics]\nenabled = true\npath = \"metrics\"\n")))
	if err == nil {
		t.Fatal("Load() expected error for metrics.path without leading slash, got nil")
	}
	if !strings.Contains(err.Error(), "metrics.path") {
		t.Errorf("error = %q, want mention of metrics.path", err)
	}
}

func TestLoad_MetricsPathConflictsWithRoute(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"clone exact", "/clone"},
		{"proxy sub", "/proxy/metrics"},
		{"kv", "/kv"},
		{"healthz", "/healthz"},
		{"status", "/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := "[metrics]\nenabled = true\npath = \"" + tt.path + "\"\n"
			_, err := Load(cliWithPath(writeConfig(t, data)))
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path=%q conflicting with route, got nil", tt.path)
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	_, err := Load(cliWithPath(writeConfig(t, "[metrics]\nenabled = false\npath = \"bad-no-slash\"\n")))
	if err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}

// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/clone-proxy/config.toml",
	"configs/config.toml",
}

// DefaultUserAgent is sent on clone fetches unless upstream.user_agent is set.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config    string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host      string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port      int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel  string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	Cookies   string `kong:"help='Path to the host cookie table (overrides config).',env='COOKIES_PATH'"`
	RedisAddr string `kong:"help='Redis address for /kv; enables the KV endpoint (overrides config).',env='REDIS_ADDR'"`

	Version kong.VersionFlag `kong:"help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Rewrite  RewriteConfig  `toml:"rewrite"`
	Proxy    ProxyConfig    `toml:"proxy"`
	Cookies  CookiesConfig  `toml:"cookies"`
	KV       KVConfig       `toml:"kv"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`

	// PublicBaseURL, when set, is used as the proxy base in rewritten URLs
	// instead of the one derived from the request's Host and X-Forwarded-Proto.
	PublicBaseURL string `toml:"public_base_url"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
	UserAgent       string `toml:"user_agent"`
	MaxRedirects    int    `toml:"max_redirects"`
}

// RewriteConfig controls how cloned pages are rewritten.
type RewriteConfig struct {
	// IncludeProtocolSegment is a pointer so that an explicit false can be
	// told apart from an omitted key. setDefaults makes it non-nil.
	IncludeProtocolSegment *bool    `toml:"include_protocol_segment"`
	HeadAssetStrategy      string   `toml:"head_asset_strategy"`
	ScriptPolicy           string   `toml:"script_policy"`
	WrapperClass           string   `toml:"wrapper_class"`
	DefaultTitle           string   `toml:"default_title"`
	ProxyImages            bool     `toml:"proxy_images"`
	SkipFontHosts          []string `toml:"skip_font_hosts"`
}

// ProtocolSegment reports whether proxy URLs carry an explicit protocol segment.
func (r *RewriteConfig) ProtocolSegment() bool {
	return r.IncludeProtocolSegment == nil || *r.IncludeProtocolSegment
}

// ProxyConfig holds reverse proxy response settings.
type ProxyConfig struct {
	DefaultProtocol         string `toml:"default_protocol"`
	CORSMode                string `toml:"cors_mode"`
	PassthroughCacheControl string `toml:"passthrough_cache_control"`
	TextCacheControl        string `toml:"text_cache_control"`
	PreflightMaxAge         int    `toml:"preflight_max_age"`
}

// CookiesConfig points at the static host cookie table.
type CookiesConfig struct {
	File string `toml:"file"`
}

// KVConfig holds the Redis settings behind /kv.
type KVConfig struct {
	Enabled   bool   `toml:"enabled"`
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/clone-proxy/config.toml then configs/config.toml. Finding no file is
// not an error: every setting has a default.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.Cookies != "" {
		c.Cookies.File = cli.Cookies
	}
	if cli.RedisAddr != "" {
		c.KV.Addr = cli.RedisAddr
		c.KV.Enabled = true
	}
}

func (c *Config) validate() error {
	if c.Server.PublicBaseURL != "" {
		u, err := url.Parse(c.Server.PublicBaseURL)
		if err != nil {
			return fmt.Errorf("server.public_base_url is not a valid URL: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("server.public_base_url must be an absolute http(s) URL; got %q", c.Server.PublicBaseURL)
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0-65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Upstream.MaxRedirects < 0 {
		return fmt.Errorf("upstream.max_redirects must be non-negative; got %d", c.Upstream.MaxRedirects)
	}
	if c.Proxy.PreflightMaxAge < 0 {
		return fmt.Errorf("proxy.preflight_max_age must be non-negative; got %d", c.Proxy.PreflightMaxAge)
	}
	if c.KV.DB < 0 {
		return fmt.Errorf("kv.db must be non-negative; got %d", c.KV.DB)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Enumerations.
	if err := oneOf("rewrite.head_asset_strategy", c.Rewrite.HeadAssetStrategy, "inline-prepend", "separate-list"); err != nil {
		return err
	}
	if err := oneOf("rewrite.script_policy", c.Rewrite.ScriptPolicy, "extract", "split", "inline"); err != nil {
		return err
	}
	if err := oneOf("proxy.default_protocol", c.Proxy.DefaultProtocol, "https", "http"); err != nil {
		return err
	}
	if err := oneOf("proxy.cors_mode", c.Proxy.CORSMode, "wildcard", "echo"); err != nil {
		return err
	}
	if err := oneOf("log.level", strings.ToLower(c.Log.Level), "debug", "info", "warn", "error"); err != nil {
		return err
	}
	if err := oneOf("log.format", strings.ToLower(c.Log.Format), "json", "text"); err != nil {
		return err
	}

	if strings.ContainsAny(c.Rewrite.WrapperClass, " .#>{}") {
		return fmt.Errorf("rewrite.wrapper_class must be a bare class name; got %q", c.Rewrite.WrapperClass)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/clone", "/proxy", "/kv", "/healthz", "/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// oneOf accepts the empty string (meaning "use default") or one of allowed.
func oneOf(field, value string, allowed ...string) error {
	if value == "" {
		return nil
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of: %s; got %q", field, strings.Join(allowed, ", "), value)
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1024 * 1024 // 1 MB
	}
	c.Server.PublicBaseURL = strings.TrimSuffix(c.Server.PublicBaseURL, "/")

	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.UserAgent == "" {
		c.Upstream.UserAgent = DefaultUserAgent
	}
	if c.Upstream.MaxRedirects == 0 {
		c.Upstream.MaxRedirects = 10
	}

	if c.Rewrite.IncludeProtocolSegment == nil {
		on := true
		c.Rewrite.IncludeProtocolSegment = &on
	}
	if c.Rewrite.HeadAssetStrategy == "" {
		c.Rewrite.HeadAssetStrategy = "inline-prepend"
	}
	if c.Rewrite.ScriptPolicy == "" {
		c.Rewrite.ScriptPolicy = "extract"
	}
	if c.Rewrite.WrapperClass == "" {
		c.Rewrite.WrapperClass = "cloned-content"
	}
	if c.Rewrite.DefaultTitle == "" {
		c.Rewrite.DefaultTitle = "Annotation Page"
	}
	if c.Rewrite.SkipFontHosts == nil {
		c.Rewrite.SkipFontHosts = []string{"fonts.googleapis.com", "fonts.gstatic.com"}
	}

	if c.Proxy.DefaultProtocol == "" {
		c.Proxy.DefaultProtocol = "https"
	}
	if c.Proxy.CORSMode == "" {
		c.Proxy.CORSMode = "wildcard"
	}
	if c.Proxy.PassthroughCacheControl == "" {
		c.Proxy.PassthroughCacheControl = "public, max-age=31536000, immutable"
	}
	if c.Proxy.TextCacheControl == "" {
		c.Proxy.TextCacheControl = "public, max-age=3600"
	}
	if c.Proxy.PreflightMaxAge == 0 {
		c.Proxy.PreflightMaxAge = 600
	}

	if c.KV.Addr == "" {
		c.KV.Addr = "127.0.0.1:6379"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or
// others. The file can carry the Redis password.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" || c.KV.Password == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file holds kv.password and is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}

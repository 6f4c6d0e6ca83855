// Package config handles TOML configuration loading and validation. A bad or
// missing upstream is a configuration error and fails here, at load time,
// before any request is accepted.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"

	"revproxy-go/internal/model"
	"revproxy-go/internal/rewrite"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/revproxy/config.toml",
	"configs/config.toml",
}

// reservedRoutes may not be shadowed by an endpoint prefix or the metrics path.
var reservedRoutes = []string{"/healthz", "/proxy/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig     `toml:"server"`
	Endpoints []EndpointConfig `toml:"endpoints"`
	Log       LogConfig        `toml:"log"`
	Metrics   MetricsConfig    `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// EndpointConfig binds one public path prefix to one fixed upstream origin.
type EndpointConfig struct {
	PathPrefix string `toml:"path_prefix"`
	Upstream   string `toml:"upstream"`

	TimeoutSeconds         int `toml:"timeout_seconds"`
	ConnectTimeoutSeconds  int `toml:"connect_timeout_seconds"`
	IdleReadTimeoutSeconds int `toml:"idle_read_timeout_seconds"`
	IdleConnections        int `toml:"idle_connections"`

	RetryIdempotent   bool `toml:"retry_idempotent"`
	ForwardRemoteUser bool `toml:"forward_remote_user"`
	// RewriteRedirects defaults to true; a pointer distinguishes an explicit
	// false from an omitted key.
	RewriteRedirects *bool `toml:"rewrite_redirects"`

	DefaultContentType string `toml:"default_content_type"`

	// Rewrite lists [from-regexp, to-template] pairs applied to the full
	// public path before forwarding; a match short-circuits into a redirect.
	Rewrite [][]string `toml:"rewrite"`
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
// /etc/revproxy/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
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
}

// validate checks the whole configuration and reports every problem at once.
func (c *Config) validate() error {
	var errs error

	if len(c.Endpoints) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("at least one [[endpoints]] entry is required"))
	}
	seen := make(map[string]bool)
	for i := range c.Endpoints {
		e := &c.Endpoints[i]
		errs = multierr.Append(errs, e.validate(i))
		if e.PathPrefix != "" {
			if seen[e.PathPrefix] {
				errs = multierr.Append(errs, fmt.Errorf("endpoints[%d]: duplicate path_prefix %q", i, e.PathPrefix))
			}
			seen[e.PathPrefix] = true
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("server.port must be 0-65535; got %d", c.Server.Port))
	}
	if c.Server.BodyMaxBytes < 0 {
		errs = multierr.Append(errs, fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes))
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond))
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		errs = multierr.Append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		errs = multierr.Append(errs, fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format))
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			errs = multierr.Append(errs, fmt.Errorf("metrics.path must start with '/'; got %q", p))
		}
		for _, reserved := range c.reservedPaths() {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				errs = multierr.Append(errs, fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved))
			}
		}
	}

	return errs
}

// validate checks one endpoint entry.
func (e *EndpointConfig) validate(i int) error {
	var errs error
	at := func(format string, args ...any) error {
		return fmt.Errorf("endpoints[%d]: %s", i, fmt.Sprintf(format, args...))
	}

	if e.PathPrefix == "" || e.PathPrefix[0] != '/' {
		errs = multierr.Append(errs, at("path_prefix must start with '/'; got %q", e.PathPrefix))
	}
	for _, reserved := range reservedRoutes {
		if e.PathPrefix == reserved || strings.HasPrefix(e.PathPrefix, reserved+"/") {
			errs = multierr.Append(errs, at("path_prefix %q conflicts with reserved route %q", e.PathPrefix, reserved))
		}
	}

	if e.Upstream == "" {
		errs = multierr.Append(errs, at("upstream is required"))
	} else if _, err := e.Target(); err != nil {
		errs = multierr.Append(errs, at("%v", err))
	}

	if e.TimeoutSeconds < 0 {
		errs = multierr.Append(errs, at("timeout_seconds must be non-negative; got %d", e.TimeoutSeconds))
	}
	if e.ConnectTimeoutSeconds < 0 {
		errs = multierr.Append(errs, at("connect_timeout_seconds must be non-negative; got %d", e.ConnectTimeoutSeconds))
	}
	if e.IdleReadTimeoutSeconds < 0 {
		errs = multierr.Append(errs, at("idle_read_timeout_seconds must be non-negative; got %d", e.IdleReadTimeoutSeconds))
	}
	if e.IdleConnections < 0 {
		errs = multierr.Append(errs, at("idle_connections must be non-negative; got %d", e.IdleConnections))
	}

	if _, err := rewrite.CompileRules(e.Rewrite); err != nil {
		errs = multierr.Append(errs, at("%v", err))
	}

	return errs
}

// Target parses the endpoint's upstream URL into an UpstreamTarget.
func (e *EndpointConfig) Target() (model.UpstreamTarget, error) {
	u, err := url.Parse(e.Upstream)
	if err != nil {
		return model.UpstreamTarget{}, fmt.Errorf("upstream is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return model.UpstreamTarget{}, fmt.Errorf("upstream URL scheme must be either 'http' or 'https'; got %q", e.Upstream)
	}
	if u.Host == "" {
		return model.UpstreamTarget{}, fmt.Errorf("upstream URL must have a host; got %q", e.Upstream)
	}
	return model.UpstreamTarget{
		Scheme:   u.Scheme,
		Host:     u.Host,
		BasePath: model.NormalizeBasePath(u.EscapedPath()),
	}, nil
}

// RedirectRewriteEnabled reports whether Location rewriting is on for this
// endpoint (the default).
func (e *EndpointConfig) RedirectRewriteEnabled() bool {
	return e.RewriteRedirects == nil || *e.RewriteRedirects
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	for i := range c.Endpoints {
		e := &c.Endpoints[i]
		e.PathPrefix = model.NormalizeBasePath(e.PathPrefix)
		if e.TimeoutSeconds == 0 {
			e.TimeoutSeconds = 120
		}
		if e.ConnectTimeoutSeconds == 0 {
			e.ConnectTimeoutSeconds = 30
		}
		if e.IdleReadTimeoutSeconds == 0 {
			e.IdleReadTimeoutSeconds = 60
		}
		if e.IdleConnections == 0 {
			e.IdleConnections = 100
		}
		if e.DefaultContentType == "" {
			e.DefaultContentType = "application/json"
		}
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

// PathPrefixes returns the configured endpoint prefixes, for bounded metric
// labels and route registration.
func (c *Config) PathPrefixes() []string {
	prefixes := make([]string, 0, len(c.Endpoints))
	for i := range c.Endpoints {
		prefixes = append(prefixes, c.Endpoints[i].PathPrefix)
	}
	return prefixes
}

// reservedPaths returns routes that endpoints and the metrics path may not
// shadow.
func (c *Config) reservedPaths() []string {
	paths := append([]string(nil), reservedRoutes...)
	for i := range c.Endpoints {
		if p := c.Endpoints[i].PathPrefix; p != "" {
			paths = append(paths, p)
		}
	}
	return paths
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

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}

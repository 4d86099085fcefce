// Package config loads a11ylens configuration from a JSON5 or YAML file,
// applies environment overrides and watches the file for changes.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the config lives unless A11YLENS_CONFIG or --config
// says otherwise.
const DefaultPath = "~/.a11ylens/config.json5"

// Config is the root configuration.
type Config struct {
	Browser    BrowserConfig    `json:"browser" yaml:"browser"`
	Gateway    GatewayConfig    `json:"gateway" yaml:"gateway"`
	Inspector  InspectorConfig  `json:"inspector" yaml:"inspector"`
	Overlay    OverlayConfig    `json:"overlay" yaml:"overlay"`
	FocusOrder FocusOrderConfig `json:"focus_order" yaml:"focus_order"`
	Mutations  MutationsConfig  `json:"mutations" yaml:"mutations"`
	Telemetry  TelemetryConfig  `json:"telemetry" yaml:"telemetry"`
	Tailscale  TailscaleConfig  `json:"tailscale" yaml:"tailscale"`
	Log        LogConfig        `json:"log" yaml:"log"`
}

// BrowserConfig controls the Chrome instance a session drives.
type BrowserConfig struct {
	// Bin is the Chrome binary. Empty lets the launcher find or download one.
	Bin string `json:"bin,omitempty" yaml:"bin,omitempty"`
	// RemoteURL attaches to an already running Chrome (ws://...) instead of launching.
	RemoteURL   string `json:"remote_url,omitempty" yaml:"remote_url,omitempty"`
	Headless    bool   `json:"headless" yaml:"headless"`
	UserDataDir string `json:"user_data_dir,omitempty" yaml:"user_data_dir,omitempty"`
	Width       int    `json:"width" yaml:"width"`
	Height      int    `json:"height" yaml:"height"`
}

// GatewayConfig controls the websocket endpoint panels connect to.
type GatewayConfig struct {
	Host           string   `json:"host" yaml:"host"`
	Port           int      `json:"port" yaml:"port"`
	Token          string   `json:"token,omitempty" yaml:"token,omitempty"`
	RateLimitRPM   int      `json:"rate_limit_rpm" yaml:"rate_limit_rpm"`
	AllowedOrigins []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"`
}

// Addr is host:port.
func (g GatewayConfig) Addr() string { return fmt.Sprintf("%s:%d", g.Host, g.Port) }

// URL is the websocket URL a panel dials.
func (g GatewayConfig) URL() string {
	host := g.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("ws://%s:%d/ws", host, g.Port)
}

type InspectorConfig struct {
	ThrottleMs   int     `json:"throttle_ms" yaml:"throttle_ms"`
	MinArea      float64 `json:"min_area" yaml:"min_area"`
	ExcludeExpr  string  `json:"exclude_expr,omitempty" yaml:"exclude_expr,omitempty"`
	MemoSize     int     `json:"memo_size" yaml:"memo_size"`
	Deep         bool    `json:"deep" yaml:"deep"`
	Debug        bool    `json:"debug" yaml:"debug"`
	ClickThrough bool    `json:"click_through" yaml:"click_through"`
}

// BoxStyle overrides the CSS of one highlight state.
type BoxStyle struct {
	Border            string `json:"border,omitempty" yaml:"border,omitempty"`
	Background        string `json:"background,omitempty" yaml:"background,omitempty"`
	MessageBackground string `json:"message_background,omitempty" yaml:"message_background,omitempty"`
}

type OverlayConfig struct {
	PulseMs int      `json:"pulse_ms" yaml:"pulse_ms"`
	Valid   BoxStyle `json:"valid" yaml:"valid"`
	Invalid BoxStyle `json:"invalid" yaml:"invalid"`
}

type FocusOrderConfig struct {
	IncludeEntries bool `json:"include_entries" yaml:"include_entries"`
	TrackFocus     bool `json:"track_focus" yaml:"track_focus"`
}

type MutationsConfig struct {
	Enabled     bool `json:"enabled" yaml:"enabled"`
	WindowMs    int  `json:"window_ms" yaml:"window_ms"`
	MaxElements int  `json:"max_elements" yaml:"max_elements"`
}

// TelemetryConfig enables OTLP trace export (binaries built with -tags otel).
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	Endpoint    string            `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Insecure    bool              `json:"insecure" yaml:"insecure"`
	ServiceName string            `json:"service_name,omitempty" yaml:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// TailscaleConfig exposes the gateway on a tailnet (binaries built with -tags tsnet).
type TailscaleConfig struct {
	Hostname  string `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	AuthKey   string `json:"auth_key,omitempty" yaml:"auth_key,omitempty"`
	StateDir  string `json:"state_dir,omitempty" yaml:"state_dir,omitempty"`
	Ephemeral bool   `json:"ephemeral" yaml:"ephemeral"`
	EnableTLS bool   `json:"enable_tls" yaml:"enable_tls"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns a config with every default applied.
func Default() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless: false,
			Width:    1280,
			Height:   800,
		},
		Gateway: GatewayConfig{
			Host:         "127.0.0.1",
			Port:         18790,
			RateLimitRPM: 600,
		},
		Inspector: InspectorConfig{
			ThrottleMs: 16,
			MinArea:    4,
			MemoSize:   512,
		},
		Overlay: OverlayConfig{PulseMs: 2000},
		FocusOrder: FocusOrderConfig{
			TrackFocus: true,
		},
		Mutations: MutationsConfig{
			Enabled:     true,
			WindowMs:    250,
			MaxElements: 200,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "a11ylens",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error: defaults plus environment are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(ExpandHome(path))
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := Decode(path, data, cfg); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode parses data into cfg, picking YAML for .yaml/.yml files and JSON5
// otherwise.
func Decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config: parse yaml %s: %w", path, err)
		}
	default:
		if err := json5.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config: parse json5 %s: %w", path, err)
		}
	}
	return nil
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("config: gateway.port %d out of range", c.Gateway.Port)
	}
	if c.Inspector.MinArea < 0 {
		return fmt.Errorf("config: inspector.min_area must not be negative")
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("config: telemetry.protocol %q (want grpc or http)", c.Telemetry.Protocol)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: log.format %q (want text or json)", c.Log.Format)
	}
	return nil
}

// Save writes cfg as indented JSON, which every JSON5 reader accepts.
func Save(path string, cfg *Config) error {
	path = ExpandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Hash fingerprints the effective config.
func (c *Config) Hash() string {
	data, _ := json.Marshal(c)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// MaskedCopy returns a copy safe to display, with secrets masked.
func (c *Config) MaskedCopy() *Config {
	cp := *c
	cp.Gateway.Token = mask(c.Gateway.Token)
	cp.Tailscale.AuthKey = mask(c.Tailscale.AuthKey)
	if len(c.Telemetry.Headers) > 0 {
		cp.Telemetry.Headers = make(map[string]string, len(c.Telemetry.Headers))
		for k, v := range c.Telemetry.Headers {
			cp.Telemetry.Headers[k] = mask(v)
		}
	}
	cp.Gateway.AllowedOrigins = append([]string(nil), c.Gateway.AllowedOrigins...)
	return &cp
}

func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) > 8:
		return s[:4] + "****" + s[len(s)-4:]
	default:
		return "****"
	}
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// ResolvePath picks the config path: explicit flag, then A11YLENS_CONFIG, then
// DefaultPath.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv("A11YLENS_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

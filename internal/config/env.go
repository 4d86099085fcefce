package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// ApplyEnv overlays A11YLENS_* environment variables. Unparsable values are
// logged and ignored.
func (c *Config) ApplyEnv() {
	envStr("A11YLENS_BROWSER_BIN", &c.Browser.Bin)
	envStr("A11YLENS_BROWSER_REMOTE", &c.Browser.RemoteURL)
	envBool("A11YLENS_HEADLESS", &c.Browser.Headless)

	envStr("A11YLENS_GATEWAY_HOST", &c.Gateway.Host)
	envInt("A11YLENS_GATEWAY_PORT", &c.Gateway.Port)
	envStr("A11YLENS_GATEWAY_TOKEN", &c.Gateway.Token)
	envInt("A11YLENS_RATE_LIMIT_RPM", &c.Gateway.RateLimitRPM)
	if v := os.Getenv("A11YLENS_ALLOWED_ORIGINS"); v != "" {
		c.Gateway.AllowedOrigins = splitList(v)
	}

	envInt("A11YLENS_THROTTLE_MS", &c.Inspector.ThrottleMs)
	envFloat("A11YLENS_MIN_AREA", &c.Inspector.MinArea)
	envStr("A11YLENS_EXCLUDE_EXPR", &c.Inspector.ExcludeExpr)

	envBool("A11YLENS_OTEL_ENABLED", &c.Telemetry.Enabled)
	envStr("A11YLENS_OTEL_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("A11YLENS_OTEL_PROTOCOL", &c.Telemetry.Protocol)

	envStr("A11YLENS_TSNET_HOSTNAME", &c.Tailscale.Hostname)
	envStr("A11YLENS_TSNET_AUTH_KEY", &c.Tailscale.AuthKey)
	envStr("A11YLENS_TSNET_DIR", &c.Tailscale.StateDir)

	envStr("A11YLENS_LOG_LEVEL", &c.Log.Level)
	envStr("A11YLENS_LOG_FORMAT", &c.Log.Format)
}

func envStr(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		slog.Warn("config.env_invalid", "key", key, "value", v)
		return
	}
	*dst = n
}

func envFloat(key string, dst *float64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		slog.Warn("config.env_invalid", "key", key, "value", v)
		return
	}
	*dst = f
}

func envBool(key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		slog.Warn("config.env_invalid", "key", key, "value", v)
		return
	}
	*dst = b
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

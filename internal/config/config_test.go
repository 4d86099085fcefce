package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := Default()
	if cfg.Gateway.Port != d.Gateway.Port || cfg.Inspector.MinArea != 4 || cfg.Mutations.WindowMs != 250 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoad_JSON5(t *testing.T) {
	path := writeFile(t, "config.json5", `{
  // comments and trailing commas are fine
  gateway: { port: 9001, token: "abc", },
  inspector: { min_area: 10, exclude_expr: 'tag == "svg"' },
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 9001 || cfg.Gateway.Token != "abc" {
		t.Errorf("gateway = %+v", cfg.Gateway)
	}
	if cfg.Inspector.MinArea != 10 || cfg.Inspector.ExcludeExpr != `tag == "svg"` {
		t.Errorf("inspector = %+v", cfg.Inspector)
	}
	// Untouched sections keep their defaults.
	if cfg.Overlay.PulseMs != 2000 {
		t.Errorf("overlay.pulse_ms = %d", cfg.Overlay.PulseMs)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
gateway:
  port: 9100
focus_order:
  include_entries: true
log:
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 9100 || !cfg.FocusOrder.IncludeEntries || cfg.Log.Format != "json" {
		t.Errorf("yaml not applied: %+v", cfg)
	}
	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("gateway.host default lost: %q", cfg.Gateway.Host)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "config.json5", `{gateway: {port: 9001}}`)
	t.Setenv("A11YLENS_GATEWAY_PORT", "9555")
	t.Setenv("A11YLENS_MIN_AREA", "12.5")
	t.Setenv("A11YLENS_HEADLESS", "true")
	t.Setenv("A11YLENS_ALLOWED_ORIGINS", "http://a, http://b")
	t.Setenv("A11YLENS_THROTTLE_MS", "not-a-number")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 9555 {
		t.Errorf("port = %d, env should win over file", cfg.Gateway.Port)
	}
	if cfg.Inspector.MinArea != 12.5 || !cfg.Browser.Headless {
		t.Errorf("env not applied: %+v %+v", cfg.Inspector, cfg.Browser)
	}
	if len(cfg.Gateway.AllowedOrigins) != 2 || cfg.Gateway.AllowedOrigins[1] != "http://b" {
		t.Errorf("origins = %v", cfg.Gateway.AllowedOrigins)
	}
	if cfg.Inspector.ThrottleMs != 16 {
		t.Errorf("invalid env value should be ignored, throttle = %d", cfg.Inspector.ThrottleMs)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, file, content string
	}{
		{"syntax", "bad.json5", `{gateway: `},
		{"port", "port.json5", `{gateway: {port: 70000}}`},
		{"protocol", "proto.yaml", "telemetry:\n  protocol: carrier-pigeon\n"},
		{"log format", "log.json5", `{log: {format: "xml"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeFile(t, tt.file, tt.content)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json5")
	cfg := Default()
	cfg.Gateway.Port = 9222
	cfg.Inspector.Deep = true
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Hash() != cfg.Hash() {
		t.Errorf("hash changed across save/load")
	}
}

func TestMaskedCopy(t *testing.T) {
	cfg := Default()
	cfg.Gateway.Token = "supersecrettoken"
	cfg.Tailscale.AuthKey = "short"
	m := cfg.MaskedCopy()
	if m.Gateway.Token != "supe****oken" || m.Tailscale.AuthKey != "****" {
		t.Errorf("masked = %q / %q", m.Gateway.Token, m.Tailscale.AuthKey)
	}
	if cfg.Gateway.Token != "supersecrettoken" {
		t.Error("MaskedCopy modified the original")
	}
}

func TestResolveTokenFromKeyring(t *testing.T) {
	keyring.MockInit()

	cfg := Default()
	if tok := cfg.ResolveToken(); tok != "" {
		t.Errorf("empty keyring gave %q", tok)
	}
	if err := StoreToken("from-keyring"); err != nil {
		t.Fatal(err)
	}
	if tok := cfg.ResolveToken(); tok != "from-keyring" {
		t.Errorf("token = %q", tok)
	}

	cfg = Default()
	cfg.Gateway.Token = "explicit"
	if tok := cfg.ResolveToken(); tok != "explicit" {
		t.Errorf("explicit token overridden by keyring: %q", tok)
	}
}

func TestWatcherReloads(t *testing.T) {
	path := writeFile(t, "config.json5", `{gateway: {port: 9001}}`)
	w, err := NewWatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	w.SetDebounce(20 * time.Millisecond)
	got := make(chan int, 4)
	w.OnChange(func(cfg *Config) { got <- cfg.Gateway.Port })
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte(`{gateway: {port: 9002}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case port := <-got:
		if port != 9002 {
			t.Errorf("reloaded port = %d", port)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
	w.Stop()
}

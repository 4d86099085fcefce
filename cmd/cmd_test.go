package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/a11ylens/internal/audit"
	"github.com/nextlevelbuilder/a11ylens/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsURL(t *testing.T) {
	tests := map[string]bool{
		"https://example.com":     true,
		"http://localhost:3000/a": true,
		"file:///tmp/page.html":   true,
		"page.html":               false,
		"./http/page.html":        false,
	}
	for in, want := range tests {
		if got := isURL(in); got != want {
			t.Errorf("isURL(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRunAudit_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	html := `<html><body>
<a id="skip" href="#main" tabindex="2">Skip</a>
<button id="icon"></button>
<input id="q" aria-label="Search">
</body></html>`
	if err := os.WriteFile(path, []byte(html), 0o600); err != nil {
		t.Fatal(err)
	}

	r, err := runAudit(context.Background(), config.Default(), path)
	if err != nil {
		t.Fatalf("runAudit: %v", err)
	}
	if r.Total != 3 || r.PositiveTabIndex != 1 {
		t.Errorf("stats = %d total, %d positive; want 3, 1", r.Total, r.PositiveTabIndex)
	}
	if r.Errors() != 1 {
		t.Fatalf("errors = %d, want 1 (unnamed button); findings %+v", r.Errors(), r.Findings)
	}
	for _, f := range r.Findings {
		if f.Rule == audit.RuleNoBox {
			t.Errorf("geometry finding on a parsed file: %+v", f)
		}
		if f.Severity == audit.SeverityError && f.Selector != "button#icon" {
			t.Errorf("error finding on %q, want button#icon", f.Selector)
		}
	}
}

func TestRunAudit_MissingFile(t *testing.T) {
	if _, err := runAudit(context.Background(), config.Default(), filepath.Join(t.TempDir(), "nope.html")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestResolveGatewayURL(t *testing.T) {
	cfg := config.Default()
	gatewayURL = ""
	if got := resolveGatewayURL(cfg); got != cfg.Gateway.URL() {
		t.Errorf("default = %q, want %q", got, cfg.Gateway.URL())
	}
	gatewayURL = "ws://10.0.0.2:9000/ws"
	defer func() { gatewayURL = "" }()
	if got := resolveGatewayURL(cfg); got != gatewayURL {
		t.Errorf("override = %q", got)
	}
}

func TestParsePort(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"18790", 18790, false},
		{"1", 1, false},
		{"0", 0, true},
		{"65536", 0, true},
		{"http", 0, true},
	}
	for _, tt := range tests {
		got, err := parsePort(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parsePort(%q) = %d, %v; want %d, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

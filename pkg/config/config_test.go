package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseValidConfig(t *testing.T) {
	t.Setenv("PANEL_TOKEN", "s3cret")
	yaml := `
version: 1
base_api: https://panel.example.com/api
token: ${PANEL_TOKEN}
log_level: debug
logs:
  max_lines: 200
  reconnect_interval: 2s
  flush_window: 150ms
`
	c, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if c.Token != "s3cret" {
		t.Errorf("token interpolation: got %q", c.Token)
	}
	if c.Logs.MaxLines != 200 {
		t.Errorf("max_lines: got %d", c.Logs.MaxLines)
	}
	if c.Logs.ReconnectInterval.D() != 2*time.Second {
		t.Errorf("reconnect_interval: got %v", c.Logs.ReconnectInterval.D())
	}
	if c.Logs.FlushWindow.D() != 150*time.Millisecond {
		t.Errorf("flush_window: got %v", c.Logs.FlushWindow.D())
	}
	// Unset fields fall back to defaults
	if c.Logs.ReconnectAttempts != DefaultReconnectAttempts {
		t.Errorf("reconnect_attempts default: got %d", c.Logs.ReconnectAttempts)
	}
	if c.Logs.BurstGuard != DefaultBurstGuard {
		t.Errorf("burst_guard default: got %d", c.Logs.BurstGuard)
	}
	if errs := Validate(c); len(errs) != 0 {
		t.Errorf("unexpected validation errors: %v", errs)
	}
}

func TestParseKeepsExplicitZeros(t *testing.T) {
	yaml := `
version: 1
base_api: https://panel.example.com/api
logs:
  interval: 0
  pin_tolerance: 0
  reconnect_attempts: 0
  burst_guard: 0
`
	c, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if c.Logs.Interval != 0 {
		t.Errorf("interval: got %d, want 0", c.Logs.Interval)
	}
	if c.Logs.PinTolerance != 0 {
		t.Errorf("pin_tolerance: got %d, want 0", c.Logs.PinTolerance)
	}
	if c.Logs.ReconnectAttempts != 0 {
		t.Errorf("reconnect_attempts: got %d, want 0", c.Logs.ReconnectAttempts)
	}
	if c.Logs.BurstGuard != 0 {
		t.Errorf("burst_guard: got %d, want 0", c.Logs.BurstGuard)
	}
	if c.Logs.MaxLines != DefaultMaxLines {
		t.Errorf("max_lines default: got %d", c.Logs.MaxLines)
	}
	if errs := Validate(c); len(errs) != 0 {
		t.Errorf("unexpected validation errors: %v", errs)
	}
}

func TestParseBadDuration(t *testing.T) {
	_, err := Parse([]byte("version: 1\nlogs:\n  flush_window: soon\n"))
	if err == nil {
		t.Fatal("expected error for bad duration")
	}
}

func TestDefaultIsValid(t *testing.T) {
	if errs := Validate(Default()); len(errs) != 0 {
		t.Errorf("default config should validate: %v", errs)
	}
}

func TestValidateVersionMustBe1(t *testing.T) {
	c := Default()
	c.Version = 2
	assertHasError(t, Validate(c), "version must be 1")
}

func TestValidateBaseAPIRequired(t *testing.T) {
	c := Default()
	c.BaseAPI = ""
	assertHasError(t, Validate(c), "base_api is required")
}

func TestValidateBaseAPIScheme(t *testing.T) {
	c := Default()
	c.BaseAPI = "ftp://panel.example.com/api"
	assertHasError(t, Validate(c), "scheme must be http or https")
}

func TestValidateRelativeBaseNeedsOrigin(t *testing.T) {
	c := Default()
	c.BaseAPI = "/api"
	assertHasError(t, Validate(c), "origin is required")

	c.Origin = "https://panel.example.com"
	if errs := Validate(c); len(errs) != 0 {
		t.Errorf("unexpected errors with origin set: %v", errs)
	}
}

func TestValidateIntervalBounds(t *testing.T) {
	c := Default()
	c.Logs.Interval = 11
	assertHasError(t, Validate(c), "logs.interval must be between")
}

func TestValidateTokenExclusive(t *testing.T) {
	c := Default()
	c.Token = "a"
	c.TokenFile = "/tmp/token"
	assertHasError(t, Validate(c), "mutually exclusive")
}

func TestValidateReportsEveryProblem(t *testing.T) {
	c := &Config{Version: 3, LogLevel: "loud"}
	errs := Validate(c)
	// version, base_api, log level, max_lines, reconnect_interval, flush_window
	if len(errs) < 6 {
		t.Errorf("expected at least 6 errors, got %d: %v", len(errs), errs)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panelctl.yaml")
	c := Default()
	c.Token = "abc"
	if err := Save(c, path); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config mode: got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.FilePath != path {
		t.Errorf("file path: got %q", loaded.FilePath)
	}
	if loaded.Logs.FlushWindow != c.Logs.FlushWindow {
		t.Errorf("flush_window round trip: got %v", loaded.Logs.FlushWindow.D())
	}
	if loaded.Token != "abc" {
		t.Errorf("token round trip: got %q", loaded.Token)
	}
}

func TestResolveToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("  from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	c := &Config{TokenFile: path}
	got, err := c.ResolveToken()
	if err != nil {
		t.Fatal(err)
	}
	if got != "from-file" {
		t.Errorf("token: got %q", got)
	}

	c = &Config{Token: "inline"}
	if got, _ := c.ResolveToken(); got != "inline" {
		t.Errorf("inline token: got %q", got)
	}
}

func assertHasError(t *testing.T, errs []error, substr string) {
	t.Helper()
	for _, e := range errs {
		if strings.Contains(e.Error(), substr) {
			return
		}
	}
	t.Errorf("expected error containing %q, got %v", substr, errs)
}

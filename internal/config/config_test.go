package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mcuadros/go-defaults"
)

// resetOptions restores the shared options value to its init state so
// each Parse test starts clean regardless of run order. The struct is
// zeroed in place to keep the flag bindings intact.
func resetOptions(t *testing.T) {
	t.Helper()
	*options = Options{}
	defaults.SetDefaults(options)
	options.CaptureTimeout = Duration(10 * time.Second)
	options.SessionTTL = Duration(5 * time.Minute)
	options.Config = "config.toml"
}

func TestParse_Defaults(t *testing.T) {
	resetOptions(t)
	got := Parse()

	if got.Addr != "localhost:8080" {
		t.Errorf("Addr = %q; want localhost:8080", got.Addr)
	}
	if got.DataDir != "data" {
		t.Errorf("DataDir = %q; want data", got.DataDir)
	}
	if time.Duration(got.CaptureTimeout) != 10*time.Second {
		t.Errorf("CaptureTimeout = %v; want 10s", time.Duration(got.CaptureTimeout))
	}
	if time.Duration(got.SessionTTL) != 5*time.Minute {
		t.Errorf("SessionTTL = %v; want 5m", time.Duration(got.SessionTTL))
	}
	if got.GPSAddress == "" {
		t.Error("GPSAddress default missing")
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	resetOptions(t)
	t.Setenv("SERVER_ADDRESS", "0.0.0.0:9999")
	t.Setenv("VAULT_KEY", "env-secret")
	t.Setenv("EXTRACTOR_URL", "http://sidecar:8500")

	got := Parse()
	if got.Addr != "0.0.0.0:9999" {
		t.Errorf("Addr = %q; want env override", got.Addr)
	}
	if got.VaultKey != "env-secret" {
		t.Errorf("VaultKey = %q; want env override", got.VaultKey)
	}
	if got.ExtractorURL != "http://sidecar:8500" {
		t.Errorf("ExtractorURL = %q; want env override", got.ExtractorURL)
	}
}

func TestParse_ConfigFile(t *testing.T) {
	resetOptions(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
addr = "127.0.0.1:7070"
data_dir = "/var/lib/drivelock"
capture_timeout = "3s"
session_ttl = "90s"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("CONFIG", path)
	t.Setenv("SERVER_ADDRESS", "")
	t.Setenv("VAULT_KEY", "")
	t.Setenv("EXTRACTOR_URL", "")

	got := Parse()
	if got.Addr != "127.0.0.1:7070" {
		t.Errorf("Addr = %q; want value from file", got.Addr)
	}
	if got.DataDir != "/var/lib/drivelock" {
		t.Errorf("DataDir = %q; want value from file", got.DataDir)
	}
	if time.Duration(got.CaptureTimeout) != 3*time.Second {
		t.Errorf("CaptureTimeout = %v; want 3s", time.Duration(got.CaptureTimeout))
	}
	if time.Duration(got.SessionTTL) != 90*time.Second {
		t.Errorf("SessionTTL = %v; want 90s", time.Duration(got.SessionTTL))
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("250ms")); err != nil {
		t.Fatalf("UnmarshalText returned error: %v", err)
	}
	if time.Duration(d) != 250*time.Millisecond {
		t.Errorf("Duration = %v; want 250ms", time.Duration(d))
	}
	if err := d.UnmarshalText([]byte("not-a-duration")); err == nil {
		t.Error("expected error for invalid duration")
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "HEAT_") {
			t.Setenv(key, "")
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Address != DefaultAddr {
		t.Fatalf("expected default addr %q, got %q", DefaultAddr, cfg.Address)
	}
	if cfg.AllowedOrigins != nil {
		t.Fatalf("expected no allowed origins, got %#v", cfg.AllowedOrigins)
	}
	if cfg.MaxPayloadBytes != DefaultMaxPayloadBytes {
		t.Fatalf("expected default max payload %d, got %d", DefaultMaxPayloadBytes, cfg.MaxPayloadBytes)
	}
	if cfg.MaxViewers != DefaultMaxViewers {
		t.Fatalf("expected default max viewers %d, got %d", DefaultMaxViewers, cfg.MaxViewers)
	}
	if cfg.GRPCAuthMode != GRPCAuthModeNone {
		t.Fatalf("expected grpc auth mode none, got %q", cfg.GRPCAuthMode)
	}
	sim := cfg.Simulation
	if sim.Divisions != DefaultDivisions || sim.Samples != DefaultSamples || sim.Coefficients != DefaultCoefficients {
		t.Fatalf("unexpected simulation defaults: %+v", sim)
	}
	if sim.Diffusivity != DefaultDiffusivity || sim.TimeStep != DefaultTimeStep {
		t.Fatalf("unexpected simulation constants: %+v", sim)
	}
	if sim.StartRunning {
		t.Fatalf("expected the scene to start paused")
	}
	if cfg.Logging.Path != DefaultLogPath {
		t.Fatalf("expected default log path %q, got %q", DefaultLogPath, cfg.Logging.Path)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HEAT_ADDR", "127.0.0.1:9000")
	t.Setenv("HEAT_ALLOWED_ORIGINS", "https://example.com, https://demo.local")
	t.Setenv("HEAT_MAX_PAYLOAD_BYTES", "2048")
	t.Setenv("HEAT_PING_INTERVAL", "45s")
	t.Setenv("HEAT_MAX_VIEWERS", "0")
	t.Setenv("HEAT_FRAME_RATE_HZ", "60")
	t.Setenv("HEAT_DIVISIONS", "40")
	t.Setenv("HEAT_COEFFICIENTS", "12")
	t.Setenv("HEAT_DIFFUSIVITY", "1.5")
	t.Setenv("HEAT_INITIAL_CONDITION", "pulse:0.3:0.1")
	t.Setenv("HEAT_START_RUNNING", "true")
	t.Setenv("HEAT_LOG_PATH", "")
	t.Setenv("HEAT_VIEWER_TOKEN_SECRET", "viewer-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Address != "127.0.0.1:9000" {
		t.Fatalf("unexpected address: %q", cfg.Address)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://example.com" || cfg.AllowedOrigins[1] != "https://demo.local" {
		t.Fatalf("unexpected allowed origins: %#v", cfg.AllowedOrigins)
	}
	if cfg.MaxPayloadBytes != 2048 {
		t.Fatalf("expected overridden max payload, got %d", cfg.MaxPayloadBytes)
	}
	if cfg.PingInterval != 45*time.Second {
		t.Fatalf("expected ping interval 45s, got %v", cfg.PingInterval)
	}
	if cfg.MaxViewers != 0 {
		t.Fatalf("expected unlimited viewers, got %d", cfg.MaxViewers)
	}
	if cfg.FrameRateHz != 60 {
		t.Fatalf("expected frame rate 60, got %v", cfg.FrameRateHz)
	}
	sim := cfg.Simulation
	if sim.Divisions != 40 || sim.Coefficients != 12 || sim.Diffusivity != 1.5 {
		t.Fatalf("unexpected simulation overrides: %+v", sim)
	}
	if sim.InitialCondition != "pulse:0.3:0.1" || !sim.StartRunning {
		t.Fatalf("unexpected simulation overrides: %+v", sim)
	}
	if cfg.Logging.Path != "" {
		t.Fatalf("expected explicit empty log path to disable file logging, got %q", cfg.Logging.Path)
	}
	if cfg.ViewerTokenSecret != "viewer-secret" {
		t.Fatalf("expected viewer token secret override, got %q", cfg.ViewerTokenSecret)
	}
}

func TestLoadReturnsValidationErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("HEAT_MAX_PAYLOAD_BYTES", "-5")
	t.Setenv("HEAT_PING_INTERVAL", "abc")
	t.Setenv("HEAT_DIVISIONS", "1")
	t.Setenv("HEAT_DIFFUSIVITY", "hot")
	t.Setenv("HEAT_START_RUNNING", "maybe")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	for _, key := range []string{"HEAT_MAX_PAYLOAD_BYTES", "HEAT_PING_INTERVAL", "HEAT_DIVISIONS", "HEAT_DIFFUSIVITY", "HEAT_START_RUNNING"} {
		if !strings.Contains(msg, key) {
			t.Fatalf("expected error to mention %s, got %q", key, msg)
		}
	}
}

func TestLoadRejectsCoefficientsAboveMaximum(t *testing.T) {
	clearEnv(t)
	t.Setenv("HEAT_COEFFICIENTS", "50")
	t.Setenv("HEAT_MAX_COEFFICIENTS", "20")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "coefficients must be within [1, 20]") {
		t.Fatalf("expected coefficient range error, got %v", err)
	}
}

func TestLoadRequiresTLSPair(t *testing.T) {
	clearEnv(t)
	t.Setenv("HEAT_TLS_CERT", "/tmp/cert.pem")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "HEAT_TLS_CERT and HEAT_TLS_KEY") {
		t.Fatalf("expected TLS pairing error, got %v", err)
	}
}

func TestLoadValidatesGRPCAuth(t *testing.T) {
	clearEnv(t)
	t.Setenv("HEAT_GRPC_AUTH_MODE", "shared_secret")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "HEAT_GRPC_SHARED_SECRET") {
		t.Fatalf("expected missing secret error, got %v", err)
	}

	t.Setenv("HEAT_GRPC_SHARED_SECRET", "s3cret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.GRPCAuthMode != GRPCAuthModeSharedSecret {
		t.Fatalf("expected shared secret mode, got %q", cfg.GRPCAuthMode)
	}

	t.Setenv("HEAT_GRPC_AUTH_MODE", "kerberos")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "HEAT_GRPC_AUTH_MODE") {
		t.Fatalf("expected unknown mode error, got %v", err)
	}
}

func TestLoadMergesConfigFileBeforeEnv(t *testing.T) {
	clearEnv(t)
	path := createTempFile(t, "heat.yaml", `
address: ":9100"
frame_rate_hz: 24
ping_interval: 10s
simulation:
  divisions: 64
  diffusivity: 0.25
  lighting: flat
logging:
  level: debug
`)
	t.Setenv("HEAT_CONFIG_FILE", path)
	t.Setenv("HEAT_DIVISIONS", "32")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Address != ":9100" || cfg.FrameRateHz != 24 || cfg.PingInterval != 10*time.Second {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Simulation.Divisions != 32 {
		t.Fatalf("expected env to override file divisions, got %d", cfg.Simulation.Divisions)
	}
	if cfg.Simulation.Diffusivity != 0.25 || cfg.Simulation.Lighting != "flat" {
		t.Fatalf("unexpected simulation from file: %+v", cfg.Simulation)
	}
	if cfg.Simulation.Samples != DefaultSamples {
		t.Fatalf("expected untouched fields to keep defaults, got %d samples", cfg.Simulation.Samples)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected log level from file, got %q", cfg.Logging.Level)
	}
}

func TestLoadReportsUnreadableConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("HEAT_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "HEAT_CONFIG_FILE") {
		t.Fatalf("expected config file error, got %v", err)
	}
}

func createTempFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

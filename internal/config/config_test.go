package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORMSTACK_PORT", "")
	t.Setenv("STORMSTACK_PORT_ADDR", "")
	t.Setenv("STORMSTACK_METRICS_ADDR", "")
	t.Setenv("STORMSTACK_JWT_SECRET", "")
	t.Setenv("STORMSTACK_RESOURCES_PATH", "")
	t.Setenv("STORMSTACK_MAX_PAYLOAD_BYTES", "")
	t.Setenv("STORMSTACK_MAX_CLIENTS", "")
	t.Setenv("STORMSTACK_TICK_RATE_HZ", "")
	t.Setenv("STORMSTACK_SESSION_TIMEOUT", "")
	t.Setenv("STORMSTACK_WASM_FUEL", "")
	t.Setenv("STORMSTACK_WASM_EPOCH_DEADLINE", "")
	t.Setenv("STORMSTACK_WASM_MEMORY_LIMIT_BYTES", "")
	t.Setenv("STORMSTACK_WASM_STACK_LIMIT_BYTES", "")
	t.Setenv("STORMSTACK_LOG_LEVEL", "")
	t.Setenv("STORMSTACK_LOG_PATH", "")
	t.Setenv("STORMSTACK_LOG_MAX_SIZE_MB", "")
	t.Setenv("STORMSTACK_LOG_MAX_BACKUPS", "")
	t.Setenv("STORMSTACK_LOG_MAX_AGE_DAYS", "")
	t.Setenv("STORMSTACK_LOG_COMPRESS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Address != DefaultAddr {
		t.Fatalf("expected default addr %q, got %q", DefaultAddr, cfg.Address)
	}
	if cfg.MetricsAddress != DefaultMetricsAddr {
		t.Fatalf("expected default metrics addr %q, got %q", DefaultMetricsAddr, cfg.MetricsAddress)
	}
	if cfg.JWTSecret != "" {
		t.Fatalf("expected empty JWT secret by default")
	}
	if cfg.ResourcesPath != DefaultResourcesPath {
		t.Fatalf("expected default resources path %q, got %q", DefaultResourcesPath, cfg.ResourcesPath)
	}
	if cfg.MaxPayloadBytes != DefaultMaxPayloadBytes {
		t.Fatalf("expected default max payload %d, got %d", DefaultMaxPayloadBytes, cfg.MaxPayloadBytes)
	}
	if cfg.MaxClients != DefaultMaxClients {
		t.Fatalf("expected default max clients %d, got %d", DefaultMaxClients, cfg.MaxClients)
	}
	if cfg.TickRateHz != DefaultTickRateHz {
		t.Fatalf("expected default tick rate %v, got %v", DefaultTickRateHz, cfg.TickRateHz)
	}
	if cfg.SessionTimeout != DefaultSessionTimeout {
		t.Fatalf("expected default session timeout %v, got %v", DefaultSessionTimeout, cfg.SessionTimeout)
	}
	if cfg.Wasm.Fuel != DefaultWasmFuel {
		t.Fatalf("expected default wasm fuel %d, got %d", DefaultWasmFuel, cfg.Wasm.Fuel)
	}
	if cfg.Wasm.EpochDeadline != DefaultWasmEpochDeadline {
		t.Fatalf("expected default epoch deadline %d, got %d", DefaultWasmEpochDeadline, cfg.Wasm.EpochDeadline)
	}
	if cfg.Wasm.MemoryLimitBytes != DefaultWasmMemoryLimitBytes {
		t.Fatalf("expected default wasm memory limit %d, got %d", DefaultWasmMemoryLimitBytes, cfg.Wasm.MemoryLimitBytes)
	}
	if cfg.Logging.Level != DefaultLogLevel {
		t.Fatalf("expected default log level %q, got %q", DefaultLogLevel, cfg.Logging.Level)
	}
	if cfg.Logging.Path != DefaultLogPath {
		t.Fatalf("expected default log path %q, got %q", DefaultLogPath, cfg.Logging.Path)
	}
	if cfg.Logging.MaxSizeMB != DefaultLogMaxSizeMB {
		t.Fatalf("expected default log max size %d, got %d", DefaultLogMaxSizeMB, cfg.Logging.MaxSizeMB)
	}
	if cfg.Logging.Compress != DefaultLogCompress {
		t.Fatalf("expected default log compress %t, got %t", DefaultLogCompress, cfg.Logging.Compress)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORMSTACK_PORT", "9100")
	t.Setenv("STORMSTACK_METRICS_ADDR", ":9191")
	t.Setenv("STORMSTACK_JWT_SECRET", "top-secret")
	t.Setenv("STORMSTACK_RESOURCES_PATH", "/var/lib/stormstack/resources")
	t.Setenv("STORMSTACK_MAX_PAYLOAD_BYTES", "4096")
	t.Setenv("STORMSTACK_MAX_CLIENTS", "256")
	t.Setenv("STORMSTACK_TICK_RATE_HZ", "30")
	t.Setenv("STORMSTACK_SESSION_TIMEOUT", "90s")
	t.Setenv("STORMSTACK_WASM_FUEL", "500000")
	t.Setenv("STORMSTACK_WASM_EPOCH_DEADLINE", "50")
	t.Setenv("STORMSTACK_WASM_MEMORY_LIMIT_BYTES", "8388608")
	t.Setenv("STORMSTACK_WASM_STACK_LIMIT_BYTES", "65536")
	t.Setenv("STORMSTACK_LOG_LEVEL", "debug")
	t.Setenv("STORMSTACK_LOG_PATH", "/var/log/stormstackd.log")
	t.Setenv("STORMSTACK_LOG_MAX_SIZE_MB", "50")
	t.Setenv("STORMSTACK_LOG_MAX_BACKUPS", "3")
	t.Setenv("STORMSTACK_LOG_MAX_AGE_DAYS", "1")
	t.Setenv("STORMSTACK_LOG_COMPRESS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Address != ":9100" {
		t.Fatalf("unexpected address: %q", cfg.Address)
	}
	if cfg.MetricsAddress != ":9191" {
		t.Fatalf("unexpected metrics address: %q", cfg.MetricsAddress)
	}
	if cfg.JWTSecret != "top-secret" {
		t.Fatalf("unexpected jwt secret: %q", cfg.JWTSecret)
	}
	if cfg.ResourcesPath != "/var/lib/stormstack/resources" {
		t.Fatalf("unexpected resources path: %q", cfg.ResourcesPath)
	}
	if cfg.MaxPayloadBytes != 4096 {
		t.Fatalf("expected overridden max payload, got %d", cfg.MaxPayloadBytes)
	}
	if cfg.MaxClients != 256 {
		t.Fatalf("expected max clients 256, got %d", cfg.MaxClients)
	}
	if cfg.TickRateHz != 30 {
		t.Fatalf("expected tick rate 30, got %v", cfg.TickRateHz)
	}
	if cfg.SessionTimeout != 90*time.Second {
		t.Fatalf("expected session timeout 90s, got %v", cfg.SessionTimeout)
	}
	if cfg.Wasm.Fuel != 500000 {
		t.Fatalf("expected wasm fuel override, got %d", cfg.Wasm.Fuel)
	}
	if cfg.Wasm.EpochDeadline != 50 {
		t.Fatalf("expected epoch deadline override, got %d", cfg.Wasm.EpochDeadline)
	}
	if cfg.Wasm.MemoryLimitBytes != 8388608 {
		t.Fatalf("expected wasm memory limit override, got %d", cfg.Wasm.MemoryLimitBytes)
	}
	if cfg.Wasm.StackLimitBytes != 65536 {
		t.Fatalf("expected wasm stack limit override, got %d", cfg.Wasm.StackLimitBytes)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected overridden log level debug, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Path != "/var/log/stormstackd.log" {
		t.Fatalf("unexpected log path %q", cfg.Logging.Path)
	}
	if cfg.Logging.MaxSizeMB != 50 {
		t.Fatalf("expected log max size 50, got %d", cfg.Logging.MaxSizeMB)
	}
	if cfg.Logging.MaxBackups != 3 {
		t.Fatalf("expected log max backups 3, got %d", cfg.Logging.MaxBackups)
	}
	if cfg.Logging.MaxAgeDays != 1 {
		t.Fatalf("expected log max age 1, got %d", cfg.Logging.MaxAgeDays)
	}
	if cfg.Logging.Compress {
		t.Fatalf("expected log compression disabled")
	}
}

func TestLoadReturnsValidationErrors(t *testing.T) {
	t.Setenv("STORMSTACK_MAX_PAYLOAD_BYTES", "-5")
	t.Setenv("STORMSTACK_MAX_CLIENTS", "-1")
	t.Setenv("STORMSTACK_TICK_RATE_HZ", "0")
	t.Setenv("STORMSTACK_SESSION_TIMEOUT", "not-a-duration")
	t.Setenv("STORMSTACK_WASM_FUEL", "0")
	t.Setenv("STORMSTACK_LOG_MAX_SIZE_MB", "-1")
	t.Setenv("STORMSTACK_LOG_MAX_BACKUPS", "-2")
	t.Setenv("STORMSTACK_LOG_MAX_AGE_DAYS", "-3")
	t.Setenv("STORMSTACK_LOG_COMPRESS", "notabool")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error from invalid configuration, got nil")
	}

	for _, want := range []string{
		"STORMSTACK_MAX_PAYLOAD_BYTES",
		"STORMSTACK_MAX_CLIENTS",
		"STORMSTACK_TICK_RATE_HZ",
		"STORMSTACK_SESSION_TIMEOUT",
		"STORMSTACK_WASM_FUEL",
		"STORMSTACK_LOG_MAX_SIZE_MB",
		"STORMSTACK_LOG_MAX_BACKUPS",
		"STORMSTACK_LOG_MAX_AGE_DAYS",
		"STORMSTACK_LOG_COMPRESS",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to mention %s, got %q", want, err.Error())
		}
	}
}

func TestLoadAllowsUnlimitedClients(t *testing.T) {
	t.Setenv("STORMSTACK_MAX_CLIENTS", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.MaxClients != 0 {
		t.Fatalf("expected zero to disable limit, got %d", cfg.MaxClients)
	}
}

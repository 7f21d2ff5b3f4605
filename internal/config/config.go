// Package config loads StormStack's runtime tunables from the environment,
// following the STORMSTACK_* naming convention and the aggregated-validation
// pattern used throughout this codebase's ambient stack.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address the REST/WebSocket server listens on.
	DefaultAddr = ":8080"
	// DefaultMetricsAddr is the default bind address for the Prometheus endpoint.
	DefaultMetricsAddr = ":9090"
	// DefaultResourcesPath is the default filesystem root for stored resources.
	DefaultResourcesPath = "./data/resources"

	// DefaultTickRateHz is the game loop's default simulation frequency.
	DefaultTickRateHz = 60.0
	// DefaultSessionTimeout controls when an inactive session is marked expired.
	DefaultSessionTimeout = 2 * time.Minute
	// DefaultMaxClients is the default MaxClients value. It is loaded and logged
	// at startup; no code path limits concurrent WebSocket connections by it.
	DefaultMaxClients = 1024
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 1 << 20

	// DefaultWasmFuel is the per-invocation instruction budget.
	DefaultWasmFuel uint64 = 1_000_000
	// DefaultWasmEpochDeadline is the epoch tick count before a trap fires.
	DefaultWasmEpochDeadline uint64 = 100
	// DefaultWasmEpochTick is how often the background epoch ticker increments.
	DefaultWasmEpochTick = 10 * time.Millisecond
	// DefaultWasmMemoryLimitBytes caps linear memory per instance.
	DefaultWasmMemoryLimitBytes uint64 = 16 << 20
	// DefaultWasmStackLimitBytes is the per-instance stack limit passed to
	// sandbox.Limits, which does not apply it to the wasm engine.
	DefaultWasmStackLimitBytes uint64 = 1 << 20
	// DefaultWasmMaxTables is the table count cap per instance.
	DefaultWasmMaxTables = 10
	// DefaultWasmMaxTableElements is the element-count cap per table.
	DefaultWasmMaxTableElements = 10_000
	// DefaultWasmMaxInstances caps instances per store.
	DefaultWasmMaxInstances = 10
	// DefaultWasmMaxMemories caps linear memories per instance (multi-memory disabled by default).
	DefaultWasmMaxMemories = 1

	// DefaultLogLevel controls verbosity for StormStack logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "stormstack.log"
	// DefaultLogMaxSizeMB caps a single log file's size before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression of rotated logs.
	DefaultLogCompress = true
)

// Config captures every runtime tunable for the stormstackd process.
type Config struct {
	Address         string
	MetricsAddress  string
	JWTSecret       string
	ResourcesPath   string
	MaxPayloadBytes int64
	MaxClients      int
	TickRateHz      float64
	SessionTimeout  time.Duration

	Wasm    WasmConfig
	Logging LoggingConfig
}

// WasmConfig captures the sandbox resource caps from spec.md §4.11.
type WasmConfig struct {
	Fuel               uint64
	EpochDeadline      uint64
	EpochTick          time.Duration
	MemoryLimitBytes   uint64
	StackLimitBytes    uint64
	MaxTables          int
	MaxTableElements   int
	MaxInstances       int
	MaxMemories        int
}

// LoggingConfig captures structured logging options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads configuration from the environment, applying defaults and
// returning an aggregated, descriptive error for any invalid override.
func Load() (*Config, error) {
	cfg := &Config{
		Address:         getString("STORMSTACK_PORT_ADDR", DefaultAddr),
		MetricsAddress:  getString("STORMSTACK_METRICS_ADDR", DefaultMetricsAddr),
		JWTSecret:       strings.TrimSpace(os.Getenv("STORMSTACK_JWT_SECRET")),
		ResourcesPath:   getString("STORMSTACK_RESOURCES_PATH", DefaultResourcesPath),
		MaxPayloadBytes: DefaultMaxPayloadBytes,
		MaxClients:      DefaultMaxClients,
		TickRateHz:      DefaultTickRateHz,
		SessionTimeout:  DefaultSessionTimeout,
		Wasm: WasmConfig{
			Fuel:             DefaultWasmFuel,
			EpochDeadline:    DefaultWasmEpochDeadline,
			EpochTick:        DefaultWasmEpochTick,
			MemoryLimitBytes: DefaultWasmMemoryLimitBytes,
			StackLimitBytes:  DefaultWasmStackLimitBytes,
			MaxTables:        DefaultWasmMaxTables,
			MaxTableElements: DefaultWasmMaxTableElements,
			MaxInstances:     DefaultWasmMaxInstances,
			MaxMemories:      DefaultWasmMaxMemories,
		},
		Logging: LoggingConfig{
			Level:      getString("STORMSTACK_LOG_LEVEL", DefaultLogLevel),
			Path:       getString("STORMSTACK_LOG_PATH", DefaultLogPath),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	if port := strings.TrimSpace(os.Getenv("STORMSTACK_PORT")); port != "" {
		cfg.Address = ":" + port
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("STORMSTACK_MAX_PAYLOAD_BYTES")); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			problems = append(problems, fmt.Sprintf("STORMSTACK_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = v
		}
	}

	if raw := strings.TrimSpace(os.Getenv("STORMSTACK_MAX_CLIENTS")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			problems = append(problems, fmt.Sprintf("STORMSTACK_MAX_CLIENTS must be a non-negative integer, got %q", raw))
		} else {
			cfg.MaxClients = v
		}
	}

	if raw := strings.TrimSpace(os.Getenv("STORMSTACK_TICK_RATE_HZ")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			problems = append(problems, fmt.Sprintf("STORMSTACK_TICK_RATE_HZ must be a positive number, got %q", raw))
		} else {
			cfg.TickRateHz = v
		}
	}

	if raw := strings.TrimSpace(os.Getenv("STORMSTACK_SESSION_TIMEOUT")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			problems = append(problems, fmt.Sprintf("STORMSTACK_SESSION_TIMEOUT must be a positive duration, got %q", raw))
		} else {
			cfg.SessionTimeout = d
		}
	}

	if raw := strings.TrimSpace(os.Getenv("STORMSTACK_WASM_FUEL")); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || v == 0 {
			problems = append(problems, fmt.Sprintf("STORMSTACK_WASM_FUEL must be a positive integer, got %q", raw))
		} else {
			cfg.Wasm.Fuel = v
		}
	}

	if raw := strings.TrimSpace(os.Getenv("STORMSTACK_WASM_EPOCH_DEADLINE")); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || v == 0 {
			problems = append(problems, fmt.Sprintf("STORMSTACK_WASM_EPOCH_DEADLINE must be a positive integer, got %q", raw))
		} else {
			cfg.Wasm.EpochDeadline = v
		}
	}

	if raw := strings.TrimSpace(os.Getenv("STORMSTACK_WASM_MEMORY_LIMIT_BYTES")); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || v == 0 {
			problems = append(problems, fmt.Sprintf("STORMSTACK_WASM_MEMORY_LIMIT_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.Wasm.MemoryLimitBytes = v
		}
	}

	if raw := strings.TrimSpace(os.Getenv("STORMSTACK_WASM_STACK_LIMIT_BYTES")); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || v == 0 {
			problems = append(problems, fmt.Sprintf("STORMSTACK_WASM_STACK_LIMIT_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.Wasm.StackLimitBytes = v
		}
	}

	if raw := strings.TrimSpace(os.Getenv("STORMSTACK_LOG_MAX_SIZE_MB")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			problems = append(problems, fmt.Sprintf("STORMSTACK_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = v
		}
	}

	if raw := strings.TrimSpace(os.Getenv("STORMSTACK_LOG_MAX_BACKUPS")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			problems = append(problems, fmt.Sprintf("STORMSTACK_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = v
		}
	}

	if raw := strings.TrimSpace(os.Getenv("STORMSTACK_LOG_MAX_AGE_DAYS")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			problems = append(problems, fmt.Sprintf("STORMSTACK_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = v
		}
	}

	if raw := strings.TrimSpace(os.Getenv("STORMSTACK_LOG_COMPRESS")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("STORMSTACK_LOG_COMPRESS must be a boolean, got %q", raw))
		} else {
			cfg.Logging.Compress = v
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// Package sandbox runs untrusted WASM game modules with hard resource caps
// and no ambient authority: zero host capabilities by default, fuel-limited
// execution, an epoch-based wall-clock backup, and memory/table/instance
// limits enforced by the wasmtime store.
package sandbox

import (
	"strings"
	"sync"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v21"

	"stormstack/platform/internal/errs"
	"stormstack/platform/internal/metrics"
)

// Limits caps one instance's resource consumption. Defaults mirror the
// minimum-safe configuration: 1M fuel, a ~1s epoch backup, 16 MiB memory,
// 1 MiB stack. MaxStackBytes is carried but not applied to the engine or the
// store, so the wasm stack size is wasmtime's own default.
type Limits struct {
	MaxFuel          uint64
	EpochDeadline    uint64
	MaxMemoryBytes   uint64
	MaxStackBytes    uint64
	MaxTables        uint32
	MaxTableElements uint32
	MaxInstances     uint32
	MaxMemories      uint32
}

// DefaultLimits returns the minimum-safe resource caps.
func DefaultLimits() Limits {
	return Limits{
		MaxFuel:          1_000_000,
		EpochDeadline:    100,
		MaxMemoryBytes:   16 << 20,
		MaxStackBytes:    1 << 20,
		MaxTables:        10,
		MaxTableElements: 10_000,
		MaxInstances:     10,
		MaxMemories:      1,
	}
}

// Config toggles sandbox-wide engine features.
type Config struct {
	FuelEnabled  bool
	EpochEnabled bool
	MultiMemory  bool
	SIMD         bool
	EpochTick    time.Duration
}

// DefaultConfig enables fuel and epoch metering, SIMD, and leaves
// multi-memory and threads off -- the security-relevant defaults from
// spec.md §4.11.
func DefaultConfig() Config {
	return Config{FuelEnabled: true, EpochEnabled: true, MultiMemory: false, SIMD: true, EpochTick: 10 * time.Millisecond}
}

// Module is a compiled WASM module ready for instantiation.
type Module struct {
	module *wasmtime.Module
	name   string
}

// Name returns the module's registered name.
func (m *Module) Name() string { return m.name }

// Instance is one instantiated module with its own store and fuel budget.
type Instance struct {
	store       *wasmtime.Store
	instance    *wasmtime.Instance
	initialFuel uint64
}

// FuelConsumed reports how much fuel has been spent since instantiation.
func (i *Instance) FuelConsumed() uint64 {
	if i.store == nil {
		return 0
	}
	remaining, err := i.store.GetFuel()
	if err != nil || remaining > i.initialFuel {
		return 0
	}
	return i.initialFuel - remaining
}

// FuelRemaining reports the fuel left in the instance's store.
func (i *Instance) FuelRemaining() uint64 {
	if i.store == nil {
		return 0
	}
	remaining, err := i.store.GetFuel()
	if err != nil {
		return 0
	}
	return remaining
}

// MemoryUsage reports the instance's exported "memory" size in bytes, or 0
// if it exports none.
func (i *Instance) MemoryUsage() uint64 {
	mem := i.instance.GetExport(i.store, "memory")
	if mem == nil || mem.Memory() == nil {
		return 0
	}
	return mem.Memory().DataSize(i.store)
}

// Sandbox owns one wasmtime engine and linker shared across every module it
// loads. Host functions are registered on the linker before any module is
// instantiated -- see internal/hostfuncs.
type Sandbox struct {
	engine *wasmtime.Engine
	linker *wasmtime.Linker
	config Config

	mu       sync.Mutex
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a sandbox with cfg, starting the epoch incrementer
// goroutine if epoch metering is enabled.
func New(cfg Config) (*Sandbox, error) {
	wc := wasmtime.NewConfig()
	wc.SetConsumeFuel(cfg.FuelEnabled)
	wc.SetEpochInterruption(cfg.EpochEnabled)
	wc.SetWasmSIMD(cfg.SIMD)
	wc.SetWasmMultiMemory(cfg.MultiMemory)
	wc.SetWasmThreads(false)

	engine := wasmtime.NewEngineWithConfig(wc)
	linker := wasmtime.NewLinker(engine)

	s := &Sandbox{engine: engine, linker: linker, config: cfg}
	if cfg.EpochEnabled {
		tick := cfg.EpochTick
		if tick <= 0 {
			tick = 10 * time.Millisecond
		}
		s.stopCh = make(chan struct{})
		go s.incrementEpochs(tick)
	}
	return s, nil
}

func (s *Sandbox) incrementEpochs(tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.engine.IncrementEpoch()
		}
	}
}

// Close stops the epoch incrementer goroutine. Idempotent.
func (s *Sandbox) Close() {
	if s.stopCh == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Linker exposes the shared linker so host function providers can register
// imports before any module is instantiated.
func (s *Sandbox) Linker() *wasmtime.Linker { return s.linker }

// LoadModule compiles wasm bytes into a Module, returning CompilationError
// on failure.
func (s *Sandbox) LoadModule(wasmBytes []byte, name string) (*Module, error) {
	if name == "" {
		name = "unnamed"
	}
	mod, err := wasmtime.NewModule(s.engine, wasmBytes)
	if err != nil {
		return nil, errs.Wrap(errs.KindCompilationError, "failed to compile module", err)
	}
	return &Module{module: mod, name: name}, nil
}

// Instantiate creates a store pre-charged with limits.MaxFuel, an epoch
// deadline set to limits.EpochDeadline with trap-on-overrun, and a resource
// limiter bounding memory/tables/instances/memories.
func (s *Sandbox) Instantiate(module *Module, limits Limits) (*Instance, error) {
	store := wasmtime.NewStore(s.engine)

	storeLimits := wasmtime.NewStoreLimitsBuilder().
		MemorySize(int64(limits.MaxMemoryBytes)).
		TableElements(int64(limits.MaxTableElements)).
		Instances(int64(limits.MaxInstances)).
		Tables(int64(limits.MaxTables)).
		Memories(int64(limits.MaxMemories)).
		Build()
	store.Limiter(storeLimits)

	if s.config.FuelEnabled {
		if err := store.SetFuel(limits.MaxFuel); err != nil {
			return nil, errs.Wrap(errs.KindInstantiationError, "failed to set fuel", err)
		}
	}
	if s.config.EpochEnabled {
		store.SetEpochDeadline(limits.EpochDeadline)
	}

	instance, err := s.linker.Instantiate(store, module.module)
	if err != nil {
		return nil, errs.Wrap(errs.KindInstantiationError, "failed to instantiate module", err)
	}

	return &Instance{store: store, instance: instance, initialFuel: limits.MaxFuel}, nil
}

// Execute locates funcName in instance and calls it with args, converting
// the wasmtime trap/error to a classified error on failure.
func (s *Sandbox) Execute(instance *Instance, funcName string, args ...any) ([]any, error) {
	fn := instance.instance.GetFunc(instance.store, funcName)
	if fn == nil {
		return nil, errs.Newf(errs.KindFunctionNotFound, "function %q not found", funcName)
	}

	result, err := fn.Call(instance.store, args...)
	if err != nil {
		classified := classifyTrap(err, instance)
		metrics.SandboxTraps.WithLabelValues(string(errs.KindOf(classified))).Inc()
		return nil, classified
	}
	switch v := result.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	default:
		return []any{v}, nil
	}
}

// classifyTrap maps a wasmtime execution error to spec.md §4.11's trap
// taxonomy. String matching is the fallback when the error does not carry a
// typed wasmtime.Trap we can downcast.
func classifyTrap(err error, instance *Instance) error {
	lower := strings.ToLower(err.Error())

	switch {
	case strings.Contains(lower, "fuel"):
		return errs.FuelExhausted(instance.FuelConsumed()).WithDetails(map[string]any{"cause": err.Error()})
	case strings.Contains(lower, "epoch") || strings.Contains(lower, "interrupt"):
		return errs.Wrap(errs.KindEpochDeadlineExceeded, "epoch deadline exceeded", err)
	case strings.Contains(lower, "memory") && strings.Contains(lower, "limit"):
		return errs.MemoryLimitExceeded(0, 0).WithDetails(map[string]any{"cause": err.Error()})
	case strings.Contains(lower, "stack overflow") || strings.Contains(lower, "call stack"):
		return errs.Wrap(errs.KindStackOverflow, "stack overflow", err)
	case strings.Contains(lower, "out of bounds"):
		return errs.Wrap(errs.KindTrap, "memory access out of bounds", err)
	default:
		return errs.Wrap(errs.KindTrap, "wasm execution trapped", err)
	}
}

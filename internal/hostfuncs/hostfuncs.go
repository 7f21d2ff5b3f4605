// Package hostfuncs implements the sandbox's capability contract: the
// per-tick state exposed to WASM host calls, and the host functions
// themselves, each bounds-checking memory, validating UTF-8, and enforcing
// a per-tick call budget before touching the world.
package hostfuncs

import (
	"math/rand"
	"sync"
	"unicode/utf8"

	"github.com/bytecodealliance/wasmtime-go/v21"
	"golang.org/x/time/rate"

	"stormstack/platform/internal/id"
	"stormstack/platform/internal/world"
)

// Host function result codes, shared with the wire contract in spec.md §6.
const (
	ResultOK                  int32 = 0
	ResultRateLimited         int32 = -1
	ResultInvalidMemoryAccess int32 = -2
	ResultNotFound            int32 = -3
	ResultNoWorldAttached     int32 = -4
	ResultInvalidUTF8         int32 = -5
)

// Default per-tick call budgets, per spec.md §4.11.
const (
	DefaultMaxLogCallsPerTick   = 100
	DefaultMaxSpawnCallsPerTick = 100
)

// maxLogMessageBytes caps how much of an oversized log message is copied
// out of WASM memory, so a misbehaved module can't force an unbounded copy.
const maxLogMessageBytes = 1024

// LogLevel classifies a message appended via one of the log_* host calls.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogEntry is one message a module logged during a tick.
type LogEntry struct {
	Level   LogLevel
	Message string
	Tick    uint64
}

// TickState is the per-tenant, per-tick state host functions observe and
// mutate. BeginTick resets every rate-limit counter, so a module cannot
// carry over unused budget across ticks.
type TickState struct {
	mu sync.Mutex

	tenantID    id.TenantID
	world       *world.World
	currentTick uint64
	deltaTime   float64
	rng         *rand.Rand

	logBuffer     []LogEntry
	maxLogCalls   int
	maxSpawnCalls int
	logLimiter    *rate.Limiter
	spawnLimiter  *rate.Limiter
}

// NewTickState constructs tick state scoped to tenantID and w, seeded
// deterministically so replays of the same seed reproduce the same random
// sequence.
func NewTickState(tenantID id.TenantID, w *world.World, seed int64) *TickState {
	s := &TickState{
		tenantID:      tenantID,
		world:         w,
		rng:           rand.New(rand.NewSource(seed)),
		maxLogCalls:   DefaultMaxLogCallsPerTick,
		maxSpawnCalls: DefaultMaxSpawnCallsPerTick,
	}
	s.BeginTick(0, 0)
	return s
}

// TenantID returns the tenant every mutation through this state is scoped to.
func (s *TickState) TenantID() id.TenantID { return s.tenantID }

// CurrentTick returns the tick number host calls currently observe.
func (s *TickState) CurrentTick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTick
}

// DeltaTime returns the seconds elapsed in the current tick.
func (s *TickState) DeltaTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deltaTime
}

// BeginTick resets the log buffer and both per-tick rate limiters to their
// full budget; spec.md §4.11 requires counters to reset on begin_tick.
func (s *TickState) BeginTick(tick uint64, dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTick = tick
	s.deltaTime = dt
	s.logBuffer = s.logBuffer[:0]
	// Burst-only limiters with zero refill rate: each tick gets exactly
	// maxCalls tokens and nothing replenishes mid-tick.
	s.logLimiter = rate.NewLimiter(rate.Limit(0), s.maxLogCalls)
	s.spawnLimiter = rate.NewLimiter(rate.Limit(0), s.maxSpawnCalls)
}

// LogBuffer returns a copy of the messages logged so far this tick.
func (s *TickState) LogBuffer() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogEntry, len(s.logBuffer))
	copy(out, s.logBuffer)
	return out
}

func (s *TickState) appendLog(level LogLevel, msg string) int32 {
	if !utf8.ValidString(msg) {
		return ResultInvalidUTF8
	}
	if len(msg) > maxLogMessageBytes {
		msg = truncateOnRuneBoundary(msg, maxLogMessageBytes)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.logLimiter.Allow() {
		return ResultRateLimited
	}
	s.logBuffer = append(s.logBuffer, LogEntry{Level: level, Message: msg, Tick: s.currentTick})
	return ResultOK
}

// truncateOnRuneBoundary cuts s to at most n bytes without splitting the
// rune straddling the cut point, so callers never end up with trailing
// invalid UTF-8 purely as an artifact of truncation.
func truncateOnRuneBoundary(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (s *TickState) trySpawn() (id.EntityID, int32) {
	s.mu.Lock()
	limiter := s.spawnLimiter
	w := s.world
	s.mu.Unlock()
	if !limiter.Allow() {
		return 0, ResultRateLimited
	}
	if w == nil {
		return 0, ResultNoWorldAttached
	}
	return w.Spawn(), ResultOK
}

func (s *TickState) tryDespawn(entityID id.EntityID) int32 {
	s.mu.Lock()
	w := s.world
	s.mu.Unlock()
	if w == nil {
		return ResultNoWorldAttached
	}
	if err := w.Despawn(entityID); err != nil {
		return ResultNotFound
	}
	return ResultOK
}

func (s *TickState) entityExists(entityID id.EntityID) (bool, int32) {
	s.mu.Lock()
	w := s.world
	s.mu.Unlock()
	if w == nil {
		return false, ResultNoWorldAttached
	}
	return w.Exists(entityID), ResultOK
}

func (s *TickState) setComponent(entityID id.EntityID, componentType id.ComponentTypeID, data []byte) int32 {
	s.mu.Lock()
	w := s.world
	s.mu.Unlock()
	if w == nil {
		return ResultNoWorldAttached
	}
	if err := w.SetComponent(entityID, componentType, data); err != nil {
		return ResultNotFound
	}
	return ResultOK
}

func (s *TickState) nextRandomU32() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Uint32()
}

func (s *TickState) nextRandomF32() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float32()
}

func (s *TickState) nextRandomRange(min, max float32) float32 {
	if max <= min {
		return min
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return min + s.rng.Float32()*(max-min)
}

// Provider registers the capability contract's host functions onto a
// sandbox linker. Zero capabilities exist until Register is called: a
// module only gains access to functions explicitly registered here.
type Provider struct {
	state *TickState
}

// NewProvider constructs a provider whose host functions mutate state.
func NewProvider(state *TickState) *Provider { return &Provider{state: state} }

// Register installs every host import under the "env" module namespace,
// matching the full host-call surface: logging, time, entity lifecycle, and
// deterministic random number generation.
func (p *Provider) Register(linker *wasmtime.Linker) error {
	funcs := map[string]any{
		"log_debug": p.makeLogFunc(LogLevelDebug),
		"log_info":  p.makeLogFunc(LogLevelInfo),
		"log_warn":  p.makeLogFunc(LogLevelWarn),
		"log_error": p.makeLogFunc(LogLevelError),

		"get_tick":       p.hostGetTick,
		"get_delta_time": p.hostGetDeltaTime,

		"entity_spawn":         p.hostEntitySpawn,
		"entity_despawn":       p.hostEntityDespawn,
		"entity_exists":        p.hostEntityExists,
		"entity_set_component": p.hostSetComponent,

		"random_u32":   p.hostRandomU32,
		"random_f32":   p.hostRandomF32,
		"random_range": p.hostRandomRange,
	}
	for name, fn := range funcs {
		if err := linker.FuncWrap("env", name, fn); err != nil {
			return err
		}
	}
	return nil
}

// makeLogFunc binds level to a host_log-shaped function reading a UTF-8
// string from the caller's linear memory at [ptr, ptr+length).
func (p *Provider) makeLogFunc(level LogLevel) func(*wasmtime.Caller, int32, int32) int32 {
	return func(caller *wasmtime.Caller, ptr, length int32) int32 {
		data, ok := readMemory(caller, ptr, length)
		if !ok {
			return ResultInvalidMemoryAccess
		}
		return p.state.appendLog(level, string(data))
	}
}

func (p *Provider) hostGetTick(caller *wasmtime.Caller) int64 {
	return int64(p.state.CurrentTick())
}

func (p *Provider) hostGetDeltaTime(caller *wasmtime.Caller) float64 {
	return p.state.DeltaTime()
}

// hostEntitySpawn spawns an entity in the attached world, returning its id
// and ResultOK, or a zero id and the failing result code.
func (p *Provider) hostEntitySpawn(caller *wasmtime.Caller) (int64, int32) {
	entityID, code := p.state.trySpawn()
	if code != ResultOK {
		return 0, code
	}
	return int64(uint64(entityID)), ResultOK
}

func (p *Provider) hostEntityDespawn(caller *wasmtime.Caller, entityID int64) int32 {
	if entityID < 0 {
		return ResultNotFound
	}
	return p.state.tryDespawn(id.EntityID(uint64(entityID)))
}

func (p *Provider) hostEntityExists(caller *wasmtime.Caller, entityID int64) int32 {
	if entityID < 0 {
		return 0
	}
	exists, code := p.state.entityExists(id.EntityID(uint64(entityID)))
	if code != ResultOK {
		return 0
	}
	if exists {
		return 1
	}
	return 0
}

// hostSetComponent reads component bytes from the caller's memory at
// [ptr, ptr+length) and writes them onto entityID's componentType slot.
func (p *Provider) hostSetComponent(caller *wasmtime.Caller, entityID, componentType int64, ptr, length int32) int32 {
	if entityID < 0 || componentType < 0 {
		return ResultNotFound
	}
	data, ok := readMemory(caller, ptr, length)
	if !ok {
		return ResultInvalidMemoryAccess
	}
	return p.state.setComponent(id.EntityID(uint64(entityID)), id.ComponentTypeID(uint64(componentType)), data)
}

func (p *Provider) hostRandomU32(caller *wasmtime.Caller) int32 {
	return int32(p.state.nextRandomU32())
}

func (p *Provider) hostRandomF32(caller *wasmtime.Caller) float32 {
	return p.state.nextRandomF32()
}

func (p *Provider) hostRandomRange(caller *wasmtime.Caller, min, max float32) float32 {
	return p.state.nextRandomRange(min, max)
}

// readMemory bounds-checks [ptr, ptr+length) against the calling instance's
// exported "memory" before copying it out -- the (a) bounds-check
// requirement every host function in spec.md §4.11 must satisfy.
func readMemory(caller *wasmtime.Caller, ptr, length int32) ([]byte, bool) {
	if ptr < 0 || length < 0 {
		return nil, false
	}
	ext := caller.GetExport("memory")
	if ext == nil || ext.Memory() == nil {
		return nil, false
	}
	data := ext.Memory().UnsafeData(caller)
	start, end := int(ptr), int(ptr)+int(length)
	if start > len(data) || end > len(data) || end < start {
		return nil, false
	}
	out := make([]byte, length)
	copy(out, data[start:end])
	return out, true
}

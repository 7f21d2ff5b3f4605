// Package command implements the command subsystem: a thread-safe registry
// mapping command names to factories, a per-match FIFO queue, and the
// per-tick drain that executes queued commands against a fresh context.
package command

import (
	"fmt"
	"sort"
	"sync"

	"stormstack/platform/internal/errs"
	"stormstack/platform/internal/id"
	"stormstack/platform/internal/world"
)

// Context is handed to every command's Execute call, fresh per drain.
type Context struct {
	World   *world.World
	MatchID id.MatchID
	UserID  id.UserID
	Tick    uint64
}

// Result is the outcome of one command execution.
type Result struct {
	Success bool
	Message string
	Data    map[string]any
}

// Command is a single unit of work enqueued against a match. Implementations
// must be side-effect-free when they report failure and must not retain
// references to the Context beyond Execute returning.
type Command interface {
	Execute(ctx *Context) (Result, error)
}

// Factory validates a structured payload and constructs a Command, or
// returns a validation error describing why the payload is rejected.
type Factory func(payload map[string]any) (Command, error)

// Registry is a thread-safe, process-wide mapping from command name to
// factory. Reads are lock-free-safe via RWMutex; registrations are expected
// only at startup, mirroring the teacher's config/session construction-time
// validation pattern.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry constructs a registry pre-populated with the built-in
// spawn_entity and despawn_entity commands.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.MustRegister("spawn_entity", spawnEntityFactory)
	r.MustRegister("despawn_entity", despawnEntityFactory)
	return r
}

// Register adds a factory under name, failing if the name is already taken.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return errs.New(errs.KindInvalidPayload, "command name and factory must be non-empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return errs.Newf(errs.KindInvalidPayload, "command %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// MustRegister panics on registration failure; used only for the two
// built-in commands at construction time.
func (r *Registry) MustRegister(name string, factory Factory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// Names returns every registered command name, sorted for stable listing.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Build looks up name and constructs a Command from the payload.
func (r *Registry) Build(name string, payload map[string]any) (Command, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.Newf(errs.KindCommandNotFound, "no command registered under name %q", name)
	}
	return factory(payload)
}

// QueuedCommand is one enqueued unit of work awaiting drain.
type QueuedCommand struct {
	Name    string
	Cmd     Command
	UserID  id.UserID
	EnqueueTick uint64
}

// Queue is a match's FIFO of pending commands. Enqueue is O(1),
// non-blocking, and independently locked per match so enqueues from request
// handlers never contend with other matches' queues.
type Queue struct {
	mu    sync.Mutex
	items []QueuedCommand
}

// NewQueue constructs an empty command queue.
func NewQueue() *Queue { return &Queue{} }

// Enqueue appends a command to the back of the queue.
func (q *Queue) Enqueue(item QueuedCommand) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// Clear discards every pending command.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

// Len reports the number of pending commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drain atomically removes and returns every pending command in FIFO order.
func (q *Queue) drain() []QueuedCommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	items := q.items
	q.items = nil
	return items
}

// DrainedResult pairs a command's registered name with its execution result,
// so callers (the container's per-tick metrics) can label outcomes by
// command type.
type DrainedResult struct {
	Name   string
	Result Result
}

// Drain executes every queued command, in submission order, against a fresh
// Context built from w/matchID/tick, classifying each outcome per the
// command subsystem's contract: Execute errors become an internal-error
// result rather than aborting the drain.
func Drain(q *Queue, w *world.World, matchID id.MatchID, tick uint64) []DrainedResult {
	items := q.drain()
	results := make([]DrainedResult, 0, len(items))
	for _, item := range items {
		ctx := &Context{World: w, MatchID: matchID, UserID: item.UserID, Tick: tick}
		result, err := item.Cmd.Execute(ctx)
		if err != nil {
			results = append(results, DrainedResult{Name: item.Name, Result: Result{
				Success: false,
				Message: fmt.Sprintf("Internal error: %v", err),
			}})
			continue
		}
		results = append(results, DrainedResult{Name: item.Name, Result: result})
	}
	return results
}

// spawnEntityCommand is the built-in "spawn_entity" command; it takes no payload.
type spawnEntityCommand struct{}

func spawnEntityFactory(_ map[string]any) (Command, error) {
	return spawnEntityCommand{}, nil
}

func (spawnEntityCommand) Execute(ctx *Context) (Result, error) {
	eid := ctx.World.Spawn()
	return Result{Success: true, Data: map[string]any{"entity_id": eid.String()}}, nil
}

// despawnEntityCommand is the built-in "despawn_entity" command; its payload
// must contain an integer entity_id.
type despawnEntityCommand struct {
	entityID id.EntityID
}

func despawnEntityFactory(payload map[string]any) (Command, error) {
	raw, ok := payload["entity_id"]
	if !ok {
		return nil, errs.New(errs.KindInvalidPayload, "despawn_entity requires an entity_id field")
	}
	entityID, ok := coerceEntityID(raw)
	if !ok {
		return nil, errs.New(errs.KindInvalidPayload, "despawn_entity entity_id must be an integer")
	}
	return despawnEntityCommand{entityID: entityID}, nil
}

func (c despawnEntityCommand) Execute(ctx *Context) (Result, error) {
	if err := ctx.World.Despawn(c.entityID); err != nil {
		return Result{Success: false, Message: err.Error()}, nil
	}
	return Result{Success: true}, nil
}

// coerceEntityID accepts the JSON-decoded numeric forms a payload's
// entity_id field may arrive as.
func coerceEntityID(raw any) (id.EntityID, bool) {
	switch v := raw.(type) {
	case float64:
		if v < 0 {
			return 0, false
		}
		return id.EntityID(uint64(v)), true
	case int:
		if v < 0 {
			return 0, false
		}
		return id.EntityID(uint64(v)), true
	case uint64:
		return id.EntityID(v), true
	case int64:
		if v < 0 {
			return 0, false
		}
		return id.EntityID(uint64(v)), true
	default:
		return 0, false
	}
}

// Package container implements the Container: one owned World, a mapping of
// MatchId to Match, and loaded-module metadata. Tick(dt) advances the world,
// then drains every match's command queue, then ticks each active match --
// the fixed order spec.md's container section requires.
package container

import (
	"sort"
	"sync"
	"time"

	"stormstack/platform/internal/command"
	"stormstack/platform/internal/errs"
	"stormstack/platform/internal/id"
	"stormstack/platform/internal/match"
	"stormstack/platform/internal/metrics"
	"stormstack/platform/internal/world"
)

// LoadedModule is metadata-only: the container records that a module is
// associated with it, but executing it is the sandbox's job.
type LoadedModule struct {
	Name    string
	Version string
}

// TickOutcome reports what happened during one container tick, including
// per-match command results, for callers that want to broadcast or log.
type TickOutcome struct {
	ContainerID id.ContainerID
	MatchResults map[id.MatchID][]command.DrainedResult
}

// Container owns exactly one World and its matches, per the ownership
// summary in spec.md §3.
type Container struct {
	mu       sync.RWMutex
	id       id.ContainerID
	tenantID id.TenantID
	world    *world.World
	matches  map[id.MatchID]*match.Match
	modules  map[string]LoadedModule
	registry *command.Registry
}

// New constructs a container owned by tenantID with a fresh, empty world.
func New(tenantID id.TenantID, registry *command.Registry) *Container {
	return &Container{
		id:       id.NewContainerID(),
		tenantID: tenantID,
		world:    world.New(),
		matches:  make(map[id.MatchID]*match.Match),
		modules:  make(map[string]LoadedModule),
		registry: registry,
	}
}

// ID returns the container's identifier.
func (c *Container) ID() id.ContainerID { return c.id }

// TenantID returns the owning tenant's identifier. Immutable after creation.
func (c *Container) TenantID() id.TenantID { return c.tenantID }

// World returns the container's owned world.
func (c *Container) World() *world.World { return c.world }

// CreateMatch registers a new match under this container and returns it.
func (c *Container) CreateMatch(cfg match.Config) *match.Match {
	m := match.New(id.NewMatchID(), cfg)
	c.mu.Lock()
	c.matches[m.ID()] = m
	c.mu.Unlock()
	return m
}

// Match looks up a match by id.
func (c *Container) Match(matchID id.MatchID) (*match.Match, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.matches[matchID]
	if !ok {
		return nil, errs.Newf(errs.KindMatchNotFound, "match %s not found", matchID)
	}
	return m, nil
}

// Matches returns every match currently registered under this container.
func (c *Container) Matches() []*match.Match {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*match.Match, 0, len(c.matches))
	for _, m := range c.matches {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID().String() < out[j].ID().String() })
	return out
}

// DeleteMatch removes a match by id.
func (c *Container) DeleteMatch(matchID id.MatchID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.matches[matchID]; !ok {
		return errs.Newf(errs.KindMatchNotFound, "match %s not found", matchID)
	}
	delete(c.matches, matchID)
	return nil
}

// LoadModule records loaded-module metadata; it is purely bookkeeping here.
func (c *Container) LoadModule(mod LoadedModule) error {
	if mod.Name == "" {
		return errs.New(errs.KindInvalidPayload, "module name must not be empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.modules[mod.Name]; exists {
		return errs.Newf(errs.KindModuleAlreadyLoaded, "module %q already loaded", mod.Name)
	}
	c.modules[mod.Name] = mod
	return nil
}

// UnloadModule removes loaded-module metadata.
func (c *Container) UnloadModule(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.modules[name]; !exists {
		return errs.Newf(errs.KindModuleNotFound, "module %q not loaded", name)
	}
	delete(c.modules, name)
	return nil
}

// LoadedModules returns a snapshot of loaded-module metadata.
func (c *Container) LoadedModules() []LoadedModule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]LoadedModule, 0, len(c.modules))
	for _, m := range c.modules {
		out = append(out, m)
	}
	return out
}

// Tick advances the owned world, then drains every match's command queue,
// then advances each match's own tick counter (only Active matches
// increment). The order is fixed: world.advance -> drain commands per match
// -> match tick advance; broadcast is the caller's responsibility afterward
// so the world lock is never held across it.
func (c *Container) Tick(dt time.Duration) (TickOutcome, error) {
	start := time.Now()
	defer func() {
		metrics.TickDuration.WithLabelValues(c.id.String()).Observe(time.Since(start).Seconds())
	}()

	c.world.Advance(dt.Seconds())

	outcome := TickOutcome{ContainerID: c.id, MatchResults: make(map[id.MatchID][]command.DrainedResult)}
	for _, m := range c.Matches() {
		drained := command.Drain(m.Queue(), c.world, m.ID(), c.world.Tick())
		for _, d := range drained {
			metrics.CommandsDrained.WithLabelValues(m.ID().String(), d.Name).Inc()
			if !d.Result.Success {
				metrics.CommandFailures.WithLabelValues(m.ID().String(), d.Name, "command_failure").Inc()
			}
		}
		outcome.MatchResults[m.ID()] = drained
		m.AdvanceTick()
	}
	return outcome, nil
}

// Registry exposes the command registry used to build commands enqueued
// against this container's matches.
func (c *Container) Registry() *command.Registry { return c.registry }

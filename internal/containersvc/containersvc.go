// Package containersvc is the Container service: a tenant-indexed registry
// of containers with ownership-checked lookups, so crossing tenants is
// indistinguishable from "not found" per spec.md's isolation invariant.
package containersvc

import (
	"sort"
	"sync"
	"time"

	"stormstack/platform/internal/command"
	"stormstack/platform/internal/container"
	"stormstack/platform/internal/errs"
	"stormstack/platform/internal/id"
	"stormstack/platform/internal/logging"
	"stormstack/platform/internal/match"
)

// Service maintains two tables keyed by ContainerId and by
// TenantId -> Set<ContainerId>, per spec.md §4.5.
type Service struct {
	mu         sync.RWMutex
	containers map[id.ContainerID]*container.Container
	byTenant   map[id.TenantID]map[id.ContainerID]struct{}
	registry   *command.Registry
	log        *logging.Logger
}

// New constructs an empty container service sharing one command registry
// across every container it creates.
func New(registry *command.Registry, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewTestLogger()
	}
	return &Service{
		containers: make(map[id.ContainerID]*container.Container),
		byTenant:   make(map[id.TenantID]map[id.ContainerID]struct{}),
		registry:   registry,
		log:        log.Named("containersvc"),
	}
}

// Create registers a new container for tenant and returns it. Infallible.
func (s *Service) Create(tenant id.TenantID) *container.Container {
	c := container.New(tenant, s.registry)
	s.mu.Lock()
	s.containers[c.ID()] = c
	if s.byTenant[tenant] == nil {
		s.byTenant[tenant] = make(map[id.ContainerID]struct{})
	}
	s.byTenant[tenant][c.ID()] = struct{}{}
	s.mu.Unlock()
	return c
}

// GetForTenant returns the container only if tenant matches its owner;
// otherwise it returns ContainerNotFound, never leaking cross-tenant
// existence.
func (s *Service) GetForTenant(containerID id.ContainerID, tenant id.TenantID) (*container.Container, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.containers[containerID]
	if !ok || c.TenantID() != tenant {
		return nil, errs.Newf(errs.KindContainerNotFound, "container %s not found", containerID)
	}
	return c, nil
}

// DeleteForTenant removes a container from both indices, applying the same
// isolation policy as GetForTenant.
func (s *Service) DeleteForTenant(containerID id.ContainerID, tenant id.TenantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[containerID]
	if !ok || c.TenantID() != tenant {
		return errs.Newf(errs.KindContainerNotFound, "container %s not found", containerID)
	}
	delete(s.containers, containerID)
	if set := s.byTenant[tenant]; set != nil {
		delete(set, containerID)
		if len(set) == 0 {
			delete(s.byTenant, tenant)
		}
	}
	return nil
}

// ListForTenant returns every container id registered for tenant.
func (s *Service) ListForTenant(tenant id.TenantID) []id.ContainerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.byTenant[tenant]
	out := make([]id.ContainerID, 0, len(set))
	for cid := range set {
		out = append(out, cid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// FindMatchForTenant searches every container owned by tenant for matchID,
// applying the same isolation policy as GetForTenant: a match owned by
// another tenant's container is indistinguishable from "not found".
func (s *Service) FindMatchForTenant(matchID id.MatchID, tenant id.TenantID) (*container.Container, *match.Match, error) {
	s.mu.RLock()
	owned := make([]*container.Container, 0, len(s.byTenant[tenant]))
	for cid := range s.byTenant[tenant] {
		owned = append(owned, s.containers[cid])
	}
	s.mu.RUnlock()

	for _, c := range owned {
		if m, err := c.Match(matchID); err == nil {
			return c, m, nil
		}
	}
	return nil, nil, errs.Newf(errs.KindMatchNotFound, "match %s not found", matchID)
}

// TickAllResult pairs a container id with the error (if any) its tick
// produced.
type TickAllResult struct {
	ContainerID id.ContainerID
	Container   *container.Container
	Outcome     container.TickOutcome
	Err         error
}

// TickAll iterates every registered container and calls Tick(dt) on each.
// An error from one container does not abort the rest: each result,
// success or failure, is aggregated and returned/logged.
func (s *Service) TickAll(dt time.Duration) []TickAllResult {
	s.mu.RLock()
	containers := make([]*container.Container, 0, len(s.containers))
	for _, c := range s.containers {
		containers = append(containers, c)
	}
	s.mu.RUnlock()

	results := make([]TickAllResult, 0, len(containers))
	for _, c := range containers {
		outcome, err := c.Tick(dt)
		if err != nil {
			s.log.Error("container tick failed", logging.String("container_id", c.ID().String()), logging.Err(err))
		}
		results = append(results, TickAllResult{ContainerID: c.ID(), Container: c, Outcome: outcome, Err: err})
	}
	return results
}

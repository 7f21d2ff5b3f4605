package containersvc

import (
	"testing"
	"time"

	"stormstack/platform/internal/command"
	"stormstack/platform/internal/errs"
	"stormstack/platform/internal/id"
)

func TestGetForTenantRejectsCrossTenantAccess(t *testing.T) {
	svc := New(command.NewRegistry(), nil)
	tenantA := id.NewTenantID()
	tenantB := id.NewTenantID()
	c := svc.Create(tenantA)

	if _, err := svc.GetForTenant(c.ID(), tenantA); err != nil {
		t.Fatalf("expected owning tenant to succeed, got %v", err)
	}

	_, err := svc.GetForTenant(c.ID(), tenantB)
	if errs.KindOf(err) != errs.KindContainerNotFound {
		t.Fatalf("expected container_not_found for cross-tenant access, got %v", err)
	}
}

func TestDeleteForTenantRejectsCrossTenantAccess(t *testing.T) {
	svc := New(command.NewRegistry(), nil)
	tenantA := id.NewTenantID()
	tenantB := id.NewTenantID()
	c := svc.Create(tenantA)

	err := svc.DeleteForTenant(c.ID(), tenantB)
	if errs.KindOf(err) != errs.KindContainerNotFound {
		t.Fatalf("expected container_not_found, got %v", err)
	}
	if _, err := svc.GetForTenant(c.ID(), tenantA); err != nil {
		t.Fatalf("expected container to survive failed cross-tenant delete, got %v", err)
	}
}

func TestListForTenantOnlyReturnsOwnedContainers(t *testing.T) {
	svc := New(command.NewRegistry(), nil)
	tenantA := id.NewTenantID()
	tenantB := id.NewTenantID()
	a1 := svc.Create(tenantA)
	svc.Create(tenantB)

	list := svc.ListForTenant(tenantA)
	if len(list) != 1 || list[0] != a1.ID() {
		t.Fatalf("expected only tenant A's container, got %v", list)
	}
}

func TestTickAllContinuesAfterAggregatingResults(t *testing.T) {
	svc := New(command.NewRegistry(), nil)
	svc.Create(id.NewTenantID())
	svc.Create(id.NewTenantID())

	results := svc.TickAll(16 * time.Millisecond)
	if len(results) != 2 {
		t.Fatalf("expected 2 tick results, got %d", len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("unexpected tick error: %v", r.Err)
		}
	}
}

func TestDeleteForTenantRemovesFromListing(t *testing.T) {
	svc := New(command.NewRegistry(), nil)
	tenant := id.NewTenantID()
	c := svc.Create(tenant)

	if err := svc.DeleteForTenant(c.ID(), tenant); err != nil {
		t.Fatalf("DeleteForTenant: %v", err)
	}
	if list := svc.ListForTenant(tenant); len(list) != 0 {
		t.Fatalf("expected empty listing after delete, got %v", list)
	}
}

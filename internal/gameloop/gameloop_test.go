package gameloop

import (
	"context"
	"testing"
	"time"

	"stormstack/platform/internal/command"
	"stormstack/platform/internal/connection"
	"stormstack/platform/internal/containersvc"
	"stormstack/platform/internal/id"
	"stormstack/platform/internal/match"
	"stormstack/platform/internal/subscription"
)

func TestNewAppliesDefaultTickRateWhenNonPositive(t *testing.T) {
	l := New(0, containersvc.New(command.NewRegistry(), nil), connection.New(subscription.New()), nil)
	want := time.Duration(float64(time.Second) / DefaultTickRateHz)
	if l.Period() != want {
		t.Fatalf("expected default period %v, got %v", want, l.Period())
	}
}

func TestRunBroadcastsSnapshotsForActiveMatches(t *testing.T) {
	fabric := subscription.New()
	conns := connection.New(fabric)
	svc := containersvc.New(command.NewRegistry(), nil)

	c := svc.Create(id.NewTenantID())
	m := c.CreateMatch(match.Config{})
	if err := m.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	connID := conns.Add(nil)
	if err := conns.Subscribe(connID, m.ID()); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	l := New(200, svc, conns, nil) // 200Hz keeps the test fast

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	l.Run(ctx)

	msgs, err := conns.Drain(connID)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(msgs) == 0 {
		t.Fatalf("expected at least one broadcast snapshot")
	}
}

func TestRunDoesNotBroadcastForPendingMatches(t *testing.T) {
	fabric := subscription.New()
	conns := connection.New(fabric)
	svc := containersvc.New(command.NewRegistry(), nil)

	c := svc.Create(id.NewTenantID())
	m := c.CreateMatch(match.Config{}) // left Pending

	connID := conns.Add(nil)
	if err := conns.Subscribe(connID, m.ID()); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	l := New(200, svc, conns, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	l.Run(ctx)

	msgs, err := conns.Drain(connID)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no broadcasts for a pending match, got %d", len(msgs))
	}
}


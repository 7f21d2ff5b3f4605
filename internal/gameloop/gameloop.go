// Package gameloop drives containersvc.TickAll at a fixed rate and
// broadcasts each active match's post-tick snapshot to its subscribers.
//
// This loop uses a skip-missed policy rather than a fixed-timestep
// accumulator: a buffering accumulator would replay the step function until
// it drains, bursting through any number of catch-up steps after a stall.
// Here time.Ticker already drops ticks the receiver falls behind on, and
// each woken iteration runs exactly one tick against however much
// wall-clock time actually elapsed. Under overload this drops intervening
// ticks rather than amplifying the backlog.
package gameloop

import (
	"context"
	"time"

	"stormstack/platform/internal/connection"
	"stormstack/platform/internal/containersvc"
	"stormstack/platform/internal/id"
	"stormstack/platform/internal/jsonx"
	"stormstack/platform/internal/logging"
	"stormstack/platform/internal/match"
	"stormstack/platform/internal/world"
)

// DefaultTickRateHz is the loop's default simulation frequency.
const DefaultTickRateHz = 60.0

// snapshotEnvelope is the wire shape broadcast to a match's subscribers
// after each tick: the match identifier plus the owning container's world
// snapshot, taken after that tick's world advance and command drain.
type snapshotEnvelope struct {
	Type     string         `json:"type"`
	MatchID  string         `json:"match_id"`
	Snapshot world.Snapshot `json:"snapshot"`
}

// Loop drives the fixed-rate simulation step.
type Loop struct {
	tickRateHz float64
	period     time.Duration
	containers *containersvc.Service
	conns      *connection.Manager
	log        *logging.Logger
	now        func() time.Time
}

// New constructs a loop targeting tickRateHz, driving containers and
// broadcasting through conns.
func New(tickRateHz float64, containers *containersvc.Service, conns *connection.Manager, log *logging.Logger) *Loop {
	if tickRateHz <= 0 {
		tickRateHz = DefaultTickRateHz
	}
	if log == nil {
		log = logging.NewTestLogger()
	}
	return &Loop{
		tickRateHz: tickRateHz,
		period:     time.Duration(float64(time.Second) / tickRateHz),
		containers: containers,
		conns:      conns,
		log:        log.Named("gameloop"),
		now:        time.Now,
	}
}

// Run starts the loop; it blocks until ctx is cancelled, then completes the
// in-flight tick (if any) and returns. No further snapshots are emitted
// after cancellation.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.period)
	defer ticker.Stop()

	last := l.now()
	for {
		select {
		case <-ctx.Done():
			l.log.Info("game loop stopped")
			return
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			l.step(dt)
		}
	}
}

func (l *Loop) step(dt time.Duration) {
	now := l.now().UnixMilli()
	results := l.containers.TickAll(dt)
	for _, res := range results {
		if res.Err != nil {
			continue
		}
		snap := res.Container.World().Snapshot(now)
		for _, m := range res.Container.Matches() {
			if m.State() != match.StateActive {
				continue
			}
			l.broadcastSnapshot(m.ID(), snap)
		}
	}
}

func (l *Loop) broadcastSnapshot(matchID id.MatchID, snap world.Snapshot) {
	payload, err := jsonx.Marshal(snapshotEnvelope{Type: "Snapshot", MatchID: matchID.String(), Snapshot: snap})
	if err != nil {
		l.log.Error("failed to encode snapshot", logging.String("match_id", matchID.String()), logging.Err(err))
		return
	}
	delivered, dropped := l.conns.BroadcastToMatch(matchID, payload)
	if dropped > 0 {
		l.log.Warn("dropped snapshot for some subscribers",
			logging.String("match_id", matchID.String()),
			logging.Int("delivered", delivered),
			logging.Int("dropped", dropped))
	}
}

// Period exposes the configured tick interval for tests.
func (l *Loop) Period() time.Duration { return l.period }

// Package connection implements the Connection manager: a registry of
// ConnectionState, each with an outbound mailbox and optional auth identity,
// plus subscribe/unsubscribe delegation to the subscription fabric and
// best-effort broadcast to a match's subscribers.
package connection

import (
	"sync"

	"stormstack/platform/internal/errs"
	"stormstack/platform/internal/id"
	"stormstack/platform/internal/metrics"
	"stormstack/platform/internal/subscription"
)

// Identity is the optional auth principal attached to a connection.
type Identity struct {
	UserID   id.UserID
	TenantID id.TenantID
	Roles    []string
}

// mailboxBufferSize bounds the per-connection outbound channel, mirroring
// the teacher's `send chan []byte` client buffer. A sender that outpaces
// this is counted as a drop (metrics.MailboxDrops) rather than growing the
// buffer without limit.
const mailboxBufferSize = 256

// mailbox is the per-connection outbound message queue: a buffered channel
// a single sendPump goroutine drains, so that goroutine is the only writer
// on the connection's socket.
type mailbox struct {
	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

func newMailbox() *mailbox { return &mailbox{ch: make(chan []byte, mailboxBufferSize)} }

// push enqueues msg without blocking; a full or closed mailbox reports an
// error so the caller can count it as a drop.
func (m *mailbox) push(msg []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errs.New(errs.KindConnectionClosed, "connection mailbox is closed")
	}
	select {
	case m.ch <- msg:
		return nil
	default:
		return errs.New(errs.KindResourceExhausted, "connection mailbox is full")
	}
}

// channel exposes the receiving side for the gateway's send loop to select
// on directly.
func (m *mailbox) channel() <-chan []byte { return m.ch }

// drain removes and returns every message currently queued, in FIFO order,
// without blocking. It exists for tests that want to inspect a mailbox's
// contents; the gateway's send loop reads the channel directly instead.
func (m *mailbox) drain() [][]byte {
	var out [][]byte
	for {
		select {
		case msg, ok := <-m.ch:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.ch)
}

// State is a registered connection's server-side record.
type State struct {
	ID       id.ConnectionID
	Identity *Identity
	mailbox  *mailbox
}

// Manager owns a Map<ConnectionId, ConnectionState>.
type Manager struct {
	mu      sync.RWMutex
	conns   map[id.ConnectionID]*State
	fabric  *subscription.Fabric
}

// New constructs a connection manager bound to a subscription fabric.
func New(fabric *subscription.Fabric) *Manager {
	return &Manager{conns: make(map[id.ConnectionID]*State), fabric: fabric}
}

// Add registers a new connection and returns its assigned identifier.
func (m *Manager) Add(identity *Identity) id.ConnectionID {
	connID := id.NewConnectionID()
	m.mu.Lock()
	m.conns[connID] = &State{ID: connID, Identity: identity, mailbox: newMailbox()}
	m.mu.Unlock()
	metrics.ActiveConnections.Inc()
	return connID
}

// Remove unregisters a connection and unsubscribes it from every match.
func (m *Manager) Remove(connID id.ConnectionID) {
	m.mu.Lock()
	state, ok := m.conns[connID]
	if ok {
		delete(m.conns, connID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	state.mailbox.close()
	m.fabric.RemoveConnection(connID)
	metrics.ActiveConnections.Dec()
}

// Send enqueues message on connID's mailbox.
func (m *Manager) Send(connID id.ConnectionID, message []byte) error {
	m.mu.RLock()
	state, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		return errs.Newf(errs.KindConnectionNotFound, "connection %s not found", connID)
	}
	return state.mailbox.push(message)
}

// Outbox returns the receiving side of connID's mailbox so a single sender
// goroutine (the gateway's sendPump) can select on it directly instead of
// polling Drain.
func (m *Manager) Outbox(connID id.ConnectionID) (<-chan []byte, error) {
	m.mu.RLock()
	state, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		return nil, errs.Newf(errs.KindConnectionNotFound, "connection %s not found", connID)
	}
	return state.mailbox.channel(), nil
}

// Drain removes and returns every pending message queued for connID.
func (m *Manager) Drain(connID id.ConnectionID) ([][]byte, error) {
	m.mu.RLock()
	state, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		return nil, errs.Newf(errs.KindConnectionNotFound, "connection %s not found", connID)
	}
	return state.mailbox.drain(), nil
}

// BroadcastToMatch fetches subscribers from the fabric and enqueues message
// on each; a failed enqueue is counted as a drop but does not abort the
// broadcast for other recipients.
func (m *Manager) BroadcastToMatch(matchID id.MatchID, message []byte) (delivered, dropped int) {
	for _, connID := range m.fabric.GetMatchSubscribers(matchID) {
		if err := m.Send(connID, message); err != nil {
			dropped++
			metrics.MailboxDrops.WithLabelValues(connID.String()).Inc()
			continue
		}
		delivered++
	}
	return delivered, dropped
}

// Subscribe delegates to the fabric after checking the connection exists.
func (m *Manager) Subscribe(connID id.ConnectionID, matchID id.MatchID) error {
	if !m.exists(connID) {
		return errs.Newf(errs.KindConnectionNotFound, "connection %s not found", connID)
	}
	m.fabric.Subscribe(connID, matchID)
	return nil
}

// Unsubscribe delegates to the fabric after checking the connection exists.
func (m *Manager) Unsubscribe(connID id.ConnectionID, matchID id.MatchID) error {
	if !m.exists(connID) {
		return errs.Newf(errs.KindConnectionNotFound, "connection %s not found", connID)
	}
	m.fabric.Unsubscribe(connID, matchID)
	return nil
}

func (m *Manager) exists(connID id.ConnectionID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.conns[connID]
	return ok
}

// Identity returns the auth identity attached to connID, if any.
func (m *Manager) Identity(connID id.ConnectionID) (*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.conns[connID]
	if !ok {
		return nil, errs.Newf(errs.KindConnectionNotFound, "connection %s not found", connID)
	}
	return state.Identity, nil
}

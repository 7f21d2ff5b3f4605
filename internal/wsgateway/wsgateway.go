// Package wsgateway upgrades HTTP connections to WebSocket streams and
// multiplexes each client's Subscribe/Unsubscribe/Command/Ping frames
// against the connection manager and the command subsystem.
package wsgateway

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"stormstack/platform/internal/command"
	"stormstack/platform/internal/connection"
	"stormstack/platform/internal/containersvc"
	"stormstack/platform/internal/id"
	"stormstack/platform/internal/jsonx"
	"stormstack/platform/internal/logging"
)

const (
	defaultWriteWait    = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	pongWaitMultiplier  = 2
)

var upgrader = websocket.Upgrader{}

// inboundCommand is the wire shape of a Command frame's nested command field.
type inboundCommand struct {
	Name     string         `json:"name"`
	EntityID *int64         `json:"entity_id"`
	Payload  map[string]any `json:"payload"`
}

// inboundMessage is the wire shape of every client -> server frame; fields
// not applicable to Type are simply left zero.
type inboundMessage struct {
	Type      string          `json:"type"`
	MatchID   string          `json:"match_id"`
	Command   *inboundCommand `json:"command"`
	Timestamp int64           `json:"timestamp"`
}

type errorEnvelope struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type pongEnvelope struct {
	Type       string `json:"type"`
	Timestamp  int64  `json:"timestamp"`
	ServerTime int64  `json:"server_time"`
}

type commandResult struct {
	Success      bool    `json:"success"`
	CommandID    string  `json:"command_id"`
	ExecutedTick *uint64 `json:"executed_tick,omitempty"`
	Error        string  `json:"error,omitempty"`
}

type commandResultEnvelope struct {
	Type    string        `json:"type"`
	MatchID string        `json:"match_id"`
	Result  commandResult `json:"result"`
}

// Gateway wires upgraded streams into the connection manager and the
// tenant-scoped container service.
type Gateway struct {
	containers      *containersvc.Service
	conns           *connection.Manager
	log             *logging.Logger
	maxPayloadBytes int64
	pingInterval    time.Duration
}

// Option configures optional Gateway behavior.
type Option func(*Gateway)

// WithMaxPayloadBytes caps inbound frame size; 0 leaves gorilla/websocket's
// default in place.
func WithMaxPayloadBytes(n int64) Option {
	return func(g *Gateway) { g.maxPayloadBytes = n }
}

// WithPingInterval overrides the keepalive ping cadence.
func WithPingInterval(d time.Duration) Option {
	return func(g *Gateway) { g.pingInterval = d }
}

// New constructs a Gateway over containers and conns.
func New(containers *containersvc.Service, conns *connection.Manager, log *logging.Logger, opts ...Option) *Gateway {
	if log == nil {
		log = logging.NewTestLogger()
	}
	g := &Gateway{
		containers:   containers,
		conns:        conns,
		log:          log.Named("wsgateway"),
		pingInterval: defaultPingInterval,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ServeWS upgrades r to a WebSocket stream, registers a connection under
// identity, subscribes it to matchID, and runs its read/write pumps until
// the stream closes. It blocks until the connection exits, so callers run
// it from its own goroutine per inbound request.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request, identity *connection.Identity, matchID id.MatchID) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Error("websocket upgrade failed", logging.Err(err))
		return
	}

	connID := g.conns.Add(identity)
	connLog := g.log.With(logging.String("connection_id", connID.String()))

	if g.maxPayloadBytes > 0 {
		conn.SetReadLimit(g.maxPayloadBytes)
	}

	outbox, err := g.conns.Outbox(connID)
	if err != nil {
		connLog.Error("outbox lookup failed immediately after registration", logging.Err(err))
		_ = conn.Close()
		g.conns.Remove(connID)
		return
	}

	done := make(chan struct{})
	pumpExited := make(chan struct{})
	go func() {
		g.sendPump(conn, outbox, connLog, done)
		close(pumpExited)
	}()

	if err := g.conns.Subscribe(connID, matchID); err != nil {
		connLog.Warn("initial subscribe failed", logging.Err(err))
		g.sendError(connID, "SUBSCRIBE_FAILED", err.Error())
		close(done)
		<-pumpExited
		_ = conn.Close()
		g.conns.Remove(connID)
		return
	}

	waitDuration := pongWaitMultiplier * g.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(waitDuration))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(waitDuration))
	})

	g.readPump(conn, connID, identity, connLog, waitDuration)

	close(done)
	<-pumpExited
	_ = conn.Close()
	g.conns.Remove(connID)
}

// sendPump is the only goroutine permitted to write conn: gorilla/websocket
// allows at most one concurrent writer (WriteControl excepted), so every
// outbound data frame — pong, error, command result, or broadcast — is
// enqueued on the connection's mailbox and drained here, and keepalive pings
// are written here from the ticker. On <-done it
// flushes whatever is already buffered before returning, so a reply queued
// just before the connection tears down is still delivered.
func (g *Gateway) sendPump(conn *websocket.Conn, outbox <-chan []byte, log *logging.Logger, done <-chan struct{}) {
	ticker := time.NewTicker(g.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			g.flushOutbox(conn, outbox, log)
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(defaultWriteWait)); err != nil {
				log.Warn("ping failed", logging.Err(err))
				return
			}
		case msg, ok := <-outbox:
			if !ok {
				return
			}
			if !g.writeMessage(conn, msg, log) {
				return
			}
		}
	}
}

// flushOutbox writes every message already buffered on outbox without
// blocking, so a frame enqueued immediately before shutdown is not lost.
func (g *Gateway) flushOutbox(conn *websocket.Conn, outbox <-chan []byte, log *logging.Logger) {
	for {
		select {
		case msg, ok := <-outbox:
			if !ok {
				return
			}
			if !g.writeMessage(conn, msg, log) {
				return
			}
		default:
			return
		}
	}
}

func (g *Gateway) writeMessage(conn *websocket.Conn, msg []byte, log *logging.Logger) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(defaultWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		log.Warn("write failed", logging.Err(err))
		return false
	}
	return true
}

// readPump is the main task of spec.md §4.10: it reads client frames and
// dispatches Subscribe/Unsubscribe/Command/Ping until a close frame, I/O
// error, or parse failure that the protocol treats as terminal.
func (g *Gateway) readPump(conn *websocket.Conn, connID id.ConnectionID, identity *connection.Identity, log *logging.Logger, waitDuration time.Duration) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("read loop exiting", logging.Err(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(waitDuration))

		var msg inboundMessage
		if err := jsonx.Unmarshal(raw, &msg); err != nil {
			g.sendError(connID, "INVALID_MESSAGE", "payload is not valid JSON")
			continue
		}

		switch msg.Type {
		case "Subscribe":
			g.handleSubscribe(connID, msg, log)
		case "Unsubscribe":
			g.handleUnsubscribe(connID, msg, log)
		case "Command":
			g.handleCommand(connID, identity, msg, log)
		case "Ping":
			g.handlePing(connID, msg)
		default:
			g.sendError(connID, "INVALID_MESSAGE", "unrecognized message type")
		}
	}
}

func (g *Gateway) handleSubscribe(connID id.ConnectionID, msg inboundMessage, log *logging.Logger) {
	matchID, err := id.ParseMatchID(msg.MatchID)
	if err != nil {
		g.sendError(connID, "INVALID_MESSAGE", "match_id is not a valid identifier")
		return
	}
	if err := g.conns.Subscribe(connID, matchID); err != nil {
		log.Warn("subscribe failed", logging.String("match_id", msg.MatchID), logging.Err(err))
		g.sendError(connID, "SUBSCRIBE_FAILED", err.Error())
	}
}

// handleUnsubscribe is fire-and-forget per spec.md §4.10 step 5: failures
// are not reported to the client.
func (g *Gateway) handleUnsubscribe(connID id.ConnectionID, msg inboundMessage, log *logging.Logger) {
	matchID, err := id.ParseMatchID(msg.MatchID)
	if err != nil {
		return
	}
	if err := g.conns.Unsubscribe(connID, matchID); err != nil {
		log.Debug("unsubscribe no-op", logging.Err(err))
	}
}

// handleCommand resolves the target match's owning container, builds the
// command through its registry exactly like the REST enqueue path, and
// enqueues it tagged with the caller's identity. The reply acknowledges
// enqueue; the result of execution is not routed back over this frame since
// execution happens asynchronously on the next game loop tick.
func (g *Gateway) handleCommand(connID id.ConnectionID, identity *connection.Identity, msg inboundMessage, log *logging.Logger) {
	if msg.Command == nil || msg.Command.Name == "" {
		g.sendError(connID, "INVALID_MESSAGE", "command frame requires a command name")
		return
	}
	if identity == nil {
		g.sendError(connID, "INVALID_MESSAGE", "command frame requires an authenticated connection")
		return
	}
	matchID, err := id.ParseMatchID(msg.MatchID)
	if err != nil {
		g.sendError(connID, "INVALID_MESSAGE", "match_id is not a valid identifier")
		return
	}

	commandID := uuid.NewString()

	c, m, err := g.containers.FindMatchForTenant(matchID, identity.TenantID)
	if err != nil {
		g.replyCommandResult(connID, matchID, commandID, false, err.Error())
		return
	}

	payload := msg.Command.Payload
	if payload == nil {
		payload = make(map[string]any)
	}
	if msg.Command.EntityID != nil {
		payload["entity_id"] = *msg.Command.EntityID
	}

	cmd, err := c.Registry().Build(msg.Command.Name, payload)
	if err != nil {
		log.Warn("command build failed", logging.String("command", msg.Command.Name), logging.Err(err))
		g.replyCommandResult(connID, matchID, commandID, false, err.Error())
		return
	}

	m.Queue().Enqueue(command.QueuedCommand{Name: msg.Command.Name, Cmd: cmd, UserID: identity.UserID})
	g.replyCommandResult(connID, matchID, commandID, true, "")
}

func (g *Gateway) handlePing(connID id.ConnectionID, msg inboundMessage) {
	g.send(connID, pongEnvelope{Type: "Pong", Timestamp: msg.Timestamp, ServerTime: time.Now().UnixMilli()})
}

func (g *Gateway) replyCommandResult(connID id.ConnectionID, matchID id.MatchID, commandID string, success bool, errMsg string) {
	g.send(connID, commandResultEnvelope{
		Type:    "CommandResult",
		MatchID: matchID.String(),
		Result:  commandResult{Success: success, CommandID: commandID, Error: errMsg},
	})
}

func (g *Gateway) sendError(connID id.ConnectionID, code, message string) {
	g.send(connID, errorEnvelope{Type: "Error", Code: code, Message: message})
}

// send enqueues v on connID's mailbox rather than writing the socket
// directly; sendPump is the only goroutine that ever calls
// conn.WriteMessage, so every reply funnels through here.
func (g *Gateway) send(connID id.ConnectionID, v any) {
	payload, err := jsonx.Marshal(v)
	if err != nil {
		return
	}
	_ = g.conns.Send(connID, payload)
}

// Package httpapi is the REST handler set: container/match/command/resource
// CRUD, the OAuth2 token endpoint, and the WebSocket upgrade route, all
// wrapped in the platform's {success, data, error} response envelope. It
// follows the teacher's Options -> HandlerSet -> Register(mux) shape,
// generalized from a handful of operational endpoints to the full surface
// the container/match/resource subsystems expose.
package httpapi

import (
	"io"
	"net/http"
	"strings"
	"time"

	"stormstack/platform/internal/auth"
	"stormstack/platform/internal/command"
	"stormstack/platform/internal/connection"
	"stormstack/platform/internal/container"
	"stormstack/platform/internal/containersvc"
	"stormstack/platform/internal/errs"
	"stormstack/platform/internal/id"
	"stormstack/platform/internal/jsonx"
	"stormstack/platform/internal/logging"
	"stormstack/platform/internal/match"
	"stormstack/platform/internal/resources"
	"stormstack/platform/internal/sandbox"
	"stormstack/platform/internal/wsgateway"
)

const defaultTokenTTL = time.Hour

// TokenClient is one credential this server's OAuth2 token endpoint accepts,
// minting tokens for the attached principal on a successful grant.
type TokenClient struct {
	Secret   string
	UserID   id.UserID
	TenantID id.TenantID
	Roles    []string
}

// Options configures the HandlerSet.
type Options struct {
	Logger      *logging.Logger
	Containers  *containersvc.Service
	Registry    *command.Registry
	Resources   *resources.Store
	Verifier    *auth.Verifier
	Issuer      *auth.Issuer
	TokenTTL    time.Duration
	Connections *connection.Manager
	WSGateway   *wsgateway.Gateway

	// Sandbox compiles and instantiates WASM resources uploaded through the
	// resource store; nil disables the modules endpoint (service_unavailable).
	Sandbox       *sandbox.Sandbox
	SandboxLimits sandbox.Limits

	// ClientCredentials services the client_credentials grant, keyed by
	// client_id. Users services the password grant, keyed by username.
	ClientCredentials map[string]TokenClient
	Users             map[string]TokenClient
}

// HandlerSet bundles the StormStack REST and WebSocket handlers.
type HandlerSet struct {
	log         *logging.Logger
	containers  *containersvc.Service
	registry    *command.Registry
	resources   *resources.Store
	verifier    *auth.Verifier
	issuer      *auth.Issuer
	tokenTTL    time.Duration
	connections   *connection.Manager
	gateway       *wsgateway.Gateway
	sandbox       *sandbox.Sandbox
	sandboxLimits sandbox.Limits
	clients       map[string]TokenClient
	users         map[string]TokenClient
}

// NewHandlerSet constructs a HandlerSet from opts.
func NewHandlerSet(opts Options) *HandlerSet {
	log := opts.Logger
	if log == nil {
		log = logging.NewTestLogger()
	}
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	limits := opts.SandboxLimits
	if limits == (sandbox.Limits{}) {
		limits = sandbox.DefaultLimits()
	}
	return &HandlerSet{
		log:           log.Named("httpapi"),
		containers:    opts.Containers,
		registry:      opts.Registry,
		resources:     opts.Resources,
		verifier:      opts.Verifier,
		issuer:        opts.Issuer,
		tokenTTL:      ttl,
		connections:   opts.Connections,
		gateway:       opts.WSGateway,
		sandbox:       opts.Sandbox,
		sandboxLimits: limits,
		clients:       opts.ClientCredentials,
		users:         opts.Users,
	}
}

// Register attaches every handler to mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthHandler())

	mux.HandleFunc("GET /api/containers", h.withAuth(h.ListContainers))
	mux.HandleFunc("POST /api/containers", h.withAuth(h.CreateContainer))
	mux.HandleFunc("GET /api/containers/{id}", h.withAuth(h.GetContainer))
	mux.HandleFunc("DELETE /api/containers/{id}", h.withAuth(h.DeleteContainer))
	mux.HandleFunc("POST /api/containers/{id}/tick", h.withAuth(h.TickContainer))

	mux.HandleFunc("GET /api/containers/{id}/matches", h.withAuth(h.ListMatches))
	mux.HandleFunc("POST /api/containers/{id}/matches", h.withAuth(h.CreateMatch))
	mux.HandleFunc("GET /api/containers/{id}/matches/{mid}", h.withAuth(h.GetMatch))
	mux.HandleFunc("DELETE /api/containers/{id}/matches/{mid}", h.withAuth(h.DeleteMatch))
	mux.HandleFunc("POST /api/containers/{id}/matches/{mid}/join", h.withAuth(h.JoinMatch))
	mux.HandleFunc("POST /api/containers/{id}/matches/{mid}/leave", h.withAuth(h.LeaveMatch))
	mux.HandleFunc("POST /api/containers/{id}/matches/{mid}/start", h.withAuth(h.StartMatch))
	mux.HandleFunc("POST /api/containers/{id}/matches/{mid}/commands", h.withAuth(h.EnqueueCommand))

	mux.HandleFunc("POST /api/containers/{id}/modules", h.withAuth(h.LoadModule))
	mux.HandleFunc("DELETE /api/containers/{id}/modules/{name}", h.withAuth(h.UnloadModule))

	mux.HandleFunc("GET /api/commands", h.ListCommands())

	mux.HandleFunc("POST /api/resources", h.withAuth(h.UploadResource))
	mux.HandleFunc("GET /api/resources", h.withAuth(h.ListResources))
	mux.HandleFunc("GET /api/resources/{id}", h.withAuth(h.DownloadResource))
	mux.HandleFunc("GET /api/resources/{id}/metadata", h.withAuth(h.GetResourceMetadata))
	mux.HandleFunc("DELETE /api/resources/{id}", h.withAuth(h.DeleteResource))

	mux.HandleFunc("POST /auth/token", h.TokenHandler())

	if h.gateway != nil {
		mux.HandleFunc("GET /ws/matches/{mid}", h.WebSocketUpgrade)
	}
}

// envelope is the {success, data, error} wire shape every REST response uses.
type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, envelope{Success: false, Error: &apiError{Code: code, Message: message}})
}

func writeErrFromErr(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	writeError(w, statusForKind(kind), string(kind), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonx.NewEncoder(w).Encode(payload)
}

// statusForKind maps the error taxonomy onto the status-code policy from
// spec.md §6: not-found for any lookup miss (including cross-tenant access),
// conflict for invalid state and exhausted capacity, bad-request for payload
// validation, and the auth-specific codes for token failures.
func statusForKind(kind errs.Kind) int {
	switch kind {
	case errs.KindEntityNotFound, errs.KindContainerNotFound, errs.KindMatchNotFound,
		errs.KindConnectionNotFound, errs.KindSessionNotFound, errs.KindUserNotFound,
		errs.KindResourceNotFound, errs.KindCommandNotFound, errs.KindModuleNotFound,
		errs.KindFunctionNotFound:
		return http.StatusNotFound
	case errs.KindInvalidState, errs.KindResourceExhausted, errs.KindConnectionClosed,
		errs.KindModuleAlreadyLoaded, errs.KindModuleInUse:
		return http.StatusConflict
	case errs.KindInvalidPayload, errs.KindSerialization, errs.KindInvalidInput, errs.KindTypeMismatch,
		errs.KindCompilationError, errs.KindInstantiationError:
		return http.StatusBadRequest
	case errs.KindInvalidToken, errs.KindExpiredToken:
		return http.StatusUnauthorized
	case errs.KindAccessDenied, errs.KindInvalidCredential:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// HealthHandler reports liveness; it requires no authentication.
func (h *HandlerSet) HealthHandler() http.HandlerFunc {
	type response struct {
		Status string `json:"status"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, response{Status: "ok"})
	}
}

// withAuth wraps next with bearer-token verification, rejecting the request
// before it reaches next when the token is missing or invalid.
func (h *HandlerSet) withAuth(next func(w http.ResponseWriter, r *http.Request, p *auth.Principal)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.verifier == nil {
			writeError(w, http.StatusServiceUnavailable, "service_unavailable", "authentication is not configured")
			return
		}
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		principal, err := h.verifier.Verify(token)
		if err != nil {
			writeErrFromErr(w, err)
			return
		}
		next(w, r, principal)
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[len("bearer "):])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// containerSummary is the wire shape for a container listing entry.
type containerSummary struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
}

// containerDetail is the wire shape for a single container's detail view.
type containerDetail struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	Matches       []matchSummary `json:"matches"`
	LoadedModules []string       `json:"loaded_modules"`
}

type matchSummary struct {
	ID      string   `json:"id"`
	State   string   `json:"state"`
	Tick    uint64   `json:"tick"`
	Players []string `json:"players"`
}

func toMatchSummary(snap match.Snapshot) matchSummary {
	players := make([]string, 0, len(snap.Players))
	for _, p := range snap.Players {
		players = append(players, p.String())
	}
	return matchSummary{ID: snap.ID.String(), State: string(snap.State), Tick: snap.Tick, Players: players}
}

func toContainerDetail(c *container.Container) containerDetail {
	matches := c.Matches()
	summaries := make([]matchSummary, 0, len(matches))
	for _, m := range matches {
		summaries = append(summaries, toMatchSummary(m.Snapshot()))
	}
	modules := make([]string, 0)
	for _, mod := range c.LoadedModules() {
		modules = append(modules, mod.Name)
	}
	return containerDetail{
		ID:            c.ID().String(),
		TenantID:      c.TenantID().String(),
		Matches:       summaries,
		LoadedModules: modules,
	}
}

// ListContainers lists every container owned by the caller's tenant.
func (h *HandlerSet) ListContainers(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	ids := h.containers.ListForTenant(p.TenantID)
	out := make([]containerSummary, 0, len(ids))
	for _, cid := range ids {
		out = append(out, containerSummary{ID: cid.String(), TenantID: p.TenantID.String()})
	}
	writeData(w, http.StatusOK, out)
}

// CreateContainer creates a new container for the caller's tenant.
func (h *HandlerSet) CreateContainer(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	c := h.containers.Create(p.TenantID)
	writeData(w, http.StatusCreated, toContainerDetail(c))
}

func (h *HandlerSet) lookupContainer(w http.ResponseWriter, r *http.Request, p *auth.Principal) (*container.Container, bool) {
	containerID, err := id.ParseContainerID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "invalid container id")
		return nil, false
	}
	c, err := h.containers.GetForTenant(containerID, p.TenantID)
	if err != nil {
		writeErrFromErr(w, err)
		return nil, false
	}
	return c, true
}

// GetContainer returns a single container's detail view.
func (h *HandlerSet) GetContainer(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	c, ok := h.lookupContainer(w, r, p)
	if !ok {
		return
	}
	writeData(w, http.StatusOK, toContainerDetail(c))
}

// DeleteContainer removes a container owned by the caller's tenant.
func (h *HandlerSet) DeleteContainer(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	containerID, err := id.ParseContainerID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "invalid container id")
		return
	}
	if err := h.containers.DeleteForTenant(containerID, p.TenantID); err != nil {
		writeErrFromErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}

type tickRequest struct {
	DeltaTime *float64 `json:"delta_time"`
}

type tickResponse struct {
	ContainerID string               `json:"container_id"`
	WorldTick   uint64               `json:"world_tick"`
	Matches     map[string][]dresult `json:"matches"`
}

type dresult struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// TickContainer advances a container one tick, optionally overriding
// delta_time.
func (h *HandlerSet) TickContainer(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	c, ok := h.lookupContainer(w, r, p)
	if !ok {
		return
	}
	dt := time.Second / 60
	var req tickRequest
	if r.ContentLength != 0 {
		if err := jsonx.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_payload", "malformed tick request body")
			return
		}
		if req.DeltaTime != nil {
			dt = time.Duration(*req.DeltaTime * float64(time.Second))
		}
	}
	outcome, err := c.Tick(dt)
	if err != nil {
		writeErrFromErr(w, err)
		return
	}
	resp := tickResponse{ContainerID: c.ID().String(), WorldTick: c.World().Tick(), Matches: make(map[string][]dresult)}
	for matchID, drained := range outcome.MatchResults {
		results := make([]dresult, 0, len(drained))
		for _, d := range drained {
			results = append(results, dresult{Name: d.Name, Success: d.Result.Success, Message: d.Result.Message})
		}
		resp.Matches[matchID.String()] = results
	}
	writeData(w, http.StatusOK, resp)
}

// ListMatches lists every match registered under a container.
func (h *HandlerSet) ListMatches(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	c, ok := h.lookupContainer(w, r, p)
	if !ok {
		return
	}
	matches := c.Matches()
	out := make([]matchSummary, 0, len(matches))
	for _, m := range matches {
		out = append(out, toMatchSummary(m.Snapshot()))
	}
	writeData(w, http.StatusOK, out)
}

type createMatchRequest struct {
	MaxPlayers int `json:"max_players"`
}

// CreateMatch creates a new Pending match inside a container.
func (h *HandlerSet) CreateMatch(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	c, ok := h.lookupContainer(w, r, p)
	if !ok {
		return
	}
	var req createMatchRequest
	if r.ContentLength != 0 {
		if err := jsonx.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_payload", "malformed create-match request body")
			return
		}
	}
	m := c.CreateMatch(match.Config{MaxPlayers: req.MaxPlayers})
	writeData(w, http.StatusCreated, toMatchSummary(m.Snapshot()))
}

func (h *HandlerSet) lookupMatch(w http.ResponseWriter, r *http.Request, p *auth.Principal) (*container.Container, *match.Match, bool) {
	c, ok := h.lookupContainer(w, r, p)
	if !ok {
		return nil, nil, false
	}
	matchID, err := id.ParseMatchID(r.PathValue("mid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "invalid match id")
		return nil, nil, false
	}
	m, err := c.Match(matchID)
	if err != nil {
		writeErrFromErr(w, err)
		return nil, nil, false
	}
	return c, m, true
}

// GetMatch returns a single match's snapshot.
func (h *HandlerSet) GetMatch(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	_, m, ok := h.lookupMatch(w, r, p)
	if !ok {
		return
	}
	writeData(w, http.StatusOK, toMatchSummary(m.Snapshot()))
}

// DeleteMatch removes a match from its container.
func (h *HandlerSet) DeleteMatch(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	c, ok := h.lookupContainer(w, r, p)
	if !ok {
		return
	}
	matchID, err := id.ParseMatchID(r.PathValue("mid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "invalid match id")
		return
	}
	if err := c.DeleteMatch(matchID); err != nil {
		writeErrFromErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}

// JoinMatch adds the caller to a match's player set.
func (h *HandlerSet) JoinMatch(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	_, m, ok := h.lookupMatch(w, r, p)
	if !ok {
		return
	}
	if err := m.AddPlayer(p.UserID); err != nil {
		writeErrFromErr(w, err)
		return
	}
	writeData(w, http.StatusOK, toMatchSummary(m.Snapshot()))
}

// LeaveMatch removes the caller from a match's player set.
func (h *HandlerSet) LeaveMatch(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	_, m, ok := h.lookupMatch(w, r, p)
	if !ok {
		return
	}
	if _, err := m.RemovePlayer(p.UserID); err != nil {
		writeErrFromErr(w, err)
		return
	}
	writeData(w, http.StatusOK, toMatchSummary(m.Snapshot()))
}

// StartMatch activates a Pending match.
func (h *HandlerSet) StartMatch(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	_, m, ok := h.lookupMatch(w, r, p)
	if !ok {
		return
	}
	if err := m.Activate(); err != nil {
		writeErrFromErr(w, err)
		return
	}
	writeData(w, http.StatusOK, toMatchSummary(m.Snapshot()))
}

type enqueueCommandRequest struct {
	CommandType string         `json:"command_type"`
	Payload     map[string]any `json:"payload"`
}

// EnqueueCommand builds a command from the registry and enqueues it against
// a match's command queue for the next tick's drain.
func (h *HandlerSet) EnqueueCommand(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	c, m, ok := h.lookupMatch(w, r, p)
	if !ok {
		return
	}
	var req enqueueCommandRequest
	if err := jsonx.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "malformed command request body")
		return
	}
	cmd, err := c.Registry().Build(req.CommandType, req.Payload)
	if err != nil {
		writeErrFromErr(w, err)
		return
	}
	m.Queue().Enqueue(command.QueuedCommand{Name: req.CommandType, Cmd: cmd, UserID: p.UserID})
	writeData(w, http.StatusAccepted, map[string]bool{"enqueued": true})
}

// ListCommands lists every registered command name; it requires no
// authentication since it reveals no tenant-scoped state.
func (h *HandlerSet) ListCommands() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.registry == nil {
			writeData(w, http.StatusOK, []string{})
			return
		}
		writeData(w, http.StatusOK, h.registry.Names())
	}
}

// resourceView is the wire shape for resource metadata.
type resourceView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"resource_type"`
	SizeBytes   int64  `json:"size_bytes"`
	ContentHash string `json:"content_hash"`
	CreatedAt   string `json:"created_at"`
}

func toResourceView(m resources.Metadata) resourceView {
	return resourceView{
		ID:          m.ID.String(),
		Name:        m.Name,
		Type:        string(m.Type),
		SizeBytes:   m.SizeBytes,
		ContentHash: m.ContentHash,
		CreatedAt:   m.CreatedAt.Format(time.RFC3339Nano),
	}
}

const maxUploadBytes = 64 << 20

// UploadResource stores a multipart-uploaded resource under the caller's
// tenant.
func (h *HandlerSet) UploadResource(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	if h.resources == nil {
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "resource storage is not configured")
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "request must be multipart/form-data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "request requires a file field")
		return
	}
	defer file.Close()

	typ := resources.Type(r.FormValue("resource_type"))
	if typ == "" {
		typ = resources.TypeGameAsset
	}
	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}

	meta, err := h.resources.Put(p.TenantID, name, typ, io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeErrFromErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, toResourceView(meta))
}

// ListResources lists every resource owned by the caller's tenant.
func (h *HandlerSet) ListResources(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	if h.resources == nil {
		writeData(w, http.StatusOK, []resourceView{})
		return
	}
	list, err := h.resources.List(p.TenantID)
	if err != nil {
		writeErrFromErr(w, err)
		return
	}
	out := make([]resourceView, 0, len(list))
	for _, m := range list {
		out = append(out, toResourceView(m))
	}
	writeData(w, http.StatusOK, out)
}

func (h *HandlerSet) parseResourceID(w http.ResponseWriter, r *http.Request) (id.ResourceID, bool) {
	resourceID, err := id.ParseResourceID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "invalid resource id")
		return id.ResourceID{}, false
	}
	return resourceID, true
}

// DownloadResource streams a resource's raw bytes back to the caller.
func (h *HandlerSet) DownloadResource(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	if h.resources == nil {
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "resource storage is not configured")
		return
	}
	resourceID, ok := h.parseResourceID(w, r)
	if !ok {
		return
	}
	data, err := h.resources.Get(p.TenantID, resourceID)
	if err != nil {
		writeErrFromErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// GetResourceMetadata returns a resource's stored metadata.
func (h *HandlerSet) GetResourceMetadata(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	if h.resources == nil {
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "resource storage is not configured")
		return
	}
	resourceID, ok := h.parseResourceID(w, r)
	if !ok {
		return
	}
	meta, err := h.resources.GetMetadata(p.TenantID, resourceID)
	if err != nil {
		writeErrFromErr(w, err)
		return
	}
	writeData(w, http.StatusOK, toResourceView(meta))
}

// DeleteResource deletes a resource owned by the caller's tenant.
func (h *HandlerSet) DeleteResource(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	if h.resources == nil {
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "resource storage is not configured")
		return
	}
	resourceID, ok := h.parseResourceID(w, r)
	if !ok {
		return
	}
	deleted, err := h.resources.Delete(p.TenantID, resourceID)
	if err != nil {
		writeErrFromErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

type loadModuleRequest struct {
	ResourceID string `json:"resource_id"`
	Name       string `json:"name"`
	Version    string `json:"version"`
}

// LoadModule is the bridge between the resource store and the sandbox: it
// fetches a previously uploaded WASM resource, compiles and instantiates it
// against the sandbox's shared engine to prove it is loadable, then records
// the container's loaded-module bookkeeping. The instance created here is
// only used to validate the module; the game loop does not yet execute it.
func (h *HandlerSet) LoadModule(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	if h.resources == nil {
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "resource storage is not configured")
		return
	}
	if h.sandbox == nil {
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "sandbox engine is not configured")
		return
	}
	c, ok := h.lookupContainer(w, r, p)
	if !ok {
		return
	}

	var req loadModuleRequest
	if err := jsonx.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "request body must be valid JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_payload", "name is required")
		return
	}
	resourceID, err := id.ParseResourceID(req.ResourceID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "resource_id is not a valid identifier")
		return
	}

	data, err := h.resources.Get(p.TenantID, resourceID)
	if err != nil {
		writeErrFromErr(w, err)
		return
	}

	mod, err := h.sandbox.LoadModule(data, req.Name)
	if err != nil {
		writeErrFromErr(w, err)
		return
	}
	if _, err := h.sandbox.Instantiate(mod, h.sandboxLimits); err != nil {
		writeErrFromErr(w, err)
		return
	}

	if err := c.LoadModule(container.LoadedModule{Name: req.Name, Version: req.Version}); err != nil {
		writeErrFromErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, toContainerDetail(c))
}

// UnloadModule removes a container's loaded-module bookkeeping entry.
func (h *HandlerSet) UnloadModule(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	c, ok := h.lookupContainer(w, r, p)
	if !ok {
		return
	}
	if err := c.UnloadModule(r.PathValue("name")); err != nil {
		writeErrFromErr(w, err)
		return
	}
	writeData(w, http.StatusOK, toContainerDetail(c))
}

// tokenResponse is the RFC 6749 access-token response shape.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": description})
}

// TokenHandler implements the OAuth2 token endpoint for the
// client_credentials, password, and refresh_token grants.
func (h *HandlerSet) TokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.issuer == nil {
			writeOAuthError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "token issuance is not configured")
			return
		}
		if err := r.ParseForm(); err != nil {
			writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
			return
		}
		grantType := r.PostFormValue("grant_type")
		switch grantType {
		case "client_credentials":
			h.clientCredentialsGrant(w, r)
		case "password":
			h.passwordGrant(w, r)
		case "refresh_token":
			h.refreshTokenGrant(w, r)
		case "":
			writeOAuthError(w, http.StatusBadRequest, "invalid_request", "grant_type is required")
		default:
			writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "grant_type "+grantType+" is not supported")
		}
	}
}

func (h *HandlerSet) clientCredentialsGrant(w http.ResponseWriter, r *http.Request) {
	clientID := r.PostFormValue("client_id")
	clientSecret := r.PostFormValue("client_secret")
	client, ok := h.clients[clientID]
	if !ok || client.Secret != clientSecret {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "unknown client or bad secret")
		return
	}
	h.issueToken(w, client)
}

func (h *HandlerSet) passwordGrant(w http.ResponseWriter, r *http.Request) {
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	user, ok := h.users[username]
	if !ok || user.Secret != password {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "unknown user or bad password")
		return
	}
	h.issueToken(w, user)
}

func (h *HandlerSet) refreshTokenGrant(w http.ResponseWriter, r *http.Request) {
	refreshToken := r.PostFormValue("refresh_token")
	if refreshToken == "" || h.verifier == nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}
	principal, err := h.verifier.Verify(refreshToken)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "refresh token rejected")
		return
	}
	h.issueToken(w, TokenClient{UserID: principal.UserID, TenantID: principal.TenantID, Roles: principal.Roles})
}

func (h *HandlerSet) issueToken(w http.ResponseWriter, client TokenClient) {
	userID := client.UserID
	if userID.IsZero() {
		userID = id.NewUserID()
	}
	token, err := h.issuer.Issue(userID, client.TenantID, client.Roles)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "failed to mint token")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.tokenTTL.Seconds()),
	})
}

// WebSocketUpgrade authenticates the request (JWT in header or query), then
// hands the stream off to the gateway for match subscription.
func (h *HandlerSet) WebSocketUpgrade(w http.ResponseWriter, r *http.Request) {
	matchID, err := id.ParseMatchID(r.PathValue("mid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "invalid match id")
		return
	}
	if h.verifier == nil {
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "authentication is not configured")
		return
	}
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	principal, err := h.verifier.Verify(token)
	if err != nil {
		writeErrFromErr(w, err)
		return
	}
	identity := &connection.Identity{UserID: principal.UserID, TenantID: principal.TenantID, Roles: principal.Roles}
	h.gateway.ServeWS(w, r, identity, matchID)
}

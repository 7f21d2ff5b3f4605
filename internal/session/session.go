// Package session implements the Session service: a user's transport
// liveness record for a match, indexed four ways (by id, user, match, and
// container) and kept consistent on every mutation.
package session

import (
	"sync"
	"time"

	"stormstack/platform/internal/errs"
	"stormstack/platform/internal/id"
)

// State is a session's lifecycle state.
type State string

const (
	StateActive       State = "active"
	StateDisconnected State = "disconnected"
	StateExpired      State = "expired"
)

// Session is a snapshot-style record; callers always receive copies so the
// service's internal indices cannot be mutated from outside.
type Session struct {
	ID           id.SessionID
	UserID       id.UserID
	MatchID      id.MatchID
	ContainerID  id.ContainerID
	State        State
	ConnectedAt  time.Time
	LastActivity time.Time
}

type record struct {
	session Session
}

// Service indexes sessions by id, user, match, and container.
type Service struct {
	mu          sync.RWMutex
	byID        map[id.SessionID]*record
	byUser      map[id.UserID]map[id.SessionID]struct{}
	byMatch     map[id.MatchID]map[id.SessionID]struct{}
	byContainer map[id.ContainerID]map[id.SessionID]struct{}
	now         func() time.Time
}

// New constructs an empty session service using the wall clock.
func New() *Service {
	return &Service{
		byID:        make(map[id.SessionID]*record),
		byUser:      make(map[id.UserID]map[id.SessionID]struct{}),
		byMatch:     make(map[id.MatchID]map[id.SessionID]struct{}),
		byContainer: make(map[id.ContainerID]map[id.SessionID]struct{}),
		now:         time.Now,
	}
}

// WithClock overrides the time source, for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Create registers a new active session for (user, match, container).
func (s *Service) Create(userID id.UserID, matchID id.MatchID, containerID id.ContainerID) Session {
	createdAt := s.now()
	sess := Session{
		ID:           id.NewSessionID(),
		UserID:       userID,
		MatchID:      matchID,
		ContainerID:  containerID,
		State:        StateActive,
		ConnectedAt:  createdAt,
		LastActivity: createdAt,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[sess.ID] = &record{session: sess}
	indexAdd(s.byUser, userID, sess.ID)
	indexAdd(s.byMatch, matchID, sess.ID)
	indexAdd(s.byContainer, containerID, sess.ID)
	return sess
}

func indexAdd[K comparable](index map[K]map[id.SessionID]struct{}, key K, sessionID id.SessionID) {
	if index[key] == nil {
		index[key] = make(map[id.SessionID]struct{})
	}
	index[key][sessionID] = struct{}{}
}

func indexRemove[K comparable](index map[K]map[id.SessionID]struct{}, key K, sessionID id.SessionID) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(index, key)
	}
}

// Get returns a snapshot of a session by id.
func (s *Service) Get(sessionID id.SessionID) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[sessionID]
	if !ok {
		return Session{}, errs.Newf(errs.KindSessionNotFound, "session %s not found", sessionID)
	}
	return rec.session, nil
}

// ByUser returns every session for userID.
func (s *Service) ByUser(userID id.UserID) []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byUser[userID])
}

// ByMatch returns every session for matchID.
func (s *Service) ByMatch(matchID id.MatchID) []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byMatch[matchID])
}

// ByContainer returns every session for containerID.
func (s *Service) ByContainer(containerID id.ContainerID) []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byContainer[containerID])
}

func (s *Service) collect(ids map[id.SessionID]struct{}) []Session {
	out := make([]Session, 0, len(ids))
	for sid := range ids {
		if rec, ok := s.byID[sid]; ok {
			out = append(out, rec.session)
		}
	}
	return out
}

// UpdateActivity bumps last_activity for sessionID.
func (s *Service) UpdateActivity(sessionID id.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[sessionID]
	if !ok {
		return errs.Newf(errs.KindSessionNotFound, "session %s not found", sessionID)
	}
	rec.session.LastActivity = s.now()
	return nil
}

// Disconnect transitions a session to Disconnected, touching last_activity.
func (s *Service) Disconnect(sessionID id.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[sessionID]
	if !ok {
		return errs.Newf(errs.KindSessionNotFound, "session %s not found", sessionID)
	}
	rec.session.State = StateDisconnected
	rec.session.LastActivity = s.now()
	return nil
}

// ExpireInactive scans all non-Expired sessions; any whose inactivity
// exceeds timeout transitions to Expired. Idempotent: already-expired
// sessions are never returned twice.
func (s *Service) ExpireInactive(timeout time.Duration) []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var expired []Session
	for _, rec := range s.byID {
		if rec.session.State == StateExpired {
			continue
		}
		if now.Sub(rec.session.LastActivity) > timeout {
			rec.session.State = StateExpired
			expired = append(expired, rec.session)
		}
	}
	return expired
}

// Remove fully erases a session, including every index entry.
func (s *Service) Remove(sessionID id.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[sessionID]
	if !ok {
		return errs.Newf(errs.KindSessionNotFound, "session %s not found", sessionID)
	}
	delete(s.byID, sessionID)
	indexRemove(s.byUser, rec.session.UserID, sessionID)
	indexRemove(s.byMatch, rec.session.MatchID, sessionID)
	indexRemove(s.byContainer, rec.session.ContainerID, sessionID)
	return nil
}

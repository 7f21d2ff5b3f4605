// Package id defines the opaque typed identifiers shared across the
// container, match, session, connection, and world subsystems.
package id

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// uuidID is the common representation backing every random 128-bit
// identifier kind. Each exported type wraps it so the Go type system keeps
// tenants, containers, matches, and so on from being confused with one
// another at call sites.
type uuidID struct {
	value uuid.UUID
}

func newUUID() uuidID {
	return uuidID{value: uuid.New()}
}

func parseUUID(s string) (uuidID, error) {
	v, err := uuid.Parse(s)
	if err != nil {
		return uuidID{}, fmt.Errorf("id: invalid identifier %q: %w", s, err)
	}
	return uuidID{value: v}, nil
}

func (u uuidID) isZero() bool { return u.value == uuid.Nil }

// TenantID identifies the root isolation boundary.
type TenantID struct{ uuidID }

// NewTenantID mints a fresh random tenant identifier.
func NewTenantID() TenantID { return TenantID{newUUID()} }

// ParseTenantID parses the canonical string form of a tenant identifier.
func ParseTenantID(s string) (TenantID, error) {
	u, err := parseUUID(s)
	return TenantID{u}, err
}

// String renders the canonical UUID form (no type tag) for wire payloads.
func (t TenantID) String() string { return t.value.String() }

// IsZero reports whether the identifier has never been assigned.
func (t TenantID) IsZero() bool { return t.isZero() }

// MarshalText implements encoding.TextMarshaler.
func (t TenantID) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TenantID) UnmarshalText(b []byte) error {
	parsed, err := ParseTenantID(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// DebugString renders the type-tagged form used in logs per §6 of the spec.
func (t TenantID) DebugString() string { return fmt.Sprintf("Tenant(%s)", t.String()) }

// UserID identifies a principal scoped to a tenant.
type UserID struct{ uuidID }

// NewUserID mints a fresh random user identifier.
func NewUserID() UserID { return UserID{newUUID()} }

// ParseUserID parses the canonical string form of a user identifier.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s)
	return UserID{u}, err
}

func (u UserID) String() string                 { return u.value.String() }
func (u UserID) IsZero() bool                    { return u.isZero() }
func (u UserID) MarshalText() ([]byte, error)    { return []byte(u.String()), nil }
func (u *UserID) UnmarshalText(b []byte) error {
	parsed, err := ParseUserID(string(b))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
func (u UserID) DebugString() string { return fmt.Sprintf("User(%s)", u.String()) }

// ContainerID identifies an execution environment owned by a tenant.
type ContainerID struct{ uuidID }

// NewContainerID mints a fresh random container identifier.
func NewContainerID() ContainerID { return ContainerID{newUUID()} }

// ParseContainerID parses the canonical string form of a container identifier.
func ParseContainerID(s string) (ContainerID, error) {
	u, err := parseUUID(s)
	return ContainerID{u}, err
}

func (c ContainerID) String() string              { return c.value.String() }
func (c ContainerID) IsZero() bool                 { return c.isZero() }
func (c ContainerID) MarshalText() ([]byte, error) { return []byte(c.String()), nil }
func (c *ContainerID) UnmarshalText(b []byte) error {
	parsed, err := ParseContainerID(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
func (c ContainerID) DebugString() string { return fmt.Sprintf("Container(%s)", c.String()) }

// MatchID identifies a game session inside a container.
type MatchID struct{ uuidID }

// NewMatchID mints a fresh random match identifier.
func NewMatchID() MatchID { return MatchID{newUUID()} }

// ParseMatchID parses the canonical string form of a match identifier.
func ParseMatchID(s string) (MatchID, error) {
	u, err := parseUUID(s)
	return MatchID{u}, err
}

func (m MatchID) String() string              { return m.value.String() }
func (m MatchID) IsZero() bool                 { return m.isZero() }
func (m MatchID) MarshalText() ([]byte, error) { return []byte(m.String()), nil }
func (m *MatchID) UnmarshalText(b []byte) error {
	parsed, err := ParseMatchID(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
func (m MatchID) DebugString() string { return fmt.Sprintf("Match(%s)", m.String()) }

// SessionID identifies a user's transport-liveness record for a match.
type SessionID struct{ uuidID }

// NewSessionID mints a fresh random session identifier.
func NewSessionID() SessionID { return SessionID{newUUID()} }

// ParseSessionID parses the canonical string form of a session identifier.
func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID(s)
	return SessionID{u}, err
}

func (s SessionID) String() string              { return s.value.String() }
func (s SessionID) IsZero() bool                 { return s.isZero() }
func (s SessionID) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
func (s *SessionID) UnmarshalText(b []byte) error {
	parsed, err := ParseSessionID(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
func (s SessionID) DebugString() string { return fmt.Sprintf("Session(%s)", s.String()) }

// ConnectionID identifies one transport-layer WebSocket (or similar) stream.
type ConnectionID struct{ uuidID }

// NewConnectionID mints a fresh random connection identifier.
func NewConnectionID() ConnectionID { return ConnectionID{newUUID()} }

// ParseConnectionID parses the canonical string form of a connection identifier.
func ParseConnectionID(s string) (ConnectionID, error) {
	u, err := parseUUID(s)
	return ConnectionID{u}, err
}

func (c ConnectionID) String() string              { return c.value.String() }
func (c ConnectionID) IsZero() bool                 { return c.isZero() }
func (c ConnectionID) MarshalText() ([]byte, error) { return []byte(c.String()), nil }
func (c *ConnectionID) UnmarshalText(b []byte) error {
	parsed, err := ParseConnectionID(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
func (c ConnectionID) DebugString() string { return fmt.Sprintf("Connection(%s)", c.String()) }

// ResourceID identifies a tenant-scoped stored artifact.
type ResourceID struct{ uuidID }

// NewResourceID mints a fresh random resource identifier.
func NewResourceID() ResourceID { return ResourceID{newUUID()} }

// ParseResourceID parses the canonical string form of a resource identifier.
func ParseResourceID(s string) (ResourceID, error) {
	u, err := parseUUID(s)
	return ResourceID{u}, err
}

func (r ResourceID) String() string              { return r.value.String() }
func (r ResourceID) IsZero() bool                 { return r.isZero() }
func (r ResourceID) MarshalText() ([]byte, error) { return []byte(r.String()), nil }
func (r *ResourceID) UnmarshalText(b []byte) error {
	parsed, err := ParseResourceID(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
func (r ResourceID) DebugString() string { return fmt.Sprintf("Resource(%s)", r.String()) }

// EntityID is a monotonically assigned 64-bit identifier local to one world.
// Unlike the UUID-backed kinds above it is never random: the world allocates
// it and it is never reused (see world.World.Spawn).
type EntityID uint64

// String renders the decimal form used on the wire.
func (e EntityID) String() string { return strconv.FormatUint(uint64(e), 10) }

// DebugString renders the type-tagged form used in logs.
func (e EntityID) DebugString() string { return fmt.Sprintf("Entity(%s)", e.String()) }

// MarshalText implements encoding.TextMarshaler.
func (e EntityID) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *EntityID) UnmarshalText(b []byte) error {
	v, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("id: invalid entity id %q: %w", string(b), err)
	}
	*e = EntityID(v)
	return nil
}

// ComponentTypeID is a stable 64-bit identifier assigned per component type.
type ComponentTypeID uint64

// String renders the decimal form used on the wire.
func (c ComponentTypeID) String() string { return strconv.FormatUint(uint64(c), 10) }

// DebugString renders the type-tagged form used in logs.
func (c ComponentTypeID) DebugString() string { return fmt.Sprintf("ComponentType(%s)", c.String()) }

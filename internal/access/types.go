package access

import (
	"fmt"
	"strings"
	"time"
)

// Level is the ordered permission tier carried by a typed grant.
type Level int

const (
	LevelIncidentsOnly Level = iota + 1
	LevelReadOnly
	LevelFull
)

const (
	levelIncidentsOnly = "incidents_only"
	levelReadOnly      = "read_only"
	levelFull          = "full"
)

func (l Level) String() string {
	switch l {
	case LevelIncidentsOnly:
		return levelIncidentsOnly
	case LevelReadOnly:
		return levelReadOnly
	case LevelFull:
		return levelFull
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// MarshalJSON encodes the level under its wire name.
func (l Level) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// UnmarshalJSON decodes a level from its wire name.
func (l *Level) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel converts the stored representation back into a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case levelIncidentsOnly:
		return LevelIncidentsOnly, nil
	case levelReadOnly:
		return LevelReadOnly, nil
	case levelFull:
		return LevelFull, nil
	}
	return 0, fmt.Errorf("%w: unknown level %q", ErrInvalidInput, s)
}

// Capability is a named permission check. Each capability is its own
// predicate over the grant level: create, update and delete require exactly
// LevelFull, read_only is satisfied by ReadOnly or Full, incidents_only by
// any of the three levels.
type Capability string

const (
	CapabilityIncidentsOnly Capability = "incidents_only"
	CapabilityReadOnly      Capability = "read_only"
	CapabilityCreate        Capability = "create"
	CapabilityUpdate        Capability = "update"
	CapabilityDelete        Capability = "delete"
)

// ParseCapability validates a capability name received over the wire.
func ParseCapability(s string) (Capability, error) {
	switch Capability(s) {
	case CapabilityIncidentsOnly, CapabilityReadOnly, CapabilityCreate, CapabilityUpdate, CapabilityDelete:
		return Capability(s), nil
	}
	return "", fmt.Errorf("%w: unknown capability %q", ErrInvalidInput, s)
}

// Satisfies reports whether the level implies the capability.
func (l Level) Satisfies(c Capability) bool {
	switch c {
	case CapabilityIncidentsOnly:
		return l >= LevelIncidentsOnly
	case CapabilityReadOnly:
		return l >= LevelReadOnly
	case CapabilityCreate, CapabilityUpdate, CapabilityDelete:
		return l == LevelFull
	}
	return false
}

// Grant is a typed, time-bounded permission for one actor over either all
// resources of a kind (ResourceID nil) or one specific resource instance.
type Grant struct {
	ID           string     `json:"id"`
	ActorID      string     `json:"actor_id"`
	ResourceKind string     `json:"resource_kind"`
	ResourceID   *string    `json:"resource_id,omitempty"`
	Level        Level      `json:"level"`
	GrantedBy    string     `json:"granted_by"`
	Notes        string     `json:"notes,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Active       bool       `json:"active"`
	Seq          uint64     `json:"seq"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Global reports whether the grant covers every resource of its kind.
func (g Grant) Global() bool { return g.ResourceID == nil }

// ValidAt reports whether the grant is usable at the given instant: it must
// be active and either carry no expiry or expire strictly after now.
func (g Grant) ValidAt(now time.Time) bool {
	if !g.Active {
		return false
	}
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}

// Membership is the binary grant variant: existence alone implies full
// access to one specific resource. No level, no expiry.
type Membership struct {
	ID           string    `json:"id"`
	ActorID      string    `json:"actor_id"`
	ResourceKind string    `json:"resource_kind"`
	ResourceID   string    `json:"resource_id"`
	GrantedBy    string    `json:"granted_by"`
	CreatedAt    time.Time `json:"created_at"`
}

// Newest returns the grant that wins the last-write-wins tie-break among the
// given grants: latest CreatedAt, with the insertion sequence breaking
// wall-clock collisions between concurrent writers.
func Newest(grants []Grant) (Grant, bool) {
	if len(grants) == 0 {
		return Grant{}, false
	}
	best := grants[0]
	for _, g := range grants[1:] {
		if g.CreatedAt.After(best.CreatedAt) ||
			(g.CreatedAt.Equal(best.CreatedAt) && g.Seq > best.Seq) {
			best = g
		}
	}
	return best, true
}

package access

import (
	"context"
	"time"
)

// GrantStore describes persistence for both grant variants. Implementations
// must return valid grants newest-first (created_at, then insertion sequence)
// so "most recent valid grant" is well-defined under concurrent insertion.
type GrantStore interface {
	CreateGrant(ctx context.Context, g *Grant) error
	GetGrant(ctx context.Context, id string) (*Grant, error)
	// SetGrantActive toggles soft revocation.
	SetGrantActive(ctx context.Context, id string, active bool) error
	// ExtendGrant replaces the expiry; nil clears it (never expires).
	ExtendGrant(ctx context.Context, id string, expiresAt *time.Time) error
	// ValidGrantsFor returns currently valid grants for the exact scope:
	// resourceID nil selects global grants only, non-nil selects grants bound
	// to that resource only. Ordered newest-first.
	ValidGrantsFor(ctx context.Context, actorID, resourceKind string, resourceID *string) ([]Grant, error)
	// ExpiredGrantsFor lists grants whose expiry has passed, for
	// administrative cleanup and reporting. Empty actorID selects all actors.
	ExpiredGrantsFor(ctx context.Context, actorID, resourceKind string) ([]Grant, error)

	AddMembership(ctx context.Context, m *Membership) error
	RemoveMembership(ctx context.Context, actorID, resourceKind, resourceID string) error
	HasMembership(ctx context.Context, actorID, resourceKind, resourceID string) (bool, error)
}

// RoleOracle answers role checks. Supplied by the surrounding application
// and treated as ground truth; never cached across calls.
type RoleOracle interface {
	HasAnyRole(ctx context.Context, actorID string, roles []string) (bool, error)
}

// OwnerOracle reports the creator of a resource. Used by the membership
// variant where the creator always has implicit access. Implementations
// should return ErrNotFound when the resource has no recorded owner.
type OwnerOracle interface {
	Owner(ctx context.Context, resourceKind, resourceID string) (string, error)
}

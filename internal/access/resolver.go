package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kartoteka.org/internal/obs"
)

const defaultDecisionTimeout = 2 * time.Second

// Decision reasons surfaced alongside allow/deny outcomes.
const (
	ReasonPrivilegedRole    = "privileged_role"
	ReasonResourceGrant     = "resource_grant"
	ReasonGlobalGrant       = "global_grant"
	ReasonMembership        = "membership"
	ReasonOwner             = "owner"
	ReasonNoGrant           = "no_grant"
	ReasonInsufficientLevel = "insufficient_level"
	ReasonStoreUnavailable  = "store_unavailable"
	ReasonOracleUnavailable = "oracle_unavailable"
	ReasonUnknownKind       = "unknown_kind"
	ReasonCancelled         = "cancelled"
)

// Decision is the outcome of an authorization check. Denial is a normal
// negative result, not an error.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

func allow(reason string) Decision { return Decision{Allowed: true, Reason: reason} }
func deny(reason string) Decision  { return Decision{Allowed: false, Reason: reason} }

// Resolver makes allow/deny decisions over the registered resource kinds.
// It re-queries the store at every decision; there is no cached "current
// grant" reference, so concurrent grant insertion resolves by
// last-write-wins at the next decision.
type Resolver struct {
	store      GrantStore
	roles      RoleOracle
	owners     OwnerOracle
	typed      map[string]struct{}
	membership map[string]struct{}
	privileged []string
	timeout    time.Duration
	now        func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver) error

// WithTypedKinds registers resource kinds governed by typed, levelled grants.
func WithTypedKinds(kinds ...string) ResolverOption {
	return func(r *Resolver) error {
		for _, k := range kinds {
			if k == "" {
				return fmt.Errorf("%w: empty kind name", ErrInvalidInput)
			}
			if _, dup := r.membership[k]; dup {
				return fmt.Errorf("%w: kind %q registered as both typed and membership", ErrInvalidInput, k)
			}
			r.typed[k] = struct{}{}
		}
		return nil
	}
}

// WithMembershipKinds registers resource kinds governed by binary membership.
func WithMembershipKinds(kinds ...string) ResolverOption {
	return func(r *Resolver) error {
		for _, k := range kinds {
			if k == "" {
				return fmt.Errorf("%w: empty kind name", ErrInvalidInput)
			}
			if _, dup := r.typed[k]; dup {
				return fmt.Errorf("%w: kind %q registered as both typed and membership", ErrInvalidInput, k)
			}
			r.membership[k] = struct{}{}
		}
		return nil
	}
}

// WithOwnerOracle supplies creator lookups for membership kinds.
func WithOwnerOracle(o OwnerOracle) ResolverOption {
	return func(r *Resolver) error {
		r.owners = o
		return nil
	}
}

// WithPrivilegedRoles overrides the roles that bypass grant checks entirely.
func WithPrivilegedRoles(roles ...string) ResolverOption {
	return func(r *Resolver) error {
		if len(roles) == 0 {
			return fmt.Errorf("%w: privileged role list cannot be empty", ErrInvalidInput)
		}
		r.privileged = roles
		return nil
	}
}

// WithDecisionTimeout bounds each decision's store and oracle work.
func WithDecisionTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) error {
		if d > 0 {
			r.timeout = d
		}
		return nil
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) error {
		if now != nil {
			r.now = now
		}
		return nil
	}
}

// NewResolver validates configuration up front: a nil store or oracle, or an
// empty kind registry, is a programmer error and fails here rather than at
// request time.
func NewResolver(store GrantStore, roles RoleOracle, opts ...ResolverOption) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("access: grant store is required")
	}
	if roles == nil {
		return nil, errors.New("access: role oracle is required")
	}
	r := &Resolver{
		store:      store,
		roles:      roles,
		typed:      make(map[string]struct{}),
		membership: make(map[string]struct{}),
		privileged: []string{"admin", "superadmin"},
		timeout:    defaultDecisionTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if len(r.typed)+len(r.membership) == 0 {
		return nil, fmt.Errorf("%w: no resource kinds registered", ErrUnknownKind)
	}
	return r, nil
}

// Authorize decides whether actor may exercise capability over the given
// resource. resourceID nil asks about the kind as a whole (global scope).
// Any infrastructure failure denies: this path fails closed.
func (r *Resolver) Authorize(ctx context.Context, actorID, resourceKind string, resourceID *string, capability Capability) Decision {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if ctx.Err() != nil {
		return deny(ReasonCancelled)
	}
	if actorID == "" {
		return deny(ReasonNoGrant)
	}

	// Privileged-role bypass comes first and is never weakened by grant state.
	privileged, err := r.roles.HasAnyRole(ctx, actorID, r.privileged)
	if err != nil {
		r.logFailure("role_oracle", actorID, resourceKind, err)
		return deny(ReasonOracleUnavailable)
	}
	if privileged {
		return allow(ReasonPrivilegedRole)
	}

	if _, ok := r.membership[resourceKind]; ok {
		if resourceID == nil {
			return deny(ReasonNoGrant)
		}
		return r.authorizeMembership(ctx, actorID, resourceKind, *resourceID)
	}
	if _, ok := r.typed[resourceKind]; !ok {
		r.logFailure("kind_registry", actorID, resourceKind, ErrUnknownKind)
		return deny(ReasonUnknownKind)
	}

	now := r.now()

	// Resource-specific scope is authoritative once a valid grant exists,
	// even when a broader global grant is more permissive.
	if resourceID != nil {
		grants, err := r.store.ValidGrantsFor(ctx, actorID, resourceKind, resourceID)
		if err != nil {
			r.logFailure("grant_store", actorID, resourceKind, err)
			return deny(ReasonStoreUnavailable)
		}
		if g, ok := newestValid(grants, now); ok {
			if g.Level.Satisfies(capability) {
				return allow(ReasonResourceGrant)
			}
			return deny(ReasonInsufficientLevel)
		}
	}

	grants, err := r.store.ValidGrantsFor(ctx, actorID, resourceKind, nil)
	if err != nil {
		r.logFailure("grant_store", actorID, resourceKind, err)
		return deny(ReasonStoreUnavailable)
	}
	if g, ok := newestValid(grants, now); ok {
		if g.Level.Satisfies(capability) {
			return allow(ReasonGlobalGrant)
		}
		return deny(ReasonInsufficientLevel)
	}
	return deny(ReasonNoGrant)
}

// authorizeMembership implements the binary variant: the recorded creator
// always has access, otherwise a membership row must exist.
func (r *Resolver) authorizeMembership(ctx context.Context, actorID, resourceKind, resourceID string) Decision {
	if r.owners != nil {
		owner, err := r.owners.Owner(ctx, resourceKind, resourceID)
		switch {
		case err == nil && owner == actorID:
			return allow(ReasonOwner)
		case err != nil && !errors.Is(err, ErrNotFound):
			r.logFailure("owner_oracle", actorID, resourceKind, err)
			return deny(ReasonOracleUnavailable)
		}
	}
	ok, err := r.store.HasMembership(ctx, actorID, resourceKind, resourceID)
	if err != nil {
		r.logFailure("grant_store", actorID, resourceKind, err)
		return deny(ReasonStoreUnavailable)
	}
	if ok {
		return allow(ReasonMembership)
	}
	return deny(ReasonNoGrant)
}

// KnownKind reports whether the kind was registered at construction.
func (r *Resolver) KnownKind(kind string) bool {
	if _, ok := r.typed[kind]; ok {
		return true
	}
	_, ok := r.membership[kind]
	return ok
}

// MembershipKind reports whether the kind uses the binary grant variant.
func (r *Resolver) MembershipKind(kind string) bool {
	_, ok := r.membership[kind]
	return ok
}

func (r *Resolver) logFailure(component, actorID, resourceKind string, err error) {
	obs.LogEvent(map[string]any{
		"ts":        time.Now().UTC().Format(time.RFC3339Nano),
		"level":     "error",
		"msg":       "authorization check failed closed",
		"component": component,
		"actor_id":  actorID,
		"kind":      resourceKind,
		"error":     err.Error(),
	})
}

// newestValid applies the last-write-wins tie-break and re-checks validity
// against the resolver clock, so a row that expired between the store query
// and the decision still denies.
func newestValid(grants []Grant, now time.Time) (Grant, bool) {
	var valid []Grant
	for _, g := range grants {
		if g.ValidAt(now) {
			valid = append(valid, g)
		}
	}
	return Newest(valid)
}

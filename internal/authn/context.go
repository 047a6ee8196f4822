package authn

import (
	"context"
	"strings"
)

type ctxKey string

const (
	actorIDKey   ctxKey = "authn_actor_id"
	rolesKey     ctxKey = "authn_roles"
	sessionIDKey ctxKey = "authn_session_id"
)

// ContextWithActor stores the authenticated actor identity in the context.
func ContextWithActor(ctx context.Context, actorID string, roles []string) context.Context {
	ctx = context.WithValue(ctx, actorIDKey, strings.TrimSpace(actorID))
	if len(roles) > 0 {
		ctx = context.WithValue(ctx, rolesKey, dedupeRoles(roles))
	}
	return ctx
}

// ActorIDFromContext extracts the authenticated actor ID from context.
func ActorIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(actorIDKey).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// RolesFromContext returns the roles stored in context (deduplicated and lower-cased).
func RolesFromContext(ctx context.Context) []string {
	v, ok := ctx.Value(rolesKey).([]string)
	if !ok || len(v) == 0 {
		return nil
	}
	out := make([]string, len(v))
	copy(out, v)
	return out
}

// HasRole checks whether the context carries the given role.
func HasRole(ctx context.Context, role string) bool {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		return false
	}
	for _, r := range RolesFromContext(ctx) {
		if r == role {
			return true
		}
	}
	return false
}

// ContextWithSessionID attaches a session identifier used for visit tracking.
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext returns the session identifier if present.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(sessionIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// ContextOracle answers role checks from the roles already resolved into the
// request context. It satisfies the access.RoleOracle contract.
type ContextOracle struct{}

// HasAnyRole reports whether the context actor holds any of the given roles.
// The actorID argument must match the context actor; a mismatch always
// reports false so a forged request body cannot borrow another session's roles.
func (ContextOracle) HasAnyRole(ctx context.Context, actorID string, roles []string) (bool, error) {
	ctxActor, ok := ActorIDFromContext(ctx)
	if !ok || ctxActor != actorID {
		return false, nil
	}
	for _, role := range roles {
		if HasRole(ctx, role) {
			return true, nil
		}
	}
	return false, nil
}

package access

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Service provides the administrative grant operations: validation on top of
// the store, in the shape the HTTP layer consumes. Revocation is soft
// (active=false); hard deletion exists only in migration cleanup.
type Service struct {
	store GrantStore
}

// NewService constructs a Service.
func NewService(store GrantStore) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: grant store is required", ErrInvalidInput)
	}
	return &Service{store: store}, nil
}

// GrantRequest carries the administrator input for a typed grant.
type GrantRequest struct {
	ActorID      string
	ResourceKind string
	ResourceID   *string
	Level        Level
	GrantedBy    string
	Notes        string
	ExpiresAt    *time.Time
}

// CreateGrant validates and persists a typed grant.
func (s *Service) CreateGrant(ctx context.Context, req GrantRequest) (Grant, error) {
	req.ActorID = strings.TrimSpace(req.ActorID)
	req.ResourceKind = strings.TrimSpace(req.ResourceKind)
	req.GrantedBy = strings.TrimSpace(req.GrantedBy)
	if req.ActorID == "" {
		return Grant{}, fmt.Errorf("%w: actor_id is required", ErrInvalidInput)
	}
	if req.ResourceKind == "" {
		return Grant{}, fmt.Errorf("%w: resource_kind is required", ErrInvalidInput)
	}
	if req.Level < LevelIncidentsOnly || req.Level > LevelFull {
		return Grant{}, fmt.Errorf("%w: unknown level", ErrInvalidInput)
	}
	if req.ResourceID != nil {
		trimmed := strings.TrimSpace(*req.ResourceID)
		if trimmed == "" {
			return Grant{}, fmt.Errorf("%w: resource_id cannot be blank, omit it for a global grant", ErrInvalidInput)
		}
		req.ResourceID = &trimmed
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		return Grant{}, fmt.Errorf("%w: expires_at must be in the future", ErrInvalidInput)
	}

	g := Grant{
		ActorID:      req.ActorID,
		ResourceKind: req.ResourceKind,
		ResourceID:   req.ResourceID,
		Level:        req.Level,
		GrantedBy:    req.GrantedBy,
		Notes:        strings.TrimSpace(req.Notes),
		ExpiresAt:    req.ExpiresAt,
		Active:       true,
	}
	if err := s.store.CreateGrant(ctx, &g); err != nil {
		return Grant{}, err
	}
	return g, nil
}

// RevokeGrant soft-revokes a grant by clearing its active flag.
func (s *Service) RevokeGrant(ctx context.Context, grantID string) (Grant, error) {
	grantID = strings.TrimSpace(grantID)
	if grantID == "" {
		return Grant{}, fmt.Errorf("%w: grant_id is required", ErrInvalidInput)
	}
	if err := s.store.SetGrantActive(ctx, grantID, false); err != nil {
		return Grant{}, err
	}
	g, err := s.store.GetGrant(ctx, grantID)
	if err != nil {
		return Grant{}, err
	}
	return *g, nil
}

// ExtendGrant moves or clears a grant's expiry.
func (s *Service) ExtendGrant(ctx context.Context, grantID string, expiresAt *time.Time) (Grant, error) {
	grantID = strings.TrimSpace(grantID)
	if grantID == "" {
		return Grant{}, fmt.Errorf("%w: grant_id is required", ErrInvalidInput)
	}
	if expiresAt != nil && !expiresAt.After(time.Now()) {
		return Grant{}, fmt.Errorf("%w: expires_at must be in the future", ErrInvalidInput)
	}
	if err := s.store.ExtendGrant(ctx, grantID, expiresAt); err != nil {
		return Grant{}, err
	}
	g, err := s.store.GetGrant(ctx, grantID)
	if err != nil {
		return Grant{}, err
	}
	return *g, nil
}

// ListValidGrants returns the currently valid grants for one scope.
func (s *Service) ListValidGrants(ctx context.Context, actorID, resourceKind string, resourceID *string) ([]Grant, error) {
	actorID = strings.TrimSpace(actorID)
	resourceKind = strings.TrimSpace(resourceKind)
	if actorID == "" || resourceKind == "" {
		return nil, fmt.Errorf("%w: actor_id and resource_kind are required", ErrInvalidInput)
	}
	return s.store.ValidGrantsFor(ctx, actorID, resourceKind, resourceID)
}

// ListExpiredGrants returns expired grants for cleanup and reporting.
func (s *Service) ListExpiredGrants(ctx context.Context, actorID, resourceKind string) ([]Grant, error) {
	resourceKind = strings.TrimSpace(resourceKind)
	if resourceKind == "" {
		return nil, fmt.Errorf("%w: resource_kind is required", ErrInvalidInput)
	}
	return s.store.ExpiredGrantsFor(ctx, strings.TrimSpace(actorID), resourceKind)
}

// AddMembership persists a binary grant. Adding an existing membership is a
// no-op: existence alone is the grant.
func (s *Service) AddMembership(ctx context.Context, actorID, resourceKind, resourceID, grantedBy string) (Membership, error) {
	actorID = strings.TrimSpace(actorID)
	resourceKind = strings.TrimSpace(resourceKind)
	resourceID = strings.TrimSpace(resourceID)
	if actorID == "" || resourceKind == "" || resourceID == "" {
		return Membership{}, fmt.Errorf("%w: actor_id, resource_kind and resource_id are required", ErrInvalidInput)
	}
	m := Membership{
		ActorID:      actorID,
		ResourceKind: resourceKind,
		ResourceID:   resourceID,
		GrantedBy:    strings.TrimSpace(grantedBy),
	}
	if err := s.store.AddMembership(ctx, &m); err != nil {
		return Membership{}, err
	}
	return m, nil
}

// RemoveMembership deletes a binary grant.
func (s *Service) RemoveMembership(ctx context.Context, actorID, resourceKind, resourceID string) error {
	actorID = strings.TrimSpace(actorID)
	resourceKind = strings.TrimSpace(resourceKind)
	resourceID = strings.TrimSpace(resourceID)
	if actorID == "" || resourceKind == "" || resourceID == "" {
		return fmt.Errorf("%w: actor_id, resource_kind and resource_id are required", ErrInvalidInput)
	}
	return s.store.RemoveMembership(ctx, actorID, resourceKind, resourceID)
}

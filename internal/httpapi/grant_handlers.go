package httpapi

import (
	"net/http"
	"strings"
	"time"

	"kartoteka.org/internal/access"
	"kartoteka.org/internal/audit"
	"kartoteka.org/internal/authn"
	"kartoteka.org/internal/obs"
)

type authorizeRequest struct {
	ActorID      string  `json:"actor_id"`
	ResourceKind string  `json:"resource_kind"`
	ResourceID   *string `json:"resource_id"`
	Capability   string  `json:"capability"`
}

type createGrantRequest struct {
	ActorID      string     `json:"actor_id"`
	ResourceKind string     `json:"resource_kind"`
	ResourceID   *string    `json:"resource_id"`
	Level        string     `json:"level"`
	GrantedBy    string     `json:"granted_by"`
	Notes        string     `json:"notes"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

type extendGrantRequest struct {
	ExpiresAt *time.Time `json:"expires_at"`
}

type membershipRequest struct {
	ActorID      string `json:"actor_id"`
	ResourceKind string `json:"resource_kind"`
	ResourceID   string `json:"resource_id"`
	GrantedBy    string `json:"granted_by"`
}

type listGrantsResponse struct {
	Items []access.Grant `json:"items"`
	AsOf  time.Time      `json:"as_of"`
}

func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req authorizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ctxActor, _ := authn.ActorIDFromContext(r.Context())
	actorID := strings.TrimSpace(req.ActorID)
	if actorID == "" {
		actorID = ctxActor
	}
	if actorID == "" {
		writeError(w, r, http.StatusBadRequest, "actor_id is required")
		return
	}
	// Probing another actor's permissions is an admin operation.
	if actorID != ctxActor && !a.requireAdmin(w, r) {
		return
	}

	kind := strings.TrimSpace(req.ResourceKind)
	if kind == "" {
		writeError(w, r, http.StatusBadRequest, "resource_kind is required")
		return
	}
	capability, err := access.ParseCapability(strings.TrimSpace(req.Capability))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	decision := a.resolver.Authorize(r.Context(), actorID, kind, req.ResourceID, capability)
	obs.ObserveDecision(kind, string(capability), decision.Allowed)
	writeJSON(w, http.StatusOK, decision)
}

func (a *API) handleGrantsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createGrant(w, r)
	case http.MethodGet:
		a.listGrants(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) createGrant(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}
	var req createGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	kind := strings.TrimSpace(req.ResourceKind)
	if !a.resolver.KnownKind(kind) {
		writeError(w, r, http.StatusBadRequest, "unknown resource kind")
		return
	}
	if a.resolver.MembershipKind(kind) {
		writeError(w, r, http.StatusBadRequest, "membership kinds use /v1/memberships")
		return
	}
	level, err := access.ParseLevel(strings.TrimSpace(req.Level))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	grantedBy := strings.TrimSpace(req.GrantedBy)
	if grantedBy == "" {
		grantedBy, _ = authn.ActorIDFromContext(r.Context())
	}

	grant, err := a.grants.CreateGrant(r.Context(), access.GrantRequest{
		ActorID:      req.ActorID,
		ResourceKind: kind,
		ResourceID:   req.ResourceID,
		Level:        level,
		GrantedBy:    grantedBy,
		Notes:        req.Notes,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	fields := map[string]any{
		"actor_id":      grant.ActorID,
		"resource_kind": grant.ResourceKind,
		"level":         grant.Level.String(),
	}
	if grant.ResourceID != nil {
		fields["resource_id"] = *grant.ResourceID
	}
	_ = audit.LogEvent(r.Context(), "access.grant.create", fields)

	w.Header().Set("Location", "/v1/grants/"+grant.ID)
	writeJSON(w, http.StatusCreated, grant)
}

func (a *API) listGrants(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}
	q := r.URL.Query()
	actorID := strings.TrimSpace(q.Get("actor_id"))
	kind := strings.TrimSpace(q.Get("resource_kind"))
	if kind == "" {
		writeError(w, r, http.StatusBadRequest, "resource_kind query parameter is required")
		return
	}

	var items []access.Grant
	var err error
	switch status := strings.TrimSpace(q.Get("status")); status {
	case "", "valid":
		if actorID == "" {
			writeError(w, r, http.StatusBadRequest, "actor_id query parameter is required")
			return
		}
		var resourceID *string
		if v := strings.TrimSpace(q.Get("resource_id")); v != "" {
			resourceID = &v
		}
		items, err = a.grants.ListValidGrants(r.Context(), actorID, kind, resourceID)
	case "expired":
		items, err = a.grants.ListExpiredGrants(r.Context(), actorID, kind)
	default:
		writeError(w, r, http.StatusBadRequest, "status must be valid or expired")
		return
	}
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	if items == nil {
		items = []access.Grant{}
	}
	writeJSON(w, http.StatusOK, listGrantsResponse{Items: items, AsOf: time.Now().UTC()})
}

func (a *API) handleGrantResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/grants/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requireAdmin(w, r) {
		return
	}

	grantID := parts[0]
	switch parts[1] {
	case "revoke":
		grant, err := a.grants.RevokeGrant(r.Context(), grantID)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "access.grant.revoke", map[string]any{
			"grant_id": grant.ID,
			"actor_id": grant.ActorID,
		})
		writeJSON(w, http.StatusOK, grant)
	case "extend":
		var req extendGrantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		grant, err := a.grants.ExtendGrant(r.Context(), grantID, req.ExpiresAt)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		fields := map[string]any{
			"grant_id": grant.ID,
			"actor_id": grant.ActorID,
		}
		if grant.ExpiresAt != nil {
			fields["expires_at"] = grant.ExpiresAt.Format(time.RFC3339)
		}
		_ = audit.LogEvent(r.Context(), "access.grant.extend", fields)
		writeJSON(w, http.StatusOK, grant)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleMemberships(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requireAdmin(w, r) {
		return
	}
	req, ok := a.decodeMembership(w, r)
	if !ok {
		return
	}
	grantedBy := strings.TrimSpace(req.GrantedBy)
	if grantedBy == "" {
		grantedBy, _ = authn.ActorIDFromContext(r.Context())
	}
	m, err := a.grants.AddMembership(r.Context(), req.ActorID, req.ResourceKind, req.ResourceID, grantedBy)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "access.membership.add", map[string]any{
		"actor_id":      m.ActorID,
		"resource_kind": m.ResourceKind,
		"resource_id":   m.ResourceID,
	})
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) handleMembershipRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requireAdmin(w, r) {
		return
	}
	req, ok := a.decodeMembership(w, r)
	if !ok {
		return
	}
	if err := a.grants.RemoveMembership(r.Context(), req.ActorID, req.ResourceKind, req.ResourceID); err != nil {
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "access.membership.remove", map[string]any{
		"actor_id":      req.ActorID,
		"resource_kind": req.ResourceKind,
		"resource_id":   req.ResourceID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) decodeMembership(w http.ResponseWriter, r *http.Request) (membershipRequest, bool) {
	var req membershipRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return req, false
	}
	req.ActorID = strings.TrimSpace(req.ActorID)
	req.ResourceKind = strings.TrimSpace(req.ResourceKind)
	req.ResourceID = strings.TrimSpace(req.ResourceID)
	if req.ActorID == "" || req.ResourceKind == "" || req.ResourceID == "" {
		writeError(w, r, http.StatusBadRequest, "actor_id, resource_kind and resource_id are required")
		return req, false
	}
	if !a.resolver.MembershipKind(req.ResourceKind) {
		writeError(w, r, http.StatusBadRequest, "not a membership resource kind")
		return req, false
	}
	return req, true
}

package httpapi

import (
	"net/http"
	"strings"

	"kartoteka.org/internal/access"
	"kartoteka.org/internal/authn"
	"kartoteka.org/internal/obs"
)

type durationRequest struct {
	Seconds int `json:"seconds"`
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	setRouteName(r, "dashboard")
	writeJSON(w, http.StatusOK, map[string]any{
		"page":    "dashboard",
		"service": "kartoteka-api",
	})
}

func (a *API) handleRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/records/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	kind := parts[0]
	if !a.resolver.KnownKind(kind) {
		writeError(w, r, http.StatusNotFound, "unknown resource kind")
		return
	}

	switch {
	case len(parts) == 1:
		a.recordIndex(w, r, kind)
	case len(parts) == 2:
		a.recordShow(w, r, kind, parts[1])
	case len(parts) == 3 && parts[2] == "stats":
		a.recordStats(w, r, kind, parts[1])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) recordIndex(w http.ResponseWriter, r *http.Request, kind string) {
	setRouteName(r, kind+".index")
	writeJSON(w, http.StatusOK, map[string]any{
		"kind": kind,
		"page": kind + ".index",
	})
}

func (a *API) recordShow(w http.ResponseWriter, r *http.Request, kind, id string) {
	actorID, ok := authn.ActorIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}

	decision := a.resolver.Authorize(r.Context(), actorID, kind, &id, access.CapabilityReadOnly)
	obs.ObserveDecision(kind, string(access.CapabilityReadOnly), decision.Allowed)
	if !decision.Allowed {
		writeError(w, r, http.StatusForbidden, "access denied: "+decision.Reason)
		return
	}

	setRouteName(r, kind+".show")
	addRouteParam(r, kind, id)
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":   kind,
		"id":     id,
		"reason": decision.Reason,
	})
}

func (a *API) recordStats(w http.ResponseWriter, r *http.Request, kind, id string) {
	actorID, ok := authn.ActorIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	// Stats are visible to whoever may read the record they describe.
	decision := a.resolver.Authorize(r.Context(), actorID, kind, &id, access.CapabilityReadOnly)
	obs.ObserveDecision(kind, string(access.CapabilityReadOnly), decision.Allowed)
	if !decision.Allowed {
		writeError(w, r, http.StatusForbidden, "access denied: "+decision.Reason)
		return
	}

	stats, err := a.aggregator.Stats(r.Context(), kind, id)
	if err != nil {
		handleVisitError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleVisitResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/visits/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "duration" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req durationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.recorder.BackfillDuration(r.Context(), parts[0], req.Seconds); err != nil {
		handleVisitError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

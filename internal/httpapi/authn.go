package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"kartoteka.org/internal/authn"
)

const (
	authHeader    = "Authorization"
	bearer        = "Bearer "
	sessionCookie = "kartoteka_session"
)

var publicPaths = []string{
	"/v1/auth/token",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/v1/dashboard",
	"/",
}

// withAuth resolves the bearer token into an actor identity. Public pages
// stay reachable without a token, but a presented token is still resolved so
// their visits carry the actor. Everything else requires a valid token.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		public := isPublicPath(r.URL.Path)
		raw := r.Header.Get(authHeader)
		if strings.TrimSpace(raw) == "" {
			if public {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, r, http.StatusUnauthorized, "missing bearer token")
			return
		}

		token, err := extractBearerToken(raw)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := authn.ParseAndValidate(token)
		if err != nil {
			if errors.Is(err, authn.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := authn.ContextWithActor(r.Context(), claims.Subject, claims.Roles)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withSession attaches a session identifier used to group visit events. A new
// cookie is minted for first-time visitors.
func (a *API) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := ""
		if c, err := r.Cookie(sessionCookie); err == nil {
			sid = strings.TrimSpace(c.Value)
		}
		if sid == "" || len(sid) > 64 {
			sid = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookie,
				Value:    sid,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		ctx := authn.ContextWithSessionID(r.Context(), sid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin gates the grant management surface.
func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if authn.HasRole(r.Context(), "admin") || authn.HasRole(r.Context(), "superadmin") {
		return true
	}
	writeError(w, r, http.StatusForbidden, "admin role required")
	return false
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	// Kind index pages (/v1/records/{kind}) are public listings; records
	// themselves (/v1/records/{kind}/{id}) are not.
	if rest, ok := strings.CutPrefix(path, "/v1/records/"); ok {
		rest = strings.Trim(rest, "/")
		return rest != "" && !strings.Contains(rest, "/")
	}
	return false
}

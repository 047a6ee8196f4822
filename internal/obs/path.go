package obs

import "strings"

// CanonicalPath collapses dynamic path segments so metric label cardinality
// stays bounded. Unrecognised paths are returned as-is.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "records":
		return "/v1/records/:kind/:id"
	case len(parts) == 5 && parts[0] == "v1" && parts[1] == "records" && parts[4] == "stats":
		return "/v1/records/:kind/:id/stats"
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "grants" &&
		(parts[3] == "revoke" || parts[3] == "extend"):
		return "/v1/grants/:id/" + parts[3]
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "visits" && parts[3] == "duration":
		return "/v1/visits/:id/duration"
	}
	return path
}

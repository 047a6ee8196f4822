package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                               "/",
		"/metrics":                       "/metrics",
		"/v1/records/incident_report/7":  "/v1/records/:kind/:id",
		"/v1/records/criminal/42/stats":  "/v1/records/:kind/:id/stats",
		"/v1/grants/abc/revoke":          "/v1/grants/:id/revoke",
		"/v1/grants/abc/extend":          "/v1/grants/:id/extend",
		"/v1/visits/xyz/duration":        "/v1/visits/:id/duration",
		"/v1/grants":                     "/v1/grants",
		"/v1/authorize":                  "/v1/authorize",
		"/v1/visits/stream?replay=1":     "/v1/visits/stream",
		"/v1/records/criminal/42/photos": "/v1/records/criminal/42/photos",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

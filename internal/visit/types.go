package visit

import (
	"context"
	"strings"
	"time"
)

// PageKind is the synthetic visitable kind used for named-page tracking,
// where the route name stands in for a record id.
const PageKind = "Page"

// Event is one immutable record of a read access. Only DurationSeconds may
// be backfilled after the fact; everything else is write-once.
type Event struct {
	ID              string            `json:"id"`
	ActorID         *string           `json:"actor_id,omitempty"`
	SessionID       string            `json:"session_id,omitempty"`
	VisitableKind   string            `json:"visitable_kind"`
	VisitableID     string            `json:"visitable_id"`
	IP              string            `json:"ip,omitempty"`
	UserAgent       string            `json:"user_agent,omitempty"`
	DeviceType      string            `json:"device_type,omitempty"`
	Browser         string            `json:"browser,omitempty"`
	Platform        string            `json:"platform,omitempty"`
	Country         string            `json:"country,omitempty"`
	Region          string            `json:"region,omitempty"`
	City            string            `json:"city,omitempty"`
	URL             string            `json:"url,omitempty"`
	Referrer        string            `json:"referrer,omitempty"`
	Method          string            `json:"method,omitempty"`
	VisitedAt       time.Time         `json:"visited_at"`
	DurationSeconds *int              `json:"duration_seconds,omitempty"`
	IsBounce        bool              `json:"is_bounce"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Anonymous reports whether the event has no authenticated actor.
func (e Event) Anonymous() bool { return e.ActorID == nil || *e.ActorID == "" }

// LocationFormatted joins the geo fields into a display string, falling back
// to "Unknown" when every input is absent.
func (e Event) LocationFormatted() string {
	return joinOrUnknown(e.City, e.Region, e.Country)
}

// DeviceFormatted joins the classification fields into a display string.
func (e Event) DeviceFormatted() string {
	return joinOrUnknown(e.DeviceType, e.Browser, e.Platform)
}

func joinOrUnknown(parts ...string) string {
	var present []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			present = append(present, p)
		}
	}
	if len(present) == 0 {
		return "Unknown"
	}
	return strings.Join(present, ", ")
}

// Classification is the best-effort output of an external geo/user-agent
// classifier. Any field may be empty.
type Classification struct {
	Country    string
	Region     string
	City       string
	DeviceType string
	Browser    string
	Platform   string
	IsBounce   bool
}

// Classifier derives geo and device attributes from a request's network
// identity. Failures are non-fatal: the caller writes the event anyway.
type Classifier interface {
	Classify(ctx context.Context, ip, userAgent string) (Classification, error)
}

// RequestInfo carries the request attributes a visit is recorded from.
type RequestInfo struct {
	ActorID   *string
	SessionID string
	IP        string
	UserAgent string
	URL       string
	Referrer  string
	Method    string
	VisitedAt *time.Time
	Metadata  map[string]string
}

package httpapi

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"kartoteka.org/internal/access"
	"kartoteka.org/internal/authn"
	"kartoteka.org/internal/obs"
	"kartoteka.org/internal/visit"
)

// RouteParam is one resolved path parameter, in route order.
type RouteParam struct {
	Key   string
	Value string
}

// RouteInfo is a per-request container the routed handler fills in so the
// tracker knows, after the response, what the request actually resolved to.
type RouteInfo struct {
	Name   string
	Params []RouteParam
}

type routeInfoCtxKey struct{}

// RouteInfoFromContext returns the request's route container, if the tracking
// middleware is installed.
func RouteInfoFromContext(ctx context.Context) *RouteInfo {
	ri, _ := ctx.Value(routeInfoCtxKey{}).(*RouteInfo)
	return ri
}

func setRouteName(r *http.Request, name string) {
	if ri := RouteInfoFromContext(r.Context()); ri != nil {
		ri.Name = name
	}
}

func addRouteParam(r *http.Request, key, value string) {
	if ri := RouteInfoFromContext(r.Context()); ri != nil {
		ri.Params = append(ri.Params, RouteParam{Key: key, Value: value})
	}
}

// trackedPages is the fixed allow-list of route names recorded as synthetic
// page visits, mapped to their human labels.
var trackedPages = map[string]string{
	"dashboard":             "Dashboard",
	"incident_report.index": "Incident Reports",
	"feedback.index":        "Feedback",
	"criminal.index":        "Criminal Records",
	"info_center.index":     "Information Center",
}

// Tracker records page visits after the response has been written. Recording
// is asynchronous and must never change the outcome of the request it
// observes: failures are counted and logged, nothing more.
type Tracker struct {
	recorder *visit.Recorder
	resolver *access.Resolver
	pages    map[string]string
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewTracker(recorder *visit.Recorder, resolver *access.Resolver) *Tracker {
	return &Tracker{
		recorder: recorder,
		resolver: resolver,
		pages:    trackedPages,
		timeout:  3 * time.Second,
	}
}

// Middleware injects the route container and spawns the post-response
// recording goroutine for trackable requests.
func (t *Tracker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t == nil || t.recorder == nil {
			next.ServeHTTP(w, r)
			return
		}

		ri := &RouteInfo{}
		r = r.WithContext(context.WithValue(r.Context(), routeInfoCtxKey{}, ri))
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		if !t.shouldTrack(r, sw.code) {
			return
		}
		targets := t.visitTargets(ri)
		if len(targets) == 0 {
			return
		}

		info := visit.RequestInfo{
			IP:        clientIP(r),
			UserAgent: r.UserAgent(),
			URL:       r.URL.RequestURI(),
			Referrer:  r.Referer(),
			Method:    r.Method,
		}
		if actorID, okActor := authn.ActorIDFromContext(r.Context()); okActor {
			info.ActorID = &actorID
		}
		if sid, okSess := authn.SessionIDFromContext(r.Context()); okSess {
			info.SessionID = sid
		}

		for _, tgt := range targets {
			tgtInfo := info
			tgtInfo.Metadata = tgt.metadata
			t.wg.Add(1)
			go t.record(tgt.kind, tgt.id, tgtInfo)
		}
	})
}

// Drain waits for in-flight visit writes; called on graceful shutdown.
func (t *Tracker) Drain() {
	t.wg.Wait()
}

func (t *Tracker) shouldTrack(r *http.Request, status int) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest") {
		return false
	}
	return status < 400
}

type visitTarget struct {
	kind     string
	id       string
	metadata map[string]string
}

// visitTargets collects the visit targets of a routed request. The model
// visit (first path parameter naming a registered resource kind) and the
// named-page visit (route name on the allow-list) are independent signals
// and may both fire for the same request.
func (t *Tracker) visitTargets(ri *RouteInfo) []visitTarget {
	var targets []visitTarget
	for _, p := range ri.Params {
		if t.resolver != nil && t.resolver.KnownKind(p.Key) && p.Value != "" {
			targets = append(targets, visitTarget{kind: p.Key, id: p.Value})
			break
		}
	}
	if label, ok := t.pages[ri.Name]; ok {
		targets = append(targets, visitTarget{
			kind: visit.PageKind,
			id:   ri.Name,
			metadata: map[string]string{
				"label": label,
				"route": ri.Name,
			},
		})
	}
	return targets
}

func (t *Tracker) record(kind, id string, info visit.RequestInfo) {
	defer t.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			obs.ObserveVisitDropped("panic")
			obs.LogEvent(map[string]any{
				"ts":    time.Now().UTC().Format(time.RFC3339Nano),
				"level": "error",
				"msg":   "visit recording panicked",
				"url":   info.URL,
				"ip":    info.IP,
				"panic": rec,
			})
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	if _, err := t.recorder.Record(ctx, kind, id, info); err != nil {
		obs.ObserveVisitDropped("record_error")
		obs.LogEvent(map[string]any{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": "error",
			"msg":   "visit recording failed",
			"kind":  kind,
			"url":   info.URL,
			"error": err.Error(),
		})
		return
	}
	obs.ObserveVisitRecorded()
}

package visit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	defaultWriteTimeout    = 2 * time.Second
	defaultClassifyTimeout = 500 * time.Millisecond
)

// Recorder appends visit events. Pure append: no read-modify-write, so the
// write path needs no locking of its own. Classification is best-effort and
// never blocks the write.
type Recorder struct {
	store           Store
	classifier      Classifier
	stream          *Stream
	writeTimeout    time.Duration
	classifyTimeout time.Duration
	now             func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClassifier wires the external geo/user-agent classifier.
func WithClassifier(c Classifier) RecorderOption {
	return func(r *Recorder) { r.classifier = c }
}

// WithStream publishes each persisted event to a live-subscriber stream.
func WithStream(s *Stream) RecorderOption {
	return func(r *Recorder) { r.stream = s }
}

// WithWriteTimeout bounds the store write; past it the event is dropped.
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// WithRecorderClock overrides the time source. Intended for tests.
func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRecorder constructs a Recorder.
func NewRecorder(store Store, opts ...RecorderOption) (*Recorder, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: visit store is required", ErrInvalidInput)
	}
	r := &Recorder{
		store:           store,
		writeTimeout:    defaultWriteTimeout,
		classifyTimeout: defaultClassifyTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Record persists one visit event for the visitable (kind, id). The error
// return is for the caller to log and count; the event is already dropped,
// never retried.
func (r *Recorder) Record(ctx context.Context, kind, id string, info RequestInfo) (*Event, error) {
	kind = strings.TrimSpace(kind)
	id = strings.TrimSpace(id)
	if kind == "" || id == "" {
		return nil, fmt.Errorf("%w: visitable kind and id are required", ErrInvalidInput)
	}

	e := Event{
		ActorID:       info.ActorID,
		SessionID:     info.SessionID,
		VisitableKind: kind,
		VisitableID:   id,
		IP:            info.IP,
		UserAgent:     info.UserAgent,
		URL:           info.URL,
		Referrer:      info.Referrer,
		Method:        info.Method,
		Metadata:      info.Metadata,
	}
	if info.VisitedAt != nil {
		e.VisitedAt = info.VisitedAt.UTC()
	} else {
		e.VisitedAt = r.now().UTC()
	}

	if r.classifier != nil {
		cctx, cancel := context.WithTimeout(ctx, r.classifyTimeout)
		c, err := r.classifier.Classify(cctx, info.IP, info.UserAgent)
		cancel()
		// Classification failure leaves the fields empty and the write proceeds.
		if err == nil {
			e.Country = c.Country
			e.Region = c.Region
			e.City = c.City
			e.DeviceType = c.DeviceType
			e.Browser = c.Browser
			e.Platform = c.Platform
			e.IsBounce = c.IsBounce
		}
	}

	wctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()
	if err := r.store.Append(wctx, &e); err != nil {
		return nil, fmt.Errorf("append visit event: %w", err)
	}
	if r.stream != nil {
		r.stream.Publish(e)
	}
	return &e, nil
}

// BackfillDuration records a later client signal for time spent on the page.
func (r *Recorder) BackfillDuration(ctx context.Context, eventID string, seconds int) error {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" || seconds < 0 {
		return fmt.Errorf("%w: event id and non-negative seconds are required", ErrInvalidInput)
	}
	wctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()
	return r.store.BackfillDuration(wctx, eventID, seconds)
}

package visit

import (
	"context"
	"sync"
	"time"

	"kartoteka.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety, mirroring
// the Postgres store's semantics for tests and DSN-less runs.
type InMemory struct {
	mu     sync.RWMutex
	events []Event
	byID   map[string]int
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty visit store.
func NewInMemory() *InMemory {
	return &InMemory{byID: make(map[string]int)}
}

func (s *InMemory) Append(ctx context.Context, e *Event) error {
	if e.VisitableKind == "" || e.VisitableID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.VisitedAt.IsZero() {
		e.VisitedAt = time.Now().UTC()
	}
	stored := *e
	if e.Metadata != nil {
		stored.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			stored.Metadata[k] = v
		}
	}
	s.byID[stored.ID] = len(s.events)
	s.events = append(s.events, stored)
	return nil
}

func (s *InMemory) BackfillDuration(ctx context.Context, eventID string, seconds int) error {
	if seconds < 0 {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[eventID]
	if !ok {
		return ErrNotFound
	}
	s.events[idx].DurationSeconds = &seconds
	return nil
}

func (s *InMemory) CountFor(ctx context.Context, kind, id string, since, until *time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, e := range s.events {
		if e.VisitableKind != kind || e.VisitableID != id {
			continue
		}
		if since != nil && e.VisitedAt.Before(*since) {
			continue
		}
		if until != nil && e.VisitedAt.After(*until) {
			continue
		}
		n++
	}
	return n, nil
}

func (s *InMemory) UniqueVisitors(ctx context.Context, kind, id string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	actors := make(map[string]struct{})
	anonIPs := make(map[string]struct{})
	for _, e := range s.events {
		if e.VisitableKind != kind || e.VisitableID != id {
			continue
		}
		if e.Anonymous() {
			anonIPs[e.IP] = struct{}{}
		} else {
			actors[*e.ActorID] = struct{}{}
		}
	}
	return int64(len(actors) + len(anonIPs)), nil
}

func (s *InMemory) BounceCount(ctx context.Context, kind, id string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, e := range s.events {
		if e.VisitableKind == kind && e.VisitableID == id && e.IsBounce {
			n++
		}
	}
	return n, nil
}

func (s *InMemory) AverageDuration(ctx context.Context, kind, id string) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum, n int64
	for _, e := range s.events {
		if e.VisitableKind == kind && e.VisitableID == id && e.DurationSeconds != nil {
			sum += int64(*e.DurationSeconds)
			n++
		}
	}
	if n == 0 {
		return 0, false, nil
	}
	return float64(sum) / float64(n), true, nil
}

func (s *InMemory) DeviceMix(ctx context.Context, kind, id string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mix := make(map[string]int64)
	for _, e := range s.events {
		if e.VisitableKind == kind && e.VisitableID == id {
			mix[e.DeviceType]++
		}
	}
	return mix, nil
}

// EventsFor returns copies of all events for one visitable, in insertion
// order. Test helper.
func (s *InMemory) EventsFor(kind, id string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.events {
		if e.VisitableKind == kind && e.VisitableID == id {
			out = append(out, e)
		}
	}
	return out
}

// EventByID returns a copy of one stored event. Test helper.
func (s *InMemory) EventByID(id string) (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return Event{}, false
	}
	return s.events[idx], true
}

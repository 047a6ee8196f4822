package access

import (
	"context"
	"sort"
	"sync"
	"time"

	"kartoteka.org/internal/ids"
)

// InMemory implements GrantStore with in-process concurrency safety.
// Production deployments use the Postgres store; this backing serves tests
// and DSN-less development runs.
type InMemory struct {
	mu          sync.RWMutex
	seq         uint64
	grants      map[string]*Grant
	memberships map[string]*Membership // key: actor|kind|resource
	now         func() time.Time
}

var _ GrantStore = (*InMemory)(nil)

// NewInMemory creates an empty grant store.
func NewInMemory() *InMemory {
	return &InMemory{
		grants:      make(map[string]*Grant),
		memberships: make(map[string]*Membership),
		now:         time.Now,
	}
}

// SetClock overrides the store clock. Intended for tests.
func (s *InMemory) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now != nil {
		s.now = now
	}
}

func (s *InMemory) CreateGrant(ctx context.Context, g *Grant) error {
	if g.ActorID == "" || g.ResourceKind == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if g.ID == "" {
		g.ID = ids.New()
	}
	s.seq++
	g.Seq = s.seq
	ts := s.now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = ts
	}
	g.UpdatedAt = ts
	stored := *g
	s.grants[g.ID] = &stored
	return nil
}

func (s *InMemory) GetGrant(ctx context.Context, id string) (*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *g
	return &out, nil
}

func (s *InMemory) SetGrantActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return ErrNotFound
	}
	g.Active = active
	g.UpdatedAt = s.now().UTC()
	return nil
}

func (s *InMemory) ExtendGrant(ctx context.Context, id string, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return ErrNotFound
	}
	if expiresAt != nil {
		t := expiresAt.UTC()
		g.ExpiresAt = &t
	} else {
		g.ExpiresAt = nil
	}
	g.UpdatedAt = s.now().UTC()
	return nil
}

func (s *InMemory) ValidGrantsFor(ctx context.Context, actorID, resourceKind string, resourceID *string) ([]Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var out []Grant
	for _, g := range s.grants {
		if g.ActorID != actorID || g.ResourceKind != resourceKind {
			continue
		}
		if !sameScope(g.ResourceID, resourceID) {
			continue
		}
		if !g.ValidAt(now) {
			continue
		}
		out = append(out, *g)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *InMemory) ExpiredGrantsFor(ctx context.Context, actorID, resourceKind string) ([]Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var out []Grant
	for _, g := range s.grants {
		if g.ResourceKind != resourceKind {
			continue
		}
		if actorID != "" && g.ActorID != actorID {
			continue
		}
		if g.ExpiresAt == nil || g.ExpiresAt.After(now) {
			continue
		}
		out = append(out, *g)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *InMemory) AddMembership(ctx context.Context, m *Membership) error {
	if m.ActorID == "" || m.ResourceKind == "" || m.ResourceID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := membershipKey(m.ActorID, m.ResourceKind, m.ResourceID)
	if _, exists := s.memberships[key]; exists {
		return nil // idempotent, existence alone is the grant
	}
	if m.ID == "" {
		m.ID = ids.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}
	stored := *m
	s.memberships[key] = &stored
	return nil
}

func (s *InMemory) RemoveMembership(ctx context.Context, actorID, resourceKind, resourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := membershipKey(actorID, resourceKind, resourceID)
	if _, ok := s.memberships[key]; !ok {
		return ErrNotFound
	}
	delete(s.memberships, key)
	return nil
}

func (s *InMemory) HasMembership(ctx context.Context, actorID, resourceKind, resourceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.memberships[membershipKey(actorID, resourceKind, resourceID)]
	return ok, nil
}

func membershipKey(actorID, kind, resourceID string) string {
	return actorID + "|" + kind + "|" + resourceID
}

func sameScope(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sortNewestFirst(grants []Grant) {
	sort.Slice(grants, func(i, j int) bool { return newer(grants[i], grants[j]) })
}

func newer(a, b Grant) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.Seq > b.Seq
}

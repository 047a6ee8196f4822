package access

import (
	"context"
	"errors"
	"testing"
	"time"
)

type staticOracle struct {
	roles map[string][]string
	err   error
}

func (o staticOracle) HasAnyRole(ctx context.Context, actorID string, roles []string) (bool, error) {
	if o.err != nil {
		return false, o.err
	}
	held := o.roles[actorID]
	for _, want := range roles {
		for _, have := range held {
			if want == have {
				return true, nil
			}
		}
	}
	return false, nil
}

type staticOwners struct {
	owners map[string]string // kind/id -> actor
	err    error
}

func (o staticOwners) Owner(ctx context.Context, kind, id string) (string, error) {
	if o.err != nil {
		return "", o.err
	}
	owner, ok := o.owners[kind+"/"+id]
	if !ok {
		return "", ErrNotFound
	}
	return owner, nil
}

// failingStore errors on every read, for fail-closed coverage.
type failingStore struct {
	GrantStore
}

var errStoreDown = errors.New("connection refused")

func (failingStore) ValidGrantsFor(ctx context.Context, actorID, kind string, resourceID *string) ([]Grant, error) {
	return nil, errStoreDown
}

func (failingStore) HasMembership(ctx context.Context, actorID, kind, resourceID string) (bool, error) {
	return false, errStoreDown
}

func newTestResolver(t *testing.T, store GrantStore, oracle RoleOracle, opts ...ResolverOption) *Resolver {
	t.Helper()
	base := []ResolverOption{
		WithTypedKinds("incident_report"),
		WithMembershipKinds("criminal", "info_center"),
	}
	r, err := NewResolver(store, oracle, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r
}

func strptr(s string) *string { return &s }

func mustGrant(t *testing.T, store GrantStore, g Grant) Grant {
	t.Helper()
	if err := store.CreateGrant(context.Background(), &g); err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}
	return g
}

func TestPrivilegedRoleBypassesGrants(t *testing.T) {
	store := NewInMemory()
	oracle := staticOracle{roles: map[string][]string{"root": {"superadmin"}}}
	r := newTestResolver(t, store, oracle)

	// Zero grants present: every capability still allows.
	for _, cap := range []Capability{CapabilityIncidentsOnly, CapabilityReadOnly, CapabilityCreate, CapabilityUpdate, CapabilityDelete} {
		d := r.Authorize(context.Background(), "root", "incident_report", strptr("7"), cap)
		if !d.Allowed || d.Reason != ReasonPrivilegedRole {
			t.Fatalf("capability %s: expected privileged allow, got %+v", cap, d)
		}
	}
}

func TestFailClosedOnStoreError(t *testing.T) {
	r := newTestResolver(t, failingStore{}, staticOracle{})

	d := r.Authorize(context.Background(), "alice", "incident_report", strptr("7"), CapabilityReadOnly)
	if d.Allowed {
		t.Fatalf("expected deny on store failure, got %+v", d)
	}
	if d.Reason != ReasonStoreUnavailable {
		t.Fatalf("unexpected reason: %s", d.Reason)
	}

	d = r.Authorize(context.Background(), "alice", "criminal", strptr("9"), CapabilityReadOnly)
	if d.Allowed || d.Reason != ReasonStoreUnavailable {
		t.Fatalf("membership path did not fail closed: %+v", d)
	}
}

func TestFailClosedOnOracleError(t *testing.T) {
	store := NewInMemory()
	mustGrant(t, store, Grant{ActorID: "alice", ResourceKind: "incident_report", Level: LevelFull, Active: true})
	r := newTestResolver(t, store, staticOracle{err: errors.New("oracle timeout")})

	d := r.Authorize(context.Background(), "alice", "incident_report", nil, CapabilityReadOnly)
	if d.Allowed || d.Reason != ReasonOracleUnavailable {
		t.Fatalf("expected oracle deny despite valid grant, got %+v", d)
	}
}

func TestResourceSpecificGrantWinsOverGlobal(t *testing.T) {
	store := NewInMemory()
	r := newTestResolver(t, store, staticOracle{})
	ctx := context.Background()

	mustGrant(t, store, Grant{ActorID: "alice", ResourceKind: "incident_report", ResourceID: strptr("7"), Level: LevelReadOnly, Active: true})
	mustGrant(t, store, Grant{ActorID: "alice", ResourceKind: "incident_report", Level: LevelFull, Active: true})

	// The less permissive specific grant is authoritative on #7.
	if d := r.Authorize(ctx, "alice", "incident_report", strptr("7"), CapabilityUpdate); d.Allowed {
		t.Fatalf("expected deny under resource-specific precedence, got %+v", d)
	}
	if d := r.Authorize(ctx, "alice", "incident_report", strptr("7"), CapabilityReadOnly); !d.Allowed || d.Reason != ReasonResourceGrant {
		t.Fatalf("expected resource grant allow, got %+v", d)
	}
	// No specific grant on #9: global Full governs.
	if d := r.Authorize(ctx, "alice", "incident_report", strptr("9"), CapabilityUpdate); !d.Allowed || d.Reason != ReasonGlobalGrant {
		t.Fatalf("expected global allow on other resource, got %+v", d)
	}
}

func TestExpiredGrantNeverSatisfies(t *testing.T) {
	store := NewInMemory()
	r := newTestResolver(t, store, staticOracle{})

	past := time.Now().Add(-time.Hour)
	mustGrant(t, store, Grant{ActorID: "alice", ResourceKind: "incident_report", ResourceID: strptr("7"), Level: LevelFull, Active: true, ExpiresAt: &past})

	for _, cap := range []Capability{CapabilityIncidentsOnly, CapabilityReadOnly, CapabilityUpdate} {
		if d := r.Authorize(context.Background(), "alice", "incident_report", strptr("7"), cap); d.Allowed {
			t.Fatalf("expired grant satisfied %s: %+v", cap, d)
		}
	}
}

func TestInactiveGrantNeverSatisfies(t *testing.T) {
	store := NewInMemory()
	r := newTestResolver(t, store, staticOracle{})

	g := mustGrant(t, store, Grant{ActorID: "alice", ResourceKind: "incident_report", Level: LevelFull, Active: true})
	if err := store.SetGrantActive(context.Background(), g.ID, false); err != nil {
		t.Fatalf("SetGrantActive: %v", err)
	}
	if d := r.Authorize(context.Background(), "alice", "incident_report", nil, CapabilityReadOnly); d.Allowed {
		t.Fatalf("revoked grant still satisfied: %+v", d)
	}
}

func TestLevelCapabilityMatrix(t *testing.T) {
	cases := []struct {
		level Level
		cap   Capability
		want  bool
	}{
		{LevelIncidentsOnly, CapabilityIncidentsOnly, true},
		{LevelIncidentsOnly, CapabilityReadOnly, false},
		{LevelIncidentsOnly, CapabilityCreate, false},
		{LevelIncidentsOnly, CapabilityUpdate, false},
		{LevelIncidentsOnly, CapabilityDelete, false},
		{LevelReadOnly, CapabilityIncidentsOnly, true},
		{LevelReadOnly, CapabilityReadOnly, true},
		{LevelReadOnly, CapabilityCreate, false},
		{LevelReadOnly, CapabilityUpdate, false},
		{LevelReadOnly, CapabilityDelete, false},
		{LevelFull, CapabilityIncidentsOnly, true},
		{LevelFull, CapabilityReadOnly, true},
		{LevelFull, CapabilityCreate, true},
		{LevelFull, CapabilityUpdate, true},
		{LevelFull, CapabilityDelete, true},
	}
	for _, tc := range cases {
		if got := tc.level.Satisfies(tc.cap); got != tc.want {
			t.Fatalf("%s.Satisfies(%s)=%v, want %v", tc.level, tc.cap, got, tc.want)
		}
	}
}

func TestLastWriteWinsWithinScope(t *testing.T) {
	store := NewInMemory()
	r := newTestResolver(t, store, staticOracle{})
	ctx := context.Background()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mustGrant(t, store, Grant{ActorID: "alice", ResourceKind: "incident_report", ResourceID: strptr("7"), Level: LevelFull, Active: true, CreatedAt: ts})
	// Same wall-clock timestamp: the higher insertion sequence governs.
	mustGrant(t, store, Grant{ActorID: "alice", ResourceKind: "incident_report", ResourceID: strptr("7"), Level: LevelIncidentsOnly, Active: true, CreatedAt: ts})

	if d := r.Authorize(ctx, "alice", "incident_report", strptr("7"), CapabilityUpdate); d.Allowed {
		t.Fatalf("expected newest (IncidentsOnly) grant to govern, got %+v", d)
	}
	if d := r.Authorize(ctx, "alice", "incident_report", strptr("7"), CapabilityIncidentsOnly); !d.Allowed {
		t.Fatalf("newest grant should satisfy incidents_only, got %+v", d)
	}
}

func TestMembershipVariant(t *testing.T) {
	store := NewInMemory()
	owners := staticOwners{owners: map[string]string{"criminal/42": "creator-1"}}
	r := newTestResolver(t, store, staticOracle{}, WithOwnerOracle(owners))
	ctx := context.Background()

	// Creator has implicit access with no grant row.
	if d := r.Authorize(ctx, "creator-1", "criminal", strptr("42"), CapabilityReadOnly); !d.Allowed || d.Reason != ReasonOwner {
		t.Fatalf("expected owner allow, got %+v", d)
	}
	// Stranger denied.
	if d := r.Authorize(ctx, "bob", "criminal", strptr("42"), CapabilityReadOnly); d.Allowed {
		t.Fatalf("expected deny without membership, got %+v", d)
	}
	// Explicit membership row allows, any capability.
	if err := store.AddMembership(ctx, &Membership{ActorID: "bob", ResourceKind: "criminal", ResourceID: "42"}); err != nil {
		t.Fatalf("AddMembership: %v", err)
	}
	if d := r.Authorize(ctx, "bob", "criminal", strptr("42"), CapabilityDelete); !d.Allowed || d.Reason != ReasonMembership {
		t.Fatalf("expected membership allow, got %+v", d)
	}
	// Removal revokes.
	if err := store.RemoveMembership(ctx, "bob", "criminal", "42"); err != nil {
		t.Fatalf("RemoveMembership: %v", err)
	}
	if d := r.Authorize(ctx, "bob", "criminal", strptr("42"), CapabilityReadOnly); d.Allowed {
		t.Fatalf("expected deny after removal, got %+v", d)
	}
}

func TestUnknownKindDenies(t *testing.T) {
	r := newTestResolver(t, NewInMemory(), staticOracle{})
	if d := r.Authorize(context.Background(), "alice", "translation", strptr("1"), CapabilityReadOnly); d.Allowed || d.Reason != ReasonUnknownKind {
		t.Fatalf("expected unknown kind deny, got %+v", d)
	}
}

func TestResolverConstructionErrors(t *testing.T) {
	if _, err := NewResolver(nil, staticOracle{}); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := NewResolver(NewInMemory(), nil); err == nil {
		t.Fatal("expected error for nil oracle")
	}
	if _, err := NewResolver(NewInMemory(), staticOracle{}); err == nil {
		t.Fatal("expected error for empty kind registry")
	}
	if _, err := NewResolver(NewInMemory(), staticOracle{},
		WithTypedKinds("criminal"), WithMembershipKinds("criminal")); err == nil {
		t.Fatal("expected error for kind registered in both variants")
	}
}

func TestCancelledRequestDenies(t *testing.T) {
	r := newTestResolver(t, NewInMemory(), staticOracle{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if d := r.Authorize(ctx, "alice", "incident_report", nil, CapabilityReadOnly); d.Allowed || d.Reason != ReasonCancelled {
		t.Fatalf("expected cancellation deny, got %+v", d)
	}
}

// End-to-end scenario: grants accrue for actor A and decisions follow the
// resource-specific-wins precedence at every step.
func TestGrantLifecycleScenario(t *testing.T) {
	store := NewInMemory()
	oracle := staticOracle{roles: map[string][]string{"chief": {"admin"}}}
	r := newTestResolver(t, store, oracle)
	svc, err := NewService(store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()

	// No grants: update on #7 denied.
	if d := r.Authorize(ctx, "A", "incident_report", strptr("7"), CapabilityUpdate); d.Allowed {
		t.Fatalf("step 1: expected deny, got %+v", d)
	}

	// Admin grants resource-specific ReadOnly on #7.
	if _, err := svc.CreateGrant(ctx, GrantRequest{
		ActorID: "A", ResourceKind: "incident_report", ResourceID: strptr("7"),
		Level: LevelReadOnly, GrantedBy: "chief",
	}); err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}
	if d := r.Authorize(ctx, "A", "incident_report", strptr("7"), CapabilityReadOnly); !d.Allowed {
		t.Fatalf("step 2: expected read_only allow, got %+v", d)
	}
	if d := r.Authorize(ctx, "A", "incident_report", strptr("7"), CapabilityUpdate); d.Allowed {
		t.Fatalf("step 2: expected update deny, got %+v", d)
	}

	// Admin additionally grants global Full.
	if _, err := svc.CreateGrant(ctx, GrantRequest{
		ActorID: "A", ResourceKind: "incident_report",
		Level: LevelFull, GrantedBy: "chief",
	}); err != nil {
		t.Fatalf("CreateGrant global: %v", err)
	}
	// Still denied on #7: the specific grant is authoritative.
	if d := r.Authorize(ctx, "A", "incident_report", strptr("7"), CapabilityUpdate); d.Allowed {
		t.Fatalf("step 3: expected deny on #7, got %+v", d)
	}
	// Allowed on #9 where only the global grant applies.
	if d := r.Authorize(ctx, "A", "incident_report", strptr("9"), CapabilityUpdate); !d.Allowed || d.Reason != ReasonGlobalGrant {
		t.Fatalf("step 3: expected allow on #9, got %+v", d)
	}

	// The admin personally bypasses everything.
	if d := r.Authorize(ctx, "chief", "incident_report", strptr("7"), CapabilityDelete); !d.Allowed || d.Reason != ReasonPrivilegedRole {
		t.Fatalf("admin bypass failed: %+v", d)
	}
}

package access

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestServiceCreateGrantValidation(t *testing.T) {
	svc, err := NewService(NewInMemory())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()

	if _, err := svc.CreateGrant(ctx, GrantRequest{ResourceKind: "incident_report", Level: LevelFull}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for missing actor, got %v", err)
	}
	if _, err := svc.CreateGrant(ctx, GrantRequest{ActorID: "a", Level: LevelFull}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for missing kind, got %v", err)
	}
	if _, err := svc.CreateGrant(ctx, GrantRequest{ActorID: "a", ResourceKind: "incident_report", Level: Level(9)}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for bad level, got %v", err)
	}
	blank := "  "
	if _, err := svc.CreateGrant(ctx, GrantRequest{ActorID: "a", ResourceKind: "incident_report", Level: LevelFull, ResourceID: &blank}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for blank resource id, got %v", err)
	}
	past := time.Now().Add(-time.Minute)
	if _, err := svc.CreateGrant(ctx, GrantRequest{ActorID: "a", ResourceKind: "incident_report", Level: LevelFull, ExpiresAt: &past}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for past expiry, got %v", err)
	}

	g, err := svc.CreateGrant(ctx, GrantRequest{ActorID: " a ", ResourceKind: "incident_report", Level: LevelReadOnly, GrantedBy: "chief"})
	if err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}
	if g.ID == "" || !g.Active || g.ActorID != "a" {
		t.Fatalf("unexpected grant: %+v", g)
	}
}

func TestServiceRevokeAndExtend(t *testing.T) {
	store := NewInMemory()
	svc, _ := NewService(store)
	ctx := context.Background()

	g, err := svc.CreateGrant(ctx, GrantRequest{ActorID: "a", ResourceKind: "incident_report", Level: LevelFull})
	if err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}

	revoked, err := svc.RevokeGrant(ctx, g.ID)
	if err != nil {
		t.Fatalf("RevokeGrant: %v", err)
	}
	if revoked.Active {
		t.Fatalf("grant still active after revocation: %+v", revoked)
	}

	future := time.Now().Add(time.Hour)
	extended, err := svc.ExtendGrant(ctx, g.ID, &future)
	if err != nil {
		t.Fatalf("ExtendGrant: %v", err)
	}
	if extended.ExpiresAt == nil || !extended.ExpiresAt.Equal(future.UTC()) {
		t.Fatalf("expiry not applied: %+v", extended)
	}

	cleared, err := svc.ExtendGrant(ctx, g.ID, nil)
	if err != nil {
		t.Fatalf("ExtendGrant clear: %v", err)
	}
	if cleared.ExpiresAt != nil {
		t.Fatalf("expiry not cleared: %+v", cleared)
	}

	if _, err := svc.RevokeGrant(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

package access

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"kartoteka.org/internal/ids"
)

var _ GrantStore = (*PGStore)(nil)

// PGStore implements GrantStore using PostgreSQL. The seq column is a
// bigserial so concurrent inserts with colliding created_at still have a
// total order.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const grantColumns = `id, actor_id, resource_kind, resource_id, level, granted_by, notes, expires_at, active, seq, created_at, updated_at`

func (s *PGStore) CreateGrant(ctx context.Context, g *Grant) error {
	if g.ActorID == "" || g.ResourceKind == "" {
		return ErrInvalidInput
	}
	if g.ID == "" {
		g.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx,
		`insert into access_grants(id, actor_id, resource_kind, resource_id, level, granted_by, notes, expires_at, active)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 returning seq, created_at, updated_at`,
		g.ID, g.ActorID, g.ResourceKind, g.ResourceID, g.Level.String(),
		g.GrantedBy, g.Notes, g.ExpiresAt, g.Active,
	)
	return row.Scan(&g.Seq, &g.CreatedAt, &g.UpdatedAt)
}

func (s *PGStore) GetGrant(ctx context.Context, id string) (*Grant, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+grantColumns+` from access_grants where id=$1`, id)
	g, err := scanGrant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return g, nil
}

func (s *PGStore) SetGrantActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`update access_grants set active=$2, updated_at=now() where id=$1`, id, active)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGStore) ExtendGrant(ctx context.Context, id string, expiresAt *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update access_grants set expires_at=$2, updated_at=now() where id=$1`, id, expiresAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGStore) ValidGrantsFor(ctx context.Context, actorID, resourceKind string, resourceID *string) ([]Grant, error) {
	// Scope is exact: a nil resourceID selects global rows only. The
	// (actor_id, resource_kind, resource_id) index carries this query.
	query := `select ` + grantColumns + ` from access_grants
		 where actor_id=$1 and resource_kind=$2 and resource_id is null
		   and active and (expires_at is null or expires_at > now())
		 order by created_at desc, seq desc`
	args := []any{actorID, resourceKind}
	if resourceID != nil {
		query = `select ` + grantColumns + ` from access_grants
		 where actor_id=$1 and resource_kind=$2 and resource_id=$3
		   and active and (expires_at is null or expires_at > now())
		 order by created_at desc, seq desc`
		args = append(args, *resourceID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectGrants(rows)
}

func (s *PGStore) ExpiredGrantsFor(ctx context.Context, actorID, resourceKind string) ([]Grant, error) {
	query := `select ` + grantColumns + ` from access_grants
		 where resource_kind=$1 and expires_at is not null and expires_at <= now()
		 order by created_at desc, seq desc`
	args := []any{resourceKind}
	if actorID != "" {
		query = `select ` + grantColumns + ` from access_grants
		 where resource_kind=$1 and actor_id=$2 and expires_at is not null and expires_at <= now()
		 order by created_at desc, seq desc`
		args = append(args, actorID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectGrants(rows)
}

func (s *PGStore) AddMembership(ctx context.Context, m *Membership) error {
	if m.ActorID == "" || m.ResourceKind == "" || m.ResourceID == "" {
		return ErrInvalidInput
	}
	if m.ID == "" {
		m.ID = ids.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into membership_grants(id, actor_id, resource_kind, resource_id, granted_by, created_at)
		 values($1,$2,$3,$4,$5,$6)
		 on conflict (actor_id, resource_kind, resource_id) do nothing`,
		m.ID, m.ActorID, m.ResourceKind, m.ResourceID, m.GrantedBy, m.CreatedAt,
	)
	return err
}

func (s *PGStore) RemoveMembership(ctx context.Context, actorID, resourceKind, resourceID string) error {
	res, err := s.db.ExecContext(ctx,
		`delete from membership_grants where actor_id=$1 and resource_kind=$2 and resource_id=$3`,
		actorID, resourceKind, resourceID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGStore) HasMembership(ctx context.Context, actorID, resourceKind, resourceID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from membership_grants where actor_id=$1 and resource_kind=$2 and resource_id=$3)`,
		actorID, resourceKind, resourceID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row rowScanner) (*Grant, error) {
	var (
		g          Grant
		resourceID sql.NullString
		level      string
		expiresAt  sql.NullTime
	)
	if err := row.Scan(&g.ID, &g.ActorID, &g.ResourceKind, &resourceID, &level,
		&g.GrantedBy, &g.Notes, &expiresAt, &g.Active, &g.Seq, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	if resourceID.Valid {
		g.ResourceID = &resourceID.String
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		g.ExpiresAt = &t
	}
	parsed, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	g.Level = parsed
	return &g, nil
}

func collectGrants(rows *sql.Rows) ([]Grant, error) {
	var out []Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

package visit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"kartoteka.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. Every aggregate query leans on
// the (visitable_kind, visitable_id, visited_at) index.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Append(ctx context.Context, e *Event) error {
	if e.VisitableKind == "" || e.VisitableID == "" {
		return ErrInvalidInput
	}
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.VisitedAt.IsZero() {
		e.VisitedAt = time.Now().UTC()
	}
	meta, _ := json.Marshal(e.Metadata)
	_, err := s.db.ExecContext(ctx,
		`insert into visit_events(id, actor_id, session_id, visitable_kind, visitable_id,
		   ip, user_agent, device_type, browser, platform, country, region, city,
		   url, referrer, method, visited_at, duration_seconds, is_bounce, metadata)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		e.ID, e.ActorID, e.SessionID, e.VisitableKind, e.VisitableID,
		e.IP, e.UserAgent, e.DeviceType, e.Browser, e.Platform,
		e.Country, e.Region, e.City, e.URL, e.Referrer, e.Method,
		e.VisitedAt, e.DurationSeconds, e.IsBounce, meta,
	)
	return err
}

func (s *PGStore) BackfillDuration(ctx context.Context, eventID string, seconds int) error {
	if seconds < 0 {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx,
		`update visit_events set duration_seconds=$2 where id=$1`, eventID, seconds)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) CountFor(ctx context.Context, kind, id string, since, until *time.Time) (int64, error) {
	query := `select count(*) from visit_events where visitable_kind=$1 and visitable_id=$2`
	args := []any{kind, id}
	if since != nil {
		args = append(args, *since)
		query += fmt.Sprintf(" and visited_at >= $%d", len(args))
	}
	if until != nil {
		args = append(args, *until)
		query += fmt.Sprintf(" and visited_at <= $%d", len(args))
	}
	var n int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

func (s *PGStore) UniqueVisitors(ctx context.Context, kind, id string) (int64, error) {
	// Authenticated rows count by distinct actor, anonymous rows by distinct
	// IP; a row has either an actor or none, so the sum never double-counts.
	var n int64
	err := s.db.QueryRowContext(ctx,
		`select count(distinct actor_id) filter (where actor_id is not null)
		      + count(distinct ip) filter (where actor_id is null)
		 from visit_events where visitable_kind=$1 and visitable_id=$2`,
		kind, id).Scan(&n)
	return n, err
}

func (s *PGStore) BounceCount(ctx context.Context, kind, id string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`select count(*) from visit_events where visitable_kind=$1 and visitable_id=$2 and is_bounce`,
		kind, id).Scan(&n)
	return n, err
}

func (s *PGStore) AverageDuration(ctx context.Context, kind, id string) (float64, bool, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`select avg(duration_seconds) from visit_events
		 where visitable_kind=$1 and visitable_id=$2 and duration_seconds is not null`,
		kind, id).Scan(&avg)
	if err != nil {
		return 0, false, err
	}
	if !avg.Valid {
		return 0, false, nil
	}
	return avg.Float64, true, nil
}

func (s *PGStore) DeviceMix(ctx context.Context, kind, id string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`select coalesce(device_type, ''), count(*) from visit_events
		 where visitable_kind=$1 and visitable_id=$2 group by 1`,
		kind, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	mix := make(map[string]int64)
	for rows.Next() {
		var device string
		var n int64
		if err := rows.Scan(&device, &n); err != nil {
			return nil, err
		}
		mix[device] = n
	}
	return mix, rows.Err()
}

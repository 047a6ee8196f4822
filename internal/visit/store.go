package visit

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("visit: not found")
	ErrInvalidInput = errors.New("visit: invalid input")
)

// Store describes persistence for visit events. Counting methods exist so
// aggregates remain read-time computations over the
// (visitable_kind, visitable_id, visited_at) index, never stored state.
type Store interface {
	Append(ctx context.Context, e *Event) error
	// BackfillDuration fills duration_seconds on an existing event. The only
	// permitted mutation after the initial write.
	BackfillDuration(ctx context.Context, eventID string, seconds int) error

	// CountFor counts events for one visitable. Nil bounds mean unbounded;
	// non-nil restrict to since <= visited_at <= until.
	CountFor(ctx context.Context, kind, id string, since, until *time.Time) (int64, error)
	// UniqueVisitors counts distinct actors among authenticated rows plus
	// distinct IPs among anonymous rows. The populations are disjoint.
	UniqueVisitors(ctx context.Context, kind, id string) (int64, error)
	BounceCount(ctx context.Context, kind, id string) (int64, error)
	// AverageDuration averages non-null duration_seconds; ok is false when no
	// row carries a duration.
	AverageDuration(ctx context.Context, kind, id string) (avg float64, ok bool, err error)
	// DeviceMix counts events per device_type; unclassified rows appear
	// under the empty key.
	DeviceMix(ctx context.Context, kind, id string) (map[string]int64, error)
}

package visit

import (
	"context"
	"fmt"
	"time"
)

// Stats is the on-demand aggregate view for one visitable entity. All fields
// are derived from event rows at read time; nothing here is stored state.
type Stats struct {
	VisitsCount          int64            `json:"visits_count"`
	UniqueVisitorsCount  int64            `json:"unique_visitors_count"`
	TodayVisitsCount     int64            `json:"today_visits_count"`
	ThisWeekVisitsCount  int64            `json:"this_week_visits_count"`
	ThisMonthVisitsCount int64            `json:"this_month_visits_count"`
	BounceRate           float64          `json:"bounce_rate"`
	AverageTimeSpent     float64          `json:"average_time_spent"`
	DeviceMix            map[string]int64 `json:"device_mix,omitempty"`
	ComputedAt           time.Time        `json:"computed_at"`
}

// StatsCache is an advisory cache in front of the aggregator. Implementations
// must be safe for concurrent use; a miss or error simply recomputes.
type StatsCache interface {
	Get(ctx context.Context, kind, id string) (Stats, bool)
	Set(ctx context.Context, kind, id string, s Stats)
}

// Aggregator computes rolling counts and derived attributes per visitable.
// Results may be briefly cached but a fresh write is eventually reflected:
// the cache TTL bounds staleness, and the store is always authoritative.
type Aggregator struct {
	store     Store
	cache     StatsCache
	weekStart time.Weekday
	now       func() time.Time
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithStatsCache wires an advisory cache.
func WithStatsCache(c StatsCache) AggregatorOption {
	return func(a *Aggregator) { a.cache = c }
}

// WithWeekStart sets the weekday the "this week" window opens on.
func WithWeekStart(d time.Weekday) AggregatorOption {
	return func(a *Aggregator) { a.weekStart = d }
}

// WithAggregatorClock overrides the time source. Intended for tests.
func WithAggregatorClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAggregator constructs an Aggregator. The week starts on Monday unless
// configured otherwise.
func NewAggregator(store Store, opts ...AggregatorOption) (*Aggregator, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: visit store is required", ErrInvalidInput)
	}
	a := &Aggregator{
		store:     store,
		weekStart: time.Monday,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Stats computes the aggregate view for (kind, id), consulting the advisory
// cache first.
func (a *Aggregator) Stats(ctx context.Context, kind, id string) (Stats, error) {
	if kind == "" || id == "" {
		return Stats{}, fmt.Errorf("%w: visitable kind and id are required", ErrInvalidInput)
	}
	if a.cache != nil {
		if s, ok := a.cache.Get(ctx, kind, id); ok {
			return s, nil
		}
	}

	now := a.now()
	today := startOfDay(now)
	week := startOfWeek(now, a.weekStart)
	month := startOfMonth(now)

	total, err := a.store.CountFor(ctx, kind, id, nil, nil)
	if err != nil {
		return Stats{}, err
	}
	unique, err := a.store.UniqueVisitors(ctx, kind, id)
	if err != nil {
		return Stats{}, err
	}
	// Rolling windows are [start, now]; the upper bound keeps future-dated
	// events out of the current period.
	todayCount, err := a.store.CountFor(ctx, kind, id, &today, &now)
	if err != nil {
		return Stats{}, err
	}
	weekCount, err := a.store.CountFor(ctx, kind, id, &week, &now)
	if err != nil {
		return Stats{}, err
	}
	monthCount, err := a.store.CountFor(ctx, kind, id, &month, &now)
	if err != nil {
		return Stats{}, err
	}
	bounces, err := a.store.BounceCount(ctx, kind, id)
	if err != nil {
		return Stats{}, err
	}
	avg, _, err := a.store.AverageDuration(ctx, kind, id)
	if err != nil {
		return Stats{}, err
	}
	mix, err := a.store.DeviceMix(ctx, kind, id)
	if err != nil {
		return Stats{}, err
	}

	s := Stats{
		VisitsCount:          total,
		UniqueVisitorsCount:  unique,
		TodayVisitsCount:     todayCount,
		ThisWeekVisitsCount:  weekCount,
		ThisMonthVisitsCount: monthCount,
		AverageTimeSpent:     avg,
		DeviceMix:            mix,
		ComputedAt:           now.UTC(),
	}
	if total > 0 {
		s.BounceRate = float64(bounces) / float64(total)
	}
	if a.cache != nil {
		a.cache.Set(ctx, kind, id, s)
	}
	return s, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// startOfWeek walks back to the configured weekday at midnight.
func startOfWeek(t time.Time, start time.Weekday) time.Time {
	day := startOfDay(t)
	offset := (int(day.Weekday()) - int(start) + 7) % 7
	return day.AddDate(0, 0, -offset)
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

package visit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func seedEvent(t *testing.T, store *InMemory, e Event) Event {
	t.Helper()
	if err := store.Append(context.Background(), &e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	return e
}

func actorRef(s string) *string { return &s }

func TestAggregationIsIdempotent(t *testing.T) {
	store := NewInMemory()
	agg, err := NewAggregator(store)
	if err != nil {
		t.Fatalf("NewAggregator: %v", err)
	}
	ctx := context.Background()

	seedEvent(t, store, Event{VisitableKind: "incident_report", VisitableID: "7", IP: "10.0.0.1"})
	seedEvent(t, store, Event{VisitableKind: "incident_report", VisitableID: "7", IP: "10.0.0.2"})

	first, err := agg.Stats(ctx, "incident_report", "7")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	second, err := agg.Stats(ctx, "incident_report", "7")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if first.VisitsCount != second.VisitsCount || first.VisitsCount != 2 {
		t.Fatalf("aggregation not idempotent: %d vs %d", first.VisitsCount, second.VisitsCount)
	}

	// One more write moves the total by exactly 1 and today's window with it.
	seedEvent(t, store, Event{VisitableKind: "incident_report", VisitableID: "7", IP: "10.0.0.3"})
	third, err := agg.Stats(ctx, "incident_report", "7")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if third.VisitsCount != first.VisitsCount+1 {
		t.Fatalf("expected total to grow by 1: %d -> %d", first.VisitsCount, third.VisitsCount)
	}
	if third.TodayVisitsCount != second.TodayVisitsCount+1 {
		t.Fatalf("expected today's count to grow by 1: %d -> %d", second.TodayVisitsCount, third.TodayVisitsCount)
	}
}

func TestUniqueVisitorsPartition(t *testing.T) {
	store := NewInMemory()
	agg, _ := NewAggregator(store)
	ctx := context.Background()

	// 3 events from the same authenticated actor, 2 from distinct anonymous IPs.
	for i := 0; i < 3; i++ {
		seedEvent(t, store, Event{VisitableKind: "criminal", VisitableID: "42", ActorID: actorRef("alice"), IP: "10.0.0.9"})
	}
	seedEvent(t, store, Event{VisitableKind: "criminal", VisitableID: "42", IP: "192.168.0.1"})
	seedEvent(t, store, Event{VisitableKind: "criminal", VisitableID: "42", IP: "192.168.0.2"})

	s, err := agg.Stats(ctx, "criminal", "42")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if s.UniqueVisitorsCount != 3 {
		t.Fatalf("expected 3 unique visitors (1 actor + 2 IPs), got %d", s.UniqueVisitorsCount)
	}
	if s.VisitsCount != 5 {
		t.Fatalf("expected 5 visits, got %d", s.VisitsCount)
	}
}

func TestRollingWindows(t *testing.T) {
	store := NewInMemory()
	// Fixed "now": Wednesday 2026-03-18 12:00 UTC; week starts Monday.
	now := time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)
	agg, _ := NewAggregator(store, WithAggregatorClock(func() time.Time { return now }), WithWeekStart(time.Monday))
	ctx := context.Background()

	kind, id := "incident_report", "7"

	seedEvent(t, store, Event{VisitableKind: kind, VisitableID: id, VisitedAt: now.Add(-time.Hour)})                                // today
	seedEvent(t, store, Event{VisitableKind: kind, VisitableID: id, VisitedAt: time.Date(2026, 3, 16, 8, 0, 0, 0, time.UTC)})       // Monday, this week
	seedEvent(t, store, Event{VisitableKind: kind, VisitableID: id, VisitedAt: time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)})       // Saturday, last week, this month
	seedEvent(t, store, Event{VisitableKind: kind, VisitableID: id, VisitedAt: time.Date(2026, 2, 27, 8, 0, 0, 0, time.UTC)})       // last month
	seedEvent(t, store, Event{VisitableKind: kind, VisitableID: id, VisitedAt: now.Add(2 * time.Hour)})                             // future-dated, total only

	s, err := agg.Stats(ctx, kind, id)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if s.VisitsCount != 5 {
		t.Fatalf("total: got %d", s.VisitsCount)
	}
	if s.TodayVisitsCount != 1 {
		t.Fatalf("today: got %d", s.TodayVisitsCount)
	}
	if s.ThisWeekVisitsCount != 2 {
		t.Fatalf("week: got %d", s.ThisWeekVisitsCount)
	}
	if s.ThisMonthVisitsCount != 3 {
		t.Fatalf("month: got %d", s.ThisMonthVisitsCount)
	}
}

func TestWeekStartConfiguration(t *testing.T) {
	store := NewInMemory()
	// Wednesday; weeks start Sunday, so Saturday 14th is outside, Sunday 15th inside.
	now := time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)
	agg, _ := NewAggregator(store, WithAggregatorClock(func() time.Time { return now }), WithWeekStart(time.Sunday))
	ctx := context.Background()

	seedEvent(t, store, Event{VisitableKind: "p", VisitableID: "1", VisitedAt: time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC)})
	seedEvent(t, store, Event{VisitableKind: "p", VisitableID: "1", VisitedAt: time.Date(2026, 3, 14, 23, 0, 0, 0, time.UTC)})

	s, err := agg.Stats(ctx, "p", "1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if s.ThisWeekVisitsCount != 1 {
		t.Fatalf("expected 1 visit this week under Sunday start, got %d", s.ThisWeekVisitsCount)
	}
}

func TestBounceRateAndAverageDuration(t *testing.T) {
	store := NewInMemory()
	agg, _ := NewAggregator(store)
	ctx := context.Background()

	seedEvent(t, store, Event{VisitableKind: "p", VisitableID: "1", IsBounce: true})
	seedEvent(t, store, Event{VisitableKind: "p", VisitableID: "1"})
	e := seedEvent(t, store, Event{VisitableKind: "p", VisitableID: "1"})
	if err := store.BackfillDuration(ctx, e.ID, 30); err != nil {
		t.Fatalf("BackfillDuration: %v", err)
	}

	s, err := agg.Stats(ctx, "p", "1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if s.BounceRate < 0.33 || s.BounceRate > 0.34 {
		t.Fatalf("bounce rate: got %f", s.BounceRate)
	}
	if s.AverageTimeSpent != 30 {
		t.Fatalf("average time spent: got %f", s.AverageTimeSpent)
	}
}

func TestDeviceMix(t *testing.T) {
	store := NewInMemory()
	agg, _ := NewAggregator(store)

	seedEvent(t, store, Event{VisitableKind: "p", VisitableID: "1", DeviceType: "desktop"})
	seedEvent(t, store, Event{VisitableKind: "p", VisitableID: "1", DeviceType: "desktop"})
	seedEvent(t, store, Event{VisitableKind: "p", VisitableID: "1", DeviceType: "mobile"})
	seedEvent(t, store, Event{VisitableKind: "p", VisitableID: "1"})

	s, err := agg.Stats(context.Background(), "p", "1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if s.DeviceMix["desktop"] != 2 || s.DeviceMix["mobile"] != 1 || s.DeviceMix[""] != 1 {
		t.Fatalf("unexpected device mix: %v", s.DeviceMix)
	}
}

// memoryCache is a trivial StatsCache for exercising the advisory-cache path.
type memoryCache struct {
	mu    sync.Mutex
	store map[string]Stats
	sets  int
}

func (c *memoryCache) Get(ctx context.Context, kind, id string) (Stats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.store[kind+"/"+id]
	return s, ok
}

func (c *memoryCache) Set(ctx context.Context, kind, id string, s Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		c.store = make(map[string]Stats)
	}
	c.store[kind+"/"+id] = s
	c.sets++
}

func TestStatsCacheIsConsulted(t *testing.T) {
	store := NewInMemory()
	cache := &memoryCache{}
	agg, _ := NewAggregator(store, WithStatsCache(cache))
	ctx := context.Background()

	seedEvent(t, store, Event{VisitableKind: "p", VisitableID: "1"})

	first, err := agg.Stats(ctx, "p", "1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if cache.sets != 1 {
		t.Fatalf("expected one cache fill, got %d", cache.sets)
	}

	// A write behind the cache is not yet visible; this is the accepted
	// eventual consistency of the analytics path.
	seedEvent(t, store, Event{VisitableKind: "p", VisitableID: "1"})
	cached, err := agg.Stats(ctx, "p", "1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if cached.VisitsCount != first.VisitsCount {
		t.Fatalf("expected cached value, got %d", cached.VisitsCount)
	}
}

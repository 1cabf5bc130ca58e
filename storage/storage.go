package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tidbyt.dev/tripstats/model"
)

// Append-only store of trip Observations.
type Storage interface {
	// Appends observations in a single transaction. Either all
	// are stored or none are. An empty batch is a no-op.
	//
	// Observations with a zero CollectedAt are stamped with the
	// store's clock. All such rows in one call share the same
	// value, and values never repeat within a process.
	InsertBatch(ctx context.Context, observations []model.Observation) error

	// Distinct route IDs with at least one observation, sorted.
	ListRoutes(ctx context.Context) ([]string, error)

	// For each trip on the route with from <= start_time < until,
	// the observation with the latest collected_at. Ties are won
	// by the most recently inserted row. Sorted by trip ID.
	//
	// Observations lacking start_time never match.
	LatestTrips(ctx context.Context, routeID string, from, until time.Time) ([]model.TripRecord, error)

	Close() error
}

// Hands out collected_at timestamps. Values are truncated to
// microseconds (the resolution all backends store) and strictly
// increasing, bumping by a microsecond when the wall clock hasn't
// moved or went backwards.
type clock struct {
	mu   sync.Mutex
	last time.Time
}

func (c *clock) next(now func() time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now == nil {
		now = time.Now
	}

	t := now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t

	return t
}

// Validates a batch and returns a copy ready for writing: times in
// UTC, truncated to microseconds, with collected_at filled in where
// missing.
func prepareBatch(observations []model.Observation, collectedAt time.Time) ([]model.Observation, error) {
	prepared := make([]model.Observation, 0, len(observations))
	for i, o := range observations {
		if o.RouteID == "" {
			return nil, fmt.Errorf("observation %d: missing route_id", i)
		}
		if o.CollectedAt.IsZero() {
			o.CollectedAt = collectedAt
		}
		o.CollectedAt = o.CollectedAt.UTC().Truncate(time.Microsecond)
		o.StartTime = normalizeTime(o.StartTime)
		o.EndTime = normalizeTime(o.EndTime)
		prepared = append(prepared, o)
	}
	return prepared, nil
}

func normalizeTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	n := t.UTC().Truncate(time.Microsecond)
	return &n
}

// Microseconds since epoch, or nil. Used by backends storing times
// as integers.
func toMicros(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMicro()
}

func fromMicros(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := time.UnixMicro(*v).UTC()
	return &t
}

// Rounds up to the next whole microsecond. For values stored at
// microsecond resolution, v >= t iff v >= ceilMicros(t), and likewise
// for <.
func ceilMicros(t time.Time) int64 {
	us := t.UTC().Truncate(time.Microsecond)
	if us.Before(t) {
		us = us.Add(time.Microsecond)
	}
	return us.UnixMicro()
}

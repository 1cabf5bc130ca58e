package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"tidbyt.dev/tripstats/model"
)

// In memory implementation of Storage below

type memoryRow struct {
	id int64
	model.Observation
}

type MemoryStorage struct {
	// Source of collected_at stamps. Defaults to time.Now.
	TimeNow func() time.Time

	clock  clock
	mutex  sync.RWMutex
	rows   []memoryRow
	nextID int64
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		rows: []memoryRow{},
	}
}

func (s *MemoryStorage) InsertBatch(ctx context.Context, observations []model.Observation) error {
	if len(observations) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	prepared, err := prepareBatch(observations, s.clock.next(s.TimeNow))
	if err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, o := range prepared {
		s.nextID++
		s.rows = append(s.rows, memoryRow{id: s.nextID, Observation: o})
	}

	return nil
}

func (s *MemoryStorage) ListRoutes(ctx context.Context) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	seen := map[string]bool{}
	routes := []string{}
	for _, row := range s.rows {
		if !seen[row.RouteID] {
			seen[row.RouteID] = true
			routes = append(routes, row.RouteID)
		}
	}
	sort.Strings(routes)

	return routes, nil
}

func (s *MemoryStorage) LatestTrips(ctx context.Context, routeID string, from, until time.Time) ([]model.TripRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	latest := map[string]memoryRow{}
	for _, row := range s.rows {
		if row.RouteID != routeID || row.StartTime == nil {
			continue
		}
		if row.StartTime.Before(from) || !row.StartTime.Before(until) {
			continue
		}
		best, found := latest[row.TripID]
		if !found ||
			row.CollectedAt.After(best.CollectedAt) ||
			(row.CollectedAt.Equal(best.CollectedAt) && row.id > best.id) {
			latest[row.TripID] = row
		}
	}

	records := make([]model.TripRecord, 0, len(latest))
	for _, row := range latest {
		records = append(records, model.TripRecord(row.Observation))
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].TripID < records[j].TripID
	})

	return records, nil
}

func (s *MemoryStorage) Close() error {
	return nil
}

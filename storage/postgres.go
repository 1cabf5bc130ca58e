package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"tidbyt.dev/tripstats/model"
)

type PSQLStorage struct {
	// Source of collected_at stamps. Defaults to time.Now.
	TimeNow func() time.Time

	clock clock
	db    *sql.DB
}

// Creates a new Postgres Storage using the provided connection string.
//
// If clearDB is true, the database will be cleared on startup. You
// probably only want this for testing.
func NewPSQLStorage(connStr string, clearDB bool) (*PSQLStorage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if clearDB {
		_, err = db.Exec(`DROP TABLE IF EXISTS trips;`)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("clearing db: %w", err)
		}
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS trips (
    id BIGSERIAL PRIMARY KEY,
    route_id TEXT NOT NULL CHECK (route_id <> ''),
    trip_id TEXT NOT NULL,
    start_time TIMESTAMPTZ,
    end_time TIMESTAMPTZ,
    collected_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_trips_route_trip_latest
ON trips (route_id, trip_id, collected_at DESC);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating trips table: %w", err)
	}

	return &PSQLStorage{
		db: db,
	}, nil
}

func (s *PSQLStorage) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close db: %w", err)
	}
	return nil
}

func (s *PSQLStorage) InsertBatch(ctx context.Context, observations []model.Observation) error {
	if len(observations) == 0 {
		return nil
	}

	prepared, err := prepareBatch(observations, s.clock.next(s.TimeNow))
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(
		"trips", "route_id", "trip_id", "start_time", "end_time", "collected_at",
	))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, o := range prepared {
		_, err = stmt.ExecContext(
			ctx,
			o.RouteID,
			o.TripID,
			pqTime(o.StartTime),
			pqTime(o.EndTime),
			o.CollectedAt,
		)
		if err != nil {
			return fmt.Errorf("COPY trip: %w", err)
		}
	}

	_, err = stmt.ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("executing statement: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	return nil
}

func (s *PSQLStorage) ListRoutes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT route_id FROM trips ORDER BY route_id`)
	if err != nil {
		return nil, fmt.Errorf("listing routes: %w", err)
	}
	defer rows.Close()

	routes := []string{}
	for rows.Next() {
		var route string
		if err := rows.Scan(&route); err != nil {
			return nil, fmt.Errorf("scanning route: %w", err)
		}
		routes = append(routes, route)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating routes: %w", err)
	}

	return routes, nil
}

func (s *PSQLStorage) LatestTrips(ctx context.Context, routeID string, from, until time.Time) ([]model.TripRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT ON (trip_id)
    route_id, trip_id, start_time, end_time, collected_at
FROM trips
WHERE route_id = $1
  AND start_time >= $2
  AND start_time < $3
ORDER BY trip_id, collected_at DESC, id DESC`,
		routeID,
		time.UnixMicro(ceilMicros(from)).UTC(),
		time.UnixMicro(ceilMicros(until)).UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying latest trips: %w", err)
	}
	defer rows.Close()

	records := []model.TripRecord{}
	for rows.Next() {
		var rec model.TripRecord
		var start, end sql.NullTime
		err := rows.Scan(&rec.RouteID, &rec.TripID, &start, &end, &rec.CollectedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning trip: %w", err)
		}
		rec.StartTime = fromNullTime(start)
		rec.EndTime = fromNullTime(end)
		rec.CollectedAt = rec.CollectedAt.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trips: %w", err)
	}

	return records, nil
}

func pqTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tidbyt.dev/tripstats/model"
)

type SQLiteConfig struct {
	OnDisk    bool
	Directory string
}

// Times are stored as INTEGER microseconds since epoch, which keeps
// comparisons and ordering exact.
type SQLiteStorage struct {
	SQLiteConfig

	// Source of collected_at stamps. Defaults to time.Now.
	TimeNow func() time.Time

	clock clock
	db    *sql.DB
}

func NewSQLiteStorage(cfg ...SQLiteConfig) (*SQLiteStorage, error) {
	onDisk := false
	directory := ""
	if len(cfg) > 0 {
		onDisk = cfg[0].OnDisk
		directory = cfg[0].Directory
	}

	sourceName := ":memory:"
	if onDisk {
		sourceName = filepath.Join(directory, "tripstats.db") + "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Each connection to :memory: gets its own database, and
	// sqlite serializes writers anyway.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS trips (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    route_id TEXT NOT NULL CHECK (route_id <> ''),
    trip_id TEXT NOT NULL,
    start_time INTEGER,
    end_time INTEGER,
    collected_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trips_route_trip_latest
ON trips (route_id, trip_id, collected_at DESC);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating trips table: %w", err)
	}

	return &SQLiteStorage{
		SQLiteConfig: SQLiteConfig{
			OnDisk:    onDisk,
			Directory: directory,
		},
		db: db,
	}, nil
}

func (s *SQLiteStorage) InsertBatch(ctx context.Context, observations []model.Observation) error {
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

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO trips (route_id, trip_id, start_time, end_time, collected_at)
VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, o := range prepared {
		_, err = stmt.ExecContext(
			ctx,
			o.RouteID,
			o.TripID,
			toMicros(o.StartTime),
			toMicros(o.EndTime),
			o.CollectedAt.UnixMicro(),
		)
		if err != nil {
			return fmt.Errorf("inserting trip: %w", err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	return nil
}

func (s *SQLiteStorage) ListRoutes(ctx context.Context) ([]string, error) {
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

func (s *SQLiteStorage) LatestTrips(ctx context.Context, routeID string, from, until time.Time) ([]model.TripRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT route_id, trip_id, start_time, end_time, collected_at
FROM (
    SELECT
        route_id,
        trip_id,
        start_time,
        end_time,
        collected_at,
        ROW_NUMBER() OVER (
            PARTITION BY trip_id
            ORDER BY collected_at DESC, id DESC
        ) AS rn
    FROM trips
    WHERE route_id = ?
      AND start_time >= ?
      AND start_time < ?
)
WHERE rn = 1
ORDER BY trip_id`,
		routeID,
		ceilMicros(from),
		ceilMicros(until),
	)
	if err != nil {
		return nil, fmt.Errorf("querying latest trips: %w", err)
	}
	defer rows.Close()

	records := []model.TripRecord{}
	for rows.Next() {
		var rec model.TripRecord
		var start, end *int64
		var collectedAt int64
		err := rows.Scan(&rec.RouteID, &rec.TripID, &start, &end, &collectedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning trip: %w", err)
		}
		rec.StartTime = fromMicros(start)
		rec.EndTime = fromMicros(end)
		rec.CollectedAt = time.UnixMicro(collectedAt).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trips: %w", err)
	}

	return records, nil
}

func (s *SQLiteStorage) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("closing db: %w", err)
	}
	return nil
}

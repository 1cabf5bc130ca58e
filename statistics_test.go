package tripstats

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/tripstats/model"
	"tidbyt.dev/tripstats/storage"
	"tidbyt.dev/tripstats/testutil"
)

func insertTrips(t *testing.T, s storage.Storage, trips ...model.Observation) {
	for i := range trips {
		if trips[i].CollectedAt.IsZero() {
			trips[i].CollectedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		}
	}
	require.NoError(t, s.InsertBatch(context.Background(), trips))
}

func trip(routeID, tripID string, start, end time.Time) model.Observation {
	return model.Observation{RouteID: routeID, TripID: tripID, StartTime: &start, EndTime: &end}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestStatisticsEmpty(t *testing.T) {
	for _, backend := range []string{"memory", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			s := testutil.BuildStorage(t, backend)
			engine := NewStatistics(s, time.UTC)

			stats, err := engine.Compute(context.Background(), "R1", date(2024, 3, 4), date(2024, 3, 10))
			require.NoError(t, err)

			buf, err := json.Marshal(stats)
			require.NoError(t, err)
			assert.JSONEq(t, `{
  "route_id": "R1",
  "interval": {"start_date": "2024-03-04", "end_date": "2024-03-10"},
  "avg_minutes": null,
  "days": []
}`, string(buf))
		})
	}
}

func TestStatisticsInvalidDurations(t *testing.T) {
	s := testutil.BuildStorage(t, "memory")

	start := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	insertTrips(t, s,
		trip("R1", "backwards", start, start.Add(-time.Minute)),
		trip("R1", "zero", start, start),
		model.Observation{RouteID: "R1", TripID: "no-end", StartTime: &start},
		trip("R1", "ok", start, start.Add(30*time.Minute)),
	)

	stats, err := NewStatistics(s, time.UTC).Compute(context.Background(), "R1", date(2024, 3, 4), date(2024, 3, 4))
	require.NoError(t, err)
	require.NotNil(t, stats.AvgMinutes)
	assert.Equal(t, 30.0, *stats.AvgMinutes)
	require.Equal(t, 1, len(stats.Days))
	assert.Equal(t, model.PeriodAverages{{Period: model.PeriodMorningPeak, AvgMinutes: 30}}, stats.Days[0].Periods)

	// All invalid is the same as none at all
	s = testutil.BuildStorage(t, "memory")
	insertTrips(t, s, trip("R1", "backwards", start, start.Add(-time.Minute)))
	stats, err = NewStatistics(s, time.UTC).Compute(context.Background(), "R1", date(2024, 3, 4), date(2024, 3, 4))
	require.NoError(t, err)
	assert.Nil(t, stats.AvgMinutes)
	assert.Equal(t, []model.DayStatistics{}, stats.Days)
}

func TestStatisticsDaysAndPeriods(t *testing.T) {
	budapest, err := time.LoadLocation("Europe/Budapest")
	require.NoError(t, err)

	at := func(d, h, m int) time.Time {
		return time.Date(2024, 3, d, h, m, 0, 0, budapest)
	}

	for _, backend := range []string{"memory", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			s := testutil.BuildStorage(t, backend)
			insertTrips(t, s,
				// Tuesday 5th, inserted first to check day ordering
				trip("R1", "t1", at(5, 16, 0), at(5, 16, 45)),

				// Monday 4th
				trip("R1", "m1", at(4, 6, 59), at(4, 7, 19)),  // 20 before_morning_peak
				trip("R1", "m2", at(4, 7, 0), at(4, 7, 25)),   // 25 morning_peak
				trip("R1", "m3", at(4, 9, 59), at(4, 10, 29)), // 30 morning_peak
				trip("R1", "m4", at(4, 10, 0), at(4, 10, 20)), // 20 daytime
				trip("R1", "m5", at(4, 18, 0), at(4, 18, 10)), // 10 evening

				// Other route
				trip("R2", "x", at(4, 8, 0), at(4, 9, 0)),
			)

			stats, err := NewStatistics(s, budapest).Compute(context.Background(), "R1", date(2024, 3, 4), date(2024, 3, 5))
			require.NoError(t, err)

			buf, err := json.Marshal(stats)
			require.NoError(t, err)
			assert.JSONEq(t, `{
  "route_id": "R1",
  "interval": {"start_date": "2024-03-04", "end_date": "2024-03-05"},
  "avg_minutes": 25,
  "days": [
    {
      "date": "2024-03-04",
      "day": "Monday",
      "avg_minutes": 21,
      "periods": {"before_morning_peak": 20, "morning_peak": 27.5, "daytime": 20, "evening": 10}
    },
    {
      "date": "2024-03-05",
      "day": "Tuesday",
      "avg_minutes": 45,
      "periods": {"afternoon_peak": 45}
    }
  ]
}`, string(buf))

			// Keys come out in period order
			assert.Contains(t, string(buf), `{"before_morning_peak":20,"morning_peak":27.5,"daytime":20,"evening":10}`)
		})
	}
}

func TestStatisticsLocalWindow(t *testing.T) {
	budapest, err := time.LoadLocation("Europe/Budapest")
	require.NoError(t, err)

	s := testutil.BuildStorage(t, "sqlite")
	insertTrips(t, s,
		// 23:30 UTC on the 3rd is 00:30 on the 4th in Budapest
		trip("R1", "early", time.Date(2024, 3, 3, 23, 30, 0, 0, time.UTC), time.Date(2024, 3, 3, 23, 50, 0, 0, time.UTC)),
		// Last microsecond of the 4th in Budapest
		trip("R1", "late", time.Date(2024, 3, 4, 22, 59, 59, 999999000, time.UTC), time.Date(2024, 3, 4, 23, 9, 59, 999999000, time.UTC)),
		// Midnight starting the 5th in Budapest
		trip("R1", "next", time.Date(2024, 3, 4, 23, 0, 0, 0, time.UTC), time.Date(2024, 3, 4, 23, 30, 0, 0, time.UTC)),
	)

	stats, err := NewStatistics(s, budapest).Compute(context.Background(), "R1", date(2024, 3, 4), date(2024, 3, 4))
	require.NoError(t, err)

	require.Equal(t, 1, len(stats.Days))
	assert.Equal(t, "2024-03-04", stats.Days[0].Date)
	assert.Equal(t, 15.0, *stats.Days[0].AvgMinutes)
	assert.Equal(t, model.PeriodAverages{
		{Period: model.PeriodBeforeMorningPeak, AvgMinutes: 20},
		{Period: model.PeriodEvening, AvgMinutes: 10},
	}, stats.Days[0].Periods)

	// Same data, UTC days
	stats, err = NewStatistics(s, time.UTC).Compute(context.Background(), "R1", date(2024, 3, 4), date(2024, 3, 4))
	require.NoError(t, err)
	require.Equal(t, 1, len(stats.Days))
	assert.Equal(t, 20.0, *stats.AvgMinutes)
}

func TestStatisticsLatestSnapshotWins(t *testing.T) {
	s := testutil.BuildStorage(t, "memory")

	start := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	for i, minutes := range []int{40, 35, 31} {
		o := trip("R1", "T1", start, start.Add(time.Duration(minutes)*time.Minute))
		o.CollectedAt = start.Add(time.Duration(i) * time.Minute)
		insertTrips(t, s, o)
	}

	stats, err := NewStatistics(s, time.UTC).Compute(context.Background(), "R1", date(2024, 3, 4), date(2024, 3, 4))
	require.NoError(t, err)
	assert.Equal(t, 31.0, *stats.AvgMinutes)
}

func TestStatisticsRounding(t *testing.T) {
	s := testutil.BuildStorage(t, "memory")

	start := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	insertTrips(t, s,
		trip("R1", "a", start, start.Add(20*time.Minute)),
		trip("R1", "b", start, start.Add(20*time.Minute)),
		trip("R1", "c", start, start.Add(21*time.Minute)),
		trip("R1", "d", start, start.Add(10*time.Minute+20*time.Second)),
	)

	stats, err := NewStatistics(s, time.UTC).Compute(context.Background(), "R1", date(2024, 3, 4), date(2024, 3, 4))
	require.NoError(t, err)

	// (20 + 20 + 21 + 10.333...) / 4 = 17.8333...
	assert.Equal(t, 17.83, *stats.AvgMinutes)
}

func TestStatisticsStorageError(t *testing.T) {
	s := &testutil.FailingStorage{Storage: storage.NewMemoryStorage(), FailRead: true}

	_, err := NewStatistics(s, time.UTC).Compute(context.Background(), "R1", date(2024, 3, 4), date(2024, 3, 4))
	require.Error(t, err)

	var storageErr *StorageError
	require.True(t, errors.As(err, &storageErr))
	assert.Equal(t, "R1", storageErr.RouteID)
	assert.ErrorIs(t, err, testutil.ErrInjected)
}

func TestStatisticsConcurrent(t *testing.T) {
	s := testutil.BuildStorage(t, "sqlite")

	start := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	insertTrips(t, s, trip("R1", "a", start, start.Add(20*time.Minute)))
	engine := NewStatistics(s, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats, err := engine.Compute(context.Background(), "R1", date(2024, 3, 1), date(2024, 3, 31))
			assert.NoError(t, err)
			if assert.NotNil(t, stats) {
				assert.Equal(t, 20.0, *stats.AvgMinutes)
			}
		}()
	}
	wg.Wait()
}

func TestStatisticsWindow(t *testing.T) {
	budapest, err := time.LoadLocation("Europe/Budapest")
	require.NoError(t, err)

	engine := NewStatistics(storage.NewMemoryStorage(), budapest)

	// Summer time starts on March 31st 2024: that day is 23 hours
	from, until := engine.Window(date(2024, 3, 31), date(2024, 3, 31))
	assert.Equal(t, time.Date(2024, 3, 30, 23, 0, 0, 0, time.UTC), from.UTC())
	assert.Equal(t, time.Date(2024, 3, 31, 22, 0, 0, 0, time.UTC), until.UTC())
	assert.Equal(t, 23*time.Hour, until.Sub(from))
}

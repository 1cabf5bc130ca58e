// Package seed generates synthetic trip observations resembling what
// the collector records, for demos and local development.
package seed

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"tidbyt.dev/tripstats/model"
	"tidbyt.dev/tripstats/storage"
)

const (
	FirstTripHour = 4
	LastTripHour  = 24

	BaseDuration     = 60 * time.Minute
	Headway          = 10 * time.Minute
	CollectionOffset = 30 * time.Minute
	CollectionStep   = time.Minute

	// Minutes
	durationVariance = 2
	peakExtraMin     = 5
	peakExtraMax     = 15

	// Seconds
	endTimeVariance = 30

	DefaultBatchSize = 1000
)

// Hour ranges, start inclusive, end exclusive.
var PeakHours = [][2]int{{7, 10}, {15, 18}}

type Generator struct {
	rand     *rand.Rand
	location *time.Location
}

func NewGenerator(r *rand.Rand, loc *time.Location) *Generator {
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{rand: r, location: loc}
}

// Uniform in [lo, hi].
func (g *Generator) between(lo, hi int) int {
	return lo + g.rand.Intn(hi-lo+1)
}

func isPeak(t time.Time) bool {
	for _, p := range PeakHours {
		if p[0] <= t.Hour() && t.Hour() < p[1] {
			return true
		}
	}
	return false
}

// Observations of every trip on a route during one local day. Trips
// depart roughly every Headway from FirstTripHour until LastTripHour,
// and take about BaseDuration, more during peak hours. Each trip is
// observed every CollectionStep from CollectionOffset before its start
// until CollectionOffset after its end. While the trip is running,
// the reported end time wobbles around the final one.
func (g *Generator) Day(routeID string, date time.Time) []model.Observation {
	midnight := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, g.location)
	first := midnight.Add(FirstTripHour * time.Hour)
	last := midnight.Add(LastTripHour * time.Hour)

	observations := []model.Observation{}

	for start := first; start.Before(last); {
		duration := BaseDuration + time.Duration(g.between(-durationVariance, durationVariance))*time.Minute
		if isPeak(start) {
			duration += time.Duration(g.between(peakExtraMin, peakExtraMax)) * time.Minute
		}
		end := start.Add(duration)

		tripID := fmt.Sprintf("%s_%s_%d", routeID, start.Format("1504"), g.between(1000, 9999))
		observations = append(observations, g.collect(routeID, tripID, start, end)...)

		start = start.Add(Headway + time.Duration(g.between(-durationVariance, durationVariance))*time.Minute)
	}

	return observations
}

func (g *Generator) collect(routeID, tripID string, start, end time.Time) []model.Observation {
	observations := []model.Observation{}

	for at := start.Add(-CollectionOffset); !at.After(end.Add(CollectionOffset)); at = at.Add(CollectionStep) {
		reportedEnd := end
		if !at.Before(start) && !at.After(end) {
			reportedEnd = end.Add(time.Duration(g.between(-endTimeVariance, endTimeVariance)) * time.Second)
		}

		s := start.UTC()
		e := reportedEnd.UTC()
		observations = append(observations, model.Observation{
			RouteID:     routeID,
			TripID:      tripID,
			StartTime:   &s,
			EndTime:     &e,
			CollectedAt: at.UTC(),
		})
	}

	return observations
}

// Observations for each route on each of the daysBack days preceding
// today, ordered by collection time.
func (g *Generator) Days(routes []string, today time.Time, daysBack int) []model.Observation {
	today = today.In(g.location)

	observations := []model.Observation{}
	for ago := daysBack; ago > 0; ago-- {
		date := today.AddDate(0, 0, -ago)
		for _, routeID := range routes {
			observations = append(observations, g.Day(routeID, date)...)
		}
	}

	sort.SliceStable(observations, func(i, j int) bool {
		return observations[i].CollectedAt.Before(observations[j].CollectedAt)
	})

	return observations
}

// Stores observations in batches of batchSize.
func Seed(ctx context.Context, s storage.Storage, observations []model.Observation, batchSize int) error {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	for i := 0; i < len(observations); i += batchSize {
		j := i + batchSize
		if j > len(observations) {
			j = len(observations)
		}
		if err := s.InsertBatch(ctx, observations[i:j]); err != nil {
			return fmt.Errorf("inserting batch at %d: %w", i, err)
		}
	}

	return nil
}

package parse

import (
	"context"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/pkg/errors"
	proto "google.golang.org/protobuf/proto"

	"tidbyt.dev/tripstats/model"
)

// Counts from a decoded feed. Handy when debugging feeds that yield
// fewer observations than expected.
type FeedSummary struct {
	// Timestamp from the feed header, if set.
	Timestamp time.Time

	NumEntities    int
	NumTripUpdates int
	NumMatched     int
}

// Decodes a GTFS Realtime feed into one Observation per TripUpdate
// on the given route. Observations are returned in feed order, with
// CollectedAt left unset.
func DecodeTripUpdates(ctx context.Context, feed []byte, routeID string) ([]model.Observation, error) {
	observations, _, err := DecodeFeed(ctx, feed, routeID)
	return observations, err
}

// Same as DecodeTripUpdates, but also returns a summary of the feed.
func DecodeFeed(ctx context.Context, feed []byte, routeID string) ([]model.Observation, *FeedSummary, error) {
	f := &gtfsproto.FeedMessage{}
	err := proto.Unmarshal(feed, f)
	if err != nil {
		return nil, nil, errors.Wrap(err, "unmarshaling protobuf")
	}

	summary := &FeedSummary{
		NumEntities: len(f.GetEntity()),
	}
	if ts := f.GetHeader().GetTimestamp(); ts != 0 {
		summary.Timestamp = time.Unix(int64(ts), 0).UTC()
	}

	observations := []model.Observation{}
	for _, entity := range f.GetEntity() {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		// We only care about TripUpdates
		tu := entity.GetTripUpdate()
		if tu == nil {
			continue
		}
		summary.NumTripUpdates++

		trip := tu.GetTrip()
		if trip.GetRouteId() != routeID {
			continue
		}

		start, end := tripEndpoints(tu.GetStopTimeUpdate())
		observations = append(observations, model.Observation{
			RouteID:   trip.GetRouteId(),
			TripID:    trip.GetTripId(),
			StartTime: start,
			EndTime:   end,
		})
		summary.NumMatched++
	}

	return observations, summary, nil
}

// Start is the departure from the first stop, falling back to
// arrival. End is the arrival at the last stop, falling back to
// departure.
func tripEndpoints(updates []*gtfsproto.TripUpdate_StopTimeUpdate) (*time.Time, *time.Time) {
	if len(updates) == 0 {
		return nil, nil
	}

	first := updates[0]
	last := updates[len(updates)-1]

	startEvent := first.GetDeparture()
	if startEvent == nil {
		startEvent = first.GetArrival()
	}

	endEvent := last.GetArrival()
	if endEvent == nil {
		endEvent = last.GetDeparture()
	}

	return eventTime(startEvent), eventTime(endEvent)
}

func eventTime(event *gtfsproto.TripUpdate_StopTimeEvent) *time.Time {
	if event == nil || event.Time == nil {
		return nil
	}
	t := time.Unix(event.GetTime(), 0).UTC()
	return &t
}

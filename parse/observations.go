package parse

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/spkg/bom"

	"tidbyt.dev/tripstats/model"
)

// A row of an observation dump, e.g. the output of
//
//	\copy trips (route_id, trip_id, start_time, end_time, collected_at) to 'trips.csv' csv header
type ObservationCSV struct {
	RouteID     string `csv:"route_id"`
	TripID      string `csv:"trip_id"`
	StartTime   string `csv:"start_time"`
	EndTime     string `csv:"end_time"`
	CollectedAt string `csv:"collected_at"`
}

// Layouts accepted for timestamps. The first is what Postgres uses
// for TIMESTAMPTZ text output.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	time.RFC3339Nano,
}

func parseTimestamp(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized timestamp '%s'", s)
}

// Parses a CSV dump of observations. Blank start/end times are kept
// absent. Rows must have route_id and collected_at.
func ParseObservations(data io.Reader) ([]model.Observation, error) {
	// The BOM reader strips unicode BOMs if present, as some
	// spreadsheet tools like to add them.
	reader := gocsv.LazyCSVReader(bom.NewReader(data))

	observations := []model.Observation{}

	rows := []*ObservationCSV{}
	if err := gocsv.UnmarshalCSV(reader, &rows); err != nil {
		return nil, errors.Wrap(err, "parsing observations")
	}

	for i, row := range rows {
		o, err := observationFromRow(row, i+1)
		if err != nil {
			return nil, errors.Wrap(err, "parsing observations")
		}
		observations = append(observations, o)
	}

	return observations, nil
}

func observationFromRow(row *ObservationCSV, i int) (model.Observation, error) {
	if row.RouteID == "" {
		return model.Observation{}, fmt.Errorf("missing route_id (row %d)", i)
	}

	start, err := parseTimestamp(row.StartTime)
	if err != nil {
		return model.Observation{}, errors.Wrapf(err, "start_time (row %d)", i)
	}
	end, err := parseTimestamp(row.EndTime)
	if err != nil {
		return model.Observation{}, errors.Wrapf(err, "end_time (row %d)", i)
	}
	collectedAt, err := parseTimestamp(row.CollectedAt)
	if err != nil {
		return model.Observation{}, errors.Wrapf(err, "collected_at (row %d)", i)
	}
	if collectedAt == nil {
		return model.Observation{}, fmt.Errorf("missing collected_at (row %d)", i)
	}

	return model.Observation{
		RouteID:     row.RouteID,
		TripID:      row.TripID,
		StartTime:   start,
		EndTime:     end,
		CollectedAt: *collectedAt,
	}, nil
}

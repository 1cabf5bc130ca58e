package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Holds all external facing types and constants.

// A single snapshot of a trip's predicted start and end time, as seen
// in one poll of the realtime feed.
//
// StartTime and EndTime are nil when the feed didn't provide them.
// CollectedAt is assigned by storage when zero.
type Observation struct {
	RouteID     string
	TripID      string
	StartTime   *time.Time
	EndTime     *time.Time
	CollectedAt time.Time
}

// The most recently collected Observation of a trip within a queried
// window.
type TripRecord struct {
	RouteID     string
	TripID      string
	StartTime   *time.Time
	EndTime     *time.Time
	CollectedAt time.Time
}

// Duration of the trip in the given location. The second return
// value is false if either time is missing or if the trip doesn't
// move forward in time.
func (r TripRecord) Duration(loc *time.Location) (time.Duration, bool) {
	if r.StartTime == nil || r.EndTime == nil {
		return 0, false
	}
	start := r.StartTime.In(loc)
	end := r.EndTime.In(loc)
	if !end.After(start) {
		return 0, false
	}
	return end.Sub(start), true
}

// Time of day bucket.
type Period int

const (
	PeriodBeforeMorningPeak Period = iota
	PeriodMorningPeak
	PeriodDaytime
	PeriodAfternoonPeak
	PeriodEvening
)

// All periods, in order.
var Periods = []Period{
	PeriodBeforeMorningPeak,
	PeriodMorningPeak,
	PeriodDaytime,
	PeriodAfternoonPeak,
	PeriodEvening,
}

var periodNames = map[Period]string{
	PeriodBeforeMorningPeak: "before_morning_peak",
	PeriodMorningPeak:       "morning_peak",
	PeriodDaytime:           "daytime",
	PeriodAfternoonPeak:     "afternoon_peak",
	PeriodEvening:           "evening",
}

func (p Period) String() string {
	if name, ok := periodNames[p]; ok {
		return name
	}
	return "Period(" + strconv.Itoa(int(p)) + ")"
}

// Classifies by wall clock time of t, in t's location. Intervals are
// half-open: [00:00,07:00), [07:00,10:00), [10:00,15:00),
// [15:00,18:00), [18:00,24:00).
func ClassifyPeriod(t time.Time) Period {
	switch h := t.Hour(); {
	case h < 7:
		return PeriodBeforeMorningPeak
	case h < 10:
		return PeriodMorningPeak
	case h < 15:
		return PeriodDaytime
	case h < 18:
		return PeriodAfternoonPeak
	default:
		return PeriodEvening
	}
}

// Average trip durations for a route over a date interval.
type Statistics struct {
	RouteID    string          `json:"route_id"`
	Interval   Interval        `json:"interval"`
	AvgMinutes *float64        `json:"avg_minutes"`
	Days       []DayStatistics `json:"days"`
}

// Dates given as YYYY-MM-DD, both inclusive.
type Interval struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type DayStatistics struct {
	Date       string         `json:"date"`
	Day        string         `json:"day"`
	AvgMinutes *float64       `json:"avg_minutes"`
	Periods    PeriodAverages `json:"periods"`
}

type PeriodAverage struct {
	Period     Period
	AvgMinutes float64
}

// Period averages for a single day. Encodes as a JSON object keyed by
// period name, with keys in period order.
type PeriodAverages []PeriodAverage

func (pa PeriodAverages) MarshalJSON() ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte('{')
	for i, avg := range pa {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(avg.Period.String())
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(avg.AvgMinutes)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (pa *PeriodAverages) UnmarshalJSON(data []byte) error {
	raw := map[string]float64{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := PeriodAverages{}
	for _, p := range Periods {
		if v, ok := raw[p.String()]; ok {
			out = append(out, PeriodAverage{Period: p, AvgMinutes: v})
			delete(raw, p.String())
		}
	}
	if len(raw) > 0 {
		return fmt.Errorf("unknown periods in %s", data)
	}
	*pa = out
	return nil
}

// Looks up the average for a period.
func (pa PeriodAverages) Get(p Period) (float64, bool) {
	for _, avg := range pa {
		if avg.Period == p {
			return avg.AvgMinutes, true
		}
	}
	return 0, false
}

// One (day, period) cell of Statistics. DeviationMinutes is the period
// average minus the day average.
type StatisticsRow struct {
	RouteID          string  `csv:"route_id"`
	Date             string  `csv:"date"`
	Day              string  `csv:"day"`
	Period           string  `csv:"period"`
	AvgMinutes       float64 `csv:"avg_minutes"`
	DayAvgMinutes    float64 `csv:"day_avg_minutes"`
	DeviationMinutes float64 `csv:"deviation_minutes"`
}

// Flattens the statistics into one row per day and period.
func (s *Statistics) Rows() []StatisticsRow {
	rows := []StatisticsRow{}
	for _, day := range s.Days {
		dayAvg := 0.0
		if day.AvgMinutes != nil {
			dayAvg = *day.AvgMinutes
		}
		for _, p := range day.Periods {
			rows = append(rows, StatisticsRow{
				RouteID:          s.RouteID,
				Date:             day.Date,
				Day:              day.Day,
				Period:           p.Period.String(),
				AvgMinutes:       p.AvgMinutes,
				DayAvgMinutes:    dayAvg,
				DeviationMinutes: RoundMinutes(p.AvgMinutes - dayAvg),
			})
		}
	}
	return rows
}

// Rounds to 2 decimal places, half away from zero.
func RoundMinutes(m float64) float64 {
	return math.Round(m*100) / 100
}

type RouteType int

// A route as described by a static GTFS feed's routes.txt. Used to
// put names on the route IDs seen in the realtime feed.
type Route struct {
	ID        string
	ShortName string
	LongName  string
	Type      RouteType
	Color     string
	TextColor string
}

// Short name if there is one, otherwise the long name.
func (r Route) Name() string {
	if r.ShortName != "" {
		return r.ShortName
	}
	return r.LongName
}

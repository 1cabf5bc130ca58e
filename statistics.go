package tripstats

import (
	"context"
	"sort"
	"time"

	"tidbyt.dev/tripstats/metrics"
	"tidbyt.dev/tripstats/model"
	"tidbyt.dev/tripstats/storage"
)

const DateFormat = "2006-01-02"

// Computes trip duration statistics from the latest observation of
// each trip. Holds no state between calls and is safe for concurrent
// use.
type Statistics struct {
	Metrics *metrics.Collector

	storage  storage.Storage
	location *time.Location
}

// Creates a Statistics engine. Days, weekdays and periods are all
// determined in loc.
func NewStatistics(s storage.Storage, loc *time.Location) *Statistics {
	if loc == nil {
		loc = time.UTC
	}
	return &Statistics{
		storage:  s,
		location: loc,
	}
}

func (s *Statistics) Location() *time.Location {
	return s.location
}

// Window covered by a date interval: from midnight starting startDate
// up to, but excluding, midnight ending endDate. Only the calendar
// dates of the arguments matter.
func (s *Statistics) Window(startDate, endDate time.Time) (time.Time, time.Time) {
	from := time.Date(startDate.Year(), startDate.Month(), startDate.Day(), 0, 0, 0, 0, s.location)
	until := time.Date(endDate.Year(), endDate.Month(), endDate.Day()+1, 0, 0, 0, 0, s.location)
	return from, until
}

type durationBucket struct {
	sum   float64
	count int
}

func (b *durationBucket) add(minutes float64) {
	b.sum += minutes
	b.count++
}

func (b *durationBucket) average() float64 {
	return model.RoundMinutes(b.sum / float64(b.count))
}

type dayBucket struct {
	weekday time.Weekday
	all     durationBucket
	periods [len(periodOrder)]durationBucket
}

var periodOrder = [...]model.Period{
	model.PeriodBeforeMorningPeak,
	model.PeriodMorningPeak,
	model.PeriodDaytime,
	model.PeriodAfternoonPeak,
	model.PeriodEvening,
}

// Average trip durations on a route, for trips starting between
// startDate and endDate, both inclusive. The caller is responsible
// for startDate not being after endDate.
//
// A route without trips in the interval yields a null average and no
// days. Storage failures are returned as *StorageError.
func (s *Statistics) Compute(ctx context.Context, routeID string, startDate, endDate time.Time) (*model.Statistics, error) {
	if s.Metrics != nil {
		defer func(start time.Time) {
			s.Metrics.ObserveStatistics(time.Since(start))
		}(time.Now())
	}

	from, until := s.Window(startDate, endDate)

	result := &model.Statistics{
		RouteID: routeID,
		Interval: model.Interval{
			StartDate: from.Format(DateFormat),
			EndDate:   until.AddDate(0, 0, -1).Format(DateFormat),
		},
		Days: []model.DayStatistics{},
	}

	records, err := s.storage.LatestTrips(ctx, routeID, from, until)
	if err != nil {
		return nil, &StorageError{RouteID: routeID, Op: "latest trips", Err: err}
	}

	days := map[string]*dayBucket{}
	overall := durationBucket{}

	for _, rec := range records {
		duration, ok := rec.Duration(s.location)
		if !ok {
			continue
		}
		minutes := duration.Seconds() / 60

		start := rec.StartTime.In(s.location)
		date := start.Format(DateFormat)

		day, found := days[date]
		if !found {
			day = &dayBucket{weekday: start.Weekday()}
			days[date] = day
		}

		day.all.add(minutes)
		day.periods[model.ClassifyPeriod(start)].add(minutes)
		overall.add(minutes)
	}

	if overall.count == 0 {
		return result, nil
	}

	avg := overall.average()
	result.AvgMinutes = &avg

	dates := make([]string, 0, len(days))
	for date := range days {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	for _, date := range dates {
		day := days[date]

		periods := model.PeriodAverages{}
		for _, p := range periodOrder {
			if day.periods[p].count > 0 {
				periods = append(periods, model.PeriodAverage{
					Period:     p,
					AvgMinutes: day.periods[p].average(),
				})
			}
		}

		dayAvg := day.all.average()
		result.Days = append(result.Days, model.DayStatistics{
			Date:       date,
			Day:        day.weekday.String(),
			AvgMinutes: &dayAvg,
			Periods:    periods,
		})
	}

	return result, nil
}

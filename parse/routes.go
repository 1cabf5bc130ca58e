package parse

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"github.com/gocarina/gocsv"

	"tidbyt.dev/tripstats/model"
)

type RouteCSV struct {
	ID        string `csv:"route_id"`
	AgencyID  string `csv:"agency_id"`
	ShortName string `csv:"route_short_name"`
	LongName  string `csv:"route_long_name"`
	Type      string `csv:"route_type"`
	Color     string `csv:"route_color"`
	TextColor string `csv:"route_text_color"`
}

// Basic types 0-7 and 11-12, plus the extended types used by some
// European feeds.
func legalRouteType(t model.RouteType) bool {
	if t >= 0 && t <= 7 {
		return true
	}
	if t >= 11 && t <= 12 {
		return true
	}
	if t >= 100 && t <= 1702 {
		return true
	}
	return false
}

func validRouteColor(color string) bool {
	if len(color) != 6 {
		return false
	}
	if _, err := hex.DecodeString(color); err != nil {
		return false
	}
	return true
}

// Parses routes.txt, keeping what's needed to label routes.
func ParseRoutes(data io.Reader) ([]model.Route, error) {
	routeCsv := []*RouteCSV{}
	if err := gocsv.UnmarshalCSV(gocsv.LazyCSVReader(data), &routeCsv); err != nil {
		return nil, fmt.Errorf("unmarshaling routes: %v", err)
	}

	seen := map[string]bool{}
	routes := []model.Route{}

	for _, r := range routeCsv {
		// ID is required
		if r.ID == "" {
			return nil, fmt.Errorf("route has no route_id")
		}

		if seen[r.ID] {
			return nil, fmt.Errorf("repeated route_id: '%s'", r.ID)
		}
		seen[r.ID] = true

		// ShortName or LongName is required
		if r.ShortName == "" && r.LongName == "" {
			return nil, fmt.Errorf("route_id '%s' has no short_name or long_name", r.ID)
		}

		if r.Type == "" {
			return nil, fmt.Errorf("route_id '%s' has no route_type", r.ID)
		}
		routeType, err := strconv.Atoi(r.Type)
		if err != nil {
			return nil, fmt.Errorf("route_id '%s' has invalid route_type: %w", r.ID, err)
		}
		if !legalRouteType(model.RouteType(routeType)) {
			return nil, fmt.Errorf("route_id '%s' has invalid route_type: %d", r.ID, routeType)
		}

		// GTFS defaults
		if r.Color == "" {
			r.Color = "FFFFFF"
		} else if !validRouteColor(r.Color) {
			return nil, fmt.Errorf("route_id '%s' has invalid route_color: %s", r.ID, r.Color)
		}
		if r.TextColor == "" {
			r.TextColor = "000000"
		} else if !validRouteColor(r.TextColor) {
			return nil, fmt.Errorf("route_id '%s' has invalid route_text_color: %s", r.ID, r.TextColor)
		}

		routes = append(routes, model.Route{
			ID:        r.ID,
			ShortName: r.ShortName,
			LongName:  r.LongName,
			Type:      model.RouteType(routeType),
			Color:     r.Color,
			TextColor: r.TextColor,
		})
	}

	return routes, nil
}

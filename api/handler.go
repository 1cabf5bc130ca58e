package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"tidbyt.dev/tripstats"
	"tidbyt.dev/tripstats/storage"
)

// Days before today covered when no interval is requested.
const DefaultWindowDays = 7

type tripHandler struct {
	statistics *tripstats.Statistics
	storage    storage.Storage
	timeNow    func() time.Time
	logger     zerolog.Logger
}

// GET /api/trips/routes
func (h *tripHandler) listRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := h.storage.ListRoutes(r.Context())
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("request_id", GetRequestID(r.Context())).
			Msg("listing routes")
		writeProblem(w, r, newInternalError("listing routes failed"))
		return
	}
	if routes == nil {
		routes = []string{}
	}

	writeJSON(w, http.StatusOK, map[string][]string{"routes": routes})
}

// GET /api/trips/find/{route_id}?start_date=YYYY-MM-DD&end_date=YYYY-MM-DD
//
// Both dates are inclusive. If either is missing, the interval is the
// DefaultWindowDays days before today, plus today.
func (h *tripHandler) findTrips(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "route_id")
	loc := h.statistics.Location()

	var startDate, endDate time.Time
	startParam := r.URL.Query().Get("start_date")
	endParam := r.URL.Query().Get("end_date")

	if startParam == "" || endParam == "" {
		now := h.timeNow().In(loc)
		endDate = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
		startDate = endDate.AddDate(0, 0, -DefaultWindowDays)
	} else {
		var err error
		startDate, err = time.ParseInLocation(tripstats.DateFormat, startParam, loc)
		if err != nil {
			writeProblem(w, r, newBadRequest(fmt.Sprintf("invalid start_date '%s', expected YYYY-MM-DD", startParam)))
			return
		}
		endDate, err = time.ParseInLocation(tripstats.DateFormat, endParam, loc)
		if err != nil {
			writeProblem(w, r, newBadRequest(fmt.Sprintf("invalid end_date '%s', expected YYYY-MM-DD", endParam)))
			return
		}
		if startDate.After(endDate) {
			writeProblem(w, r, newBadRequest("start_date is after end_date"))
			return
		}
	}

	stats, err := h.statistics.Compute(r.Context(), routeID, startDate, endDate)
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("request_id", GetRequestID(r.Context())).
			Str("route_id", routeID).
			Msg("computing statistics")
		writeProblem(w, r, newInternalError("computing statistics failed"))
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

type healthHandler struct {
	storage storage.Storage
	version string
	timeNow func() time.Time
}

type Health struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
	Error   string `json:"error,omitempty"`
}

// GET /health. Liveness only.
func (h *healthHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Health{
		Status:  "ok",
		Version: h.version,
		Time:    h.timeNow().UTC().Format(time.RFC3339),
	})
}

// GET /ready. Fails while storage is unreachable.
func (h *healthHandler) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	health := Health{
		Status:  "ok",
		Version: h.version,
		Time:    h.timeNow().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if _, err := h.storage.ListRoutes(ctx); err != nil {
		health.Status = "unavailable"
		health.Error = "storage unreachable"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, health)
}

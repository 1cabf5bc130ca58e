package api

import (
	"encoding/json"
	"net/http"
)

// Problem represents an RFC7807 error response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"traceId"`
}

const (
	ProblemTypeValidation      = "/problems/validation-error"
	ProblemTypeNotFound        = "/problems/not-found"
	ProblemTypeMethod          = "/problems/method-not-allowed"
	ProblemTypeTooManyRequests = "/problems/too-many-requests"
	ProblemTypeInternal        = "/problems/internal-error"
)

func newProblem(problemType, title string, status int) *Problem {
	return &Problem{
		Type:   problemType,
		Title:  title,
		Status: status,
	}
}

func (p *Problem) withDetail(detail string) *Problem {
	p.Detail = detail
	return p
}

func newBadRequest(detail string) *Problem {
	return newProblem(ProblemTypeValidation, "Validation error", http.StatusBadRequest).withDetail(detail)
}

func newInternalError(detail string) *Problem {
	return newProblem(ProblemTypeInternal, "Internal server error", http.StatusInternalServerError).withDetail(detail)
}

func writeProblem(w http.ResponseWriter, r *http.Request, p *Problem) {
	p.Instance = r.URL.Path
	p.TraceID = GetRequestID(r.Context())

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

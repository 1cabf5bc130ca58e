package tripstats

import (
	"fmt"
)

// Feed could not be retrieved: transport error, timeout, non-2xx
// status or open circuit.
type FetchError struct {
	RouteID string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching feed for route %s: %v", e.RouteID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Feed was retrieved but couldn't be decoded.
type DecodeError struct {
	RouteID string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding feed for route %s: %v", e.RouteID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Storage failed. Op names the operation, e.g. "insert".
type StorageError struct {
	RouteID string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	if e.RouteID == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s for route %s: %v", e.Op, e.RouteID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

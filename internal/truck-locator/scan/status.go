package scan

import "time"

// StatusKind mirrors the status indicator the page UI shows while a scan
// runs.
type StatusKind string

const (
	StatusNone    StatusKind = ""
	StatusLoading StatusKind = "loading"
	StatusSuccess StatusKind = "success"
	StatusInfo    StatusKind = "info"
	StatusError   StatusKind = "error"
)

// Status is a transient user-visible state. Success and info fade after a few
// seconds; errors stay until dismissed or retried.
type Status struct {
	Kind    StatusKind `json:"kind"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}

func (s Status) faded(fadeAfter time.Time) bool {
	if s.Kind != StatusSuccess && s.Kind != StatusInfo {
		return false
	}
	return s.At.Before(fadeAfter)
}

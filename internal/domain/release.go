package domain

import "time"

// Release identifies an immutable deployable artifact version of a
// service. Created once per build event; never mutated.
type Release struct {
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
}

// Target returns the name under which the release is known to the
// traffic router, the workload controller, and the metrics source.
func (r Release) Target() string {
	return r.Service + "-" + r.Version
}

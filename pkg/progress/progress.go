// Package progress tracks the live state of transfer operations and fans it
// out to subscribers.
//
// The Registry owns one record per operation id. The owning transfer task
// drives the record through a Handle (Advance, Complete, Fail); any number of
// subscribers observe the record as a stream of immutable Snapshots. Slow
// subscribers never block the ingest path: each subscription has a bounded
// buffer with latest-wins coalescing, and only the terminal snapshot is
// guaranteed to survive buffer pressure.
package progress

import "time"

// Status is the observable state of an operation.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status ends the operation's stream.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Snapshot is an immutable view of an operation at a point in time.
//
// BytesTotal is zero when the total is unknown. SpeedBPS and ETASeconds are
// derived at publish time; ETASeconds is zero when no estimate is possible.
type Snapshot struct {
	OperationID    string     `json:"operation_id"`
	Status         Status     `json:"status"`
	BytesProcessed int64      `json:"bytes_processed"`
	BytesTotal     int64      `json:"bytes_total"`
	SpeedBPS       float64    `json:"speed_bps"`
	ETASeconds     int64      `json:"eta_seconds"`
	Message        string     `json:"message,omitempty"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether this is the last snapshot of the operation.
func (s Snapshot) Terminal() bool {
	return s.Status.Terminal()
}

// NotFoundError is the error label carried by the synthetic terminator
// delivered when subscribing to an operation the registry does not know.
const NotFoundError = "not_found"

// syntheticNotFound builds the terminator snapshot for an unknown operation.
func syntheticNotFound(operationID string) Snapshot {
	now := time.Now()
	return Snapshot{
		OperationID: operationID,
		Status:      StatusFailed,
		Error:       NotFoundError,
		StartedAt:   now,
		UpdatedAt:   now,
		FinishedAt:  &now,
	}
}

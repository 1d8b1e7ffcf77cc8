package models

import "time"

// RunState is the lifecycle state of one entity import run.
type RunState string

const (
	StateNotStarted RunState = "not_started"
	StateInProgress RunState = "in_progress"
	StateCompleted  RunState = "completed"
	StateAborted    RunState = "aborted"
)

// Stats holds the counters of one entity import run.
type Stats struct {
	Entity     string    `json:"entity"`
	State      RunState  `json:"state"`
	DryRun     bool      `json:"dry_run"`
	StartPage  int       `json:"start_page"`
	LastPage   int       `json:"last_page"`
	Pages      int       `json:"pages"`
	Total      int       `json:"total"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Errors     int       `json:"errors"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Succeeded is the number of items created or updated.
func (s Stats) Succeeded() int {
	return s.Created + s.Updated
}

// Duration is the wall time of the run.
func (s Stats) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

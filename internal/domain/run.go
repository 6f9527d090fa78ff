package domain

import "time"

// RunState is the lifecycle of a crawl run.
type RunState string

const (
	RunIdle    RunState = "idle"
	RunRunning RunState = "running"
	RunDone    RunState = "done"
	RunError   RunState = "error"
)

// RunStatus is the externally visible state of the orchestrator.
type RunStatus struct {
	State      RunState  `json:"state"`
	Error      string    `json:"error,omitempty"`
	Targets    []string  `json:"targets,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// SourceStats holds per-source statistics for one crawl run.
type SourceStats struct {
	Source  string
	Fetched int
	Saved   int
	Err     error
}

// CrawlStats aggregates a whole run.
type CrawlStats struct {
	Sources  []SourceStats
	Duration time.Duration
}

// Failed reports whether any source finished with an error.
func (s CrawlStats) Failed() bool {
	for _, src := range s.Sources {
		if src.Err != nil {
			return true
		}
	}
	return false
}

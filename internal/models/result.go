package models

// RunResult aggregates the outcome of one queue run.
type RunResult struct {
	Sent              int `json:"sent"`
	Failed            int `json:"failed"`
	PermanentFailures int `json:"permanent_failures"`

	// Skipped counts jobs another run claimed first.
	Skipped int `json:"-"`

	// Fetched is the number of eligible jobs read for this run.
	Fetched int `json:"-"`
}

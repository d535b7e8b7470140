package models

import "time"

// ResultStatus is the status string the build tool writes for a node.
type ResultStatus string

const (
	StatusPass    ResultStatus = "pass"
	StatusFail    ResultStatus = "fail"
	StatusWarn    ResultStatus = "warn"
	StatusError   ResultStatus = "error"
	StatusSkipped ResultStatus = "skipped"
	StatusSuccess ResultStatus = "success"
)

// TestResultEntry is one record from the results artifact.
type TestResultEntry struct {
	UniqueID      string       `json:"unique_id"`
	Status        ResultStatus `json:"status"`
	Message       string       `json:"message,omitempty"`
	Failures      int          `json:"failures,omitempty"`
	ExecutionTime float64      `json:"execution_time,omitempty"`
}

// RunResults is a normalized snapshot of the build tool's results artifact.
type RunResults struct {
	Path         string            `json:"path"`
	DBTVersion   string            `json:"dbt_version,omitempty"`
	InvocationID string            `json:"invocation_id,omitempty"`
	GeneratedAt  time.Time         `json:"generated_at,omitempty"`
	ElapsedTime  float64           `json:"elapsed_time,omitempty"`
	Results      []TestResultEntry `json:"results"`
}

// HasFailures returns true if any entry has status fail
func (r *RunResults) HasFailures() bool {
	for _, e := range r.Results {
		if e.Status == StatusFail {
			return true
		}
	}
	return false
}

// FailedEntries returns the entries whose status is fail, in artifact order.
func (r *RunResults) FailedEntries() []TestResultEntry {
	var failed []TestResultEntry
	for _, e := range r.Results {
		if e.Status == StatusFail {
			failed = append(failed, e)
		}
	}
	return failed
}

// CountByStatus tallies entries per status.
func (r *RunResults) CountByStatus() map[ResultStatus]int {
	counts := make(map[ResultStatus]int)
	for _, e := range r.Results {
		counts[e.Status]++
	}
	return counts
}

package models

import "time"

// Stage is one of the fixed build tool invocations.
type Stage string

const (
	StageDeps Stage = "deps"
	StageSeed Stage = "seed"
	StageRun  Stage = "run"
	StageTest Stage = "test"
)

// Stages lists the stages in execution order.
var Stages = []Stage{StageDeps, StageSeed, StageRun, StageTest}

// ParseStage validates a stage name.
func ParseStage(s string) (Stage, bool) {
	for _, st := range Stages {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// State is a step of the seed/build/test/patch loop.
type State string

const (
	StateSeeded    State = "seeded"
	StateBuilt     State = "built"
	StateTested    State = "tested"
	StateDiagnosed State = "diagnosed"
	StatePatched   State = "patched"
	StateRebuilt   State = "rebuilt"
	StateRetested  State = "retested"
)

// StageResult records one external command invocation.
type StageResult struct {
	Stage     Stage         `json:"stage"`
	Command   string        `json:"command"`
	ExitCode  int           `json:"exit_code"`
	Output    string        `json:"output,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// Passed reports whether the command exited with status 0.
func (r *StageResult) Passed() bool {
	return r != nil && r.ExitCode == 0
}

// StatusText renders pass/fail the way the batch script prints it.
func (r *StageResult) StatusText() string {
	if r.Passed() {
		return "pass"
	}
	return "fail"
}

// PatchOutcome describes one write of the patch region.
type PatchOutcome struct {
	Path       string   `json:"path"`
	Categories IssueSet `json:"categories"`
	Changed    bool     `json:"changed"`
}

// Attempt is one diagnose -> patch -> rebuild -> retest cycle.
type Attempt struct {
	Number    int           `json:"number"`
	Diagnosis *Diagnosis    `json:"diagnosis,omitempty"`
	Patch     *PatchOutcome `json:"patch,omitempty"`
	Build     *StageResult  `json:"build,omitempty"`
	Test      *StageResult  `json:"test,omitempty"`
}

// PipelineReport summarizes a full pipeline run.
type PipelineReport struct {
	RunID         string         `json:"run_id"`
	StartedAt     time.Time      `json:"started_at"`
	Duration      time.Duration  `json:"duration_ns"`
	States        []State        `json:"states"`
	Stages        []*StageResult `json:"stages"`
	InitialPassed bool           `json:"initial_passed"`
	FinalPassed   bool           `json:"final_passed"`
	Attempts      []Attempt      `json:"attempts,omitempty"`
	StopReason    string         `json:"stop_reason,omitempty"`
}

// Patched reports whether any attempt wrote the patch region.
func (r *PipelineReport) Patched() bool {
	for _, a := range r.Attempts {
		if a.Patch != nil {
			return true
		}
	}
	return false
}

// FinalStatus is "pass" or "fail" for the last test run.
func (r *PipelineReport) FinalStatus() string {
	if r.FinalPassed {
		return "pass"
	}
	return "fail"
}

// InitialStatus is "pass" or "fail" for the first test run.
func (r *PipelineReport) InitialStatus() string {
	if r.InitialPassed {
		return "pass"
	}
	return "fail"
}

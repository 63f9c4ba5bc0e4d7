package domain

// RunState enumerates pipeline milestones of a single invocation.
type RunState string

const (
	StateInit       RunState = "INIT"
	StateFetching   RunState = "FETCHING"
	StateFiltering  RunState = "FILTERING"
	StateScoring    RunState = "SCORING"
	StateRanking    RunState = "RANKING"
	StateDelivering RunState = "DELIVERING"
	StateRecording  RunState = "RECORDING"
	StateDone       RunState = "DONE"
	StateFailed     RunState = "FAILED"
)

// RunMode selects which part of the pipeline a run executes.
type RunMode string

const (
	// RunNormal fetches, ranks, delivers and records.
	RunNormal RunMode = "normal"
	// RunDry stops after ranking and never touches the seen store for writes.
	RunDry RunMode = "dry-run"
)

// FailureKind classifies why a source-query produced no results.
type FailureKind string

const (
	FailureExhausted  FailureKind = "retries_exhausted"
	FailureTerminal   FailureKind = "terminal"
	FailureDisallowed FailureKind = "disallowed"
	FailureCanceled   FailureKind = "canceled"
)

// SourceQueryFailure is a non-fatal warning about one (source, query) pair.
type SourceQueryFailure struct {
	Source   string
	Query    string
	Mode     FetchMode
	Attempts int
	Kind     FailureKind
	Err      error
}

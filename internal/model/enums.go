package model

import "fmt"

// JobStatus is the lifecycle stage of one CI build node (execution, run or
// country deployment).
type JobStatus string

const (
	// StatusPending means the job did not start yet, or is not visible on
	// the CI server yet.
	StatusPending JobStatus = "PENDING"
	// StatusRunning means the job is currently executing.
	StatusRunning JobStatus = "RUNNING"
	// StatusDone means the job ran to completion, whatever its result.
	StatusDone JobStatus = "DONE"
	// StatusUnavailable means the job will never run (not built, or forced
	// terminal because its parent finished without it).
	StatusUnavailable JobStatus = "UNAVAILABLE"
)

// BuildResult is the terminal result reported by the CI server for a build.
type BuildResult string

const (
	ResultAborted  BuildResult = "ABORTED"
	ResultFailure  BuildResult = "FAILURE"
	ResultSuccess  BuildResult = "SUCCESS"
	ResultUnstable BuildResult = "UNSTABLE"
	ResultNotBuilt BuildResult = "NOT_BUILT"
)

// QualityStatus is the verdict derived from per-severity pass percentages.
// The declaration order is the downgrade order: a global verdict starts at
// PASSED and only ever moves toward INCOMPLETE.
type QualityStatus string

const (
	QualityIncomplete QualityStatus = "INCOMPLETE"
	QualityFailed     QualityStatus = "FAILED"
	QualityWarning    QualityStatus = "WARNING"
	QualityPassed     QualityStatus = "PASSED"
)

// rank orders quality statuses from worst to best.
func (q QualityStatus) rank() int {
	switch q {
	case QualityIncomplete:
		return 0
	case QualityFailed:
		return 1
	case QualityWarning:
		return 2
	case QualityPassed:
		return 3
	}
	panic(fmt.Sprintf("unknown quality status %q", string(q)))
}

// WorseThan reports whether q is strictly worse than other.
func (q QualityStatus) WorseThan(other QualityStatus) bool {
	return q.rank() < other.rank()
}

// Acceptance is the human triage marker on an execution.
type Acceptance string

const (
	AcceptanceNew       Acceptance = "NEW"
	AcceptanceAccepted  Acceptance = "ACCEPTED"
	AcceptanceDiscarded Acceptance = "DISCARDED"
)

// Technology identifies the report format produced by a run's test type.
type Technology string

const (
	TechCucumber Technology = "CUCUMBER"
	TechPostman  Technology = "POSTMAN"
)

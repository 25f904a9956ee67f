package model

import "time"

// AttemptOutcome records how a single retrieval strategy ended.
type AttemptOutcome string

const (
	// OutcomeProducedFile means the strategy left at least one media file.
	OutcomeProducedFile AttemptOutcome = "produced-file"

	// OutcomeTimedOut means the strategy hit its wall-clock bound.
	OutcomeTimedOut AttemptOutcome = "timed-out"

	// OutcomeToolError means the tool exited non-zero without producing files.
	OutcomeToolError AttemptOutcome = "tool-error"

	// OutcomeSkipped means an earlier step already produced output.
	OutcomeSkipped AttemptOutcome = "skipped"
)

// Attempt is the ephemeral record of one strategy run within a job.
type Attempt struct {
	StrategyID string
	Timeout    time.Duration
	Outcome    AttemptOutcome
}

package domain

import "strings"

// BundleState is the lifecycle position of a bundle within one run.
type BundleState string

const (
	StatePending   BundleState = "pending"
	StateStaged    BundleState = "staged"
	StateSubmitted BundleState = "submitted"
	StateFailed    BundleState = "failed"
)

var bundleTransitions = map[BundleState][]BundleState{
	StatePending: {StateStaged, StateFailed},
	StateStaged:  {StateSubmitted, StateFailed},
}

// CanTransition reports whether a bundle may move from one state to another.
// Failed and submitted are terminal.
func CanTransition(from, to BundleState) bool {
	for _, next := range bundleTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OutcomeStatus is the per-record result in a run report.
type OutcomeStatus string

const (
	OutcomeSucceeded     OutcomeStatus = "succeeded"
	OutcomeFailed        OutcomeStatus = "failed"
	OutcomeSkippedDryRun OutcomeStatus = "skipped-dry-run"
	OutcomeNotAttempted  OutcomeStatus = "not-attempted"
)

var outcomeLabels = map[OutcomeStatus]string{
	OutcomeSucceeded:     "Loaded",
	OutcomeFailed:        "Failed",
	OutcomeSkippedDryRun: "Dry run",
	OutcomeNotAttempted:  "Not attempted",
}

// OutcomeLabel returns a human-readable label for an outcome.
func OutcomeLabel(status OutcomeStatus) string {
	if label, ok := outcomeLabels[status]; ok {
		return label
	}

	return "Pending"
}

// ParseOutcome returns the outcome for a given label or status (case-insensitive).
func ParseOutcome(s string) (OutcomeStatus, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for status, label := range outcomeLabels {
		if s == string(status) || s == strings.ToLower(label) {
			return status, true
		}
	}
	return "", false
}

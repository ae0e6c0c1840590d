// Package policy maps fraud risk scores to transaction decisions.
//
// Scores range from 0.0 (safe) to 1.0 (high risk). The thresholds are fixed:
// below 0.3 a transfer is approved, below 0.7 it is flagged for review, and
// anything at or above 0.7 is rejected outright.
package policy

// Decision is the terminal classification of a transfer.
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionFlagged  Decision = "FLAGGED"
	DecisionRejected Decision = "REJECTED"
)

// Decision thresholds. Boundary values fall into the higher-risk bucket:
// 0.3 is flagged, 0.7 is rejected.
const (
	ApproveBelow    = 0.3
	RejectAtOrAbove = 0.7
)

// Valid reports whether d is one of the three known decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApproved, DecisionFlagged, DecisionRejected:
		return true
	}
	return false
}

// Code returns the fixed ledger encoding of the decision:
// APPROVED=0, FLAGGED=1, REJECTED=2.
func (d Decision) Code() uint8 {
	switch d {
	case DecisionApproved:
		return 0
	case DecisionFlagged:
		return 1
	default:
		return 2
	}
}

// Decide maps a risk score to a decision. Pure and deterministic.
//
// Scores outside [0, 1] should not occur (the scoring client rejects them as
// unavailable), but as a last-resort guard they are clamped into range rather
// than crashing the pipeline.
func Decide(riskScore float64) Decision {
	riskScore = Clamp(riskScore)
	switch {
	case riskScore < ApproveBelow:
		return DecisionApproved
	case riskScore < RejectAtOrAbove:
		return DecisionFlagged
	default:
		return DecisionRejected
	}
}

// Clamp forces a score into [0, 1].
func Clamp(score float64) float64 {
	if score < 0.0 {
		return 0.0
	}
	if score > 1.0 {
		return 1.0
	}
	return score
}

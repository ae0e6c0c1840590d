// Package scoring calls the external fraud-scoring service.
//
// The service evaluates a proposed transfer and returns a risk score in
// [0, 1] with a confidence and a human-readable explanation. The client
// never propagates scorer failures: any timeout, transport error, non-2xx
// response, or malformed body collapses into an unavailable result and the
// caller decides what to do with an unscored transfer.
package scoring

import (
	"context"
	"time"
)

// DefaultTimeout bounds a single scoring call.
const DefaultTimeout = 3 * time.Second

// Transfer is the payload submitted for scoring.
type Transfer struct {
	FromWallet string
	ToWallet   string
	Amount     float64
	Currency   string
}

// Result is the outcome of a scoring attempt. Exactly one of the two shapes
// holds: Scored=true with a populated score, or Scored=false when the service
// was unreachable or returned garbage. Callers must branch on Scored rather
// than treating the zero score as meaningful.
type Result struct {
	Scored      bool
	RiskScore   float64
	Confidence  float64
	Explanation string
}

// Scored builds an available result.
func Scored(riskScore, confidence float64, explanation string) Result {
	return Result{
		Scored:      true,
		RiskScore:   riskScore,
		Confidence:  confidence,
		Explanation: explanation,
	}
}

// Unavailable is the result when the scorer could not be reached.
func Unavailable() Result {
	return Result{}
}

// Scorer evaluates transfers. Implemented by Client and by the circuit
// breaker wrapper.
type Scorer interface {
	Score(ctx context.Context, t Transfer) Result
}

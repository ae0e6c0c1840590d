package scoring

import (
	"context"

	"github.com/secureflow/secureflow/internal/circuitbreaker"
	"github.com/secureflow/secureflow/internal/logging"
)

// breakerKey is the single circuit key; there is one scoring service.
const breakerKey = "scoring"

// BreakerScorer wraps a Scorer with a circuit breaker so a dead scoring
// service is not hammered on every submission. When the circuit is open,
// Score short-circuits to unavailable without a network call, which the
// pipeline already handles as the flagged fallback.
type BreakerScorer struct {
	inner   Scorer
	breaker *circuitbreaker.Breaker
}

// NewBreakerScorer wraps inner with the given breaker.
func NewBreakerScorer(inner Scorer, breaker *circuitbreaker.Breaker) *BreakerScorer {
	return &BreakerScorer{inner: inner, breaker: breaker}
}

var _ Scorer = (*BreakerScorer)(nil)

// Score checks the circuit before delegating. An unavailable result counts
// as a failure; a scored result closes a half-open circuit.
func (b *BreakerScorer) Score(ctx context.Context, t Transfer) Result {
	if !b.breaker.Allow(breakerKey) {
		logging.L(ctx).Warn("scoring circuit open, skipping call")
		return Unavailable()
	}

	result := b.inner.Score(ctx, t)
	if result.Scored {
		b.breaker.RecordSuccess(breakerKey)
	} else {
		b.breaker.RecordFailure(breakerKey)
	}
	return result
}

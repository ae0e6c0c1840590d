package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecideThresholds(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		want  Decision
	}{
		{"zero", 0.0, DecisionApproved},
		{"low", 0.1, DecisionApproved},
		{"just below approve boundary", 0.2999, DecisionApproved},
		{"approve boundary is flagged", 0.3, DecisionFlagged},
		{"mid range", 0.5, DecisionFlagged},
		{"just below reject boundary", 0.6999, DecisionFlagged},
		{"reject boundary is rejected", 0.7, DecisionRejected},
		{"high", 0.95, DecisionRejected},
		{"max", 1.0, DecisionRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.score))
		})
	}
}

func TestDecideClampsOutOfRange(t *testing.T) {
	// Out-of-range input clamps instead of panicking or leaking through.
	assert.Equal(t, DecisionApproved, Decide(-0.5))
	assert.Equal(t, DecisionRejected, Decide(1.5))
}

func TestDecideIsDeterministic(t *testing.T) {
	for _, score := range []float64{0.0, 0.29, 0.3, 0.69, 0.7, 1.0} {
		assert.Equal(t, Decide(score), Decide(score))
	}
}

func TestDecisionCode(t *testing.T) {
	assert.Equal(t, uint8(0), DecisionApproved.Code())
	assert.Equal(t, uint8(1), DecisionFlagged.Code())
	assert.Equal(t, uint8(2), DecisionRejected.Code())
}

func TestDecisionValid(t *testing.T) {
	assert.True(t, DecisionApproved.Valid())
	assert.True(t, DecisionFlagged.Valid())
	assert.True(t, DecisionRejected.Valid())
	assert.False(t, Decision("PENDING").Valid())
	assert.False(t, Decision("").Valid())
}

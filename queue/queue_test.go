package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOptionsWithDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, 5, o.Attempts)
	assert.Equal(t, 5*time.Second, o.BackoffBase)
	assert.Equal(t, 2.0, o.BackoffFactor)
	assert.Equal(t, 5*time.Minute, o.VisibilityTimeout)
}

func TestOptionsWithDefaultsKeepsOverrides(t *testing.T) {
	o := Options{Attempts: 3, BackoffBase: time.Second, BackoffFactor: 3}.withDefaults()
	assert.Equal(t, 3, o.Attempts)
	assert.Equal(t, time.Second, o.BackoffBase)
	assert.Equal(t, 3.0, o.BackoffFactor)
}

// TestBackoffDelayMatchesSpecFormula covers spec.md §8's testable property
// that the nth retry delay is at least base * factor^(attempt-1).
func TestBackoffDelayMatchesSpecFormula(t *testing.T) {
	base := int64(5000)
	assert.Equal(t, 5*time.Second, backoffDelay(base, 2, 1))
	assert.Equal(t, 10*time.Second, backoffDelay(base, 2, 2))
	assert.Equal(t, 20*time.Second, backoffDelay(base, 2, 3))
	assert.Equal(t, 40*time.Second, backoffDelay(base, 2, 4))
}

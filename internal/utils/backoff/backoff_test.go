package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_GrowsTowardsMax(t *testing.T) {
	b := New(time.Second, 10*time.Second, 2.0)

	prevCeiling := time.Second
	for i := 0; i < 6; i++ {
		wait := b.Next()
		// ±20% jitter around the current delay, never below the minimum.
		assert.GreaterOrEqual(t, wait, time.Second)
		assert.LessOrEqual(t, wait, time.Duration(float64(prevCeiling)*1.2)+time.Millisecond)
		prevCeiling = min(time.Duration(float64(prevCeiling)*2), 10*time.Second)
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := New(time.Second, time.Minute, 2.0)

	b.Next()
	b.Next()
	b.Next()
	assert.Equal(t, 3, b.Attempts())

	b.Reset()
	assert.Equal(t, 0, b.Attempts())

	wait := b.Next()
	assert.LessOrEqual(t, wait, time.Duration(float64(time.Second)*1.2)+time.Millisecond)
}

func TestBackoff_NeverBelowMin(t *testing.T) {
	b := New(100*time.Millisecond, time.Second, 1.5)

	for i := 0; i < 20; i++ {
		assert.GreaterOrEqual(t, b.Next(), 100*time.Millisecond)
	}
}

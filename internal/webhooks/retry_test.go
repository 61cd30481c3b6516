package webhooks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		strategy RetryStrategy
		attempt  int
		want     time.Duration
	}{
		{RetryExponential, 1, 120 * time.Second},
		{RetryExponential, 2, 240 * time.Second},
		{RetryExponential, 3, 480 * time.Second},
		{RetryLinear, 1, 300 * time.Second},
		{RetryLinear, 2, 600 * time.Second},
		{RetryLinear, 3, 900 * time.Second},
		{RetryFixed, 1, 600 * time.Second},
		{RetryFixed, 7, 600 * time.Second},
		{"", 1, 60 * time.Second},
		{"bogus", 4, 60 * time.Second},
	}

	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			assert.Equal(t, tt.want, RetryDelay(tt.attempt, tt.strategy))
		})
	}
}

func TestRetryDelayExponentCapped(t *testing.T) {
	capped := RetryDelay(maxExponent, RetryExponential)
	assert.Equal(t, capped, RetryDelay(maxExponent+1, RetryExponential))
	assert.Equal(t, capped, RetryDelay(1000, RetryExponential))
	assert.Positive(t, capped)
}

func TestNextRetryAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	next := NextRetryAt(1, RetryExponential, 3, now)
	require.NotNil(t, next)
	assert.Equal(t, now.Add(120*time.Second), *next)

	next = NextRetryAt(2, RetryLinear, 3, now)
	require.NotNil(t, next)
	assert.Equal(t, now.Add(600*time.Second), *next)

	assert.Nil(t, NextRetryAt(3, RetryExponential, 3, now), "attempts reached max")
	assert.Nil(t, NextRetryAt(5, RetryFixed, 3, now))
	assert.Nil(t, NextRetryAt(1, RetryFixed, 0, now), "zero retries means one attempt")
}

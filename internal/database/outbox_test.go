package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextRetryTime(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		min      time.Duration
		max      time.Duration
	}{
		{name: "First retry backs off two seconds", attempts: 1, min: time.Second, max: 3 * time.Second},
		{name: "Third retry backs off eight seconds", attempts: 3, min: 7 * time.Second, max: 9 * time.Second},
		{name: "Backoff caps at five minutes", attempts: 20, min: 299 * time.Second, max: 301 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delay := time.Until(nextRetryTime(tt.attempts))
			assert.GreaterOrEqual(t, delay, tt.min)
			assert.LessOrEqual(t, delay, tt.max)
		})
	}
}

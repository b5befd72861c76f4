package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLastDays(t *testing.T) {
	now := time.Date(2024, 1, 7, 12, 30, 0, 0, time.UTC)

	r := LastDays(7, now)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), r.From)
	assert.Equal(t, time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC), r.To)

	// a single day window collapses onto today
	r = LastDays(1, now)
	assert.Equal(t, r.From, r.To)
}

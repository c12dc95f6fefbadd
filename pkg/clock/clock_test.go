package clock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/clock"
)

func TestRealClock(t *testing.T) {
	c := clock.New()
	assert.NotNil(t, c)

	now := c.Now()
	assert.False(t, now.IsZero())
	assert.Equal(t, time.UTC, now.Location())
}

func TestStrictClock(t *testing.T) {
	base := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	mock := clock.NewMock(base)
	c := clock.NewStrict(mock)

	first := c.Now()
	assert.Equal(t, base, first)

	// the wrapped clock has not moved
	second := c.Now()
	assert.Equal(t, base.Add(time.Microsecond), second)

	// the wrapped clock moves backwards
	mock.Add(-time.Hour)
	third := c.Now()
	assert.True(t, third.After(second))

	mock.Set(base.Add(time.Minute))
	assert.Equal(t, base.Add(time.Minute), c.Now())
}

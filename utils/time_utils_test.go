package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStartOfDayAndNextMidnight(t *testing.T) {
	loc := GetTaipeiLocation()
	// 2025-06-01 23:50 台北 = 15:50 UTC
	ts := time.Date(2025, 6, 1, 15, 50, 0, 0, time.UTC)

	assert.True(t, StartOfDay(ts, loc).Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, loc)))
	assert.True(t, NextMidnight(ts, loc).Equal(time.Date(2025, 6, 2, 0, 0, 0, 0, loc)))

	// 跨月
	endOfMonth := time.Date(2025, 1, 31, 12, 0, 0, 0, loc)
	assert.True(t, NextMidnight(endOfMonth, loc).Equal(time.Date(2025, 2, 1, 0, 0, 0, 0, loc)))
}

func TestNextDailyRun(t *testing.T) {
	loc := GetTaipeiLocation()

	tests := []struct {
		name     string
		now      time.Time
		expected time.Time
	}{
		{"當日尚未到點", time.Date(2025, 6, 1, 1, 0, 0, 0, loc), time.Date(2025, 6, 1, 2, 0, 0, 0, loc)},
		{"剛好到點排到隔天", time.Date(2025, 6, 1, 2, 0, 0, 0, loc), time.Date(2025, 6, 2, 2, 0, 0, 0, loc)},
		{"已過點", time.Date(2025, 6, 1, 13, 0, 0, 0, loc), time.Date(2025, 6, 2, 2, 0, 0, 0, loc)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, NextDailyRun(tt.now, 2, 0, loc).Equal(tt.expected))
		})
	}
}

func TestFormatOnlineMinutes(t *testing.T) {
	assert.Equal(t, "0h 0m", FormatOnlineMinutes(0))
	assert.Equal(t, "0h 45m", FormatOnlineMinutes(45))
	assert.Equal(t, "2h 5m", FormatOnlineMinutes(125))
	assert.Equal(t, "0h 0m", FormatOnlineMinutes(-3))
}

func TestLoadReferenceLocationFallback(t *testing.T) {
	assert.Equal(t, time.UTC, LoadReferenceLocation("Not/AZone"))
	assert.NotNil(t, LoadReferenceLocation(""))
}

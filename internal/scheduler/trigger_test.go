package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var kst = time.FixedZone("KST", 9*60*60)

func at(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, kst)
}

func TestTriggers_Next(t *testing.T) {
	tests := []struct {
		name    string
		trigger Trigger
		after   time.Time
		want    time.Time
	}{
		{"every hour", Every(time.Hour), at(2024, 7, 1, 10, 15), at(2024, 7, 1, 11, 15)},
		{"daily later today", DailyAt(7, 0, kst), at(2024, 7, 1, 6, 59), at(2024, 7, 1, 7, 0)},
		{"daily exactly now rolls over", DailyAt(7, 0, kst), at(2024, 7, 1, 7, 0), at(2024, 7, 2, 7, 0)},
		{"daily across month end", DailyAt(7, 0, kst), at(2024, 6, 30, 8, 0), at(2024, 7, 1, 7, 0)},
		{"weekly same day later", WeeklyAt(time.Monday, 9, 30, kst), at(2024, 7, 1, 9, 0), at(2024, 7, 1, 9, 30)},
		{"weekly same day passed", WeeklyAt(time.Monday, 9, 30, kst), at(2024, 7, 1, 10, 0), at(2024, 7, 8, 9, 30)},
		{"weekly sunday", WeeklyAt(time.Sunday, 18, 0, kst), at(2024, 7, 3, 12, 0), at(2024, 7, 7, 18, 0)},
		{"monthly this month", MonthlyAt(15, 10, 0, kst), at(2024, 7, 1, 0, 0), at(2024, 7, 15, 10, 0)},
		{"monthly next month", MonthlyAt(15, 10, 0, kst), at(2024, 7, 15, 10, 0), at(2024, 8, 15, 10, 0)},
		{"monthly clamps to february", MonthlyAt(31, 9, 0, kst), at(2024, 2, 1, 0, 0), at(2024, 2, 29, 9, 0)},
		{"monthly clamps to april", MonthlyAt(31, 9, 0, kst), at(2024, 3, 31, 10, 0), at(2024, 4, 30, 9, 0)},
		{"monthly across year end", MonthlyAt(1, 8, 0, kst), at(2024, 12, 1, 9, 0), at(2025, 1, 1, 8, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.trigger.Next(tt.after)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)
		})
	}
}

func TestTriggers_UseTheirLocation(t *testing.T) {
	// 22:30 UTC on June 30 is 07:30 KST on July 1
	after := time.Date(2024, 6, 30, 22, 30, 0, 0, time.UTC)
	got := DailyAt(7, 0, kst).Next(after)
	assert.True(t, got.Equal(at(2024, 7, 2, 7, 0)), "got %s", got)
}

func TestTriggers_String(t *testing.T) {
	assert.Equal(t, "every 2h0m0s", Every(2*time.Hour).String())
	assert.Equal(t, "daily at 07:00", DailyAt(7, 0, nil).String())
	assert.Equal(t, "weekly on Friday at 18:05", WeeklyAt(time.Friday, 18, 5, nil).String())
	assert.Equal(t, "monthly on day 31 at 09:00", MonthlyAt(31, 9, 0, nil).String())
}

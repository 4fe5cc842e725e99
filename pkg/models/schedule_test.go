package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func businessHours() *Schedule {
	return &Schedule{
		ID:   "sched-1",
		Name: "Comercial",
		Rules: map[string]DayRule{
			"monday":   {Active: true, Start: "08:00", End: "18:00"},
			"tuesday":  {Active: true, Start: "22:00", End: "06:00"},
			"sabado":   {Active: true, Start: "09:00", End: "12:00"},
			"sunday":   {Active: false, Start: "00:00", End: "23:59"},
			"thursday": {Active: true, Start: "bad", End: "18:00"},
		},
	}
}

func TestSchedule_IsOpen(t *testing.T) {
	t.Parallel()

	// 2024-01-01 is a Monday.
	monday := func(h, m int) time.Time { return time.Date(2024, 1, 1, h, m, 0, 0, time.UTC) }
	tuesday := func(h, m int) time.Time { return time.Date(2024, 1, 2, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name     string
		at       time.Time
		expected bool
	}{
		{name: "inside window", at: monday(10, 30), expected: true},
		{name: "window start is inclusive", at: monday(8, 0), expected: true},
		{name: "window end is inclusive", at: monday(18, 0), expected: true},
		{name: "before window", at: monday(7, 59), expected: false},
		{name: "after window", at: monday(18, 1), expected: false},
		{name: "overnight late evening", at: tuesday(23, 0), expected: true},
		{name: "overnight early morning", at: tuesday(5, 0), expected: true},
		{name: "overnight midday", at: tuesday(12, 0), expected: false},
		{name: "portuguese label", at: time.Date(2024, 1, 6, 10, 0, 0, 0, time.UTC), expected: true},
		{name: "inactive day", at: time.Date(2024, 1, 7, 10, 0, 0, 0, time.UTC), expected: false},
		{name: "day without rule", at: time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC), expected: false},
		{name: "malformed clock", at: time.Date(2024, 1, 4, 10, 0, 0, 0, time.UTC), expected: false},
	}

	schedule := businessHours()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, schedule.IsOpen(tt.at))
		})
	}
}

func TestSchedule_IsOpen_Idempotent(t *testing.T) {
	t.Parallel()

	schedule := businessHours()
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	first := schedule.IsOpen(at)
	for range 10 {
		assert.Equal(t, first, schedule.IsOpen(at))
	}
}

func TestSchedule_IsOpen_Timezone(t *testing.T) {
	t.Parallel()

	schedule := &Schedule{
		Name:     "SP",
		Timezone: "America/Sao_Paulo",
		Rules:    map[string]DayRule{"monday": {Active: true, Start: "08:00", End: "18:00"}},
	}

	// 11:00 UTC is 08:00 in São Paulo (UTC-3).
	assert.True(t, schedule.IsOpen(time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)))
	assert.False(t, schedule.IsOpen(time.Date(2024, 1, 1, 10, 59, 0, 0, time.UTC)))
}

func TestParseClock(t *testing.T) {
	t.Parallel()

	minutes, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, 570, minutes)

	for _, invalid := range []string{"", "9", "24:00", "12:60", "ab:cd"} {
		_, err := ParseClock(invalid)
		assert.Error(t, err, invalid)
	}
}

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(d int) time.Time {
	return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

func TestFullDays(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  int64
	}{
		{
			name:  "ten day window counts nine full days",
			start: day(0),
			end:   day(10),
			want:  9,
		},
		{
			name:  "adjacent days count zero",
			start: day(0),
			end:   day(1),
			want:  0,
		},
		{
			name:  "same day counts zero",
			start: day(3),
			end:   day(3),
			want:  0,
		},
		{
			name:  "inverted window floors at zero",
			start: day(5),
			end:   day(2),
			want:  0,
		},
		{
			name:  "intraday times truncate to calendar days",
			start: day(0).Add(23 * time.Hour),
			end:   day(2).Add(time.Minute),
			want:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fullDays(tt.start, tt.end))
		})
	}
}

func TestDaysSinceStart(t *testing.T) {
	assert.Equal(t, int64(10), daysSinceStart(day(0), day(10)))
	assert.Equal(t, int64(0), daysSinceStart(day(10).Add(-time.Hour), day(10)))
	assert.Equal(t, int64(1), daysSinceStart(day(8).Add(12*time.Hour), day(10)))
}

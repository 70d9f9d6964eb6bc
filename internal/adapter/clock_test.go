package adapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatestUTCMidnight(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "mid-day truncates to midnight",
			in:   time.Date(2025, 6, 10, 15, 42, 7, 123, time.UTC),
			want: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "midnight is its own boundary",
			in:   time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
			want: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "non-UTC zones resolve to the UTC day",
			in:   time.Date(2025, 6, 10, 1, 0, 0, 0, time.FixedZone("east", 3*3600)),
			want: time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LatestUTCMidnight(tt.in))
		})
	}
}

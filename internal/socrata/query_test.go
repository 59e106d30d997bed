package socrata_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/socrata"
)

func TestSafetyCutoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "mid day",
			now:  time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC),
			want: time.Date(2024, 3, 8, 23, 59, 59, 0, time.UTC),
		},
		{
			name: "just after midnight",
			now:  time.Date(2024, 3, 15, 0, 0, 1, 0, time.UTC),
			want: time.Date(2024, 3, 8, 23, 59, 59, 0, time.UTC),
		},
		{
			name: "across a month boundary",
			now:  time.Date(2024, 3, 3, 23, 59, 59, 999, time.UTC),
			want: time.Date(2024, 2, 25, 23, 59, 59, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, socrata.SafetyCutoff(tt.now))
		})
	}
}

func TestSafetyCutoff_NeverWithinSevenDays(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for h := 0; h < 24*40; h += 7 {
		now := start.Add(time.Duration(h) * time.Hour)
		cutoff := socrata.SafetyCutoff(now)

		limit := now.AddDate(0, 0, -7)
		limit = time.Date(limit.Year(), limit.Month(), limit.Day(), 23, 59, 59, 0, time.UTC)
		assert.False(t, cutoff.After(limit), "now=%s cutoff=%s", now, cutoff)
		assert.Equal(t, 59, cutoff.Second())
	}
}

func TestBuildWhere(t *testing.T) {
	t.Parallel()

	cutoff := time.Date(2024, 3, 8, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, "crash_date <= '2024-03-08T23:59:59'", socrata.BuildWhere("crash_date", nil, cutoff))

	lower := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t,
		"crash_date > '2024-03-01T12:00:00' AND crash_date <= '2024-03-08T23:59:59'",
		socrata.BuildWhere("crash_date", &lower, cutoff))
}

package query

import (
	"time"

	"jobmate/ingestion-service/internal/model"
)

// MaxWeeks is the number of weekly timeframes the warmup covers.
const MaxWeeks = 4

// TimeframeFor returns the weeks-th trailing week ending at now truncated
// to the hour: weeks == 1 is [now-7d, now], weeks == 2 the week before it.
func TimeframeFor(now time.Time, weeks int) model.Timeframe {
	if weeks < 1 {
		weeks = 1
	}
	end := now.UTC().Truncate(time.Hour)
	to := end.AddDate(0, 0, -7*(weeks-1))
	return model.Timeframe{Weeks: weeks, From: to.AddDate(0, 0, -7), To: to}
}

// Timeframes returns the timeframes for weeks 1..MaxWeeks.
func Timeframes(now time.Time) []model.Timeframe {
	out := make([]model.Timeframe, 0, MaxWeeks)
	for w := 1; w <= MaxWeeks; w++ {
		out = append(out, TimeframeFor(now, w))
	}
	return out
}

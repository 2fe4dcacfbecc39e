package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hackclub/hackatime-desktop/internal/auth"
)

// weeksShown is the number of weeks in the trend chart.
const weeksShown = 4

// DayHours is the coding time of one UTC day.
type DayHours struct {
	Date    string  `json:"date"`
	DayName string  `json:"day_name"`
	Hours   float64 `json:"hours"`
	Seconds int64   `json:"seconds"`
}

// LanguageShare is the time spent in one language.
type LanguageShare struct {
	Name    string `json:"name"`
	Seconds int64  `json:"seconds"`
}

// DashboardStats is the raw input of [Process].
type DashboardStats struct {
	// Daily holds the last seven days, oldest first, ending today.
	Daily []DayHours `json:"daily"`
	// WeekSeconds is the sum of Daily.
	WeekSeconds int64 `json:"week_seconds"`
	// PrevWeekSeconds covers the seven days before Daily.
	PrevWeekSeconds int64 `json:"prev_week_seconds"`
	// Weekly holds four consecutive seven-day totals, oldest first; the last
	// equals WeekSeconds.
	Weekly []int64 `json:"weekly"`
	// AllTimeSeconds covers the last 365 days.
	AllTimeSeconds int64 `json:"all_time_seconds"`
	CurrentStreak  int   `json:"current_streak"`
	LongestStreak  int   `json:"longest_streak"`
	// TopLanguage is this week's most used language, when known.
	TopLanguage *LanguageShare `json:"top_language,omitempty"`
}

// Dashboard gathers the numbers behind the statistics view. A failed day or
// week counts as zero so one bad range does not hide the rest. A failed
// streak lookup fails the call.
func (c *Cache) Dashboard(ctx context.Context) (DashboardStats, error) {
	if _, ok := c.tokens.AccessToken(); !ok {
		return DashboardStats{}, auth.ErrAuthenticationRequired
	}

	today := c.now().UTC().Truncate(24 * time.Hour)
	var d DashboardStats

	for i := 6; i >= 0; i-- {
		day := today.AddDate(0, 0, -i)
		date := day.Format(dateLayout)
		secs := c.seconds(ctx, date, date)
		d.Daily = append(d.Daily, DayHours{
			Date:    date,
			DayName: day.Weekday().String()[:3],
			Hours:   float64(secs) / 3600,
			Seconds: secs,
		})
		d.WeekSeconds += secs
	}

	d.Weekly = make([]int64, weeksShown)
	d.Weekly[weeksShown-1] = d.WeekSeconds
	for w := 1; w < weeksShown; w++ {
		end := today.AddDate(0, 0, -7*w)
		start := end.AddDate(0, 0, -6)
		d.Weekly[weeksShown-1-w] = c.seconds(ctx, start.Format(dateLayout), end.Format(dateLayout))
	}
	d.PrevWeekSeconds = d.Weekly[weeksShown-2]

	d.AllTimeSeconds = c.seconds(ctx, today.AddDate(0, 0, -365).Format(dateLayout), today.Format(dateLayout))

	streak, err := c.FetchStreak(ctx)
	if err != nil {
		return d, fmt.Errorf("dashboard: %w", err)
	}
	d.CurrentStreak, d.LongestStreak = streak.StreakDays, streak.LongestStreak
	return d, nil
}

// seconds returns the total for a range, or 0 when it cannot be fetched.
func (c *Cache) seconds(ctx context.Context, start, end string) int64 {
	h, err := c.FetchRange(ctx, start, end)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Warn("stats range unavailable", "start", start, "end", end, "error", err)
		}
		return 0
	}
	return h.TotalSeconds
}

package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"slices"
)

// Palette used by trends, charts and insights.
const (
	colorGreen  = "#4CAF50"
	colorRed    = "#F44336"
	colorOrange = "#FF9800"
	colorDeep   = "#FF5722"
	colorBlue   = "#2196F3"
	colorPurple = "#9C27B0"
	colorGold   = "#FFD700"
	colorBrand  = "#FB4B20"
)

// ///////////////////////////////////////////////
// Output Types
// ///////////////////////////////////////////////

// StatisticsData is the processed statistics view.
type StatisticsData struct {
	Trends          []Trend         `json:"trends"`
	Charts          []Chart         `json:"charts"`
	Insights        []Insight       `json:"insights"`
	ProgrammerClass ProgrammerClass `json:"programmer_class"`
}

// Trend compares a metric against the previous week.
type Trend struct {
	Title      string `json:"title"`
	Value      string `json:"value"`
	Change     string `json:"change"`
	ChangeType string `json:"change_type"`
	Period     string `json:"period"`
	Icon       string `json:"icon"`
	Color      string `json:"color"`
}

// Chart is a chart.js style chart definition.
type Chart struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	ChartType   string         `json:"chart_type"`
	Data        map[string]any `json:"data"`
	Period      string         `json:"period"`
	ColorScheme string         `json:"color_scheme"`
}

// Insight is a short qualitative observation.
type Insight struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Value       string `json:"value"`
	Trend       string `json:"trend"`
	Icon        string `json:"icon"`
	Color       string `json:"color"`
}

// ProgrammerClass is the playful archetype assigned to the user.
type ProgrammerClass struct {
	ClassName    string   `json:"class_name"`
	Description  string   `json:"description"`
	Technologies []string `json:"technologies"`
	Level        string   `json:"level"`
	Color        string   `json:"color"`
}

// ///////////////////////////////////////////////
// Programmer Class Definitions
// ///////////////////////////////////////////////

// ClassDef is one entry of programmer_classes.json.
type ClassDef struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Technologies []string        `json:"technologies"`
	Level        string          `json:"level"`
	Color        string          `json:"color"`
	Conditions   ClassConditions `json:"conditions"`
}

// ClassConditions are the scoring rules of a class. Nil fields are ignored.
type ClassConditions struct {
	PrimaryLanguages []string `json:"primary_languages"`
	LanguageCount    *int     `json:"language_count"`
	MinHours         *float64 `json:"min_hours"`
	MaxHours         *float64 `json:"max_hours"`
	MinStreak        *int     `json:"min_streak"`
}

// LoadClasses reads class definitions from path. A missing file yields no
// classes and no error.
func LoadClasses(path string) ([]ClassDef, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read programmer classes: %w", err)
	}
	var f struct {
		Classes []ClassDef `json:"classes"`
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse programmer classes: %w", err)
	}
	return f.Classes, nil
}

// defaultClass is assigned when no definition scores above zero.
var defaultClass = ProgrammerClass{
	ClassName:    "Code Explorer",
	Description:  "An enthusiastic learner discovering the vast world of programming.",
	Technologies: []string{"HTML", "CSS", "JavaScript"},
	Level:        "Learning",
	Color:        colorPurple,
}

// ///////////////////////////////////////////////
// Processing
// ///////////////////////////////////////////////

// Process derives trends, charts, insights and a programmer class from d.
func Process(d DashboardStats, classes []ClassDef) StatisticsData {
	week := float64(d.WeekSeconds)
	prev := float64(d.PrevWeekSeconds)
	all := float64(d.AllTimeSeconds)

	return StatisticsData{
		Trends:          trends(week, prev, d.CurrentStreak),
		Charts:          charts(d),
		Insights:        insights(week, all, d.CurrentStreak),
		ProgrammerClass: classify(classes, all/3600, d.CurrentStreak),
	}
}

// percentChange is the rounded change from prev to cur. With no previous
// data any activity counts as +100%.
func percentChange(cur, prev float64) int {
	switch {
	case prev > 0:
		return int(math.Round((cur - prev) / prev * 100))
	case cur > 0:
		return 100
	default:
		return 0
	}
}

func trend(title, value string, change int, unit, flat string) Trend {
	t := Trend{Title: title, Value: value, Period: "vs last week"}
	switch {
	case change > 0:
		t.Change, t.ChangeType, t.Color = fmt.Sprintf("+%d%s", change, unit), "increase", colorGreen
	case change < 0:
		t.Change, t.ChangeType, t.Color = fmt.Sprintf("%d%s", change, unit), "decrease", colorRed
	default:
		t.Change, t.ChangeType, t.Color = flat, "neutral", colorOrange
	}
	return t
}

func trends(week, prev float64, streak int) []Trend {
	weekly := trend("Weekly Coding Time", fmt.Sprintf("%.1fh", week/3600),
		percentChange(week, prev), "%", "No change")

	// The service reports no streak history, so last week's streak is
	// assumed to be one day shorter while a streak is running.
	lastStreak := max(streak-1, 0)
	streakTrend := trend("Coding Streak", fmt.Sprintf("%d days", streak),
		streak-lastStreak, " days", "Maintained")
	if streakTrend.ChangeType == "increase" {
		streakTrend.Color = colorDeep
	}

	daily, prevDaily := week/3600/7, prev/3600/7
	focus := trend("Daily Focus Time", fmt.Sprintf("%.1fh/day", daily),
		percentChange(daily, prevDaily), "%", "No change")

	return []Trend{weekly, streakTrend, focus}
}

func charts(d DashboardStats) []Chart {
	labels := make([]string, 0, 7)
	hours := make([]float64, 0, 7)
	for _, day := range d.Daily {
		labels = append(labels, day.DayName)
		hours = append(hours, day.Hours)
	}
	if len(hours) == 0 {
		labels = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}
		hours = make([]float64, 7)
	}

	out := []Chart{{
		ID:        "daily_hours",
		Title:     "Daily Coding Hours",
		ChartType: "bar",
		Data: map[string]any{
			"labels": labels,
			"datasets": []map[string]any{{
				"label":           "Hours",
				"data":            hours,
				"backgroundColor": colorBrand,
				"borderColor":     colorBrand,
				"borderWidth":     1,
			}},
		},
		Period:      "Last 7 days",
		ColorScheme: "orange",
	}}

	if lang := d.TopLanguage; lang != nil && d.WeekSeconds > 0 {
		pct := int(math.Round(float64(lang.Seconds) / float64(d.WeekSeconds) * 100))
		pct = min(max(pct, 0), 100)
		out = append(out, Chart{
			ID:        "language_distribution",
			Title:     "Top Language",
			ChartType: "doughnut",
			Data: map[string]any{
				"labels": []string{lang.Name, "Others"},
				"datasets": []map[string]any{{
					"data":            []int{pct, 100 - pct},
					"backgroundColor": []string{colorBrand, "#E0E0E0"},
					"borderWidth":     0,
				}},
			},
			Period:      "This week",
			ColorScheme: "orange",
		})
	}

	weekLabels := make([]string, len(d.Weekly))
	weekHours := make([]float64, len(d.Weekly))
	for i, secs := range d.Weekly {
		weekLabels[i] = fmt.Sprintf("Week %d", len(d.Weekly)-i)
		weekHours[i] = float64(secs) / 3600
	}
	out = append(out, Chart{
		ID:        "weekly_trend",
		Title:     "Weekly Trend",
		ChartType: "line",
		Data: map[string]any{
			"labels": weekLabels,
			"datasets": []map[string]any{{
				"label":           "Hours",
				"data":            weekHours,
				"borderColor":     colorBrand,
				"backgroundColor": "rgba(251, 75, 32, 0.1)",
				"fill":            true,
				"tension":         0.4,
			}},
		},
		Period:      fmt.Sprintf("Last %d weeks", len(d.Weekly)),
		ColorScheme: "orange",
	})
	return out
}

func insights(week, all float64, streak int) []Insight {
	daily := week / 3600 / 7
	perDay := fmt.Sprintf("%.1fh/day", daily)

	var consistency Insight
	switch {
	case daily >= 2:
		consistency = Insight{"Consistent Coder", "You've been coding consistently every day this week!", perDay, "Great consistency", "", colorGreen}
	case daily >= 1:
		consistency = Insight{"Steady Progress", "You're maintaining a good coding rhythm.", perDay, "Keep it up", "", colorOrange}
	default:
		consistency = Insight{"Room for Growth", "Try to code a bit more each day to build momentum.", perDay, "Build momentum", "", colorBlue}
	}

	days := fmt.Sprintf("%d days", streak)
	var streakInsight Insight
	switch {
	case streak >= 30:
		streakInsight = Insight{"Streak Master", "Incredible! You've been coding for over a month straight!", days, "Amazing dedication", "", colorGold}
	case streak >= 7:
		streakInsight = Insight{"Week Warrior", "You've been coding for a full week! Great job!", days, "Excellent progress", "", colorDeep}
	case streak > 0:
		streakInsight = Insight{"Getting Started", "You're building a coding habit! Keep it going!", days, "Building momentum", "", colorGreen}
	default:
		streakInsight = Insight{"Fresh Start", "Ready to start your coding journey? Let's begin!", "0 days", "Start today", "", colorPurple}
	}

	total := all / 3600
	totalText := fmt.Sprintf("%.0fh total", total)
	var totalInsight Insight
	switch {
	case total >= 1000:
		totalInsight = Insight{"Coding Veteran", "You've logged over 1000 hours of coding! Incredible dedication!", totalText, "Expert level", "", colorGold}
	case total >= 100:
		totalInsight = Insight{"Experienced Coder", "You've put in serious time coding! Keep up the great work!", totalText, "Strong foundation", "", colorGreen}
	case total >= 10:
		totalInsight = Insight{"Learning Journey", "You're building your coding skills! Every hour counts.", totalText, "Growing skills", "", colorBlue}
	default:
		totalInsight = Insight{"Just Getting Started", "Every expert was once a beginner. Keep coding!", totalText, "Beginning journey", "", colorPurple}
	}

	return []Insight{consistency, streakInsight, totalInsight}
}

// inferLanguages guesses a language set from experience, since the
// dashboard endpoints report no per-language totals.
func inferLanguages(hours float64, streak int) []string {
	switch {
	case hours >= 100:
		langs := []string{"JavaScript", "Python", "Java"}
		if streak >= 7 {
			langs = append(langs, "Rust", "Go")
		}
		return langs
	case hours >= 20:
		langs := []string{"JavaScript", "Python"}
		if streak >= 5 {
			langs = append(langs, "TypeScript")
		}
		return langs
	default:
		return []string{"HTML", "CSS", "JavaScript"}
	}
}

// score rates how well a class fits.
func score(c ClassConditions, langs []string, hours float64, streak int) float64 {
	var s float64
	for _, l := range c.PrimaryLanguages {
		if slices.Contains(langs, l) {
			s += 2
		}
	}
	if c.LanguageCount != nil && len(langs) >= *c.LanguageCount {
		s += 3
	}
	if c.MinHours != nil {
		if hours >= *c.MinHours {
			s++
		} else {
			s -= 0.5
		}
	}
	if c.MaxHours != nil {
		if hours <= *c.MaxHours {
			s++
		} else {
			s -= 0.5
		}
	}
	if c.MinStreak != nil && streak >= *c.MinStreak {
		s += 0.5
	}
	return s
}

// classify picks the best scoring class; ties keep the earlier entry.
func classify(classes []ClassDef, hours float64, streak int) ProgrammerClass {
	langs := inferLanguages(hours, streak)

	var best *ClassDef
	var bestScore float64
	for i := range classes {
		if sc := score(classes[i].Conditions, langs, hours, streak); sc > bestScore {
			best, bestScore = &classes[i], sc
		}
	}
	if best == nil {
		return defaultClass
	}

	pc := ProgrammerClass{
		ClassName:    best.Name,
		Description:  best.Description,
		Technologies: best.Technologies,
		Level:        best.Level,
		Color:        best.Color,
	}
	if pc.ClassName == "" {
		pc.ClassName = "Unknown"
	}
	if pc.Level == "" {
		pc.Level = "Unknown"
	}
	if pc.Color == "" {
		pc.Color = colorPurple
	}
	if pc.Technologies == nil {
		pc.Technologies = []string{}
	}
	return pc
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Heartbeat is one editor activity sample as reported by the service.
type Heartbeat struct {
	ID              int64   `json:"id"`
	Project         string  `json:"project"`
	Editor          string  `json:"editor"`
	Language        string  `json:"language"`
	Entity          string  `json:"entity"`
	Time            float64 `json:"time"`
	Timestamp       int64   `json:"timestamp"`
	Category        string  `json:"category,omitempty"`
	OperatingSystem string  `json:"operating_system,omitempty"`
	Machine         string  `json:"machine,omitempty"`
}

// Hours is the coding total of a date range.
type Hours struct {
	TotalSeconds int64  `json:"total_seconds"`
	StartDate    string `json:"start_date,omitempty"`
	EndDate      string `json:"end_date,omitempty"`
}

// UnmarshalJSON reads total_seconds leniently: a fractional or quoted
// number is truncated, and anything else, including a negative value,
// counts as zero instead of failing the range.
func (h *Hours) UnmarshalJSON(data []byte) error {
	type plain Hours
	var raw struct {
		plain
		TotalSeconds any `json:"total_seconds"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*h = Hours(raw.plain)
	h.TotalSeconds = wholeSeconds(raw.TotalSeconds)
	return nil
}

func wholeSeconds(v any) int64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || f <= 0 || f >= math.MaxInt64 {
		return 0
	}
	return int64(f)
}

// Streak is the current and longest run of consecutive coding days.
type Streak struct {
	StreakDays    int `json:"streak_days"`
	LongestStreak int `json:"longest_streak"`
}

// ///////////////////////////////////////////////
// Endpoints
// ///////////////////////////////////////////////

// Me returns the profile of the token's owner.
func (c *Client) Me(ctx context.Context, token string) (map[string]any, error) {
	var profile map[string]any
	if err := c.getJSON(ctx, "me", token, "/api/v1/authenticated/me", nil, &profile); err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("me: empty profile: %w", ErrResponseParse)
	}
	return profile, nil
}

// LatestHeartbeat returns the most recent heartbeat, or nil when the user has
// none. A zero timestamp is filled from the fractional time field.
func (c *Client) LatestHeartbeat(ctx context.Context, token string) (*Heartbeat, error) {
	body, err := c.get(ctx, "latest heartbeat", token, "/api/v1/authenticated/heartbeats/latest", nil)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var hb Heartbeat
	if err := json.Unmarshal(trimmed, &hb); err != nil {
		return nil, fmt.Errorf("latest heartbeat: %w: %w", ErrResponseParse, err)
	}
	if hb.Timestamp == 0 {
		hb.Timestamp = int64(hb.Time)
	}
	return &hb, nil
}

// Hours returns the coding total between start and end, both YYYY-MM-DD and
// inclusive.
func (c *Client) Hours(ctx context.Context, token, start, end string) (Hours, error) {
	q := url.Values{}
	q.Set("start_date", start)
	q.Set("end_date", end)

	var h Hours
	if err := c.getJSON(ctx, "hours", token, "/api/v1/authenticated/hours", q, &h); err != nil {
		return Hours{}, err
	}
	if h.StartDate == "" {
		h.StartDate = start
	}
	if h.EndDate == "" {
		h.EndDate = end
	}
	return h, nil
}

// Streak returns the user's coding streak.
func (c *Client) Streak(ctx context.Context, token string) (Streak, error) {
	var s Streak
	if err := c.getJSON(ctx, "streak", token, "/api/v1/authenticated/streak", nil, &s); err != nil {
		return Streak{}, err
	}
	return s, nil
}

// Projects returns the user's project list as the service sent it.
func (c *Client) Projects(ctx context.Context, token string) (json.RawMessage, error) {
	return c.rawJSON(ctx, "projects", token, "/api/v1/authenticated/projects")
}

// ProjectDetails returns one project as the service sent it.
func (c *Client) ProjectDetails(ctx context.Context, token, name string) (json.RawMessage, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("project details: name is required")
	}
	return c.rawJSON(ctx, "project details", token, "/api/v1/authenticated/projects/"+url.PathEscape(name))
}

// APIKey returns the user's editor-plugin API key.
func (c *Client) APIKey(ctx context.Context, token string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.getJSON(ctx, "api key", token, "/api/v1/authenticated/api_keys", nil, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("api key: missing token field: %w", ErrResponseParse)
	}
	return resp.Token, nil
}

// rawJSON returns a 2xx body after checking that it is valid JSON.
func (c *Client) rawJSON(ctx context.Context, op, token, path string) (json.RawMessage, error) {
	body, err := c.get(ctx, op, token, path, nil)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%s: %w", op, ErrResponseParse)
	}
	return json.RawMessage(body), nil
}

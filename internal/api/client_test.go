// Tests for the API client covering request shape (bearer token, query
// encoding), response decoding, the null-heartbeat and timestamp fallback
// cases, the error taxonomy (429, 401, 5xx, transport, malformed JSON), and
// the retry policy that never retries a rate limit.

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(Options{
		BaseURL:      srv.URL + "/",
		Timeout:      2 * time.Second,
		RetryMax:     2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	})
	return c, srv
}

// ///////////////////////////////////////////////
// Request Shape
// ///////////////////////////////////////////////

func TestRequestCarriesBearerToken(t *testing.T) {
	var gotAuth, gotPath, gotUA string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte(`{"streak_days":3,"longest_streak":9}`))
	})

	s, err := c.Streak(context.Background(), "tok-123")
	if err != nil {
		t.Fatalf("Streak: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/api/v1/authenticated/streak" {
		t.Errorf("path = %q", gotPath)
	}
	if gotUA != "kubetime" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if s.StreakDays != 3 || s.LongestStreak != 9 {
		t.Errorf("Streak = %+v", s)
	}
}

func TestHoursQuery(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("start_date") != "2024-01-01" || r.URL.Query().Get("end_date") != "2024-01-07" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		w.Write([]byte(`{"total_seconds":7200}`))
	})

	h, err := c.Hours(context.Background(), "tok", "2024-01-01", "2024-01-07")
	if err != nil {
		t.Fatalf("Hours: %v", err)
	}
	if h.TotalSeconds != 7200 || h.StartDate != "2024-01-01" || h.EndDate != "2024-01-07" {
		t.Errorf("Hours = %+v", h)
	}
}

func TestHoursLenientTotal(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int64
	}{
		{"integer", `{"total_seconds":7200}`, 7200},
		{"fractional", `{"total_seconds":7200.9}`, 7200},
		{"quoted", `{"total_seconds":"90"}`, 90},
		{"null", `{"total_seconds":null}`, 0},
		{"missing", `{}`, 0},
		{"negative", `{"total_seconds":-5}`, 0},
		{"garbage string", `{"total_seconds":"lots"}`, 0},
		{"object", `{"total_seconds":{"h":2}}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			h, err := c.Hours(context.Background(), "tok", "2024-01-01", "2024-01-01")
			if err != nil {
				t.Fatalf("Hours: %v", err)
			}
			if h.TotalSeconds != tt.want || h.StartDate != "2024-01-01" {
				t.Fatalf("Hours = %+v, want total %d", h, tt.want)
			}
		})
	}
}

func TestProjectDetailsEscapesName(t *testing.T) {
	var gotPath string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Write([]byte(`{"name":"my project"}`))
	})

	raw, err := c.ProjectDetails(context.Background(), "tok", "my project")
	if err != nil {
		t.Fatalf("ProjectDetails: %v", err)
	}
	if gotPath != "/api/v1/authenticated/projects/my%20project" {
		t.Errorf("path = %q", gotPath)
	}
	if !strings.Contains(string(raw), "my project") {
		t.Errorf("body = %s", raw)
	}

	if _, err := c.ProjectDetails(context.Background(), "tok", " "); err == nil {
		t.Error("expected error for empty project name")
	}
}

// ///////////////////////////////////////////////
// Latest Heartbeat
// ///////////////////////////////////////////////

func TestLatestHeartbeat(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantNil bool
		wantTS  int64
		wantErr error
	}{
		{
			name:   "full heartbeat",
			body:   `{"id":7,"project":"kubetime","editor":"vscode","language":"Go","entity":"/src/main.go","time":1700000000.5,"timestamp":1700000001}`,
			wantTS: 1700000001,
		},
		{
			name:   "timestamp falls back to time",
			body:   `{"id":7,"project":"kubetime","time":1700000000.9}`,
			wantTS: 1700000000,
		},
		{name: "null body", body: "null", wantNil: true},
		{name: "padded null", body: "  null\n", wantNil: true},
		{name: "empty body", body: "", wantNil: true},
		{name: "garbage", body: "{not json", wantErr: ErrResponseParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			hb, err := c.LatestHeartbeat(context.Background(), "tok")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("LatestHeartbeat: %v", err)
			}
			if tt.wantNil {
				if hb != nil {
					t.Fatalf("expected nil heartbeat, got %+v", hb)
				}
				return
			}
			if hb == nil || hb.Timestamp != tt.wantTS || hb.ID != 7 {
				t.Fatalf("heartbeat = %+v, want timestamp %d", hb, tt.wantTS)
			}
		})
	}
}

// ///////////////////////////////////////////////
// Errors and Retries
// ///////////////////////////////////////////////

func TestRateLimitIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	})

	_, err := c.LatestHeartbeat(context.Background(), "tok")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if errors.Is(err, ErrRemoteUnavailable) {
		t.Fatal("rate limit must be distinguishable from remote unavailable")
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("server called %d times, want 1", n)
	}
}

func TestServerErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"streak_days":1,"longest_streak":1}`))
	})

	if _, err := c.Streak(context.Background(), "tok"); err != nil {
		t.Fatalf("Streak: %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("server called %d times, want 3", n)
	}
}

func TestServerErrorExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})

	_, err := c.Streak(context.Background(), "tok")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.StatusCode != 500 || se.Body != "boom" || se.Op != "streak" {
		t.Errorf("StatusError = %+v", se)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("server called %d times, want 3 (1 + 2 retries)", n)
	}
}

func TestUnauthorized(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Me(context.Background(), "bad")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != 401 {
		t.Fatalf("expected wrapped 401 StatusError, got %v", err)
	}
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(Options{BaseURL: url, RetryMax: 0, Timeout: time.Second})
	_, err := c.Streak(context.Background(), "tok")
	if !errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("err = %v, want ErrRemoteUnavailable", err)
	}
}

func TestCanceledContext(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Streak(ctx, "tok")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestMalformedJSON(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"streak_days":"many"}`))
	})
	if _, err := c.Streak(context.Background(), "tok"); !errors.Is(err, ErrResponseParse) {
		t.Fatalf("err = %v, want ErrResponseParse", err)
	}
}

func TestProjectsRejectsInvalidJSON(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	})
	if _, err := c.Projects(context.Background(), "tok"); !errors.Is(err, ErrResponseParse) {
		t.Fatalf("err = %v, want ErrResponseParse", err)
	}
}

func TestAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"present", `{"token":"waka_abc"}`, "waka_abc", false},
		{"missing", `{}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/v1/authenticated/api_keys" {
					t.Errorf("path = %q", r.URL.Path)
				}
				w.Write([]byte(tt.body))
			})
			got, err := c.APIKey(context.Background(), "tok")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("APIKey = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMeEmptyProfile(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("null"))
	})
	if _, err := c.Me(context.Background(), "tok"); !errors.Is(err, ErrResponseParse) {
		t.Fatalf("err = %v, want ErrResponseParse", err)
	}
}

func TestStatusErrorSnippetTruncated(t *testing.T) {
	se := newStatusError("op", 500, []byte(strings.Repeat("x", 500)))
	if len(se.Body) != 203 || !strings.HasSuffix(se.Body, "...") {
		t.Fatalf("snippet length = %d", len(se.Body))
	}
}

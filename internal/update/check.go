// Package update checks whether a newer kubetime release is published.
package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrNoVersion is returned when the manifest carries no version.
var ErrNoVersion = errors.New("manifest has no version")

// Manifest is the release manifest published next to every release.
type Manifest struct {
	Version string `json:"version"`
	Notes   string `json:"notes"`
	PubDate string `json:"pub_date"`
}

// Result is the outcome of one release check.
type Result struct {
	Current   string
	Latest    string
	Notes     string
	Available bool
}

// ///////////////////////////////////////////////
// Public API
// ///////////////////////////////////////////////

// Check fetches the manifest at manifestURL and compares its version with
// current. Versions that are not semver never count as newer, so dev builds
// stay quiet.
func Check(ctx context.Context, client *http.Client, manifestURL, current string) (Result, error) {
	m, err := fetch(ctx, client, manifestURL)
	if err != nil {
		return Result{Current: current}, err
	}
	latest := strings.TrimPrefix(m.Version, "v")
	return Result{
		Current:   current,
		Latest:    latest,
		Notes:     m.Notes,
		Available: semverLess(current, latest),
	}, nil
}

// ///////////////////////////////////////////////
// Internal helpers
// ///////////////////////////////////////////////

func fetch(ctx context.Context, client *http.Client, url string) (Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Manifest{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return Manifest{}, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Manifest{}, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Manifest{}, fmt.Errorf("reading response: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return Manifest{}, fmt.Errorf("parsing manifest: %w", err)
	}
	if m.Version == "" {
		return Manifest{}, ErrNoVersion
	}
	return m, nil
}

// semverLess reports whether a < b. Non-semver strings are not compared. A
// pre-release sorts before the same version without one.
func semverLess(a, b string) bool {
	pa := parseSemver(a)
	pb := parseSemver(b)
	if pa == nil || pb == nil {
		return false
	}
	for i := range 3 {
		if pa[i] != pb[i] {
			return pa[i] < pb[i]
		}
	}
	return hasPreRelease(a) && !hasPreRelease(b)
}

func hasPreRelease(s string) bool {
	return strings.Contains(strings.TrimPrefix(s, "v"), "-")
}

// parseSemver splits "v1.2.3" or "0.1.0-dev+abc" into [major, minor, patch],
// or returns nil.
func parseSemver(s string) []int {
	s = strings.TrimPrefix(s, "v")
	if i := strings.IndexAny(s, "-+"); i >= 0 {
		s = s[:i]
	}
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return nil
	}
	result := make([]int, 3)
	for i, p := range parts {
		if p == "" {
			return nil
		}
		n := 0
		for _, c := range p {
			if c < '0' || c > '9' {
				return nil
			}
			n = n*10 + int(c-'0')
		}
		result[i] = n
	}
	return result
}

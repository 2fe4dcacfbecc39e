// Package session infers coding sessions from the latest heartbeat.
//
// Every poll fetches the user's most recent heartbeat and feeds it through
// [decide], a pure function of the current [State], the heartbeat, the clock
// and the recency threshold. The resulting [Transition] is committed under
// the engine lock and then forwarded to the presence sink.
package session

import (
	"time"

	"github.com/hackclub/hackatime-desktop/internal/api"
)

// ///////////////////////////////////////////////
// State
// ///////////////////////////////////////////////

// State is the current session. When IsActive is false every optional
// field is nil and HeartbeatCount is zero.
type State struct {
	IsActive        bool       `json:"is_active"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	LastHeartbeatID *int64     `json:"last_heartbeat_id,omitempty"`
	HeartbeatCount  uint32     `json:"heartbeat_count"`
	Project         *string    `json:"project,omitempty"`
	Editor          *string    `json:"editor,omitempty"`
	Language        *string    `json:"language,omitempty"`
	Entity          *string    `json:"entity,omitempty"`
}

// Duration returns how long the session has run at now, or 0 when idle.
func (s State) Duration(now time.Time) time.Duration {
	if !s.IsActive || s.StartTime == nil {
		return 0
	}
	return max(now.Sub(*s.StartTime), 0)
}

// clone returns a copy that shares no pointers with s.
func (s State) clone() State {
	out := s
	out.StartTime = clonePtr(s.StartTime)
	out.LastHeartbeatID = clonePtr(s.LastHeartbeatID)
	out.Project = clonePtr(s.Project)
	out.Editor = clonePtr(s.Editor)
	out.Language = clonePtr(s.Language)
	out.Entity = clonePtr(s.Entity)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// optional returns nil for the empty string.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// deref returns the pointed-to string or "".
func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// ///////////////////////////////////////////////
// Transitions
// ///////////////////////////////////////////////

// Kind classifies the outcome of one poll.
type Kind int

const (
	// None leaves the state unchanged.
	None Kind = iota
	// Started begins a session from a fresh heartbeat.
	Started
	// Continued records a new heartbeat on the active session.
	Continued
	// Ended closes the active session.
	Ended
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Started:
		return "started"
	case Continued:
		return "continued"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Transition is the outcome of one poll and the state after it.
type Transition struct {
	Kind  Kind  `json:"kind"`
	State State `json:"state"`
}

// decide computes the transition for hb observed at now. A nil hb means the
// service reported no heartbeat at all. The input state is never modified.
//
//	heartbeat                     active    result
//	absent                        yes       Ended
//	absent                        no        None
//	age >= threshold              yes       Ended
//	age >= threshold              no        None
//	fresh, same id as last        yes       None
//	fresh, new id                 yes       Continued
//	fresh                         no        Started
func decide(cur State, hb *api.Heartbeat, now time.Time, threshold time.Duration) Transition {
	if hb == nil {
		if cur.IsActive {
			return Transition{Kind: Ended, State: State{}}
		}
		return Transition{Kind: None, State: cur}
	}

	at := time.Unix(hb.Timestamp, 0)
	if now.Sub(at) >= threshold {
		if cur.IsActive {
			return Transition{Kind: Ended, State: State{}}
		}
		return Transition{Kind: None, State: cur}
	}

	if !cur.IsActive {
		id := hb.ID
		return Transition{Kind: Started, State: State{
			IsActive:        true,
			StartTime:       &at,
			LastHeartbeatID: &id,
			HeartbeatCount:  1,
			Project:         optional(hb.Project),
			Editor:          optional(hb.Editor),
			Language:        optional(hb.Language),
			Entity:          optional(hb.Entity),
		}}
	}

	if cur.LastHeartbeatID != nil && *cur.LastHeartbeatID == hb.ID {
		return Transition{Kind: None, State: cur}
	}

	next := cur.clone()
	id := hb.ID
	next.LastHeartbeatID = &id
	next.HeartbeatCount++
	next.Project = optional(hb.Project)
	next.Editor = optional(hb.Editor)
	next.Language = optional(hb.Language)
	next.Entity = optional(hb.Entity)
	return Transition{Kind: Continued, State: next}
}

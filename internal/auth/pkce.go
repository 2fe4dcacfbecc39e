package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"
)

// stateAlphabet is the character set of the OAuth state parameter.
const stateAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// stateLength is the number of characters in a generated state.
const stateLength = 32

// pkceFlow is one in-flight authorization.
type pkceFlow struct {
	verifier  string
	state     string
	createdAt time.Time
	// claimed is set while a completion is exchanging this flow's code.
	claimed bool
}

// pkceSlot holds at most one in-flight authorization. Starting a new one
// replaces the previous flow.
type pkceSlot struct {
	mu  sync.Mutex
	cur *pkceFlow
	ttl time.Duration
	now func() time.Time
}

func newPKCESlot(ttl time.Duration, now func() time.Time) *pkceSlot {
	if now == nil {
		now = time.Now
	}
	return &pkceSlot{ttl: ttl, now: now}
}

// put installs a new flow, discarding any previous one.
func (p *pkceSlot) put(verifier, state string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cur = &pkceFlow{verifier: verifier, state: state, createdAt: p.now()}
}

// claim validates state against the in-flight flow and marks it claimed so
// that a concurrent duplicate callback observes ErrNoPendingFlow. Expiry is
// checked first and discards the flow. A state mismatch leaves the flow
// untouched.
func (p *pkceSlot) claim(state string) (*pkceFlow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f := p.cur
	if f == nil || f.claimed {
		return nil, ErrNoPendingFlow
	}
	if age := p.now().Sub(f.createdAt); age > p.ttl {
		p.cur = nil
		return nil, fmt.Errorf("%w (started %s ago)", ErrPKCEExpired, age.Round(time.Second))
	}
	if subtle.ConstantTimeCompare([]byte(state), []byte(f.state)) != 1 {
		return nil, ErrStateMismatch
	}
	f.claimed = true
	return f, nil
}

// release returns a claimed flow to the slot after a transient failure so
// the same callback can be retried.
func (p *pkceSlot) release(f *pkceFlow) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == f {
		f.claimed = false
	}
}

// discard drops f if it is still the in-flight flow.
func (p *pkceSlot) discard(f *pkceFlow) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == f {
		p.cur = nil
	}
}

// clear drops whatever flow is in flight.
func (p *pkceSlot) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cur = nil
}

// pending reports whether a flow is in flight and not yet expired.
func (p *pkceSlot) pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur != nil && p.now().Sub(p.cur.createdAt) <= p.ttl
}

// generateState returns stateLength random alphanumeric characters.
func generateState() (string, error) {
	out := make([]byte, 0, stateLength)
	buf := make([]byte, stateLength*2)
	for len(out) < stateLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate state: %w", err)
		}
		for _, b := range buf {
			// Rejection sampling keeps the distribution uniform over 62 symbols.
			if int(b) >= 256-256%len(stateAlphabet) {
				continue
			}
			out = append(out, stateAlphabet[int(b)%len(stateAlphabet)])
			if len(out) == stateLength {
				break
			}
		}
	}
	return string(out), nil
}

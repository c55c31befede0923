package oauth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/desertthunder/playsync/internal/shared"
)

// DefaultStateTTL bounds how long a user has to complete the provider consent screen.
const DefaultStateTTL = 10 * time.Minute

// AuthorizationState is the server-side half of one pending handshake.
type AuthorizationState struct {
	State        string    `json:"state"`
	CodeVerifier string    `json:"code_verifier"`
	UserID       string    `json:"user_id"`
	ReturnURL    string    `json:"return_url,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the handshake can no longer be completed.
func (s *AuthorizationState) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// StateStore holds pending handshakes. Consume must be atomic: of any number
// of concurrent consumers of one state, at most one receives it.
type StateStore interface {
	Save(ctx context.Context, st AuthorizationState) error
	// Consume removes and returns the state. Unknown or expired states
	// return [shared.ErrInvalidState].
	Consume(ctx context.Context, state string) (*AuthorizationState, error)
	// Purge drops expired entries and reports how many were removed.
	Purge(ctx context.Context) (int, error)
	// Pending reports whether userID has an unexpired handshake.
	Pending(ctx context.Context, userID string) (bool, error)
}

// MemoryStateStore keeps handshakes in process memory. It is only correct
// when a single instance serves both connect and callback requests.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]AuthorizationState
	now    func() time.Time
}

// NewMemoryStateStore creates an empty [MemoryStateStore].
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]AuthorizationState), now: time.Now}
}

func (m *MemoryStateStore) Save(_ context.Context, st AuthorizationState) error {
	if st.State == "" || st.CodeVerifier == "" || st.UserID == "" {
		return fmt.Errorf("%w: incomplete authorization state", shared.ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.State] = st
	return nil
}

func (m *MemoryStateStore) Consume(_ context.Context, state string) (*AuthorizationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[state]
	if !ok {
		return nil, shared.ErrInvalidState
	}
	delete(m.states, state)

	if st.Expired(m.now()) {
		return nil, fmt.Errorf("%w: expired", shared.ErrInvalidState)
	}
	return &st, nil
}

func (m *MemoryStateStore) Purge(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for k, st := range m.states {
		if st.Expired(now) {
			delete(m.states, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStateStore) Pending(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, st := range m.states {
		if st.UserID == userID && !st.Expired(now) {
			return true, nil
		}
	}
	return false, nil
}

// Len returns the number of stored entries, expired or not.
func (m *MemoryStateStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

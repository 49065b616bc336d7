package session

import (
	"sync"
	"time"

	"github.com/harun/pagerelay/internal/observability"
	"github.com/rs/zerolog/log"
)

const DefaultTimeout = 30 * time.Minute

// Role identifies the author of a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is a single entry in a conversation.
type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Session holds the conversation of one end user.
type Session struct {
	UserID string

	mu         sync.Mutex
	history    []Turn
	lastActive time.Time
	createdAt  time.Time
}

// History returns a copy of the turns recorded so far.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Len returns the number of recorded turns.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActive)
}

// Option configures a Store.
type Option func(*Store)

// WithTimeout sets the idle duration after which a session expires.
func WithTimeout(d time.Duration) Option {
	return func(st *Store) {
		if d > 0 {
			st.timeout = d
		}
	}
}

// WithClock overrides the time source used when callers pass a zero time.
func WithClock(now func() time.Time) Option {
	return func(st *Store) {
		if now != nil {
			st.now = now
		}
	}
}

// WithMaxTurns caps the history length; zero keeps every turn.
func WithMaxTurns(n int) Option {
	return func(st *Store) {
		if n > 0 {
			st.maxTurns = n
		}
	}
}

// Store maps user ids to sessions.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	timeout  time.Duration
	maxTurns int
	now      func() time.Time
}

// NewStore creates an empty in-memory store.
func NewStore(opts ...Option) *Store {
	observability.EnsureRegistered()

	st := &Store{
		sessions: make(map[string]*Session),
		timeout:  DefaultTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

func (st *Store) Timeout() time.Duration {
	return st.timeout
}

// Now returns the current time from the store clock.
func (st *Store) Now() time.Time {
	return st.now()
}

// Resolve returns the live session for userID, creating one when none exists
// or the existing one has been idle longer than the timeout. The returned
// session is touched at now.
func (st *Store) Resolve(userID string, now time.Time) *Session {
	if now.IsZero() {
		now = st.now()
	}

	st.mu.Lock()
	existing, ok := st.sessions[userID]
	if ok && existing != nil && existing.idleSince(now) <= st.timeout {
		existing.touch(now)
		st.mu.Unlock()
		return existing
	}

	s := &Session{
		UserID:     userID,
		lastActive: now,
		createdAt:  now,
	}
	st.sessions[userID] = s
	count := len(st.sessions)
	st.mu.Unlock()

	expired := ok && existing != nil
	observability.RecordSessionCreated(expired)
	observability.SetActiveSessions(count)

	if expired {
		log.Debug().Str("user_id", userID).Msg("Session expired, starting a new one")
	}
	return s
}

// Append records a turn at the end of the session history.
func (st *Store) Append(s *Session, role Role, text string) {
	if s == nil {
		return
	}
	at := st.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, Turn{Role: role, Text: text, At: at})
	if st.maxTurns > 0 && len(s.history) > st.maxTurns {
		drop := len(s.history) - st.maxTurns
		s.history = append([]Turn(nil), s.history[drop:]...)
	}
}

// Get returns the stored session without touching or expiring it.
func (st *Store) Get(userID string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[userID]
	return s, ok && s != nil
}

func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Sweep removes every session idle longer than the timeout as of now and
// returns the removed user ids.
func (st *Store) Sweep(now time.Time) []string {
	if now.IsZero() {
		now = st.now()
	}

	st.mu.Lock()
	var removed []string
	for userID, s := range st.sessions {
		if s == nil {
			delete(st.sessions, userID)
			continue
		}
		if s.idleSince(now) > st.timeout {
			delete(st.sessions, userID)
			removed = append(removed, userID)
		}
	}
	count := len(st.sessions)
	st.mu.Unlock()

	observability.SetActiveSessions(count)
	return removed
}

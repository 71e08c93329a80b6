// Package session implements authenticated sessions (spec §4.8):
// Login/LoginWithToken/Ping/Logout, activity tracking, and a
// background sweeper that closes sessions idle past session_timeout.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/caid-tools/depi/internal/pubsub"
)

// Session is one authenticated client connection's server-side state
// (spec §3's Session entity).
type Session struct {
	ID             string
	User           string
	Project        string
	ToolID         string
	CurrentBranch  string
	WatchedGroups  map[GroupKey]bool
	WatchingDepi   bool
	WatchingBoard  bool
	WatchingRes    bool
	LastRequest    time.Time

	Queues *pubsub.SessionQueues

	mu sync.Mutex
}

// GroupKey identifies a watched (toolId, URL) resource group.
type GroupKey struct {
	ToolID string
	URL    string
}

func (s *Session) touch() {
	s.mu.Lock()
	s.LastRequest = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastRequest
}

func (s *Session) SetWatchingDepi(v bool) {
	s.mu.Lock()
	s.WatchingDepi = v
	s.mu.Unlock()
}

func (s *Session) SetWatchingBoard(v bool) {
	s.mu.Lock()
	s.WatchingBoard = v
	s.mu.Unlock()
}

func (s *Session) SetWatchingRes(v bool) {
	s.mu.Lock()
	s.WatchingRes = v
	s.mu.Unlock()
}

func (s *Session) WatchGroup(key GroupKey, watch bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if watch {
		s.WatchedGroups[key] = true
	} else {
		delete(s.WatchedGroups, key)
	}
}

// CredentialVerifier checks a (user, password) pair against the
// configured user list (spec §6's `users` config section).
type CredentialVerifier func(user, password string) bool

// Manager owns the table of live sessions and the sweeper goroutine.
// Per spec §5, the table is guarded by a dedicated mutex; Session
// objects themselves are not shared beyond their event queues.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	verify  CredentialVerifier
	timeout time.Duration

	stop chan struct{}
}

// NewManager constructs a session manager. timeout is session_timeout
// from configuration (spec §6); a zero value defaults to 3600s.
func NewManager(verify CredentialVerifier, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 3600 * time.Second
	}
	return &Manager{
		sessions: map[string]*Session{},
		verify:   verify,
		timeout:  timeout,
		stop:     make(chan struct{}),
	}
}

func newSessionID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// Login validates credentials and creates a new session on the given
// tool's default branch ("main"), per spec §4.8.
func (m *Manager) Login(ctx context.Context, user, password, project, toolID string) (*Session, error) {
	if m.verify != nil && !m.verify(user, password) {
		return nil, ErrInvalidCredentials
	}
	return m.newSession(user, project, toolID), nil
}

// LoginWithToken accepts a JWT (spec §4.8's token login path) instead
// of a password, extracting the subject as the user. The token's
// signature is not verified: any well-formed JWT with a non-empty
// subject opens a session.
func (m *Manager) LoginWithToken(ctx context.Context, token, project, toolID string) (*Session, error) {
	parsed, err := jwt.Parse([]byte(token), jwt.WithVerify(false))
	if err != nil {
		return nil, ErrInvalidToken
	}
	user := parsed.Subject()
	if user == "" {
		return nil, ErrInvalidToken
	}
	return m.newSession(user, project, toolID), nil
}

func (m *Manager) newSession(user, project, toolID string) *Session {
	s := &Session{
		ID:            newSessionID(),
		User:          user,
		Project:       project,
		ToolID:        toolID,
		CurrentBranch: "main",
		WatchedGroups: map[GroupKey]bool{},
		LastRequest:   time.Now(),
		Queues:        pubsub.NewSessionQueues(),
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get resolves a sessionId, refreshing nothing (use Ping for that).
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Ping refreshes lastRequest for an active session (spec §4.8).
func (m *Manager) Ping(sessionID string) (*Session, error) {
	s, ok := m.Get(sessionID)
	if !ok {
		return nil, ErrUnknownSession
	}
	s.touch()
	return s, nil
}

// Logout closes a session immediately, draining its event queues.
func (m *Manager) Logout(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if ok {
		s.Queues.CloseAll()
	}
}

// All returns every currently active session; used by the dispatcher
// to fan mutation events out (spec §4.9).
func (m *Manager) All() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Sessions implements pubsub.SessionLister.
func (m *Manager) Sessions() []pubsub.Subscriber {
	sessions := m.All()
	out := make([]pubsub.Subscriber, 0, len(sessions))
	for _, s := range sessions {
		s := s
		out = append(out, pubsub.Subscriber{
			Branch:        s.CurrentBranch,
			WatchingDepi:  s.WatchingDepi,
			WatchingBoard: s.WatchingBoard,
			WatchingRes:   s.WatchingRes,
			WatchedGroup: func(toolID, url string) bool {
				return s.WatchedGroups[GroupKey{ToolID: toolID, URL: url}]
			},
			Queues: s.Queues,
		})
	}
	return out
}

// RunSweeper blocks, closing sessions idle beyond the configured
// timeout every 5 minutes, until ctx is canceled (spec §4.8).
func (m *Manager) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// Stop terminates the sweeper goroutine started by RunSweeper.
func (m *Manager) Stop() {
	close(m.stop)
}

func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.timeout)
	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()
	for _, s := range expired {
		s.Queues.CloseAll()
	}
}

type sessionError string

func (e sessionError) Error() string { return string(e) }

const (
	ErrInvalidCredentials = sessionError("invalid username or password")
	ErrInvalidToken       = sessionError("invalid or malformed token")
	ErrUnknownSession     = sessionError("session is unknown or has expired")
)

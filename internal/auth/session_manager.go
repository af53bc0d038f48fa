package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fivetwenty-io/cloudcall/internal/constants"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
)

// LoginFunc obtains a fresh session or token.
type LoginFunc func(ctx context.Context) (*Token, error)

// SessionManager hands out the current session to any number of concurrent
// readers and logs in again when it expires. Reads share a lock; a refresh
// holds it exclusively, so no caller ever sees a half-updated session.
type SessionManager struct {
	mu     sync.RWMutex
	token  *Token
	login  LoginFunc
	logger cloudcall.Logger
	logins int
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithLogger sets the logger.
func WithLogger(logger cloudcall.Logger) SessionOption {
	return func(m *SessionManager) {
		m.logger = logger
	}
}

// WithInitialToken seeds the manager with an existing session.
func WithInitialToken(token string, expiresAt time.Time) SessionOption {
	return func(m *SessionManager) {
		m.token = &Token{AccessToken: token, ExpiresAt: expiresAt}
	}
}

// NewSessionManager creates a manager that calls login when no valid
// session is held. A nil login makes the manager static.
func NewSessionManager(login LoginFunc, opts ...SessionOption) *SessionManager {
	m := &SessionManager{login: login}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// GetToken returns a valid session, logging in if necessary.
func (m *SessionManager) GetToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	token := m.token
	m.mu.RUnlock()

	if token.Valid() {
		return token.AccessToken, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	if m.token.Valid() {
		return m.token.AccessToken, nil
	}

	err := m.refreshLocked(ctx)
	if err != nil {
		return "", err
	}

	return m.token.AccessToken, nil
}

// Credential implements cloudcall.CredentialSource.
func (m *SessionManager) Credential(ctx context.Context) (string, error) {
	return m.GetToken(ctx)
}

// RefreshToken forces a new login.
func (m *SessionManager) RefreshToken(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.refreshLocked(ctx)
}

// SetToken manually sets the session.
func (m *SessionManager) SetToken(token string, expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.token = &Token{AccessToken: token, ExpiresAt: expiresAt}
}

// Invalidate drops the session so the next read logs in again.
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.token = nil
}

// Logins returns how many logins were performed.
func (m *SessionManager) Logins() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.logins
}

func (m *SessionManager) refreshLocked(ctx context.Context) error {
	if m.login == nil {
		return constants.ErrCannotRefresh
	}

	token, err := m.login(ctx)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("session login failed", map[string]interface{}{"error": err.Error()})
		}

		return fmt.Errorf("%w: %w", constants.ErrSessionLoginFailed, err)
	}

	if token == nil || token.AccessToken == "" {
		return constants.ErrSessionTokenMissing
	}

	if token.ExpiresAt.IsZero() {
		token.ExpiresAt = time.Now().Add(constants.DefaultSessionTTL)
	}

	m.token = token
	m.logins++

	if m.logger != nil {
		m.logger.Debug("session refreshed", map[string]interface{}{"expires_at": token.ExpiresAt})
	}

	return nil
}

// NewStaticSession returns a manager holding token forever. It never logs
// in; an empty token fails every read.
func NewStaticSession(token string) *SessionManager {
	if token == "" {
		return NewSessionManager(nil)
	}

	return NewSessionManager(nil, WithInitialToken(token, time.Time{}))
}

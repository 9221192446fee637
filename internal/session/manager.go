// Package session owns the storefront's authentication state: decoding the
// access token, persisting it between runs and gating protected routes.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fjod/go_cellar/internal/domain"
	"github.com/fjod/go_cellar/pkg/logger"
)

// Manager holds the current session and hands out its token to the
// gateway client.
type Manager struct {
	mu      sync.RWMutex
	current *domain.Session

	store  Store
	key    string
	maxTTL time.Duration
	now    func() time.Time
	log    *zap.Logger
}

// NewManager creates a manager persisting under key. A nil store keeps the
// session in memory only.
func NewManager(store Store, key string, maxTTL time.Duration, log *zap.Logger) *Manager {
	return &Manager{
		store:  store,
		key:    key,
		maxTTL: maxTTL,
		now:    time.Now,
		log:    logger.OrNop(log),
	}
}

// Restore loads a persisted session. Expired sessions are discarded and
// reported as absent.
func (m *Manager) Restore(ctx context.Context) (*domain.Session, error) {
	if m.store == nil {
		return m.Current(), nil
	}
	s, err := m.store.Load(ctx, m.key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("restore session: %w", err)
	}

	claims, err := Decode(s.AccessToken)
	if err != nil || claims.Expired(m.clock()) {
		m.log.Info("discarding stored session", zap.String("key", m.key))
		if delErr := m.store.Delete(ctx, m.key); delErr != nil {
			m.log.Warn("failed to delete stale session", zap.Error(delErr))
		}
		return nil, nil
	}

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	return clone(s), nil
}

// Login installs a session for accessToken and persists it until the token
// expires.
func (m *Manager) Login(ctx context.Context, accessToken, refreshToken string) (*domain.Session, error) {
	claims, err := Decode(accessToken)
	if err != nil {
		return nil, err
	}
	now := m.clock()
	if claims.Expired(now) {
		return nil, fmt.Errorf("%w: token expired", domain.ErrAuthRequired)
	}

	s := &domain.Session{AccessToken: accessToken, RefreshToken: refreshToken, User: claims.User()}
	if m.store != nil {
		if err := m.store.Save(ctx, m.key, s, m.ttl(claims, now)); err != nil {
			return nil, fmt.Errorf("persist session: %w", err)
		}
	}

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	m.log.Info("session started", zap.Int64("user_id", s.User.ID), zap.Bool("admin", s.IsAdmin()))
	return clone(s), nil
}

func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	if err := m.store.Delete(ctx, m.key); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (m *Manager) Current() *domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.current)
}

// Token returns the access token, or ErrAuthRequired when there is no
// session or its token has expired.
func (m *Manager) Token() (string, error) {
	m.mu.RLock()
	s := m.current
	m.mu.RUnlock()
	if s == nil || s.AccessToken == "" {
		return "", domain.ErrAuthRequired
	}
	claims, err := Decode(s.AccessToken)
	if err != nil {
		return "", err
	}
	if claims.Expired(m.clock()) {
		return "", fmt.Errorf("%w: token expired", domain.ErrAuthRequired)
	}
	return s.AccessToken, nil
}

// SetClock replaces the time source used to judge token expiry.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Manager) clock() time.Time {
	m.mu.RLock()
	now := m.now
	m.mu.RUnlock()
	return now()
}

func (m *Manager) IsAdmin() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.IsAdmin()
}

func (m *Manager) ttl(c *Claims, now time.Time) time.Duration {
	ttl := m.maxTTL
	if c.ExpiresAt != nil {
		if left := c.ExpiresAt.Sub(now); ttl <= 0 || left < ttl {
			ttl = left
		}
	}
	return ttl
}

func clone(s *domain.Session) *domain.Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Package session owns the user-facing session registry bound 1:1 to running
// challenge instances, and the periodic expiry sweep over it.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"secrange/internal/orchestrator"
	appErr "secrange/pkg/errors"
	"secrange/pkg/utils/logger"
)

// Status is the session lifecycle state. stopped and error are terminal.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// Session is the user-facing handle on one running instance.
type Session struct {
	SessionID      string
	UserID         string
	ChallengeID    string
	InstanceID     string
	HostPorts      map[string]string
	CreatedAt      time.Time
	LastAccessedAt time.Time
	ExpiresAt      time.Time
	Status         Status
}

// Config controls session behavior.
type Config struct {
	TTL           time.Duration // session lifetime, default 1h
	MaxPerUser    int           // concurrent sessions per user, 0 disables the cap
	SweepInterval time.Duration // expiry sweep cadence
}

// DefaultConfig returns production defaults. The per-user cap mirrors the
// resource-abuse guard of a single-operator deployment.
func DefaultConfig() Config {
	return Config{
		TTL:           time.Hour,
		MaxPerUser:    5,
		SweepInterval: 60 * time.Second,
	}
}

// Stats is a point-in-time snapshot for operational tooling.
type Stats struct {
	Total       int
	Running     int
	Starting    int
	UniqueUsers int
}

// Manager is the thread-safe session registry. Registration is a short
// lock-held step; container spawns run outside the lock.
type Manager struct {
	orch *orchestrator.Orchestrator
	cfg  Config
	now  func() time.Time

	mu       sync.RWMutex
	sessions map[string]Session
	byUser   map[string]map[string]struct{}
}

// NewManager creates a session manager over an orchestrator.
func NewManager(orch *orchestrator.Orchestrator, cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 60 * time.Second
	}
	return &Manager{
		orch:     orch,
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[string]Session),
		byUser:   make(map[string]map[string]struct{}),
	}
}

// SetClock replaces the time source for deterministic tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Create spawns a challenge instance and wraps it into a new session.
// The placeholder is registered before the spawn so the per-user cap holds
// under concurrent calls; a failed spawn transitions starting -> error and
// the record is dropped.
func (m *Manager) Create(ctx context.Context, challengeID, userID string) (Session, error) {
	if challengeID == "" || userID == "" {
		return Session{}, appErr.Newf(appErr.InvalidParams, "challenge id and user id are required")
	}

	now := m.now()
	sess := Session{
		SessionID:      uuid.NewString()[:8],
		UserID:         userID,
		ChallengeID:    challengeID,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(m.cfg.TTL),
		Status:         StatusStarting,
	}

	m.mu.Lock()
	if m.cfg.MaxPerUser > 0 && len(m.byUser[userID]) >= m.cfg.MaxPerUser {
		m.mu.Unlock()
		return Session{}, appErr.Newf(appErr.SessionLimit,
			"user %s has %d active sessions (limit %d)", userID, len(m.byUser[userID]), m.cfg.MaxPerUser)
	}
	m.insertLocked(sess)
	m.mu.Unlock()

	inst, err := m.orch.SpawnForSession(ctx, challengeID, userID, sess.SessionID)
	if err != nil {
		m.mu.Lock()
		m.removeLocked(sess.SessionID)
		m.mu.Unlock()
		logger.Warn(ctx, "session spawn failed",
			zap.String("session_id", sess.SessionID),
			zap.String("challenge_id", challengeID), zap.Error(err))
		return Session{}, err
	}

	m.mu.Lock()
	sess.InstanceID = inst.InstanceID
	sess.HostPorts = inst.HostPorts
	sess.ExpiresAt = inst.ExpiresAt
	sess.Status = StatusRunning
	m.sessions[sess.SessionID] = sess
	m.mu.Unlock()

	logger.Info(ctx, "session created",
		zap.String("session_id", sess.SessionID),
		zap.String("challenge_id", challengeID),
		zap.String("user_id", userID),
		zap.Time("expires_at", sess.ExpiresAt))
	return sess, nil
}

// Get returns an active session by id. Unknown ids yield SessionNotFound,
// expired ones SessionExpired.
func (m *Manager) Get(sessionID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, appErr.Newf(appErr.SessionNotFound, "session not found: %s", sessionID)
	}
	if m.now().After(sess.ExpiresAt) {
		return Session{}, appErr.Newf(appErr.SessionExpired, "session expired: %s", sessionID)
	}

	sess.LastAccessedAt = m.now()
	m.sessions[sessionID] = sess
	return sess, nil
}

// ListUser returns the user's sessions that have not expired.
func (m *Manager) ListUser(userID string) []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	var out []Session
	for id := range m.byUser[userID] {
		sess := m.sessions[id]
		if now.After(sess.ExpiresAt) {
			continue
		}
		out = append(out, sess)
	}
	return out
}

// Cleanup tears down the session's instance and removes the record.
// Idempotent: cleaning an unknown session is a no-op, because an explicit
// stop may race with the expiry sweep. On runtime failure the record stays
// for the next sweep pass.
func (m *Manager) Cleanup(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	sess.Status = StatusStopping
	m.sessions[sessionID] = sess
	m.mu.Unlock()

	if sess.InstanceID != "" {
		if err := m.orch.Stop(ctx, sess.InstanceID); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.removeLocked(sessionID)
	m.mu.Unlock()

	logger.Info(ctx, "session cleaned up",
		zap.String("session_id", sessionID),
		zap.String("user_id", sess.UserID))
	return nil
}

// CleanupExpired removes every session past its TTL at the given time, then
// lets the orchestrator evict expired or orphaned instances. Sessions still
// inside their TTL are never touched.
func (m *Manager) CleanupExpired(ctx context.Context, now time.Time) int {
	m.mu.RLock()
	var expired []string
	for id, sess := range m.sessions {
		if sess.Status == StatusStarting {
			continue
		}
		if sess.ExpiresAt.Before(now) {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	cleaned := 0
	for _, id := range expired {
		if err := m.Cleanup(ctx, id); err != nil {
			logger.Warn(ctx, "expired session cleanup failed",
				zap.String("session_id", id), zap.Error(err))
			continue
		}
		cleaned++
	}

	m.orch.CleanupExpired(ctx, now)
	return cleaned
}

// GetStats returns a snapshot of the registry.
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{Total: len(m.sessions), UniqueUsers: len(m.byUser)}
	for _, sess := range m.sessions {
		switch sess.Status {
		case StatusRunning:
			stats.Running++
		case StatusStarting:
			stats.Starting++
		}
	}
	return stats
}

// Shutdown drains every session. Used on process exit.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.Cleanup(ctx, id); err != nil {
			logger.Warn(ctx, "session shutdown cleanup failed",
				zap.String("session_id", id), zap.Error(err))
		}
	}
}

func (m *Manager) insertLocked(sess Session) {
	m.sessions[sess.SessionID] = sess
	if m.byUser[sess.UserID] == nil {
		m.byUser[sess.UserID] = make(map[string]struct{})
	}
	m.byUser[sess.UserID][sess.SessionID] = struct{}{}
}

func (m *Manager) removeLocked(sessionID string) {
	sess, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	delete(m.sessions, sessionID)
	if userSessions := m.byUser[sess.UserID]; userSessions != nil {
		delete(userSessions, sessionID)
		if len(userSessions) == 0 {
			delete(m.byUser, sess.UserID)
		}
	}
}

// Package hints implements progressive hint disclosure for active sessions:
// one hint unlocks per interval of session lifetime, and a user may request
// the next hint early.
package hints

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"secrange/internal/catalog"
	"secrange/internal/session"
	appErr "secrange/pkg/errors"
	"secrange/pkg/utils/logger"
)

const (
	// DefaultUnlockInterval is the session lifetime between time-based unlocks.
	DefaultUnlockInterval = 5 * time.Minute
	// MaxHintsPerChallenge bounds the hint list regardless of catalog content.
	MaxHintsPerChallenge = 10
)

// UnlockedBy records how a hint became visible.
const (
	UnlockedByTime    = "time"
	UnlockedByRequest = "request"
)

// Hint is one disclosed hint.
type Hint struct {
	Index      int
	Text       string
	UnlockedBy string
	UnlockedAt time.Time
}

// Status summarizes hint availability for one session.
type Status struct {
	ChallengeID    string
	SessionID      string
	TotalHints     int
	AvailableCount int
	TimeUnlocked   int
	Requested      int
	NextUnlockIn   time.Duration // negative when everything is unlocked
}

// SessionSource is the session lookup the hint service needs.
type SessionSource interface {
	Get(sessionID string) (session.Session, error)
}

// Service tracks per-session hint request counts and computes availability
// from session age and challenge metadata.
type Service struct {
	catalog  *catalog.Index
	sessions SessionSource
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	requested map[string]int // session id -> early-unlock count
}

// NewService creates a hint service.
func NewService(idx *catalog.Index, sessions SessionSource) *Service {
	return &Service{
		catalog:   idx,
		sessions:  sessions,
		interval:  DefaultUnlockInterval,
		now:       time.Now,
		requested: make(map[string]int),
	}
}

// SetClock replaces the time source for deterministic tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Available returns the hints currently disclosed to a session.
func (s *Service) Available(ctx context.Context, sessionID string) ([]Hint, error) {
	sess, texts, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	timeUnlocked, available := s.counts(sess, len(texts))
	s.mu.Unlock()
	out := make([]Hint, 0, available)
	for i := 0; i < available; i++ {
		unlockedBy := UnlockedByTime
		if i >= timeUnlocked {
			unlockedBy = UnlockedByRequest
		}
		out = append(out, Hint{
			Index:      i,
			Text:       texts[i],
			UnlockedBy: unlockedBy,
			UnlockedAt: sess.CreatedAt.Add(time.Duration(i+1) * s.interval),
		})
	}

	logger.Debug(ctx, "hints disclosed",
		zap.String("session_id", sessionID),
		zap.Int("available", available),
		zap.Int("total", len(texts)))
	return out, nil
}

// Request unlocks the next hint early for a session. Returns the updated
// status; asking when everything is already unlocked is not an error.
func (s *Service) Request(ctx context.Context, sessionID string) (Status, error) {
	sess, texts, err := s.lookup(sessionID)
	if err != nil {
		return Status{}, err
	}
	if len(texts) == 0 {
		return Status{}, appErr.Newf(appErr.NotFound,
			"challenge %s has no hints", sess.ChallengeID)
	}

	s.mu.Lock()
	_, available := s.counts(sess, len(texts))
	if available < len(texts) {
		s.requested[sessionID] = available + 1
	}
	s.mu.Unlock()

	logger.Info(ctx, "hint requested",
		zap.String("session_id", sessionID),
		zap.String("challenge_id", sess.ChallengeID))
	return s.status(sess, texts), nil
}

// GetStatus reports hint timing and availability for a session.
func (s *Service) GetStatus(sessionID string) (Status, error) {
	sess, texts, err := s.lookup(sessionID)
	if err != nil {
		return Status{}, err
	}
	return s.status(sess, texts), nil
}

// Forget drops hint state for a finished session.
func (s *Service) Forget(sessionID string) {
	s.mu.Lock()
	delete(s.requested, sessionID)
	s.mu.Unlock()
}

func (s *Service) lookup(sessionID string) (session.Session, []string, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return session.Session{}, nil, err
	}
	def, err := s.catalog.Get(sess.ChallengeID)
	if err != nil {
		return session.Session{}, nil, err
	}
	texts := def.Hints
	if len(texts) > MaxHintsPerChallenge {
		texts = texts[:MaxHintsPerChallenge]
	}
	return sess, texts, nil
}

// counts computes (time-unlocked, total available). Callers needing
// consistency with the requested map hold s.mu themselves; reads of a stale
// request count only delay a hint, never leak one.
func (s *Service) counts(sess session.Session, total int) (timeUnlocked, available int) {
	elapsed := s.now().Sub(sess.CreatedAt)
	timeUnlocked = int(elapsed / s.interval)
	if timeUnlocked > total {
		timeUnlocked = total
	}
	available = timeUnlocked
	if requested := s.requested[sess.SessionID]; requested > available {
		available = requested
	}
	if available > total {
		available = total
	}
	return timeUnlocked, available
}

func (s *Service) status(sess session.Session, texts []string) Status {
	s.mu.Lock()
	requested := s.requested[sess.SessionID]
	timeUnlocked, available := s.counts(sess, len(texts))
	s.mu.Unlock()

	status := Status{
		ChallengeID:    sess.ChallengeID,
		SessionID:      sess.SessionID,
		TotalHints:     len(texts),
		AvailableCount: available,
		TimeUnlocked:   timeUnlocked,
		Requested:      requested,
		NextUnlockIn:   -1,
	}
	if available < len(texts) {
		nextAt := sess.CreatedAt.Add(time.Duration(available+1) * s.interval)
		status.NextUnlockIn = nextAt.Sub(s.now())
		if status.NextUnlockIn < 0 {
			status.NextUnlockIn = 0
		}
	}
	return status
}

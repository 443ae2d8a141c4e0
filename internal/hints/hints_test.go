package hints

import (
	"context"
	"testing"
	"time"

	"secrange/internal/catalog"
	"secrange/internal/session"
	appErr "secrange/pkg/errors"
)

type fakeSessions struct {
	sessions map[string]session.Session
}

func (f *fakeSessions) Get(sessionID string) (session.Session, error) {
	sess, ok := f.sessions[sessionID]
	if !ok {
		return session.Session{}, appErr.Newf(appErr.SessionNotFound, "session not found: %s", sessionID)
	}
	return sess, nil
}

var hintBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newHintService(t *testing.T, hints []string) *Service {
	t.Helper()
	idx := catalog.NewIndex([]catalog.Definition{{
		ID:         "web-basic-xss",
		Name:       "Basic XSS",
		Difficulty: catalog.DifficultyBeginner,
		Category:   "web",
		Points:     100,
		ContainerSpec: catalog.ContainerSpec{
			Image: "secrange/web-basic-xss:1.0",
		},
		Hints: hints,
	}})
	source := &fakeSessions{sessions: map[string]session.Session{
		"sess-1": {
			SessionID:   "sess-1",
			UserID:      "alice",
			ChallengeID: "web-basic-xss",
			CreatedAt:   hintBase,
			ExpiresAt:   hintBase.Add(time.Hour),
			Status:      session.StatusRunning,
		},
	}}
	return NewService(idx, source)
}

func TestTimeBasedUnlock(t *testing.T) {
	svc := newHintService(t, []string{"first", "second", "third"})

	tests := []struct {
		elapsed   time.Duration
		available int
	}{
		{0, 0},
		{4 * time.Minute, 0},
		{5 * time.Minute, 1},
		{9 * time.Minute, 1},
		{10 * time.Minute, 2},
		{15 * time.Minute, 3},
		{2 * time.Hour, 3},
	}
	for _, tt := range tests {
		svc.SetClock(func() time.Time { return hintBase.Add(tt.elapsed) })
		hints, err := svc.Available(context.Background(), "sess-1")
		if err != nil {
			t.Fatalf("Available at %v: %v", tt.elapsed, err)
		}
		if len(hints) != tt.available {
			t.Errorf("at %v: %d hints available, want %d", tt.elapsed, len(hints), tt.available)
		}
	}

	svc.SetClock(func() time.Time { return hintBase.Add(11 * time.Minute) })
	hints, _ := svc.Available(context.Background(), "sess-1")
	if hints[0].Text != "first" || hints[1].Text != "second" {
		t.Errorf("hints out of order: %+v", hints)
	}
	if hints[0].UnlockedBy != UnlockedByTime {
		t.Errorf("UnlockedBy = %s, want time", hints[0].UnlockedBy)
	}
	if !hints[0].UnlockedAt.Equal(hintBase.Add(5 * time.Minute)) {
		t.Errorf("first hint UnlockedAt = %v", hints[0].UnlockedAt)
	}
}

func TestRequestUnlocksEarly(t *testing.T) {
	svc := newHintService(t, []string{"first", "second", "third"})
	svc.SetClock(func() time.Time { return hintBase.Add(time.Minute) })

	status, err := svc.Request(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if status.AvailableCount != 1 || status.TimeUnlocked != 0 || status.Requested != 1 {
		t.Errorf("status = %+v", status)
	}

	hints, err := svc.Available(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if len(hints) != 1 || hints[0].UnlockedBy != UnlockedByRequest {
		t.Errorf("hints = %+v", hints)
	}

	// Time catching up does not double-count the requested hint.
	svc.SetClock(func() time.Time { return hintBase.Add(5 * time.Minute) })
	hints, _ = svc.Available(context.Background(), "sess-1")
	if len(hints) != 1 {
		t.Errorf("%d hints after time caught up, want 1", len(hints))
	}
}

func TestRequestBeyondTotalIsNoop(t *testing.T) {
	svc := newHintService(t, []string{"only"})
	svc.SetClock(func() time.Time { return hintBase.Add(time.Hour) })

	status, err := svc.Request(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if status.AvailableCount != 1 || status.NextUnlockIn != -1 {
		t.Errorf("status = %+v", status)
	}
}

func TestRequestNoHints(t *testing.T) {
	svc := newHintService(t, nil)
	svc.SetClock(func() time.Time { return hintBase })

	_, err := svc.Request(context.Background(), "sess-1")
	if appErr.GetCode(err) != appErr.NotFound {
		t.Errorf("code = %d, want NotFound", appErr.GetCode(err))
	}
}

func TestUnknownSession(t *testing.T) {
	svc := newHintService(t, []string{"first"})

	if _, err := svc.Available(context.Background(), "nope"); appErr.GetCode(err) != appErr.SessionNotFound {
		t.Errorf("Available: code = %d, want SessionNotFound", appErr.GetCode(err))
	}
	if _, err := svc.GetStatus("nope"); appErr.GetCode(err) != appErr.SessionNotFound {
		t.Errorf("GetStatus: code = %d, want SessionNotFound", appErr.GetCode(err))
	}
}

func TestGetStatusTiming(t *testing.T) {
	svc := newHintService(t, []string{"first", "second"})
	svc.SetClock(func() time.Time { return hintBase.Add(3 * time.Minute) })

	status, err := svc.GetStatus("sess-1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.TotalHints != 2 || status.AvailableCount != 0 {
		t.Errorf("status = %+v", status)
	}
	if status.NextUnlockIn != 2*time.Minute {
		t.Errorf("NextUnlockIn = %v, want 2m", status.NextUnlockIn)
	}

	svc.SetClock(func() time.Time { return hintBase.Add(time.Hour) })
	status, _ = svc.GetStatus("sess-1")
	if status.AvailableCount != 2 || status.NextUnlockIn != -1 {
		t.Errorf("fully unlocked status = %+v", status)
	}
}

func TestHintListTruncated(t *testing.T) {
	texts := make([]string, MaxHintsPerChallenge+5)
	for i := range texts {
		texts[i] = "hint"
	}
	svc := newHintService(t, texts)
	svc.SetClock(func() time.Time { return hintBase.Add(24 * time.Hour) })

	hints, err := svc.Available(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if len(hints) != MaxHintsPerChallenge {
		t.Errorf("%d hints disclosed, want %d", len(hints), MaxHintsPerChallenge)
	}
}

func TestForget(t *testing.T) {
	svc := newHintService(t, []string{"first", "second"})
	svc.SetClock(func() time.Time { return hintBase })

	if _, err := svc.Request(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Request: %v", err)
	}
	svc.Forget("sess-1")

	hints, err := svc.Available(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if len(hints) != 0 {
		t.Errorf("requested state survived Forget: %+v", hints)
	}
}

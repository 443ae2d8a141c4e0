package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"secrange/internal/catalog"
	"secrange/internal/flags"
	"secrange/internal/orchestrator"
	"secrange/internal/runtime/runtimetest"
	"secrange/internal/security"
	appErr "secrange/pkg/errors"
)

type fixture struct {
	fake    *runtimetest.Fake
	orch    *orchestrator.Orchestrator
	manager *Manager
	base    time.Time
}

// setClock moves both clocks so session and instance expiry stay in step.
func (f *fixture) setClock(now time.Time) {
	f.orch.SetClock(func() time.Time { return now })
	f.manager.SetClock(func() time.Time { return now })
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	idx := catalog.NewIndex([]catalog.Definition{{
		ID:         "web-basic-xss",
		Name:       "Basic XSS",
		Difficulty: catalog.DifficultyBeginner,
		Category:   "web",
		Points:     100,
		ContainerSpec: catalog.ContainerSpec{
			Image: "secrange/web-basic-xss:1.0",
			Ports: map[string]string{"5000/tcp": "dynamic"},
			ResourceLimits: catalog.ResourceLimits{
				Memory: "256m", CPUs: 0.5, PidsLimit: 100,
			},
		},
		Hints: []string{"first", "second", "third"},
	}})
	engine, err := flags.NewEngine("test-secret")
	if err != nil {
		t.Fatalf("flags.NewEngine: %v", err)
	}

	fake := runtimetest.NewFake()
	orch := orchestrator.New(idx, security.NewResolver(security.DefaultCeilings()),
		engine, fake, orchestrator.NewRegistry(), orchestrator.Config{SessionTTL: cfg.TTL})
	f := &fixture{
		fake:    fake,
		orch:    orch,
		manager: NewManager(orch, cfg),
		base:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.setClock(f.base)
	return f
}

func TestCreate(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	sess, err := f.manager.Create(context.Background(), "web-basic-xss", "alice")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.Status != StatusRunning {
		t.Errorf("status = %s, want running", sess.Status)
	}
	if sess.InstanceID == "" {
		t.Error("session not bound to an instance")
	}
	if sess.HostPorts["5000/tcp"] == "" {
		t.Errorf("host ports not propagated: %+v", sess.HostPorts)
	}
	if !sess.ExpiresAt.Equal(f.base.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want created+1h", sess.ExpiresAt)
	}

	inst, err := f.orch.Instance(sess.InstanceID)
	if err != nil {
		t.Fatalf("Instance: %v", err)
	}
	if inst.SessionID != sess.SessionID {
		t.Errorf("container session label %s does not match session %s", inst.SessionID, sess.SessionID)
	}
}

func TestCreateValidatesInput(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	if _, err := f.manager.Create(context.Background(), "", "alice"); appErr.GetCode(err) != appErr.InvalidParams {
		t.Errorf("empty challenge id: code = %d, want InvalidParams", appErr.GetCode(err))
	}
	if _, err := f.manager.Create(context.Background(), "web-basic-xss", ""); appErr.GetCode(err) != appErr.InvalidParams {
		t.Errorf("empty user id: code = %d, want InvalidParams", appErr.GetCode(err))
	}
}

func TestCreateSpawnFailureDropsSession(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.fake.CreateErr = errors.New("image pull failed")

	_, err := f.manager.Create(context.Background(), "web-basic-xss", "alice")
	if err == nil {
		t.Fatal("expected error")
	}
	if stats := f.manager.GetStats(); stats.Total != 0 {
		t.Errorf("failed session left behind: %+v", stats)
	}

	// The slot freed by the failure is usable again.
	f.fake.CreateErr = nil
	if _, err := f.manager.Create(context.Background(), "web-basic-xss", "alice"); err != nil {
		t.Fatalf("Create after failure: %v", err)
	}
}

func TestPerUserCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPerUser = 2
	f := newFixture(t, cfg)

	for i := 0; i < 2; i++ {
		if _, err := f.manager.Create(context.Background(), "web-basic-xss", "alice"); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}

	_, err := f.manager.Create(context.Background(), "web-basic-xss", "alice")
	if appErr.GetCode(err) != appErr.SessionLimit {
		t.Fatalf("code = %d, want SessionLimit", appErr.GetCode(err))
	}

	// Other users are unaffected, and releasing a slot lifts the cap.
	if _, err := f.manager.Create(context.Background(), "web-basic-xss", "bob"); err != nil {
		t.Fatalf("Create(bob): %v", err)
	}
	sessions := f.manager.ListUser("alice")
	if err := f.manager.Cleanup(context.Background(), sessions[0].SessionID); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := f.manager.Create(context.Background(), "web-basic-xss", "alice"); err != nil {
		t.Fatalf("Create after cleanup: %v", err)
	}
}

func TestGetExpiry(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	sess, err := f.manager.Create(context.Background(), "web-basic-xss", "alice")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := f.manager.Get("unknown"); appErr.GetCode(err) != appErr.SessionNotFound {
		t.Errorf("unknown session: code = %d, want SessionNotFound", appErr.GetCode(err))
	}

	// One second inside the TTL the session is served and touched.
	f.setClock(f.base.Add(time.Hour - time.Second))
	got, err := f.manager.Get(sess.SessionID)
	if err != nil {
		t.Fatalf("Get inside TTL: %v", err)
	}
	if !got.LastAccessedAt.Equal(f.base.Add(time.Hour - time.Second)) {
		t.Errorf("LastAccessedAt not touched: %v", got.LastAccessedAt)
	}

	// One second past the TTL it is expired.
	f.setClock(f.base.Add(time.Hour + time.Second))
	if _, err := f.manager.Get(sess.SessionID); appErr.GetCode(err) != appErr.SessionExpired {
		t.Errorf("code = %d, want SessionExpired", appErr.GetCode(err))
	}
}

func TestListUser(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	if _, err := f.manager.Create(context.Background(), "web-basic-xss", "alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.manager.Create(context.Background(), "web-basic-xss", "bob"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if got := f.manager.ListUser("alice"); len(got) != 1 || got[0].UserID != "alice" {
		t.Errorf("ListUser(alice) = %+v", got)
	}
	if got := f.manager.ListUser("nobody"); len(got) != 0 {
		t.Errorf("ListUser(nobody) = %+v", got)
	}

	// Expired sessions drop out of the listing before the sweep runs.
	f.setClock(f.base.Add(2 * time.Hour))
	if got := f.manager.ListUser("alice"); len(got) != 0 {
		t.Errorf("expired session still listed: %+v", got)
	}
}

func TestCleanupIdempotent(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	sess, err := f.manager.Create(context.Background(), "web-basic-xss", "alice")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := f.manager.Cleanup(context.Background(), sess.SessionID); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if f.fake.Len() != 0 {
		t.Error("container survived cleanup")
	}
	if err := f.manager.Cleanup(context.Background(), sess.SessionID); err != nil {
		t.Fatalf("second Cleanup: %v", err)
	}
	if err := f.manager.Cleanup(context.Background(), "never-existed"); err != nil {
		t.Fatalf("Cleanup unknown: %v", err)
	}
}

func TestCleanupKeepsRecordOnRuntimeFailure(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	sess, err := f.manager.Create(context.Background(), "web-basic-xss", "alice")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	f.fake.StopErr = errors.New("daemon unreachable")
	if err := f.manager.Cleanup(context.Background(), sess.SessionID); err == nil {
		t.Fatal("expected cleanup failure")
	}
	if stats := f.manager.GetStats(); stats.Total != 1 {
		t.Errorf("record dropped despite runtime failure: %+v", stats)
	}

	f.fake.StopErr = nil
	if err := f.manager.Cleanup(context.Background(), sess.SessionID); err != nil {
		t.Fatalf("retry Cleanup: %v", err)
	}
	if stats := f.manager.GetStats(); stats.Total != 0 {
		t.Errorf("retry did not finish: %+v", stats)
	}
}

func TestCleanupExpired(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	old, err := f.manager.Create(context.Background(), "web-basic-xss", "alice")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.setClock(f.base.Add(30 * time.Minute))
	fresh, err := f.manager.Create(context.Background(), "web-basic-xss", "bob")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if n := f.manager.CleanupExpired(context.Background(), f.base.Add(time.Hour)); n != 0 {
		t.Errorf("cleaned %d at TTL boundary, want 0", n)
	}
	if n := f.manager.CleanupExpired(context.Background(), f.base.Add(time.Hour+time.Second)); n != 1 {
		t.Errorf("cleaned %d, want 1", n)
	}

	if _, err := f.manager.Get(old.SessionID); appErr.GetCode(err) != appErr.SessionNotFound {
		t.Errorf("expired session still known: %v", err)
	}
	f.setClock(f.base.Add(time.Hour + time.Second))
	if _, err := f.manager.Get(fresh.SessionID); err != nil {
		t.Errorf("fresh session evicted: %v", err)
	}
	if f.fake.Len() != 1 {
		t.Errorf("runtime holds %d containers, want 1", f.fake.Len())
	}
}

func TestSweeperRunOnce(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	if _, err := f.manager.Create(context.Background(), "web-basic-xss", "alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	sweeper := NewSweeper(f.manager)

	if n := sweeper.RunOnce(context.Background()); n != 0 {
		t.Errorf("swept %d before expiry, want 0", n)
	}
	f.setClock(f.base.Add(2 * time.Hour))
	if n := sweeper.RunOnce(context.Background()); n != 1 {
		t.Errorf("swept %d after expiry, want 1", n)
	}
	if f.fake.Len() != 0 {
		t.Error("container survived the sweep")
	}
}

func TestGetStats(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	if _, err := f.manager.Create(context.Background(), "web-basic-xss", "alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.manager.Create(context.Background(), "web-basic-xss", "alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.manager.Create(context.Background(), "web-basic-xss", "bob"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	stats := f.manager.GetStats()
	if stats.Total != 3 || stats.Running != 3 || stats.Starting != 0 || stats.UniqueUsers != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestShutdownDrainsEverything(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	for _, user := range []string{"alice", "bob", "carol"} {
		if _, err := f.manager.Create(context.Background(), "web-basic-xss", user); err != nil {
			t.Fatalf("Create(%s): %v", user, err)
		}
	}

	f.manager.Shutdown(context.Background())
	if stats := f.manager.GetStats(); stats.Total != 0 {
		t.Errorf("sessions left after shutdown: %+v", stats)
	}
	if f.fake.Len() != 0 {
		t.Errorf("containers left after shutdown: %d", f.fake.Len())
	}
}

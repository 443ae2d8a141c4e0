// Package orchestrator owns the running-container lifecycle: spawn with
// security resolution and flag minting, idempotent teardown, listing with
// registry/runtime reconciliation, and time-based eviction.
package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"secrange/internal/catalog"
	"secrange/internal/flags"
	"secrange/internal/runtime"
	"secrange/internal/security"
	appErr "secrange/pkg/errors"
	"secrange/pkg/utils/logger"
)

// Labels written onto every spawned container. The sweep and external
// tooling select challenge containers by these.
const (
	LabelChallengeID = "secrange.challenge_id"
	LabelUserID      = "secrange.user_id"
	LabelSessionID   = "secrange.session_id"
	LabelCreatedAt   = "secrange.created_at"
)

// EnvFlagName is the environment variable carrying the instance flag into
// the container.
const EnvFlagName = "CHALLENGE_FLAG"

// Config controls orchestrator behavior.
type Config struct {
	SessionTTL         time.Duration // instance lifetime, default 1h
	StartupTimeout     time.Duration // max wait for a container to come up
	HealthPollInterval time.Duration // inspect cadence during startup wait
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SessionTTL:         time.Hour,
		StartupTimeout:     30 * time.Second,
		HealthPollInterval: 500 * time.Millisecond,
	}
}

// Orchestrator coordinates the catalog, security resolver, flag engine and
// container runtime around the shared instance registry.
type Orchestrator struct {
	catalog  *catalog.Index
	resolver *security.Resolver
	flags    *flags.Engine
	runtime  runtime.Runtime
	registry *Registry
	cfg      Config
	now      func() time.Time

	// Serializes teardown so the expiry sweep and a user-initiated stop
	// never race on the same container. Coarse on purpose: tens of
	// instances on one host, not a scheduler.
	teardownMu sync.Mutex
}

// New creates an orchestrator over an injected registry.
func New(idx *catalog.Index, resolver *security.Resolver, flagEngine *flags.Engine,
	rt runtime.Runtime, registry *Registry, cfg Config) *Orchestrator {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 30 * time.Second
	}
	if cfg.HealthPollInterval <= 0 {
		cfg.HealthPollInterval = 500 * time.Millisecond
	}
	return &Orchestrator{
		catalog:  idx,
		resolver: resolver,
		flags:    flagEngine,
		runtime:  rt,
		registry: registry,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock replaces the time source. Tests use this for deterministic expiry.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Challenges returns the loaded catalog.
func (o *Orchestrator) Challenges() []catalog.Definition {
	return o.catalog.All()
}

// Spawn creates and starts one challenge container for a user. It returns
// only once the registry and the runtime agree the instance is running, or
// the call has failed and every partial side effect is rolled back.
func (o *Orchestrator) Spawn(ctx context.Context, challengeID, userID string) (RunningInstance, error) {
	return o.SpawnForSession(ctx, challengeID, userID, shortID())
}

// SpawnForSession is Spawn with a caller-supplied session id, so the session
// manager can bind the container labels to the session it is creating.
func (o *Orchestrator) SpawnForSession(ctx context.Context, challengeID, userID, sessionID string) (RunningInstance, error) {
	def, err := o.catalog.Get(challengeID)
	if err != nil {
		return RunningInstance{}, err
	}
	spec := def.ContainerSpec

	// Fail-closed gate: no runtime call is made when resolution fails.
	profile, err := o.resolver.Resolve(ctx, spec.SecurityProfile, spec)
	if err != nil {
		return RunningInstance{}, err
	}

	now := o.now()
	instanceData, err := flags.NewInstanceData(now)
	if err != nil {
		return RunningInstance{}, err
	}
	flagValue := o.flags.Generate(challengeID, userID, instanceData)

	inst := RunningInstance{
		InstanceID:   uuid.NewString(),
		ChallengeID:  challengeID,
		UserID:       userID,
		SessionID:    sessionID,
		Flag:         flagValue,
		InstanceData: instanceData,
		CreatedAt:    now,
		ExpiresAt:    now.Add(o.cfg.SessionTTL),
		Status:       StatusStarting,
	}

	// Placeholder insert is the only lock-held step; the runtime I/O below
	// runs outside the registry lock.
	o.registry.Put(inst)

	cfg, err := o.buildContainerConfig(def, profile, inst)
	if err != nil {
		o.registry.Delete(inst.InstanceID)
		return RunningInstance{}, err
	}

	containerID, err := o.runtime.Create(ctx, cfg)
	if err != nil {
		o.registry.Delete(inst.InstanceID)
		return RunningInstance{}, err
	}
	inst.ContainerID = containerID

	if err := o.runtime.Start(ctx, containerID); err != nil {
		o.rollback(ctx, inst)
		return RunningInstance{}, appErr.Wrapf(err, appErr.StartupError,
			"start challenge %s failed", challengeID)
	}

	status, err := o.waitHealthy(ctx, containerID)
	if err != nil {
		o.rollback(ctx, inst)
		return RunningInstance{}, err
	}

	inst.HostPorts = status.Ports
	inst.Status = StatusRunning
	o.registry.Put(inst)

	logger.Info(ctx, "challenge instance started",
		zap.String("challenge_id", challengeID),
		zap.String("user_id", userID),
		zap.String("instance_id", inst.InstanceID),
		zap.String("container_id", containerID))
	return inst, nil
}

func (o *Orchestrator) buildContainerConfig(def catalog.Definition, profile security.Profile,
	inst RunningInstance) (runtime.ContainerConfig, error) {
	spec := def.ContainerSpec

	memBytes, err := spec.ResourceLimits.MemoryBytes()
	if err != nil {
		return runtime.ContainerConfig{}, err
	}

	env := make([]string, 0, len(spec.Environment)+6)
	for key, value := range spec.Environment {
		env = append(env, key+"="+value)
	}
	ttlSeconds := int64(inst.ExpiresAt.Sub(inst.CreatedAt) / time.Second)
	env = append(env,
		EnvFlagName+"="+inst.Flag,
		"CHALLENGE_ID="+inst.ChallengeID,
		"USER_ID="+inst.UserID,
		"SESSION_ID="+inst.SessionID,
		"SESSION_START="+strconv.FormatInt(inst.CreatedAt.Unix(), 10),
		"SESSION_TIMEOUT="+strconv.FormatInt(ttlSeconds, 10),
	)

	ports := make(map[string]string, len(spec.Ports))
	for containerPort, hostPort := range spec.Ports {
		if hostPort == "dynamic" {
			hostPort = ""
		}
		ports[containerPort] = hostPort
	}

	tmpfs := make(map[string]string, len(profile.TmpfsMounts))
	for _, mount := range profile.TmpfsMounts {
		tmpfs[mount.Target] = mount.Options
	}

	namedVolumes := map[string]string{}
	for _, vol := range spec.Volumes {
		if vol.Type == catalog.VolumeTypeNamed {
			namedVolumes[vol.Source] = vol.Target
		}
	}

	capDrop := []string{}
	if profile.DropAll {
		capDrop = append(capDrop, "ALL")
	}
	securityOpt := []string{}
	if profile.NoNewPrivileges {
		securityOpt = append(securityOpt, "no-new-privileges:true")
	}

	return runtime.ContainerConfig{
		Name:           fmt.Sprintf("challenge-%s-%s", def.ID, inst.SessionID),
		Image:          spec.Image,
		Env:            env,
		Ports:          ports,
		Memory:         memBytes,
		NanoCPUs:       int64(spec.ResourceLimits.CPUs * 1e9),
		PidsLimit:      spec.ResourceLimits.PidsLimit,
		CapAdd:         profile.CapabilitiesAdd,
		CapDrop:        capDrop,
		SecurityOpt:    securityOpt,
		ReadOnlyRootFS: profile.ReadOnlyRootFS,
		User:           profile.RunAsUser,
		NetworkMode:    profile.NetworkMode,
		IPCMode:        profile.IPCMode,
		Tmpfs:          tmpfs,
		NamedVolumes:   namedVolumes,
		Labels: map[string]string{
			LabelChallengeID: inst.ChallengeID,
			LabelUserID:      inst.UserID,
			LabelSessionID:   inst.SessionID,
			LabelCreatedAt:   strconv.FormatInt(inst.CreatedAt.Unix(), 10),
		},
	}, nil
}

// waitHealthy polls the runtime until the container reports running (and
// healthy, when a health check is configured) or the startup timeout passes.
func (o *Orchestrator) waitHealthy(ctx context.Context, containerID string) (runtime.Status, error) {
	deadline := o.now().Add(o.cfg.StartupTimeout)
	for {
		status, err := o.runtime.Inspect(ctx, containerID)
		if err != nil {
			return runtime.Status{}, appErr.Wrapf(err, appErr.StartupError,
				"inspect container %s during startup failed", containerID)
		}
		if status.Running {
			switch status.Health {
			case "", "healthy":
				return status, nil
			case "unhealthy":
				return runtime.Status{}, appErr.Newf(appErr.StartupError,
					"container %s reported unhealthy", containerID)
			}
		}

		if !o.now().Before(deadline) {
			return runtime.Status{}, appErr.Newf(appErr.HealthCheckTimeout,
				"container %s not healthy after %s", containerID, o.cfg.StartupTimeout)
		}
		select {
		case <-ctx.Done():
			return runtime.Status{}, appErr.Wrapf(ctx.Err(), appErr.StartupError,
				"startup wait for %s canceled", containerID)
		case <-time.After(o.cfg.HealthPollInterval):
		}
	}
}

// rollback removes a partially created container and the registry placeholder.
// No orphan containers survive a failed spawn.
func (o *Orchestrator) rollback(ctx context.Context, inst RunningInstance) {
	if inst.ContainerID != "" {
		if err := o.runtime.Stop(ctx, inst.ContainerID); err != nil {
			logger.Warn(ctx, "rollback stop failed",
				zap.String("container_id", inst.ContainerID), zap.Error(err))
		}
		if err := o.runtime.Remove(ctx, inst.ContainerID); err != nil {
			logger.Error(ctx, "rollback remove failed, container may be orphaned",
				zap.String("container_id", inst.ContainerID), zap.Error(err))
		}
	}
	o.registry.Delete(inst.InstanceID)
}

// Stop tears down an instance. Stopping an unknown or already-stopped
// instance is a no-op: teardown may race with the expiry sweep. On runtime
// failure the registry entry survives for the next sweep pass.
func (o *Orchestrator) Stop(ctx context.Context, instanceID string) error {
	o.teardownMu.Lock()
	defer o.teardownMu.Unlock()

	inst, ok := o.registry.Get(instanceID)
	if !ok {
		return nil
	}
	o.registry.SetStatus(instanceID, StatusStopping)

	if inst.ContainerID != "" {
		if err := o.runtime.Stop(ctx, inst.ContainerID); err != nil {
			logger.Warn(ctx, "stop container failed, will retry on next sweep",
				zap.String("instance_id", instanceID), zap.Error(err))
			return err
		}
		if err := o.runtime.Remove(ctx, inst.ContainerID); err != nil {
			logger.Warn(ctx, "remove container failed, will retry on next sweep",
				zap.String("instance_id", instanceID), zap.Error(err))
			return err
		}
	}

	o.registry.Delete(instanceID)
	logger.Info(ctx, "challenge instance stopped",
		zap.String("instance_id", instanceID),
		zap.String("challenge_id", inst.ChallengeID))
	return nil
}

// ListRunning returns tracked instances, optionally filtered by user, after
// reconciling the registry against live runtime state. Discrepancies are
// logged; the cleanup pass corrects them toward absent-from-both.
func (o *Orchestrator) ListRunning(ctx context.Context, userID string) ([]RunningInstance, error) {
	labelFilter := map[string]string{LabelChallengeID: ""}
	if userID != "" {
		labelFilter = map[string]string{LabelUserID: userID}
	}
	summaries, err := o.runtime.List(ctx, labelFilter)
	if err != nil {
		return nil, err
	}

	live := make(map[string]runtime.Summary, len(summaries))
	for _, s := range summaries {
		live[s.ID] = s
	}

	tracked := make(map[string]struct{})
	var out []RunningInstance
	for _, inst := range o.registry.List() {
		if userID != "" && inst.UserID != userID {
			continue
		}
		tracked[inst.ContainerID] = struct{}{}
		if inst.Status == StatusRunning {
			if _, ok := live[inst.ContainerID]; !ok {
				logger.Warn(ctx, "registry instance missing from runtime",
					zap.String("instance_id", inst.InstanceID),
					zap.String("container_id", inst.ContainerID))
				continue
			}
		}
		out = append(out, inst)
	}
	for id, s := range live {
		if _, ok := tracked[id]; !ok {
			logger.Warn(ctx, "untracked challenge container in runtime",
				zap.String("container_id", id),
				zap.String("session_id", s.Labels[LabelSessionID]))
		}
	}
	return out, nil
}

// CleanupExpired stops every instance whose expiry has passed, then runs a
// best-effort reconciliation pass. Runtime failures are logged and left for
// the next sweep; instances that have not expired are never touched.
func (o *Orchestrator) CleanupExpired(ctx context.Context, now time.Time) int {
	cleaned := 0
	for _, inst := range o.registry.Expired(now) {
		if err := o.Stop(ctx, inst.InstanceID); err != nil {
			logger.Warn(ctx, "expired instance cleanup failed",
				zap.String("instance_id", inst.InstanceID), zap.Error(err))
			continue
		}
		cleaned++
	}
	o.reconcile(ctx)
	if cleaned > 0 {
		logger.Info(ctx, "expired instances cleaned", zap.Int("count", cleaned))
	}
	return cleaned
}

// reconcile drives runtime/registry disagreements toward absent-from-both:
// labeled containers nobody tracks are removed, and registry entries whose
// containers vanished are dropped.
func (o *Orchestrator) reconcile(ctx context.Context) {
	summaries, err := o.runtime.List(ctx, map[string]string{LabelChallengeID: ""})
	if err != nil {
		logger.Warn(ctx, "reconcile list failed", zap.Error(err))
		return
	}
	live := make(map[string]struct{}, len(summaries))
	for _, s := range summaries {
		live[s.ID] = struct{}{}
	}

	tracked := make(map[string]struct{})
	for _, inst := range o.registry.List() {
		tracked[inst.ContainerID] = struct{}{}
		if inst.Status == StatusStarting || inst.ContainerID == "" {
			continue
		}
		if _, ok := live[inst.ContainerID]; !ok {
			logger.Warn(ctx, "dropping registry entry for vanished container",
				zap.String("instance_id", inst.InstanceID))
			o.registry.Delete(inst.InstanceID)
		}
	}
	for _, s := range summaries {
		if _, ok := tracked[s.ID]; ok {
			continue
		}
		logger.Warn(ctx, "removing untracked challenge container",
			zap.String("container_id", s.ID))
		if err := o.runtime.Stop(ctx, s.ID); err != nil {
			logger.Warn(ctx, "stop untracked container failed", zap.Error(err))
			continue
		}
		if err := o.runtime.Remove(ctx, s.ID); err != nil {
			logger.Warn(ctx, "remove untracked container failed", zap.Error(err))
		}
	}
}

// ValidateFlag recomputes the expected flag for an instance and compares the
// submission in constant time. Unknown instances yield the same negative
// result as a wrong flag, so the response leaks nothing about which sessions
// exist.
func (o *Orchestrator) ValidateFlag(instanceID, submitted string) bool {
	inst, ok := o.registry.Get(instanceID)
	if !ok {
		return false
	}
	return o.flags.Validate(submitted, inst.ChallengeID, inst.UserID, inst.InstanceData)
}

// Instance returns a tracked instance by id.
func (o *Orchestrator) Instance(instanceID string) (RunningInstance, error) {
	inst, ok := o.registry.Get(instanceID)
	if !ok {
		return RunningInstance{}, appErr.Newf(appErr.InstanceNotFound,
			"instance not found: %s", instanceID)
	}
	return inst, nil
}

func shortID() string {
	return uuid.NewString()[:8]
}

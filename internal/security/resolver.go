package security

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"secrange/internal/catalog"
	appErr "secrange/pkg/errors"
	"secrange/pkg/utils/logger"
)

// Ceilings are the hard per-container resource limits. A challenge may request
// less, never more.
type Ceilings struct {
	MemoryBytes int64
	CPUs        float64
	PidsLimit   int64
	MaxPorts    int
	MaxVolumes  int
	MaxEnvVars  int
}

// DefaultCeilings returns the enforced limits for a single-host deployment.
func DefaultCeilings() Ceilings {
	return Ceilings{
		MemoryBytes: 2 << 30, // 2 GiB
		CPUs:        4.0,
		PidsLimit:   1024,
		MaxPorts:    5,
		MaxVolumes:  3,
		MaxEnvVars:  20,
	}
}

// capabilityAllowlist is the fixed set of capabilities a challenge may request
// on top of the drop-ALL baseline. Everything else is rejected outright.
var capabilityAllowlist = map[string]struct{}{
	"NET_ADMIN": {},
	"NET_RAW":   {},
	"SYS_TIME":  {},
}

// Resolver merges a named base profile with challenge-declared overrides.
type Resolver struct {
	profiles map[string]Profile
	ceilings Ceilings
}

// NewResolver builds a resolver with the built-in base profiles.
func NewResolver(ceilings Ceilings) *Resolver {
	return &Resolver{
		profiles: baseProfiles(),
		ceilings: ceilings,
	}
}

// Resolve computes the enforceable profile for one container spec. It rejects
// any capability outside the allowlist and any resource request above a
// ceiling; callers must not touch the runtime when an error is returned.
func (r *Resolver) Resolve(ctx context.Context, profileName string, spec catalog.ContainerSpec) (Profile, error) {
	if profileName == "" {
		profileName = "challenge"
	}
	base, ok := r.profiles[profileName]
	if !ok {
		logger.Warn(ctx, "unknown security profile, using default",
			zap.String("profile", profileName))
		base = r.profiles["default"]
	}

	if err := r.checkCapabilities(base, spec.Capabilities); err != nil {
		return Profile{}, err
	}
	if err := r.checkCeilings(spec); err != nil {
		return Profile{}, err
	}

	resolved := base
	resolved.CapabilitiesAdd = normalizeCapabilities(spec.Capabilities)

	// Challenge-declared tmpfs volumes ride along with the baseline /tmp mount.
	for _, vol := range spec.Volumes {
		if vol.Type != catalog.VolumeTypeTmpfs {
			continue
		}
		opts := vol.Options
		if opts == "" {
			opts = "rw,noexec,nosuid,size=64m"
		}
		resolved.TmpfsMounts = append(resolved.TmpfsMounts, TmpfsMount{
			Target:  vol.Target,
			Options: opts,
		})
	}
	return resolved, nil
}

func (r *Resolver) checkCapabilities(base Profile, requested []string) error {
	if len(requested) > 0 && base.Name == "restricted" {
		return appErr.Newf(appErr.CapabilityNotAllowed,
			"profile %s does not permit capability grants", base.Name)
	}
	for _, cap := range requested {
		name := normalizeCapability(cap)
		if _, ok := capabilityAllowlist[name]; !ok {
			return appErr.Newf(appErr.CapabilityNotAllowed,
				"capability %s is not in the allowlist", cap)
		}
	}
	return nil
}

func (r *Resolver) checkCeilings(spec catalog.ContainerSpec) error {
	limits := spec.ResourceLimits

	memBytes, err := limits.MemoryBytes()
	if err != nil {
		return err
	}
	if memBytes > r.ceilings.MemoryBytes {
		return appErr.Newf(appErr.ResourceCeilingExceed,
			"memory request %d exceeds ceiling %d", memBytes, r.ceilings.MemoryBytes)
	}
	if limits.CPUs > r.ceilings.CPUs {
		return appErr.Newf(appErr.ResourceCeilingExceed,
			"cpu request %.2f exceeds ceiling %.2f", limits.CPUs, r.ceilings.CPUs)
	}
	if limits.PidsLimit > r.ceilings.PidsLimit {
		return appErr.Newf(appErr.ResourceCeilingExceed,
			"pids request %d exceeds ceiling %d", limits.PidsLimit, r.ceilings.PidsLimit)
	}
	if len(spec.Ports) > r.ceilings.MaxPorts {
		return appErr.Newf(appErr.ResourceCeilingExceed,
			"%d port mappings exceed ceiling %d", len(spec.Ports), r.ceilings.MaxPorts)
	}
	if len(spec.Environment) > r.ceilings.MaxEnvVars {
		return appErr.Newf(appErr.ResourceCeilingExceed,
			"%d environment variables exceed ceiling %d", len(spec.Environment), r.ceilings.MaxEnvVars)
	}
	if len(spec.Volumes) > r.ceilings.MaxVolumes {
		return appErr.Newf(appErr.ResourceCeilingExceed,
			"%d volumes exceed ceiling %d", len(spec.Volumes), r.ceilings.MaxVolumes)
	}
	for _, vol := range spec.Volumes {
		if vol.Type != catalog.VolumeTypeTmpfs && vol.Type != catalog.VolumeTypeNamed {
			return appErr.Newf(appErr.MountNotAllowed,
				"volume type %q is not allowed", vol.Type)
		}
	}
	return nil
}

func normalizeCapability(cap string) string {
	return strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(cap)), "CAP_")
}

func normalizeCapabilities(caps []string) []string {
	if len(caps) == 0 {
		return nil
	}
	out := make([]string, 0, len(caps))
	for _, cap := range caps {
		out = append(out, normalizeCapability(cap))
	}
	return out
}

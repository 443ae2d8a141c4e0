// Package security resolves challenge container specs against the enforced
// isolation policy. Resolution is fail-closed: a spec that asks for anything
// outside the allowlist or above a ceiling is rejected before any runtime call.
package security

// NetworkMode values applied to resolved profiles.
const (
	NetworkBridge = "bridge"
	NetworkNone   = "none"
)

// TmpfsMount describes one tmpfs mount in a resolved profile.
type TmpfsMount struct {
	Target  string
	Options string
}

// Profile is the resolved, enforceable container security posture. It is
// computed per spawn and never persisted.
type Profile struct {
	Name            string
	CapabilitiesAdd []string // always a subset of the global allowlist
	DropAll         bool     // baseline: drop every capability first
	NoNewPrivileges bool
	ReadOnlyRootFS  bool
	RunAsUser       string // uid:gid
	NetworkMode     string
	IPCMode         string
	TmpfsMounts     []TmpfsMount
}

// basePosture is the shared starting point for every named profile.
func basePosture(name string) Profile {
	return Profile{
		Name:            name,
		DropAll:         true,
		NoNewPrivileges: true,
		ReadOnlyRootFS:  true,
		RunAsUser:       "1000:1000",
		NetworkMode:     NetworkBridge,
		IPCMode:         "none",
		TmpfsMounts: []TmpfsMount{
			{Target: "/tmp", Options: "rw,noexec,nosuid,size=100m"},
		},
	}
}

// baseProfiles returns the built-in postures. "isolated" removes network
// access entirely; "restricted" additionally forbids any capability grant.
func baseProfiles() map[string]Profile {
	profiles := map[string]Profile{
		"default":   basePosture("default"),
		"challenge": basePosture("challenge"),
	}

	isolated := basePosture("isolated")
	isolated.NetworkMode = NetworkNone
	profiles["isolated"] = isolated

	restricted := basePosture("restricted")
	restricted.NetworkMode = NetworkNone
	profiles["restricted"] = restricted

	return profiles
}

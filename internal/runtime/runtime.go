// Package runtime defines the abstract container runtime contract the engine
// depends on, plus the Docker implementation of it.
package runtime

import "context"

// ContainerConfig is the runtime-facing creation request built by the
// orchestrator after security resolution. Host port "" means the runtime
// picks an ephemeral port.
type ContainerConfig struct {
	Name           string
	Image          string
	Env            []string
	Labels         map[string]string
	Ports          map[string]string // container port -> host port ("" = dynamic)
	Memory         int64             // bytes, 0 = unlimited
	NanoCPUs       int64             // 1e9 = one core, 0 = unlimited
	PidsLimit      int64             // 0 = unlimited
	CapAdd         []string
	CapDrop        []string
	SecurityOpt    []string
	ReadOnlyRootFS bool
	User           string
	NetworkMode    string
	IPCMode        string
	Tmpfs          map[string]string // target -> mount options
	NamedVolumes   map[string]string // volume name -> target
}

// Status is the observed state of one container.
type Status struct {
	Running  bool
	Health   string // healthy, unhealthy, starting, or "" when unconfigured
	ExitCode int
	Ports    map[string]string // container port -> bound host port
}

// Summary is one entry of a label-filtered container listing.
type Summary struct {
	ID     string
	Name   string
	State  string
	Labels map[string]string
}

// Runtime is the abstract container runtime the orchestrator talks to.
// Stop and Remove are idempotent: acting on an unknown container is a no-op.
type Runtime interface {
	Create(ctx context.Context, cfg ContainerConfig) (string, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
	Inspect(ctx context.Context, id string) (Status, error)
	List(ctx context.Context, labelFilter map[string]string) ([]Summary, error)
}

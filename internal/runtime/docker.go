package runtime

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	appErr "secrange/pkg/errors"
)

const stopGraceSeconds = 10

// DockerRuntime implements Runtime against the local Docker daemon.
type DockerRuntime struct {
	cli         *client.Client
	pullTimeout time.Duration
}

// NewDockerRuntime connects to the daemon and verifies it is reachable.
func NewDockerRuntime(ctx context.Context) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.RuntimeError, "create docker client failed")
	}
	if _, err := cli.Ping(ctx); err != nil {
		return nil, appErr.Wrapf(err, appErr.RuntimeError, "docker daemon unreachable")
	}
	return &DockerRuntime{cli: cli, pullTimeout: 5 * time.Minute}, nil
}

// Create pulls the image when needed and creates the container without
// starting it.
func (d *DockerRuntime) Create(ctx context.Context, cfg ContainerConfig) (string, error) {
	if err := d.ensureImage(ctx, cfg.Image); err != nil {
		return "", err
	}

	exposed, bindings, err := portBindings(cfg.Ports)
	if err != nil {
		return "", err
	}

	containerCfg := &container.Config{
		Image:        cfg.Image,
		Env:          cfg.Env,
		Labels:       cfg.Labels,
		User:         cfg.User,
		ExposedPorts: exposed,
	}

	var pidsLimit *int64
	if cfg.PidsLimit > 0 {
		limit := cfg.PidsLimit
		pidsLimit = &limit
	}

	hostCfg := &container.HostConfig{
		PortBindings:   bindings,
		CapAdd:         cfg.CapAdd,
		CapDrop:        cfg.CapDrop,
		SecurityOpt:    cfg.SecurityOpt,
		ReadonlyRootfs: cfg.ReadOnlyRootFS,
		NetworkMode:    container.NetworkMode(cfg.NetworkMode),
		IpcMode:        container.IpcMode(cfg.IPCMode),
		Tmpfs:          cfg.Tmpfs,
		Resources: container.Resources{
			Memory:    cfg.Memory,
			NanoCPUs:  cfg.NanoCPUs,
			PidsLimit: pidsLimit,
		},
	}
	for name, target := range cfg.NamedVolumes {
		hostCfg.Mounts = append(hostCfg.Mounts, mount.Mount{
			Type:   mount.TypeVolume,
			Source: name,
			Target: target,
		})
	}

	created, err := d.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, cfg.Name)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.RuntimeError, "create container %s failed", cfg.Name)
	}
	return created.ID, nil
}

func (d *DockerRuntime) ensureImage(ctx context.Context, ref string) error {
	if _, _, err := d.cli.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	}

	pullCtx, cancel := context.WithTimeout(ctx, d.pullTimeout)
	defer cancel()

	rc, err := d.cli.ImagePull(pullCtx, ref, image.PullOptions{})
	if err != nil {
		return appErr.Wrapf(err, appErr.ImageNotAvailable, "pull image %q failed", ref)
	}
	defer rc.Close()
	_, _ = io.Copy(io.Discard, rc)
	return nil
}

// Start starts a created container.
func (d *DockerRuntime) Start(ctx context.Context, id string) error {
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return appErr.Wrapf(err, appErr.RuntimeError, "start container %s failed", id)
	}
	return nil
}

// Stop stops a container with a grace period. Unknown containers are a no-op.
func (d *DockerRuntime) Stop(ctx context.Context, id string) error {
	grace := stopGraceSeconds
	err := d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &grace})
	if err != nil && !client.IsErrNotFound(err) {
		return appErr.Wrapf(err, appErr.RuntimeError, "stop container %s failed", id)
	}
	return nil
}

// Remove force-removes a container. Unknown containers are a no-op.
func (d *DockerRuntime) Remove(ctx context.Context, id string) error {
	err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return appErr.Wrapf(err, appErr.RuntimeError, "remove container %s failed", id)
	}
	return nil
}

// Restart restarts a container with the standard grace period.
func (d *DockerRuntime) Restart(ctx context.Context, id string) error {
	grace := stopGraceSeconds
	if err := d.cli.ContainerRestart(ctx, id, container.StopOptions{Timeout: &grace}); err != nil {
		return appErr.Wrapf(err, appErr.RuntimeError, "restart container %s failed", id)
	}
	return nil
}

// Inspect reports the container's running state, health and port bindings.
func (d *DockerRuntime) Inspect(ctx context.Context, id string) (Status, error) {
	info, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return Status{}, appErr.Newf(appErr.InstanceNotFound, "container not found: %s", id)
		}
		return Status{}, appErr.Wrapf(err, appErr.RuntimeError, "inspect container %s failed", id)
	}

	status := Status{Ports: map[string]string{}}
	if info.State != nil {
		status.Running = info.State.Running
		status.ExitCode = info.State.ExitCode
		if info.State.Health != nil {
			status.Health = info.State.Health.Status
		}
	}
	if info.NetworkSettings != nil {
		for port, hostBindings := range info.NetworkSettings.Ports {
			if len(hostBindings) > 0 {
				status.Ports[string(port)] = hostBindings[0].HostPort
			}
		}
	}
	return status, nil
}

// List returns containers matching every given label, running or not.
func (d *DockerRuntime) List(ctx context.Context, labelFilter map[string]string) ([]Summary, error) {
	args := filters.NewArgs()
	for key, value := range labelFilter {
		if value == "" {
			args.Add("label", key)
			continue
		}
		args.Add("label", key+"="+value)
	}

	containers, err := d.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.RuntimeError, "list containers failed")
	}

	out := make([]Summary, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = c.Names[0]
		}
		out = append(out, Summary{
			ID:     c.ID,
			Name:   name,
			State:  c.State,
			Labels: c.Labels,
		})
	}
	return out, nil
}

// Close releases the underlying client.
func (d *DockerRuntime) Close() error {
	return d.cli.Close()
}

func portBindings(ports map[string]string) (nat.PortSet, nat.PortMap, error) {
	if len(ports) == 0 {
		return nil, nil, nil
	}
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for containerPort, hostPort := range ports {
		// Catalog keys carry an optional protocol suffix, e.g. "5000/tcp".
		num, proto := containerPort, "tcp"
		if i := strings.IndexByte(containerPort, '/'); i >= 0 {
			num, proto = containerPort[:i], containerPort[i+1:]
		}
		port, err := nat.NewPort(proto, num)
		if err != nil {
			return nil, nil, appErr.Wrapf(err, appErr.InvalidParams,
				"invalid container port %q", containerPort)
		}
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: hostPort}}
	}
	return exposed, bindings, nil
}

var _ Runtime = (*DockerRuntime)(nil)

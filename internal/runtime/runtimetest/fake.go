// Package runtimetest provides an in-memory Runtime with call counting and
// failure injection for engine tests.
package runtimetest

import (
	"context"
	"fmt"
	"sync"

	"secrange/internal/runtime"
	appErr "secrange/pkg/errors"
)

type fakeContainer struct {
	cfg     runtime.ContainerConfig
	running bool
	health  string
}

// Calls counts runtime invocations.
type Calls struct {
	Create  int
	Start   int
	Stop    int
	Remove  int
	Restart int
	Inspect int
	List    int
}

// Fake is an in-memory container runtime.
type Fake struct {
	mu         sync.Mutex
	containers map[string]*fakeContainer
	nextID     int
	calls      Calls

	// Failure injection: non-nil errors are returned by the next matching
	// call until cleared.
	CreateErr  error
	StartErr   error
	StopErr    error
	RemoveErr  error
	RestartErr error

	// DefaultHealth is reported by Inspect for running containers.
	DefaultHealth string
}

// NewFake creates an empty fake runtime.
func NewFake() *Fake {
	return &Fake{containers: make(map[string]*fakeContainer)}
}

// Calls returns a snapshot of invocation counters.
func (f *Fake) Calls() Calls {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Len returns the number of containers, running or not.
func (f *Fake) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

// Config returns the creation request of a container.
func (f *Fake) Config(id string) (runtime.ContainerConfig, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return runtime.ContainerConfig{}, false
	}
	return c.cfg, true
}

// SetHealth overrides the reported health of one container.
func (f *Fake) SetHealth(id, health string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		c.health = health
	}
}

// SetRunning flips the running state of one container.
func (f *Fake) SetRunning(id string, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		c.running = running
	}
}

func (f *Fake) Create(_ context.Context, cfg runtime.ContainerConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Create++
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	f.nextID++
	id := fmt.Sprintf("ctr-%d", f.nextID)
	f.containers[id] = &fakeContainer{cfg: cfg, health: f.DefaultHealth}
	return id, nil
}

func (f *Fake) Start(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Start++
	if f.StartErr != nil {
		return f.StartErr
	}
	c, ok := f.containers[id]
	if !ok {
		return appErr.Newf(appErr.InstanceNotFound, "container not found: %s", id)
	}
	c.running = true
	return nil
}

func (f *Fake) Stop(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Stop++
	if f.StopErr != nil {
		return f.StopErr
	}
	if c, ok := f.containers[id]; ok {
		c.running = false
	}
	return nil
}

func (f *Fake) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Remove++
	if f.RemoveErr != nil {
		return f.RemoveErr
	}
	delete(f.containers, id)
	return nil
}

func (f *Fake) Restart(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Restart++
	if f.RestartErr != nil {
		return f.RestartErr
	}
	c, ok := f.containers[id]
	if !ok {
		return appErr.Newf(appErr.InstanceNotFound, "container not found: %s", id)
	}
	c.running = true
	c.health = f.DefaultHealth
	return nil
}

func (f *Fake) Inspect(_ context.Context, id string) (runtime.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Inspect++
	c, ok := f.containers[id]
	if !ok {
		return runtime.Status{}, appErr.Newf(appErr.InstanceNotFound, "container not found: %s", id)
	}

	ports := make(map[string]string, len(c.cfg.Ports))
	seq := 32768
	for containerPort, hostPort := range c.cfg.Ports {
		if hostPort == "" {
			hostPort = fmt.Sprintf("%d", seq)
			seq++
		}
		ports[containerPort] = hostPort
	}
	return runtime.Status{Running: c.running, Health: c.health, Ports: ports}, nil
}

func (f *Fake) List(_ context.Context, labelFilter map[string]string) ([]runtime.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.List++
	var out []runtime.Summary
	for id, c := range f.containers {
		if !matches(c.cfg.Labels, labelFilter) {
			continue
		}
		state := "exited"
		if c.running {
			state = "running"
		}
		out = append(out, runtime.Summary{
			ID:     id,
			Name:   c.cfg.Name,
			State:  state,
			Labels: c.cfg.Labels,
		})
	}
	return out, nil
}

func matches(labels, filter map[string]string) bool {
	for key, value := range filter {
		got, ok := labels[key]
		if !ok {
			return false
		}
		if value != "" && got != value {
			return false
		}
	}
	return true
}

var _ runtime.Runtime = (*Fake)(nil)

package orchestrator

import (
	"sync"
	"time"
)

// InstanceStatus is the lifecycle state of one running instance.
type InstanceStatus string

const (
	StatusStarting InstanceStatus = "starting"
	StatusRunning  InstanceStatus = "running"
	StatusStopping InstanceStatus = "stopping"
	StatusStopped  InstanceStatus = "stopped"
	StatusError    InstanceStatus = "error"
)

// RunningInstance is one live challenge container tracked by the engine.
// InstanceData is retained so flag validation can recompute the expected
// value without any stored secret-independent artifact.
type RunningInstance struct {
	InstanceID   string
	ChallengeID  string
	UserID       string
	SessionID    string
	ContainerID  string
	HostPorts    map[string]string // container port -> bound host port
	Flag         string
	InstanceData string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	Status       InstanceStatus
}

// Registry is the authoritative in-process record of running instances.
// It is constructed at process start and injected, so tests get fresh,
// isolated registries. Slow runtime I/O never happens under its lock.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]RunningInstance
}

// NewRegistry creates an empty instance registry.
func NewRegistry() *Registry {
	return &Registry{instances: make(map[string]RunningInstance)}
}

// Put inserts or replaces an instance record.
func (r *Registry) Put(inst RunningInstance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.InstanceID] = inst
}

// Get returns a copy of the instance record.
func (r *Registry) Get(id string) (RunningInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	return inst, ok
}

// Delete removes an instance record.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, id)
}

// SetStatus updates the lifecycle state of an instance if it still exists.
func (r *Registry) SetStatus(id string, status InstanceStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[id]; ok {
		inst.Status = status
		r.instances[id] = inst
	}
}

// List returns copies of all instance records.
func (r *Registry) List() []RunningInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RunningInstance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	return out
}

// Expired returns instances whose expiry has passed at the given time.
// Instances still starting are never considered expired.
func (r *Registry) Expired(now time.Time) []RunningInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []RunningInstance
	for _, inst := range r.instances {
		if inst.Status == StatusStarting {
			continue
		}
		if inst.ExpiresAt.Before(now) {
			out = append(out, inst)
		}
	}
	return out
}

// Len returns the number of tracked instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

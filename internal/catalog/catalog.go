// Package catalog loads and indexes the static challenge catalog.
package catalog

import (
	"github.com/docker/go-units"

	appErr "secrange/pkg/errors"
)

// Difficulty levels accepted in the catalog.
const (
	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"
	DifficultyExpert       = "expert"
)

var validDifficulties = map[string]struct{}{
	DifficultyBeginner:     {},
	DifficultyIntermediate: {},
	DifficultyAdvanced:     {},
	DifficultyExpert:       {},
}

// Volume types a challenge may declare. Bind mounts are rejected by the
// security resolver, so they are not representable here.
const (
	VolumeTypeTmpfs = "tmpfs"
	VolumeTypeNamed = "volume"
)

// ResourceLimits declares the resources a challenge asks for. The security
// resolver enforces ceilings on top of these values.
type ResourceLimits struct {
	Memory    string  `json:"memory"`     // human form, e.g. "256m"
	CPUs      float64 `json:"cpus"`       // fractional cores
	PidsLimit int64   `json:"pids_limit"` // max processes
}

// MemoryBytes parses the human-readable memory limit.
func (r ResourceLimits) MemoryBytes() (int64, error) {
	if r.Memory == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(r.Memory)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.SchemaError, "invalid memory limit %q", r.Memory)
	}
	return n, nil
}

// VolumeSpec declares one mount requested by a challenge.
type VolumeSpec struct {
	Type    string `json:"type"`   // tmpfs or volume
	Target  string `json:"target"` // mount point inside the container
	Source  string `json:"source,omitempty"`
	Options string `json:"options,omitempty"`
}

// ContainerSpec is the container shape a challenge declares. Host port "dynamic"
// asks the runtime to pick an ephemeral port.
type ContainerSpec struct {
	Image           string            `json:"image"`
	Ports           map[string]string `json:"ports,omitempty"` // container port -> host port or "dynamic"
	Environment     map[string]string `json:"environment,omitempty"`
	ResourceLimits  ResourceLimits    `json:"resource_limits"`
	SecurityProfile string            `json:"security_profile,omitempty"`
	Capabilities    []string          `json:"capabilities,omitempty"`
	Volumes         []VolumeSpec      `json:"volumes,omitempty"`
}

// Definition is one validated catalog entry. Immutable after load.
type Definition struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"`
	Difficulty         string        `json:"difficulty"`
	Category           string        `json:"category"`
	Points             int           `json:"points"`
	Tags               []string      `json:"tags,omitempty"`
	Description        string        `json:"description,omitempty"`
	ContainerSpec      ContainerSpec `json:"container_spec"`
	Hints              []string      `json:"hints,omitempty"`
	LearningObjectives []string      `json:"learning_objectives,omitempty"`
}

// Index is an id-keyed read-only view over loaded definitions.
type Index struct {
	byID  map[string]Definition
	order []string
}

// NewIndex builds an index from validated definitions.
func NewIndex(defs []Definition) *Index {
	idx := &Index{byID: make(map[string]Definition, len(defs))}
	for _, def := range defs {
		idx.byID[def.ID] = def
		idx.order = append(idx.order, def.ID)
	}
	return idx
}

// Get returns the definition for an id.
func (i *Index) Get(id string) (Definition, error) {
	def, ok := i.byID[id]
	if !ok {
		return Definition{}, appErr.Newf(appErr.ChallengeNotFound, "challenge not found: %s", id)
	}
	return def, nil
}

// All returns definitions in catalog order.
func (i *Index) All() []Definition {
	out := make([]Definition, 0, len(i.order))
	for _, id := range i.order {
		out = append(out, i.byID[id])
	}
	return out
}

// Len returns the number of definitions.
func (i *Index) Len() int {
	return len(i.byID)
}

package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const ProfileSchemaV1 = "cascade.profile.v1"

// Profile is the operator-supplied resource document: per-stage compute
// defaults plus run-level parallelism bounds. Caller overrides merge on top
// of it per run.
type Profile struct {
	Schema         string                      `yaml:"schema"`
	MaxParallelism int                         `yaml:"max_parallelism"`
	TasksPerNode   int                         `yaml:"tasks_per_node"`
	Stages         map[string]ProfileResources `yaml:"stages"`
}

type ProfileResources struct {
	CPU           string `yaml:"cpu,omitempty"`
	Memory        string `yaml:"memory,omitempty"`
	MachineClass  string `yaml:"machine_class,omitempty"`
	BootDiskClass string `yaml:"boot_disk_class,omitempty"`
	MaxDuration   string `yaml:"max_duration,omitempty"`
}

func ParseProfile(input []byte) (Profile, error) {
	var profile Profile
	if err := yaml.Unmarshal(input, &profile); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	if err := profile.Validate(); err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// DefaultProfile is used when no profile document is configured.
func DefaultProfile() Profile {
	return Profile{
		Schema:         ProfileSchemaV1,
		MaxParallelism: 100,
		TasksPerNode:   1,
		Stages: map[string]ProfileResources{
			string(StageSetup):   {CPU: "2", Memory: "4Gi", MaxDuration: "1h"},
			string(StageFanout):  {CPU: "4", Memory: "8Gi", MaxDuration: "4h"},
			string(StageCollect): {CPU: "2", Memory: "8Gi", MaxDuration: "1h"},
		},
	}
}

func (p Profile) Validate() error {
	if strings.TrimSpace(p.Schema) != ProfileSchemaV1 {
		return fmt.Errorf("profile.schema must be %q", ProfileSchemaV1)
	}
	if p.MaxParallelism < 1 {
		return errors.New("profile.max_parallelism must be >= 1")
	}
	if p.TasksPerNode < 1 {
		return errors.New("profile.tasks_per_node must be >= 1")
	}
	for name, res := range p.Stages {
		if !Stage(name).Valid() {
			return fmt.Errorf("profile.stages key unsupported: %q", name)
		}
		if strings.TrimSpace(res.MaxDuration) != "" {
			if _, err := time.ParseDuration(res.MaxDuration); err != nil {
				return fmt.Errorf("profile.stages.%s.max_duration: %w", name, err)
			}
		}
	}
	return nil
}

// ResourceDefaults resolves the default shape for one stage. The profile is
// validated at load time, so the duration parse cannot fail here.
func (p Profile) ResourceDefaults(stage Stage) ResourceShape {
	res, ok := p.Stages[string(stage)]
	if !ok {
		return ResourceShape{}
	}
	shape := ResourceShape{
		CPU:           strings.TrimSpace(res.CPU),
		Memory:        strings.TrimSpace(res.Memory),
		MachineClass:  strings.TrimSpace(res.MachineClass),
		BootDiskClass: strings.TrimSpace(res.BootDiskClass),
	}
	if strings.TrimSpace(res.MaxDuration) != "" {
		if d, err := time.ParseDuration(res.MaxDuration); err == nil {
			shape.MaxDuration = d
		}
	}
	return shape
}

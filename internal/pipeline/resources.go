package pipeline

import (
	"strings"
	"time"
)

// ResourceShape is the per-task compute request for one stage.
type ResourceShape struct {
	CPU           string
	Memory        string
	MachineClass  string
	BootDiskClass string
	MaxDuration   time.Duration
}

// MergeResources combines defaults and overrides key by key; a non-zero
// override wins. Pure and deterministic.
func MergeResources(defaults, overrides ResourceShape) ResourceShape {
	out := defaults
	if overrides.CPU != "" {
		out.CPU = overrides.CPU
	}
	if overrides.Memory != "" {
		out.Memory = overrides.Memory
	}
	if overrides.MachineClass != "" {
		out.MachineClass = overrides.MachineClass
	}
	if overrides.BootDiskClass != "" {
		out.BootDiskClass = overrides.BootDiskClass
	}
	if overrides.MaxDuration > 0 {
		out.MaxDuration = overrides.MaxDuration
	}
	return out
}

// Machine classes the execution backend refuses to schedule with the
// default boot disk. Matched by substring after the merge; the caller's
// explicit boot-disk choice is never overridden.
var bootDiskRules = []struct {
	machineClassSubstring string
	bootDiskClass         string
}{
	{"c3d-", "hyperdisk-balanced"},
	{"c3-", "hyperdisk-balanced"},
	{"h3-", "hyperdisk-balanced"},
}

// ApplyBootDiskRule resolves the boot-disk class a machine class requires.
func ApplyBootDiskRule(shape ResourceShape) ResourceShape {
	if shape.BootDiskClass != "" || shape.MachineClass == "" {
		return shape
	}
	for _, rule := range bootDiskRules {
		if strings.Contains(shape.MachineClass, rule.machineClassSubstring) {
			shape.BootDiskClass = rule.bootDiskClass
			return shape
		}
	}
	return shape
}

// ComputeParallelism caps the fan-out width n to maxParallelism and bounds
// tasksPerNode to the work available. Callers guarantee n >= 1; the zero
// case is a hard setup failure handled before this point.
func ComputeParallelism(n, maxParallelism, tasksPerNode int) (effectiveParallelism, effectiveTasksPerNode int) {
	if maxParallelism < 1 {
		maxParallelism = 1
	}
	if tasksPerNode < 1 {
		tasksPerNode = 1
	}
	effectiveParallelism = n
	if maxParallelism < n {
		effectiveParallelism = maxParallelism
	}
	effectiveTasksPerNode = tasksPerNode
	if n < tasksPerNode {
		effectiveTasksPerNode = n
	}
	return effectiveParallelism, effectiveTasksPerNode
}

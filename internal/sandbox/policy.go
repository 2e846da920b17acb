package sandbox

import "fmt"

// ContainerPolicy is the resource envelope applied to every project
// container. It is operator configuration: requests carry no knobs and
// cannot negotiate it.
type ContainerPolicy struct {
	MemoryMB  int64   `json:"memory_mb"`
	CPUs      float64 `json:"cpus"`
	MountPath string  `json:"mount_path"` // in-container workspace path, also the working dir
}

func DefaultPolicy() ContainerPolicy {
	return ContainerPolicy{
		MemoryMB:  512,
		CPUs:      1.0,
		MountPath: "/workspace",
	}
}

func (p ContainerPolicy) Validate() error {
	if p.MemoryMB < 16 || p.MemoryMB > 8192 {
		return fmt.Errorf("memory_mb must be 16-8192, got %d", p.MemoryMB)
	}
	if p.CPUs < 0.1 || p.CPUs > 16 {
		return fmt.Errorf("cpus must be 0.1-16, got %.1f", p.CPUs)
	}
	if p.MountPath == "" || p.MountPath[0] != '/' {
		return fmt.Errorf("mount_path must be absolute, got %q", p.MountPath)
	}
	return nil
}

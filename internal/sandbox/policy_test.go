package sandbox

import "testing"

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.MemoryMB != 512 {
		t.Errorf("MemoryMB = %d, want 512", p.MemoryMB)
	}
	if p.CPUs != 1.0 {
		t.Errorf("CPUs = %v, want 1.0", p.CPUs)
	}
	if p.MountPath != "/workspace" {
		t.Errorf("MountPath = %q, want /workspace", p.MountPath)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("default policy should validate, got %v", err)
	}
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  ContainerPolicy
		wantErr bool
	}{
		{"default", DefaultPolicy(), false},
		{"small but legal", ContainerPolicy{MemoryMB: 16, CPUs: 0.1, MountPath: "/w"}, false},
		{"memory too low", ContainerPolicy{MemoryMB: 8, CPUs: 1, MountPath: "/w"}, true},
		{"memory too high", ContainerPolicy{MemoryMB: 16384, CPUs: 1, MountPath: "/w"}, true},
		{"zero cpus", ContainerPolicy{MemoryMB: 512, CPUs: 0, MountPath: "/w"}, true},
		{"cpus too high", ContainerPolicy{MemoryMB: 512, CPUs: 32, MountPath: "/w"}, true},
		{"relative mount path", ContainerPolicy{MemoryMB: 512, CPUs: 1, MountPath: "workspace"}, true},
		{"empty mount path", ContainerPolicy{MemoryMB: 512, CPUs: 1, MountPath: ""}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

package domain

import "testing"

func TestValidateName(t *testing.T) {
	valid := []string{"my-blog", "api2", "ab", "shop-v2-admin"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"a", "My-Blog", "2cool", "-lead", "has_underscore", "has space", ""}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
}

func TestDeriveDisplayName(t *testing.T) {
	tests := map[string]string{
		"my-blog":  "My Blog",
		"api":      "Api",
		"shop-v2":  "Shop V2",
		"a-b-c":    "A B C",
	}
	for in, want := range tests {
		if got := DeriveDisplayName(in); got != want {
			t.Errorf("DeriveDisplayName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestProject_UnitName(t *testing.T) {
	p := &Project{Name: "blog"}
	if got := p.UnitName(RoleFrontend); got != "blog-fe" {
		t.Errorf("frontend unit = %q", got)
	}
	if got := p.UnitName(RoleBackend); got != "blog-be" {
		t.Errorf("backend unit = %q", got)
	}
}

func TestProject_HasTag(t *testing.T) {
	p := &Project{Name: "blog", Tags: []string{"local", "web"}}
	if !p.HasTag(nil) {
		t.Error("empty filter should match")
	}
	if !p.HasTag([]string{"web", "missing"}) {
		t.Error("intersecting filter should match")
	}
	if p.HasTag([]string{"prod"}) {
		t.Error("disjoint filter should not match")
	}
}

func TestRollup(t *testing.T) {
	on := &ServiceStatus{State: StateOnline}
	off := &ServiceStatus{State: StateStopped}
	bad := &ServiceStatus{State: StateErrored}
	fresh := &ServiceStatus{State: StateNotStarted}

	tests := []struct {
		name string
		in   []*ServiceStatus
		want OverallStatus
	}{
		{"none", nil, OverallStopped},
		{"all online", []*ServiceStatus{on, on}, OverallRunning},
		{"all idle", []*ServiceStatus{off, fresh}, OverallStopped},
		{"mixed", []*ServiceStatus{on, off}, OverallPartial},
		{"errored wins", []*ServiceStatus{on, bad}, OverallError},
		{"nil entries skipped", []*ServiceStatus{on, nil}, OverallRunning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Rollup(tt.in...); got != tt.want {
				t.Errorf("Rollup = %v, want %v", got, tt.want)
			}
		})
	}
}

package rbac

import "testing"

func TestAllowedExactAndWildcard(t *testing.T) {
	p := NewPolicy(DefaultRoles())
	if !p.Allowed([]string{"analista"}, "incidents.create") {
		t.Fatalf("analista should create incidents")
	}
	if p.Allowed([]string{"analista"}, "incidents.delete") {
		t.Fatalf("analista must not delete incidents")
	}
	if !p.Allowed([]string{"superadmin"}, "anything.at.all") {
		t.Fatalf("superadmin wildcard should allow everything")
	}
	if p.Allowed([]string{"desconocido"}, "incidents.view") {
		t.Fatalf("unknown role must be denied")
	}
	if p.Allowed(nil, "incidents.view") {
		t.Fatalf("empty role set must be denied")
	}
}

func TestAllowedAnyOfMultipleRoles(t *testing.T) {
	p := NewPolicy(DefaultRoles())
	if !p.Allowed([]string{"auditor", "encargado"}, "reports.generate") {
		t.Fatalf("encargado in the set should grant reports.generate")
	}
}

func TestPrefixWildcard(t *testing.T) {
	p := NewPolicy([]Role{{Name: "gestor", Permissions: []Permission{"incidents.*"}}})
	if !p.Allowed([]string{"gestor"}, "incidents.close") {
		t.Fatalf("incidents.* should cover incidents.close")
	}
	if p.Allowed([]string{"gestor"}, "reports.view") {
		t.Fatalf("incidents.* must not cover reports.view")
	}
}

func TestPermissionsForDedupes(t *testing.T) {
	p := NewPolicy([]Role{
		{Name: "a", Permissions: []Permission{"incidents.view", "reports.view"}},
		{Name: "b", Permissions: []Permission{"reports.view"}},
	})
	perms := p.PermissionsFor([]string{"a", "b"})
	if len(perms) != 2 {
		t.Fatalf("expected 2 deduped permissions, got %v", perms)
	}
}

func TestReloadReplacesPolicy(t *testing.T) {
	p := NewPolicy([]Role{{Name: "op", Permissions: []Permission{"incidents.view"}}})
	if !p.Allowed([]string{"op"}, "incidents.view") {
		t.Fatalf("initial policy should allow")
	}
	p.Reload([]Role{{Name: "op", Permissions: []Permission{"reports.view"}}})
	if p.Allowed([]string{"op"}, "incidents.view") {
		t.Fatalf("reload should have dropped incidents.view")
	}
	if !p.Allowed([]string{"op"}, "reports.view") {
		t.Fatalf("reload should have granted reports.view")
	}
}

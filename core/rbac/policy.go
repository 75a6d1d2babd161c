// Package rbac resolves role based permissions for the HTTP layer. Policies
// live in casbin's in-memory enforcer and are rebuilt whenever an admin edits
// a role, so permission changes apply without a restart.
package rbac

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

type Permission = string

type Role struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Permissions []Permission `json:"permissions"`
	BuiltIn     bool         `json:"built_in"`
}

const enforcerModel = `
[request_definition]
r = sub, obj

[policy_definition]
p = sub, obj

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && keyMatch(r.obj, p.obj)
`

type Policy struct {
	mu       sync.RWMutex
	enforcer *casbin.Enforcer
}

func NewPolicy(roles []Role) *Policy {
	p := &Policy{}
	p.enforcer = newEnforcer(roles)
	return p
}

func newEnforcer(roles []Role) *casbin.Enforcer {
	m, err := model.NewModelFromString(enforcerModel)
	if err != nil {
		panic(fmt.Sprintf("rbac: model: %v", err))
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		panic(fmt.Sprintf("rbac: enforcer: %v", err))
	}
	for _, r := range roles {
		for _, perm := range r.Permissions {
			if perm == "" {
				continue
			}
			_, _ = e.AddPolicy(r.Name, string(perm))
		}
	}
	return e
}

// Allowed reports whether any of the session roles grants the permission.
func (p *Policy) Allowed(roles []string, perm Permission) bool {
	if p == nil || p.enforcer == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, role := range roles {
		ok, err := p.enforcer.Enforce(role, string(perm))
		if err == nil && ok {
			return true
		}
	}
	return false
}

// PermissionsFor flattens the policy lines of the given roles into a sorted,
// deduplicated list. Wildcard grants are returned verbatim.
func (p *Policy) PermissionsFor(roles []string) []string {
	if p == nil || p.enforcer == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	seen := map[string]struct{}{}
	for _, role := range roles {
		rules, err := p.enforcer.GetFilteredPolicy(0, role)
		if err != nil {
			continue
		}
		for _, rule := range rules {
			if len(rule) < 2 {
				continue
			}
			seen[rule[1]] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for perm := range seen {
		out = append(out, perm)
	}
	sort.Strings(out)
	return out
}

// Reload replaces the active policy with the given role set.
func (p *Policy) Reload(roles []Role) {
	e := newEnforcer(roles)
	p.mu.Lock()
	p.enforcer = e
	p.mu.Unlock()
}

// KnownPermissions is every permission the route guards reference, plus the
// wildcard. Role editors validate against this list.
func KnownPermissions() []Permission {
	return []Permission{
		"*",
		"app.view", "dashboard.view",
		"accounts.view", "accounts.manage", "sessions.manage",
		"companies.view", "companies.manage",
		"incidents.view", "incidents.create", "incidents.edit", "incidents.close", "incidents.delete",
		"semilla.view", "semilla.edit",
		"taxonomies.view", "taxonomies.manage",
		"evidence.view", "evidence.upload", "evidence.delete",
		"reports.view", "reports.generate", "reports.download", "reports.templates.manage",
		"notify.view", "notify.manage",
		"logs.view", "logs.export",
	}
}

// NormalizePermissionNames lowercases, trims and deduplicates perms, keeping
// the input order for the first occurrence. Unknown names come back in the
// second return value so callers can reject the whole payload.
func NormalizePermissionNames(perms []string) ([]Permission, []string) {
	known := map[string]struct{}{}
	for _, p := range KnownPermissions() {
		known[string(p)] = struct{}{}
	}
	seen := map[string]struct{}{}
	var valid []Permission
	var invalid []string
	for _, raw := range perms {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if _, ok := known[name]; !ok {
			invalid = append(invalid, name)
			continue
		}
		valid = append(valid, Permission(name))
	}
	return valid, invalid
}

// DefaultRoles is the built-in role set seeded on first start. Admins manage
// the platform, delegates (encargados) run the full incident lifecycle,
// analysts register and document, auditors read.
func DefaultRoles() []Role {
	return []Role{
		{
			Name:        "superadmin",
			Description: "Acceso total a la plataforma",
			Permissions: []Permission{"*"},
			BuiltIn:     true,
		},
		{
			Name:        "admin",
			Description: "Administración de empresas, cuentas y configuración",
			Permissions: []Permission{
				"app.view", "dashboard.view",
				"accounts.view", "accounts.manage", "sessions.manage",
				"companies.view", "companies.manage",
				"incidents.view", "incidents.create", "incidents.edit", "incidents.close", "incidents.delete",
				"semilla.view", "semilla.edit",
				"taxonomies.view", "taxonomies.manage",
				"evidence.view", "evidence.upload", "evidence.delete",
				"reports.view", "reports.generate", "reports.download", "reports.templates.manage",
				"notify.view", "notify.manage",
				"logs.view", "logs.export",
			},
			BuiltIn: true,
		},
		{
			Name:        "encargado",
			Description: "Encargado de ciberseguridad: ciclo completo del incidente",
			Permissions: []Permission{
				"app.view", "dashboard.view",
				"companies.view",
				"incidents.view", "incidents.create", "incidents.edit", "incidents.close",
				"semilla.view", "semilla.edit",
				"taxonomies.view",
				"evidence.view", "evidence.upload", "evidence.delete",
				"reports.view", "reports.generate", "reports.download",
				"notify.view",
			},
			BuiltIn: true,
		},
		{
			Name:        "analista",
			Description: "Registro y documentación de incidentes",
			Permissions: []Permission{
				"app.view", "dashboard.view",
				"companies.view",
				"incidents.view", "incidents.create", "incidents.edit",
				"semilla.view",
				"taxonomies.view",
				"evidence.view", "evidence.upload",
				"reports.view", "reports.download",
			},
			BuiltIn: true,
		},
		{
			Name:        "auditor",
			Description: "Lectura para auditoría y fiscalización",
			Permissions: []Permission{
				"app.view", "dashboard.view",
				"companies.view", "incidents.view", "semilla.view",
				"taxonomies.view", "evidence.view", "reports.view",
				"logs.view", "logs.export",
			},
			BuiltIn: true,
		},
	}
}

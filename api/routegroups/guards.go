package routegroups

import "net/http"

// Guards carries the middleware hooks the server owns so route groups can
// declare protected endpoints without importing the server package.
type Guards struct {
	WithSession          func(http.HandlerFunc) http.HandlerFunc
	RequirePermission    func(string) func(http.HandlerFunc) http.HandlerFunc
	RequireAnyPermission func(...string) func(http.HandlerFunc) http.HandlerFunc
}

// SessionPerm wraps a handler with session validation plus one permission.
func (g Guards) SessionPerm(perm string, h http.HandlerFunc) http.HandlerFunc {
	return g.WithSession(g.RequirePermission(perm)(h))
}

// SessionAnyPerm admits the request when the session holds any of the
// listed permissions.
func (g Guards) SessionAnyPerm(perms []string, h http.HandlerFunc) http.HandlerFunc {
	return g.WithSession(g.RequireAnyPermission(perms...)(h))
}

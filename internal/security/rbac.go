package security

import (
	"fmt"
	"net/http"
	"strings"
)

// Roles
const (
	RoleOperator = "operator"
	RoleAgent    = "agent"
	RoleReadonly = "readonly"
)

// ValidRoles lists all valid roles.
var ValidRoles = []string{RoleOperator, RoleAgent, RoleReadonly}

// IsValidRole reports whether role is one of ValidRoles.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}

// routePermission defines which roles can access a method+path pattern.
type routePermission struct {
	Method  string // HTTP method ("GET", "POST", "*" for any)
	Pattern string // exact path, or prefix when it ends in "/"
	Roles   []string
}

// permissions defines the RBAC permission table. Operators are allowed
// everywhere and are not listed.
var permissions = []routePermission{
	{Method: "POST", Pattern: "/v1/authorize", Roles: []string{RoleAgent}},
	{Method: "GET", Pattern: "/v1/breaker", Roles: []string{RoleAgent, RoleReadonly}},
	{Method: "GET", Pattern: "/v1/profile", Roles: []string{RoleAgent, RoleReadonly}},
	{Method: "GET", Pattern: "/v1/audit/", Roles: []string{RoleReadonly}},
	{Method: "GET", Pattern: "/v1/decisions/stream", Roles: []string{RoleReadonly}},
}

// RequirePermission returns middleware that checks the caller's role against
// the permission table for the request's method and path.
func RequirePermission() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := GetClaims(r)
			if err != nil {
				// No claims means dev mode (no secret set): allow through
				next.ServeHTTP(w, r)
				return
			}
			if !claims.Allows(r.Method, r.URL.Path) {
				http.Error(w, fmt.Sprintf(`{"error":"%s"}`, ErrInsufficientRole.Error()), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CheckPermission checks if the given role is allowed to access method+path.
// Operator always has access.
func CheckPermission(role, method, path string) bool {
	if role == RoleOperator {
		return true
	}

	path = strings.TrimRight(path, "/")
	if path == "" {
		path = "/"
	}

	for _, perm := range permissions {
		if !matchRoute(perm.Pattern, path) || (perm.Method != "*" && perm.Method != method) {
			continue
		}
		for _, r := range perm.Roles {
			if r == role {
				return true
			}
		}
	}
	return false
}

// matchRoute matches an exact route, or a prefix route ending in "/".
func matchRoute(pattern, path string) bool {
	if strings.HasSuffix(pattern, "/") {
		return strings.HasPrefix(path+"/", pattern)
	}
	return path == pattern
}

package auth

import (
	"net/http"
	"strings"
)

// Route maps a path to the roles needed to read and to change it.
// A Path ending in "/" matches as a prefix.
type Route struct {
	Path  string
	Read  Role
	Write Role
}

func (r Route) matches(path string) bool {
	if strings.HasSuffix(r.Path, "/") {
		return strings.HasPrefix(path, r.Path) || path == strings.TrimSuffix(r.Path, "/")
	}
	return path == r.Path
}

// Policy resolves the role a request needs. The first matching route wins.
type Policy struct {
	public []Route
	routes []Route
}

// DefaultRoutes: viewers read everything, operators act on alarms and
// notifications, admins edit rules, devices push telemetry.
var DefaultRoutes = []Route{
	{Path: "/ingest/telemetry", Read: RoleDevice, Write: RoleDevice},
	{Path: "/api/v1/rules/", Read: RoleViewer, Write: RoleAdmin},
	{Path: "/api/v1/alarms/", Read: RoleViewer, Write: RoleOperator},
	{Path: "/api/v1/notifications/send", Read: RoleOperator, Write: RoleOperator},
	{Path: "/api/v1/delivery/log/export", Read: RoleOperator, Write: RoleOperator},
	{Path: "/api/v1/exports/", Read: RoleOperator, Write: RoleOperator},
	{Path: "/api/", Read: RoleViewer, Write: RoleOperator},
}

// NewPolicy builds a policy over routes; paths in public skip authentication.
func NewPolicy(routes []Route, public ...string) Policy {
	p := Policy{routes: routes}
	for _, path := range public {
		p.public = append(p.public, Route{Path: path})
	}
	return p
}

// Required returns the role needed for r. ok is false for public paths and
// paths no route covers.
func (p Policy) Required(r *http.Request) (Role, bool) {
	path := r.URL.Path
	for _, route := range p.public {
		if route.matches(path) {
			return "", false
		}
	}
	for _, route := range p.routes {
		if !route.matches(path) {
			continue
		}
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return route.Read, true
		default:
			return route.Write, true
		}
	}
	return "", false
}

package audit

import (
	"net/http"
	"strings"
)

// ActionResource holds action and resource derived from an HTTP route.
type ActionResource struct {
	Action   string
	Resource string
}

// routeOverrides name routes whose generic mapping would be misleading.
var routeOverrides = map[string]ActionResource{
	"PATCH /api/auth/me": {Action: "profile_updated", Resource: "user"},
	"PUT /api/auth/me":   {Action: "profile_updated", Resource: "user"},
}

// ParseRoute returns action and resource for a gin route (method plus registered path, e.g. "/api/auth/me").
// Action is a verb derived from the method: get, create, update, delete. Resource is the last literal
// path segment with dashes turned into underscores; path parameters (":id", "*rest") are skipped.
func ParseRoute(method, fullPath string) ActionResource {
	if ar, ok := routeOverrides[method+" "+fullPath]; ok {
		return ar
	}
	return ActionResource{Action: methodToAction(method), Resource: pathToResource(fullPath)}
}

func pathToResource(fullPath string) string {
	segs := strings.Split(strings.Trim(fullPath, "/"), "/")
	for i := len(segs) - 1; i >= 0; i-- {
		s := segs[i]
		if s == "" || s == "api" || strings.HasPrefix(s, ":") || strings.HasPrefix(s, "*") {
			continue
		}
		return strings.ReplaceAll(strings.ToLower(s), "-", "_")
	}
	return "unknown"
}

func methodToAction(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "get"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return strings.ToLower(method)
	}
}

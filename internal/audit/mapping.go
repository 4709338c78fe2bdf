package audit

import "strings"

// ActionResource holds the action and resource derived from an HTTP route pattern.
type ActionResource struct {
	Action   string
	Resource string
}

// Routes whose last segment is a verb rather than a collection.
var routeOverrides = map[string]ActionResource{
	"POST /api/session/refresh":  {Action: "refresh", Resource: "session"},
	"POST /api/payments/webhook": {Action: "webhook", Resource: "payment"},
}

// ParseRoute returns action and resource for a mux pattern such as "POST /api/permits/applications/{id}/retry".
// Resource is the first path segment after /api, singularised. Action is a literal segment that follows
// a wildcard (e.g. retry), otherwise a verb derived from the method: create, get, list, update or delete.
func ParseRoute(pattern string) ActionResource {
	if ar, ok := routeOverrides[pattern]; ok {
		return ar
	}
	method, path, ok := strings.Cut(strings.TrimSpace(pattern), " ")
	if !ok {
		return ActionResource{Action: "unknown", Resource: "unknown"}
	}
	var segments []string
	for _, s := range strings.Split(strings.Trim(path, "/"), "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) > 0 && segments[0] == "api" {
		segments = segments[1:]
	}
	if len(segments) == 0 {
		return ActionResource{Action: strings.ToLower(method), Resource: "unknown"}
	}
	resource := strings.TrimSuffix(segments[0], "s")

	last := segments[len(segments)-1]
	if len(segments) >= 2 && isWildcard(segments[len(segments)-2]) && !isWildcard(last) {
		return ActionResource{Action: last, Resource: resource}
	}
	return ActionResource{Action: methodToAction(method, isWildcard(last)), Resource: resource}
}

func isWildcard(segment string) bool {
	return strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}")
}

func methodToAction(method string, item bool) string {
	switch strings.ToUpper(method) {
	case "POST":
		return "create"
	case "GET":
		if item {
			return "get"
		}
		return "list"
	case "PUT", "PATCH":
		return "update"
	case "DELETE":
		return "delete"
	}
	return strings.ToLower(method)
}

package proxy

import (
	"net/http"
	"strings"
)

// MatchRoute returns the first rule in rules whose method and path pattern
// match, along with the path parameters its pattern captured. Rules are
// tried in order; the first hit wins.
func MatchRoute(rules []RouteRule, path, method string) (RouteRule, map[string]string, bool) {
	for _, rule := range rules {
		if len(rule.Match.Methods) > 0 && !methodAllowed(rule.Match.Methods, method) {
			continue
		}
		if params, ok := matchPath(rule.Match.Path, path); ok {
			return rule, params, true
		}
	}
	return RouteRule{}, nil, false
}

func methodAllowed(methods []string, method string) bool {
	method = strings.ToUpper(method)
	for _, m := range methods {
		if strings.ToUpper(m) == method {
			return true
		}
	}
	return false
}

// matchPath matches pattern against path, supporting exact segments,
// ":name" captures, a single "*" wildcard segment, and a trailing "**"
// that matches any remaining depth (including zero).
func matchPath(pattern, path string) (map[string]string, bool) {
	patternParts := splitNonEmpty(pattern)
	pathParts := splitNonEmpty(path)

	params := make(map[string]string)
	pi, ri := 0, 0
	for pi < len(patternParts) {
		pp := patternParts[pi]

		if pp == "**" {
			return params, true
		}
		if ri >= len(pathParts) {
			return nil, false
		}
		if pp == "*" {
			pi++
			ri++
			continue
		}
		if name, ok := strings.CutPrefix(pp, ":"); ok {
			params[name] = pathParts[ri]
			pi++
			ri++
			continue
		}
		if pp != pathParts[ri] {
			return nil, false
		}
		pi++
		ri++
	}
	if ri == len(pathParts) {
		return params, true
	}
	return nil, false
}

func splitNonEmpty(s string) []string {
	parts := strings.Split(s, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ExtractObjectID resolves an FGARule.ObjectID source spec ("path:<param>",
// "query:<param>", or "header:<name>") against a matched request.
func ExtractObjectID(spec string, pathParams map[string]string, r *http.Request) (string, bool) {
	if name, ok := strings.CutPrefix(spec, "path:"); ok {
		v, ok := pathParams[name]
		return v, ok
	}
	if name, ok := strings.CutPrefix(spec, "query:"); ok {
		if !r.URL.Query().Has(name) {
			return "", false
		}
		return r.URL.Query().Get(name), true
	}
	if name, ok := strings.CutPrefix(spec, "header:"); ok {
		v := r.Header.Get(name)
		return v, v != ""
	}
	return "", false
}

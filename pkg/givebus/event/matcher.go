package event

import "strings"

// MatchType reports whether an event type matches a subscription pattern.
//
// Three pattern forms are supported:
//   - "*" matches every event type
//   - "campaign.*" matches any type in the "campaign" namespace
//   - anything else matches exactly
//
// All dispatch matching in givebus goes through this function so the
// matching rules live in one place.
func MatchType(pattern, eventType string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(eventType, prefix+".")
	}
	return pattern == eventType
}

// ValidType reports whether an event type is well formed: at least two
// non-empty dot-separated segments ("domain.entity" or "domain.entity.action").
func ValidType(eventType string) bool {
	if eventType == "" {
		return false
	}
	parts := strings.Split(eventType, ".")
	if len(parts) < 2 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}

// Namespace returns the leading segment of a dot-namespaced event type.
func Namespace(eventType string) string {
	if i := strings.IndexByte(eventType, '.'); i > 0 {
		return eventType[:i]
	}
	return eventType
}

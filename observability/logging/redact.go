package logging

import (
	"log/slog"
	"slices"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// allowGroups lists the vault log keys that never carry secrets, grouped by
// the subsystem that emits them. Everything else passed through MaskField is
// masked, so new call sites fail closed.
var allowGroups = [][]string{
	{"service", "env", "message", "severity", "timestamp", "error", "reason", "component"},
	{"method", "flow", "operation", "client", "event", "request"},
	{"asset", "feed", "source", "account", "address"},
}

var allowed = func() map[string]struct{} {
	m := make(map[string]struct{})
	for _, group := range allowGroups {
		for _, key := range group {
			m[key] = struct{}{}
		}
	}
	return m
}()

// IsAllowlisted reports whether key may be logged unmasked.
func IsAllowlisted(key string) bool {
	_, ok := allowed[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// RedactionAllowlist returns the sorted exemption set. Tests pin it so the
// set only grows deliberately.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(allowed))
	for key := range allowed {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// MaskValue hides a non-empty secret while keeping absent ones visibly
// empty.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField wraps key/value into a slog.Attr, masking the value unless the
// key is allowlisted. Key casing is preserved.
func MaskField(key, value string) slog.Attr {
	if IsAllowlisted(key) || strings.TrimSpace(value) == "" {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

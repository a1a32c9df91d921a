package audit

import (
	"strings"
)

const redactedPlaceholder = "***REDACTED***"

// maxRedactDepth bounds recursion so a pathological snapshot cannot blow the
// stack. Anything deeper is replaced wholesale.
const maxRedactDepth = 32

// sensitiveKeys is the denylist of snapshot keys whose values must never land
// in the audit store. Matching is case-insensitive on the normalized key.
var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"token":         {},
	"refreshtoken":  {},
	"accesstoken":   {},
	"ssn":           {},
	"secret":        {},
	"apikey":        {},
	"creditcard":    {},
	"bankaccount":   {},
	"authorization": {},
}

func isSensitiveKey(key string) bool {
	normalized := strings.ToLower(strings.NewReplacer("_", "", "-", "").Replace(key))
	_, ok := sensitiveKeys[normalized]
	return ok
}

// Redact returns a deep copy of the snapshot with every sensitive value
// replaced by a placeholder, at any nesting depth. The input is never
// mutated. Non-sensitive values pass through unchanged, so "password" maps to
// the placeholder while a sibling "name" survives intact.
func Redact(snapshot map[string]any) map[string]any {
	if snapshot == nil {
		return nil
	}
	return redactMap(snapshot, 0)
}

func redactMap(m map[string]any, depth int) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			out[k] = redactedPlaceholder
			continue
		}
		out[k] = redactValue(v, depth+1)
	}
	return out
}

func redactValue(v any, depth int) any {
	if depth > maxRedactDepth {
		return redactedPlaceholder
	}
	switch t := v.(type) {
	case map[string]any:
		return redactMap(t, depth)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = redactValue(item, depth+1)
		}
		return out
	default:
		return v
	}
}

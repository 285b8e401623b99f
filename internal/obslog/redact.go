package obslog

import "strings"

const redactedValue = "[REDACTED]"

// RedactValue masks plugin credential material (API keys, secrets, tokens)
// before it reaches a log line. Used on plugin construction fields and any
// map the caller marks for redaction.
func RedactValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			if isSensitiveKey(k) {
				out[k] = redactedValue
				continue
			}
			out[k] = RedactValue(v)
		}
		return out
	default:
		return value
	}
}

func isSensitiveKey(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	for _, needle := range []string{"password", "secret", "token", "api_key", "apikey", "credential"} {
		if strings.Contains(normalized, needle) {
			return true
		}
	}
	return false
}

package observability

import (
	"net/http"
	"regexp"
	"strings"
)

// Redactor masks backend credentials in log output.
type Redactor struct {
	patterns []*redactPattern
}

type redactPattern struct {
	regex       *regexp.Regexp
	replacement string
	name        string
}

// NewRedactor creates a redactor with the default credential patterns.
func NewRedactor() *Redactor {
	r := &Redactor{}
	// More specific key formats first so their labels win.
	r.AddPattern(`sk-ant-[a-zA-Z0-9\-_]{20,}`, "[REDACTED_ANTHROPIC_KEY]", "anthropic_key")
	r.AddPattern(`sk-proj-[a-zA-Z0-9\-_]{20,}`, "[REDACTED_OPENAI_PROJECT_KEY]", "openai_project_key")
	r.AddPattern(`sk-[a-zA-Z0-9]{20,}`, "[REDACTED_OPENAI_KEY]", "openai_key")
	r.AddPattern(`Bearer\s+[a-zA-Z0-9\-_\.]+`, "Bearer [REDACTED]", "bearer_token")
	r.AddPattern(`(?i)(authorization|x-api-key):\s*[^\s,]+`, "$1: [REDACTED]", "auth_header")
	return r
}

// AddPattern adds a redaction pattern. Invalid patterns are ignored.
func (r *Redactor) AddPattern(pattern, replacement, name string) {
	regex, err := regexp.Compile(pattern)
	if err != nil {
		return
	}
	r.patterns = append(r.patterns, &redactPattern{
		regex:       regex,
		replacement: replacement,
		name:        name,
	})
}

// AddSecret redacts an exact value, such as a configured API key.
func (r *Redactor) AddSecret(secret, name string) {
	if len(strings.TrimSpace(secret)) < 4 {
		return
	}
	r.AddPattern(regexp.QuoteMeta(secret), "[REDACTED]", name)
}

// Redact applies every pattern to input.
func (r *Redactor) Redact(input string) string {
	result := input
	for _, p := range r.patterns {
		result = p.regex.ReplaceAllString(result, p.replacement)
	}
	return result
}

var sensitiveKeys = []string{"api_key", "apikey", "token", "secret", "password", "authorization", "credential"}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sk := range sensitiveKeys {
		if strings.Contains(lower, sk) {
			return true
		}
	}
	return false
}

// RedactHeaders returns a copy of headers with credential headers masked.
func (r *Redactor) RedactHeaders(headers http.Header) http.Header {
	sensitive := map[string]bool{
		"authorization": true,
		"x-api-key":     true,
		"api-key":       true,
		"cookie":        true,
	}
	result := make(http.Header, len(headers))
	for k, v := range headers {
		if sensitive[strings.ToLower(k)] {
			result[k] = []string{"[REDACTED]"}
			continue
		}
		result[k] = v
	}
	return result
}

package logging

import (
	"regexp"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// secretPatterns matches strings shaped like API keys, bearer tokens, and
// credential pairs. Grounded on the same regex-catalog style the pack's
// redteam detectors use for content screening.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bsk-[a-z0-9]{16,}\b`),
	regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._-]{10,}\b`),
	regexp.MustCompile(`(?i)\b[a-z0-9]{32,}\b`),
	regexp.MustCompile(`(?i)\b[a-z0-9_.-]+:[a-z0-9_.-]{8,}@`),
}

const redactedPlaceholder = "[redacted]"

// Sanitize replaces any secret-shaped substring of s with a placeholder.
func Sanitize(s string) string {
	for _, re := range secretPatterns {
		s = re.ReplaceAllString(s, redactedPlaceholder)
	}
	return s
}

// Redacted rewrites the string-valued fields of fields through Sanitize, so
// a log call can pass raw caller-supplied input without leaking secrets.
func Redacted(fields ...zap.Field) []zap.Field {
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		if f.Type == zapcore.StringType {
			f.String = Sanitize(f.String)
		}
		out[i] = f
	}
	return out
}

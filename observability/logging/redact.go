package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the placeholder emitted in place of sensitive log fields.
const RedactedValue = "[REDACTED]"

// MaskSecret returns a slog.Attr whose value is replaced by the redaction
// placeholder. Empty values pass through unchanged so absent configuration
// stays visible in logs.
func MaskSecret(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

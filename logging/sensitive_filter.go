package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// redactedValue replaces sensitive field values in log output.
const redactedValue = "[REDACTED]"

// sensitiveKeyFragments are substrings that mark a field as sensitive.
var sensitiveKeyFragments = []string{"api_key", "apikey", "password", "secret", "token", "authorization"}

// isSensitiveKey reports whether a field key looks like it carries a credential.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// sensitiveCore wraps a zapcore.Core and redacts string fields whose keys
// look like credentials before they reach any output sink.
type sensitiveCore struct {
	zapcore.Core
}

// newSensitiveCore wraps core with credential redaction.
func newSensitiveCore(core zapcore.Core) zapcore.Core {
	return &sensitiveCore{Core: core}
}

func (c *sensitiveCore) With(fields []zapcore.Field) zapcore.Core {
	return &sensitiveCore{Core: c.Core.With(redactFields(fields))}
}

func (c *sensitiveCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *sensitiveCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(entry, redactFields(fields))
}

// redactFields returns a copy of fields with sensitive string values replaced.
// Non-sensitive fields are passed through unchanged.
func redactFields(fields []zapcore.Field) []zapcore.Field {
	var out []zapcore.Field
	for i, f := range fields {
		if f.Type == zapcore.StringType && isSensitiveKey(f.Key) && f.String != "" {
			if out == nil {
				out = make([]zapcore.Field, len(fields))
				copy(out, fields)
			}
			out[i].String = redactedValue
		}
	}
	if out == nil {
		return fields
	}
	return out
}

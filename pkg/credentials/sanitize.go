package credentials

import "github.com/iddaa-lens/statsync/pkg/logger"

// Sanitize scrubs credential material from an error message before it is
// persisted or returned to a caller. Log output is already redacted by the
// logger package; this is the same filter for every other sink.
func Sanitize(message string) string {
	return logger.Redact(message)
}

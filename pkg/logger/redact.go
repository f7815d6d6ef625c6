package logger

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

const maxRedactedLength = 500

var (
	jwtPattern      = regexp.MustCompile(`[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}`)
	bearerPattern   = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-._~+/]+=*`)
	secretKVPattern = regexp.MustCompile(`(?i)\b(access_token|refresh_token|id_token|client_secret|api_key|apikey|password|passwd|pwd|secret|token)("?\s*[=:]\s*)("[^"]*"|'[^']*'|[^\s&,;"']+)`)
)

// Every Err(err) on any logger goes through Redact, so provider bodies and
// wrapped credential errors never reach the output verbatim.
func init() {
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		if err == nil {
			return nil
		}
		return Redact(err.Error())
	}
}

// Redact scrubs credential material from a message: JWT-shaped tokens,
// Authorization header values and key=value style secrets. The result is
// truncated.
func Redact(message string) string {
	if message == "" {
		return ""
	}

	out := jwtPattern.ReplaceAllString(message, "[REDACTED_JWT]")
	out = bearerPattern.ReplaceAllString(out, "Bearer [REDACTED]")
	out = secretKVPattern.ReplaceAllString(out, "${1}${2}[REDACTED]")

	out = strings.TrimSpace(out)
	if len(out) > maxRedactedLength {
		out = out[:maxRedactedLength] + "..."
	}
	return out
}

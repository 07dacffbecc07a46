package logger

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

var sensitive = map[string]struct{}{
	"authorization": {},
	"cookie":        {},
}

func redactHeaderValue(k, v string) string {
	if v == "" {
		return ""
	}
	if _, ok := sensitive[strings.ToLower(k)]; ok {
		return "<redacted>"
	}
	return v
}

// SafeHeaders returns a compact representation of headers with credentials redacted.
func SafeHeaders(r *http.Request) string {
	parts := make([]string, 0, len(r.Header))
	for k, v := range r.Header {
		if len(v) == 0 {
			continue
		}
		parts = append(parts, k+"="+redactHeaderValue(k, v[0]))
	}
	return strings.Join(parts, "; ")
}

// LogRequest logs a concise summary of an incoming request at debug level.
// The websocket upgrade URL carries the token as a query parameter, so only the path is logged.
func LogRequest(r *http.Request) {
	Log.Debug("incoming_request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("remote", r.RemoteAddr),
		zap.String("headers", SafeHeaders(r)),
	)
}

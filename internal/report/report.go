// Package report defines the incoming occurrence report and its context.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Context carries optional request/environment metadata for one occurrence.
// Every field may be empty; the capture pipeline never requires any of them.
type Context struct {
	Controller        string            `json:"controller,omitempty"`
	Action            string            `json:"action,omitempty"`
	Platform          string            `json:"platform,omitempty"`
	UserID            string            `json:"user_id,omitempty"`
	RequestURL        string            `json:"request_url,omitempty"`
	UserAgent         string            `json:"user_agent,omitempty"`
	IPAddress         string            `json:"ip_address,omitempty"`
	HTTPMethod        string            `json:"http_method,omitempty"`
	Hostname          string            `json:"hostname,omitempty"`
	ContentType       string            `json:"content_type,omitempty"`
	RequestDurationMS int64             `json:"request_duration_ms,omitempty"`
	Params            map[string]string `json:"params,omitempty"`
}

// Report is one exception occurrence as submitted by a host application.
type Report struct {
	ApplicationID string    `json:"application_id"`
	Type          string    `json:"type"`
	Message       string    `json:"message"`
	Backtrace     []string  `json:"backtrace,omitempty"`
	OccurredAt    time.Time `json:"occurred_at,omitempty"`
	Context       Context   `json:"context"`
}

// Decode parses a single NDJSON-encoded report line.
func Decode(line []byte) (Report, error) {
	var r Report
	if err := json.Unmarshal(line, &r); err != nil {
		return Report{}, fmt.Errorf("decoding report: %w", err)
	}
	if r.OccurredAt.IsZero() {
		r.OccurredAt = time.Now()
	}
	return r, nil
}

// RedactionMarker replaces values of parameters whose keys match a
// configured sensitive pattern.
const RedactionMarker = "[REDACTED]"

// DefaultSensitiveKeys are matched as substrings against lowercased
// parameter keys when no custom patterns are configured.
var DefaultSensitiveKeys = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey",
	"credit_card", "ssn", "auth",
}

// RedactParams returns a copy of params with sensitive values replaced by
// RedactionMarker. Keys are matched case-insensitively as substrings.
// A nil map returns nil.
func RedactParams(params map[string]string, sensitiveKeys []string) map[string]string {
	if params == nil {
		return nil
	}
	if len(sensitiveKeys) == 0 {
		sensitiveKeys = DefaultSensitiveKeys
	}

	out := make(map[string]string, len(params))
	for k, v := range params {
		if isSensitiveKey(k, sensitiveKeys) {
			out[k] = RedactionMarker
		} else {
			out[k] = v
		}
	}
	return out
}

func isSensitiveKey(key string, patterns []string) bool {
	lower := strings.ToLower(key)
	for _, p := range patterns {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

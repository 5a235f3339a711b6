package notify

import (
	"fmt"
	"strings"

	"github.com/setevik/errtrack/internal/group"
)

// Payload is the transport-agnostic alert snapshot that Slack, email,
// PagerDuty, and webhook formatters consume. It carries everything a
// formatter needs so none of them query the store.
type Payload struct {
	GroupID         string   `json:"group_id"`
	ApplicationID   string   `json:"application_id"`
	ErrorType       string   `json:"error_type"`
	Message         string   `json:"message"`
	Severity        string   `json:"severity"`
	Platform        string   `json:"platform,omitempty"`
	OccurrenceCount int64    `json:"occurrence_count"`
	Backtrace       []string `json:"backtrace,omitempty"`
	// Milestone is set when the alert fires for an occurrence-count
	// milestone rather than a new/reopened error.
	Milestone int64 `json:"milestone,omitempty"`
	// Anomaly describes a baseline spike when the alert is anomaly-driven.
	Anomaly string `json:"anomaly,omitempty"`
}

// BuildPayload snapshots a group for alert dispatch, truncating the
// backtrace to maxLines.
func BuildPayload(g *group.Group, maxLines int) Payload {
	p := Payload{
		GroupID:         g.ID,
		ApplicationID:   g.ApplicationID,
		ErrorType:       g.ErrorType,
		Message:         g.Message,
		Severity:        string(g.Severity),
		Platform:        g.Platform,
		OccurrenceCount: g.OccurrenceCount,
	}

	if g.Backtrace != "" {
		lines := strings.Split(g.Backtrace, "\n")
		if maxLines > 0 && len(lines) > maxLines {
			lines = append(lines[:maxLines], fmt.Sprintf("... (%d more lines)", len(lines)-maxLines))
		}
		p.Backtrace = lines
	}
	return p
}

// Title builds a short alert headline.
func (p Payload) Title() string {
	if p.Milestone > 0 {
		return fmt.Sprintf("[%s] %s crossed %d occurrences", p.ApplicationID, p.ErrorType, p.Milestone)
	}
	if p.Anomaly != "" {
		return fmt.Sprintf("[%s] %s anomaly: %s", p.ApplicationID, p.ErrorType, p.Anomaly)
	}
	return fmt.Sprintf("[%s] %s: %s", p.ApplicationID, p.ErrorType, firstLine(p.Message))
}

// Body builds a plain-text alert body.
func (p Payload) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Severity: %s\n", p.Severity)
	fmt.Fprintf(&b, "Occurrences: %d\n", p.OccurrenceCount)
	if p.Platform != "" {
		fmt.Fprintf(&b, "Platform: %s\n", p.Platform)
	}
	if p.Message != "" {
		fmt.Fprintf(&b, "\n%s\n", p.Message)
	}
	if len(p.Backtrace) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(p.Backtrace, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

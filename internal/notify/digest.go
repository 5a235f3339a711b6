package notify

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/setevik/errtrack/internal/group"
)

// DigestSummary holds aggregated group counts for a digest period.
type DigestSummary struct {
	ApplicationID string
	Since         time.Time
	Until         time.Time

	TotalGroups      int
	TotalOccurrences int64
	BySeverity       map[group.Severity]int
	ByStatus         map[group.Status]int
	// TopGroups are the highest-priority groups of the period.
	TopGroups []*group.Group
}

// BuildDigest aggregates groups into a DigestSummary. topN bounds the
// highlighted group list.
func BuildDigest(appID string, groups []*group.Group, since, until time.Time, topN int) *DigestSummary {
	d := &DigestSummary{
		ApplicationID: appID,
		Since:         since,
		Until:         until,
		BySeverity:    make(map[group.Severity]int),
		ByStatus:      make(map[group.Status]int),
	}

	for _, g := range groups {
		d.TotalGroups++
		d.TotalOccurrences += g.OccurrenceCount
		d.BySeverity[g.Severity]++
		d.ByStatus[g.Status]++
	}

	sorted := make([]*group.Group, len(groups))
	copy(sorted, groups)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].PriorityScore > sorted[j].PriorityScore
	})
	if topN > 0 && len(sorted) > topN {
		sorted = sorted[:topN]
	}
	d.TopGroups = sorted

	return d
}

// FormatDigest formats a DigestSummary as human-readable text suitable for
// webhook or stdout output.
func FormatDigest(d *DigestSummary) string {
	var b strings.Builder

	dateRange := fmt.Sprintf("%s - %s",
		d.Since.Local().Format("Jan 02"),
		d.Until.Local().Format("Jan 02"))

	fmt.Fprintf(&b, "=== %s ===\n", d.ApplicationID)
	fmt.Fprintf(&b, "Period: %s\n\n", dateRange)
	fmt.Fprintf(&b, "Error groups:  %d\n", d.TotalGroups)
	fmt.Fprintf(&b, "Occurrences:   %d\n\n", d.TotalOccurrences)

	for _, sev := range []group.Severity{group.SevCritical, group.SevHigh, group.SevMedium, group.SevLow} {
		if n := d.BySeverity[sev]; n > 0 {
			fmt.Fprintf(&b, "%-9s %d\n", sev+":", n)
		}
	}

	if open := d.ByStatus[group.StatusNew] + d.ByStatus[group.StatusInvestigating] + d.ByStatus[group.StatusInProgress]; open > 0 {
		fmt.Fprintf(&b, "\nOpen: %d, resolved: %d, wont_fix: %d\n",
			open, d.ByStatus[group.StatusResolved], d.ByStatus[group.StatusWontFix])
	}

	if len(d.TopGroups) > 0 {
		b.WriteString("\nTop errors by priority:\n")
		for _, g := range d.TopGroups {
			fmt.Fprintf(&b, "  [%3d] %-8s x%-6d %s: %s\n",
				g.PriorityScore, g.Severity, g.OccurrenceCount,
				g.ErrorType, firstLine(g.Message))
		}
	}

	return b.String()
}

// FormatDigestTitle builds the digest notification title.
func FormatDigestTitle(since, until time.Time) string {
	return fmt.Sprintf("Error digest %s - %s",
		since.Local().Format("Jan 02"),
		until.Local().Format("Jan 02"))
}

package telegraph

import (
	"fmt"
	"strings"

	"github.com/zulandar/quill/internal/notify"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// severityColor maps a severity string to a sidebar color.
func severityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

// FormatNotice formats a user-visible notice.
func FormatNotice(n notify.Notice) FormattedEvent {
	fields := []Field{
		{Name: "Session", Value: n.SessionID, Short: true},
	}
	if n.Kind != "" {
		fields = append(fields, Field{Name: "Kind", Value: n.Kind, Short: true})
	}
	return FormattedEvent{
		Title:    n.Title,
		Body:     n.Body,
		Severity: n.Severity,
		Color:    severityColor(n.Severity),
		Fields:   fields,
	}
}

// FormatDigest formats a run digest.
func FormatDigest(r *DigestReport) FormattedEvent {
	var lines []string
	lines = append(lines, fmt.Sprintf("**Runs**: %d completed, %d failed, %d cancelled, %d too short",
		r.Completed, r.Failed, r.Cancelled, r.TooShort))
	if r.Auto > 0 {
		lines = append(lines, fmt.Sprintf("**Automatic**: %d after recording", r.Auto))
	}
	if len(r.Titles) > 0 {
		lines = append(lines, "**Notes**:")
		for _, t := range r.Titles {
			lines = append(lines, "• "+t)
		}
	}

	severity := "success"
	if r.Failed > 0 {
		severity = "warning"
	}

	return FormattedEvent{
		Title: fmt.Sprintf("Quill digest %s – %s",
			r.PeriodStart.Format("Jan 2 15:04"), r.PeriodEnd.Format("Jan 2 15:04")),
		Body:     strings.Join(lines, "\n"),
		Severity: severity,
		Color:    severityColor(severity),
		Fields: []Field{
			{Name: "Completed", Value: fmt.Sprintf("%d", r.Completed), Short: true},
			{Name: "Failed", Value: fmt.Sprintf("%d", r.Failed), Short: true},
		},
	}
}

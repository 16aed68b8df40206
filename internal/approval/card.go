package approval

import (
	"fmt"
	"strings"

	"github.com/okvist/waypost/internal/tasks"
)

// Body previews are truncated so a single card never floods the channel.
const (
	emailBodyPreviewLimit = 800
	socialPreviewLimit    = 600
	otherPreviewLimit     = 600
)

// RenderCard formats a task as a human-readable approval card. Layout
// depends on the draft type; the title line is always present.
func RenderCard(task tasks.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 %s\n", task.Title)

	d := task.Draft
	switch d.Type {
	case tasks.DraftEmail:
		if d.Email != nil {
			fmt.Fprintf(&b, "\nTo: %s\n", strings.Join(d.Email.To, ", "))
			fmt.Fprintf(&b, "Subject: %s\n", d.Email.Subject)
			fmt.Fprintf(&b, "\n%s\n", truncate(d.Email.Body, emailBodyPreviewLimit))
		}
	case tasks.DraftSocial:
		if d.Social != nil {
			fmt.Fprintf(&b, "\nPlatform: %s\n", d.Social.Platform)
			fmt.Fprintf(&b, "\n%s\n", truncate(d.Social.Message, socialPreviewLimit))
		}
	case tasks.DraftCalendar:
		if d.Calendar != nil {
			fmt.Fprintf(&b, "\nEvent: %s\n", d.Calendar.Title)
			fmt.Fprintf(&b, "When: %s → %s\n", d.Calendar.StartTime, d.Calendar.EndTime)
			if len(d.Calendar.Attendees) > 0 {
				fmt.Fprintf(&b, "Attendees: %s\n", strings.Join(d.Calendar.Attendees, ", "))
			}
		}
	default:
		if d.Other != nil && d.Other.Content != "" {
			fmt.Fprintf(&b, "\n%s\n", truncate(d.Other.Content, otherPreviewLimit))
		}
	}

	if task.WhyHuman != "" {
		fmt.Fprintf(&b, "\nWhy you: %s\n", task.WhyHuman)
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}

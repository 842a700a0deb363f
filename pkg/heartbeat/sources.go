package heartbeat

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Email is one unread message returned by an EmailSource.
type Email struct {
	Sender    string
	Subject   string
	Snippet   string
	Timestamp time.Time
	Labels    []string
}

// Event is one upcoming entry returned by a CalendarSource. Start and End
// are passed through as the backend formats them; all-day events carry a
// date without a time component.
type Event struct {
	Title     string
	Start     string
	End       string
	Location  string
	Attendees []string
}

// EmailSource fetches unread emails. Implementations own credentials,
// token refresh and transport.
type EmailSource interface {
	FetchUnread(ctx context.Context, since time.Time, maxResults int) ([]Email, error)
}

// CalendarSource fetches events starting within the horizon.
type CalendarSource interface {
	FetchUpcoming(ctx context.Context, horizon time.Duration, maxResults int) ([]Event, error)
}

const emailPreviewLimit = 200

// formatEmails renders emails as a Markdown list for reasoning prompts.
func formatEmails(emails []Email) string {
	var b strings.Builder
	for _, e := range emails {
		fmt.Fprintf(&b, "- **From:** %s\n", e.Sender)
		fmt.Fprintf(&b, "  **Subject:** %s\n", e.Subject)
		fmt.Fprintf(&b, "  **Preview:** %s\n", truncateRunes(e.Snippet, emailPreviewLimit))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatEvents renders calendar events as a Markdown list.
func formatEvents(events []Event) string {
	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "- **%s**\n", e.Title)
		fmt.Fprintf(&b, "  %s - %s\n", e.Start, e.End)
		if e.Location != "" {
			fmt.Fprintf(&b, "  Location: %s\n", e.Location)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// Package transcript renders a ticket's message log as plain text.
package transcript

import (
	"bufio"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spec-kit/modmail/internal/domain"
)

const (
	timeLayout = "2006-01-02 15:04:05"
	separator  = "--------------------------------------------------"
)

// Render returns the transcript of t. Messages are ordered by creation
// time, with log order breaking ties, and the pinned control message is
// left out. The output depends only on t.
func Render(t domain.Ticket) string {
	messages := make([]domain.TicketMessage, 0, len(t.Messages))
	for _, m := range t.Messages {
		if m.Pinned {
			continue
		}
		messages = append(messages, m)
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	var b strings.Builder
	fmt.Fprintf(&b, "Transcript for ticket: %s\n", t.Channel.Name)
	fmt.Fprintf(&b, "User: %s (ID: %s)\n", t.Owner.Name, t.Owner.ID)
	fmt.Fprintf(&b, "Category: %s\n", t.Category)
	fmt.Fprintf(&b, "Created at: %s\n", t.CreatedAt.UTC().Format(timeLayout))
	b.WriteString(separator)
	b.WriteString("\n\n")

	for _, m := range messages {
		b.WriteString(header(m))
		b.WriteByte('\n')
		if m.Content != "" {
			b.WriteString(m.Content)
			b.WriteByte('\n')
		}
		for _, text := range m.EmbedText {
			if text = strings.TrimSpace(text); text != "" {
				fmt.Fprintf(&b, "[Embed] %s\n", text)
			}
		}
		if len(m.Attachments) > 0 {
			b.WriteString("Attachments:\n")
			for _, a := range m.Attachments {
				fmt.Fprintf(&b, "- %s (%s)\n", a.FileName, a.URL)
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// FileName is the attachment name used when a transcript is delivered.
func FileName(t domain.Ticket) string {
	return fmt.Sprintf("transcript-%s.txt", t.Channel.Name)
}

func header(m domain.TicketMessage) string {
	line := fmt.Sprintf("[%s] %s", m.CreatedAt.UTC().Format(timeLayout), m.AuthorName)
	if m.AuthorType == domain.AuthorTypeStaff {
		line += " (Staff)"
	}
	return line + ":"
}

// Header is one parsed message header line.
type Header struct {
	Timestamp time.Time
	Author    string
	Staff     bool
}

var headerLine = regexp.MustCompile(`^\[(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})\] (.*?)( \(Staff\))?:$`)

// ParseHeaders extracts the message header lines of a rendered transcript
// in order. A message body line that happens to look like a header is
// indistinguishable and is reported as one.
func ParseHeaders(text string) ([]Header, error) {
	var out []Header
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	body := false
	for scanner.Scan() {
		line := scanner.Text()
		if !body {
			if line == separator {
				body = true
			}
			continue
		}
		match := headerLine.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		ts, err := time.Parse(timeLayout, match[1])
		if err != nil {
			return nil, fmt.Errorf("parse header timestamp %q: %w", match[1], err)
		}
		out = append(out, Header{Timestamp: ts, Author: match[2], Staff: match[3] != ""})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

package domain

import "time"

// Owner identifies the end user who opened a ticket.
type Owner struct {
	ID        string
	Name      string
	AvatarURL string
}

// ChannelRef identifies the staff-side channel bound to a ticket.
type ChannelRef struct {
	ID   string
	Name string
}

// Ticket is one active support conversation. A ticket is bound to exactly
// one owner and one channel for its whole life.
type Ticket struct {
	ID           string
	Owner        Owner
	Channel      ChannelRef
	Category     Category
	CreatedAt    time.Time
	LastActivity time.Time
	Closed       bool
	Messages     []TicketMessage
	UserTyping   bool
	StaffTyping  bool
}

// IdleFor returns how long the ticket has been without activity at now.
func (t Ticket) IdleFor(now time.Time) time.Duration {
	return now.Sub(t.LastActivity)
}

// MessageCount counts conversation messages, excluding the pinned control
// message.
func (t Ticket) MessageCount() int {
	n := 0
	for _, m := range t.Messages {
		if !m.Pinned {
			n++
		}
	}
	return n
}

// Clone returns a copy that shares no slices with t.
func (t Ticket) Clone() Ticket {
	out := t
	out.Messages = make([]TicketMessage, len(t.Messages))
	for i, m := range t.Messages {
		out.Messages[i] = m.Clone()
	}
	return out
}

// HasRelay reports whether messageID is the original or relayed copy of a
// message logged on this ticket.
func (t Ticket) HasRelay(messageID string) bool {
	if messageID == "" {
		return false
	}
	for _, m := range t.Messages {
		if m.ID == messageID || m.RelayID == messageID {
			return true
		}
	}
	return false
}

// TypingDirection names the side whose typing is relayed to the other.
type TypingDirection string

const (
	TypingUser  TypingDirection = "user"
	TypingStaff TypingDirection = "staff"
)

package domain

import "time"

// CloseReason records why a ticket was closed.
type CloseReason string

const (
	CloseReasonManual  CloseReason = "manual"
	CloseReasonAuto    CloseReason = "auto"
	CloseReasonArchive CloseReason = "archive"
)

// ClosedRecord is the summary kept for a ticket after it closes. The full
// message log is not retained.
type ClosedRecord struct {
	TicketID     string      `json:"ticket_id"`
	ChannelName  string      `json:"channel_name"`
	Category     Category    `json:"category"`
	CreatedAt    time.Time   `json:"created_at"`
	ClosedAt     time.Time   `json:"closed_at"`
	ClosedBy     string      `json:"closed_by"`
	Reason       CloseReason `json:"reason"`
	MessageCount int         `json:"message_count"`
}

// Snapshot is the persisted part of the relay state. Active tickets are
// not part of it.
type Snapshot struct {
	BlacklistedUsers  []string                  `json:"blacklisted_users"`
	TicketLogs        map[string][]ClosedRecord `json:"ticket_logs"`
	WelcomeTimestamps map[string]time.Time      `json:"user_welcome_timestamps"`
}

// Stats is the read-only view offered to staff.
type Stats struct {
	ActiveTickets    int        `json:"active_tickets"`
	UsersWithTickets int        `json:"users_with_tickets"`
	Blacklisted      int        `json:"blacklisted_users"`
	User             *UserStats `json:"user,omitempty"`
}

// UserStats is the per-user part of Stats.
type UserStats struct {
	UserID string `json:"user_id"`
	Active int    `json:"active"`
	Closed int    `json:"closed"`
}

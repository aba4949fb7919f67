package events

import (
	"time"

	"github.com/spec-kit/modmail/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated     EventType = "ticket_created"
	EventTicketClosed      EventType = "ticket_closed"
	EventTicketTransferred EventType = "ticket_transferred"
	EventUserBlacklisted   EventType = "user_blacklisted"
	EventUserUnblacklisted EventType = "user_unblacklisted"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string       `json:"id"`
	Type      EventType    `json:"type"`
	TicketID  string       `json:"ticket_id,omitempty"`
	Actor     domain.Actor `json:"actor"`
	Timestamp time.Time    `json:"timestamp"`
	Payload   interface{}  `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	OwnerID     string          `json:"owner_id"`
	OwnerName   string          `json:"owner_name"`
	ChannelID   string          `json:"channel_id"`
	ChannelName string          `json:"channel_name"`
	Category    domain.Category `json:"category"`
}

// TicketClosedPayload payload.
type TicketClosedPayload struct {
	OwnerID   string              `json:"owner_id"`
	OwnerName string              `json:"owner_name"`
	ChannelID string              `json:"channel_id"`
	Record    domain.ClosedRecord `json:"record"`
}

// TicketTransferredPayload payload.
type TicketTransferredPayload struct {
	ChannelID   string          `json:"channel_id"`
	OldCategory domain.Category `json:"old_category"`
	NewCategory domain.Category `json:"new_category"`
	Renamed     bool            `json:"renamed"`
}

// BlacklistChangedPayload payload for both blacklist event types.
type BlacklistChangedPayload struct {
	UserID string `json:"user_id"`
}

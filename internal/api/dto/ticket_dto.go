package dto

import (
	"time"

	"github.com/spec-kit/modmail/internal/domain"
)

// TicketSummary response.
type TicketSummary struct {
	ID           string          `json:"id"`
	ChannelID    string          `json:"channel_id"`
	ChannelName  string          `json:"channel_name"`
	OwnerID      string          `json:"owner_id"`
	OwnerName    string          `json:"owner_name"`
	Category     domain.Category `json:"category"`
	MessageCount int             `json:"message_count"`
	CreatedAt    time.Time       `json:"created_at"`
	LastActivity time.Time       `json:"last_activity"`
}

// TicketDetailResponse provides full ticket info.
type TicketDetailResponse struct {
	TicketSummary
	UserTyping  bool                    `json:"user_typing"`
	StaffTyping bool                    `json:"staff_typing"`
	Messages    []TicketMessageResponse `json:"messages"`
}

// TicketMessageResponse represents one logged message.
type TicketMessageResponse struct {
	ID          string                       `json:"id"`
	RelayID     string                       `json:"relay_id,omitempty"`
	AuthorType  domain.MessageAuthorType     `json:"author_type"`
	AuthorID    string                       `json:"author_id"`
	AuthorName  string                       `json:"author_name"`
	Content     string                       `json:"content"`
	EmbedText   []string                     `json:"embed_text,omitempty"`
	Attachments []domain.AttachmentReference `json:"attachments"`
	Pinned      bool                         `json:"pinned"`
	CreatedAt   time.Time                    `json:"created_at"`
}

// TransferRequest payload.
type TransferRequest struct {
	Category string `json:"category"`
}

// ClosedTicketResponse is one entry of a user's closed-ticket history.
type ClosedTicketResponse struct {
	TicketID     string             `json:"ticket_id"`
	ChannelName  string             `json:"channel_name"`
	Category     domain.Category    `json:"category"`
	CreatedAt    time.Time          `json:"created_at"`
	ClosedAt     time.Time          `json:"closed_at"`
	ClosedBy     string             `json:"closed_by"`
	Reason       domain.CloseReason `json:"reason"`
	MessageCount int                `json:"message_count"`
}

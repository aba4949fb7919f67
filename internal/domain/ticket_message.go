package domain

import "time"

// MessageAuthorType indicates who authored a message.
type MessageAuthorType string

const (
	AuthorTypeUser   MessageAuthorType = "USER"
	AuthorTypeStaff  MessageAuthorType = "STAFF"
	AuthorTypeSystem MessageAuthorType = "SYSTEM"
)

// TicketMessage is one entry of a ticket's message log.
type TicketMessage struct {
	// ID is the transport id of the message as authored.
	ID string
	// SourceChannelID is the channel the message was authored in.
	SourceChannelID string
	// RelayID is the transport id of the copy delivered to the other side.
	RelayID     string
	AuthorID    string
	AuthorName  string
	AuthorType  MessageAuthorType
	Content     string
	EmbedText   []string
	Attachments []AttachmentReference
	// Pinned marks the control/summary message posted at creation.
	Pinned    bool
	CreatedAt time.Time
}

// Clone returns a deep copy of the message.
func (m TicketMessage) Clone() TicketMessage {
	out := m
	out.EmbedText = append([]string(nil), m.EmbedText...)
	out.Attachments = append([]AttachmentReference(nil), m.Attachments...)
	return out
}

// AttachmentReference points at a file attached to a message.
type AttachmentReference struct {
	FileName string `json:"file_name"`
	URL      string `json:"url"`
}

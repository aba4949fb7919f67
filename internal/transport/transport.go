// Package transport defines what the relay needs from a chat platform: a
// handful of request/response primitives and a set of inbound events.
package transport

import (
	"context"
	"io"
	"time"

	"github.com/spec-kit/modmail/internal/domain"
)

// Transport is the outbound half of the chat platform.
type Transport interface {
	SendDirectMessage(ctx context.Context, userID string, msg OutgoingMessage) (SentMessage, error)
	SendChannelMessage(ctx context.Context, channelID string, msg OutgoingMessage) (SentMessage, error)
	SendAuditLog(ctx context.Context, msg OutgoingMessage) error
	CreateTicketChannel(ctx context.Context, spec ChannelSpec) (domain.ChannelRef, error)
	DeleteChannel(ctx context.Context, channelID string) error
	RenameChannel(ctx context.Context, channelID, name string) error
	PinMessage(ctx context.Context, channelID, messageID string) error
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	FetchUser(ctx context.Context, userID string) (User, error)
	// TriggerTyping shows a typing indicator in a ticket channel.
	TriggerTyping(ctx context.Context, channelID string) error
	// TriggerDirectTyping shows a typing indicator in a user's DM.
	TriggerDirectTyping(ctx context.Context, userID string) error
	RespondInteraction(ctx context.Context, interaction Interaction, resp InteractionResponse) error
}

// EventHandler is the inbound half of the chat platform. Implementations
// must tolerate concurrent calls.
type EventHandler interface {
	OnReady(ctx context.Context, ev ReadyEvent)
	OnDirectMessage(ctx context.Context, ev DirectMessageEvent)
	OnChannelMessage(ctx context.Context, ev ChannelMessageEvent)
	OnTyping(ctx context.Context, ev TypingEvent)
	OnInteraction(ctx context.Context, ev InteractionEvent)
	OnReaction(ctx context.Context, ev ReactionEvent)
}

// User is a platform account.
type User struct {
	ID        string
	Name      string
	AvatarURL string
	Bot       bool
	Staff     bool
	CreatedAt time.Time
}

// Owner converts the user into a ticket owner.
func (u User) Owner() domain.Owner {
	return domain.Owner{ID: u.ID, Name: u.Name, AvatarURL: u.AvatarURL}
}

// SentMessage identifies a message the transport delivered.
type SentMessage struct {
	ChannelID string
	MessageID string
}

// ChannelSpec describes a ticket channel to create. The channel is hidden
// from everyone except the bot and the configured staff roles.
type ChannelSpec struct {
	Name     string
	Topic    string
	Category domain.Category
}

// OutgoingMessage is a transport-neutral message: optional plain content,
// an optional card, interactive components and attached files.
type OutgoingMessage struct {
	Content    string
	Card       *Card
	Components []Component
	Files      []File
	// ReplyTo makes the message a reply to an earlier message id.
	ReplyTo string
}

// Card is a rich message block.
type Card struct {
	Title       string
	Description string
	Color       int
	AuthorName  string
	AuthorIcon  string
	Thumbnail   string
	Footer      string
	Timestamp   time.Time
	Fields      []CardField
}

// CardField is one name/value row of a card.
type CardField struct {
	Name   string
	Value  string
	Inline bool
}

// ComponentKind distinguishes buttons from select menus.
type ComponentKind string

const (
	ComponentButton ComponentKind = "button"
	ComponentSelect ComponentKind = "select"
)

// Component is a button or a select menu. The relay resolves interactions
// by CustomID.
type Component struct {
	Kind        ComponentKind
	CustomID    string
	Label       string
	Style       domain.ButtonStyle
	Placeholder string
	Options     []SelectOption
}

// SelectOption is one entry of a select menu.
type SelectOption struct {
	Label       string
	Value       string
	Description string
}

// File is an attachment sent with a message.
type File struct {
	Name        string
	ContentType string
	Reader      io.Reader
}

// Attachment is a file received with an inbound message.
type Attachment struct {
	FileName string
	URL      string
}

// Reference converts the attachment into its log form.
func (a Attachment) Reference() domain.AttachmentReference {
	return domain.AttachmentReference{FileName: a.FileName, URL: a.URL}
}

// ReadyEvent fires once the gateway session is established.
type ReadyEvent struct {
	BotUser User
}

// DirectMessageEvent is a private message sent to the bot.
type DirectMessageEvent struct {
	MessageID   string
	ChannelID   string
	Author      User
	Content     string
	Attachments []Attachment
	// ReferencedMessageID is set when the message replies to another one.
	ReferencedMessageID string
	Timestamp           time.Time
}

// ChannelMessageEvent is a message posted in a guild channel.
type ChannelMessageEvent struct {
	MessageID   string
	ChannelID   string
	GuildID     string
	Author      User
	Content     string
	Attachments []Attachment
	EmbedText   []string
	Mentions    []User
	Timestamp   time.Time
}

// TypingEvent reports that a user started typing.
type TypingEvent struct {
	ChannelID string
	UserID    string
	Direct    bool
}

// Interaction identifies an interaction so it can be answered.
type Interaction struct {
	ID    string
	Token string
	// Ref carries the platform's native interaction value.
	Ref any
}

// InteractionEvent is a button press or select menu choice.
type InteractionEvent struct {
	Interaction Interaction
	User        User
	ChannelID   string
	GuildID     string
	CustomID    string
	Values      []string
	Direct      bool
}

// InteractionResponse answers an interaction. Ephemeral responses are only
// shown to the user who interacted.
type InteractionResponse struct {
	Message   OutgoingMessage
	Ephemeral bool
}

// ReactionEvent reports a reaction added to a message.
type ReactionEvent struct {
	ChannelID string
	MessageID string
	UserID    string
	Emoji     string
	Direct    bool
}

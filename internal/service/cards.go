package service

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spec-kit/modmail/internal/domain"
	"github.com/spec-kit/modmail/internal/transport"
)

// Card colors.
const (
	colorDefault = 0x3498db
	colorError   = 0xe74c3c
	colorSuccess = 0x2ecc71
)

// Interaction custom ids. Ids carrying an argument use "<action>:<arg>".
const (
	actionOpenTicket     = "open_ticket"
	actionCloseTicket    = "close_ticket"
	actionCloseConfirm   = "close_confirm"
	actionCloseCancel    = "close_cancel"
	actionBlacklistUser  = "blacklist_user"
	actionArchiveTicket  = "archive_ticket"
	actionTransferTicket = "transfer_ticket"
	actionTransferSelect = "transfer_select"
	actionTicketSelect   = "ticket_select"
)

const (
	deliveredEmoji   = "✅"
	noContent        = "*No message content*"
	anonymousStaff   = "Staff"
	footerTimeLayout = "2006-01-02 15:04:05"
)

// User-facing texts.
const (
	msgBlacklisted      = "You are currently blacklisted from using the ticket system. Please contact an administrator if you believe this is an error."
	msgOpenFailed       = "An error occurred while creating your ticket. Please try again later."
	msgUnknownCategory  = "That ticket category is not available."
	msgRelayFailed      = "Your message could not be delivered to staff. Please try again later."
	msgStaffRelayFailed = "Error sending message to user. The message was logged but not delivered."
	msgTicketGone       = "This ticket is no longer open."
	msgNoActiveTicket   = "I couldn't find an active ticket to forward your message to. Please create a new ticket."
	msgNoPermission     = "You don't have permission to do this."
	msgConfirmExpired   = "This confirmation has expired."
	msgCloseCancelled   = "Ticket close cancelled."
	msgSelectionExpired = "This selection has expired. Please send your message again."
	msgGenericFailure   = "Something went wrong. Please try again later."
)

func actionID(action, arg string) string {
	if arg == "" {
		return action
	}
	return action + ":" + arg
}

func plain(content string) transport.OutgoingMessage {
	return transport.OutgoingMessage{Content: content}
}

func footer(now time.Time) string {
	return "Support System • " + now.UTC().Format(footerTimeLayout)
}

var channelNameStrip = regexp.MustCompile(`[^a-zA-Z0-9]`)

// ChannelName builds "<user>-<category>-<YYYYmmdd-HHMM>" from the first ten
// alphanumeric characters of the user name.
func ChannelName(userName string, category domain.Category, at time.Time) string {
	clean := channelNameStrip.ReplaceAllString(userName, "")
	if len(clean) > 10 {
		clean = clean[:10]
	}
	if clean == "" {
		clean = "user"
	}
	return fmt.Sprintf("%s-%s-%s", strings.ToLower(clean), category.Slug(), at.UTC().Format("20060102-1504"))
}

func welcomeMenu(catalog *domain.CategoryCatalog, description string, now time.Time) transport.OutgoingMessage {
	card := &transport.Card{
		Title:       "Support Ticket System",
		Description: description,
		Color:       colorDefault,
		Footer:      footer(now),
	}
	var buttons []transport.Component
	for _, opt := range catalog.Options() {
		card.Fields = append(card.Fields, transport.CardField{Name: string(opt.Category), Value: opt.Description, Inline: true})
		buttons = append(buttons, transport.Component{
			Kind:     transport.ComponentButton,
			CustomID: actionID(actionOpenTicket, string(opt.Category)),
			Label:    string(opt.Category),
			Style:    opt.Style,
		})
	}
	card.Fields = append(card.Fields, transport.CardField{Name: "Instructions", Value: "Click one of the buttons below to create your ticket."})
	return transport.OutgoingMessage{Card: card, Components: buttons}
}

func ticketSummary(ticket domain.Ticket, opt domain.CategoryOption, user transport.User, initialMessage string) transport.OutgoingMessage {
	userInfo := "ID: " + user.ID
	if !user.CreatedAt.IsZero() {
		userInfo += fmt.Sprintf("\nCreated: <t:%d:R>", user.CreatedAt.Unix())
	}
	return transport.OutgoingMessage{
		Card: &transport.Card{
			Title:       fmt.Sprintf("%s Ticket", opt.Category),
			Description: fmt.Sprintf("User: <@%s>\nInitial Message: %s", user.ID, initialMessage),
			Color:       opt.Color,
			Thumbnail:   user.AvatarURL,
			Timestamp:   ticket.CreatedAt,
			Footer:      fmt.Sprintf("Ticket ID: %s • Created: %s", ticket.Channel.ID, ticket.CreatedAt.UTC().Format(footerTimeLayout)),
			Fields: []transport.CardField{
				{Name: "Status", Value: "Open", Inline: true},
				{Name: "Category", Value: string(opt.Category), Inline: true},
				{Name: "User Info", Value: userInfo},
			},
		},
		Components: []transport.Component{
			{Kind: transport.ComponentButton, CustomID: actionCloseTicket, Label: "Close Ticket", Style: domain.ButtonDanger},
			{Kind: transport.ComponentButton, CustomID: actionBlacklistUser, Label: "Blacklist User", Style: domain.ButtonSecondary},
			{Kind: transport.ComponentButton, CustomID: actionArchiveTicket, Label: "Archive", Style: domain.ButtonSecondary},
			{Kind: transport.ComponentButton, CustomID: actionTransferTicket, Label: "Transfer", Style: domain.ButtonPrimary},
		},
	}
}

func ticketOpenedReply(category domain.Category) string {
	return fmt.Sprintf("Your %s ticket has been created. Our staff team will respond shortly.", category)
}

func ticketOpenedCard(opt domain.CategoryOption, now time.Time) transport.OutgoingMessage {
	return transport.OutgoingMessage{Card: &transport.Card{
		Title:       fmt.Sprintf("Your %s Ticket Has Been Created", opt.Category),
		Description: "Our staff team will respond to your inquiry shortly. Please provide any additional information that may help us assist you.",
		Color:       opt.Color,
		Timestamp:   now,
		Footer:      footer(now),
	}}
}

func closeConfirmPrompt(pendingID string, timeout time.Duration) transport.OutgoingMessage {
	return transport.OutgoingMessage{
		Content: fmt.Sprintf("Are you sure you want to close this ticket? This prompt expires in %d seconds.", int(timeout.Seconds())),
		Components: []transport.Component{
			{Kind: transport.ComponentButton, CustomID: actionID(actionCloseConfirm, pendingID), Label: "Confirm Close", Style: domain.ButtonDanger},
			{Kind: transport.ComponentButton, CustomID: actionID(actionCloseCancel, pendingID), Label: "Cancel", Style: domain.ButtonSecondary},
		},
	}
}

func closingNotice(actor domain.Actor, reason domain.CloseReason, idleHours int, deleteDelay time.Duration, now time.Time) transport.OutgoingMessage {
	card := &transport.Card{Title: "Ticket Closed", Color: colorError, Timestamp: now}
	switch reason {
	case domain.CloseReasonAuto:
		card.Title = "Ticket Auto-Closed"
		card.Description = fmt.Sprintf("This ticket has been automatically closed due to %d hours of inactivity.", idleHours)
	case domain.CloseReasonArchive:
		card.Title = "Ticket Archived"
		card.Description = fmt.Sprintf("This ticket has been archived by %s. The channel is kept for reference.", mention(actor))
	default:
		card.Description = fmt.Sprintf("This ticket has been closed by %s.", mention(actor))
	}
	if reason != domain.CloseReasonArchive {
		card.Footer = fmt.Sprintf("This channel will be deleted in %d seconds.", int(deleteDelay.Seconds()))
	}
	return transport.OutgoingMessage{Card: card}
}

func ownerClosedNotice(reason domain.CloseReason, idleHours int, transcriptName, transcriptText string, now time.Time) transport.OutgoingMessage {
	card := &transport.Card{
		Title:       "Ticket Closed",
		Description: "Your ticket has been closed by a staff member. If you need further assistance, you can create a new ticket.",
		Color:       colorError,
		Timestamp:   now,
	}
	if reason == domain.CloseReasonAuto {
		card.Title = "Ticket Auto-Closed"
		card.Description = fmt.Sprintf("Your ticket has been automatically closed due to %d hours of inactivity. If you need further assistance, you can create a new ticket.", idleHours)
	}
	return transport.OutgoingMessage{
		Card: card,
		Files: []transport.File{{
			Name:        transcriptName,
			ContentType: "text/plain",
			Reader:      strings.NewReader(transcriptText),
		}},
	}
}

func transferNotice(category domain.Category, owner bool, now time.Time) transport.OutgoingMessage {
	card := &transport.Card{
		Title:       "Ticket Transferred",
		Description: fmt.Sprintf("This ticket has been transferred to the %s department.", category),
		Color:       colorDefault,
		Timestamp:   now,
	}
	if owner {
		card.Description = fmt.Sprintf("Your ticket has been transferred to the %s department.", category)
		card.Footer = footer(now)
	}
	return transport.OutgoingMessage{Card: card}
}

func transferPrompt(catalog *domain.CategoryCatalog, current domain.Category) transport.OutgoingMessage {
	menu := transport.Component{
		Kind:        transport.ComponentSelect,
		CustomID:    actionTransferSelect,
		Placeholder: "Select a department",
	}
	for _, opt := range catalog.Options() {
		if opt.Category == current {
			continue
		}
		menu.Options = append(menu.Options, transport.SelectOption{
			Label:       string(opt.Category),
			Value:       string(opt.Category),
			Description: opt.Description,
		})
	}
	return transport.OutgoingMessage{
		Content:    "Select a department to transfer this ticket to:",
		Components: []transport.Component{menu},
	}
}

func selectionPrompt(pendingID string, tickets []domain.Ticket) transport.OutgoingMessage {
	menu := transport.Component{
		Kind:        transport.ComponentSelect,
		CustomID:    actionID(actionTicketSelect, pendingID),
		Placeholder: "Select a ticket to reply to",
	}
	for _, t := range tickets {
		menu.Options = append(menu.Options, transport.SelectOption{
			Label:       fmt.Sprintf("%s Ticket", t.Category),
			Value:       t.Channel.ID,
			Description: "Created " + t.CreatedAt.UTC().Format("2006-01-02 15:04"),
		})
	}
	return transport.OutgoingMessage{
		Card: &transport.Card{
			Title:       "Multiple Active Tickets",
			Description: "You have multiple open tickets. Please select which ticket you want to send this message to:",
			Color:       colorDefault,
		},
		Components: []transport.Component{menu},
	}
}

func userRelay(ev transport.DirectMessageEvent, now time.Time) transport.OutgoingMessage {
	card := &transport.Card{
		Description: orNoContent(ev.Content),
		Color:       colorDefault,
		AuthorName:  ev.Author.Name,
		AuthorIcon:  ev.Author.AvatarURL,
		Footer:      "User ID: " + ev.Author.ID,
		Timestamp:   now,
	}
	card.Fields = attachmentFields(ev.Attachments)
	return transport.OutgoingMessage{Card: card}
}

func staffRelay(ev transport.ChannelMessageEvent, anonymous bool, botAvatar string, now time.Time) transport.OutgoingMessage {
	name, icon := ev.Author.Name, ev.Author.AvatarURL
	if anonymous {
		name, icon = anonymousStaff, botAvatar
	}
	var parts []string
	if strings.TrimSpace(ev.Content) != "" {
		parts = append(parts, ev.Content)
	}
	parts = append(parts, ev.EmbedText...)
	card := &transport.Card{
		Description: orNoContent(strings.Join(parts, "\n\n")),
		Color:       colorDefault,
		AuthorName:  name,
		AuthorIcon:  icon,
		Footer:      footer(now),
		Timestamp:   now,
	}
	card.Fields = attachmentFields(ev.Attachments)
	return transport.OutgoingMessage{Card: card}
}

func attachmentFields(attachments []transport.Attachment) []transport.CardField {
	var fields []transport.CardField
	for _, a := range attachments {
		fields = append(fields, transport.CardField{Name: "Attachment", Value: fmt.Sprintf("[%s](%s)", a.FileName, a.URL)})
	}
	return fields
}

func accessDenied() transport.OutgoingMessage {
	return transport.OutgoingMessage{Card: &transport.Card{
		Title:       "Access Denied",
		Description: msgBlacklisted,
		Color:       colorError,
	}}
}

func statsCard(stats domain.Stats, userName string, now time.Time) transport.OutgoingMessage {
	card := &transport.Card{
		Title:     "Ticket Statistics",
		Color:     colorDefault,
		Timestamp: now,
		Fields: []transport.CardField{
			{Name: "Active Tickets", Value: fmt.Sprint(stats.ActiveTickets), Inline: true},
			{Name: "Users with Tickets", Value: fmt.Sprint(stats.UsersWithTickets), Inline: true},
			{Name: "Blacklisted Users", Value: fmt.Sprint(stats.Blacklisted), Inline: true},
		},
	}
	if stats.User != nil {
		card.Fields = append(card.Fields, transport.CardField{
			Name:  fmt.Sprintf("%s's Stats", userName),
			Value: fmt.Sprintf("Active: %d\nTotal: %d", stats.User.Active, stats.User.Closed),
		})
	}
	return transport.OutgoingMessage{Card: card}
}

func mention(actor domain.Actor) string {
	if actor.Type == domain.SubjectTypeSystem || actor.ID == "" {
		return actor.Name
	}
	return "<@" + actor.ID + ">"
}

func orNoContent(content string) string {
	if strings.TrimSpace(content) == "" {
		return noContent
	}
	return content
}

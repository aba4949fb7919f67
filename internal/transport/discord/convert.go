package discord

import (
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/spec-kit/modmail/internal/domain"
	"github.com/spec-kit/modmail/internal/transport"
)

// Discord allows at most five buttons per action row.
const maxButtonsPerRow = 5

func toMessageSend(msg transport.OutgoingMessage, channelID string) *discordgo.MessageSend {
	send := &discordgo.MessageSend{
		Content:    msg.Content,
		Components: toComponents(msg.Components),
		Files:      toFiles(msg.Files),
	}
	if embed := toEmbed(msg.Card); embed != nil {
		send.Embeds = []*discordgo.MessageEmbed{embed}
	}
	if msg.ReplyTo != "" {
		send.Reference = &discordgo.MessageReference{MessageID: msg.ReplyTo, ChannelID: channelID}
	}
	return send
}

func toEmbed(card *transport.Card) *discordgo.MessageEmbed {
	if card == nil {
		return nil
	}
	embed := &discordgo.MessageEmbed{
		Title:       card.Title,
		Description: card.Description,
		Color:       card.Color,
	}
	if card.AuthorName != "" {
		embed.Author = &discordgo.MessageEmbedAuthor{Name: card.AuthorName, IconURL: card.AuthorIcon}
	}
	if card.Thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: card.Thumbnail}
	}
	if card.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: card.Footer}
	}
	if !card.Timestamp.IsZero() {
		embed.Timestamp = card.Timestamp.UTC().Format(time.RFC3339)
	}
	for _, f := range card.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return embed
}

// toComponents packs consecutive buttons into rows of five; every select
// menu takes a row of its own.
func toComponents(components []transport.Component) []discordgo.MessageComponent {
	if len(components) == 0 {
		return nil
	}
	var rows []discordgo.MessageComponent
	var buttons []discordgo.MessageComponent
	flush := func() {
		if len(buttons) > 0 {
			rows = append(rows, discordgo.ActionsRow{Components: buttons})
			buttons = nil
		}
	}
	for _, c := range components {
		switch c.Kind {
		case transport.ComponentSelect:
			flush()
			options := make([]discordgo.SelectMenuOption, 0, len(c.Options))
			for _, o := range c.Options {
				options = append(options, discordgo.SelectMenuOption{Label: o.Label, Value: o.Value, Description: o.Description})
			}
			rows = append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					MenuType:    discordgo.StringSelectMenu,
					CustomID:    c.CustomID,
					Placeholder: c.Placeholder,
					Options:     options,
				},
			}})
		default:
			if len(buttons) == maxButtonsPerRow {
				flush()
			}
			buttons = append(buttons, discordgo.Button{
				Label:    c.Label,
				Style:    buttonStyle(c.Style),
				CustomID: c.CustomID,
			})
		}
	}
	flush()
	return rows
}

func buttonStyle(style domain.ButtonStyle) discordgo.ButtonStyle {
	switch style {
	case domain.ButtonPrimary:
		return discordgo.PrimaryButton
	case domain.ButtonSuccess:
		return discordgo.SuccessButton
	case domain.ButtonDanger:
		return discordgo.DangerButton
	default:
		return discordgo.SecondaryButton
	}
}

func toFiles(files []transport.File) []*discordgo.File {
	if len(files) == 0 {
		return nil
	}
	out := make([]*discordgo.File, 0, len(files))
	for _, f := range files {
		out = append(out, &discordgo.File{Name: f.Name, ContentType: f.ContentType, Reader: f.Reader})
	}
	return out
}

func toInteractionResponse(resp transport.InteractionResponse) *discordgo.InteractionResponse {
	data := &discordgo.InteractionResponseData{
		Content:    resp.Message.Content,
		Components: toComponents(resp.Message.Components),
		Files:      toFiles(resp.Message.Files),
	}
	if embed := toEmbed(resp.Message.Card); embed != nil {
		data.Embeds = []*discordgo.MessageEmbed{embed}
	}
	if resp.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}
}

func fromUser(u *discordgo.User) transport.User {
	if u == nil {
		return transport.User{}
	}
	name := u.GlobalName
	if name == "" {
		name = u.Username
	}
	created, _ := discordgo.SnowflakeTimestamp(u.ID)
	return transport.User{
		ID:        u.ID,
		Name:      name,
		AvatarURL: u.AvatarURL(""),
		Bot:       u.Bot,
		CreatedAt: created,
	}
}

func fromAttachments(attachments []*discordgo.MessageAttachment) []transport.Attachment {
	if len(attachments) == 0 {
		return nil
	}
	out := make([]transport.Attachment, 0, len(attachments))
	for _, a := range attachments {
		out = append(out, transport.Attachment{FileName: a.Filename, URL: a.URL})
	}
	return out
}

// embedText flattens the readable parts of each embed, used when a staff
// message carries no plain content.
func embedText(embeds []*discordgo.MessageEmbed) []string {
	var out []string
	for _, e := range embeds {
		var parts []string
		if e.Title != "" {
			parts = append(parts, e.Title)
		}
		if e.Description != "" {
			parts = append(parts, e.Description)
		}
		for _, f := range e.Fields {
			parts = append(parts, f.Name+": "+f.Value)
		}
		if len(parts) > 0 {
			out = append(out, strings.Join(parts, "\n"))
		}
	}
	return out
}

func hasRole(roleNames map[string]struct{}, name string) bool {
	_, ok := roleNames[strings.ToLower(name)]
	return ok
}

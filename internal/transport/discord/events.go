package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/spec-kit/modmail/internal/transport"
)

func (a *Adapter) dispatch() (context.Context, transport.EventHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctx, a.handler
}

// inGuild drops guild events from guilds other than the configured one.
func (a *Adapter) inGuild(guildID string) bool {
	return a.cfg.GuildID == "" || guildID == a.cfg.GuildID
}

func (a *Adapter) onReady(s *discordgo.Session, r *discordgo.Ready) {
	a.mu.Lock()
	a.botID = r.User.ID
	a.mu.Unlock()

	if a.cfg.Status != "" {
		if err := s.UpdateWatchStatus(0, a.cfg.Status); err != nil {
			a.logger.Warn("presence update failed", zap.Error(err))
		}
	}
	a.logger.Info("discord session ready", zap.String("bot_user", r.User.Username), zap.Int("guilds", len(r.Guilds)))

	ctx, handler := a.dispatch()
	bot := fromUser(r.User)
	bot.Bot = true
	handler.OnReady(ctx, transport.ReadyEvent{BotUser: bot})
}

func (a *Adapter) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	ctx, handler := a.dispatch()
	author := fromUser(m.Author)

	var referenced string
	if m.MessageReference != nil {
		referenced = m.MessageReference.MessageID
	}

	if m.GuildID == "" {
		if !author.Bot {
			if member, err := a.member(ctx, author.ID); err == nil {
				author.Staff = a.isStaff(ctx, member.Roles)
			}
		}
		handler.OnDirectMessage(ctx, transport.DirectMessageEvent{
			MessageID:           m.ID,
			ChannelID:           m.ChannelID,
			Author:              author,
			Content:             m.Content,
			Attachments:         fromAttachments(m.Attachments),
			ReferencedMessageID: referenced,
			Timestamp:           m.Timestamp,
		})
		return
	}
	if !a.inGuild(m.GuildID) {
		return
	}
	if m.Member != nil {
		author.Staff = a.isStaff(ctx, m.Member.Roles)
		if m.Member.Nick != "" {
			author.Name = m.Member.Nick
		}
	}
	mentions := make([]transport.User, 0, len(m.Mentions))
	for _, u := range m.Mentions {
		mentions = append(mentions, fromUser(u))
	}
	handler.OnChannelMessage(ctx, transport.ChannelMessageEvent{
		MessageID:   m.ID,
		ChannelID:   m.ChannelID,
		GuildID:     m.GuildID,
		Author:      author,
		Content:     m.Content,
		Attachments: fromAttachments(m.Attachments),
		EmbedText:   embedText(m.Embeds),
		Mentions:    mentions,
		Timestamp:   m.Timestamp,
	})
}

func (a *Adapter) onTypingStart(_ *discordgo.Session, t *discordgo.TypingStart) {
	if t.GuildID != "" && !a.inGuild(t.GuildID) {
		return
	}
	ctx, handler := a.dispatch()
	handler.OnTyping(ctx, transport.TypingEvent{
		ChannelID: t.ChannelID,
		UserID:    t.UserID,
		Direct:    t.GuildID == "",
	})
}

func (a *Adapter) onInteractionCreate(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	if i.GuildID != "" && !a.inGuild(i.GuildID) {
		return
	}
	ctx, handler := a.dispatch()

	var user transport.User
	switch {
	case i.Member != nil:
		user = fromUser(i.Member.User)
		user.Staff = a.isStaff(ctx, i.Member.Roles)
	case i.User != nil:
		user = fromUser(i.User)
	}
	data := i.MessageComponentData()
	handler.OnInteraction(ctx, transport.InteractionEvent{
		Interaction: transport.Interaction{ID: i.ID, Token: i.Token, Ref: i.Interaction},
		User:        user,
		ChannelID:   i.ChannelID,
		GuildID:     i.GuildID,
		CustomID:    data.CustomID,
		Values:      data.Values,
		Direct:      i.GuildID == "",
	})
}

func (a *Adapter) onReactionAdd(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r.GuildID != "" && !a.inGuild(r.GuildID) {
		return
	}
	a.mu.Lock()
	self := r.UserID == a.botID
	a.mu.Unlock()
	if self {
		return
	}
	ctx, handler := a.dispatch()
	handler.OnReaction(ctx, transport.ReactionEvent{
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		UserID:    r.UserID,
		Emoji:     r.Emoji.Name,
		Direct:    r.GuildID == "",
	})
}

// Package discord implements the relay transport on top of the Discord
// gateway and REST API.
package discord

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/spec-kit/modmail/internal/config"
	"github.com/spec-kit/modmail/internal/domain"
	"github.com/spec-kit/modmail/internal/transport"
	apperrors "github.com/spec-kit/modmail/pkg/util"
)

const intents = discordgo.IntentGuilds |
	discordgo.IntentGuildMembers |
	discordgo.IntentGuildMessages |
	discordgo.IntentGuildMessageReactions |
	discordgo.IntentGuildMessageTyping |
	discordgo.IntentDirectMessages |
	discordgo.IntentDirectMessageReactions |
	discordgo.IntentDirectMessageTyping |
	discordgo.IntentMessageContent

const (
	staffAllow = discordgo.PermissionViewChannel |
		discordgo.PermissionSendMessages |
		discordgo.PermissionReadMessageHistory |
		discordgo.PermissionAttachFiles |
		discordgo.PermissionManageMessages
	botAllow = staffAllow | discordgo.PermissionManageChannels
)

// Adapter is a transport.Transport backed by a discordgo session.
type Adapter struct {
	session *discordgo.Session
	cfg     config.DiscordConfig
	logger  *zap.Logger

	staffRoles map[string]struct{}

	mu           sync.Mutex
	ctx          context.Context
	handler      transport.EventHandler
	botID        string
	categoryID   string
	logChannelID string
}

var _ transport.Transport = (*Adapter)(nil)

// New creates an adapter. The gateway is not opened until Start.
func New(cfg config.DiscordConfig, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Token == "" {
		return nil, errors.New("discord token is required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = intents
	session.StateEnabled = true

	roles := make(map[string]struct{}, len(cfg.StaffRoles))
	for _, r := range cfg.StaffRoles {
		roles[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
	}
	return &Adapter{
		session:    session,
		cfg:        cfg,
		logger:     logger,
		staffRoles: roles,
		ctx:        context.Background(),
	}, nil
}

// Start registers the gateway handlers and opens the session. Events are
// delivered to handler with ctx.
func (a *Adapter) Start(ctx context.Context, handler transport.EventHandler) error {
	a.mu.Lock()
	a.ctx = ctx
	a.handler = handler
	a.mu.Unlock()

	a.session.AddHandler(a.onReady)
	a.session.AddHandler(a.onMessageCreate)
	a.session.AddHandler(a.onTypingStart)
	a.session.AddHandler(a.onInteractionCreate)
	a.session.AddHandler(a.onReactionAdd)

	if err := a.session.Open(); err != nil {
		return apperrors.NewTransportFailure("gateway_open", err)
	}
	a.logger.Info("discord gateway connected")
	return nil
}

// Close shuts the gateway connection.
func (a *Adapter) Close() error {
	return a.session.Close()
}

func (a *Adapter) SendDirectMessage(ctx context.Context, userID string, msg transport.OutgoingMessage) (transport.SentMessage, error) {
	dm, err := a.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return transport.SentMessage{}, apperrors.NewTransportFailure("open_dm", err)
	}
	return a.send(ctx, "send_direct", dm.ID, msg)
}

func (a *Adapter) SendChannelMessage(ctx context.Context, channelID string, msg transport.OutgoingMessage) (transport.SentMessage, error) {
	return a.send(ctx, "send_channel", channelID, msg)
}

func (a *Adapter) send(ctx context.Context, op, channelID string, msg transport.OutgoingMessage) (transport.SentMessage, error) {
	sent, err := a.session.ChannelMessageSendComplex(channelID, toMessageSend(msg, channelID), discordgo.WithContext(ctx))
	if err != nil {
		return transport.SentMessage{}, apperrors.NewTransportFailure(op, err)
	}
	return transport.SentMessage{ChannelID: sent.ChannelID, MessageID: sent.ID}, nil
}

// SendAuditLog posts to the log channel, creating it on first use.
func (a *Adapter) SendAuditLog(ctx context.Context, msg transport.OutgoingMessage) error {
	channelID, err := a.logChannel(ctx)
	if err != nil {
		return err
	}
	_, err = a.send(ctx, "audit_log", channelID, msg)
	return err
}

func (a *Adapter) CreateTicketChannel(ctx context.Context, spec transport.ChannelSpec) (domain.ChannelRef, error) {
	parentID, err := a.ticketCategory(ctx)
	if err != nil {
		return domain.ChannelRef{}, err
	}
	overwrites, err := a.staffOverwrites(ctx)
	if err != nil {
		return domain.ChannelRef{}, err
	}
	ch, err := a.session.GuildChannelCreateComplex(a.cfg.GuildID, discordgo.GuildChannelCreateData{
		Name:                 spec.Name,
		Type:                 discordgo.ChannelTypeGuildText,
		Topic:                spec.Topic,
		ParentID:             parentID,
		PermissionOverwrites: overwrites,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return domain.ChannelRef{}, apperrors.NewTransportFailure("create_channel", err)
	}
	return domain.ChannelRef{ID: ch.ID, Name: ch.Name}, nil
}

func (a *Adapter) DeleteChannel(ctx context.Context, channelID string) error {
	if _, err := a.session.ChannelDelete(channelID, discordgo.WithContext(ctx)); err != nil {
		return apperrors.NewTransportFailure("delete_channel", err)
	}
	return nil
}

func (a *Adapter) RenameChannel(ctx context.Context, channelID, name string) error {
	if _, err := a.session.ChannelEdit(channelID, &discordgo.ChannelEdit{Name: name}, discordgo.WithContext(ctx)); err != nil {
		return apperrors.NewTransportFailure("rename_channel", err)
	}
	return nil
}

func (a *Adapter) PinMessage(ctx context.Context, channelID, messageID string) error {
	if err := a.session.ChannelMessagePin(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return apperrors.NewTransportFailure("pin", err)
	}
	return nil
}

func (a *Adapter) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	if err := a.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return apperrors.NewTransportFailure("reaction", err)
	}
	return nil
}

// FetchUser resolves a user and, when they are a guild member, whether they
// hold a staff role.
func (a *Adapter) FetchUser(ctx context.Context, userID string) (transport.User, error) {
	u, err := a.session.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		return transport.User{}, apperrors.NewTransportFailure("fetch_user", err)
	}
	user := fromUser(u)
	if member, err := a.member(ctx, userID); err == nil {
		user.Staff = a.isStaff(ctx, member.Roles)
		if member.Nick != "" {
			user.Name = member.Nick
		}
	}
	return user, nil
}

func (a *Adapter) TriggerTyping(ctx context.Context, channelID string) error {
	if err := a.session.ChannelTyping(channelID, discordgo.WithContext(ctx)); err != nil {
		return apperrors.NewTransportFailure("typing", err)
	}
	return nil
}

func (a *Adapter) TriggerDirectTyping(ctx context.Context, userID string) error {
	dm, err := a.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return apperrors.NewTransportFailure("open_dm", err)
	}
	if err := a.session.ChannelTyping(dm.ID, discordgo.WithContext(ctx)); err != nil {
		return apperrors.NewTransportFailure("direct_typing", err)
	}
	return nil
}

func (a *Adapter) RespondInteraction(ctx context.Context, interaction transport.Interaction, resp transport.InteractionResponse) error {
	native, ok := interaction.Ref.(*discordgo.Interaction)
	if !ok {
		native = &discordgo.Interaction{ID: interaction.ID, Token: interaction.Token}
	}
	if err := a.session.InteractionRespond(native, toInteractionResponse(resp), discordgo.WithContext(ctx)); err != nil {
		return apperrors.NewTransportFailure("respond", err)
	}
	return nil
}

func (a *Adapter) member(ctx context.Context, userID string) (*discordgo.Member, error) {
	if m, err := a.session.State.Member(a.cfg.GuildID, userID); err == nil {
		return m, nil
	}
	return a.session.GuildMember(a.cfg.GuildID, userID, discordgo.WithContext(ctx))
}

// isStaff reports whether any of the role ids carries a configured staff
// role name.
func (a *Adapter) isStaff(ctx context.Context, roleIDs []string) bool {
	if len(roleIDs) == 0 {
		return false
	}
	var missing []string
	for _, id := range roleIDs {
		role, err := a.session.State.Role(a.cfg.GuildID, id)
		if err != nil {
			missing = append(missing, id)
			continue
		}
		if hasRole(a.staffRoles, role.Name) {
			return true
		}
	}
	if len(missing) == 0 {
		return false
	}

	// One REST fetch covers every role the state cache has not seen.
	roles, err := a.session.GuildRoles(a.cfg.GuildID, discordgo.WithContext(ctx))
	if err != nil {
		a.logger.Warn("guild roles lookup failed", zap.Error(err))
		return false
	}
	names := make(map[string]string, len(roles))
	for _, role := range roles {
		names[role.ID] = role.Name
		if err := a.session.State.RoleAdd(a.cfg.GuildID, role); err != nil {
			a.logger.Debug("cache guild role failed", zap.Error(err))
		}
	}
	for _, id := range missing {
		if name, ok := names[id]; ok && hasRole(a.staffRoles, name) {
			return true
		}
	}
	return false
}

func (a *Adapter) staffRoleIDs(ctx context.Context) ([]string, error) {
	roles, err := a.session.GuildRoles(a.cfg.GuildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, apperrors.NewTransportFailure("guild_roles", err)
	}
	var ids []string
	for _, role := range roles {
		if hasRole(a.staffRoles, role.Name) {
			ids = append(ids, role.ID)
		}
	}
	return ids, nil
}

// staffOverwrites hides a channel from everyone except the bot and the
// staff roles.
func (a *Adapter) staffOverwrites(ctx context.Context) ([]*discordgo.PermissionOverwrite, error) {
	roleIDs, err := a.staffRoleIDs(ctx)
	if err != nil {
		return nil, err
	}
	overwrites := []*discordgo.PermissionOverwrite{
		{ID: a.cfg.GuildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
	}
	a.mu.Lock()
	botID := a.botID
	a.mu.Unlock()
	if botID != "" {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{ID: botID, Type: discordgo.PermissionOverwriteTypeMember, Allow: botAllow})
	}
	for _, id := range roleIDs {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{ID: id, Type: discordgo.PermissionOverwriteTypeRole, Allow: staffAllow})
	}
	return overwrites, nil
}

func (a *Adapter) ticketCategory(ctx context.Context) (string, error) {
	a.mu.Lock()
	cached := a.categoryID
	a.mu.Unlock()
	if cached != "" {
		return cached, nil
	}
	id, err := a.findOrCreate(ctx, a.cfg.TicketCategory, discordgo.ChannelTypeGuildCategory)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	a.categoryID = id
	a.mu.Unlock()
	return id, nil
}

func (a *Adapter) logChannel(ctx context.Context) (string, error) {
	a.mu.Lock()
	cached := a.logChannelID
	a.mu.Unlock()
	if cached != "" {
		return cached, nil
	}
	id, err := a.findOrCreate(ctx, a.cfg.LogChannel, discordgo.ChannelTypeGuildText)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	a.logChannelID = id
	a.mu.Unlock()
	return id, nil
}

func (a *Adapter) findOrCreate(ctx context.Context, name string, kind discordgo.ChannelType) (string, error) {
	channels, err := a.session.GuildChannels(a.cfg.GuildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", apperrors.NewTransportFailure("list_channels", err)
	}
	for _, ch := range channels {
		if ch.Type == kind && strings.EqualFold(ch.Name, name) {
			return ch.ID, nil
		}
	}
	overwrites, err := a.staffOverwrites(ctx)
	if err != nil {
		return "", err
	}
	ch, err := a.session.GuildChannelCreateComplex(a.cfg.GuildID, discordgo.GuildChannelCreateData{
		Name:                 name,
		Type:                 kind,
		PermissionOverwrites: overwrites,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", apperrors.NewTransportFailure("create_channel", err)
	}
	a.logger.Info("guild channel created", zap.String("name", name), zap.String("channel_id", ch.ID))
	return ch.ID, nil
}

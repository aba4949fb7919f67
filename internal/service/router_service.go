package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/modmail/internal/clock"
	"github.com/spec-kit/modmail/internal/config"
	"github.com/spec-kit/modmail/internal/domain"
	"github.com/spec-kit/modmail/internal/observability"
	"github.com/spec-kit/modmail/internal/repository"
	"github.com/spec-kit/modmail/internal/transport"
)

const (
	relayToChannel = "to_channel"
	relayToUser    = "to_user"
)

// RouterService decides where every inbound platform event goes. It
// implements transport.EventHandler.
type RouterService struct {
	store     repository.TicketStore
	transport transport.Transport
	lifecycle *LifecycleService
	welcome   *WelcomeService
	typing    *TypingRelay
	commands  *CommandService
	clock     clock.Clock
	logger    *zap.Logger
	metrics   *observability.Metrics
	cfg       config.TicketConfig

	selections *pendingRegistry[pendingSelection]
	routes     map[string]interactionRoute

	mu        sync.RWMutex
	bot       transport.User
	readyOnce sync.Once
	onReady   func(ctx context.Context)
}

// RouterDependencies bundles collaborators for the router.
type RouterDependencies struct {
	Store     repository.TicketStore
	Transport transport.Transport
	Lifecycle *LifecycleService
	Welcome   *WelcomeService
	Typing    *TypingRelay
	Commands  *CommandService
	Clock     clock.Clock
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	// OnFirstReady runs once, on the first ready event.
	OnFirstReady func(ctx context.Context)
}

// pendingSelection is a DM waiting for its owner to pick a ticket.
type pendingSelection struct {
	UserID  string
	Message transport.DirectMessageEvent
}

// NewRouterService constructs the router.
func NewRouterService(cfg config.TicketConfig, deps RouterDependencies) *RouterService {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &RouterService{
		store:      deps.Store,
		transport:  deps.Transport,
		lifecycle:  deps.Lifecycle,
		welcome:    deps.Welcome,
		typing:     deps.Typing,
		commands:   deps.Commands,
		clock:      clk,
		logger:     logger,
		metrics:    deps.Metrics,
		cfg:        cfg,
		selections: newPendingRegistry[pendingSelection](clk),
		onReady:    deps.OnFirstReady,
	}
	r.routes = r.interactionRoutes()
	return r
}

// OnReady records the bot identity and runs the first-ready hook once.
func (r *RouterService) OnReady(ctx context.Context, ev transport.ReadyEvent) {
	r.mu.Lock()
	r.bot = ev.BotUser
	r.mu.Unlock()
	r.logger.Info("relay ready", zap.String("bot_id", ev.BotUser.ID), zap.String("bot_name", ev.BotUser.Name))

	r.readyOnce.Do(func() {
		if r.onReady != nil {
			r.onReady(ctx)
		}
	})
}

func (r *RouterService) botUser() transport.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bot
}

// OnDirectMessage routes a user DM into the right ticket, greets users
// without one and asks users with several tickets to pick one.
func (r *RouterService) OnDirectMessage(ctx context.Context, ev transport.DirectMessageEvent) {
	if ev.Author.Bot {
		return
	}
	if r.commands != nil && r.commands.HandleDirect(ctx, ev) {
		return
	}
	if ev.Author.Staff {
		r.logger.Debug("direct message from staff ignored", zap.String("user_id", ev.Author.ID))
		return
	}
	logger := r.logger.With(zap.String("owner_id", ev.Author.ID))

	if r.store.IsBlacklisted(ev.Author.ID) {
		if _, err := r.transport.SendDirectMessage(ctx, ev.Author.ID, accessDenied()); err != nil {
			logger.Warn("send blacklist notice failed", zap.Error(err))
		}
		return
	}

	tickets := openTickets(r.store.FindByOwner(ev.Author.ID))
	switch len(tickets) {
	case 0:
		if _, err := r.welcome.MaybeGreet(ctx, ev.Author.ID); err != nil {
			logger.Warn("greeting failed", zap.Error(err))
		}
	case 1:
		if notice := r.forwardToChannel(ctx, tickets[0].Channel.ID, ev); notice != "" {
			r.notifyUser(ctx, ev.Author.ID, notice)
		}
	default:
		if ev.ReferencedMessageID != "" {
			for _, t := range tickets {
				if t.HasRelay(ev.ReferencedMessageID) {
					if notice := r.forwardToChannel(ctx, t.Channel.ID, ev); notice != "" {
						r.notifyUser(ctx, ev.Author.ID, notice)
					}
					return
				}
			}
		}
		r.promptSelection(ctx, ev, tickets)
	}
}

func (r *RouterService) promptSelection(ctx context.Context, ev transport.DirectMessageEvent, tickets []domain.Ticket) {
	id, _ := r.selections.Add(pendingSelection{UserID: ev.Author.ID, Message: ev}, r.cfg.SelectionTimeout(), func(sel pendingSelection) {
		r.logger.Debug("ticket selection expired", zap.String("owner_id", sel.UserID), zap.String("message_id", sel.Message.MessageID))
	})
	if _, err := r.transport.SendDirectMessage(ctx, ev.Author.ID, selectionPrompt(id, tickets)); err != nil {
		r.selections.Take(id)
		r.logger.Error("send ticket selection failed", zap.String("owner_id", ev.Author.ID), zap.Error(err))
	}
}

// forwardToChannel logs ev on the ticket bound to channelID and relays it
// to staff. The log entry is kept when the relay fails. It returns the
// notice owed to the user, or "" when the message was delivered; the
// caller decides how to send it.
func (r *RouterService) forwardToChannel(ctx context.Context, channelID string, ev transport.DirectMessageEvent) string {
	unlock := r.store.LockTicket(channelID)
	defer unlock()

	logger := r.logger.With(zap.String("ticket_channel", channelID), zap.String("owner_id", ev.Author.ID))
	ticket, ok := r.store.FindByChannel(channelID)
	if !ok || ticket.Closed || ticket.Owner.ID != ev.Author.ID {
		return msgNoActiveTicket
	}

	msg := domain.TicketMessage{
		ID:              ev.MessageID,
		SourceChannelID: ev.ChannelID,
		AuthorID:        ev.Author.ID,
		AuthorName:      ev.Author.Name,
		AuthorType:      domain.AuthorTypeUser,
		Content:         ev.Content,
		Attachments:     attachmentRefs(ev.Attachments),
	}
	if err := r.store.RecordActivity(channelID, msg); err != nil {
		logger.Warn("record user message failed", zap.Error(err))
		return msgNoActiveTicket
	}

	sent, err := r.transport.SendChannelMessage(ctx, channelID, userRelay(ev, r.clock.Now()))
	if err != nil {
		r.metrics.RecordRelay(relayToChannel, false)
		logger.Error("relay to ticket channel failed", zap.Error(err))
		return msgRelayFailed
	}
	r.metrics.RecordRelay(relayToChannel, true)
	if err := r.store.SetRelayID(channelID, ev.MessageID, sent.MessageID); err != nil {
		logger.Debug("record relay id failed", zap.Error(err))
	}

	if err := r.transport.AddReaction(ctx, ev.ChannelID, ev.MessageID, deliveredEmoji); err != nil {
		logger.Debug("add delivery marker failed", zap.Error(err))
	}
	return ""
}

// OnChannelMessage relays staff messages posted in ticket channels to the
// ticket owner. Messages elsewhere are only checked for commands.
func (r *RouterService) OnChannelMessage(ctx context.Context, ev transport.ChannelMessageEvent) {
	if ev.Author.Bot {
		return
	}
	if r.commands != nil {
		if r.commands.HandleChannel(ctx, ev) {
			return
		}
		// Prefixed messages stay in the channel as staff-only notes.
		if r.commands.HasPrefix(ev.Content) {
			return
		}
	}
	ticket, ok := r.store.FindByChannel(ev.ChannelID)
	if !ok || ticket.Closed {
		return
	}
	r.forwardToUser(ctx, ev)
}

func (r *RouterService) forwardToUser(ctx context.Context, ev transport.ChannelMessageEvent) {
	unlock := r.store.LockTicket(ev.ChannelID)
	defer unlock()

	ticket, ok := r.store.FindByChannel(ev.ChannelID)
	if !ok || ticket.Closed {
		return
	}
	logger := r.logger.With(zap.String("ticket_channel", ev.ChannelID), zap.String("owner_id", ticket.Owner.ID))

	msg := domain.TicketMessage{
		ID:              ev.MessageID,
		SourceChannelID: ev.ChannelID,
		AuthorID:        ev.Author.ID,
		AuthorName:      ev.Author.Name,
		AuthorType:      domain.AuthorTypeStaff,
		Content:         ev.Content,
		EmbedText:       ev.EmbedText,
		Attachments:     attachmentRefs(ev.Attachments),
	}
	if err := r.store.RecordActivity(ev.ChannelID, msg); err != nil {
		logger.Warn("record staff message failed", zap.Error(err))
		return
	}

	out := staffRelay(ev, r.cfg.AnonymousReplies, r.botUser().AvatarURL, r.clock.Now())
	sent, err := r.transport.SendDirectMessage(ctx, ticket.Owner.ID, out)
	if err != nil {
		r.metrics.RecordRelay(relayToUser, false)
		logger.Error("relay to ticket owner failed", zap.Error(err))
		if _, err := r.transport.SendChannelMessage(ctx, ev.ChannelID, plain(msgStaffRelayFailed)); err != nil {
			logger.Warn("send relay failure notice failed", zap.Error(err))
		}
		return
	}
	r.metrics.RecordRelay(relayToUser, true)
	if err := r.store.SetRelayID(ev.ChannelID, ev.MessageID, sent.MessageID); err != nil {
		logger.Debug("record relay id failed", zap.Error(err))
	}

	if err := r.transport.AddReaction(ctx, ev.ChannelID, ev.MessageID, deliveredEmoji); err != nil {
		logger.Debug("add delivery marker failed", zap.Error(err))
	}
}

// OnTyping mirrors typing in a ticket channel to the owner's DM and typing
// in a DM to the owner's only open ticket.
func (r *RouterService) OnTyping(ctx context.Context, ev transport.TypingEvent) {
	if r.typing == nil || ev.UserID == r.botUser().ID {
		return
	}
	if ev.Direct {
		tickets := openTickets(r.store.FindByOwner(ev.UserID))
		if len(tickets) != 1 {
			return
		}
		r.typing.Relay(ctx, tickets[0], domain.TypingUser)
		return
	}
	ticket, ok := r.store.FindByChannel(ev.ChannelID)
	if !ok || ticket.Closed || ticket.Owner.ID == ev.UserID {
		return
	}
	r.typing.Relay(ctx, ticket, domain.TypingStaff)
}

// OnReaction mirrors a reaction on a relayed copy onto the original
// message, so both sides see it.
func (r *RouterService) OnReaction(ctx context.Context, ev transport.ReactionEvent) {
	if ev.UserID == "" || ev.UserID == r.botUser().ID {
		return
	}
	var candidates []domain.Ticket
	if ev.Direct {
		candidates = openTickets(r.store.FindByOwner(ev.UserID))
	} else if t, ok := r.store.FindByChannel(ev.ChannelID); ok && !t.Closed {
		candidates = []domain.Ticket{t}
	}
	for _, t := range candidates {
		for _, m := range t.Messages {
			if m.RelayID != ev.MessageID || m.SourceChannelID == "" {
				continue
			}
			if err := r.transport.AddReaction(ctx, m.SourceChannelID, m.ID, ev.Emoji); err != nil {
				r.logger.Debug("mirror reaction failed", zap.String("ticket_channel", t.Channel.ID), zap.Error(err))
			}
			return
		}
	}
}

func (r *RouterService) notifyUser(ctx context.Context, userID, text string) {
	if _, err := r.transport.SendDirectMessage(ctx, userID, plain(text)); err != nil {
		r.logger.Warn("send notice to user failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func openTickets(tickets []domain.Ticket) []domain.Ticket {
	out := tickets[:0]
	for _, t := range tickets {
		if !t.Closed {
			out = append(out, t)
		}
	}
	return out
}

func attachmentRefs(attachments []transport.Attachment) []domain.AttachmentReference {
	if len(attachments) == 0 {
		return nil
	}
	refs := make([]domain.AttachmentReference, 0, len(attachments))
	for _, a := range attachments {
		refs = append(refs, a.Reference())
	}
	return refs
}

var _ transport.EventHandler = (*RouterService)(nil)

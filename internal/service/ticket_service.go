package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/modmail/internal/clock"
	"github.com/spec-kit/modmail/internal/config"
	"github.com/spec-kit/modmail/internal/domain"
	"github.com/spec-kit/modmail/internal/events"
	"github.com/spec-kit/modmail/internal/observability"
	"github.com/spec-kit/modmail/internal/repository"
	"github.com/spec-kit/modmail/internal/transcript"
	"github.com/spec-kit/modmail/internal/transport"
	apperrors "github.com/spec-kit/modmail/pkg/util"
)

// LifecycleService opens, transfers and closes tickets and maintains the
// blacklist. Every state change goes through the TicketStore; every
// platform side effect goes through the Transport.
type LifecycleService struct {
	store      repository.TicketStore
	transport  transport.Transport
	dispatcher events.Dispatcher
	catalog    *domain.CategoryCatalog
	clock      clock.Clock
	logger     *zap.Logger
	metrics    *observability.Metrics
	cfg        config.TicketConfig

	confirmations *pendingRegistry[closeRequest]
}

// LifecycleDependencies bundles collaborators for the lifecycle service.
type LifecycleDependencies struct {
	Store      repository.TicketStore
	Transport  transport.Transport
	Dispatcher events.Dispatcher
	Catalog    *domain.CategoryCatalog
	Clock      clock.Clock
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// OpenTicketInput describes a ticket creation request.
type OpenTicketInput struct {
	User           transport.User
	Category       string
	InitialMessage string
}

// CloseOutcome is the result of RequestClose: either a pending
// confirmation prompt or the record of a completed close.
type CloseOutcome struct {
	PendingID string
	ExpiresAt time.Time
	Prompt    transport.OutgoingMessage
	Record    *domain.ClosedRecord
}

// Pending reports whether the close waits for a confirmation.
func (o CloseOutcome) Pending() bool {
	return o.PendingID != ""
}

type closeRequest struct {
	ChannelID   string
	RequestedBy domain.Actor
}

// NewLifecycleService constructs the service.
func NewLifecycleService(cfg config.TicketConfig, deps LifecycleDependencies) *LifecycleService {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	catalog := deps.Catalog
	if catalog == nil {
		catalog = domain.NewCategoryCatalog(cfg.Categories)
	}
	return &LifecycleService{
		store:         deps.Store,
		transport:     deps.Transport,
		dispatcher:    deps.Dispatcher,
		catalog:       catalog,
		clock:         clk,
		logger:        logger,
		metrics:       deps.Metrics,
		cfg:           cfg,
		confirmations: newPendingRegistry[closeRequest](clk),
	}
}

// Catalog returns the categories users can open tickets in.
func (s *LifecycleService) Catalog() *domain.CategoryCatalog {
	return s.catalog
}

// OpenTicket creates a ticket channel for the user. The returned text is
// always set and safe to show to the user, including on failure.
func (s *LifecycleService) OpenTicket(ctx context.Context, input OpenTicketInput) (string, *domain.Ticket, error) {
	user := input.User
	opt, ok := s.catalog.Lookup(input.Category)
	if !ok {
		return msgUnknownCategory, nil, apperrors.NewValidationError("unknown category", map[string]any{"category": input.Category})
	}
	initial := input.InitialMessage
	if initial == "" {
		initial = opt.InitialMessage
	}
	logger := s.logger.With(zap.String("owner_id", user.ID), zap.String("category", string(opt.Category)))

	unlock := s.store.LockOwner(user.ID)
	defer unlock()

	if err := s.store.CheckCanOpen(user.ID); err != nil {
		return s.rejection(err), nil, err
	}

	now := s.clock.Now()
	channel, err := s.transport.CreateTicketChannel(ctx, transport.ChannelSpec{
		Name:     ChannelName(user.Name, opt.Category, now),
		Topic:    "Ticket for " + user.Name + " (" + user.ID + ")",
		Category: opt.Category,
	})
	if err != nil {
		logger.Error("create ticket channel failed", zap.Error(err))
		s.metrics.RecordError("create_channel", apperrors.CodeTransportFailure)
		return msgOpenFailed, nil, apperrors.NewTransportFailure("create_channel", err)
	}
	logger = logger.With(zap.String("ticket_channel", channel.ID))

	ticket, err := s.store.CreateTicket(user.Owner(), opt.Category, channel)
	if err != nil {
		logger.Warn("ticket rejected after channel creation", zap.Error(err))
		s.deleteChannel(ctx, channel.ID)
		return s.rejection(err), nil, err
	}

	summary, err := s.transport.SendChannelMessage(ctx, channel.ID, ticketSummary(ticket, opt, user, initial))
	if err != nil {
		logger.Error("send ticket summary failed; rolling back", zap.Error(err))
		if rmErr := s.store.RemoveTicket(channel.ID); rmErr != nil {
			logger.Error("roll back ticket", zap.Error(rmErr))
		}
		s.deleteChannel(ctx, channel.ID)
		s.metrics.RecordError("open_ticket", apperrors.CodeTransportFailure)
		return msgOpenFailed, nil, apperrors.NewTransportFailure("send_summary", err)
	}
	if err := s.transport.PinMessage(ctx, channel.ID, summary.MessageID); err != nil {
		logger.Warn("pin ticket summary failed", zap.Error(err))
	}
	if err := s.store.RecordActivity(channel.ID, domain.TicketMessage{
		ID:              summary.MessageID,
		SourceChannelID: channel.ID,
		AuthorName:      "System",
		AuthorType:      domain.AuthorTypeSystem,
		Content:         initial,
		Pinned:          true,
	}); err != nil {
		logger.Warn("record ticket summary failed", zap.Error(err))
	}

	if _, err := s.transport.SendDirectMessage(ctx, user.ID, ticketOpenedCard(opt, now)); err != nil {
		logger.Warn("send ticket confirmation to user failed", zap.Error(err))
	}

	s.metrics.RecordTicketOpened(string(opt.Category))
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    domain.UserActor(user.ID, user.Name),
		Payload: events.TicketCreatedPayload{
			OwnerID:     user.ID,
			OwnerName:   user.Name,
			ChannelID:   channel.ID,
			ChannelName: channel.Name,
			Category:    opt.Category,
		},
	})
	logger.Info("ticket opened")

	if current, ok := s.store.FindByChannel(channel.ID); ok {
		ticket = current
	}
	return ticketOpenedReply(opt.Category), &ticket, nil
}

// RequestClose closes the ticket bound to channelID, or returns a
// confirmation prompt when confirmations are enabled.
func (s *LifecycleService) RequestClose(ctx context.Context, channelID string, requestedBy domain.Actor) (CloseOutcome, error) {
	if _, ok := s.store.FindByChannel(channelID); !ok {
		return CloseOutcome{}, apperrors.ErrNotFound
	}
	if !s.cfg.CloseConfirmation {
		record, err := s.FinalizeClose(ctx, channelID, requestedBy, domain.CloseReasonManual)
		if err != nil {
			return CloseOutcome{}, err
		}
		return CloseOutcome{Record: &record}, nil
	}

	timeout := s.cfg.ConfirmTimeout()
	id, expiresAt := s.confirmations.Add(closeRequest{ChannelID: channelID, RequestedBy: requestedBy}, timeout, func(req closeRequest) {
		s.logger.Info("close confirmation expired",
			zap.String("ticket_channel", req.ChannelID),
			zap.String("requested_by", req.RequestedBy.ID))
	})
	return CloseOutcome{PendingID: id, ExpiresAt: expiresAt, Prompt: closeConfirmPrompt(id, timeout)}, nil
}

// ConfirmClose completes a pending close. An expired or unknown
// confirmation yields ErrTimeout.
func (s *LifecycleService) ConfirmClose(ctx context.Context, pendingID string, actor domain.Actor) (domain.ClosedRecord, error) {
	req, ok := s.confirmations.Take(pendingID)
	if !ok {
		return domain.ClosedRecord{}, apperrors.ErrTimeout
	}
	return s.FinalizeClose(ctx, req.ChannelID, actor, domain.CloseReasonManual)
}

// CancelClose drops a pending close.
func (s *LifecycleService) CancelClose(_ context.Context, pendingID string) error {
	if _, ok := s.confirmations.Take(pendingID); !ok {
		return apperrors.ErrTimeout
	}
	return nil
}

// FinalizeClose closes the ticket bound to channelID: the transcript is
// rendered, the channel and the owner are notified, the ticket is archived
// in the store and the channel is deleted after the grace delay. Archived
// tickets keep their channel.
func (s *LifecycleService) FinalizeClose(ctx context.Context, channelID string, actor domain.Actor, reason domain.CloseReason) (domain.ClosedRecord, error) {
	unlock := s.store.LockTicket(channelID)
	defer unlock()

	ticket, ok := s.store.FindByChannel(channelID)
	if !ok {
		return domain.ClosedRecord{}, apperrors.ErrNotFound
	}
	now := s.clock.Now()
	if reason == domain.CloseReasonAuto {
		threshold := s.cfg.AutoCloseAfter()
		if threshold <= 0 || ticket.IdleFor(now) < threshold {
			return domain.ClosedRecord{}, apperrors.ErrNotIdle
		}
	}
	logger := s.logger.With(
		zap.String("ticket_channel", channelID),
		zap.String("owner_id", ticket.Owner.ID),
		zap.String("reason", string(reason)))

	text := transcript.Render(ticket)
	deleteDelay := s.cfg.DeleteDelay()

	if _, err := s.transport.SendChannelMessage(ctx, channelID, closingNotice(actor, reason, s.cfg.AutoCloseHours, deleteDelay, now)); err != nil {
		logger.Warn("send closing notice failed", zap.Error(err))
	}
	ownerNotice := ownerClosedNotice(reason, s.cfg.AutoCloseHours, transcript.FileName(ticket), text, now)
	if _, err := s.transport.SendDirectMessage(ctx, ticket.Owner.ID, ownerNotice); err != nil {
		logger.Warn("send closing notice to owner failed", zap.Error(err))
	}

	record, err := s.store.CloseTicket(channelID, actor.ID, reason)
	if err != nil {
		return domain.ClosedRecord{}, err
	}
	s.metrics.RecordClose(string(reason))
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketClosed,
		TicketID: record.TicketID,
		Actor:    actor,
		Payload: events.TicketClosedPayload{
			OwnerID:   ticket.Owner.ID,
			OwnerName: ticket.Owner.Name,
			ChannelID: channelID,
			Record:    record,
		},
	})
	logger.Info("ticket closed", zap.String("closed_by", actor.ID), zap.Int("message_count", record.MessageCount))

	if reason != domain.CloseReasonArchive {
		s.clock.AfterFunc(deleteDelay, func() {
			deleteCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			s.deleteChannel(deleteCtx, channelID)
		})
	}
	return record, nil
}

// Transfer moves the ticket to another category. A failed rename leaves
// the category updated and the channel name stale.
func (s *LifecycleService) Transfer(ctx context.Context, channelID, category string, actor domain.Actor) (domain.Ticket, error) {
	opt, ok := s.catalog.Lookup(category)
	if !ok {
		return domain.Ticket{}, apperrors.NewValidationError("unknown category", map[string]any{"category": category})
	}

	unlock := s.store.LockTicket(channelID)
	defer unlock()

	ticket, ok := s.store.FindByChannel(channelID)
	if !ok {
		return domain.Ticket{}, apperrors.ErrNotFound
	}
	logger := s.logger.With(zap.String("ticket_channel", channelID), zap.String("category", string(opt.Category)))

	name := ChannelName(ticket.Owner.Name, opt.Category, ticket.CreatedAt)
	renamed := true
	if err := s.transport.RenameChannel(ctx, channelID, name); err != nil {
		logger.Warn("rename ticket channel failed; name left stale", zap.Error(err))
		renamed = false
		name = ""
	}
	updated, err := s.store.UpdateCategory(channelID, opt.Category, name)
	if err != nil {
		return domain.Ticket{}, err
	}

	now := s.clock.Now()
	if _, err := s.transport.SendChannelMessage(ctx, channelID, transferNotice(opt.Category, false, now)); err != nil {
		logger.Warn("send transfer notice failed", zap.Error(err))
	}
	if _, err := s.transport.SendDirectMessage(ctx, ticket.Owner.ID, transferNotice(opt.Category, true, now)); err != nil {
		logger.Warn("send transfer notice to owner failed", zap.Error(err))
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketTransferred,
		TicketID: ticket.ID,
		Actor:    actor,
		Payload: events.TicketTransferredPayload{
			ChannelID:   channelID,
			OldCategory: ticket.Category,
			NewCategory: opt.Category,
			Renamed:     renamed,
		},
	})
	logger.Info("ticket transferred", zap.String("from", string(ticket.Category)))
	return updated, nil
}

// SetBlacklisted adds or removes userID from the blacklist. Open tickets
// are not affected.
func (s *LifecycleService) SetBlacklisted(ctx context.Context, userID string, blacklisted bool, actor domain.Actor) error {
	if userID == "" {
		return apperrors.NewValidationError("user id is required", nil)
	}
	if !s.store.SetBlacklist(userID, blacklisted) {
		return nil
	}
	eventType := events.EventUserBlacklisted
	if !blacklisted {
		eventType = events.EventUserUnblacklisted
	}
	s.publishEvent(ctx, events.Event{
		Type:    eventType,
		Actor:   actor,
		Payload: events.BlacklistChangedPayload{UserID: userID},
	})
	s.logger.Info("blacklist updated", zap.String("user_id", userID), zap.Bool("blacklisted", blacklisted), zap.String("actor_id", actor.ID))
	return nil
}

// IsBlacklisted reports whether userID may not open tickets.
func (s *LifecycleService) IsBlacklisted(userID string) bool {
	return s.store.IsBlacklisted(userID)
}

// Stats returns ticket counters, with per-user counters when userID is set.
func (s *LifecycleService) Stats(userID string) domain.Stats {
	return s.store.Stats(userID)
}

// ActiveTickets lists every open ticket, oldest first.
func (s *LifecycleService) ActiveTickets() []domain.Ticket {
	return s.store.ActiveTickets()
}

// OwnerTickets lists the open tickets of userID.
func (s *LifecycleService) OwnerTickets(userID string) []domain.Ticket {
	return s.store.FindByOwner(userID)
}

// Ticket returns the open ticket bound to channelID.
func (s *LifecycleService) Ticket(channelID string) (domain.Ticket, error) {
	ticket, ok := s.store.FindByChannel(channelID)
	if !ok {
		return domain.Ticket{}, apperrors.ErrNotFound
	}
	return ticket, nil
}

// ClosedHistory returns the closed-ticket summaries of userID.
func (s *LifecycleService) ClosedHistory(userID string) []domain.ClosedRecord {
	return s.store.ClosedLog(userID)
}

func (s *LifecycleService) rejection(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrBlacklisted):
		return msgBlacklisted
	case errors.Is(err, apperrors.ErrLimitExceeded):
		return limitMessage(s.cfg.LimitPerUser)
	default:
		return msgOpenFailed
	}
}

func limitMessage(limit int) string {
	if limit <= 1 {
		return "You already have an open ticket. Please close it before creating a new one."
	}
	return "You have reached the maximum number of open tickets. Please close one before creating a new one."
}

func (s *LifecycleService) deleteChannel(ctx context.Context, channelID string) {
	if err := s.transport.DeleteChannel(ctx, channelID); err != nil {
		s.logger.Error("delete ticket channel failed", zap.String("ticket_channel", channelID), zap.Error(err))
		s.metrics.RecordError("delete_channel", apperrors.CodeTransportFailure)
	}
}

func (s *LifecycleService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock.Now()
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handlers failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

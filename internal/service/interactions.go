package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/modmail/internal/domain"
	"github.com/spec-kit/modmail/internal/transport"
	apperrors "github.com/spec-kit/modmail/pkg/util"
)

// interactionRoute binds one custom id action to its handler. arg is the
// part of the custom id after the first colon.
type interactionRoute struct {
	staffOnly bool
	handle    func(ctx context.Context, ev transport.InteractionEvent, arg string) transport.InteractionResponse
}

func (r *RouterService) interactionRoutes() map[string]interactionRoute {
	return map[string]interactionRoute{
		actionOpenTicket:     {handle: r.handleOpenTicket},
		actionTicketSelect:   {handle: r.handleTicketSelect},
		actionCloseTicket:    {staffOnly: true, handle: r.handleCloseTicket},
		actionCloseConfirm:   {staffOnly: true, handle: r.handleCloseConfirm},
		actionCloseCancel:    {staffOnly: true, handle: r.handleCloseCancel},
		actionBlacklistUser:  {staffOnly: true, handle: r.handleBlacklistUser},
		actionArchiveTicket:  {staffOnly: true, handle: r.handleArchiveTicket},
		actionTransferTicket: {staffOnly: true, handle: r.handleTransferTicket},
		actionTransferSelect: {staffOnly: true, handle: r.handleTransferSelect},
	}
}

// OnInteraction resolves a button press or menu choice through the route
// table and answers it.
func (r *RouterService) OnInteraction(ctx context.Context, ev transport.InteractionEvent) {
	action, arg, _ := strings.Cut(ev.CustomID, ":")
	logger := r.logger.With(zap.String("action", action), zap.String("user_id", ev.User.ID), zap.String("channel_id", ev.ChannelID))

	var resp transport.InteractionResponse
	route, ok := r.routes[action]
	switch {
	case !ok:
		logger.Debug("unknown interaction", zap.String("custom_id", ev.CustomID))
		resp = ephemeral(msgGenericFailure)
	case route.staffOnly && !ev.User.Staff:
		resp = ephemeral(msgNoPermission)
	default:
		resp = route.handle(ctx, ev, arg)
	}

	if err := r.transport.RespondInteraction(ctx, ev.Interaction, resp); err != nil {
		logger.Warn("respond to interaction failed", zap.Error(err))
	}
}

func (r *RouterService) handleOpenTicket(ctx context.Context, ev transport.InteractionEvent, arg string) transport.InteractionResponse {
	text, _, err := r.lifecycle.OpenTicket(ctx, OpenTicketInput{User: ev.User, Category: arg})
	if err != nil {
		r.logger.Info("open ticket rejected", zap.String("owner_id", ev.User.ID), zap.String("category", arg), zap.Error(err))
	}
	return ephemeral(text)
}

func (r *RouterService) handleTicketSelect(ctx context.Context, ev transport.InteractionEvent, arg string) transport.InteractionResponse {
	sel, ok := r.selections.Take(arg)
	if !ok || sel.UserID != ev.User.ID || len(ev.Values) == 0 {
		return ephemeral(msgSelectionExpired)
	}
	channelID := ev.Values[0]
	ticket, found := r.store.FindByChannel(channelID)
	if !found || ticket.Owner.ID != ev.User.ID {
		return ephemeral(msgTicketGone)
	}
	if notice := r.forwardToChannel(ctx, channelID, sel.Message); notice != "" {
		return ephemeral(notice)
	}
	return ephemeral(fmt.Sprintf("Your message has been sent to your %s ticket.", ticket.Category))
}

func (r *RouterService) handleCloseTicket(ctx context.Context, ev transport.InteractionEvent, _ string) transport.InteractionResponse {
	outcome, err := r.lifecycle.RequestClose(ctx, ev.ChannelID, staffActor(ev.User))
	if err != nil {
		return r.failure(err, "close ticket")
	}
	if outcome.Pending() {
		return transport.InteractionResponse{Message: outcome.Prompt, Ephemeral: true}
	}
	return ephemeral("Ticket closed.")
}

func (r *RouterService) handleCloseConfirm(ctx context.Context, ev transport.InteractionEvent, arg string) transport.InteractionResponse {
	if _, err := r.lifecycle.ConfirmClose(ctx, arg, staffActor(ev.User)); err != nil {
		return r.failure(err, "confirm close")
	}
	return ephemeral("Ticket closed.")
}

func (r *RouterService) handleCloseCancel(ctx context.Context, _ transport.InteractionEvent, arg string) transport.InteractionResponse {
	if err := r.lifecycle.CancelClose(ctx, arg); err != nil {
		return r.failure(err, "cancel close")
	}
	return ephemeral(msgCloseCancelled)
}

func (r *RouterService) handleBlacklistUser(ctx context.Context, ev transport.InteractionEvent, _ string) transport.InteractionResponse {
	ticket, err := r.lifecycle.Ticket(ev.ChannelID)
	if err != nil {
		return r.failure(err, "blacklist user")
	}
	if err := r.lifecycle.SetBlacklisted(ctx, ticket.Owner.ID, true, staffActor(ev.User)); err != nil {
		return r.failure(err, "blacklist user")
	}
	return transport.InteractionResponse{Message: plain(fmt.Sprintf("User <@%s> has been blacklisted from creating tickets.", ticket.Owner.ID))}
}

func (r *RouterService) handleArchiveTicket(ctx context.Context, ev transport.InteractionEvent, _ string) transport.InteractionResponse {
	if _, err := r.lifecycle.FinalizeClose(ctx, ev.ChannelID, staffActor(ev.User), domain.CloseReasonArchive); err != nil {
		return r.failure(err, "archive ticket")
	}
	return ephemeral("Ticket archived.")
}

func (r *RouterService) handleTransferTicket(_ context.Context, ev transport.InteractionEvent, _ string) transport.InteractionResponse {
	ticket, err := r.lifecycle.Ticket(ev.ChannelID)
	if err != nil {
		return r.failure(err, "transfer ticket")
	}
	return transport.InteractionResponse{Message: transferPrompt(r.lifecycle.Catalog(), ticket.Category), Ephemeral: true}
}

func (r *RouterService) handleTransferSelect(ctx context.Context, ev transport.InteractionEvent, _ string) transport.InteractionResponse {
	if len(ev.Values) == 0 {
		return ephemeral("Select a department to transfer this ticket to.")
	}
	ticket, err := r.lifecycle.Transfer(ctx, ev.ChannelID, ev.Values[0], staffActor(ev.User))
	if err != nil {
		return r.failure(err, "transfer ticket")
	}
	return ephemeral(fmt.Sprintf("Ticket transferred to %s department.", ticket.Category))
}

func (r *RouterService) failure(err error, op string) transport.InteractionResponse {
	switch {
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrTimeout):
		r.logger.Debug(op+" rejected", zap.Error(err))
	default:
		r.logger.Error(op+" failed", zap.Error(err))
		if de := apperrors.ToDomainError(err); de != nil {
			r.metrics.RecordError(strings.ReplaceAll(op, " ", "_"), de.Code)
		}
	}
	return ephemeral(userMessage(err))
}

func ephemeral(text string) transport.InteractionResponse {
	return transport.InteractionResponse{Message: plain(text), Ephemeral: true}
}

func staffActor(u transport.User) domain.Actor {
	return domain.StaffActor(u.ID, u.Name)
}

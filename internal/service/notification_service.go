package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/modmail/internal/domain"
	"github.com/spec-kit/modmail/internal/events"
	"github.com/spec-kit/modmail/internal/transport"
)

// NotificationService writes lifecycle events to the staff audit log.
type NotificationService struct {
	dispatcher events.Dispatcher
	transport  transport.Transport
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, tr transport.Transport, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		transport:  tr,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventTicketClosed, n.handleTicketClosed)
	n.dispatcher.Subscribe(events.EventTicketTransferred, n.handleTicketTransferred)
	n.dispatcher.Subscribe(events.EventUserBlacklisted, n.handleBlacklistChanged)
	n.dispatcher.Subscribe(events.EventUserUnblacklisted, n.handleBlacklistChanged)
}

func (n *NotificationService) handleTicketCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketCreatedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	n.logger.Info("TicketCreated", zap.String("ticket_id", event.TicketID), zap.String("ticket_channel", payload.ChannelID))
	return n.audit(ctx, event, string(payload.Category),
		fmt.Sprintf("Ticket created by %s (%s)", payload.OwnerName, payload.OwnerID),
		payload.ChannelName)
}

func (n *NotificationService) handleTicketClosed(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketClosedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	n.logger.Info("TicketClosed", zap.String("ticket_id", event.TicketID), zap.String("reason", string(payload.Record.Reason)))
	action := fmt.Sprintf("Ticket closed by %s", actorLabel(event))
	switch payload.Record.Reason {
	case domain.CloseReasonAuto:
		action = "Ticket auto-closed due to inactivity"
	case domain.CloseReasonArchive:
		action = fmt.Sprintf("Ticket archived by %s", actorLabel(event))
	}
	details := fmt.Sprintf("User: %s (%s)\nChannel: %s\nMessages: %d",
		payload.OwnerName, payload.OwnerID, payload.Record.ChannelName, payload.Record.MessageCount)
	return n.audit(ctx, event, string(payload.Record.Category), action, details)
}

func (n *NotificationService) handleTicketTransferred(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketTransferredPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	n.logger.Info("TicketTransferred", zap.String("ticket_id", event.TicketID), zap.String("category", string(payload.NewCategory)))
	return n.audit(ctx, event, string(payload.NewCategory),
		fmt.Sprintf("Ticket transferred by %s", actorLabel(event)),
		fmt.Sprintf("From %s to %s", payload.OldCategory, payload.NewCategory))
}

func (n *NotificationService) handleBlacklistChanged(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.BlacklistChangedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	n.logger.Info(string(event.Type), zap.String("user_id", payload.UserID))
	verb := "blacklisted"
	if event.Type == events.EventUserUnblacklisted {
		verb = "removed from the blacklist"
	}
	return n.audit(ctx, event, "Blacklist",
		fmt.Sprintf("User %s %s by %s", payload.UserID, verb, actorLabel(event)), "")
}

func (n *NotificationService) audit(ctx context.Context, event events.Event, category, action, details string) error {
	if n.transport == nil {
		return nil
	}
	card := &transport.Card{
		Title:       category + " Log",
		Description: action,
		Color:       colorDefault,
		Timestamp:   event.Timestamp,
	}
	if details != "" {
		card.Fields = []transport.CardField{{Name: "Details", Value: details}}
	}
	if err := n.transport.SendAuditLog(ctx, transport.OutgoingMessage{Card: card}); err != nil {
		n.logger.Warn("write audit log failed", zap.String("event_type", string(event.Type)), zap.Error(err))
		return err
	}
	return nil
}

func actorLabel(event events.Event) string {
	if event.Actor.Name != "" {
		return event.Actor.Name
	}
	return event.Actor.ID
}

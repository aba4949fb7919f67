package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/spec-kit/modmail/internal/api/dto"
	"github.com/spec-kit/modmail/internal/domain"
	"github.com/spec-kit/modmail/internal/service"
	apperrors "github.com/spec-kit/modmail/pkg/util"
)

// TicketsHandler manages staff ticket endpoints.
type TicketsHandler struct {
	lifecycle *service.LifecycleService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(lifecycle *service.LifecycleService) *TicketsHandler {
	return &TicketsHandler{lifecycle: lifecycle}
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	category := strings.TrimSpace(c.Query("category"))
	tickets := h.lifecycle.ActiveTickets()
	items := make([]dto.TicketSummary, 0, len(tickets))
	for i := range tickets {
		if category != "" && !strings.EqualFold(string(tickets[i].Category), category) {
			continue
		}
		items = append(items, ticketSummary(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /tickets/:channel.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, err := h.lifecycle.Ticket(param(c, "channel"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(&ticket)})
}

// CloseTicket POST /tickets/:channel/close. Closes without confirmation.
func (h *TicketsHandler) CloseTicket(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	record, err := h.lifecycle.FinalizeClose(c.UserContext(), param(c, "channel"), staff.Actor(), domain.CloseReasonManual)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": closedTicketResponse(record)})
}

// TransferTicket POST /tickets/:channel/transfer.
func (h *TicketsHandler) TransferTicket(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.TransferRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Category) == "" {
		return apperrors.NewValidationError("category required", nil)
	}
	ticket, err := h.lifecycle.Transfer(c.UserContext(), param(c, "channel"), req.Category, staff.Actor())
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"data": ticketSummary(&ticket)})
}

// param copies a route parameter out of the request buffer, which fasthttp
// reuses once the handler returns.
func param(c *fiber.Ctx, name string) string {
	return utils.CopyString(strings.TrimSpace(c.Params(name)))
}

func ticketSummary(ticket *domain.Ticket) dto.TicketSummary {
	return dto.TicketSummary{
		ID:           ticket.ID,
		ChannelID:    ticket.Channel.ID,
		ChannelName:  ticket.Channel.Name,
		OwnerID:      ticket.Owner.ID,
		OwnerName:    ticket.Owner.Name,
		Category:     ticket.Category,
		MessageCount: ticket.MessageCount(),
		CreatedAt:    ticket.CreatedAt,
		LastActivity: ticket.LastActivity,
	}
}

func ticketDetail(ticket *domain.Ticket) dto.TicketDetailResponse {
	msgs := make([]dto.TicketMessageResponse, 0, len(ticket.Messages))
	for i := range ticket.Messages {
		msgs = append(msgs, ticketMessageResponse(&ticket.Messages[i]))
	}
	return dto.TicketDetailResponse{
		TicketSummary: ticketSummary(ticket),
		UserTyping:    ticket.UserTyping,
		StaffTyping:   ticket.StaffTyping,
		Messages:      msgs,
	}
}

func ticketMessageResponse(msg *domain.TicketMessage) dto.TicketMessageResponse {
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []domain.AttachmentReference{}
	}
	return dto.TicketMessageResponse{
		ID:          msg.ID,
		RelayID:     msg.RelayID,
		AuthorType:  msg.AuthorType,
		AuthorID:    msg.AuthorID,
		AuthorName:  msg.AuthorName,
		Content:     msg.Content,
		EmbedText:   msg.EmbedText,
		Attachments: attachments,
		Pinned:      msg.Pinned,
		CreatedAt:   msg.CreatedAt,
	}
}

func closedTicketResponse(record domain.ClosedRecord) dto.ClosedTicketResponse {
	return dto.ClosedTicketResponse{
		TicketID:     record.TicketID,
		ChannelName:  record.ChannelName,
		Category:     record.Category,
		CreatedAt:    record.CreatedAt,
		ClosedAt:     record.ClosedAt,
		ClosedBy:     record.ClosedBy,
		Reason:       record.Reason,
		MessageCount: record.MessageCount,
	}
}

package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/modmail/internal/api/dto"
	"github.com/spec-kit/modmail/internal/service"
	apperrors "github.com/spec-kit/modmail/pkg/util"
)

// UsersHandler manages blacklist and history endpoints.
type UsersHandler struct {
	lifecycle *service.LifecycleService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(lifecycle *service.LifecycleService) *UsersHandler {
	return &UsersHandler{lifecycle: lifecycle}
}

// Blacklist PUT /blacklist/:user.
func (h *UsersHandler) Blacklist(c *fiber.Ctx) error {
	return h.setBlacklisted(c, true)
}

// Unblacklist DELETE /blacklist/:user.
func (h *UsersHandler) Unblacklist(c *fiber.Ctx) error {
	return h.setBlacklisted(c, false)
}

func (h *UsersHandler) setBlacklisted(c *fiber.Ctx, blacklisted bool) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	userID := param(c, "user")
	if err := h.lifecycle.SetBlacklisted(c.UserContext(), userID, blacklisted, staff.Actor()); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.BlacklistResponse{UserID: userID, Blacklisted: blacklisted}})
}

// History GET /users/:user/history.
func (h *UsersHandler) History(c *fiber.Ctx) error {
	userID := param(c, "user")
	if userID == "" {
		return apperrors.NewValidationError("user id required", nil)
	}
	active := h.lifecycle.OwnerTickets(userID)
	closed := h.lifecycle.ClosedHistory(userID)

	resp := dto.UserHistoryResponse{
		UserID:      userID,
		Blacklisted: h.lifecycle.IsBlacklisted(userID),
		Active:      make([]dto.TicketSummary, 0, len(active)),
		Closed:      make([]dto.ClosedTicketResponse, 0, len(closed)),
	}
	for i := range active {
		resp.Active = append(resp.Active, ticketSummary(&active[i]))
	}
	for _, record := range closed {
		resp.Closed = append(resp.Closed, closedTicketResponse(record))
	}
	return c.JSON(fiber.Map{"data": resp})
}

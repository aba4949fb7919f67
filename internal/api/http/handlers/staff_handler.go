package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/spec-kit/modmail/internal/api/dto"
	"github.com/spec-kit/modmail/internal/auth"
	"github.com/spec-kit/modmail/internal/domain"
	"github.com/spec-kit/modmail/internal/observability"
	"github.com/spec-kit/modmail/internal/service"
	apperrors "github.com/spec-kit/modmail/pkg/util"
)

// StaffHandler exposes staff login and the relay counters.
type StaffHandler struct {
	authService *service.AuthService
	lifecycle   *service.LifecycleService
	metrics     *observability.Metrics
}

// NewStaffHandler constructs handler.
func NewStaffHandler(authService *service.AuthService, lifecycle *service.LifecycleService, metrics *observability.Metrics) *StaffHandler {
	return &StaffHandler{authService: authService, lifecycle: lifecycle, metrics: metrics}
}

// Login handles POST /auth/staff/login.
func (h *StaffHandler) Login(c *fiber.Ctx) error {
	var req dto.StaffLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return apperrors.NewValidationError("username and password required", nil)
	}

	staff, token, exp, err := h.authService.LoginStaff(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"staff": staffResponse(staff),
			"auth":  dto.AuthResponse{Token: token, ExpiresAt: exp},
		},
	})
}

// Stats handles GET /stats. The optional user query adds per-user counters.
func (h *StaffHandler) Stats(c *fiber.Ctx) error {
	stats := h.lifecycle.Stats(utils.CopyString(strings.TrimSpace(c.Query("user"))))
	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"tickets": stats,
			"metrics": h.metrics.Snapshot(),
		},
	})
}

func staffPrincipal(c *fiber.Ctx) (*domain.StaffMember, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Staff == nil {
		return nil, apperrors.NewUnauthorized("staff required")
	}
	return principal.Staff, nil
}

func staffResponse(staff *domain.StaffMember) dto.StaffResponse {
	return dto.StaffResponse{ID: staff.ID, Name: staff.Name, Role: string(staff.Role)}
}

package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/modmail/internal/domain"
	apperrors "github.com/spec-kit/modmail/pkg/util"
)

// RequireStaffRole ensures the staff principal has one of the allowed roles.
// With no roles listed any authenticated staff member passes.
func RequireStaffRole(allowed ...domain.StaffRole) fiber.Handler {
	allowedSet := make(map[domain.StaffRole]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok || principal.SubjectType != domain.SubjectTypeStaff || principal.Staff == nil {
			return apperrors.NewForbidden("staff role required")
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[principal.Staff.Role]; !exists {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}

package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/modmail/internal/api/http/handlers"
	"github.com/spec-kit/modmail/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Staff          *handlers.StaffHandler
	Tickets        *handlers.TicketsHandler
	Users          *handlers.UsersHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	app.Post("/auth/staff/login", cfg.Staff.Login)

	staff := app.Group("", cfg.AuthMiddleware.Handle, auth.RequireStaffRole())
	staff.Get("/stats", cfg.Staff.Stats)

	staff.Get("/tickets", cfg.Tickets.ListTickets)
	staff.Get("/tickets/:channel", cfg.Tickets.GetTicket)
	staff.Post("/tickets/:channel/close", cfg.Tickets.CloseTicket)
	staff.Post("/tickets/:channel/transfer", cfg.Tickets.TransferTicket)

	staff.Put("/blacklist/:user", cfg.Users.Blacklist)
	staff.Delete("/blacklist/:user", cfg.Users.Unblacklist)
	staff.Get("/users/:user/history", cfg.Users.History)
}

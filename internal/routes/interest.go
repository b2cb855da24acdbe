package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lumenpay/lumenpay/internal/interest"
)

// RegisterInterestRoutes wires accrual, application and calculator endpoints.
func RegisterInterestRoutes(r fiber.Router, h *interest.Handler) {
	r.Post("/interest/accruals", h.Accrue)
	r.Post("/interest/accruals/run", h.AccrueAll)
	r.Post("/interest/apply", h.Apply)
	r.Get("/wallets/:id/interest", h.History)
	r.Get("/wallets/:id/interest/total", h.Total)
	r.Post("/interest/calculate", h.Calculate)
	r.Post("/interest/calculate/days", h.CalculateDays)
	r.Post("/interest/simulate", h.Simulate)
}

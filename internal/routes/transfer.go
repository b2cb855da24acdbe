package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lumenpay/lumenpay/internal/transfer"
)

// RegisterTransferRoutes wires transfer and funding endpoints.
func RegisterTransferRoutes(r fiber.Router, h *transfer.Handler) {
	r.Post("/transfers", h.Transfer)
	r.Post("/deposits", h.Deposit)
	r.Post("/withdrawals", h.Withdraw)
	r.Get("/transactions/:id", h.Get)
	r.Get("/transactions/key/:key", h.GetByKey)
	r.Get("/wallets/:id/transactions", h.History)
}

package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lumenpay/lumenpay/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Post("/wallets", h.Create)
	r.Get("/wallets/:id", h.Get)
	r.Get("/wallets/:id/balance", h.GetBalance)
	r.Patch("/wallets/:id/active", h.SetActive)
}

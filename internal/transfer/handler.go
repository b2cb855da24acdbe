package transfer

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/lumenpay/lumenpay/internal/ledger"
)

// Handler exposes transfer endpoints. Amounts travel as decimal strings in
// request and response bodies.
type Handler struct {
	service *Service
}

// NewHandler constructs a transfer handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type transferRequest struct {
	IdempotencyKey string            `json:"idempotency_key"`
	FromWalletID   string            `json:"from_wallet_id"`
	ToWalletID     string            `json:"to_wallet_id"`
	Amount         string            `json:"amount"`
	Description    string            `json:"description"`
	Metadata       map[string]string `json:"metadata"`
}

type fundingRequest struct {
	IdempotencyKey string            `json:"idempotency_key"`
	WalletID       string            `json:"wallet_id"`
	Amount         string            `json:"amount"`
	Description    string            `json:"description"`
	Metadata       map[string]string `json:"metadata"`
}

// Transfer processes a wallet-to-wallet transfer.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	res, err := h.service.Transfer(c.UserContext(), Input{
		IdempotencyKey: req.IdempotencyKey,
		FromWalletID:   req.FromWalletID,
		ToWalletID:     req.ToWalletID,
		Amount:         req.Amount,
		Description:    req.Description,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(statusFor(res)).JSON(res)
}

// Deposit credits a wallet from outside the system.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req fundingRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	res, err := h.service.Deposit(c.UserContext(), FundingInput{
		IdempotencyKey: req.IdempotencyKey,
		WalletID:       req.WalletID,
		Amount:         req.Amount,
		Description:    req.Description,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(statusFor(res)).JSON(res)
}

// Withdraw debits a wallet toward outside the system.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req fundingRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	res, err := h.service.Withdraw(c.UserContext(), FundingInput{
		IdempotencyKey: req.IdempotencyKey,
		WalletID:       req.WalletID,
		Amount:         req.Amount,
		Description:    req.Description,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(statusFor(res)).JSON(res)
}

// Get returns a transaction log record by id.
func (h *Handler) Get(c *fiber.Ctx) error {
	tx, err := h.service.GetTransactionByID(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			return fiber.NewError(http.StatusNotFound, "transaction not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(toAPITransaction(tx))
}

// GetByKey returns the transaction anchored to an idempotency key.
func (h *Handler) GetByKey(c *fiber.Ctx) error {
	tx, err := h.service.GetTransactionByIdempotencyKey(c.UserContext(), c.Params("key"))
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			return fiber.NewError(http.StatusNotFound, "transaction not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(toAPITransaction(tx))
}

// History pages through the transactions touching a wallet.
func (h *Handler) History(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))

	logs, err := h.service.GetTransactionHistory(c.UserContext(), c.Params("id"), limit, offset)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	items := make([]apiTransaction, 0, len(logs))
	for _, tx := range logs {
		items = append(items, toAPITransaction(tx))
	}
	return c.JSON(fiber.Map{"wallet_id": c.Params("id"), "limit": limit, "offset": offset, "transactions": items})
}

func statusFor(res Result) int {
	if res.Success {
		if res.Replayed {
			return http.StatusOK
		}
		return http.StatusCreated
	}
	switch res.ErrorCode {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeWalletNotFound:
		return http.StatusNotFound
	case CodeWalletInactive, CodeInsufficientFunds:
		return http.StatusUnprocessableEntity
	case CodeConcurrentRequest:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

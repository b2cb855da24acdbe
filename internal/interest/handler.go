package interest

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/lumenpay/lumenpay/internal/ledger"
	"github.com/lumenpay/lumenpay/internal/money"
)

const dateLayout = "2006-01-02"

// Handler exposes interest accrual, application and calculator endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an interest handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type accrueRequest struct {
	WalletID string `json:"wallet_id"`
	Date     string `json:"date"`
}

// Accrue records one day's interest for a wallet.
func (h *Handler) Accrue(c *fiber.Ctx) error {
	var req accrueRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	outcome, err := h.service.AccrueForWallet(c.UserContext(), req.WalletID, date)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			return fiber.NewError(http.StatusNotFound, "wallet not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	if outcome.Skipped {
		return c.JSON(fiber.Map{"wallet_id": outcome.WalletID, "skipped": true, "reason": outcome.SkipReason})
	}

	status := http.StatusOK
	if outcome.Created {
		status = http.StatusCreated
	}
	return c.Status(status).JSON(toAPIAccrual(outcome.Accrual))
}

type accrueAllRequest struct {
	Date string `json:"date"`
}

// AccrueAll runs the daily accrual across every active wallet.
func (h *Handler) AccrueAll(c *fiber.Ctx) error {
	var req accrueAllRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	outcome, err := h.service.AccrueForAllWallets(c.UserContext(), date)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{
		"date":    outcome.Date.Format(dateLayout),
		"accrued": outcome.Accrued,
		"skipped": outcome.Skipped,
	})
}

type applyRequest struct {
	WalletID string `json:"wallet_id"`
	Date     string `json:"date"`
}

// Apply materializes unapplied accruals, optionally filtered by wallet and/or
// date. All-or-nothing per call.
func (h *Handler) Apply(c *fiber.Ctx) error {
	var req applyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	var walletID *string
	if req.WalletID != "" {
		walletID = &req.WalletID
	}
	var date *time.Time
	if req.Date != "" {
		d, err := parseDate(req.Date)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		date = &d
	}

	outcome, err := h.service.ApplyAccrued(c.UserContext(), walletID, date)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{
		"applied":        outcome.Applied,
		"total_interest": money.FormatAmount(outcome.TotalInterest),
		"transactions":   outcome.Transactions,
	})
}

// History pages through a wallet's accrual records.
func (h *Handler) History(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))

	accruals, err := h.service.GetInterestHistory(c.UserContext(), c.Params("id"), limit, offset)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	items := make([]apiAccrual, 0, len(accruals))
	for _, a := range accruals {
		items = append(items, toAPIAccrual(a))
	}
	return c.JSON(fiber.Map{"wallet_id": c.Params("id"), "limit": limit, "offset": offset, "accruals": items})
}

// Total returns the sum of every interest amount accrued for a wallet.
func (h *Handler) Total(c *fiber.Ctx) error {
	total, err := h.service.GetTotalAccruedInterest(c.UserContext(), c.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"wallet_id": c.Params("id"), "total_accrued": money.FormatAmount(total)})
}

type calculateRequest struct {
	Principal  string `json:"principal"`
	AnnualRate string `json:"annual_rate"`
	Date       string `json:"date"`
	StartDate  string `json:"start_date"`
	Days       int    `json:"days"`
}

// Calculate prices a single day without persisting anything.
func (h *Handler) Calculate(c *fiber.Ctx) error {
	principal, rate, err := h.parseCalc(c)
	if err != nil {
		return err
	}
	var req calculateRequest
	_ = c.BodyParser(&req)
	date, perr := parseDate(req.Date)
	if perr != nil {
		return fiber.NewError(http.StatusBadRequest, perr.Error())
	}
	return c.JSON(h.service.Calculator().DailyInterest(principal, rate, date))
}

// CalculateDays prices a fixed-principal span day by day.
func (h *Handler) CalculateDays(c *fiber.Ctx) error {
	principal, rate, err := h.parseCalc(c)
	if err != nil {
		return err
	}
	var req calculateRequest
	_ = c.BodyParser(&req)
	start, perr := parseDate(req.StartDate)
	if perr != nil {
		return fiber.NewError(http.StatusBadRequest, perr.Error())
	}
	if req.Days <= 0 || req.Days > 3660 {
		return fiber.NewError(http.StatusBadRequest, "days must be between 1 and 3660")
	}
	return c.JSON(h.service.Calculator().ForDays(principal, rate, start, req.Days))
}

// Simulate projects compounded growth; purely informational.
func (h *Handler) Simulate(c *fiber.Ctx) error {
	principal, rate, err := h.parseCalc(c)
	if err != nil {
		return err
	}
	var req calculateRequest
	_ = c.BodyParser(&req)
	start, perr := parseDate(req.StartDate)
	if perr != nil {
		return fiber.NewError(http.StatusBadRequest, perr.Error())
	}
	if req.Days <= 0 || req.Days > 3660 {
		return fiber.NewError(http.StatusBadRequest, "days must be between 1 and 3660")
	}
	return c.JSON(h.service.Calculator().Simulate(principal, rate, start, req.Days))
}

func (h *Handler) parseCalc(c *fiber.Ctx) (principal, rate decimal.Decimal, err error) {
	var req calculateRequest
	if err := c.BodyParser(&req); err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, fiber.NewError(http.StatusBadRequest, err.Error())
	}
	principal, perr := money.Parse(req.Principal)
	if perr != nil {
		return decimal.Decimal{}, decimal.Decimal{}, fiber.NewError(http.StatusBadRequest, perr.Error())
	}
	rate = h.service.AnnualRate()
	if req.AnnualRate != "" {
		if rate, perr = money.Parse(req.AnnualRate); perr != nil {
			return decimal.Decimal{}, decimal.Decimal{}, fiber.NewError(http.StatusBadRequest, perr.Error())
		}
	}
	return principal, rate, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return money.DateOnly(time.Now()), nil
	}
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return d, nil
}

type apiAccrual struct {
	ID             string     `json:"id"`
	WalletID       string     `json:"wallet_id"`
	Principal      string     `json:"principal"`
	InterestAmount string     `json:"interest_amount"`
	AnnualRate     string     `json:"annual_rate"`
	DailyRate      string     `json:"daily_rate"`
	AccrualDate    string     `json:"accrual_date"`
	DaysInYear     int        `json:"days_in_year"`
	IsLeapYear     bool       `json:"is_leap_year"`
	Applied        bool       `json:"applied"`
	AppliedAt      *time.Time `json:"applied_at,omitempty"`
	TransactionID  *string    `json:"transaction_id,omitempty"`
}

func toAPIAccrual(a ledger.InterestAccrual) apiAccrual {
	return apiAccrual{
		ID:             a.ID,
		WalletID:       a.WalletID,
		Principal:      money.FormatAmount(a.Principal),
		InterestAmount: money.FormatAmount(a.InterestAmount),
		AnnualRate:     a.AnnualRate.String(),
		DailyRate:      money.FormatRate(a.DailyRate),
		AccrualDate:    a.AccrualDate.Format(dateLayout),
		DaysInYear:     a.DaysInYear,
		IsLeapYear:     a.IsLeapYear,
		Applied:        a.Applied,
		AppliedAt:      a.AppliedAt,
		TransactionID:  a.TransactionID,
	}
}

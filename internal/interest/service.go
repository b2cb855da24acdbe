package interest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumenpay/lumenpay/internal/ledger"
	"github.com/lumenpay/lumenpay/internal/money"
	"github.com/lumenpay/lumenpay/internal/notification"
)

// AccrualOutcome reports one wallet's accrual step. Skipped outcomes (inactive
// wallet, non-positive balance) are expected business results, not errors.
type AccrualOutcome struct {
	WalletID   string
	Accrual    ledger.InterestAccrual
	Created    bool
	Skipped    bool
	SkipReason string
}

// BatchOutcome aggregates an accrue-all run for one date.
type BatchOutcome struct {
	Date     time.Time
	Accrued  int
	Skipped  int
	Outcomes []AccrualOutcome
}

// ApplyOutcome reports a materialization run. Either every selected accrual
// was applied or none were.
type ApplyOutcome struct {
	Applied       int
	TotalInterest decimal.Decimal
	Transactions  []string
}

// Service accrues daily interest and materializes it through the same durable
// two-phase machinery the transfer engine uses.
type Service struct {
	store      ledger.Store
	calc       *Calculator
	annualRate decimal.Decimal
	notifier   notification.Notifier
	logger     *slog.Logger
}

// NewService constructs the interest engine with its configured default annual
// rate.
func NewService(store ledger.Store, calc *Calculator, annualRate decimal.Decimal, notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{store: store, calc: calc, annualRate: annualRate, notifier: notifier, logger: logger}
}

// AnnualRate exposes the configured default rate for the pure calculators.
func (s *Service) AnnualRate() decimal.Decimal {
	return s.annualRate
}

// Calculator exposes the pure calculator for preview endpoints.
func (s *Service) Calculator() *Calculator {
	return s.calc
}

// applyKey derives the deterministic idempotency key materializing an accrual,
// so re-running apply for an already-applied day is a safe no-op.
func applyKey(walletID string, date time.Time) string {
	return fmt.Sprintf("interest:%s:%s", walletID, money.DateOnly(date).Format("2006-01-02"))
}

// AccrueForWallet records one day's interest on the wallet's current balance.
// Idempotent per (wallet, date): a second call returns the stored record
// unchanged. Inactive wallets and non-positive balances are skipped.
func (s *Service) AccrueForWallet(ctx context.Context, walletID string, date time.Time) (AccrualOutcome, error) {
	w, err := s.store.GetWallet(ctx, walletID)
	if err != nil {
		return AccrualOutcome{}, err
	}
	if !w.Active {
		return AccrualOutcome{WalletID: walletID, Skipped: true, SkipReason: "wallet inactive"}, nil
	}
	if !w.Balance.IsPositive() {
		return AccrualOutcome{WalletID: walletID, Skipped: true, SkipReason: "non-positive balance"}, nil
	}

	day := s.calc.DailyInterest(w.Balance, s.annualRate, date)
	accrual := ledger.InterestAccrual{
		ID:             uuid.NewString(),
		WalletID:       w.ID,
		Principal:      w.Balance,
		InterestAmount: day.Interest,
		AnnualRate:     s.annualRate,
		DailyRate:      day.DailyRate,
		AccrualDate:    day.Date,
		DaysInYear:     day.DaysInYear,
		IsLeapYear:     day.IsLeapYear,
		CreatedAt:      time.Now().UTC(),
	}

	stored, existed, err := s.store.CreateAccrual(ctx, accrual)
	if err != nil {
		return AccrualOutcome{}, fmt.Errorf("record accrual: %w", err)
	}
	return AccrualOutcome{WalletID: w.ID, Accrual: stored, Created: !existed}, nil
}

// AccrueForAllWallets runs the daily accrual over every active wallet.
// Per-wallet failures abort the batch; individual skips do not.
func (s *Service) AccrueForAllWallets(ctx context.Context, date time.Time) (BatchOutcome, error) {
	wallets, err := s.store.ListActiveWallets(ctx)
	if err != nil {
		return BatchOutcome{}, fmt.Errorf("list wallets: %w", err)
	}

	outcome := BatchOutcome{Date: money.DateOnly(date)}
	for _, w := range wallets {
		res, err := s.AccrueForWallet(ctx, w.ID, date)
		if err != nil {
			return BatchOutcome{}, fmt.Errorf("accrue wallet %s: %w", w.ID, err)
		}
		outcome.Outcomes = append(outcome.Outcomes, res)
		if res.Skipped {
			outcome.Skipped++
		} else {
			outcome.Accrued++
		}
	}
	return outcome, nil
}

// ApplyAccrued credits every selected unapplied accrual into its wallet inside
// one all-or-nothing operation: a pending INTEREST log per accrual (Phase 1,
// deterministic key), then a single atomic batch commit (Phase 2). If any
// accrual fails, none are applied; callers needing partial success apply per
// wallet.
func (s *Service) ApplyAccrued(ctx context.Context, walletID *string, date *time.Time) (ApplyOutcome, error) {
	accruals, err := s.store.ListUnappliedAccruals(ctx, ledger.AccrualFilter{WalletID: walletID, AccrualDate: date})
	if err != nil {
		return ApplyOutcome{}, fmt.Errorf("select accruals: %w", err)
	}
	if len(accruals) == 0 {
		return ApplyOutcome{TotalInterest: decimal.Zero}, nil
	}

	var apps []ledger.InterestApplication
	for _, accrual := range accruals {
		wid := accrual.WalletID
		tx := ledger.TransactionLog{
			ID:             uuid.NewString(),
			IdempotencyKey: applyKey(accrual.WalletID, accrual.AccrualDate),
			ToWalletID:     &wid,
			Amount:         accrual.InterestAmount,
			Type:           ledger.TypeInterest,
			Description:    fmt.Sprintf("daily interest for %s", accrual.AccrualDate.Format("2006-01-02")),
			CreatedAt:      time.Now().UTC(),
		}

		pending, existed, err := s.store.CreatePendingTransaction(ctx, tx)
		if err != nil {
			return ApplyOutcome{}, fmt.Errorf("record interest intent: %w", err)
		}
		if existed && pending.Status != ledger.StatusPending {
			// A terminal log under the deterministic key means this day was
			// already resolved; leave the accrual for reconciliation.
			s.logger.Warn("skipping accrual with terminal interest log",
				slog.String("wallet_id", accrual.WalletID),
				slog.String("accrual_date", accrual.AccrualDate.Format("2006-01-02")),
				slog.String("status", string(pending.Status)))
			continue
		}
		apps = append(apps, ledger.InterestApplication{Accrual: accrual, Transaction: pending})
	}
	if len(apps) == 0 {
		return ApplyOutcome{TotalInterest: decimal.Zero}, nil
	}

	results, err := s.store.CommitInterestBatch(ctx, apps)
	if err != nil {
		for _, app := range apps {
			if markErr := s.store.MarkTransactionFailed(ctx, app.Transaction.ID, err.Error()); markErr != nil && !errors.Is(markErr, ledger.ErrNotPending) {
				s.logger.Error("failed to record FAILED interest log",
					slog.String("transaction_id", app.Transaction.ID), slog.Any("error", markErr))
			}
		}
		return ApplyOutcome{}, fmt.Errorf("apply accrued interest: %w", err)
	}

	outcome := ApplyOutcome{TotalInterest: decimal.Zero}
	for _, res := range results {
		outcome.Applied++
		outcome.TotalInterest = outcome.TotalInterest.Add(res.Transaction.Amount)
		outcome.Transactions = append(outcome.Transactions, res.Transaction.ID)
	}
	for _, app := range apps {
		s.notifyApplied(ctx, app.Accrual)
	}
	outcome.TotalInterest = money.RoundAmount(outcome.TotalInterest)
	return outcome, nil
}

// GetInterestHistory pages through a wallet's accrual records, newest first.
func (s *Service) GetInterestHistory(ctx context.Context, walletID string, limit, offset int) ([]ledger.InterestAccrual, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListAccruals(ctx, walletID, limit, offset)
}

// GetTotalAccruedInterest sums every interest amount ever accrued for the
// wallet, applied or not.
func (s *Service) GetTotalAccruedInterest(ctx context.Context, walletID string) (decimal.Decimal, error) {
	return s.store.SumAccruedInterest(ctx, walletID)
}

func (s *Service) notifyApplied(ctx context.Context, accrual ledger.InterestAccrual) {
	if s.notifier == nil {
		return
	}
	_ = s.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindInterestApplied,
		Destination: accrual.WalletID,
		Body: fmt.Sprintf("interest %s credited for %s",
			money.FormatAmount(accrual.InterestAmount), accrual.AccrualDate.Format("2006-01-02")),
	})
}

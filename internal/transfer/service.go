// Package transfer implements the idempotent, concurrency-safe money movement
// engine. Every operation follows the same two-phase shape: a durable PENDING
// transaction log committed first (Phase 1), then a single serializable
// balance mutation (Phase 2). Business-rule failures are typed results, never
// errors; the error return is reserved for infrastructure faults.
package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumenpay/lumenpay/internal/coordinator"
	"github.com/lumenpay/lumenpay/internal/ledger"
	"github.com/lumenpay/lumenpay/internal/money"
	"github.com/lumenpay/lumenpay/internal/notification"
)

// Code classifies a non-success outcome.
type Code string

const (
	CodeValidation        Code = "VALIDATION"
	CodeWalletNotFound    Code = "WALLET_NOT_FOUND"
	CodeWalletInactive    Code = "WALLET_INACTIVE"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeConcurrentRequest Code = "CONCURRENT_REQUEST"
	CodeInternal          Code = "INTERNAL"
)

// Input carries a transfer request. Amount is a decimal string; it never
// crosses the boundary as binary floating point.
type Input struct {
	IdempotencyKey string
	FromWalletID   string
	ToWalletID     string
	Amount         string
	Description    string
	Metadata       map[string]string
}

// FundingInput carries a single-wallet deposit or withdrawal request.
type FundingInput struct {
	IdempotencyKey string
	WalletID       string
	Amount         string
	Description    string
	Metadata       map[string]string
}

// Result is the structured outcome returned for every operation, including
// replays served from the idempotency cache or the durable store.
type Result struct {
	Success       bool                     `json:"success"`
	TransactionID string                   `json:"transaction_id,omitempty"`
	Status        ledger.TransactionStatus `json:"status,omitempty"`
	FromBalance   string                   `json:"from_balance,omitempty"`
	ToBalance     string                   `json:"to_balance,omitempty"`
	ErrorCode     Code                     `json:"error_code,omitempty"`
	ErrorDetail   string                   `json:"error_detail,omitempty"`
	Replayed      bool                     `json:"replayed"`
	CompletedAt   *time.Time               `json:"completed_at,omitempty"`
}

// Service is the transfer engine.
type Service struct {
	store    ledger.Store
	coord    *coordinator.Coordinator
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewService constructs the engine. All collaborators are injected; the
// service itself holds no state.
func NewService(store ledger.Store, coord *coordinator.Coordinator, notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{store: store, coord: coord, notifier: notifier, logger: logger}
}

// Transfer moves amount from one wallet to another exactly once per
// idempotency key, writing one DEBIT and one CREDIT ledger entry.
func (s *Service) Transfer(ctx context.Context, input Input) (Result, error) {
	amount, res := s.validateCommon(input.IdempotencyKey, input.Amount)
	if res != nil {
		return *res, nil
	}
	if input.FromWalletID == "" || input.ToWalletID == "" {
		return validationResult("both wallet references are required"), nil
	}
	if input.FromWalletID == input.ToWalletID {
		return validationResult("source and destination wallets must be distinct"), nil
	}

	from := input.FromWalletID
	to := input.ToWalletID
	tx := ledger.TransactionLog{
		ID:             uuid.NewString(),
		IdempotencyKey: input.IdempotencyKey,
		FromWalletID:   &from,
		ToWalletID:     &to,
		Amount:         amount,
		Currency:       s.currencyOf(ctx, from),
		Type:           ledger.TypeTransfer,
		Description:    input.Description,
		Metadata:       input.Metadata,
		CreatedAt:      time.Now().UTC(),
	}
	return s.execute(ctx, tx, from, to)
}

// Deposit credits a wallet from outside the system (single CREDIT leg).
func (s *Service) Deposit(ctx context.Context, input FundingInput) (Result, error) {
	amount, res := s.validateCommon(input.IdempotencyKey, input.Amount)
	if res != nil {
		return *res, nil
	}
	if input.WalletID == "" {
		return validationResult("wallet reference is required"), nil
	}

	to := input.WalletID
	tx := ledger.TransactionLog{
		ID:             uuid.NewString(),
		IdempotencyKey: input.IdempotencyKey,
		ToWalletID:     &to,
		Amount:         amount,
		Currency:       s.currencyOf(ctx, to),
		Type:           ledger.TypeDeposit,
		Description:    input.Description,
		Metadata:       input.Metadata,
		CreatedAt:      time.Now().UTC(),
	}
	return s.execute(ctx, tx, to, to)
}

// Withdraw debits a wallet toward outside the system (single DEBIT leg).
func (s *Service) Withdraw(ctx context.Context, input FundingInput) (Result, error) {
	amount, res := s.validateCommon(input.IdempotencyKey, input.Amount)
	if res != nil {
		return *res, nil
	}
	if input.WalletID == "" {
		return validationResult("wallet reference is required"), nil
	}

	from := input.WalletID
	tx := ledger.TransactionLog{
		ID:             uuid.NewString(),
		IdempotencyKey: input.IdempotencyKey,
		FromWalletID:   &from,
		Amount:         amount,
		Currency:       s.currencyOf(ctx, from),
		Type:           ledger.TypeWithdrawal,
		Description:    input.Description,
		Metadata:       input.Metadata,
		CreatedAt:      time.Now().UTC(),
	}
	return s.execute(ctx, tx, from, from)
}

// execute runs the full protocol: replay lookup (cache, then authoritative
// store), pair lock, Phase 1 durable intent, Phase 2 atomic commit, result
// write-through, lock release.
func (s *Service) execute(ctx context.Context, tx ledger.TransactionLog, lockA, lockB string) (Result, error) {
	if payload, ok := s.coord.GetResult(ctx, tx.IdempotencyKey); ok {
		var cached Result
		if err := json.Unmarshal(payload, &cached); err == nil {
			cached.Replayed = true
			return cached, nil
		}
		s.logger.Warn("discarding undecodable cached result", slog.String("key", tx.IdempotencyKey))
	}

	if existing, err := s.store.GetTransactionByIdempotencyKey(ctx, tx.IdempotencyKey); err == nil {
		return s.replayFromRecord(ctx, existing), nil
	} else if !errors.Is(err, ledger.ErrTransactionNotFound) {
		return Result{}, fmt.Errorf("idempotency lookup: %w", err)
	}

	lock, err := s.coord.AcquireLock(ctx, lockA, lockB)
	if errors.Is(err, coordinator.ErrLockHeld) {
		return Result{
			ErrorCode:   CodeConcurrentRequest,
			ErrorDetail: "another operation on this wallet pair is in flight",
		}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("acquire lock: %w", err)
	}
	defer lock.Release(ctx)

	// Phase 1: the PENDING intent survives independently of Phase 2, so a
	// crash below leaves an externally visible record for reconciliation.
	pending, existed, err := s.store.CreatePendingTransaction(ctx, tx)
	if err != nil {
		return Result{}, fmt.Errorf("record intent: %w", err)
	}
	if existed {
		return s.replayFromRecord(ctx, pending), nil
	}

	// Phase 2: all-or-nothing mutation.
	commit, err := s.store.CommitTransaction(ctx, pending.ID)
	if err != nil {
		return s.resolveFailure(ctx, pending, err)
	}

	result := Result{
		Success:       true,
		TransactionID: commit.Transaction.ID,
		Status:        commit.Transaction.Status,
		CompletedAt:   commit.Transaction.CompletedAt,
	}
	if commit.Transaction.FromWalletID != nil {
		result.FromBalance = money.FormatAmount(commit.FromBalance)
	}
	if commit.Transaction.ToWalletID != nil {
		result.ToBalance = money.FormatAmount(commit.ToBalance)
	}

	s.writeThrough(ctx, tx.IdempotencyKey, result)
	s.notify(ctx, commit.Transaction)
	return result, nil
}

// resolveFailure turns a Phase 2 error into a terminal FAILED record plus a
// typed result. The FAILED write happens outside Phase 2 and is attempted even
// for infrastructure faults.
func (s *Service) resolveFailure(ctx context.Context, pending ledger.TransactionLog, commitErr error) (Result, error) {
	if markErr := s.store.MarkTransactionFailed(ctx, pending.ID, commitErr.Error()); markErr != nil {
		s.logger.Error("failed to record terminal FAILED status",
			slog.String("transaction_id", pending.ID), slog.Any("error", markErr))
	}

	code := classify(commitErr)
	if code == CodeInternal {
		return Result{
			TransactionID: pending.ID,
			Status:        ledger.StatusFailed,
			ErrorCode:     CodeInternal,
			ErrorDetail:   commitErr.Error(),
		}, commitErr
	}

	result := Result{
		TransactionID: pending.ID,
		Status:        ledger.StatusFailed,
		ErrorCode:     code,
		ErrorDetail:   commitErr.Error(),
	}
	s.writeThrough(ctx, pending.IdempotencyKey, result)
	return result, nil
}

func classify(err error) Code {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return CodeInsufficientFunds
	case errors.Is(err, ledger.ErrWalletInactive):
		return CodeWalletInactive
	case errors.Is(err, ledger.ErrWalletNotFound):
		return CodeWalletNotFound
	default:
		return CodeInternal
	}
}

// replayFromRecord derives the idempotent-replay result from the stored log.
// Balances come from the committed ledger entries. A still-PENDING record
// means another caller (or a crashed one) is mid-flight; that surfaces as a
// conflict, not a result.
func (s *Service) replayFromRecord(ctx context.Context, tx ledger.TransactionLog) Result {
	if tx.Status == ledger.StatusPending {
		return Result{
			TransactionID: tx.ID,
			Status:        ledger.StatusPending,
			ErrorCode:     CodeConcurrentRequest,
			ErrorDetail:   "operation with this idempotency key is in flight",
			Replayed:      true,
		}
	}

	result := Result{
		Success:       tx.Status == ledger.StatusCompleted,
		TransactionID: tx.ID,
		Status:        tx.Status,
		Replayed:      true,
		CompletedAt:   tx.CompletedAt,
	}
	if tx.Status == ledger.StatusFailed {
		result.ErrorCode = classifyDetail(tx.ErrorDetail)
		result.ErrorDetail = tx.ErrorDetail
		return result
	}

	entries, err := s.store.ListEntriesForTransaction(ctx, tx.ID)
	if err != nil {
		s.logger.Warn("replay without balances", slog.String("transaction_id", tx.ID), slog.Any("error", err))
		return result
	}
	for _, e := range entries {
		switch e.Type {
		case ledger.EntryDebit:
			result.FromBalance = money.FormatAmount(e.BalanceAfter)
		case ledger.EntryCredit:
			result.ToBalance = money.FormatAmount(e.BalanceAfter)
		}
	}
	return result
}

// classifyDetail maps a stored error detail back onto an outcome code for
// replays of FAILED records.
func classifyDetail(detail string) Code {
	switch detail {
	case ledger.ErrInsufficientFunds.Error():
		return CodeInsufficientFunds
	case ledger.ErrWalletInactive.Error():
		return CodeWalletInactive
	case ledger.ErrWalletNotFound.Error():
		return CodeWalletNotFound
	default:
		return CodeInternal
	}
}

func (s *Service) validateCommon(key, amount string) (decimal.Decimal, *Result) {
	if key == "" {
		r := validationResult("idempotency key is required")
		return decimal.Decimal{}, &r
	}
	d, err := money.Parse(amount)
	if err != nil {
		r := validationResult(fmt.Sprintf("invalid amount: %v", err))
		return decimal.Decimal{}, &r
	}
	if !d.IsPositive() {
		r := validationResult("amount must be strictly positive")
		return decimal.Decimal{}, &r
	}
	return money.RoundAmount(d), nil
}

func validationResult(detail string) Result {
	return Result{ErrorCode: CodeValidation, ErrorDetail: detail}
}

func (s *Service) currencyOf(ctx context.Context, walletID string) string {
	w, err := s.store.GetWallet(ctx, walletID)
	if err != nil {
		return ""
	}
	return w.Currency
}

func (s *Service) writeThrough(ctx context.Context, key string, result Result) {
	payload, err := json.Marshal(result)
	if err != nil {
		s.logger.Warn("encode result for cache", slog.Any("error", err))
		return
	}
	s.coord.StoreResult(ctx, key, payload)
}

func (s *Service) notify(ctx context.Context, tx ledger.TransactionLog) {
	if s.notifier == nil || tx.ToWalletID == nil {
		return
	}
	_ = s.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindTransfer,
		Destination: *tx.ToWalletID,
		Body:        fmt.Sprintf("wallet credited %s (%s)", money.FormatAmount(tx.Amount), tx.Type),
	})
}

// GetTransactionByID returns a transaction log record.
func (s *Service) GetTransactionByID(ctx context.Context, id string) (ledger.TransactionLog, error) {
	return s.store.GetTransactionByID(ctx, id)
}

// GetTransactionByIdempotencyKey returns the log record anchored to a client key.
func (s *Service) GetTransactionByIdempotencyKey(ctx context.Context, key string) (ledger.TransactionLog, error) {
	return s.store.GetTransactionByIdempotencyKey(ctx, key)
}

// GetTransactionHistory pages through the transactions touching a wallet,
// newest first.
func (s *Service) GetTransactionHistory(ctx context.Context, walletID string, limit, offset int) ([]ledger.TransactionLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListTransactionsForWallet(ctx, walletID, limit, offset)
}

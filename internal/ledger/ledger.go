// Package ledger owns the durable data model: wallets, transaction logs,
// double-entry ledger rows and interest accruals. The Store interface is the
// contract implemented by persistence backends (Postgres in production, an
// in-memory store for tests).
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrWalletNotFound occurs when a referenced wallet does not exist.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrWalletInactive occurs when the source wallet of a posting is not active.
	ErrWalletInactive = errors.New("wallet inactive")

	// ErrInsufficientFunds occurs when the source wallet lacks available balance
	// to cover a requested posting.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransaction indicates the provided idempotency key already
	// exists and therefore the operation should be treated as idempotent.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrTransactionNotFound occurs when a transaction log lookup misses.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrAccrualNotFound occurs when an interest accrual lookup misses.
	ErrAccrualNotFound = errors.New("interest accrual not found")

	// ErrNotPending is returned when a status transition is attempted on a
	// record that already reached a terminal status.
	ErrNotPending = errors.New("transaction is not pending")
)

// CommitResult reports the balances observed after a committed Phase 2
// mutation. Single-leg postings populate only the side they touched.
type CommitResult struct {
	Transaction TransactionLog
	FromBalance decimal.Decimal
	ToBalance   decimal.Decimal
}

// InterestApplication pairs an unapplied accrual with the pending transaction
// log that will materialize it.
type InterestApplication struct {
	Accrual     InterestAccrual
	Transaction TransactionLog
}

// AccrualFilter narrows the accrual selection for an apply run. Nil fields
// match everything.
type AccrualFilter struct {
	WalletID    *string
	AccrualDate *time.Time
}

// Store is the contract implemented by ledger backends.
//
// CreatePendingTransaction is Phase 1 of the two-phase write: it commits the
// PENDING intent record on its own, independent of the later balance mutation,
// so a crash between the phases leaves an externally visible PENDING row for
// reconciliation. CommitTransaction is Phase 2: a single serializable,
// all-or-nothing operation that locks the affected wallets in sorted-id order,
// validates them, mutates balances, writes the ledger entries with before and
// after snapshots, and flips the log to COMPLETED. Business-rule violations
// surface as the sentinel errors above after a full rollback.
type Store interface {
	CreateWallet(ctx context.Context, w Wallet) error
	GetWallet(ctx context.Context, id string) (Wallet, error)
	ListActiveWallets(ctx context.Context) ([]Wallet, error)
	SetWalletActive(ctx context.Context, id string, active bool) error

	CreatePendingTransaction(ctx context.Context, tx TransactionLog) (TransactionLog, bool, error)
	GetTransactionByID(ctx context.Context, id string) (TransactionLog, error)
	GetTransactionByIdempotencyKey(ctx context.Context, key string) (TransactionLog, error)
	ListTransactionsForWallet(ctx context.Context, walletID string, limit, offset int) ([]TransactionLog, error)
	ListEntriesForTransaction(ctx context.Context, transactionID string) ([]LedgerEntry, error)
	CommitTransaction(ctx context.Context, transactionID string) (CommitResult, error)
	MarkTransactionFailed(ctx context.Context, transactionID, detail string) error

	CreateAccrual(ctx context.Context, a InterestAccrual) (InterestAccrual, bool, error)
	GetAccrual(ctx context.Context, walletID string, date time.Time) (InterestAccrual, error)
	ListAccruals(ctx context.Context, walletID string, limit, offset int) ([]InterestAccrual, error)
	ListUnappliedAccruals(ctx context.Context, filter AccrualFilter) ([]InterestAccrual, error)
	SumAccruedInterest(ctx context.Context, walletID string) (decimal.Decimal, error)
	CommitInterestBatch(ctx context.Context, apps []InterestApplication) ([]CommitResult, error)
}

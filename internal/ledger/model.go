package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a transaction log record.
type TransactionType string

const (
	TypeTransfer   TransactionType = "TRANSFER"
	TypeDeposit    TransactionType = "DEPOSIT"
	TypeWithdrawal TransactionType = "WITHDRAWAL"
	TypeInterest   TransactionType = "INTEREST"
)

// TransactionStatus is the lifecycle state of a transaction log record. A
// record transitions from PENDING to exactly one terminal status. REVERSED
// exists for audit compatibility and is never produced by this engine.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
	StatusReversed  TransactionStatus = "REVERSED"
)

// Terminal reports whether the status is a terminal state.
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusReversed
}

// EntryType distinguishes the two legs of a double-entry posting.
type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// Wallet is a stored-value account. Balance carries 4 fractional digits and is
// mutated only inside a committed Phase 2 operation while the row is locked;
// it is never negative after a commit. Inactive wallets join no new transfers.
type Wallet struct {
	ID        string
	OwnerID   string
	Currency  string
	Balance   decimal.Decimal
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TransactionLog is the append-only audit record for one logical operation.
// The client-supplied idempotency key is globally unique and is the sole
// correctness anchor for retries. At least one of FromWalletID/ToWalletID is
// present: both for a TRANSFER, only the destination for DEPOSIT and INTEREST,
// only the source for WITHDRAWAL.
type TransactionLog struct {
	ID             string
	IdempotencyKey string
	FromWalletID   *string
	ToWalletID     *string
	Amount         decimal.Decimal
	Currency       string
	Type           TransactionType
	Status         TransactionStatus
	Description    string
	Metadata       map[string]string
	ErrorDetail    string
	CompletedAt    *time.Time
	CreatedAt      time.Time
}

// LedgerEntry is one leg of a posting, immutable once written. For every
// committed entry, BalanceAfter minus BalanceBefore equals the signed amount.
// A TRANSFER always writes one DEBIT and one CREDIT of equal amount; an
// INTEREST credit has no matching debit because value enters at the system
// boundary.
type LedgerEntry struct {
	ID            string
	TransactionID string
	WalletID      string
	Type          EntryType
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	CreatedAt     time.Time
}

// InterestAccrual records one day of interest owed to a wallet before it is
// credited. Unique per (wallet, accrual date); the apply step flips Applied
// once and links the materializing transaction.
type InterestAccrual struct {
	ID             string
	WalletID       string
	Principal      decimal.Decimal
	InterestAmount decimal.Decimal
	AnnualRate     decimal.Decimal
	DailyRate      decimal.Decimal
	AccrualDate    time.Time
	DaysInYear     int
	IsLeapYear     bool
	Applied        bool
	AppliedAt      *time.Time
	TransactionID  *string
	CreatedAt      time.Time
}

package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lumenpay/lumenpay/internal/money"
)

// PostgresStore persists the ledger in PostgreSQL. Phase 2 operations run
// under serializable isolation with wallet rows locked FOR UPDATE in sorted-id
// order, so two transfers contending on an overlapping wallet pair can never
// deadlock on lock ordering.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const transactionColumns = `id, idempotency_key, from_wallet_id, to_wallet_id, amount::text, currency,
        tx_type, status, description, metadata, error_detail, completed_at, created_at`

// CreateWallet inserts a wallet row.
func (s *PostgresStore) CreateWallet(ctx context.Context, w Wallet) error {
	_, err := s.db.Exec(ctx, `INSERT INTO wallets (id, owner_id, currency, balance, active, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		w.ID, w.OwnerID, w.Currency, w.Balance, w.Active, w.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("create wallet: %w", err)
	}
	return nil
}

// GetWallet fetches a wallet by identifier.
func (s *PostgresStore) GetWallet(ctx context.Context, id string) (Wallet, error) {
	row := s.db.QueryRow(ctx, `SELECT id, owner_id, currency, balance::text, active, created_at, updated_at
        FROM wallets WHERE id = $1`, id)
	return scanWallet(row)
}

// ListActiveWallets returns every active wallet, ordered by creation time.
func (s *PostgresStore) ListActiveWallets(ctx context.Context) ([]Wallet, error) {
	rows, err := s.db.Query(ctx, `SELECT id, owner_id, currency, balance::text, active, created_at, updated_at
        FROM wallets WHERE active ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active wallets: %w", err)
	}
	defer rows.Close()

	var wallets []Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// SetWalletActive flips the active flag.
func (s *PostgresStore) SetWalletActive(ctx context.Context, id string, active bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE wallets SET active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set wallet active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// CreatePendingTransaction commits the PENDING intent record independently of
// any later balance mutation (Phase 1). When the idempotency key already
// exists the stored record is returned with existed=true and nothing is
// written.
func (s *PostgresStore) CreatePendingTransaction(ctx context.Context, tx TransactionLog) (TransactionLog, bool, error) {
	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		return TransactionLog{}, false, fmt.Errorf("marshal metadata: %w", err)
	}

	var id string
	err = s.db.QueryRow(ctx, `INSERT INTO transaction_logs
        (id, idempotency_key, from_wallet_id, to_wallet_id, amount, currency, tx_type, status, description, metadata, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (idempotency_key) DO NOTHING
        RETURNING id`,
		tx.ID, tx.IdempotencyKey, tx.FromWalletID, tx.ToWalletID, tx.Amount, tx.Currency,
		tx.Type, StatusPending, tx.Description, metadata, tx.CreatedAt.UTC()).Scan(&id)
	if err == nil {
		created := tx
		created.Status = StatusPending
		return created, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return TransactionLog{}, false, fmt.Errorf("create pending transaction: %w", err)
	}

	existing, err := s.GetTransactionByIdempotencyKey(ctx, tx.IdempotencyKey)
	if err != nil {
		return TransactionLog{}, false, err
	}
	return existing, true, nil
}

// GetTransactionByID fetches a transaction log by identifier.
func (s *PostgresStore) GetTransactionByID(ctx context.Context, id string) (TransactionLog, error) {
	row := s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transaction_logs WHERE id = $1`, id)
	return scanTransaction(row)
}

// GetTransactionByIdempotencyKey fetches a transaction log by its client key.
func (s *PostgresStore) GetTransactionByIdempotencyKey(ctx context.Context, key string) (TransactionLog, error) {
	row := s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transaction_logs WHERE idempotency_key = $1`, key)
	return scanTransaction(row)
}

// ListTransactionsForWallet returns the transaction history touching a wallet,
// newest first.
func (s *PostgresStore) ListTransactionsForWallet(ctx context.Context, walletID string, limit, offset int) ([]TransactionLog, error) {
	rows, err := s.db.Query(ctx, `SELECT `+transactionColumns+` FROM transaction_logs
        WHERE from_wallet_id = $1 OR to_wallet_id = $1
        ORDER BY created_at DESC LIMIT $2 OFFSET $3`, walletID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var logs []TransactionLog
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, t)
	}
	return logs, rows.Err()
}

// ListEntriesForTransaction returns the ledger entries of one transaction.
func (s *PostgresStore) ListEntriesForTransaction(ctx context.Context, transactionID string) ([]LedgerEntry, error) {
	rows, err := s.db.Query(ctx, `SELECT id, transaction_id, wallet_id, entry_type,
        amount::text, balance_before::text, balance_after::text, created_at
        FROM ledger_entries WHERE transaction_id = $1 ORDER BY created_at, entry_type`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var (
			e                     LedgerEntry
			amount, before, after string
		)
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.WalletID, &e.Type, &amount, &before, &after, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if e.Amount, err = money.Parse(amount); err != nil {
			return nil, err
		}
		if e.BalanceBefore, err = money.Parse(before); err != nil {
			return nil, err
		}
		if e.BalanceAfter, err = money.Parse(after); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CommitTransaction executes Phase 2 for a PENDING log: lock, validate,
// mutate balances, write double-entry rows and flip the log to COMPLETED, all
// inside one serializable transaction. Business-rule violations roll the whole
// mutation back and surface as sentinel errors; the PENDING row written in
// Phase 1 stays durable for the caller to mark FAILED.
func (s *PostgresStore) CommitTransaction(ctx context.Context, transactionID string) (CommitResult, error) {
	dbtx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return CommitResult{}, fmt.Errorf("begin phase 2: %w", err)
	}
	defer dbtx.Rollback(ctx) // nolint:errcheck

	row := dbtx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transaction_logs WHERE id = $1 FOR UPDATE`, transactionID)
	logRec, err := scanTransaction(row)
	if err != nil {
		return CommitResult{}, err
	}
	if logRec.Status != StatusPending {
		return CommitResult{}, ErrNotPending
	}

	wallets, err := lockWallets(ctx, dbtx, walletIDs(logRec))
	if err != nil {
		return CommitResult{}, err
	}

	result := CommitResult{}
	now := time.Now().UTC()

	if logRec.FromWalletID != nil {
		from, ok := wallets[*logRec.FromWalletID]
		if !ok {
			return CommitResult{}, ErrWalletNotFound
		}
		if !from.Active {
			return CommitResult{}, ErrWalletInactive
		}
		if from.Balance.LessThan(logRec.Amount) {
			return CommitResult{}, ErrInsufficientFunds
		}
		newBalance := money.RoundAmount(from.Balance.Sub(logRec.Amount))
		if err := writeEntry(ctx, dbtx, logRec.ID, from.ID, EntryDebit, logRec.Amount, from.Balance, newBalance, now); err != nil {
			return CommitResult{}, err
		}
		if err := updateBalance(ctx, dbtx, from.ID, newBalance, now); err != nil {
			return CommitResult{}, err
		}
		result.FromBalance = newBalance
	}

	if logRec.ToWalletID != nil {
		to, ok := wallets[*logRec.ToWalletID]
		if !ok {
			return CommitResult{}, ErrWalletNotFound
		}
		if !to.Active {
			return CommitResult{}, ErrWalletInactive
		}
		newBalance := money.RoundAmount(to.Balance.Add(logRec.Amount))
		if err := writeEntry(ctx, dbtx, logRec.ID, to.ID, EntryCredit, logRec.Amount, to.Balance, newBalance, now); err != nil {
			return CommitResult{}, err
		}
		if err := updateBalance(ctx, dbtx, to.ID, newBalance, now); err != nil {
			return CommitResult{}, err
		}
		result.ToBalance = newBalance
	}

	if _, err := dbtx.Exec(ctx, `UPDATE transaction_logs SET status = $2, completed_at = $3 WHERE id = $1`,
		logRec.ID, StatusCompleted, now); err != nil {
		return CommitResult{}, fmt.Errorf("complete transaction: %w", err)
	}

	if err := dbtx.Commit(ctx); err != nil {
		return CommitResult{}, fmt.Errorf("commit phase 2: %w", err)
	}

	logRec.Status = StatusCompleted
	logRec.CompletedAt = &now
	result.Transaction = logRec
	return result, nil
}

// MarkTransactionFailed records the terminal FAILED status with an error
// detail. It runs outside Phase 2 so the durable PENDING row from Phase 1 is
// always resolvable even after a rollback. Records already terminal are left
// untouched.
func (s *PostgresStore) MarkTransactionFailed(ctx context.Context, transactionID, detail string) error {
	tag, err := s.db.Exec(ctx, `UPDATE transaction_logs
        SET status = $2, error_detail = $3, completed_at = now()
        WHERE id = $1 AND status = $4`,
		transactionID, StatusFailed, detail, StatusPending)
	if err != nil {
		return fmt.Errorf("mark transaction failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotPending
	}
	return nil
}

// CreateAccrual records one day's accrued interest. The unique
// (wallet_id, accrual_date) constraint makes a repeat call for the same day a
// no-op that returns the stored record with existed=true.
func (s *PostgresStore) CreateAccrual(ctx context.Context, a InterestAccrual) (InterestAccrual, bool, error) {
	date := money.DateOnly(a.AccrualDate)
	var id string
	err := s.db.QueryRow(ctx, `INSERT INTO interest_accruals
        (id, wallet_id, principal, interest_amount, annual_rate, daily_rate, accrual_date, days_in_year, is_leap_year, applied, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, $10)
        ON CONFLICT (wallet_id, accrual_date) DO NOTHING
        RETURNING id`,
		a.ID, a.WalletID, a.Principal, a.InterestAmount, a.AnnualRate, a.DailyRate,
		date, a.DaysInYear, a.IsLeapYear, a.CreatedAt.UTC()).Scan(&id)
	if err == nil {
		created := a
		created.AccrualDate = date
		created.Applied = false
		return created, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return InterestAccrual{}, false, fmt.Errorf("create accrual: %w", err)
	}

	existing, err := s.GetAccrual(ctx, a.WalletID, date)
	if err != nil {
		return InterestAccrual{}, false, err
	}
	return existing, true, nil
}

const accrualColumns = `id, wallet_id, principal::text, interest_amount::text, annual_rate::text, daily_rate::text,
        accrual_date, days_in_year, is_leap_year, applied, applied_at, transaction_id, created_at`

// GetAccrual fetches the accrual for a wallet and calendar date.
func (s *PostgresStore) GetAccrual(ctx context.Context, walletID string, date time.Time) (InterestAccrual, error) {
	row := s.db.QueryRow(ctx, `SELECT `+accrualColumns+` FROM interest_accruals
        WHERE wallet_id = $1 AND accrual_date = $2`, walletID, money.DateOnly(date))
	return scanAccrual(row)
}

// ListAccruals returns a wallet's accrual history, newest date first.
func (s *PostgresStore) ListAccruals(ctx context.Context, walletID string, limit, offset int) ([]InterestAccrual, error) {
	rows, err := s.db.Query(ctx, `SELECT `+accrualColumns+` FROM interest_accruals
        WHERE wallet_id = $1 ORDER BY accrual_date DESC LIMIT $2 OFFSET $3`, walletID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list accruals: %w", err)
	}
	defer rows.Close()
	return collectAccruals(rows)
}

// ListUnappliedAccruals selects accruals awaiting application, optionally
// narrowed by wallet and/or date, oldest date first.
func (s *PostgresStore) ListUnappliedAccruals(ctx context.Context, filter AccrualFilter) ([]InterestAccrual, error) {
	query := `SELECT ` + accrualColumns + ` FROM interest_accruals WHERE NOT applied`
	args := []any{}
	if filter.WalletID != nil {
		args = append(args, *filter.WalletID)
		query += fmt.Sprintf(" AND wallet_id = $%d", len(args))
	}
	if filter.AccrualDate != nil {
		args = append(args, money.DateOnly(*filter.AccrualDate))
		query += fmt.Sprintf(" AND accrual_date = $%d", len(args))
	}
	query += " ORDER BY accrual_date, wallet_id"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list unapplied accruals: %w", err)
	}
	defer rows.Close()
	return collectAccruals(rows)
}

// SumAccruedInterest totals every accrued interest amount for a wallet.
func (s *PostgresStore) SumAccruedInterest(ctx context.Context, walletID string) (decimal.Decimal, error) {
	var total string
	err := s.db.QueryRow(ctx, `SELECT COALESCE(SUM(interest_amount), 0)::text
        FROM interest_accruals WHERE wallet_id = $1`, walletID).Scan(&total)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("sum accrued interest: %w", err)
	}
	return money.Parse(total)
}

// CommitInterestBatch applies a set of accruals inside a single serializable
// transaction: each wallet is credited, a CREDIT entry written, the pending
// INTEREST log completed and the accrual flipped to applied. If any
// application fails, none are applied.
func (s *PostgresStore) CommitInterestBatch(ctx context.Context, apps []InterestApplication) ([]CommitResult, error) {
	if len(apps) == 0 {
		return nil, nil
	}

	ordered := make([]InterestApplication, len(apps))
	copy(ordered, apps)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Accrual.WalletID != ordered[j].Accrual.WalletID {
			return ordered[i].Accrual.WalletID < ordered[j].Accrual.WalletID
		}
		return ordered[i].Accrual.AccrualDate.Before(ordered[j].Accrual.AccrualDate)
	})

	dbtx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("begin interest batch: %w", err)
	}
	defer dbtx.Rollback(ctx) // nolint:errcheck

	now := time.Now().UTC()
	results := make([]CommitResult, 0, len(ordered))

	for _, app := range ordered {
		var (
			balance string
			active  bool
		)
		err := dbtx.QueryRow(ctx, `SELECT balance::text, active FROM wallets WHERE id = $1 FOR UPDATE`,
			app.Accrual.WalletID).Scan(&balance, &active)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("lock wallet: %w", err)
		}
		if !active {
			return nil, ErrWalletInactive
		}

		before, err := money.Parse(balance)
		if err != nil {
			return nil, err
		}
		after := money.RoundAmount(before.Add(app.Accrual.InterestAmount))

		if err := writeEntry(ctx, dbtx, app.Transaction.ID, app.Accrual.WalletID, EntryCredit,
			app.Accrual.InterestAmount, before, after, now); err != nil {
			return nil, err
		}
		if err := updateBalance(ctx, dbtx, app.Accrual.WalletID, after, now); err != nil {
			return nil, err
		}

		tag, err := dbtx.Exec(ctx, `UPDATE transaction_logs SET status = $2, completed_at = $3
            WHERE id = $1 AND status = $4`, app.Transaction.ID, StatusCompleted, now, StatusPending)
		if err != nil {
			return nil, fmt.Errorf("complete interest transaction: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, ErrNotPending
		}

		tag, err = dbtx.Exec(ctx, `UPDATE interest_accruals SET applied = true, applied_at = $2, transaction_id = $3
            WHERE id = $1 AND NOT applied`, app.Accrual.ID, now, app.Transaction.ID)
		if err != nil {
			return nil, fmt.Errorf("mark accrual applied: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, ErrDuplicateTransaction
		}

		tx := app.Transaction
		tx.Status = StatusCompleted
		tx.CompletedAt = &now
		results = append(results, CommitResult{Transaction: tx, ToBalance: after})
	}

	if err := dbtx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit interest batch: %w", err)
	}
	return results, nil
}

func walletIDs(tx TransactionLog) []string {
	var ids []string
	if tx.FromWalletID != nil {
		ids = append(ids, *tx.FromWalletID)
	}
	if tx.ToWalletID != nil {
		ids = append(ids, *tx.ToWalletID)
	}
	sort.Strings(ids)
	return ids
}

// lockWallets acquires FOR UPDATE locks in the caller-sorted order and returns
// the locked rows keyed by id.
func lockWallets(ctx context.Context, dbtx pgx.Tx, ids []string) (map[string]Wallet, error) {
	wallets := make(map[string]Wallet, len(ids))
	for _, id := range ids {
		row := dbtx.QueryRow(ctx, `SELECT id, owner_id, currency, balance::text, active, created_at, updated_at
            FROM wallets WHERE id = $1 FOR UPDATE`, id)
		w, err := scanWallet(row)
		if err != nil {
			return nil, err
		}
		wallets[w.ID] = w
	}
	return wallets, nil
}

func writeEntry(ctx context.Context, dbtx pgx.Tx, txID, walletID string, kind EntryType, amount, before, after decimal.Decimal, now time.Time) error {
	_, err := dbtx.Exec(ctx, `INSERT INTO ledger_entries
        (id, transaction_id, wallet_id, entry_type, amount, balance_before, balance_after, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.NewString(), txID, walletID, kind, amount, before, after, now)
	if err != nil {
		return fmt.Errorf("write %s entry: %w", kind, err)
	}
	return nil
}

func updateBalance(ctx context.Context, dbtx pgx.Tx, walletID string, balance decimal.Decimal, now time.Time) error {
	if _, err := dbtx.Exec(ctx, `UPDATE wallets SET balance = $2, updated_at = $3 WHERE id = $1`,
		walletID, balance, now); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return nil
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		w       Wallet
		balance string
	)
	err := row.Scan(&w.ID, &w.OwnerID, &w.Currency, &balance, &w.Active, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, ErrWalletNotFound
	}
	if err != nil {
		return Wallet{}, fmt.Errorf("scan wallet: %w", err)
	}
	if w.Balance, err = money.Parse(balance); err != nil {
		return Wallet{}, err
	}
	return w, nil
}

func scanTransaction(row pgx.Row) (TransactionLog, error) {
	var (
		t        TransactionLog
		amount   string
		metadata []byte
	)
	err := row.Scan(&t.ID, &t.IdempotencyKey, &t.FromWalletID, &t.ToWalletID, &amount, &t.Currency,
		&t.Type, &t.Status, &t.Description, &metadata, &t.ErrorDetail, &t.CompletedAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return TransactionLog{}, ErrTransactionNotFound
	}
	if err != nil {
		return TransactionLog{}, fmt.Errorf("scan transaction: %w", err)
	}
	if t.Amount, err = money.Parse(amount); err != nil {
		return TransactionLog{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return TransactionLog{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return t, nil
}

func scanAccrual(row pgx.Row) (InterestAccrual, error) {
	var (
		a                                          InterestAccrual
		principal, interest, annualRate, dailyRate string
	)
	err := row.Scan(&a.ID, &a.WalletID, &principal, &interest, &annualRate, &dailyRate,
		&a.AccrualDate, &a.DaysInYear, &a.IsLeapYear, &a.Applied, &a.AppliedAt, &a.TransactionID, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return InterestAccrual{}, ErrAccrualNotFound
	}
	if err != nil {
		return InterestAccrual{}, fmt.Errorf("scan accrual: %w", err)
	}
	if a.Principal, err = money.Parse(principal); err != nil {
		return InterestAccrual{}, err
	}
	if a.InterestAmount, err = money.Parse(interest); err != nil {
		return InterestAccrual{}, err
	}
	if a.AnnualRate, err = money.Parse(annualRate); err != nil {
		return InterestAccrual{}, err
	}
	if a.DailyRate, err = money.Parse(dailyRate); err != nil {
		return InterestAccrual{}, err
	}
	a.AccrualDate = money.DateOnly(a.AccrualDate)
	return a, nil
}

func collectAccruals(rows pgx.Rows) ([]InterestAccrual, error) {
	var accruals []InterestAccrual
	for rows.Next() {
		a, err := scanAccrual(rows)
		if err != nil {
			return nil, err
		}
		accruals = append(accruals, a)
	}
	return accruals, rows.Err()
}

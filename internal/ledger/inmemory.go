package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lumenpay/lumenpay/internal/money"
)

type inMemoryStore struct {
	mu           sync.RWMutex
	wallets      map[string]Wallet
	transactions map[string]TransactionLog
	byKey        map[string]string
	entries      map[string][]LedgerEntry
	accruals     map[string]InterestAccrual
	accrualByDay map[string]string
}

// NewInMemory creates a concurrency-safe in-memory store useful for unit
// tests. It honors the same two-phase contract as the Postgres store.
func NewInMemory() Store {
	return &inMemoryStore{
		wallets:      make(map[string]Wallet),
		transactions: make(map[string]TransactionLog),
		byKey:        make(map[string]string),
		entries:      make(map[string][]LedgerEntry),
		accruals:     make(map[string]InterestAccrual),
		accrualByDay: make(map[string]string),
	}
}

func accrualDayKey(walletID string, date time.Time) string {
	return walletID + ":" + money.DateOnly(date).Format("2006-01-02")
}

func (s *inMemoryStore) CreateWallet(_ context.Context, w Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[w.ID] = w
	return nil
}

func (s *inMemoryStore) GetWallet(_ context.Context, id string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return w, nil
}

func (s *inMemoryStore) ListActiveWallets(_ context.Context) ([]Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var wallets []Wallet
	for _, w := range s.wallets {
		if w.Active {
			wallets = append(wallets, w)
		}
	}
	sort.Slice(wallets, func(i, j int) bool { return wallets[i].CreatedAt.Before(wallets[j].CreatedAt) })
	return wallets, nil
}

func (s *inMemoryStore) SetWalletActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok {
		return ErrWalletNotFound
	}
	w.Active = active
	w.UpdatedAt = time.Now().UTC()
	s.wallets[id] = w
	return nil
}

func (s *inMemoryStore) CreatePendingTransaction(_ context.Context, tx TransactionLog) (TransactionLog, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existingID, ok := s.byKey[tx.IdempotencyKey]; ok {
		return s.transactions[existingID], true, nil
	}
	tx.Status = StatusPending
	s.transactions[tx.ID] = tx
	s.byKey[tx.IdempotencyKey] = tx.ID
	return tx, false, nil
}

func (s *inMemoryStore) GetTransactionByID(_ context.Context, id string) (TransactionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactions[id]
	if !ok {
		return TransactionLog{}, ErrTransactionNotFound
	}
	return tx, nil
}

func (s *inMemoryStore) GetTransactionByIdempotencyKey(_ context.Context, key string) (TransactionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	if !ok {
		return TransactionLog{}, ErrTransactionNotFound
	}
	return s.transactions[id], nil
}

func (s *inMemoryStore) ListTransactionsForWallet(_ context.Context, walletID string, limit, offset int) ([]TransactionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var logs []TransactionLog
	for _, tx := range s.transactions {
		if (tx.FromWalletID != nil && *tx.FromWalletID == walletID) ||
			(tx.ToWalletID != nil && *tx.ToWalletID == walletID) {
			logs = append(logs, tx)
		}
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].CreatedAt.After(logs[j].CreatedAt) })
	if offset >= len(logs) {
		return nil, nil
	}
	logs = logs[offset:]
	if limit > 0 && limit < len(logs) {
		logs = logs[:limit]
	}
	return logs, nil
}

func (s *inMemoryStore) ListEntriesForTransaction(_ context.Context, transactionID string) ([]LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]LedgerEntry(nil), s.entries[transactionID]...), nil
}

func (s *inMemoryStore) CommitTransaction(_ context.Context, transactionID string) (CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[transactionID]
	if !ok {
		return CommitResult{}, ErrTransactionNotFound
	}
	if tx.Status != StatusPending {
		return CommitResult{}, ErrNotPending
	}

	now := time.Now().UTC()
	result := CommitResult{}

	// Validate both legs before touching anything so the commit stays
	// all-or-nothing.
	var from, to Wallet
	if tx.FromWalletID != nil {
		from, ok = s.wallets[*tx.FromWalletID]
		if !ok {
			return CommitResult{}, ErrWalletNotFound
		}
		if !from.Active {
			return CommitResult{}, ErrWalletInactive
		}
		if from.Balance.LessThan(tx.Amount) {
			return CommitResult{}, ErrInsufficientFunds
		}
	}
	if tx.ToWalletID != nil {
		to, ok = s.wallets[*tx.ToWalletID]
		if !ok {
			return CommitResult{}, ErrWalletNotFound
		}
		if !to.Active {
			return CommitResult{}, ErrWalletInactive
		}
	}

	if tx.FromWalletID != nil {
		after := money.RoundAmount(from.Balance.Sub(tx.Amount))
		s.appendEntry(tx.ID, from.ID, EntryDebit, tx.Amount, from.Balance, after, now)
		from.Balance = after
		from.UpdatedAt = now
		s.wallets[from.ID] = from
		result.FromBalance = after
	}
	if tx.ToWalletID != nil {
		after := money.RoundAmount(to.Balance.Add(tx.Amount))
		s.appendEntry(tx.ID, to.ID, EntryCredit, tx.Amount, to.Balance, after, now)
		to.Balance = after
		to.UpdatedAt = now
		s.wallets[to.ID] = to
		result.ToBalance = after
	}

	tx.Status = StatusCompleted
	tx.CompletedAt = &now
	s.transactions[tx.ID] = tx
	result.Transaction = tx
	return result, nil
}

func (s *inMemoryStore) MarkTransactionFailed(_ context.Context, transactionID, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[transactionID]
	if !ok {
		return ErrTransactionNotFound
	}
	if tx.Status != StatusPending {
		return ErrNotPending
	}
	now := time.Now().UTC()
	tx.Status = StatusFailed
	tx.ErrorDetail = detail
	tx.CompletedAt = &now
	s.transactions[tx.ID] = tx
	return nil
}

func (s *inMemoryStore) CreateAccrual(_ context.Context, a InterestAccrual) (InterestAccrual, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := accrualDayKey(a.WalletID, a.AccrualDate)
	if existingID, ok := s.accrualByDay[key]; ok {
		return s.accruals[existingID], true, nil
	}
	a.AccrualDate = money.DateOnly(a.AccrualDate)
	a.Applied = false
	s.accruals[a.ID] = a
	s.accrualByDay[key] = a.ID
	return a, false, nil
}

func (s *inMemoryStore) GetAccrual(_ context.Context, walletID string, date time.Time) (InterestAccrual, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.accrualByDay[accrualDayKey(walletID, date)]
	if !ok {
		return InterestAccrual{}, ErrAccrualNotFound
	}
	return s.accruals[id], nil
}

func (s *inMemoryStore) ListAccruals(_ context.Context, walletID string, limit, offset int) ([]InterestAccrual, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var accruals []InterestAccrual
	for _, a := range s.accruals {
		if a.WalletID == walletID {
			accruals = append(accruals, a)
		}
	}
	sort.Slice(accruals, func(i, j int) bool { return accruals[i].AccrualDate.After(accruals[j].AccrualDate) })
	if offset >= len(accruals) {
		return nil, nil
	}
	accruals = accruals[offset:]
	if limit > 0 && limit < len(accruals) {
		accruals = accruals[:limit]
	}
	return accruals, nil
}

func (s *inMemoryStore) ListUnappliedAccruals(_ context.Context, filter AccrualFilter) ([]InterestAccrual, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var accruals []InterestAccrual
	for _, a := range s.accruals {
		if a.Applied {
			continue
		}
		if filter.WalletID != nil && a.WalletID != *filter.WalletID {
			continue
		}
		if filter.AccrualDate != nil && !a.AccrualDate.Equal(money.DateOnly(*filter.AccrualDate)) {
			continue
		}
		accruals = append(accruals, a)
	}
	sort.Slice(accruals, func(i, j int) bool {
		if !accruals[i].AccrualDate.Equal(accruals[j].AccrualDate) {
			return accruals[i].AccrualDate.Before(accruals[j].AccrualDate)
		}
		return accruals[i].WalletID < accruals[j].WalletID
	})
	return accruals, nil
}

func (s *inMemoryStore) SumAccruedInterest(_ context.Context, walletID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, a := range s.accruals {
		if a.WalletID == walletID {
			total = total.Add(a.InterestAmount)
		}
	}
	return total, nil
}

func (s *inMemoryStore) CommitInterestBatch(_ context.Context, apps []InterestApplication) ([]CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	// Stage every mutation first; publish only when the whole batch is valid.
	type staged struct {
		wallet  Wallet
		accrual InterestAccrual
		tx      TransactionLog
		entry   LedgerEntry
	}
	stagedApps := make([]staged, 0, len(apps))
	balances := make(map[string]decimal.Decimal)

	for _, app := range apps {
		w, ok := s.wallets[app.Accrual.WalletID]
		if !ok {
			return nil, ErrWalletNotFound
		}
		if !w.Active {
			return nil, ErrWalletInactive
		}
		tx, ok := s.transactions[app.Transaction.ID]
		if !ok {
			return nil, ErrTransactionNotFound
		}
		if tx.Status != StatusPending {
			return nil, ErrNotPending
		}
		acc, ok := s.accruals[app.Accrual.ID]
		if !ok {
			return nil, ErrAccrualNotFound
		}
		if acc.Applied {
			return nil, ErrDuplicateTransaction
		}

		before, ok := balances[w.ID]
		if !ok {
			before = w.Balance
		}
		after := money.RoundAmount(before.Add(acc.InterestAmount))
		balances[w.ID] = after

		w.Balance = after
		w.UpdatedAt = now
		acc.Applied = true
		acc.AppliedAt = &now
		txID := tx.ID
		acc.TransactionID = &txID
		tx.Status = StatusCompleted
		tx.CompletedAt = &now

		stagedApps = append(stagedApps, staged{
			wallet:  w,
			accrual: acc,
			tx:      tx,
			entry: LedgerEntry{
				ID:            tx.ID + ":credit",
				TransactionID: tx.ID,
				WalletID:      w.ID,
				Type:          EntryCredit,
				Amount:        acc.InterestAmount,
				BalanceBefore: before,
				BalanceAfter:  after,
				CreatedAt:     now,
			},
		})
	}

	results := make([]CommitResult, 0, len(stagedApps))
	for _, st := range stagedApps {
		s.wallets[st.wallet.ID] = st.wallet
		s.accruals[st.accrual.ID] = st.accrual
		s.transactions[st.tx.ID] = st.tx
		s.entries[st.tx.ID] = append(s.entries[st.tx.ID], st.entry)
		results = append(results, CommitResult{Transaction: st.tx, ToBalance: st.wallet.Balance})
	}
	return results, nil
}

func (s *inMemoryStore) appendEntry(txID, walletID string, kind EntryType, amount, before, after decimal.Decimal, now time.Time) {
	s.entries[txID] = append(s.entries[txID], LedgerEntry{
		ID:            txID + ":" + string(kind),
		TransactionID: txID,
		WalletID:      walletID,
		Type:          kind,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		CreatedAt:     now,
	})
}

package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumenpay/lumenpay/internal/money"
)

func newWallet(t *testing.T, s Store, balance string) Wallet {
	t.Helper()
	now := time.Now().UTC()
	w := Wallet{
		ID:        uuid.NewString(),
		OwnerID:   uuid.NewString(),
		Currency:  "USD",
		Balance:   money.MustParse(balance),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateWallet(context.Background(), w); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	return w
}

func pendingTransfer(t *testing.T, s Store, from, to string, amount string) TransactionLog {
	t.Helper()
	tx := TransactionLog{
		ID:             uuid.NewString(),
		IdempotencyKey: uuid.NewString(),
		FromWalletID:   &from,
		ToWalletID:     &to,
		Amount:         money.MustParse(amount),
		Currency:       "USD",
		Type:           TypeTransfer,
		CreatedAt:      time.Now().UTC(),
	}
	stored, existed, err := s.CreatePendingTransaction(context.Background(), tx)
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}
	if existed {
		t.Fatalf("unexpected duplicate for fresh key")
	}
	return stored
}

func TestCommitTransferWritesBothLegs(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	from := newWallet(t, s, "100")
	to := newWallet(t, s, "0")
	tx := pendingTransfer(t, s, from.ID, to.ID, "40")

	res, err := s.CommitTransaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if money.FormatAmount(res.FromBalance) != "60.0000" || money.FormatAmount(res.ToBalance) != "40.0000" {
		t.Fatalf("unexpected balances: %s / %s", res.FromBalance, res.ToBalance)
	}
	if res.Transaction.Status != StatusCompleted || res.Transaction.CompletedAt == nil {
		t.Fatalf("transaction not completed: %+v", res.Transaction)
	}

	entries, err := s.ListEntriesForTransaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for _, e := range entries {
		diff := e.BalanceAfter.Sub(e.BalanceBefore)
		switch e.Type {
		case EntryDebit:
			if !diff.Equal(e.Amount.Neg()) {
				t.Fatalf("debit snapshot mismatch: %+v", e)
			}
		case EntryCredit:
			if !diff.Equal(e.Amount) {
				t.Fatalf("credit snapshot mismatch: %+v", e)
			}
		default:
			t.Fatalf("unexpected entry type %s", e.Type)
		}
	}
}

func TestCommitInsufficientFundsLeavesBalancesUntouched(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	from := newWallet(t, s, "50")
	to := newWallet(t, s, "0")
	tx := pendingTransfer(t, s, from.ID, to.ID, "100")

	if _, err := s.CommitTransaction(ctx, tx.ID); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	gotFrom, _ := s.GetWallet(ctx, from.ID)
	gotTo, _ := s.GetWallet(ctx, to.ID)
	if !gotFrom.Balance.Equal(money.MustParse("50")) || !gotTo.Balance.Equal(decimal.Zero) {
		t.Fatalf("balances mutated on failed commit: %s / %s", gotFrom.Balance, gotTo.Balance)
	}

	entries, _ := s.ListEntriesForTransaction(ctx, tx.ID)
	if len(entries) != 0 {
		t.Fatalf("entries written for failed commit")
	}

	// The intent record is still PENDING; marking it failed is terminal.
	if err := s.MarkTransactionFailed(ctx, tx.ID, ErrInsufficientFunds.Error()); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	stored, _ := s.GetTransactionByID(ctx, tx.ID)
	if stored.Status != StatusFailed || stored.ErrorDetail != ErrInsufficientFunds.Error() {
		t.Fatalf("unexpected record after failure: %+v", stored)
	}
	if err := s.MarkTransactionFailed(ctx, tx.ID, "again"); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending on second mark, got %v", err)
	}
}

// Phase 1 records intent before wallets are resolved; a request naming a
// wallet that never existed must still leave a durable record that can be
// marked FAILED.
func TestPendingTransactionAcceptsUnknownWallets(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	from := uuid.NewString()
	to := uuid.NewString()
	tx := TransactionLog{
		ID:             uuid.NewString(),
		IdempotencyKey: uuid.NewString(),
		FromWalletID:   &from,
		ToWalletID:     &to,
		Amount:         money.MustParse("10"),
		Type:           TypeTransfer,
		CreatedAt:      time.Now().UTC(),
	}
	stored, existed, err := s.CreatePendingTransaction(ctx, tx)
	if err != nil || existed {
		t.Fatalf("intent for unknown wallets must commit: existed=%v err=%v", existed, err)
	}
	if stored.Status != StatusPending {
		t.Fatalf("unexpected status: %s", stored.Status)
	}

	if _, err := s.CommitTransaction(ctx, stored.ID); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}

	if err := s.MarkTransactionFailed(ctx, stored.ID, ErrWalletNotFound.Error()); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	final, err := s.GetTransactionByID(ctx, stored.ID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if final.Status != StatusFailed {
		t.Fatalf("expected durable FAILED record, got %s", final.Status)
	}
}

func TestCreatePendingTransactionIdempotent(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	from := newWallet(t, s, "10")
	to := newWallet(t, s, "0")

	key := uuid.NewString()
	first := TransactionLog{
		ID:             uuid.NewString(),
		IdempotencyKey: key,
		FromWalletID:   &from.ID,
		ToWalletID:     &to.ID,
		Amount:         money.MustParse("5"),
		Type:           TypeTransfer,
		CreatedAt:      time.Now().UTC(),
	}
	stored, existed, err := s.CreatePendingTransaction(ctx, first)
	if err != nil || existed {
		t.Fatalf("first create: existed=%v err=%v", existed, err)
	}

	second := first
	second.ID = uuid.NewString()
	replay, existed, err := s.CreatePendingTransaction(ctx, second)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if !existed || replay.ID != stored.ID {
		t.Fatalf("expected replay of original record, got existed=%v id=%s", existed, replay.ID)
	}
}

func TestCommitTransactionTwice(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	from := newWallet(t, s, "100")
	to := newWallet(t, s, "0")
	tx := pendingTransfer(t, s, from.ID, to.ID, "10")

	if _, err := s.CommitTransaction(ctx, tx.ID); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if _, err := s.CommitTransaction(ctx, tx.ID); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}

	got, _ := s.GetWallet(ctx, from.ID)
	if money.FormatAmount(got.Balance) != "90.0000" {
		t.Fatalf("double commit mutated balance: %s", got.Balance)
	}
}

func TestCommitInactiveWallet(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	from := newWallet(t, s, "100")
	to := newWallet(t, s, "0")
	if err := s.SetWalletActive(ctx, to.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	tx := pendingTransfer(t, s, from.ID, to.ID, "10")

	if _, err := s.CommitTransaction(ctx, tx.ID); !errors.Is(err, ErrWalletInactive) {
		t.Fatalf("expected ErrWalletInactive, got %v", err)
	}
}

func newAccrual(walletID, amount string, date time.Time) InterestAccrual {
	return InterestAccrual{
		ID:             uuid.NewString(),
		WalletID:       walletID,
		Principal:      money.MustParse("100000"),
		InterestAmount: money.MustParse(amount),
		AnnualRate:     money.MustParse("0.275"),
		DailyRate:      money.MustParse("0.0007534247"),
		AccrualDate:    date,
		DaysInYear:     365,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestCreateAccrualIdempotentPerDay(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	w := newWallet(t, s, "100000")
	day := time.Date(2023, time.June, 15, 0, 0, 0, 0, time.UTC)

	first, existed, err := s.CreateAccrual(ctx, newAccrual(w.ID, "75.3425", day))
	if err != nil || existed {
		t.Fatalf("first accrual: existed=%v err=%v", existed, err)
	}
	replay, existed, err := s.CreateAccrual(ctx, newAccrual(w.ID, "99.9999", day))
	if err != nil {
		t.Fatalf("second accrual: %v", err)
	}
	if !existed || replay.ID != first.ID {
		t.Fatalf("expected stored accrual back, got existed=%v id=%s", existed, replay.ID)
	}
	if money.FormatAmount(replay.InterestAmount) != "75.3425" {
		t.Fatalf("replay must return the original record: %s", replay.InterestAmount)
	}
}

func TestCommitInterestBatchAggregatesRepeatWallet(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	w := newWallet(t, s, "100")
	day1 := time.Date(2023, time.June, 15, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	var apps []InterestApplication
	for _, d := range []time.Time{day1, day2} {
		acc, _, err := s.CreateAccrual(ctx, newAccrual(w.ID, "1.5", d))
		if err != nil {
			t.Fatalf("create accrual: %v", err)
		}
		tx := TransactionLog{
			ID:             uuid.NewString(),
			IdempotencyKey: uuid.NewString(),
			ToWalletID:     &w.ID,
			Amount:         acc.InterestAmount,
			Type:           TypeInterest,
			CreatedAt:      time.Now().UTC(),
		}
		pending, _, err := s.CreatePendingTransaction(ctx, tx)
		if err != nil {
			t.Fatalf("create pending: %v", err)
		}
		apps = append(apps, InterestApplication{Accrual: acc, Transaction: pending})
	}

	results, err := s.CommitInterestBatch(ctx, apps)
	if err != nil {
		t.Fatalf("commit batch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	got, _ := s.GetWallet(ctx, w.ID)
	if money.FormatAmount(got.Balance) != "103.0000" {
		t.Fatalf("both credits must land: %s", got.Balance)
	}

	for _, d := range []time.Time{day1, day2} {
		acc, err := s.GetAccrual(ctx, w.ID, d)
		if err != nil {
			t.Fatalf("get accrual: %v", err)
		}
		if !acc.Applied || acc.TransactionID == nil {
			t.Fatalf("accrual not linked after apply: %+v", acc)
		}
	}
}

func TestCommitInterestBatchAllOrNothing(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	good := newWallet(t, s, "100")
	bad := newWallet(t, s, "100")
	if err := s.SetWalletActive(ctx, bad.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	day := time.Date(2023, time.June, 15, 0, 0, 0, 0, time.UTC)

	var apps []InterestApplication
	for _, id := range []string{good.ID, bad.ID} {
		acc, _, err := s.CreateAccrual(ctx, newAccrual(id, "2", day))
		if err != nil {
			t.Fatalf("create accrual: %v", err)
		}
		tx := TransactionLog{
			ID:             uuid.NewString(),
			IdempotencyKey: uuid.NewString(),
			ToWalletID:     &id,
			Amount:         acc.InterestAmount,
			Type:           TypeInterest,
			CreatedAt:      time.Now().UTC(),
		}
		pending, _, err := s.CreatePendingTransaction(ctx, tx)
		if err != nil {
			t.Fatalf("create pending: %v", err)
		}
		apps = append(apps, InterestApplication{Accrual: acc, Transaction: pending})
	}

	if _, err := s.CommitInterestBatch(ctx, apps); !errors.Is(err, ErrWalletInactive) {
		t.Fatalf("expected ErrWalletInactive, got %v", err)
	}

	got, _ := s.GetWallet(ctx, good.ID)
	if money.FormatAmount(got.Balance) != "100.0000" {
		t.Fatalf("partial batch applied: %s", got.Balance)
	}
	acc, _ := s.GetAccrual(ctx, good.ID, day)
	if acc.Applied {
		t.Fatalf("accrual marked applied after failed batch")
	}
}

func TestSumAccruedInterest(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	w := newWallet(t, s, "100000")
	day := time.Date(2023, time.June, 15, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if _, _, err := s.CreateAccrual(ctx, newAccrual(w.ID, "75.3425", day.AddDate(0, 0, i))); err != nil {
			t.Fatalf("create accrual: %v", err)
		}
	}

	total, err := s.SumAccruedInterest(ctx, w.ID)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if money.FormatAmount(total) != "226.0275" {
		t.Fatalf("unexpected total: %s", total)
	}
}

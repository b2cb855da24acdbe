package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lumenpay/lumenpay/internal/coordinator"
	"github.com/lumenpay/lumenpay/internal/ledger"
	"github.com/lumenpay/lumenpay/internal/logging"
	"github.com/lumenpay/lumenpay/internal/money"
	"github.com/lumenpay/lumenpay/internal/notification"
)

type testNotifier struct {
	last notification.Message
	sent int
}

func (n *testNotifier) Send(_ context.Context, msg notification.Message) error {
	n.last = msg
	n.sent++
	return nil
}

func setupService(t *testing.T) (*Service, ledger.Store, *coordinator.Coordinator, *testNotifier) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})

	store := ledger.NewInMemory()
	coord := coordinator.New(cache, time.Hour, 10*time.Second, logging.Discard())
	notifier := &testNotifier{}
	svc := NewService(store, coord, notifier, logging.Discard())
	return svc, store, coord, notifier
}

func seedWallet(t *testing.T, store ledger.Store, balance string) string {
	t.Helper()
	now := time.Now().UTC()
	w := ledger.Wallet{
		ID:        uuid.NewString(),
		OwnerID:   uuid.NewString(),
		Currency:  "USD",
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateWallet(context.Background(), w); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	ledger.SeedBalance(store, w.ID, money.MustParse(balance))
	return w.ID
}

func TestTransferSuccess(t *testing.T) {
	svc, store, _, notifier := setupService(t)
	ctx := context.Background()

	from := seedWallet(t, store, "100")
	to := seedWallet(t, store, "0")

	res, err := svc.Transfer(ctx, Input{
		IdempotencyKey: "txn-1",
		FromWalletID:   from,
		ToWalletID:     to,
		Amount:         "40.5",
		Description:    "lunch",
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !res.Success || res.Replayed {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.FromBalance != "59.5000" || res.ToBalance != "40.5000" {
		t.Fatalf("unexpected balances: %s / %s", res.FromBalance, res.ToBalance)
	}
	if res.Status != ledger.StatusCompleted || res.CompletedAt == nil {
		t.Fatalf("expected completed status: %+v", res)
	}
	if notifier.sent != 1 || notifier.last.Kind != notification.KindTransfer {
		t.Fatalf("expected one transfer notification, got %+v", notifier.last)
	}

	tx, err := store.GetTransactionByIdempotencyKey(ctx, "txn-1")
	if err != nil {
		t.Fatalf("lookup by key: %v", err)
	}
	if tx.Type != ledger.TypeTransfer || tx.Status != ledger.StatusCompleted {
		t.Fatalf("unexpected stored record: %+v", tx)
	}
}

func TestTransferReplaysFromCache(t *testing.T) {
	svc, store, _, notifier := setupService(t)
	ctx := context.Background()

	from := seedWallet(t, store, "100")
	to := seedWallet(t, store, "0")
	input := Input{IdempotencyKey: "txn-1", FromWalletID: from, ToWalletID: to, Amount: "25"}

	first, err := svc.Transfer(ctx, input)
	if err != nil {
		t.Fatalf("first transfer: %v", err)
	}

	second, err := svc.Transfer(ctx, input)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Replayed || !second.Success {
		t.Fatalf("expected successful replay: %+v", second)
	}
	if second.TransactionID != first.TransactionID {
		t.Fatalf("replay returned a different transaction: %s vs %s", second.TransactionID, first.TransactionID)
	}

	// The money moved exactly once.
	w, _ := store.GetWallet(ctx, from)
	if money.FormatAmount(w.Balance) != "75.0000" {
		t.Fatalf("balance mutated on replay: %s", w.Balance)
	}
	if notifier.sent != 1 {
		t.Fatalf("replay must not re-notify, sent=%d", notifier.sent)
	}
}

func TestTransferReplaysFromStoreWhenCacheCold(t *testing.T) {
	svc, store, _, _ := setupService(t)
	ctx := context.Background()

	from := seedWallet(t, store, "100")
	to := seedWallet(t, store, "0")
	input := Input{IdempotencyKey: "txn-1", FromWalletID: from, ToWalletID: to, Amount: "25"}

	first, err := svc.Transfer(ctx, input)
	if err != nil {
		t.Fatalf("first transfer: %v", err)
	}

	// A cold cache forces the authoritative-store path.
	cold := NewService(store, coordinator.New(nil, time.Hour, time.Second, logging.Discard()), nil, logging.Discard())
	second, err := cold.Transfer(ctx, input)
	if err != nil {
		t.Fatalf("store replay: %v", err)
	}
	if !second.Replayed || !second.Success || second.TransactionID != first.TransactionID {
		t.Fatalf("expected store-backed replay: %+v", second)
	}
	if second.FromBalance != "75.0000" || second.ToBalance != "25.0000" {
		t.Fatalf("replay balances must come from the ledger entries: %+v", second)
	}
}

func TestTransferInsufficientFundsLeavesFailedRecord(t *testing.T) {
	svc, store, _, _ := setupService(t)
	ctx := context.Background()

	from := seedWallet(t, store, "50")
	to := seedWallet(t, store, "0")

	res, err := svc.Transfer(ctx, Input{IdempotencyKey: "txn-1", FromWalletID: from, ToWalletID: to, Amount: "100"})
	if err != nil {
		t.Fatalf("business failure must not be an error: %v", err)
	}
	if res.Success || res.ErrorCode != CodeInsufficientFunds {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Status != ledger.StatusFailed {
		t.Fatalf("expected FAILED status in result: %+v", res)
	}

	tx, err := store.GetTransactionByIdempotencyKey(ctx, "txn-1")
	if err != nil {
		t.Fatalf("failed attempt must leave a durable record: %v", err)
	}
	if tx.Status != ledger.StatusFailed {
		t.Fatalf("unexpected stored status: %s", tx.Status)
	}

	w, _ := store.GetWallet(ctx, from)
	if money.FormatAmount(w.Balance) != "50.0000" {
		t.Fatalf("balance mutated on failure: %s", w.Balance)
	}

	// The failure replays idempotently.
	replay, err := svc.Transfer(ctx, Input{IdempotencyKey: "txn-1", FromWalletID: from, ToWalletID: to, Amount: "100"})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.Replayed || replay.ErrorCode != CodeInsufficientFunds {
		t.Fatalf("expected replayed failure: %+v", replay)
	}
}

func TestTransferMissingWalletLeavesFailedRecord(t *testing.T) {
	svc, store, _, _ := setupService(t)
	ctx := context.Background()

	from := seedWallet(t, store, "50")

	res, err := svc.Transfer(ctx, Input{IdempotencyKey: "txn-1", FromWalletID: from, ToWalletID: uuid.NewString(), Amount: "10"})
	if err != nil {
		t.Fatalf("missing wallet is a business failure: %v", err)
	}
	if res.ErrorCode != CodeWalletNotFound {
		t.Fatalf("unexpected code: %+v", res)
	}

	tx, err := store.GetTransactionByIdempotencyKey(ctx, "txn-1")
	if err != nil || tx.Status != ledger.StatusFailed {
		t.Fatalf("expected durable FAILED record, got %+v err=%v", tx, err)
	}
}

func TestTransferValidationFailsFast(t *testing.T) {
	svc, store, _, _ := setupService(t)
	ctx := context.Background()

	from := seedWallet(t, store, "50")
	to := seedWallet(t, store, "0")

	cases := []Input{
		{FromWalletID: from, ToWalletID: to, Amount: "10"},                                   // no key
		{IdempotencyKey: "k1", FromWalletID: from, ToWalletID: to, Amount: "abc"},            // bad amount
		{IdempotencyKey: "k2", FromWalletID: from, ToWalletID: to, Amount: "-5"},             // negative
		{IdempotencyKey: "k3", FromWalletID: from, ToWalletID: to, Amount: "0"},              // zero
		{IdempotencyKey: "k4", FromWalletID: from, ToWalletID: from, Amount: "10"},           // self transfer
		{IdempotencyKey: "k5", FromWalletID: "", ToWalletID: to, Amount: "10"},               // missing source
	}
	for i, input := range cases {
		res, err := svc.Transfer(ctx, input)
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if res.Success || res.ErrorCode != CodeValidation {
			t.Fatalf("case %d: expected validation failure, got %+v", i, res)
		}
	}

	// Validation failures never reach Phase 1.
	for _, key := range []string{"k1", "k2", "k3", "k4", "k5"} {
		if _, err := store.GetTransactionByIdempotencyKey(ctx, key); !errors.Is(err, ledger.ErrTransactionNotFound) {
			t.Fatalf("key %s: validation failure must not write a record", key)
		}
	}
}

func TestTransferConflictsWhileLockHeld(t *testing.T) {
	svc, store, coord, _ := setupService(t)
	ctx := context.Background()

	from := seedWallet(t, store, "100")
	to := seedWallet(t, store, "0")

	lock, err := coord.AcquireLock(ctx, from, to)
	if err != nil {
		t.Fatalf("pre-acquire lock: %v", err)
	}
	defer lock.Release(ctx)

	res, err := svc.Transfer(ctx, Input{IdempotencyKey: "txn-1", FromWalletID: from, ToWalletID: to, Amount: "10"})
	if err != nil {
		t.Fatalf("conflict is a typed result: %v", err)
	}
	if res.ErrorCode != CodeConcurrentRequest {
		t.Fatalf("expected concurrent-request conflict, got %+v", res)
	}

	// Nothing durable was written while the pair was locked.
	if _, err := store.GetTransactionByIdempotencyKey(ctx, "txn-1"); !errors.Is(err, ledger.ErrTransactionNotFound) {
		t.Fatalf("conflicting attempt must not write a record")
	}
}

func TestDepositAndWithdraw(t *testing.T) {
	svc, store, _, _ := setupService(t)
	ctx := context.Background()

	w := seedWallet(t, store, "0")

	dep, err := svc.Deposit(ctx, FundingInput{IdempotencyKey: "dep-1", WalletID: w, Amount: "100"})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !dep.Success || dep.ToBalance != "100.0000" || dep.FromBalance != "" {
		t.Fatalf("unexpected deposit result: %+v", dep)
	}

	wd, err := svc.Withdraw(ctx, FundingInput{IdempotencyKey: "wd-1", WalletID: w, Amount: "30"})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !wd.Success || wd.FromBalance != "70.0000" || wd.ToBalance != "" {
		t.Fatalf("unexpected withdraw result: %+v", wd)
	}

	over, err := svc.Withdraw(ctx, FundingInput{IdempotencyKey: "wd-2", WalletID: w, Amount: "1000"})
	if err != nil {
		t.Fatalf("overdraft is a business failure: %v", err)
	}
	if over.Success || over.ErrorCode != CodeInsufficientFunds {
		t.Fatalf("expected insufficient funds, got %+v", over)
	}

	entries, _ := store.ListEntriesForTransaction(ctx, dep.TransactionID)
	if len(entries) != 1 || entries[0].Type != ledger.EntryCredit {
		t.Fatalf("deposit must write a single credit leg: %+v", entries)
	}
}

func TestTransferHistoryPaging(t *testing.T) {
	svc, store, _, _ := setupService(t)
	ctx := context.Background()

	w := seedWallet(t, store, "0")
	for i := 0; i < 3; i++ {
		if _, err := svc.Deposit(ctx, FundingInput{IdempotencyKey: uuid.NewString(), WalletID: w, Amount: "1"}); err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
	}

	logs, err := svc.GetTransactionHistory(ctx, w, 2, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(logs))
	}

	rest, err := svc.GetTransactionHistory(ctx, w, 2, 2)
	if err != nil {
		t.Fatalf("history offset: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected 1 remaining record, got %d", len(rest))
	}
}

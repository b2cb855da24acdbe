package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/lumenpay/lumenpay/internal/ledger"
	"github.com/lumenpay/lumenpay/internal/money"
)

func TestCreateWallet(t *testing.T) {
	svc := NewService(ledger.NewInMemory())
	ctx := context.Background()

	w, err := svc.Create(ctx, CreateInput{OwnerID: uuid.NewString()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if w.Currency != "USD" {
		t.Fatalf("expected default currency, got %s", w.Currency)
	}
	if w.Balance != "0.0000" || !w.Active {
		t.Fatalf("unexpected wallet: %+v", w)
	}

	got, err := svc.Get(ctx, w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.OwnerID != w.OwnerID {
		t.Fatalf("owner mismatch: %+v", got)
	}
}

func TestCreateWalletRejectsBadOwner(t *testing.T) {
	svc := NewService(ledger.NewInMemory())

	if _, err := svc.Create(context.Background(), CreateInput{OwnerID: "not-a-uuid"}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestGetBalance(t *testing.T) {
	store := ledger.NewInMemory()
	svc := NewService(store)
	ctx := context.Background()

	w, err := svc.Create(ctx, CreateInput{OwnerID: uuid.NewString(), Currency: "EUR"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ledger.SeedBalance(store, w.ID, money.MustParse("123.45"))

	balance, err := svc.GetBalance(ctx, w.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Amount != "123.4500" || balance.Currency != "EUR" {
		t.Fatalf("unexpected balance: %+v", balance)
	}

	if _, err := svc.GetBalance(ctx, uuid.NewString()); !errors.Is(err, ledger.ErrWalletNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSetActive(t *testing.T) {
	svc := NewService(ledger.NewInMemory())
	ctx := context.Background()

	w, err := svc.Create(ctx, CreateInput{OwnerID: uuid.NewString()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.SetActive(ctx, w.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	got, _ := svc.Get(ctx, w.ID)
	if got.Active {
		t.Fatalf("wallet still active")
	}

	if err := svc.SetActive(ctx, uuid.NewString(), false); !errors.Is(err, ledger.ErrWalletNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

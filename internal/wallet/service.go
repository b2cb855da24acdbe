// Package wallet provides wallet provisioning and read access over the ledger
// store. Balance mutation happens only inside the transfer and interest
// engines; this service never writes a balance.
package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumenpay/lumenpay/internal/ledger"
	"github.com/lumenpay/lumenpay/internal/money"
)

const defaultCurrency = "USD"

// Service exposes wallet operations backed by the ledger store.
type Service struct {
	store ledger.Store
}

// NewService builds a wallet service instance.
func NewService(store ledger.Store) *Service {
	return &Service{store: store}
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	OwnerID  string
	Currency string
}

// Create provisions an active wallet with a zero balance.
func (s *Service) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	if _, err := uuid.Parse(input.OwnerID); err != nil {
		return Wallet{}, fmt.Errorf("invalid owner id: %w", err)
	}

	currency := input.Currency
	if currency == "" {
		currency = defaultCurrency
	}

	now := time.Now().UTC()
	w := ledger.Wallet{
		ID:        uuid.NewString(),
		OwnerID:   input.OwnerID,
		Currency:  currency,
		Balance:   decimal.Zero,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateWallet(ctx, w); err != nil {
		return Wallet{}, err
	}
	return toAPI(w), nil
}

// Get retrieves wallet metadata.
func (s *Service) Get(ctx context.Context, id string) (Wallet, error) {
	w, err := s.store.GetWallet(ctx, id)
	if err != nil {
		return Wallet{}, err
	}
	return toAPI(w), nil
}

// GetBalance returns the wallet's current balance as an exact decimal string.
func (s *Service) GetBalance(ctx context.Context, id string) (Balance, error) {
	w, err := s.store.GetWallet(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		WalletID: w.ID,
		Amount:   money.FormatAmount(w.Balance),
		Currency: w.Currency,
		AsOf:     time.Now().UTC(),
	}, nil
}

// SetActive flips the active flag; inactive wallets join no new transfers and
// accrue no interest.
func (s *Service) SetActive(ctx context.Context, id string, active bool) error {
	return s.store.SetWalletActive(ctx, id, active)
}

func toAPI(w ledger.Wallet) Wallet {
	return Wallet{
		ID:        w.ID,
		OwnerID:   w.OwnerID,
		Currency:  w.Currency,
		Balance:   money.FormatAmount(w.Balance),
		Active:    w.Active,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

package wallet

import "time"

// Wallet is the API-facing view of a stored-value account. Balance travels as
// an exact decimal string.
type Wallet struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Currency  string    `json:"currency"`
	Balance   string    `json:"balance"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Balance encapsulates available funds for a wallet at a point in time.
type Balance struct {
	WalletID string    `json:"wallet_id"`
	Amount   string    `json:"amount"`
	Currency string    `json:"currency"`
	AsOf     time.Time `json:"as_of"`
}

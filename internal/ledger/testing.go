package ledger

import "github.com/shopspring/decimal"

// SeedBalance is a test helper that sets a wallet balance directly when using
// the in-memory store.
func SeedBalance(s Store, walletID string, balance decimal.Decimal) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		w := mem.wallets[walletID]
		w.Balance = balance
		mem.wallets[walletID] = w
	}
}

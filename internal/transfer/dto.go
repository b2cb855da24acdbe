package transfer

import (
	"time"

	"github.com/lumenpay/lumenpay/internal/ledger"
	"github.com/lumenpay/lumenpay/internal/money"
)

// apiTransaction is the serialized view of a transaction log. Amounts are
// exact decimal strings.
type apiTransaction struct {
	ID             string            `json:"id"`
	IdempotencyKey string            `json:"idempotency_key"`
	FromWalletID   *string           `json:"from_wallet_id,omitempty"`
	ToWalletID     *string           `json:"to_wallet_id,omitempty"`
	Amount         string            `json:"amount"`
	Currency       string            `json:"currency,omitempty"`
	Type           string            `json:"type"`
	Status         string            `json:"status"`
	Description    string            `json:"description,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ErrorDetail    string            `json:"error_detail,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

func toAPITransaction(tx ledger.TransactionLog) apiTransaction {
	return apiTransaction{
		ID:             tx.ID,
		IdempotencyKey: tx.IdempotencyKey,
		FromWalletID:   tx.FromWalletID,
		ToWalletID:     tx.ToWalletID,
		Amount:         money.FormatAmount(tx.Amount),
		Currency:       tx.Currency,
		Type:           string(tx.Type),
		Status:         string(tx.Status),
		Description:    tx.Description,
		Metadata:       tx.Metadata,
		ErrorDetail:    tx.ErrorDetail,
		CompletedAt:    tx.CompletedAt,
		CreatedAt:      tx.CreatedAt,
	}
}

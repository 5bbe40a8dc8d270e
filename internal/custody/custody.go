// Package custody abstracts the platform's custodial wallet provider:
// per-user wallets, balances, and outbound token transfers.
package custody

import (
	"context"

	"crossrail/internal/models"

	"github.com/shopspring/decimal"
)

// TransferParams describes one outbound token transfer from a user's
// custodial wallet. IdempotencyKey must be stable across retries of the same
// logical transfer so the provider deduplicates it.
type TransferParams struct {
	UserId             string
	Token              string
	Network            string
	Amount             decimal.Decimal
	DestinationAddress string
	IdempotencyKey     string
}

// Service is the custodial wallet provider contract. Wallets are scoped to
// (user, token, network) because the provider keys them by asset.
type Service interface {
	// GetOrCreateWallet returns the user's wallet for the token on the
	// network, provisioning one on first use.
	GetOrCreateWallet(ctx context.Context, userId, token, network string) (*models.CustodialWallet, error)
	// GetBalance returns the spendable balance of the wallet.
	GetBalance(ctx context.Context, wallet *models.CustodialWallet) (*models.AssetBalance, error)
	// TransferToken moves tokens out of the user's wallet and returns the
	// provider's transfer identifier.
	TransferToken(ctx context.Context, params TransferParams) (string, error)
}

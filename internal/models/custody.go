package models

import "github.com/shopspring/decimal"

// CustodialWallet is a platform-managed wallet for one user on one network.
type CustodialWallet struct {
	WalletId string
	UserId   string
	Token    string
	Network  string
	Address  string
}

// AssetBalance is one asset's balance inside a custodial wallet.
type AssetBalance struct {
	Symbol string
	Amount decimal.Decimal
}

package types

import "math/big"

// Account tracks a fungible asset balance for one address. Balances are
// denominated in the asset's smallest unit and expressed as big integers to
// keep the ledger free of floating point.
type Account struct {
	Balance *big.Int `json:"balance"`
}

// EnsureAccount normalises a possibly-nil account into a usable value.
func EnsureAccount(acc *Account) *Account {
	if acc == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

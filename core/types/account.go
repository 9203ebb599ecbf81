package types

import "math/big"

// Account is the ledger-side view of a single address: a funding balance in
// the smallest funding unit plus per-asset token balances keyed by asset id.
type Account struct {
	Nonce   uint64              `json:"nonce"`
	Balance *big.Int            `json:"balance"`
	Tokens  map[uint64]*big.Int `json:"tokens,omitempty"`
}

// TokenBalance returns the balance held for the given asset id, never nil.
func (a *Account) TokenBalance(assetID uint64) *big.Int {
	if a == nil || a.Tokens == nil {
		return big.NewInt(0)
	}
	if bal, ok := a.Tokens[assetID]; ok && bal != nil {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// SetTokenBalance stores the balance for the given asset id, allocating the
// token map on first use.
func (a *Account) SetTokenBalance(assetID uint64, amount *big.Int) {
	if a == nil {
		return
	}
	if a.Tokens == nil {
		a.Tokens = make(map[uint64]*big.Int)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	a.Tokens[assetID] = new(big.Int).Set(amount)
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	clone := &Account{Nonce: a.Nonce, Balance: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	if len(a.Tokens) > 0 {
		clone.Tokens = make(map[uint64]*big.Int, len(a.Tokens))
		for id, bal := range a.Tokens {
			if bal == nil {
				bal = big.NewInt(0)
			}
			clone.Tokens[id] = new(big.Int).Set(bal)
		}
	}
	return clone
}

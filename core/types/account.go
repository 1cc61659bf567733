package types

import "math/big"

// Account holds the balance and replay counter for an address on the account
// chain. The contract escrow backend debits and credits these directly.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}

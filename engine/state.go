package engine

import (
	"context"
	"math/big"

	"vaultd/crypto"
	"vaultd/oracle"
)

// State is the persistence boundary for positions. Implementations return
// nil (not an error) for accounts that have never been written, and must not
// retain the pointers they are handed.
type State interface {
	Position(addr crypto.Address) (*Position, error)
	PutPosition(addr crypto.Address, pos *Position) error
	Accounts() ([]crypto.Address, error)
}

// LiabilityToken is the ZUSD collaborator. The engine holds the only mint
// and burn capability; wallet balances otherwise move through ordinary
// transfers outside the engine.
type LiabilityToken interface {
	Mint(ctx context.Context, to crypto.Address, amount *big.Int) error
	Burn(ctx context.Context, from crypto.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, addr crypto.Address) (*big.Int, error)
}

// CollateralBank custodies deposited collateral. TransferIn pulls tokens
// from an account's wallet into custody; TransferOut releases custody back
// to a wallet. Both fail without effect when the funds are missing.
type CollateralBank interface {
	TransferIn(ctx context.Context, asset string, from crypto.Address, amount *big.Int) error
	TransferOut(ctx context.Context, asset string, to crypto.Address, amount *big.Int) error
}

// PriceSource yields 1e18-scaled USD quotes. Implementations fail closed:
// no usable fresh price means an error, never a guess.
type PriceSource interface {
	Price(ctx context.Context, asset string) (oracle.Quote, error)
}

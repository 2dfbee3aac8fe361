// Package token holds the key-value ledgers for the pegged liability token
// and the collateral custody bank.
package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"vaultd/crypto"
	"vaultd/storage"
)

var (
	// ErrAmountInvalid rejects nil, zero, or negative amounts.
	ErrAmountInvalid = errors.New("token: amount must be positive")
	// ErrInsufficientBalance rejects debits larger than the balance.
	ErrInsufficientBalance = errors.New("token: insufficient balance")
)

var (
	zusdBalancePrefix = []byte("zusd-balance:")
	zusdSupplyKey     = ethcrypto.Keccak256([]byte("zusd-supply"))
)

func zusdBalanceKey(addr crypto.Address) []byte {
	raw := addr.Bytes()
	buf := make([]byte, len(zusdBalancePrefix)+len(raw))
	copy(buf, zusdBalancePrefix)
	copy(buf[len(zusdBalancePrefix):], raw)
	return ethcrypto.Keccak256(buf)
}

func readAmount(db storage.Database, key []byte) (*big.Int, error) {
	data, err := db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("token: load amount: %w", err)
	}
	if len(data) == 0 {
		return new(big.Int), nil
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, fmt.Errorf("token: decode amount: %w", err)
	}
	return amount, nil
}

func writeAmount(db storage.Database, key []byte, amount *big.Int) error {
	if amount.Sign() == 0 {
		if err := db.Delete(key); err != nil {
			return fmt.Errorf("token: delete amount: %w", err)
		}
		return nil
	}
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return fmt.Errorf("token: encode amount: %w", err)
	}
	if err := db.Put(key, encoded); err != nil {
		return fmt.Errorf("token: put amount: %w", err)
	}
	return nil
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountInvalid
	}
	return nil
}

// ZUSD is the pegged liability token ledger. The engine holds the only mint
// and burn capability; balances otherwise move through Transfer.
type ZUSD struct {
	mu sync.Mutex
	db storage.Database
}

func NewZUSD(db storage.Database) *ZUSD {
	return &ZUSD{db: db}
}

// Mint credits freshly issued tokens to the address.
func (z *ZUSD) Mint(_ context.Context, to crypto.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	z.mu.Lock()
	defer z.mu.Unlock()
	balance, err := readAmount(z.db, zusdBalanceKey(to))
	if err != nil {
		return err
	}
	if err := writeAmount(z.db, zusdBalanceKey(to), balance.Add(balance, amount)); err != nil {
		return err
	}
	supply, err := readAmount(z.db, zusdSupplyKey)
	if err != nil {
		return err
	}
	return writeAmount(z.db, zusdSupplyKey, supply.Add(supply, amount))
}

// Burn retires tokens from the address.
func (z *ZUSD) Burn(_ context.Context, from crypto.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	z.mu.Lock()
	defer z.mu.Unlock()
	balance, err := readAmount(z.db, zusdBalanceKey(from))
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := writeAmount(z.db, zusdBalanceKey(from), balance.Sub(balance, amount)); err != nil {
		return err
	}
	supply, err := readAmount(z.db, zusdSupplyKey)
	if err != nil {
		return err
	}
	return writeAmount(z.db, zusdSupplyKey, supply.Sub(supply, amount))
}

// Transfer moves tokens between wallets.
func (z *ZUSD) Transfer(_ context.Context, from, to crypto.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if from.Equal(to) {
		return nil
	}
	z.mu.Lock()
	defer z.mu.Unlock()
	source, err := readAmount(z.db, zusdBalanceKey(from))
	if err != nil {
		return err
	}
	if source.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	dest, err := readAmount(z.db, zusdBalanceKey(to))
	if err != nil {
		return err
	}
	if err := writeAmount(z.db, zusdBalanceKey(from), source.Sub(source, amount)); err != nil {
		return err
	}
	return writeAmount(z.db, zusdBalanceKey(to), dest.Add(dest, amount))
}

// BalanceOf reports the wallet balance.
func (z *ZUSD) BalanceOf(_ context.Context, addr crypto.Address) (*big.Int, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	return readAmount(z.db, zusdBalanceKey(addr))
}

// TotalSupply reports tokens minted and not yet burned.
func (z *ZUSD) TotalSupply(_ context.Context) (*big.Int, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	return readAmount(z.db, zusdSupplyKey)
}

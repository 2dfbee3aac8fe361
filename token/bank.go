package token

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"vaultd/crypto"
	"vaultd/storage"
)

var (
	bankWalletPrefix  = []byte("bank-wallet:")
	bankCustodyPrefix = []byte("bank-custody:")
)

func bankWalletKey(asset string, addr crypto.Address) []byte {
	raw := addr.Bytes()
	buf := make([]byte, 0, len(bankWalletPrefix)+len(asset)+1+len(raw))
	buf = append(buf, bankWalletPrefix...)
	buf = append(buf, asset...)
	buf = append(buf, ':')
	buf = append(buf, raw...)
	return ethcrypto.Keccak256(buf)
}

func bankCustodyKey(asset string) []byte {
	buf := make([]byte, 0, len(bankCustodyPrefix)+len(asset))
	buf = append(buf, bankCustodyPrefix...)
	buf = append(buf, asset...)
	return ethcrypto.Keccak256(buf)
}

// Bank custodies deposited collateral. Wallet balances are tracked per
// account and asset; custody is the aggregate pulled in by the engine.
// Wallets are funded out of band through Credit.
type Bank struct {
	mu sync.Mutex
	db storage.Database
}

func NewBank(db storage.Database) *Bank {
	return &Bank{db: db}
}

func normaliseAsset(asset string) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(asset))
	if symbol == "" {
		return "", fmt.Errorf("token: empty asset symbol")
	}
	return symbol, nil
}

// TransferIn moves collateral from the account's wallet into custody.
func (b *Bank) TransferIn(_ context.Context, asset string, from crypto.Address, amount *big.Int) error {
	symbol, err := normaliseAsset(asset)
	if err != nil {
		return err
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	wallet, err := readAmount(b.db, bankWalletKey(symbol, from))
	if err != nil {
		return err
	}
	if wallet.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	custody, err := readAmount(b.db, bankCustodyKey(symbol))
	if err != nil {
		return err
	}
	if err := writeAmount(b.db, bankWalletKey(symbol, from), wallet.Sub(wallet, amount)); err != nil {
		return err
	}
	return writeAmount(b.db, bankCustodyKey(symbol), custody.Add(custody, amount))
}

// TransferOut releases custody back to the account's wallet.
func (b *Bank) TransferOut(_ context.Context, asset string, to crypto.Address, amount *big.Int) error {
	symbol, err := normaliseAsset(asset)
	if err != nil {
		return err
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	custody, err := readAmount(b.db, bankCustodyKey(symbol))
	if err != nil {
		return err
	}
	if custody.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	wallet, err := readAmount(b.db, bankWalletKey(symbol, to))
	if err != nil {
		return err
	}
	if err := writeAmount(b.db, bankCustodyKey(symbol), custody.Sub(custody, amount)); err != nil {
		return err
	}
	return writeAmount(b.db, bankWalletKey(symbol, to), wallet.Add(wallet, amount))
}

// Credit funds a wallet from outside the system, the admin faucet used to
// seed balances in development deployments.
func (b *Bank) Credit(_ context.Context, asset string, to crypto.Address, amount *big.Int) error {
	symbol, err := normaliseAsset(asset)
	if err != nil {
		return err
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	wallet, err := readAmount(b.db, bankWalletKey(symbol, to))
	if err != nil {
		return err
	}
	return writeAmount(b.db, bankWalletKey(symbol, to), wallet.Add(wallet, amount))
}

// WalletBalance reports the free collateral in the account's wallet.
func (b *Bank) WalletBalance(_ context.Context, asset string, addr crypto.Address) (*big.Int, error) {
	symbol, err := normaliseAsset(asset)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return readAmount(b.db, bankWalletKey(symbol, addr))
}

// CustodyBalance reports the collateral the engine holds for the asset.
func (b *Bank) CustodyBalance(_ context.Context, asset string) (*big.Int, error) {
	symbol, err := normaliseAsset(asset)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return readAmount(b.db, bankCustodyKey(symbol))
}

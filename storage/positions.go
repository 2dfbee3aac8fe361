package storage

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"vaultd/crypto"
	"vaultd/engine"
)

var (
	positionPrefix  = []byte("vault-position:")
	accountIndexKey = ethcrypto.Keccak256([]byte("vault-account-index"))
)

func positionKey(addr crypto.Address) []byte {
	raw := addr.Bytes()
	buf := make([]byte, len(positionPrefix)+len(raw))
	copy(buf, positionPrefix)
	copy(buf[len(positionPrefix):], raw)
	return ethcrypto.Keccak256(buf)
}

// RLP cannot encode maps, so collateral entries are flattened into a
// symbol-sorted list for a canonical byte encoding.
type storedCollateral struct {
	Symbol string
	Amount *big.Int
}

type storedPosition struct {
	Collateral []storedCollateral
	Debt       *big.Int
}

// PositionStore persists engine positions in a key-value database and keeps
// an index of live accounts so protocol totals survive a restart. Writing an
// empty position removes both the record and the index entry; a drained
// account leaves no trace.
type PositionStore struct {
	mu sync.Mutex
	db Database
}

func NewPositionStore(db Database) *PositionStore {
	return &PositionStore{db: db}
}

// Position loads the stored entry for the address, nil when absent.
func (s *PositionStore) Position(addr crypto.Address) (*engine.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.db.Get(positionKey(addr))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load position: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	stored := new(storedPosition)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, fmt.Errorf("storage: decode position: %w", err)
	}
	pos := engine.NewPosition()
	if stored.Debt != nil {
		pos.Debt.Set(stored.Debt)
	}
	for _, entry := range stored.Collateral {
		if entry.Amount == nil || entry.Amount.Sign() == 0 {
			continue
		}
		pos.Collateral[entry.Symbol] = new(big.Int).Set(entry.Amount)
	}
	return pos, nil
}

// PutPosition stores the entry and maintains the account index.
func (s *PositionStore) PutPosition(addr crypto.Address, pos *engine.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos == nil || pos.Empty() {
		if err := s.db.Delete(positionKey(addr)); err != nil {
			return fmt.Errorf("storage: delete position: %w", err)
		}
		return s.dropFromIndex(addr)
	}
	stored := &storedPosition{Debt: new(big.Int)}
	if pos.Debt != nil {
		stored.Debt.Set(pos.Debt)
	}
	symbols := make([]string, 0, len(pos.Collateral))
	for symbol, amount := range pos.Collateral {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	for _, symbol := range symbols {
		stored.Collateral = append(stored.Collateral, storedCollateral{
			Symbol: symbol,
			Amount: new(big.Int).Set(pos.Collateral[symbol]),
		})
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return fmt.Errorf("storage: encode position: %w", err)
	}
	if err := s.db.Put(positionKey(addr), encoded); err != nil {
		return fmt.Errorf("storage: put position: %w", err)
	}
	return s.addToIndex(addr)
}

// Accounts lists every address with a live position.
func (s *PositionStore) Accounts() ([]crypto.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != 20 {
			continue
		}
		out = append(out, crypto.NewAddress(entry))
	}
	return out, nil
}

func (s *PositionStore) loadIndex() ([][]byte, error) {
	data, err := s.db.Get(accountIndexKey)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load account index: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var raw [][]byte
	if err := rlp.DecodeBytes(data, &raw); err != nil {
		return nil, fmt.Errorf("storage: decode account index: %w", err)
	}
	return raw, nil
}

func (s *PositionStore) writeIndex(raw [][]byte) error {
	encoded, err := rlp.EncodeToBytes(raw)
	if err != nil {
		return fmt.Errorf("storage: encode account index: %w", err)
	}
	if err := s.db.Put(accountIndexKey, encoded); err != nil {
		return fmt.Errorf("storage: put account index: %w", err)
	}
	return nil
}

func (s *PositionStore) addToIndex(addr crypto.Address) error {
	raw, err := s.loadIndex()
	if err != nil {
		return err
	}
	target := addr.Bytes()
	for _, entry := range raw {
		if bytes.Equal(entry, target) {
			return nil
		}
	}
	return s.writeIndex(append(raw, target))
}

func (s *PositionStore) dropFromIndex(addr crypto.Address) error {
	raw, err := s.loadIndex()
	if err != nil {
		return err
	}
	target := addr.Bytes()
	kept := raw[:0]
	changed := false
	for _, entry := range raw {
		if bytes.Equal(entry, target) {
			changed = true
			continue
		}
		kept = append(kept, entry)
	}
	if !changed {
		return nil
	}
	return s.writeIndex(kept)
}

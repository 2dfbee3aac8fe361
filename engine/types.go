package engine

import "math/big"

// Asset describes one registered collateral type. The registry is fixed at
// construction; decimals drive the conversion between native token units and
// 1e18 USD values.
type Asset struct {
	Symbol   string
	Decimals uint8
}

// Position is the per-account ledger entry: deposited collateral by asset
// symbol plus outstanding ZUSD debt. Balances never go negative.
type Position struct {
	Collateral map[string]*big.Int
	Debt       *big.Int
}

// NewPosition returns an empty position.
func NewPosition() *Position {
	return &Position{Collateral: make(map[string]*big.Int), Debt: new(big.Int)}
}

// Clone returns a deep copy safe to mutate without touching the original.
func (p *Position) Clone() *Position {
	out := NewPosition()
	if p == nil {
		return out
	}
	if p.Debt != nil {
		out.Debt.Set(p.Debt)
	}
	for symbol, amount := range p.Collateral {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		out.Collateral[symbol] = new(big.Int).Set(amount)
	}
	return out
}

// CollateralBalance returns a copy of the deposited amount for the symbol,
// zero when the account never touched it.
func (p *Position) CollateralBalance(symbol string) *big.Int {
	if p == nil || p.Collateral == nil {
		return new(big.Int)
	}
	amount, ok := p.Collateral[symbol]
	if !ok || amount == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(amount)
}

// Empty reports whether the position carries no collateral and no debt.
func (p *Position) Empty() bool {
	if p == nil {
		return true
	}
	if p.Debt != nil && p.Debt.Sign() > 0 {
		return false
	}
	for _, amount := range p.Collateral {
		if amount != nil && amount.Sign() > 0 {
			return false
		}
	}
	return true
}

func (p *Position) addCollateral(symbol string, amount *big.Int) {
	if p.Collateral == nil {
		p.Collateral = make(map[string]*big.Int)
	}
	current, ok := p.Collateral[symbol]
	if !ok || current == nil {
		current = new(big.Int)
	}
	p.Collateral[symbol] = new(big.Int).Add(current, amount)
}

// subCollateral assumes the caller already checked the bound. Entries that
// reach zero are removed so drained accounts leave no residue.
func (p *Position) subCollateral(symbol string, amount *big.Int) {
	current, ok := p.Collateral[symbol]
	if !ok || current == nil {
		return
	}
	next := new(big.Int).Sub(current, amount)
	if next.Sign() <= 0 {
		delete(p.Collateral, symbol)
		return
	}
	p.Collateral[symbol] = next
}

// AccountInfo is the read-model snapshot served by the account accessors.
type AccountInfo struct {
	Debt            *big.Int
	CollateralValue *big.Int
	HealthFactor    *big.Int
}

// ProtocolStatus aggregates the ledger across every known account.
type ProtocolStatus struct {
	Accounts             int
	TotalDebt            *big.Int
	TotalCollateralValue *big.Int
	Solvent              bool
}

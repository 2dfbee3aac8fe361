package engine

import (
	"context"
	"fmt"
	"math/big"

	"vaultd/crypto"
	"vaultd/oracle"
)

// lockedPosition reads the account's ledger entry under its mutation lock,
// so readers never observe the window between a tentatively persisted write
// and its rollback.
func (e *Engine) lockedPosition(account crypto.Address) (*Position, error) {
	unlock := e.locks.lock(account)
	defer unlock()
	return e.loadPosition(account)
}

// AccountInformation returns the account's outstanding debt, the USD value
// of its collateral, and its health factor under a single price snapshot.
// Unknown accounts report zeros and the maximum health factor.
func (e *Engine) AccountInformation(ctx context.Context, account crypto.Address) (*AccountInfo, error) {
	if e == nil || e.state == nil {
		return nil, errNotReady
	}
	pos, err := e.lockedPosition(account)
	if err != nil {
		return nil, err
	}
	view := e.newPriceView(ctx)
	value, err := e.collateralValue(view, pos)
	if err != nil {
		return nil, err
	}
	return &AccountInfo{
		Debt:            new(big.Int).Set(pos.Debt),
		CollateralValue: value,
		HealthFactor:    HealthFactor(pos.Debt, value),
	}, nil
}

// HealthFactor reports the account's current solvency ratio. Debt-free
// accounts report MaxHealthFactor without consulting the oracle.
func (e *Engine) HealthFactor(ctx context.Context, account crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNotReady
	}
	pos, err := e.lockedPosition(account)
	if err != nil {
		return nil, err
	}
	return e.healthFactorOf(e.newPriceView(ctx), pos)
}

// USDValue converts a native token amount of the asset to 1e18 USD at the
// current oracle price.
func (e *Engine) USDValue(ctx context.Context, asset string, amount *big.Int) (*big.Int, error) {
	if e == nil {
		return nil, errNotReady
	}
	cfg, err := e.assetFor(asset)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrAmountZero
	}
	return e.usdValue(e.newPriceView(ctx), cfg.Symbol, amount)
}

// TokenAmountFromUSD converts a 1e18 USD value into native token units of
// the asset at the current oracle price, floored.
func (e *Engine) TokenAmountFromUSD(ctx context.Context, asset string, usd *big.Int) (*big.Int, error) {
	if e == nil {
		return nil, errNotReady
	}
	cfg, err := e.assetFor(asset)
	if err != nil {
		return nil, err
	}
	if usd == nil || usd.Sign() < 0 {
		return nil, ErrAmountZero
	}
	return e.tokenAmountFromUSD(e.newPriceView(ctx), cfg.Symbol, usd)
}

// CollateralBalance returns the account's deposited amount of the asset.
func (e *Engine) CollateralBalance(account crypto.Address, asset string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNotReady
	}
	cfg, err := e.assetFor(asset)
	if err != nil {
		return nil, err
	}
	pos, err := e.lockedPosition(account)
	if err != nil {
		return nil, err
	}
	return pos.CollateralBalance(cfg.Symbol), nil
}

// Position returns a copy of the account's full ledger entry.
func (e *Engine) Position(account crypto.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNotReady
	}
	return e.lockedPosition(account)
}

// CollateralAssets lists the registered collateral types in registration
// order.
func (e *Engine) CollateralAssets() []Asset {
	if e == nil {
		return nil
	}
	out := make([]Asset, 0, len(e.order))
	for _, symbol := range e.order {
		out = append(out, e.assets[symbol])
	}
	return out
}

// CollateralFeed returns the price feed registered for the asset.
func (e *Engine) CollateralFeed(asset string) (oracle.FeedSpec, bool) {
	if e == nil {
		return oracle.FeedSpec{}, false
	}
	feed, ok := e.feeds[normaliseSymbol(asset)]
	return feed, ok
}

// ProtocolStatus sums debt and collateral value across every known account
// under one price snapshot. Solvent reports whether total collateral value
// covers total debt.
func (e *Engine) ProtocolStatus(ctx context.Context) (*ProtocolStatus, error) {
	if e == nil || e.state == nil {
		return nil, errNotReady
	}
	accounts, err := e.state.Accounts()
	if err != nil {
		return nil, fmt.Errorf("engine: list accounts: %w", err)
	}
	view := e.newPriceView(ctx)
	status := &ProtocolStatus{
		TotalDebt:            new(big.Int),
		TotalCollateralValue: new(big.Int),
	}
	for _, account := range accounts {
		pos, err := e.lockedPosition(account)
		if err != nil {
			return nil, err
		}
		if pos.Empty() {
			continue
		}
		value, err := e.collateralValue(view, pos)
		if err != nil {
			return nil, err
		}
		status.Accounts++
		status.TotalDebt.Add(status.TotalDebt, pos.Debt)
		status.TotalCollateralValue.Add(status.TotalCollateralValue, value)
	}
	status.Solvent = status.TotalCollateralValue.Cmp(status.TotalDebt) >= 0
	return status, nil
}

package engine

import (
	"context"
	"fmt"
	"math/big"

	"go.opentelemetry.io/otel/attribute"

	"vaultd/crypto"
)

// Liquidate lets any caller repay part of an unhealthy position's debt in
// exchange for the collateral equivalent plus a bonus. The covered debt is
// burned from the liquidator's own wallet; the seized collateral leaves the
// target's ledger for the liquidator's wallet. It returns the seized amount
// in native units of the asset.
//
// The target must start below the minimum health factor, must end strictly
// above where it started, and the liquidator's own position must stay
// healthy under the same price snapshot. Seizure never exceeds the target's
// recorded balance; a shortfall fails the whole operation rather than
// capping it.
func (e *Engine) Liquidate(ctx context.Context, liquidator crypto.Address, asset string, target crypto.Address, debtToCover *big.Int) (seized *big.Int, err error) {
	if err = e.ready(); err != nil {
		return nil, err
	}
	ctx, done := e.observe(ctx, "liquidate", attribute.String("vault.asset", normaliseSymbol(asset)))
	defer func() { done(err) }()
	if err = Guard(e.pauses, FlowLiquidate); err != nil {
		return nil, err
	}
	if err = validateAmount(debtToCover); err != nil {
		return nil, err
	}
	cfg, err := e.assetFor(asset)
	if err != nil {
		return nil, err
	}
	unlock := e.locks.lock(liquidator, target)
	defer unlock()

	targetPos, err := e.loadPosition(target)
	if err != nil {
		return nil, err
	}
	view := e.newPriceView(ctx)
	startRatio, err := e.healthFactorOf(view, targetPos)
	if err != nil {
		return nil, err
	}
	if healthy(startRatio) {
		err = ErrHealthFactorOk
		return nil, err
	}
	if targetPos.Debt.Cmp(debtToCover) < 0 {
		err = ErrBurnExceedsBalance
		return nil, err
	}

	tokenAmount, err := e.tokenAmountFromUSD(view, cfg.Symbol, debtToCover)
	if err != nil {
		return nil, err
	}
	bonus := new(big.Int).Mul(tokenAmount, big.NewInt(LiquidationBonus))
	bonus.Quo(bonus, big.NewInt(LiquidationPrecision))
	seize := new(big.Int).Add(tokenAmount, bonus)
	if targetPos.CollateralBalance(cfg.Symbol).Cmp(seize) < 0 {
		err = ErrInsufficientCollateral
		return nil, err
	}

	updatedTarget := targetPos.Clone()
	updatedTarget.subCollateral(cfg.Symbol, seize)
	updatedTarget.Debt.Sub(updatedTarget.Debt, debtToCover)
	endRatio, err := e.healthFactorOf(view, updatedTarget)
	if err != nil {
		return nil, err
	}
	if endRatio.Cmp(startRatio) <= 0 {
		err = ErrHealthFactorNotImproved
		return nil, err
	}

	// the liquidator's own position must survive the operation; seized
	// collateral lands in their wallet, not their ledger, so only a
	// self-liquidation changes what this check sees
	liquidatorPos := updatedTarget
	if !liquidator.Equal(target) {
		liquidatorPos, err = e.loadPosition(liquidator)
		if err != nil {
			return nil, err
		}
	}
	liquidatorRatio, err := e.healthFactorOf(view, liquidatorPos)
	if err != nil {
		return nil, err
	}
	if !healthy(liquidatorRatio) {
		err = breaksHealthFactor(liquidatorRatio)
		return nil, err
	}

	if err = e.zusd.Burn(ctx, liquidator, debtToCover); err != nil {
		err = fmt.Errorf("%w: %v", ErrTokenTransferFailed, err)
		return nil, err
	}
	if err = e.bank.TransferOut(ctx, cfg.Symbol, liquidator, seize); err != nil {
		if rbErr := e.zusd.Mint(ctx, liquidator, debtToCover); rbErr != nil {
			e.log.ErrorContext(ctx, "liquidation rollback failed",
				"liquidator", liquidator.String(), "error", rbErr)
		}
		err = fmt.Errorf("%w: %v", ErrTokenTransferFailed, err)
		return nil, err
	}
	if err = e.state.PutPosition(target, updatedTarget); err != nil {
		if rbErr := e.bank.TransferIn(ctx, cfg.Symbol, liquidator, seize); rbErr != nil {
			e.log.ErrorContext(ctx, "liquidation rollback failed",
				"liquidator", liquidator.String(), "asset", cfg.Symbol, "error", rbErr)
		}
		if rbErr := e.zusd.Mint(ctx, liquidator, debtToCover); rbErr != nil {
			e.log.ErrorContext(ctx, "liquidation rollback failed",
				"liquidator", liquidator.String(), "error", rbErr)
		}
		err = fmt.Errorf("engine: persist position: %w", err)
		return nil, err
	}

	e.metrics.RecordLiquidation(cfg.Symbol)
	e.emitter.Emit(PositionLiquidated{
		Liquidator:  liquidator,
		Account:     target,
		Asset:       cfg.Symbol,
		DebtCovered: new(big.Int).Set(debtToCover),
		Seized:      new(big.Int).Set(seize),
		StartHealth: new(big.Int).Set(startRatio),
		EndHealth:   new(big.Int).Set(endRatio),
	})
	e.log.InfoContext(ctx, "position liquidated",
		"liquidator", liquidator.String(),
		"account", target.String(),
		"asset", cfg.Symbol,
		"debt_covered", debtToCover.String(),
		"seized", seize.String())
	return seize, nil
}

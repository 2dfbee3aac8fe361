package engine

import (
	"context"
	"fmt"
	"math/big"

	"go.opentelemetry.io/otel/attribute"

	"vaultd/crypto"
)

// DepositCollateral pulls collateral into custody and credits the account's
// ledger. Deposits need no health check; added collateral can only raise
// the ratio.
func (e *Engine) DepositCollateral(ctx context.Context, account crypto.Address, asset string, amount *big.Int) (err error) {
	if err = e.ready(); err != nil {
		return err
	}
	ctx, done := e.observe(ctx, "deposit_collateral", attribute.String("vault.asset", normaliseSymbol(asset)))
	defer func() { done(err) }()
	if err = Guard(e.pauses, FlowDeposit); err != nil {
		return err
	}
	if err = validateAmount(amount); err != nil {
		return err
	}
	cfg, err := e.assetFor(asset)
	if err != nil {
		return err
	}
	unlock := e.locks.lock(account)
	defer unlock()
	pos, err := e.loadPosition(account)
	if err != nil {
		return err
	}
	updated := pos.Clone()
	updated.addCollateral(cfg.Symbol, amount)
	// custody first: the ledger only records collateral the bank holds
	if err = e.bank.TransferIn(ctx, cfg.Symbol, account, amount); err != nil {
		err = fmt.Errorf("%w: %v", ErrTokenTransferFailed, err)
		return err
	}
	if err = e.state.PutPosition(account, updated); err != nil {
		if rbErr := e.bank.TransferOut(ctx, cfg.Symbol, account, amount); rbErr != nil {
			e.log.ErrorContext(ctx, "deposit rollback failed",
				"account", account.String(), "asset", cfg.Symbol, "error", rbErr)
		}
		err = fmt.Errorf("engine: persist position: %w", err)
		return err
	}
	e.emitter.Emit(CollateralDeposited{Account: account, Asset: cfg.Symbol, Amount: new(big.Int).Set(amount)})
	return nil
}

// MintZUSD issues new debt against the account's collateral. The debt is
// applied tentatively, the post-mint health factor is checked, and only a
// passing position is committed and backed by issued tokens.
func (e *Engine) MintZUSD(ctx context.Context, account crypto.Address, amount *big.Int) (err error) {
	if err = e.ready(); err != nil {
		return err
	}
	ctx, done := e.observe(ctx, "mint_zusd")
	defer func() { done(err) }()
	if err = Guard(e.pauses, FlowMint); err != nil {
		return err
	}
	if err = validateAmount(amount); err != nil {
		return err
	}
	unlock := e.locks.lock(account)
	defer unlock()
	pos, err := e.loadPosition(account)
	if err != nil {
		return err
	}
	updated := pos.Clone()
	updated.Debt.Add(updated.Debt, amount)
	view := e.newPriceView(ctx)
	ratio, err := e.healthFactorOf(view, updated)
	if err != nil {
		return err
	}
	if !healthy(ratio) {
		err = breaksHealthFactor(ratio)
		return err
	}
	if err = e.zusd.Mint(ctx, account, amount); err != nil {
		err = fmt.Errorf("%w: %v", ErrTokenTransferFailed, err)
		return err
	}
	if err = e.state.PutPosition(account, updated); err != nil {
		if rbErr := e.zusd.Burn(ctx, account, amount); rbErr != nil {
			e.log.ErrorContext(ctx, "mint rollback failed",
				"account", account.String(), "error", rbErr)
		}
		err = fmt.Errorf("engine: persist position: %w", err)
		return err
	}
	e.emitter.Emit(ZUSDMinted{Account: account, Amount: new(big.Int).Set(amount)})
	return nil
}

// DepositCollateralAndMintZUSD runs a deposit and a mint as one atomic
// unit. A mint that would break the health factor leaves no trace of the
// deposit either.
func (e *Engine) DepositCollateralAndMintZUSD(ctx context.Context, account crypto.Address, asset string, collateralAmount, mintAmount *big.Int) (err error) {
	if err = e.ready(); err != nil {
		return err
	}
	ctx, done := e.observe(ctx, "deposit_and_mint", attribute.String("vault.asset", normaliseSymbol(asset)))
	defer func() { done(err) }()
	if err = Guard(e.pauses, FlowDeposit); err != nil {
		return err
	}
	if err = Guard(e.pauses, FlowMint); err != nil {
		return err
	}
	if err = validateAmount(collateralAmount); err != nil {
		return err
	}
	if err = validateAmount(mintAmount); err != nil {
		return err
	}
	cfg, err := e.assetFor(asset)
	if err != nil {
		return err
	}
	unlock := e.locks.lock(account)
	defer unlock()
	pos, err := e.loadPosition(account)
	if err != nil {
		return err
	}
	updated := pos.Clone()
	updated.addCollateral(cfg.Symbol, collateralAmount)
	updated.Debt.Add(updated.Debt, mintAmount)
	view := e.newPriceView(ctx)
	ratio, err := e.healthFactorOf(view, updated)
	if err != nil {
		return err
	}
	if !healthy(ratio) {
		err = breaksHealthFactor(ratio)
		return err
	}
	if err = e.bank.TransferIn(ctx, cfg.Symbol, account, collateralAmount); err != nil {
		err = fmt.Errorf("%w: %v", ErrTokenTransferFailed, err)
		return err
	}
	if err = e.zusd.Mint(ctx, account, mintAmount); err != nil {
		if rbErr := e.bank.TransferOut(ctx, cfg.Symbol, account, collateralAmount); rbErr != nil {
			e.log.ErrorContext(ctx, "deposit rollback failed",
				"account", account.String(), "asset", cfg.Symbol, "error", rbErr)
		}
		err = fmt.Errorf("%w: %v", ErrTokenTransferFailed, err)
		return err
	}
	if err = e.state.PutPosition(account, updated); err != nil {
		if rbErr := e.zusd.Burn(ctx, account, mintAmount); rbErr != nil {
			e.log.ErrorContext(ctx, "mint rollback failed",
				"account", account.String(), "error", rbErr)
		}
		if rbErr := e.bank.TransferOut(ctx, cfg.Symbol, account, collateralAmount); rbErr != nil {
			e.log.ErrorContext(ctx, "deposit rollback failed",
				"account", account.String(), "asset", cfg.Symbol, "error", rbErr)
		}
		err = fmt.Errorf("engine: persist position: %w", err)
		return err
	}
	e.emitter.Emit(CollateralDeposited{Account: account, Asset: cfg.Symbol, Amount: new(big.Int).Set(collateralAmount)})
	e.emitter.Emit(ZUSDMinted{Account: account, Amount: new(big.Int).Set(mintAmount)})
	return nil
}

// BurnZUSD repays debt by retiring tokens from the account's own wallet.
// Burning can only raise the health factor, so no check runs.
func (e *Engine) BurnZUSD(ctx context.Context, account crypto.Address, amount *big.Int) (err error) {
	if err = e.ready(); err != nil {
		return err
	}
	ctx, done := e.observe(ctx, "burn_zusd")
	defer func() { done(err) }()
	if err = Guard(e.pauses, FlowBurn); err != nil {
		return err
	}
	if err = validateAmount(amount); err != nil {
		return err
	}
	unlock := e.locks.lock(account)
	defer unlock()
	pos, err := e.loadPosition(account)
	if err != nil {
		return err
	}
	if pos.Debt.Cmp(amount) < 0 {
		err = ErrBurnExceedsBalance
		return err
	}
	updated := pos.Clone()
	updated.Debt.Sub(updated.Debt, amount)
	if err = e.zusd.Burn(ctx, account, amount); err != nil {
		err = fmt.Errorf("%w: %v", ErrTokenTransferFailed, err)
		return err
	}
	if err = e.state.PutPosition(account, updated); err != nil {
		if rbErr := e.zusd.Mint(ctx, account, amount); rbErr != nil {
			e.log.ErrorContext(ctx, "burn rollback failed",
				"account", account.String(), "error", rbErr)
		}
		err = fmt.Errorf("engine: persist position: %w", err)
		return err
	}
	e.emitter.Emit(ZUSDBurned{Account: account, Amount: new(big.Int).Set(amount)})
	return nil
}

// RedeemCollateral withdraws collateral back to the account's wallet. The
// decrement is persisted only after the post-redeem health check passes;
// custody is released last, with the ledger restored if the release fails.
func (e *Engine) RedeemCollateral(ctx context.Context, account crypto.Address, asset string, amount *big.Int) (err error) {
	if err = e.ready(); err != nil {
		return err
	}
	ctx, done := e.observe(ctx, "redeem_collateral", attribute.String("vault.asset", normaliseSymbol(asset)))
	defer func() { done(err) }()
	if err = Guard(e.pauses, FlowRedeem); err != nil {
		return err
	}
	if err = validateAmount(amount); err != nil {
		return err
	}
	cfg, err := e.assetFor(asset)
	if err != nil {
		return err
	}
	unlock := e.locks.lock(account)
	defer unlock()
	pos, err := e.loadPosition(account)
	if err != nil {
		return err
	}
	if pos.CollateralBalance(cfg.Symbol).Cmp(amount) < 0 {
		err = ErrRedeemExceedsCollateral
		return err
	}
	updated := pos.Clone()
	updated.subCollateral(cfg.Symbol, amount)
	view := e.newPriceView(ctx)
	ratio, err := e.healthFactorOf(view, updated)
	if err != nil {
		return err
	}
	if !healthy(ratio) {
		err = breaksHealthFactor(ratio)
		return err
	}
	if err = e.state.PutPosition(account, updated); err != nil {
		err = fmt.Errorf("engine: persist position: %w", err)
		return err
	}
	if err = e.bank.TransferOut(ctx, cfg.Symbol, account, amount); err != nil {
		// custody never moved; restore the ledger entry
		if rbErr := e.state.PutPosition(account, pos); rbErr != nil {
			e.log.ErrorContext(ctx, "redeem rollback failed",
				"account", account.String(), "asset", cfg.Symbol, "error", rbErr)
		}
		err = fmt.Errorf("%w: %v", ErrTokenTransferFailed, err)
		return err
	}
	e.emitter.Emit(CollateralRedeemed{Account: account, Asset: cfg.Symbol, Amount: new(big.Int).Set(amount)})
	return nil
}

// RedeemCollateralAndMintZUSD withdraws collateral and mints debt as one
// atomic unit. Both legs cut into the margin, so a single post-state health
// check covers them together.
func (e *Engine) RedeemCollateralAndMintZUSD(ctx context.Context, account crypto.Address, asset string, redeemAmount, mintAmount *big.Int) (err error) {
	if err = e.ready(); err != nil {
		return err
	}
	ctx, done := e.observe(ctx, "redeem_and_mint", attribute.String("vault.asset", normaliseSymbol(asset)))
	defer func() { done(err) }()
	if err = Guard(e.pauses, FlowRedeem); err != nil {
		return err
	}
	if err = Guard(e.pauses, FlowMint); err != nil {
		return err
	}
	if err = validateAmount(redeemAmount); err != nil {
		return err
	}
	if err = validateAmount(mintAmount); err != nil {
		return err
	}
	cfg, err := e.assetFor(asset)
	if err != nil {
		return err
	}
	unlock := e.locks.lock(account)
	defer unlock()
	pos, err := e.loadPosition(account)
	if err != nil {
		return err
	}
	if pos.CollateralBalance(cfg.Symbol).Cmp(redeemAmount) < 0 {
		err = ErrRedeemExceedsCollateral
		return err
	}
	updated := pos.Clone()
	updated.subCollateral(cfg.Symbol, redeemAmount)
	updated.Debt.Add(updated.Debt, mintAmount)
	view := e.newPriceView(ctx)
	ratio, err := e.healthFactorOf(view, updated)
	if err != nil {
		return err
	}
	if !healthy(ratio) {
		err = breaksHealthFactor(ratio)
		return err
	}
	if err = e.state.PutPosition(account, updated); err != nil {
		err = fmt.Errorf("engine: persist position: %w", err)
		return err
	}
	if err = e.bank.TransferOut(ctx, cfg.Symbol, account, redeemAmount); err != nil {
		if rbErr := e.state.PutPosition(account, pos); rbErr != nil {
			e.log.ErrorContext(ctx, "redeem rollback failed",
				"account", account.String(), "asset", cfg.Symbol, "error", rbErr)
		}
		err = fmt.Errorf("%w: %v", ErrTokenTransferFailed, err)
		return err
	}
	if err = e.zusd.Mint(ctx, account, mintAmount); err != nil {
		if rbErr := e.bank.TransferIn(ctx, cfg.Symbol, account, redeemAmount); rbErr != nil {
			e.log.ErrorContext(ctx, "redeem rollback failed",
				"account", account.String(), "asset", cfg.Symbol, "error", rbErr)
		}
		if rbErr := e.state.PutPosition(account, pos); rbErr != nil {
			e.log.ErrorContext(ctx, "redeem rollback failed",
				"account", account.String(), "asset", cfg.Symbol, "error", rbErr)
		}
		err = fmt.Errorf("%w: %v", ErrTokenTransferFailed, err)
		return err
	}
	e.emitter.Emit(CollateralRedeemed{Account: account, Asset: cfg.Symbol, Amount: new(big.Int).Set(redeemAmount)})
	e.emitter.Emit(ZUSDMinted{Account: account, Amount: new(big.Int).Set(mintAmount)})
	return nil
}

// RedeemCollateralForZUSD burns debt and withdraws collateral as one atomic
// unit, the usual exit path: the burn makes room for the withdrawal.
func (e *Engine) RedeemCollateralForZUSD(ctx context.Context, account crypto.Address, asset string, collateralAmount, burnAmount *big.Int) (err error) {
	if err = e.ready(); err != nil {
		return err
	}
	ctx, done := e.observe(ctx, "redeem_for_zusd", attribute.String("vault.asset", normaliseSymbol(asset)))
	defer func() { done(err) }()
	if err = Guard(e.pauses, FlowBurn); err != nil {
		return err
	}
	if err = Guard(e.pauses, FlowRedeem); err != nil {
		return err
	}
	if err = validateAmount(collateralAmount); err != nil {
		return err
	}
	if err = validateAmount(burnAmount); err != nil {
		return err
	}
	cfg, err := e.assetFor(asset)
	if err != nil {
		return err
	}
	unlock := e.locks.lock(account)
	defer unlock()
	pos, err := e.loadPosition(account)
	if err != nil {
		return err
	}
	if pos.Debt.Cmp(burnAmount) < 0 {
		err = ErrBurnExceedsBalance
		return err
	}
	if pos.CollateralBalance(cfg.Symbol).Cmp(collateralAmount) < 0 {
		err = ErrRedeemExceedsCollateral
		return err
	}
	updated := pos.Clone()
	updated.Debt.Sub(updated.Debt, burnAmount)
	updated.subCollateral(cfg.Symbol, collateralAmount)
	view := e.newPriceView(ctx)
	ratio, err := e.healthFactorOf(view, updated)
	if err != nil {
		return err
	}
	if !healthy(ratio) {
		err = breaksHealthFactor(ratio)
		return err
	}
	if err = e.zusd.Burn(ctx, account, burnAmount); err != nil {
		err = fmt.Errorf("%w: %v", ErrTokenTransferFailed, err)
		return err
	}
	if err = e.state.PutPosition(account, updated); err != nil {
		if rbErr := e.zusd.Mint(ctx, account, burnAmount); rbErr != nil {
			e.log.ErrorContext(ctx, "burn rollback failed",
				"account", account.String(), "error", rbErr)
		}
		err = fmt.Errorf("engine: persist position: %w", err)
		return err
	}
	if err = e.bank.TransferOut(ctx, cfg.Symbol, account, collateralAmount); err != nil {
		if rbErr := e.state.PutPosition(account, pos); rbErr != nil {
			e.log.ErrorContext(ctx, "redeem rollback failed",
				"account", account.String(), "asset", cfg.Symbol, "error", rbErr)
		}
		if rbErr := e.zusd.Mint(ctx, account, burnAmount); rbErr != nil {
			e.log.ErrorContext(ctx, "burn rollback failed",
				"account", account.String(), "error", rbErr)
		}
		err = fmt.Errorf("%w: %v", ErrTokenTransferFailed, err)
		return err
	}
	e.emitter.Emit(ZUSDBurned{Account: account, Amount: new(big.Int).Set(burnAmount)})
	e.emitter.Emit(CollateralRedeemed{Account: account, Asset: cfg.Symbol, Amount: new(big.Int).Set(collateralAmount)})
	return nil
}

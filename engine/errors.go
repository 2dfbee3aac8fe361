package engine

import (
	"errors"
	"fmt"
	"math/big"

	"vaultd/oracle"
)

var (
	errNotReady = errors.New("engine: not initialised")

	// ErrAmountZero rejects zero, negative, or absent amounts.
	ErrAmountZero = errors.New("engine: amount must be positive")
	// ErrAssetNotAllowed rejects assets outside the registered collateral set.
	ErrAssetNotAllowed = errors.New("engine: collateral asset not allowed")
	// ErrAssetFeedLengthMismatch rejects construction when the asset and
	// feed lists do not pair up index by index.
	ErrAssetFeedLengthMismatch = errors.New("engine: asset and feed lists must have equal length")
	// ErrRedeemExceedsCollateral rejects withdrawals larger than the
	// account's deposited balance for that asset.
	ErrRedeemExceedsCollateral = errors.New("engine: redeem amount exceeds collateral balance")
	// ErrBurnExceedsBalance rejects repayments larger than the outstanding
	// debt they are applied against.
	ErrBurnExceedsBalance = errors.New("engine: burn amount exceeds outstanding debt")
	// ErrHealthFactorOk rejects liquidation of a position that is not
	// below the minimum health factor.
	ErrHealthFactorOk = errors.New("engine: health factor not below liquidation threshold")
	// ErrHealthFactorNotImproved rejects a liquidation that would not
	// strictly raise the target's health factor.
	ErrHealthFactorNotImproved = errors.New("engine: liquidation would not improve health factor")
	// ErrInsufficientCollateral rejects a liquidation whose seizure,
	// bonus included, exceeds the target's deposited balance.
	ErrInsufficientCollateral = errors.New("engine: insufficient collateral to seize")
	// ErrTokenTransferFailed wraps collaborator mint, burn, and custody
	// transfer failures.
	ErrTokenTransferFailed = errors.New("engine: token transfer failed")
	// ErrPaused rejects operations on an administratively paused flow.
	ErrPaused = errors.New("engine: flow paused")
)

// BreaksHealthFactorError reports an operation that would leave a position
// below the minimum health factor. It carries the offending ratio so callers
// can surface how far the position fell short.
type BreaksHealthFactorError struct {
	HealthFactor *big.Int
}

func (e *BreaksHealthFactorError) Error() string {
	if e == nil || e.HealthFactor == nil {
		return "engine: operation breaks health factor"
	}
	return fmt.Sprintf("engine: operation breaks health factor (ratio %s)", e.HealthFactor.String())
}

func breaksHealthFactor(ratio *big.Int) error {
	clone := new(big.Int)
	if ratio != nil {
		clone.Set(ratio)
	}
	return &BreaksHealthFactorError{HealthFactor: clone}
}

// reasonFor maps an operation error onto a stable low-cardinality label for
// the failure counter.
func reasonFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAmountZero):
		return "amount_zero"
	case errors.Is(err, ErrAssetNotAllowed):
		return "asset_not_allowed"
	case errors.Is(err, ErrRedeemExceedsCollateral):
		return "redeem_exceeds_collateral"
	case errors.Is(err, ErrBurnExceedsBalance):
		return "burn_exceeds_balance"
	case errors.Is(err, ErrHealthFactorOk):
		return "health_factor_ok"
	case errors.Is(err, ErrHealthFactorNotImproved):
		return "health_factor_not_improved"
	case errors.Is(err, ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, ErrTokenTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrPaused):
		return "paused"
	case errors.Is(err, oracle.ErrStalePrice):
		return "stale_price"
	case errors.Is(err, oracle.ErrUnknownAsset):
		return "unknown_feed"
	}
	var breaks *BreaksHealthFactorError
	if errors.As(err, &breaks) {
		return "breaks_health_factor"
	}
	return "internal"
}

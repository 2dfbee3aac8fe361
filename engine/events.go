package engine

import (
	"math/big"

	"vaultd/crypto"
)

const (
	TypeCollateralDeposited = "vault.collateral_deposited"
	TypeZUSDMinted          = "vault.zusd_minted"
	TypeZUSDBurned          = "vault.zusd_burned"
	TypeCollateralRedeemed  = "vault.collateral_redeemed"
	TypePositionLiquidated  = "vault.position_liquidated"
)

// Event is a committed ledger mutation. Events are emitted after the state
// write succeeds, never for rolled-back operations.
type Event interface {
	EventType() string
	Attributes() map[string]string
}

// Emitter receives committed events. Implementations must not block the
// calling operation for long; slow sinks should buffer internally.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter drops every event.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}

// Fanout delivers each event to every non-nil emitter in order.
func Fanout(emitters ...Emitter) Emitter {
	out := make(multiEmitter, 0, len(emitters))
	for _, em := range emitters {
		if em != nil {
			out = append(out, em)
		}
	}
	return out
}

type multiEmitter []Emitter

func (m multiEmitter) Emit(ev Event) {
	for _, em := range m {
		em.Emit(ev)
	}
}

type CollateralDeposited struct {
	Account crypto.Address
	Asset   string
	Amount  *big.Int
}

func (CollateralDeposited) EventType() string { return TypeCollateralDeposited }

func (e CollateralDeposited) Attributes() map[string]string {
	return map[string]string{
		"account": e.Account.String(),
		"asset":   e.Asset,
		"amount":  bigString(e.Amount),
	}
}

type ZUSDMinted struct {
	Account crypto.Address
	Amount  *big.Int
}

func (ZUSDMinted) EventType() string { return TypeZUSDMinted }

func (e ZUSDMinted) Attributes() map[string]string {
	return map[string]string{
		"account": e.Account.String(),
		"amount":  bigString(e.Amount),
	}
}

type ZUSDBurned struct {
	Account crypto.Address
	Amount  *big.Int
}

func (ZUSDBurned) EventType() string { return TypeZUSDBurned }

func (e ZUSDBurned) Attributes() map[string]string {
	return map[string]string{
		"account": e.Account.String(),
		"amount":  bigString(e.Amount),
	}
}

type CollateralRedeemed struct {
	Account crypto.Address
	Asset   string
	Amount  *big.Int
}

func (CollateralRedeemed) EventType() string { return TypeCollateralRedeemed }

func (e CollateralRedeemed) Attributes() map[string]string {
	return map[string]string{
		"account": e.Account.String(),
		"asset":   e.Asset,
		"amount":  bigString(e.Amount),
	}
}

type PositionLiquidated struct {
	Liquidator  crypto.Address
	Account     crypto.Address
	Asset       string
	DebtCovered *big.Int
	Seized      *big.Int
	StartHealth *big.Int
	EndHealth   *big.Int
}

func (PositionLiquidated) EventType() string { return TypePositionLiquidated }

func (e PositionLiquidated) Attributes() map[string]string {
	return map[string]string{
		"liquidator":   e.Liquidator.String(),
		"account":      e.Account.String(),
		"asset":        e.Asset,
		"debt_covered": bigString(e.DebtCovered),
		"seized":       bigString(e.Seized),
		"start_health": bigString(e.StartHealth),
		"end_health":   bigString(e.EndHealth),
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

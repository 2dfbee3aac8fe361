// Package engine owns the collateral and debt ledger for every vault
// account. Every mutation is validated, applied tentatively, checked against
// the health-factor invariant, and only then committed; failures leave the
// ledger exactly as it was.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"vaultd/crypto"
	"vaultd/observability"
	"vaultd/oracle"
)

// Engine enforces overcollateralisation across deposits, mints, burns,
// redemptions, and liquidations. Collaborators are attached with setters
// after construction; operations fail with a not-ready error until state,
// prices, token, and bank are all present.
type Engine struct {
	state   State
	prices  PriceSource
	zusd    LiabilityToken
	bank    CollateralBank
	emitter Emitter
	pauses  PauseView

	assets map[string]Asset
	feeds  map[string]oracle.FeedSpec
	order  []string
	scale  map[string]*big.Int

	locks   *accountLocks
	tracer  trace.Tracer
	metrics *observability.EngineMetrics
	log     *slog.Logger
	clock   func() time.Time
}

// NewEngine registers the collateral assets with their price feeds. The two
// lists pair up index by index and must have equal length.
func NewEngine(assets []Asset, feeds []oracle.FeedSpec) (*Engine, error) {
	if len(assets) != len(feeds) {
		return nil, ErrAssetFeedLengthMismatch
	}
	e := &Engine{
		assets:  make(map[string]Asset, len(assets)),
		feeds:   make(map[string]oracle.FeedSpec, len(assets)),
		order:   make([]string, 0, len(assets)),
		scale:   make(map[string]*big.Int, len(assets)),
		emitter: NoopEmitter{},
		locks:   newAccountLocks(),
		tracer:  otel.Tracer("vaultd/engine"),
		metrics: observability.Engine(),
		log:     slog.Default(),
		clock:   time.Now,
	}
	for i, asset := range assets {
		symbol := normaliseSymbol(asset.Symbol)
		if symbol == "" {
			return nil, fmt.Errorf("engine: asset %d has an empty symbol", i)
		}
		if _, exists := e.assets[symbol]; exists {
			return nil, fmt.Errorf("engine: duplicate collateral asset %s", symbol)
		}
		if strings.TrimSpace(feeds[i].ID) == "" {
			return nil, fmt.Errorf("engine: asset %s has an empty feed id", symbol)
		}
		e.assets[symbol] = Asset{Symbol: symbol, Decimals: asset.Decimals}
		e.feeds[symbol] = feeds[i]
		e.order = append(e.order, symbol)
		e.scale[symbol] = new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(asset.Decimals)), nil)
	}
	return e, nil
}

// SetState wires the position store.
func (e *Engine) SetState(state State) {
	if e != nil {
		e.state = state
	}
}

// SetPriceSource wires the oracle view used for all valuations.
func (e *Engine) SetPriceSource(src PriceSource) {
	if e != nil {
		e.prices = src
	}
}

// SetLiability wires the ZUSD token collaborator.
func (e *Engine) SetLiability(token LiabilityToken) {
	if e != nil {
		e.zusd = token
	}
}

// SetCollateralBank wires the custody collaborator.
func (e *Engine) SetCollateralBank(bank CollateralBank) {
	if e != nil {
		e.bank = bank
	}
}

// SetEmitter wires the event sink. A nil emitter restores the no-op sink.
func (e *Engine) SetEmitter(em Emitter) {
	if e == nil {
		return
	}
	if em == nil {
		em = NoopEmitter{}
	}
	e.emitter = em
}

// SetPauses wires the administrative pause view.
func (e *Engine) SetPauses(p PauseView) {
	if e != nil {
		e.pauses = p
	}
}

// SetLogger overrides the default logger.
func (e *Engine) SetLogger(log *slog.Logger) {
	if e != nil && log != nil {
		e.log = log
	}
}

// SetClock overrides the wall clock, used by tests for deterministic
// latency observations.
func (e *Engine) SetClock(clock func() time.Time) {
	if e != nil && clock != nil {
		e.clock = clock
	}
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil || e.prices == nil || e.zusd == nil || e.bank == nil {
		return errNotReady
	}
	return nil
}

// observe starts a span and returns the completion hook that closes it and
// records the latency and outcome counters.
func (e *Engine) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := e.clock()
	ctx, span := e.tracer.Start(ctx, "vault."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		e.metrics.Observe(op, e.clock().Sub(start), reasonFor(err))
	}
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func validateAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountZero
	}
	return nil
}

func (e *Engine) assetFor(symbol string) (Asset, error) {
	asset, ok := e.assets[normaliseSymbol(symbol)]
	if !ok {
		return Asset{}, ErrAssetNotAllowed
	}
	return asset, nil
}

func (e *Engine) loadPosition(addr crypto.Address) (*Position, error) {
	pos, err := e.state.Position(addr)
	if err != nil {
		return nil, fmt.Errorf("engine: load position: %w", err)
	}
	if pos == nil {
		return NewPosition(), nil
	}
	return pos.Clone(), nil
}

// usdValue converts a native token amount to 1e18 USD using the cached
// quote: amount * price / 10^decimals.
func (e *Engine) usdValue(view *priceView, symbol string, amount *big.Int) (*big.Int, error) {
	price, err := view.price(symbol)
	if err != nil {
		return nil, err
	}
	value := new(big.Int).Mul(price, amount)
	return value.Quo(value, e.scale[symbol]), nil
}

// tokenAmountFromUSD inverts usdValue: usd * 10^decimals / price, floored.
func (e *Engine) tokenAmountFromUSD(view *priceView, symbol string, usd *big.Int) (*big.Int, error) {
	price, err := view.price(symbol)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int).Mul(usd, e.scale[symbol])
	return amount.Quo(amount, price), nil
}

func (e *Engine) collateralValue(view *priceView, pos *Position) (*big.Int, error) {
	total := new(big.Int)
	if pos == nil {
		return total, nil
	}
	for _, symbol := range e.order {
		amount, ok := pos.Collateral[symbol]
		if !ok || amount == nil || amount.Sign() == 0 {
			continue
		}
		value, err := e.usdValue(view, symbol, amount)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}

// healthFactorOf values the position under the view's snapshot. Zero debt
// short-circuits to MaxHealthFactor without touching the oracle, so a
// debt-free account stays readable even when every feed is stale.
func (e *Engine) healthFactorOf(view *priceView, pos *Position) (*big.Int, error) {
	if pos == nil || pos.Debt == nil || pos.Debt.Sign() == 0 {
		return new(big.Int).Set(MaxHealthFactor), nil
	}
	value, err := e.collateralValue(view, pos)
	if err != nil {
		return nil, err
	}
	return HealthFactor(pos.Debt, value), nil
}

// FeedBindings derives the oracle poll set from the collateral registry, in
// registration order.
func (e *Engine) FeedBindings() []oracle.Binding {
	if e == nil {
		return nil
	}
	out := make([]oracle.Binding, 0, len(e.order))
	for _, symbol := range e.order {
		out = append(out, oracle.Binding{Asset: symbol, Feed: e.feeds[symbol]})
	}
	return out
}

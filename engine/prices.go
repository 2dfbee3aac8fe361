package engine

import (
	"context"
	"math/big"

	"vaultd/oracle"
)

// priceView caches one quote per asset for the duration of a single
// operation, so every valuation inside it sees the same snapshot even if
// the oracle updates mid-flight.
type priceView struct {
	ctx    context.Context
	source PriceSource
	quotes map[string]oracle.Quote
}

func (e *Engine) newPriceView(ctx context.Context) *priceView {
	return &priceView{ctx: ctx, source: e.prices, quotes: make(map[string]oracle.Quote)}
}

func (v *priceView) price(asset string) (*big.Int, error) {
	if quote, ok := v.quotes[asset]; ok {
		return quote.Price, nil
	}
	if v.source == nil {
		return nil, errNotReady
	}
	quote, err := v.source.Price(v.ctx, asset)
	if err != nil {
		return nil, err
	}
	if quote.Price == nil || quote.Price.Sign() <= 0 {
		return nil, oracle.ErrStalePrice
	}
	v.quotes[asset] = quote
	return quote.Price, nil
}

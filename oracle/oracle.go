// Package oracle provides the price plumbing for the vault engine: a
// staleness-guarded aggregator the engine reads through, pluggable upstream
// feed sources, and a background manager that polls and medianises them.
package oracle

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"
)

// StalenessWindow is the default maximum age of a quote before the aggregator
// refuses to serve it.
const StalenessWindow = 3 * time.Hour

var (
	// ErrStalePrice marks a quote older than the staleness window or one whose
	// price is non-positive.
	ErrStalePrice = errors.New("oracle: stale or invalid price")
	// ErrUnknownAsset marks a lookup for an asset with no recorded feed.
	ErrUnknownAsset = errors.New("oracle: unknown asset")
)

var pricePrecision = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Quote is a normalised price point: USD per whole asset unit scaled to 1e18,
// stamped with the moment the upstream feed last updated it.
type Quote struct {
	Price     *big.Int
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy so callers can retain quotes safely.
func (q Quote) Clone() Quote {
	out := Quote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Price != nil {
		out.Price = new(big.Int).Set(q.Price)
	}
	return out
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// Aggregator keeps the latest accepted quote per asset and serves reads with
// staleness validation. The manager (or tests) writes; the engine's valuation
// paths read.
type Aggregator struct {
	mu     sync.RWMutex
	maxAge time.Duration
	clock  func() time.Time
	quotes map[string]Quote
}

// NewAggregator constructs an aggregator enforcing the supplied staleness
// window. Non-positive windows fall back to StalenessWindow.
func NewAggregator(maxAge time.Duration) *Aggregator {
	if maxAge <= 0 {
		maxAge = StalenessWindow
	}
	return &Aggregator{
		maxAge: maxAge,
		clock:  time.Now,
		quotes: make(map[string]Quote),
	}
}

// SetClock overrides the time source. Tests use it to pin staleness checks.
func (a *Aggregator) SetClock(clock func() time.Time) {
	if a == nil || clock == nil {
		return
	}
	a.mu.Lock()
	a.clock = clock
	a.mu.Unlock()
}

// Record stores a quote for the asset, replacing any previous one. Invalid
// quotes are rejected so a bad poll can never shadow a good price.
func (a *Aggregator) Record(asset string, quote Quote) error {
	if a == nil {
		return errors.New("oracle: aggregator not configured")
	}
	symbol := normaliseSymbol(asset)
	if symbol == "" {
		return ErrUnknownAsset
	}
	if quote.Price == nil || quote.Price.Sign() <= 0 {
		return ErrStalePrice
	}
	if quote.Timestamp.IsZero() {
		return ErrStalePrice
	}
	a.mu.Lock()
	a.quotes[symbol] = quote.Clone()
	a.mu.Unlock()
	return nil
}

// Price returns the latest quote for the asset. It fails closed: a missing
// feed yields ErrUnknownAsset, and a non-positive price or one older than the
// staleness window yields ErrStalePrice. A quote aged exactly the window is
// still served.
func (a *Aggregator) Price(_ context.Context, asset string) (Quote, error) {
	if a == nil {
		return Quote{}, errors.New("oracle: aggregator not configured")
	}
	symbol := normaliseSymbol(asset)
	a.mu.RLock()
	quote, ok := a.quotes[symbol]
	maxAge := a.maxAge
	clock := a.clock
	a.mu.RUnlock()
	if !ok {
		return Quote{}, ErrUnknownAsset
	}
	if quote.Price == nil || quote.Price.Sign() <= 0 {
		return Quote{}, ErrStalePrice
	}
	cutoff := clock().Add(-maxAge)
	if quote.Timestamp.Before(cutoff) {
		return Quote{}, ErrStalePrice
	}
	return quote.Clone(), nil
}

// Assets lists the symbols currently carrying a quote, sorted for determinism.
func (a *Aggregator) Assets() []string {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.quotes))
	for symbol := range a.quotes {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

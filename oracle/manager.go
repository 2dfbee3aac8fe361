package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"vaultd/observability"
)

// Binding ties a vault collateral asset to its upstream feed.
type Binding struct {
	Asset string
	Feed  FeedSpec
}

// SampleRecord is the audit row for one accepted source observation.
type SampleRecord struct {
	Asset      string
	Feed       string
	Source     string
	Price      *big.Int
	ObservedAt time.Time
	RecordedAt time.Time
}

// SampleRecorder persists accepted samples for audit.
type SampleRecorder interface {
	RecordOracleSample(ctx context.Context, rec SampleRecord) error
}

// Manager polls the configured sources on an interval, medianises the
// accepted samples per asset, and records the result into the aggregator.
type Manager struct {
	log      *slog.Logger
	agg      *Aggregator
	sources  []Source
	bindings []Binding
	interval time.Duration
	maxAge   time.Duration
	minFeeds int
	recorder SampleRecorder
	metrics  *observability.OracleMetrics
	clock    func() time.Time
	once     sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithRecorder installs a sample recorder, typically the audit journal.
func WithRecorder(r SampleRecorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// WithClock overrides the time source for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewManager constructs a manager. maxAge bounds the age of source samples
// accepted during a poll; minFeeds is the quorum required to publish a
// median.
func NewManager(agg *Aggregator, sources []Source, bindings []Binding, interval, maxAge time.Duration, minFeeds int, opts ...Option) (*Manager, error) {
	if agg == nil {
		return nil, fmt.Errorf("oracle: aggregator required")
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("oracle: at least one source required")
	}
	if len(bindings) == 0 {
		return nil, fmt.Errorf("oracle: at least one feed binding required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("oracle: poll interval must be positive")
	}
	if maxAge <= 0 {
		maxAge = time.Minute
	}
	if minFeeds <= 0 {
		minFeeds = 1
	}
	mgr := &Manager{
		log:      slog.Default(),
		agg:      agg,
		sources:  append([]Source{}, sources...),
		bindings: append([]Binding{}, bindings...),
		interval: interval,
		maxAge:   maxAge,
		minFeeds: minFeeds,
		metrics:  observability.Oracle(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(mgr)
		}
	}
	return mgr, nil
}

// Run blocks, polling upstream feeds until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("oracle: manager not configured")
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.once.Do(func() {
		m.log.Info("oracle manager started", "sources", len(m.sources), "feeds", len(m.bindings))
	})
	for {
		if err := m.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.log.Error("oracle tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one aggregation cycle across all bindings. A failing feed does
// not stop the remaining feeds from updating; the first failure is returned.
func (m *Manager) Tick(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("oracle: manager not configured")
	}
	var firstErr error
	for _, binding := range m.bindings {
		if err := m.poll(ctx, binding); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *Manager) poll(ctx context.Context, binding Binding) error {
	asset := normaliseSymbol(binding.Asset)
	feedID := strings.TrimSpace(binding.Feed.ID)
	if asset == "" || feedID == "" {
		return fmt.Errorf("oracle: invalid feed binding")
	}
	now := m.clock()
	rates := make([]*big.Rat, 0, len(m.sources))
	names := make([]string, 0, len(m.sources))
	var latest time.Time
	for _, src := range m.sources {
		if src == nil {
			continue
		}
		sample, err := src.Fetch(ctx, feedID)
		if err != nil {
			m.metrics.ObserveSourceError(src.Name())
			m.log.Warn("oracle source failed", "source", src.Name(), "feed", feedID, "error", err)
			continue
		}
		if sample.Rate == nil || sample.Rate.Sign() <= 0 {
			m.log.Warn("oracle source returned invalid rate", "source", src.Name(), "feed", feedID)
			continue
		}
		if sample.Timestamp.After(now.Add(5 * time.Second)) {
			m.log.Warn("oracle source produced future timestamp", "source", src.Name(), "feed", feedID)
			continue
		}
		if sample.Timestamp.Before(now.Add(-m.maxAge)) {
			m.log.Warn("oracle source sample expired", "source", src.Name(), "feed", feedID)
			continue
		}
		rates = append(rates, new(big.Rat).Set(sample.Rate))
		names = append(names, src.Name())
		if sample.Timestamp.After(latest) {
			latest = sample.Timestamp
		}
		m.metrics.ObserveSample(asset, src.Name())
		if m.recorder != nil {
			rec := SampleRecord{
				Asset:      asset,
				Feed:       feedID,
				Source:     src.Name(),
				Price:      ratToPrice(sample.Rate),
				ObservedAt: sample.Timestamp,
				RecordedAt: now,
			}
			if err := m.recorder.RecordOracleSample(ctx, rec); err != nil {
				m.log.Warn("record oracle sample", "feed", feedID, "error", err)
			}
		}
	}
	if len(rates) < m.minFeeds {
		m.metrics.SetFeedHealthy(asset, false)
		return fmt.Errorf("oracle: insufficient feeds for %s (%d < %d)", asset, len(rates), m.minFeeds)
	}
	median := medianRat(rates)
	if median == nil || median.Sign() <= 0 {
		m.metrics.SetFeedHealthy(asset, false)
		return fmt.Errorf("oracle: median computation failed for %s", asset)
	}
	price := ratToPrice(median)
	quote := Quote{Price: price, Timestamp: latest, Source: strings.Join(names, ",")}
	if err := m.agg.Record(asset, quote); err != nil {
		m.metrics.SetFeedHealthy(asset, false)
		return fmt.Errorf("oracle: record quote for %s: %w", asset, err)
	}
	m.metrics.SetFeedPrice(asset, price)
	m.metrics.SetFeedHealthy(asset, true)
	return nil
}

// medianRat returns the median of the rates; even-sized inputs average the
// two middle values.
func medianRat(rates []*big.Rat) *big.Rat {
	if len(rates) == 0 {
		return nil
	}
	sorted := make([]*big.Rat, 0, len(rates))
	for _, r := range rates {
		if r == nil {
			continue
		}
		sorted = append(sorted, new(big.Rat).Set(r))
	}
	if len(sorted) == 0 {
		return nil
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Cmp(sorted[j]) < 0
	})
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return new(big.Rat).Set(sorted[mid])
	}
	sum := new(big.Rat).Add(sorted[mid-1], sorted[mid])
	return sum.Quo(sum, big.NewRat(2, 1))
}

// ratToPrice scales a rational USD price to the canonical 1e18 integer form,
// truncating any remainder below 1e-18.
func ratToPrice(rate *big.Rat) *big.Int {
	if rate == nil {
		return nil
	}
	scaled := new(big.Rat).Mul(rate, new(big.Rat).SetInt(pricePrecision))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom())
}

package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// HTTPDoer captures the subset of http.Client the feed adapters need.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Sample is one raw observation from an upstream source, expressed as a
// rational USD price per whole asset unit.
type Sample struct {
	Rate      *big.Rat
	Timestamp time.Time
}

// Clone returns a deep copy of the sample.
func (s Sample) Clone() Sample {
	out := Sample{Timestamp: s.Timestamp}
	if s.Rate != nil {
		out.Rate = new(big.Rat).Set(s.Rate)
	}
	return out
}

// Source resolves the latest sample for a feed identifier.
type Source interface {
	Name() string
	Fetch(ctx context.Context, feedID string) (Sample, error)
}

// FeedSpec describes an upstream feed: its identifier and the decimal scale
// raw integer answers are expressed in.
type FeedSpec struct {
	ID       string
	Decimals uint8
}

// ManualSource serves operator-set samples. It backs tests and break-glass
// operation when upstream feeds are down.
type ManualSource struct {
	mu      sync.RWMutex
	name    string
	samples map[string]Sample
}

// NewManualSource constructs an empty manual source.
func NewManualSource(name string) *ManualSource {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		trimmed = "manual"
	}
	return &ManualSource{name: trimmed, samples: make(map[string]Sample)}
}

func (s *ManualSource) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Set installs the sample served for the feed.
func (s *ManualSource) Set(feedID string, sample Sample) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.samples[strings.TrimSpace(feedID)] = sample.Clone()
	s.mu.Unlock()
}

// SetAnswer installs a raw integer answer at the given decimal scale, the way
// round-data feeds report.
func (s *ManualSource) SetAnswer(feedID string, answer *big.Int, decimals uint8, ts time.Time) {
	if s == nil || answer == nil {
		return
	}
	rate := new(big.Rat).SetFrac(new(big.Int).Set(answer), pow10(decimals))
	s.Set(feedID, Sample{Rate: rate, Timestamp: ts})
}

func (s *ManualSource) Fetch(_ context.Context, feedID string) (Sample, error) {
	if s == nil {
		return Sample{}, errors.New("oracle: manual source not configured")
	}
	s.mu.RLock()
	sample, ok := s.samples[strings.TrimSpace(feedID)]
	s.mu.RUnlock()
	if !ok {
		return Sample{}, fmt.Errorf("oracle: no manual sample for feed %q", feedID)
	}
	return sample.Clone(), nil
}

// CoinGeckoSource adapts the public CoinGecko simple price API. Feed ids are
// CoinGecko asset identifiers (e.g. "ethereum").
type CoinGeckoSource struct {
	name     string
	client   HTTPDoer
	endpoint string
	apiKey   string
}

const defaultCoinGeckoEndpoint = "https://api.coingecko.com/api/v3/simple/price"

// NewCoinGeckoSource constructs the adapter. An empty endpoint selects the
// public API; a non-empty apiKey is forwarded as the pro API header.
func NewCoinGeckoSource(name string, client HTTPDoer, endpoint, apiKey string) *CoinGeckoSource {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultCoinGeckoEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		trimmed = "coingecko"
	}
	return &CoinGeckoSource{name: trimmed, client: client, endpoint: ep, apiKey: strings.TrimSpace(apiKey)}
}

func (s *CoinGeckoSource) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

func (s *CoinGeckoSource) Fetch(ctx context.Context, feedID string) (Sample, error) {
	if s == nil {
		return Sample{}, errors.New("oracle: coingecko source not configured")
	}
	id := strings.ToLower(strings.TrimSpace(feedID))
	if id == "" {
		return Sample{}, errors.New("oracle: coingecko source: empty feed id")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return Sample{}, err
	}
	values := url.Values{}
	values.Set("ids", id)
	values.Set("vs_currencies", "usd")
	values.Set("include_last_updated_at", "true")
	req.URL.RawQuery = values.Encode()
	if s.apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Sample{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Sample{}, fmt.Errorf("oracle: coingecko status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]interface{}
	if err := decoder.Decode(&payload); err != nil {
		return Sample{}, fmt.Errorf("oracle: coingecko decode: %w", err)
	}
	entry, ok := payload[id]
	if !ok {
		return Sample{}, fmt.Errorf("oracle: coingecko quote missing for %s", id)
	}
	priceStr := numberString(entry["usd"])
	if priceStr == "" {
		return Sample{}, fmt.Errorf("oracle: coingecko empty price for %s", id)
	}
	rate, ok := new(big.Rat).SetString(priceStr)
	if !ok || rate.Sign() <= 0 {
		return Sample{}, fmt.Errorf("oracle: coingecko invalid rate %q", priceStr)
	}
	ts := time.Now()
	if parsed := unixSeconds(entry["last_updated_at"]); parsed > 0 {
		ts = time.Unix(parsed, 0)
	}
	return Sample{Rate: rate, Timestamp: ts}, nil
}

func numberString(raw interface{}) string {
	switch v := raw.(type) {
	case json.Number:
		return v.String()
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

func unixSeconds(raw interface{}) int64 {
	switch v := raw.(type) {
	case json.Number:
		if parsed, err := v.Int64(); err == nil {
			return parsed
		}
	case string:
		if parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return parsed
		}
	case float64:
		return int64(v)
	}
	return 0
}

// FeedGatewaySource polls an internal price-feed gateway that mirrors
// round-data style feeds: integer answers at a per-feed decimal scale.
type FeedGatewaySource struct {
	name     string
	client   HTTPDoer
	baseURL  string
	apiKey   string
	decimals map[string]uint8
}

// NewFeedGatewaySource constructs the adapter for the given feed specs. The
// per-feed decimals are needed to interpret raw answers.
func NewFeedGatewaySource(name string, client HTTPDoer, baseURL, apiKey string, feeds []FeedSpec) (*FeedGatewaySource, error) {
	trimmedURL := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedURL == "" {
		return nil, errors.New("oracle: feed gateway requires an endpoint")
	}
	if client == nil {
		client = http.DefaultClient
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		trimmed = "gateway"
	}
	decimals := make(map[string]uint8, len(feeds))
	for _, spec := range feeds {
		id := strings.TrimSpace(spec.ID)
		if id == "" {
			continue
		}
		decimals[id] = spec.Decimals
	}
	return &FeedGatewaySource{
		name:     trimmed,
		client:   client,
		baseURL:  trimmedURL,
		apiKey:   strings.TrimSpace(apiKey),
		decimals: decimals,
	}, nil
}

func (s *FeedGatewaySource) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

type gatewayFeedPayload struct {
	Answer    string `json:"answer"`
	UpdatedAt int64  `json:"updatedAt"`
}

func (s *FeedGatewaySource) Fetch(ctx context.Context, feedID string) (Sample, error) {
	if s == nil {
		return Sample{}, errors.New("oracle: feed gateway not configured")
	}
	id := strings.TrimSpace(feedID)
	dec, ok := s.decimals[id]
	if !ok {
		return Sample{}, fmt.Errorf("oracle: feed gateway has no spec for %q", id)
	}
	endpoint := fmt.Sprintf("%s/v1/feeds/%s/latest", s.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Sample{}, err
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Sample{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Sample{}, fmt.Errorf("oracle: feed gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload gatewayFeedPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Sample{}, fmt.Errorf("oracle: feed gateway decode: %w", err)
	}
	answer, ok := new(big.Int).SetString(strings.TrimSpace(payload.Answer), 10)
	if !ok || answer.Sign() <= 0 {
		return Sample{}, fmt.Errorf("oracle: feed gateway invalid answer %q", payload.Answer)
	}
	if payload.UpdatedAt <= 0 {
		return Sample{}, errors.New("oracle: feed gateway missing update time")
	}
	rate := new(big.Rat).SetFrac(answer, pow10(dec))
	return Sample{Rate: rate, Timestamp: time.Unix(payload.UpdatedAt, 0)}, nil
}

// Registry builds sources from configuration entries.
type Registry struct {
	HTTPClient HTTPDoer
}

func (r *Registry) client() HTTPDoer {
	if r != nil && r.HTTPClient != nil {
		return r.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Build constructs the source described by a configuration entry. The feed
// specs are forwarded to adapters that need per-feed decimal scales.
func (r *Registry) Build(name, typ, endpoint, apiKey string, feeds []FeedSpec) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "coingecko":
		return NewCoinGeckoSource(name, r.client(), endpoint, apiKey), nil
	case "gateway":
		return NewFeedGatewaySource(name, r.client(), endpoint, apiKey, feeds)
	case "manual":
		return NewManualSource(name), nil
	default:
		return nil, fmt.Errorf("oracle: unsupported source type %q", typ)
	}
}

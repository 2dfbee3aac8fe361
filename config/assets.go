package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"vaultd/engine"
	"vaultd/oracle"
)

// AssetConfig declares one accepted collateral asset and the feed that
// prices it. FeedDecimals is the scale raw feed answers are expressed in.
type AssetConfig struct {
	Symbol       string `toml:"symbol"`
	Decimals     uint8  `toml:"decimals"`
	Feed         string `toml:"feed"`
	FeedDecimals uint8  `toml:"feed_decimals"`
}

// AssetFile is the TOML collateral registry.
type AssetFile struct {
	Assets []AssetConfig `toml:"asset"`
}

// LoadAssets reads the collateral registry from the supplied path. Unknown
// keys are rejected so typos cannot silently drop an asset parameter.
func LoadAssets(path string) (*AssetFile, error) {
	reg := &AssetFile{}
	meta, err := toml.DecodeFile(path, reg)
	if err != nil {
		return nil, fmt.Errorf("decode assets file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("assets file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := normaliseAssets(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func normaliseAssets(reg *AssetFile) error {
	if len(reg.Assets) == 0 {
		return fmt.Errorf("at least one collateral asset must be configured")
	}
	symbols := make(map[string]struct{}, len(reg.Assets))
	feeds := make(map[string]struct{}, len(reg.Assets))
	for i := range reg.Assets {
		asset := &reg.Assets[i]
		asset.Symbol = strings.ToUpper(strings.TrimSpace(asset.Symbol))
		if asset.Symbol == "" {
			return fmt.Errorf("collateral asset %d missing symbol", i)
		}
		if _, ok := symbols[asset.Symbol]; ok {
			return fmt.Errorf("duplicate collateral asset %s", asset.Symbol)
		}
		symbols[asset.Symbol] = struct{}{}
		asset.Feed = strings.TrimSpace(asset.Feed)
		if asset.Feed == "" {
			return fmt.Errorf("collateral asset %s missing feed", asset.Symbol)
		}
		if _, ok := feeds[asset.Feed]; ok {
			return fmt.Errorf("duplicate feed %s", asset.Feed)
		}
		feeds[asset.Feed] = struct{}{}
		if asset.FeedDecimals == 0 {
			asset.FeedDecimals = 8
		}
	}
	return nil
}

// EngineAssets converts the registry into the engine's asset list, keeping
// file order.
func (f *AssetFile) EngineAssets() []engine.Asset {
	if f == nil {
		return nil
	}
	out := make([]engine.Asset, 0, len(f.Assets))
	for _, asset := range f.Assets {
		out = append(out, engine.Asset{Symbol: asset.Symbol, Decimals: asset.Decimals})
	}
	return out
}

// FeedSpecs converts the registry into the feed list parallel to
// EngineAssets.
func (f *AssetFile) FeedSpecs() []oracle.FeedSpec {
	if f == nil {
		return nil
	}
	out := make([]oracle.FeedSpec, 0, len(f.Assets))
	for _, asset := range f.Assets {
		out = append(out, oracle.FeedSpec{ID: asset.Feed, Decimals: asset.FeedDecimals})
	}
	return out
}

// WriteDefaultAssets persists a starter registry with the common wrapped
// collateral pair.
func WriteDefaultAssets(path string) error {
	reg := AssetFile{Assets: []AssetConfig{
		{Symbol: "WETH", Decimals: 18, Feed: "eth-usd", FeedDecimals: 8},
		{Symbol: "WBTC", Decimals: 8, Feed: "btc-usd", FeedDecimals: 8},
	}}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(reg)
}

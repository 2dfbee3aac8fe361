package client

import (
	"context"
	"time"
)

// Position is the ledger snapshot echoed by mutating vault methods.
type Position struct {
	Address    string            `json:"address"`
	Debt       string            `json:"debt"`
	Collateral map[string]string `json:"collateral"`
}

// Account is the valued view of one vault account.
type Account struct {
	Address         string            `json:"address"`
	Debt            string            `json:"debt"`
	CollateralValue string            `json:"collateralValue"`
	HealthFactor    string            `json:"healthFactor"`
	Collateral      map[string]string `json:"collateral"`
	WalletZUSD      string            `json:"walletZusd,omitempty"`
}

// Asset describes one registered collateral asset.
type Asset struct {
	Symbol       string `json:"symbol"`
	Decimals     uint8  `json:"decimals"`
	Feed         string `json:"feed"`
	FeedDecimals uint8  `json:"feedDecimals"`
}

// Constants carries the protocol parameters.
type Constants struct {
	LiquidationThreshold int64  `json:"liquidationThreshold"`
	LiquidationPrecision int64  `json:"liquidationPrecision"`
	LiquidationBonus     int64  `json:"liquidationBonus"`
	Precision            string `json:"precision"`
	MinHealthFactor      string `json:"minHealthFactor"`
}

// Status reports aggregate protocol health.
type Status struct {
	Accounts             int      `json:"accounts"`
	TotalDebt            string   `json:"totalDebt"`
	TotalCollateralValue string   `json:"totalCollateralValue"`
	Solvent              bool     `json:"solvent"`
	PausedFlows          []string `json:"pausedFlows"`
}

// Operation is one journalled vault operation.
type Operation struct {
	Ref        string    `json:"ref"`
	Kind       string    `json:"kind"`
	Account    string    `json:"account"`
	Asset      string    `json:"asset,omitempty"`
	Amount     string    `json:"amount"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Liquidation is one journalled liquidation.
type Liquidation struct {
	Ref         string    `json:"ref"`
	Liquidator  string    `json:"liquidator"`
	Account     string    `json:"account"`
	Asset       string    `json:"asset"`
	DebtCovered string    `json:"debtCovered"`
	Seized      string    `json:"seized"`
	StartHealth string    `json:"startHealth"`
	EndHealth   string    `json:"endHealth"`
	RecordedAt  time.Time `json:"recordedAt"`
}

// LiquidationOutcome reports the result of a liquidation call.
type LiquidationOutcome struct {
	Liquidator  string `json:"liquidator"`
	Account     string `json:"account"`
	Asset       string `json:"asset"`
	DebtCovered string `json:"debtCovered"`
	Seized      string `json:"seized"`
}

// TokenBalance pairs an account's liability balance with the total supply.
type TokenBalance struct {
	Account     string `json:"account"`
	Balance     string `json:"balance"`
	TotalSupply string `json:"totalSupply"`
}

// DepositCollateral locks collateral into the account's vault position.
func (c *Client) DepositCollateral(ctx context.Context, account, asset, amount string) (*Position, error) {
	params := map[string]interface{}{"account": account, "asset": asset, "amount": amount}
	var out Position
	if err := c.call(ctx, "vault_depositCollateral", []interface{}{params}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MintZUSD mints liability tokens against the account's collateral.
func (c *Client) MintZUSD(ctx context.Context, account, amount string) (*Position, error) {
	params := map[string]interface{}{"account": account, "amount": amount}
	var out Position
	if err := c.call(ctx, "vault_mintZusd", []interface{}{params}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DepositAndMint performs a deposit followed by a mint in one call.
func (c *Client) DepositAndMint(ctx context.Context, account, asset, amount, mint string) (*Position, error) {
	params := map[string]interface{}{"account": account, "asset": asset, "amount": amount, "mint": mint}
	var out Position
	if err := c.call(ctx, "vault_depositAndMint", []interface{}{params}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BurnZUSD repays liability tokens from the account's wallet.
func (c *Client) BurnZUSD(ctx context.Context, account, amount string) (*Position, error) {
	params := map[string]interface{}{"account": account, "amount": amount}
	var out Position
	if err := c.call(ctx, "vault_burnZusd", []interface{}{params}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RedeemCollateral withdraws collateral from the account's vault position.
func (c *Client) RedeemCollateral(ctx context.Context, account, asset, amount string) (*Position, error) {
	params := map[string]interface{}{"account": account, "asset": asset, "amount": amount}
	var out Position
	if err := c.call(ctx, "vault_redeemCollateral", []interface{}{params}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RedeemAndMint withdraws collateral and mints in one call.
func (c *Client) RedeemAndMint(ctx context.Context, account, asset, amount, mint string) (*Position, error) {
	params := map[string]interface{}{"account": account, "asset": asset, "amount": amount, "mint": mint}
	var out Position
	if err := c.call(ctx, "vault_redeemAndMint", []interface{}{params}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RedeemForZUSD burns liability tokens and withdraws collateral in one call.
func (c *Client) RedeemForZUSD(ctx context.Context, account, asset, amount, burn string) (*Position, error) {
	params := map[string]interface{}{"account": account, "asset": asset, "amount": amount, "burn": burn}
	var out Position
	if err := c.call(ctx, "vault_redeemForZusd", []interface{}{params}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Liquidate covers part of an unhealthy account's debt and seizes collateral.
func (c *Client) Liquidate(ctx context.Context, liquidator, account, asset, cover string) (*LiquidationOutcome, error) {
	params := map[string]interface{}{"liquidator": liquidator, "account": account, "asset": asset, "cover": cover}
	var out LiquidationOutcome
	if err := c.call(ctx, "vault_liquidate", []interface{}{params}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Account returns the valued view of a vault account.
func (c *Client) Account(ctx context.Context, account string) (*Account, error) {
	params := map[string]interface{}{"account": account}
	var out Account
	if err := c.call(ctx, "vault_getAccount", []interface{}{params}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HealthFactor returns the account's current health factor.
func (c *Client) HealthFactor(ctx context.Context, account string) (string, error) {
	params := map[string]interface{}{"account": account}
	var out struct {
		HealthFactor string `json:"healthFactor"`
	}
	if err := c.call(ctx, "vault_healthFactor", []interface{}{params}, &out); err != nil {
		return "", err
	}
	return out.HealthFactor, nil
}

// USDValue prices a collateral amount in USD at 1e18 scale.
func (c *Client) USDValue(ctx context.Context, asset, amount string) (string, error) {
	params := map[string]interface{}{"asset": asset, "amount": amount}
	var out struct {
		USD string `json:"usd"`
	}
	if err := c.call(ctx, "vault_usdValue", []interface{}{params}, &out); err != nil {
		return "", err
	}
	return out.USD, nil
}

// TokenAmount converts a USD value into collateral token units.
func (c *Client) TokenAmount(ctx context.Context, asset, usd string) (string, error) {
	params := map[string]interface{}{"asset": asset, "usd": usd}
	var out struct {
		Amount string `json:"amount"`
	}
	if err := c.call(ctx, "vault_tokenAmount", []interface{}{params}, &out); err != nil {
		return "", err
	}
	return out.Amount, nil
}

// CollateralBalance returns the collateral locked for one asset.
func (c *Client) CollateralBalance(ctx context.Context, account, asset string) (string, error) {
	params := map[string]interface{}{"account": account, "asset": asset}
	var out struct {
		Amount string `json:"amount"`
	}
	if err := c.call(ctx, "vault_collateralBalance", []interface{}{params}, &out); err != nil {
		return "", err
	}
	return out.Amount, nil
}

// ZUSDBalance returns the wallet liability balance and total supply.
func (c *Client) ZUSDBalance(ctx context.Context, account string) (*TokenBalance, error) {
	params := map[string]interface{}{"account": account}
	var out TokenBalance
	if err := c.call(ctx, "vault_zusdBalance", []interface{}{params}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAssets enumerates the registered collateral assets.
func (c *Client) ListAssets(ctx context.Context) ([]Asset, error) {
	var out []Asset
	if err := c.call(ctx, "vault_listAssets", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Constants fetches the protocol parameters.
func (c *Client) Constants(ctx context.Context) (*Constants, error) {
	var out Constants
	if err := c.call(ctx, "vault_constants", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProtocolStatus reports aggregate protocol health.
func (c *Client) ProtocolStatus(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.call(ctx, "vault_protocolStatus", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Operations lists journalled operations, newest first. Account filters when
// non-empty and limit caps the page size when positive.
func (c *Client) Operations(ctx context.Context, account string, limit int) ([]Operation, error) {
	params := map[string]interface{}{"account": account, "limit": limit}
	var out []Operation
	if err := c.call(ctx, "vault_opsHistory", []interface{}{params}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Liquidations lists journalled liquidations, newest first.
func (c *Client) Liquidations(ctx context.Context, account string, limit int) ([]Liquidation, error) {
	params := map[string]interface{}{"account": account, "limit": limit}
	var out []Liquidation
	if err := c.call(ctx, "vault_liquidations", []interface{}{params}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Pause halts one engine flow and returns the paused set.
func (c *Client) Pause(ctx context.Context, flow string) ([]string, error) {
	return c.togglePause(ctx, "vault_pause", flow)
}

// Resume restarts one engine flow and returns the paused set.
func (c *Client) Resume(ctx context.Context, flow string) ([]string, error) {
	return c.togglePause(ctx, "vault_resume", flow)
}

func (c *Client) togglePause(ctx context.Context, method, flow string) ([]string, error) {
	params := map[string]interface{}{"flow": flow}
	var out struct {
		Paused []string `json:"paused"`
	}
	if err := c.call(ctx, method, []interface{}{params}, &out); err != nil {
		return nil, err
	}
	return out.Paused, nil
}

// FundCollateral credits wallet collateral and returns the new balance.
func (c *Client) FundCollateral(ctx context.Context, account, asset, amount string) (string, error) {
	params := map[string]interface{}{"account": account, "asset": asset, "amount": amount}
	var out struct {
		Balance string `json:"balance"`
	}
	if err := c.call(ctx, "vault_fundCollateral", []interface{}{params}, &out); err != nil {
		return "", err
	}
	return out.Balance, nil
}

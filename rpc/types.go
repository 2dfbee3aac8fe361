package rpc

import (
	"math/big"
	"time"
)

// AccountResult summarises one vault account for RPC consumers. Amounts are
// decimal strings so 1e18-scale values survive JSON round trips.
type AccountResult struct {
	Address         string            `json:"address"`
	Debt            string            `json:"debt"`
	CollateralValue string            `json:"collateralValue"`
	HealthFactor    string            `json:"healthFactor"`
	Collateral      map[string]string `json:"collateral"`
	WalletZUSD      string            `json:"walletZusd,omitempty"`
}

// AssetResult describes one registered collateral asset.
type AssetResult struct {
	Symbol       string `json:"symbol"`
	Decimals     uint8  `json:"decimals"`
	Feed         string `json:"feed"`
	FeedDecimals uint8  `json:"feedDecimals"`
}

// ConstantsResult exposes the protocol parameters.
type ConstantsResult struct {
	LiquidationThreshold int64  `json:"liquidationThreshold"`
	LiquidationPrecision int64  `json:"liquidationPrecision"`
	LiquidationBonus     int64  `json:"liquidationBonus"`
	Precision            string `json:"precision"`
	MinHealthFactor      string `json:"minHealthFactor"`
}

// StatusResult reports aggregate protocol health.
type StatusResult struct {
	Accounts             int      `json:"accounts"`
	TotalDebt            string   `json:"totalDebt"`
	TotalCollateralValue string   `json:"totalCollateralValue"`
	Solvent              bool     `json:"solvent"`
	PausedFlows          []string `json:"pausedFlows"`
}

// OperationResult reflects one journalled vault operation.
type OperationResult struct {
	Ref        string    `json:"ref"`
	Kind       string    `json:"kind"`
	Account    string    `json:"account"`
	Asset      string    `json:"asset,omitempty"`
	Amount     string    `json:"amount"`
	RecordedAt time.Time `json:"recordedAt"`
}

// LiquidationResult reflects one journalled liquidation.
type LiquidationResult struct {
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

// bigString renders a big integer for JSON payloads. Nil prints as zero.
func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

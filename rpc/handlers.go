package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"vaultd/crypto"
	"vaultd/engine"
	"vaultd/journal"
	"vaultd/oracle"
)

// decodeParams expects exactly one positional params object.
func decodeParams(req *RPCRequest, out interface{}) *rpcError {
	if len(req.Params) != 1 {
		return invalidParams("expected a single params object", nil)
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return invalidParams("invalid params payload", err.Error())
	}
	return nil
}

// decodeOptionalParams accepts zero params or one params object.
func decodeOptionalParams(req *RPCRequest, out interface{}) *rpcError {
	if len(req.Params) == 0 {
		return nil
	}
	return decodeParams(req, out)
}

func requireNoParams(req *RPCRequest) *rpcError {
	if len(req.Params) != 0 {
		return invalidParams("method takes no params", nil)
	}
	return nil
}

func parseAccount(field, raw string) (crypto.Address, *rpcError) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return crypto.Address{}, invalidParams(field+" must be a bech32 vault address", err.Error())
	}
	return addr, nil
}

func parseAmount(field, raw string) (*big.Int, *rpcError) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, invalidParams(field+" is required", nil)
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, invalidParams(field+" must be a base-10 integer", nil)
	}
	return value, nil
}

// engineError translates engine and oracle failures into wire errors.
func engineError(err error) *rpcError {
	var breaks *engine.BreaksHealthFactorError
	switch {
	case errors.As(err, &breaks):
		return &rpcError{
			Status:  http.StatusConflict,
			Code:    codeHealthFactor,
			Message: "operation would break the account health factor",
			Data:    bigString(breaks.HealthFactor),
		}
	case errors.Is(err, engine.ErrPaused):
		return &rpcError{Status: http.StatusServiceUnavailable, Code: codePaused, Message: err.Error()}
	case errors.Is(err, oracle.ErrStalePrice), errors.Is(err, oracle.ErrUnknownAsset):
		return &rpcError{Status: http.StatusServiceUnavailable, Code: codeOracleStale, Message: "collateral price unavailable", Data: err.Error()}
	case errors.Is(err, engine.ErrHealthFactorOk), errors.Is(err, engine.ErrHealthFactorNotImproved):
		return &rpcError{Status: http.StatusConflict, Code: codeHealthFactor, Message: err.Error()}
	case errors.Is(err, engine.ErrAmountZero),
		errors.Is(err, engine.ErrAssetNotAllowed),
		errors.Is(err, engine.ErrRedeemExceedsCollateral),
		errors.Is(err, engine.ErrBurnExceedsBalance),
		errors.Is(err, engine.ErrInsufficientCollateral):
		return invalidParams(err.Error(), nil)
	default:
		return serverError("operation failed", err.Error())
	}
}

// positionResult snapshots the ledger entry without touching the oracle, so
// mutating operations can echo state even while feeds are degraded.
func (s *Server) positionResult(account crypto.Address) (interface{}, *rpcError) {
	position, err := s.engine.Position(account)
	if err != nil {
		return nil, serverError("position lookup failed", err.Error())
	}
	collateral := make(map[string]string, len(position.Collateral))
	for symbol, amount := range position.Collateral {
		collateral[symbol] = bigString(amount)
	}
	return map[string]interface{}{
		"address":    account.String(),
		"debt":       bigString(position.Debt),
		"collateral": collateral,
	}, nil
}

func (s *Server) handleDepositCollateral(ctx context.Context, req *RPCRequest) (interface{}, *rpcError) {
	var payload struct {
		Account string `json:"account"`
		Asset   string `json:"asset"`
		Amount  string `json:"amount"`
	}
	if rpcErr := decodeParams(req, &payload); rpcErr != nil {
		return nil, rpcErr
	}
	account, rpcErr := parseAccount("account", payload.Account)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount("amount", payload.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.DepositCollateral(ctx, account, payload.Asset, amount); err != nil {
		return nil, engineError(err)
	}
	return s.positionResult(account)
}

func (s *Server) handleMintZUSD(ctx context.Context, req *RPCRequest) (interface{}, *rpcError) {
	var payload struct {
		Account string `json:"account"`
		Amount  string `json:"amount"`
	}
	if rpcErr := decodeParams(req, &payload); rpcErr != nil {
		return nil, rpcErr
	}
	account, rpcErr := parseAccount("account", payload.Account)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount("amount", payload.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.MintZUSD(ctx, account, amount); err != nil {
		return nil, engineError(err)
	}
	return s.positionResult(account)
}

func (s *Server) handleDepositAndMint(ctx context.Context, req *RPCRequest) (interface{}, *rpcError) {
	var payload struct {
		Account string `json:"account"`
		Asset   string `json:"asset"`
		Amount  string `json:"amount"`
		Mint    string `json:"mint"`
	}
	if rpcErr := decodeParams(req, &payload); rpcErr != nil {
		return nil, rpcErr
	}
	account, rpcErr := parseAccount("account", payload.Account)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount("amount", payload.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	mint, rpcErr := parseAmount("mint", payload.Mint)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.DepositCollateralAndMintZUSD(ctx, account, payload.Asset, amount, mint); err != nil {
		return nil, engineError(err)
	}
	return s.positionResult(account)
}

func (s *Server) handleBurnZUSD(ctx context.Context, req *RPCRequest) (interface{}, *rpcError) {
	var payload struct {
		Account string `json:"account"`
		Amount  string `json:"amount"`
	}
	if rpcErr := decodeParams(req, &payload); rpcErr != nil {
		return nil, rpcErr
	}
	account, rpcErr := parseAccount("account", payload.Account)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount("amount", payload.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.BurnZUSD(ctx, account, amount); err != nil {
		return nil, engineError(err)
	}
	return s.positionResult(account)
}

func (s *Server) handleRedeemCollateral(ctx context.Context, req *RPCRequest) (interface{}, *rpcError) {
	var payload struct {
		Account string `json:"account"`
		Asset   string `json:"asset"`
		Amount  string `json:"amount"`
	}
	if rpcErr := decodeParams(req, &payload); rpcErr != nil {
		return nil, rpcErr
	}
	account, rpcErr := parseAccount("account", payload.Account)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount("amount", payload.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.RedeemCollateral(ctx, account, payload.Asset, amount); err != nil {
		return nil, engineError(err)
	}
	return s.positionResult(account)
}

func (s *Server) handleRedeemAndMint(ctx context.Context, req *RPCRequest) (interface{}, *rpcError) {
	var payload struct {
		Account string `json:"account"`
		Asset   string `json:"asset"`
		Amount  string `json:"amount"`
		Mint    string `json:"mint"`
	}
	if rpcErr := decodeParams(req, &payload); rpcErr != nil {
		return nil, rpcErr
	}
	account, rpcErr := parseAccount("account", payload.Account)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount("amount", payload.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	mint, rpcErr := parseAmount("mint", payload.Mint)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.RedeemCollateralAndMintZUSD(ctx, account, payload.Asset, amount, mint); err != nil {
		return nil, engineError(err)
	}
	return s.positionResult(account)
}

func (s *Server) handleRedeemForZUSD(ctx context.Context, req *RPCRequest) (interface{}, *rpcError) {
	var payload struct {
		Account string `json:"account"`
		Asset   string `json:"asset"`
		Amount  string `json:"amount"`
		Burn    string `json:"burn"`
	}
	if rpcErr := decodeParams(req, &payload); rpcErr != nil {
		return nil, rpcErr
	}
	account, rpcErr := parseAccount("account", payload.Account)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount("amount", payload.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	burn, rpcErr := parseAmount("burn", payload.Burn)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.RedeemCollateralForZUSD(ctx, account, payload.Asset, amount, burn); err != nil {
		return nil, engineError(err)
	}
	return s.positionResult(account)
}

func (s *Server) handleLiquidate(ctx context.Context, req *RPCRequest) (interface{}, *rpcError) {
	var payload struct {
		Liquidator string `json:"liquidator"`
		Account    string `json:"account"`
		Asset      string `json:"asset"`
		Cover      string `json:"cover"`
	}
	if rpcErr := decodeParams(req, &payload); rpcErr != nil {
		return nil, rpcErr
	}
	liquidator, rpcErr := parseAccount("liquidator", payload.Liquidator)
	if rpcErr != nil {
		return nil, rpcErr
	}
	target, rpcErr := parseAccount("account", payload.Account)
	if rpcErr != nil {
		return nil, rpcErr
	}
	cover, rpcErr := parseAmount("cover", payload.Cover)
	if rpcErr != nil {
		return nil, rpcErr
	}
	seized, err := s.engine.Liquidate(ctx, liquidator, payload.Asset, target, cover)
	if err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{
		"liquidator":  liquidator.String(),
		"account":     target.String(),
		"asset":       strings.ToUpper(strings.TrimSpace(payload.Asset)),
		"debtCovered": bigString(cover),
		"seized":      bigString(seized),
	}, nil
}

func (s *Server) handleGetAccount(ctx context.Context, req *RPCRequest) (interface{}, *rpcError) {
	var payload struct {
		Account string `json:"account"`
	}
	if rpcErr := decodeParams(req, &payload); rpcErr != nil {
		return nil, rpcErr
	}
	account, rpcErr := parseAccount("account", payload.Account)
	if rpcErr != nil {
		return nil, rpcErr
	}
	info, err := s.engine.AccountInformation(ctx, account)
	if err != nil {
		return nil, engineError(err)
	}
	position, err := s.engine.Position(account)
	if err != nil {
		return nil, serverError("position lookup failed", err.Error())
	}
	collateral := make(map[string]string, len(position.Collateral))
	for symbol, amount := range position.Collateral {
		collateral[symbol] = bigString(amount)
	}
	result := AccountResult{
		Address:         account.String(),
		Debt:            bigString(info.Debt),
		CollateralValue: bigString(info.CollateralValue),
		HealthFactor:    bigString(info.HealthFactor),
		Collateral:      collateral,
	}
	if s.zusd != nil {
		balance, err := s.zusd.BalanceOf(ctx, account)
		if err != nil {
			return nil, serverError("zusd balance lookup failed", err.Error())
		}
		result.WalletZUSD = bigString(balance)
	}
	return result, nil
}

func (s *Server) handleHealthFactor(ctx context.Context, req *RPCRequest) (interface{}, *rpcError) {
	var payload struct {
		Account string `json:"account"`
	}
	if rpcErr := decodeParams(req, &payload); rpcErr != nil {
		return nil, rpcErr
	}
	account, rpcErr := parseAccount("account", payload.Account)
	if rpcErr != nil {
		return nil, rpcErr
	}
	ratio, err := s.engine.HealthFactor(ctx, account)
	if err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{
		"account":      account.String(),
		"healthFactor": bigString(ratio),
	}, nil
}

func (s *Server) handleUSDValue(ctx context.Context, req *RPCRequest) (interface{}, *rpcError) {
	var payload struct {
		Asset  string `json:"asset"`
		Amount string `json:"amount"`
	}
	if rpcErr := decodeParams(req, &payload); rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount("amount", payload.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	usd, err := s.engine.USDValue(ctx, payload.Asset, amount)
	if err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{
		"asset": strings.ToUpper(strings.TrimSpace(payload.Asset)),
		"usd":   bigString(usd),
	}, nil
}

func (s *Server) handleTokenAmount(ctx context.Context, req *RPCRequest) (interface{}, *rpcError) {
	var payload struct {
		Asset string `json:"asset"`
		USD   string `json:"usd"`
	}
	if rpcErr := decodeParams(req, &payload); rpcErr != nil {
		return nil, rpcErr
	}
	usd, rpcErr := parseAmount("usd", payload.USD)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, err := s.engine.TokenAmountFromUSD(ctx, payload.Asset, usd)
	if err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{
		"asset":  strings.ToUpper(strings.TrimSpace(payload.Asset)),
		"amount": bigString(amount),
	}, nil
}

func (s *Server) handleCollateralBalance(_ context.Context, req *RPCRequest) (interface{}, *rpcError) {
	var payload struct {
		Account string `json:"account"`
		Asset   string `json:"asset"`
	}
	if rpcErr := decodeParams(req, &payload); rpcErr != nil {
		return nil, rpcErr
	}
	account, rpcErr := parseAccount("account", payload.Account)
	if rpcErr != nil {
		return nil, rpcErr
	}
	balance, err := s.engine.CollateralBalance(account, payload.Asset)
	if err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{
		"account": account.String(),
		"asset":   strings.ToUpper(strings.TrimSpace(payload.Asset)),
		"amount":  bigString(balance),
	}, nil
}

func (s *Server) handleZUSDBalance(ctx context.Context, req *RPCRequest) (interface{}, *rpcError) {
	if s.zusd == nil {
		return nil, unavailable("liability token not configured")
	}
	var payload struct {
		Account string `json:"account"`
	}
	if rpcErr := decodeParams(req, &payload); rpcErr != nil {
		return nil, rpcErr
	}
	account, rpcErr := parseAccount("account", payload.Account)
	if rpcErr != nil {
		return nil, rpcErr
	}
	balance, err := s.zusd.BalanceOf(ctx, account)
	if err != nil {
		return nil, serverError("zusd balance lookup failed", err.Error())
	}
	supply, err := s.zusd.TotalSupply(ctx)
	if err != nil {
		return nil, serverError("zusd supply lookup failed", err.Error())
	}
	return map[string]interface{}{
		"account":     account.String(),
		"balance":     bigString(balance),
		"totalSupply": bigString(supply),
	}, nil
}

func (s *Server) handleListAssets(_ context.Context, req *RPCRequest) (interface{}, *rpcError) {
	if rpcErr := requireNoParams(req); rpcErr != nil {
		return nil, rpcErr
	}
	assets := s.engine.CollateralAssets()
	results := make([]AssetResult, 0, len(assets))
	for _, asset := range assets {
		entry := AssetResult{Symbol: asset.Symbol, Decimals: asset.Decimals}
		if feed, ok := s.engine.CollateralFeed(asset.Symbol); ok {
			entry.Feed = feed.ID
			entry.FeedDecimals = feed.Decimals
		}
		results = append(results, entry)
	}
	return results, nil
}

func (s *Server) handleConstants(_ context.Context, req *RPCRequest) (interface{}, *rpcError) {
	if rpcErr := requireNoParams(req); rpcErr != nil {
		return nil, rpcErr
	}
	return ConstantsResult{
		LiquidationThreshold: engine.LiquidationThreshold,
		LiquidationPrecision: engine.LiquidationPrecision,
		LiquidationBonus:     engine.LiquidationBonus,
		Precision:            bigString(engine.Precision),
		MinHealthFactor:      bigString(engine.MinHealthFactor),
	}, nil
}

func (s *Server) handleProtocolStatus(ctx context.Context, req *RPCRequest) (interface{}, *rpcError) {
	if rpcErr := requireNoParams(req); rpcErr != nil {
		return nil, rpcErr
	}
	status, err := s.engine.ProtocolStatus(ctx)
	if err != nil {
		return nil, engineError(err)
	}
	result := StatusResult{
		Accounts:             status.Accounts,
		TotalDebt:            bigString(status.TotalDebt),
		TotalCollateralValue: bigString(status.TotalCollateralValue),
		Solvent:              status.Solvent,
		PausedFlows:          []string{},
	}
	if s.pauses != nil {
		if paused := s.pauses.Snapshot(); len(paused) > 0 {
			result.PausedFlows = paused
		}
	}
	return result, nil
}

func (s *Server) handleOpsHistory(ctx context.Context, req *RPCRequest) (interface{}, *rpcError) {
	if s.journal == nil {
		return nil, unavailable("journal not configured")
	}
	var payload struct {
		Account string `json:"account"`
		Limit   int    `json:"limit"`
	}
	if rpcErr := decodeOptionalParams(req, &payload); rpcErr != nil {
		return nil, rpcErr
	}
	records, err := s.journal.ListOperations(ctx, strings.TrimSpace(payload.Account), payload.Limit)
	if err != nil {
		return nil, serverError("journal read failed", err.Error())
	}
	results := make([]OperationResult, 0, len(records))
	for _, rec := range records {
		results = append(results, OperationResult{
			Ref:        rec.Ref,
			Kind:       rec.Kind,
			Account:    rec.Account,
			Asset:      rec.Asset,
			Amount:     rec.Amount,
			RecordedAt: rec.RecordedAt,
		})
	}
	return results, nil
}

func (s *Server) handleLiquidations(ctx context.Context, req *RPCRequest) (interface{}, *rpcError) {
	if s.journal == nil {
		return nil, unavailable("journal not configured")
	}
	var payload struct {
		Account string `json:"account"`
		Limit   int    `json:"limit"`
	}
	if rpcErr := decodeOptionalParams(req, &payload); rpcErr != nil {
		return nil, rpcErr
	}
	records, err := s.journal.ListLiquidations(ctx, strings.TrimSpace(payload.Account), payload.Limit)
	if err != nil {
		return nil, serverError("journal read failed", err.Error())
	}
	results := make([]LiquidationResult, 0, len(records))
	for _, rec := range records {
		results = append(results, liquidationResult(rec))
	}
	return results, nil
}

func liquidationResult(rec journal.LiquidationRecord) LiquidationResult {
	return LiquidationResult{
		Ref:         rec.Ref,
		Liquidator:  rec.Liquidator,
		Account:     rec.Account,
		Asset:       rec.Asset,
		DebtCovered: rec.DebtCovered,
		Seized:      rec.Seized,
		StartHealth: rec.StartHealth,
		EndHealth:   rec.EndHealth,
		RecordedAt:  rec.RecordedAt,
	}
}

func (s *Server) handlePause(ctx context.Context, req *RPCRequest) (interface{}, *rpcError) {
	return s.togglePause(ctx, req, true)
}

func (s *Server) handleResume(ctx context.Context, req *RPCRequest) (interface{}, *rpcError) {
	return s.togglePause(ctx, req, false)
}

func (s *Server) togglePause(_ context.Context, req *RPCRequest, paused bool) (interface{}, *rpcError) {
	if s.pauses == nil {
		return nil, unavailable("pause switch not configured")
	}
	var payload struct {
		Flow string `json:"flow"`
	}
	if rpcErr := decodeParams(req, &payload); rpcErr != nil {
		return nil, rpcErr
	}
	flow := strings.ToLower(strings.TrimSpace(payload.Flow))
	switch flow {
	case engine.FlowDeposit, engine.FlowMint, engine.FlowBurn, engine.FlowRedeem, engine.FlowLiquidate:
	default:
		return nil, invalidParams("unknown flow "+payload.Flow, nil)
	}
	s.pauses.SetPaused(flow, paused)
	s.log.Info("flow pause toggled", "flow", flow, "paused", paused)
	snapshot := s.pauses.Snapshot()
	if snapshot == nil {
		snapshot = []string{}
	}
	return map[string]interface{}{"paused": snapshot}, nil
}

// handleFundCollateral credits wallet collateral outside the vault ledger.
// It backs operator top-ups and test fixtures, so it stays auth-gated.
func (s *Server) handleFundCollateral(ctx context.Context, req *RPCRequest) (interface{}, *rpcError) {
	if s.bank == nil {
		return nil, unavailable("collateral bank not configured")
	}
	var payload struct {
		Account string `json:"account"`
		Asset   string `json:"asset"`
		Amount  string `json:"amount"`
	}
	if rpcErr := decodeParams(req, &payload); rpcErr != nil {
		return nil, rpcErr
	}
	account, rpcErr := parseAccount("account", payload.Account)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount("amount", payload.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	asset := strings.ToUpper(strings.TrimSpace(payload.Asset))
	if _, ok := s.engine.CollateralFeed(asset); !ok {
		return nil, invalidParams("unknown collateral asset "+payload.Asset, nil)
	}
	if err := s.bank.Credit(ctx, asset, account, amount); err != nil {
		return nil, serverError("credit failed", err.Error())
	}
	balance, err := s.bank.WalletBalance(ctx, asset, account)
	if err != nil {
		return nil, serverError("balance lookup failed", err.Error())
	}
	return map[string]interface{}{
		"account": account.String(),
		"asset":   asset,
		"balance": bigString(balance),
	}, nil
}

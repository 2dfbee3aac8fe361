package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vaultd/crypto"
	"vaultd/engine"
	"vaultd/journal"
	"vaultd/oracle"
	"vaultd/rpc"
	"vaultd/storage"
	"vaultd/token"
)

func TestClientSendsBearerAndEnvelope(t *testing.T) {
	var capturedAuth string
	var captured struct {
		JSONRPC string                   `json:"jsonrpc"`
		Method  string                   `json:"method"`
		Params  []map[string]interface{} `json:"params"`
		ID      int64                    `json:"id"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedAuth = r.Header.Get("Authorization")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      captured.ID,
			"result": map[string]interface{}{
				"address":    "vlt1example",
				"debt":       "0",
				"collateral": map[string]string{"WETH": "1000"},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := New(Config{URL: server.URL, BearerToken: "vault-secret"})
	position, err := c.DepositCollateral(context.Background(), "vlt1example", "WETH", "1000")
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if capturedAuth != "Bearer vault-secret" {
		t.Fatalf("unexpected auth header %q", capturedAuth)
	}
	if captured.JSONRPC != "2.0" || captured.Method != "vault_depositCollateral" {
		t.Fatalf("unexpected envelope: %+v", captured)
	}
	if len(captured.Params) != 1 {
		t.Fatalf("expected one params object, got %d", len(captured.Params))
	}
	params := captured.Params[0]
	if params["account"] != "vlt1example" || params["asset"] != "WETH" || params["amount"] != "1000" {
		t.Fatalf("unexpected params: %+v", params)
	}
	if position.Collateral["WETH"] != "1000" {
		t.Fatalf("unexpected position: %+v", position)
	}
}

func TestClientSurfacesRPCErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32030,"message":"operation would break the account health factor","data":"900000000000000000"}}`))
	}))
	defer server.Close()

	c := New(Config{URL: server.URL})
	_, err := c.MintZUSD(context.Background(), "vlt1example", "1000")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsCode(err, CodeHealthFactor) {
		t.Fatalf("expected health factor code, got %v", err)
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %T", err)
	}
	if rpcErr.Data != "900000000000000000" {
		t.Fatalf("unexpected data: %v", rpcErr.Data)
	}
	if IsCode(err, CodePaused) {
		t.Fatalf("code matcher too loose")
	}
}

func newVaultServer(t *testing.T) (*httptest.Server, *oracle.Aggregator) {
	t.Helper()
	db := storage.NewMemDB()
	store := storage.NewPositionStore(db)
	zusd := token.NewZUSD(db)
	bank := token.NewBank(db)
	agg := oracle.NewAggregator(oracle.StalenessWindow)

	eng, err := engine.NewEngine(
		[]engine.Asset{{Symbol: "WETH", Decimals: 18}},
		[]oracle.FeedSpec{{ID: "eth-usd", Decimals: 8}},
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	pauses := engine.NewPauseSwitch()
	eng.SetState(store)
	eng.SetPriceSource(agg)
	eng.SetLiability(zusd)
	eng.SetCollateralBank(bank)
	eng.SetPauses(pauses)

	jrnl, err := journal.Open("file:client_e2e?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { jrnl.Close() })
	eng.SetEmitter(journal.NewEventRecorder(jrnl, nil))

	srv, err := rpc.New(rpc.Config{}, rpc.Deps{
		Engine:  eng,
		Bank:    bank,
		ZUSD:    zusd,
		Journal: jrnl,
		Pauses:  pauses,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, agg
}

func eth(n int64) string {
	return new(big.Int).Mul(big.NewInt(n), engine.Precision).String()
}

func TestClientAgainstVaultServer(t *testing.T) {
	ts, agg := newVaultServer(t)
	ctx := context.Background()
	account := crypto.NewAddress(bytes.Repeat([]byte{0xAB}, 20)).String()

	price := new(big.Int).Mul(big.NewInt(2_000), engine.Precision)
	if err := agg.Record("WETH", oracle.Quote{Price: price, Timestamp: time.Now(), Source: "manual"}); err != nil {
		t.Fatalf("record price: %v", err)
	}

	c := New(Config{URL: ts.URL})
	balance, err := c.FundCollateral(ctx, account, "WETH", eth(5))
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if balance != eth(5) {
		t.Fatalf("unexpected wallet balance %s", balance)
	}

	position, err := c.DepositCollateral(ctx, account, "WETH", eth(2))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if position.Collateral["WETH"] != eth(2) {
		t.Fatalf("unexpected collateral: %+v", position)
	}

	position, err = c.MintZUSD(ctx, account, eth(1_000))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if position.Debt != eth(1_000) {
		t.Fatalf("unexpected debt: %+v", position)
	}

	acct, err := c.Account(ctx, account)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acct.CollateralValue != eth(4_000) {
		t.Fatalf("unexpected collateral value %s", acct.CollateralValue)
	}
	if acct.HealthFactor != eth(2) {
		t.Fatalf("unexpected health factor %s", acct.HealthFactor)
	}
	if acct.WalletZUSD != eth(1_000) {
		t.Fatalf("unexpected wallet zusd %s", acct.WalletZUSD)
	}

	hf, err := c.HealthFactor(ctx, account)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	if hf != eth(2) {
		t.Fatalf("unexpected health factor %s", hf)
	}

	locked, err := c.CollateralBalance(ctx, account, "WETH")
	if err != nil {
		t.Fatalf("collateral balance: %v", err)
	}
	if locked != eth(2) {
		t.Fatalf("unexpected locked collateral %s", locked)
	}

	tokenBalance, err := c.ZUSDBalance(ctx, account)
	if err != nil {
		t.Fatalf("zusd balance: %v", err)
	}
	if tokenBalance.Balance != eth(1_000) || tokenBalance.TotalSupply != eth(1_000) {
		t.Fatalf("unexpected token balance: %+v", tokenBalance)
	}

	assets, err := c.ListAssets(ctx)
	if err != nil {
		t.Fatalf("list assets: %v", err)
	}
	if len(assets) != 1 || assets[0].Symbol != "WETH" || assets[0].Feed != "eth-usd" {
		t.Fatalf("unexpected assets: %+v", assets)
	}

	consts, err := c.Constants(ctx)
	if err != nil {
		t.Fatalf("constants: %v", err)
	}
	if consts.LiquidationThreshold != engine.LiquidationThreshold {
		t.Fatalf("unexpected threshold %d", consts.LiquidationThreshold)
	}

	status, err := c.ProtocolStatus(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Accounts != 1 || !status.Solvent {
		t.Fatalf("unexpected status: %+v", status)
	}

	ops, err := c.Operations(ctx, account, 0)
	if err != nil {
		t.Fatalf("operations: %v", err)
	}
	if len(ops) != 2 || ops[0].Kind != journal.KindMint || ops[1].Kind != journal.KindDeposit {
		t.Fatalf("unexpected operations: %+v", ops)
	}

	paused, err := c.Pause(ctx, "deposit")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if len(paused) != 1 || paused[0] != "deposit" {
		t.Fatalf("unexpected paused set: %v", paused)
	}
	if _, err := c.DepositCollateral(ctx, account, "WETH", eth(1)); !IsCode(err, CodePaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
	paused, err = c.Resume(ctx, "deposit")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(paused) != 0 {
		t.Fatalf("expected empty paused set, got %v", paused)
	}
}

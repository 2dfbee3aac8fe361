package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"vaultd/crypto"
	"vaultd/engine"
	"vaultd/journal"
	"vaultd/oracle"
	"vaultd/storage"
	"vaultd/token"
)

type testEnv struct {
	server *Server
	engine *engine.Engine
	agg    *oracle.Aggregator
	bank   *token.Bank
	zusd   *token.ZUSD
	jrnl   *journal.Journal
	pauses *engine.PauseSwitch
	hub    *EventHub
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
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

	dsn := fmt.Sprintf("file:rpc_%s?mode=memory&cache=shared", strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()))
	jrnl, err := journal.Open(dsn)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { jrnl.Close() })

	hub := NewEventHub(nil)
	eng.SetEmitter(engine.Fanout(journal.NewEventRecorder(jrnl, nil), hub))

	srv, err := New(cfg, Deps{
		Engine:  eng,
		Bank:    bank,
		ZUSD:    zusd,
		Journal: jrnl,
		Pauses:  pauses,
		Hub:     hub,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &testEnv{server: srv, engine: eng, agg: agg, bank: bank, zusd: zusd, jrnl: jrnl, pauses: pauses, hub: hub}
}

func (env *testEnv) recordPrice(t *testing.T, usd int64) {
	t.Helper()
	price := new(big.Int).Mul(big.NewInt(usd), engine.Precision)
	if err := env.agg.Record("WETH", oracle.Quote{Price: price, Timestamp: time.Now(), Source: "manual"}); err != nil {
		t.Fatalf("record price: %v", err)
	}
}

func (env *testEnv) fundWallet(t *testing.T, account crypto.Address, amount *big.Int) {
	t.Helper()
	if err := env.bank.Credit(context.Background(), "WETH", account, amount); err != nil {
		t.Fatalf("credit wallet: %v", err)
	}
}

func addr(b byte) crypto.Address {
	return crypto.NewAddress(bytes.Repeat([]byte{b}, 20))
}

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), engine.Precision)
}

type rpcPayload struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

func (env *testEnv) call(t *testing.T, method string, params interface{}, bearer string) (int, RPCResponse) {
	t.Helper()
	payload := rpcPayload{JSONRPC: jsonRPCVersion, Method: method, ID: 1}
	if params != nil {
		payload.Params = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	var resp RPCResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec.Code, resp
}

func decodeResult(t *testing.T, resp RPCResponse, out interface{}) {
	t.Helper()
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("re-marshal result: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func requireRPCError(t *testing.T, status int, resp RPCResponse, wantStatus, wantCode int) {
	t.Helper()
	if status != wantStatus {
		t.Fatalf("status = %d, want %d (error %+v)", status, wantStatus, resp.Error)
	}
	if resp.Error == nil {
		t.Fatalf("expected an error response")
	}
	if resp.Error.Code != wantCode {
		t.Fatalf("code = %d, want %d (message %q)", resp.Error.Code, wantCode, resp.Error.Message)
	}
}

func TestDepositMintAndAccountLookup(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.recordPrice(t, 2_000)
	account := addr(0x11)
	env.fundWallet(t, account, eth(1))

	status, resp := env.call(t, "vault_depositCollateral", map[string]string{
		"account": account.String(),
		"asset":   "weth",
		"amount":  eth(1).String(),
	}, "")
	if status != http.StatusOK {
		t.Fatalf("deposit status = %d (error %+v)", status, resp.Error)
	}
	var position struct {
		Debt       string            `json:"debt"`
		Collateral map[string]string `json:"collateral"`
	}
	decodeResult(t, resp, &position)
	if got, want := position.Collateral["WETH"], eth(1).String(); got != want {
		t.Fatalf("collateral = %s, want %s", got, want)
	}

	status, resp = env.call(t, "vault_mintZusd", map[string]string{
		"account": account.String(),
		"amount":  eth(500).String(),
	}, "")
	if status != http.StatusOK {
		t.Fatalf("mint status = %d (error %+v)", status, resp.Error)
	}
	decodeResult(t, resp, &position)
	if got, want := position.Debt, eth(500).String(); got != want {
		t.Fatalf("debt = %s, want %s", got, want)
	}

	status, resp = env.call(t, "vault_getAccount", map[string]string{"account": account.String()}, "")
	if status != http.StatusOK {
		t.Fatalf("getAccount status = %d (error %+v)", status, resp.Error)
	}
	var info AccountResult
	decodeResult(t, resp, &info)
	if got, want := info.CollateralValue, eth(2_000).String(); got != want {
		t.Fatalf("collateral value = %s, want %s", got, want)
	}
	if got, want := info.HealthFactor, eth(2).String(); got != want {
		t.Fatalf("health factor = %s, want %s", got, want)
	}
	if got, want := info.WalletZUSD, eth(500).String(); got != want {
		t.Fatalf("wallet zusd = %s, want %s", got, want)
	}

	status, resp = env.call(t, "vault_healthFactor", map[string]string{"account": account.String()}, "")
	if status != http.StatusOK {
		t.Fatalf("healthFactor status = %d", status)
	}
	var hf map[string]string
	decodeResult(t, resp, &hf)
	if got, want := hf["healthFactor"], eth(2).String(); got != want {
		t.Fatalf("health factor = %s, want %s", got, want)
	}
}

func TestCompositeOperations(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.recordPrice(t, 2_000)
	account := addr(0x22)
	env.fundWallet(t, account, eth(2))

	status, resp := env.call(t, "vault_depositAndMint", map[string]string{
		"account": account.String(),
		"asset":   "WETH",
		"amount":  eth(2).String(),
		"mint":    eth(1_000).String(),
	}, "")
	if status != http.StatusOK {
		t.Fatalf("depositAndMint status = %d (error %+v)", status, resp.Error)
	}
	var position struct {
		Debt       string            `json:"debt"`
		Collateral map[string]string `json:"collateral"`
	}
	decodeResult(t, resp, &position)
	if got, want := position.Debt, eth(1_000).String(); got != want {
		t.Fatalf("debt = %s, want %s", got, want)
	}

	status, resp = env.call(t, "vault_redeemForZusd", map[string]string{
		"account": account.String(),
		"asset":   "WETH",
		"amount":  eth(1).String(),
		"burn":    eth(1_000).String(),
	}, "")
	if status != http.StatusOK {
		t.Fatalf("redeemForZusd status = %d (error %+v)", status, resp.Error)
	}
	decodeResult(t, resp, &position)
	if got, want := position.Debt, "0"; got != want {
		t.Fatalf("debt = %s, want %s", got, want)
	}
	if got, want := position.Collateral["WETH"], eth(1).String(); got != want {
		t.Fatalf("collateral = %s, want %s", got, want)
	}

	status, resp = env.call(t, "vault_redeemCollateral", map[string]string{
		"account": account.String(),
		"asset":   "WETH",
		"amount":  eth(1).String(),
	}, "")
	if status != http.StatusOK {
		t.Fatalf("redeem status = %d (error %+v)", status, resp.Error)
	}
	// fresh target: Unmarshal merges into a non-nil map and would hide a
	// drained ledger behind the earlier entries
	var drained struct {
		Debt       string            `json:"debt"`
		Collateral map[string]string `json:"collateral"`
	}
	decodeResult(t, resp, &drained)
	if len(drained.Collateral) != 0 {
		t.Fatalf("collateral not drained: %v", drained.Collateral)
	}
}

func TestLiquidationOverRPC(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.recordPrice(t, 2_000)
	ctx := context.Background()

	target := addr(0x33)
	env.fundWallet(t, target, eth(1))
	if err := env.engine.DepositCollateralAndMintZUSD(ctx, target, "WETH", eth(1), eth(900)); err != nil {
		t.Fatalf("seed target: %v", err)
	}

	liquidator := addr(0x44)
	env.fundWallet(t, liquidator, eth(10))
	if err := env.engine.DepositCollateralAndMintZUSD(ctx, liquidator, "WETH", eth(10), eth(400)); err != nil {
		t.Fatalf("seed liquidator: %v", err)
	}

	// Healthy target cannot be liquidated.
	status, resp := env.call(t, "vault_liquidate", map[string]string{
		"liquidator": liquidator.String(),
		"account":    target.String(),
		"asset":      "WETH",
		"cover":      eth(400).String(),
	}, "")
	requireRPCError(t, status, resp, http.StatusConflict, codeHealthFactor)

	env.recordPrice(t, 1_500)

	status, resp = env.call(t, "vault_liquidate", map[string]string{
		"liquidator": liquidator.String(),
		"account":    target.String(),
		"asset":      "WETH",
		"cover":      eth(400).String(),
	}, "")
	if status != http.StatusOK {
		t.Fatalf("liquidate status = %d (error %+v)", status, resp.Error)
	}

	cover := eth(400)
	price := new(big.Int).Mul(big.NewInt(1_500), engine.Precision)
	tokenAmount := new(big.Int).Div(new(big.Int).Mul(cover, engine.Precision), price)
	bonus := new(big.Int).Div(new(big.Int).Mul(tokenAmount, big.NewInt(engine.LiquidationBonus)), big.NewInt(engine.LiquidationPrecision))
	wantSeized := new(big.Int).Add(tokenAmount, bonus)

	var result map[string]string
	decodeResult(t, resp, &result)
	if got, want := result["seized"], wantSeized.String(); got != want {
		t.Fatalf("seized = %s, want %s", got, want)
	}
	if got, want := result["debtCovered"], cover.String(); got != want {
		t.Fatalf("debtCovered = %s, want %s", got, want)
	}

	seizedWallet, err := env.bank.WalletBalance(ctx, "WETH", liquidator)
	if err != nil {
		t.Fatalf("wallet balance: %v", err)
	}
	if seizedWallet.Cmp(wantSeized) != 0 {
		t.Fatalf("liquidator wallet = %s, want %s", seizedWallet, wantSeized)
	}

	status, resp = env.call(t, "vault_liquidations", map[string]interface{}{"account": target.String()}, "")
	if status != http.StatusOK {
		t.Fatalf("liquidations status = %d", status)
	}
	var rows []LiquidationResult
	decodeResult(t, resp, &rows)
	if len(rows) != 1 {
		t.Fatalf("liquidation rows = %d, want 1", len(rows))
	}
	if got, want := rows[0].Seized, wantSeized.String(); got != want {
		t.Fatalf("journalled seized = %s, want %s", got, want)
	}
	if got, want := rows[0].Liquidator, liquidator.String(); got != want {
		t.Fatalf("journalled liquidator = %s, want %s", got, want)
	}
}

func TestOpsHistoryOverRPC(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.recordPrice(t, 2_000)
	account := addr(0x55)
	env.fundWallet(t, account, eth(1))

	for _, call := range []struct {
		method string
		params map[string]string
	}{
		{"vault_depositCollateral", map[string]string{"account": account.String(), "asset": "WETH", "amount": eth(1).String()}},
		{"vault_mintZusd", map[string]string{"account": account.String(), "amount": eth(100).String()}},
	} {
		if status, resp := env.call(t, call.method, call.params, ""); status != http.StatusOK {
			t.Fatalf("%s status = %d (error %+v)", call.method, status, resp.Error)
		}
	}

	status, resp := env.call(t, "vault_opsHistory", map[string]interface{}{"account": account.String()}, "")
	if status != http.StatusOK {
		t.Fatalf("opsHistory status = %d", status)
	}
	var rows []OperationResult
	decodeResult(t, resp, &rows)
	if len(rows) != 2 {
		t.Fatalf("operation rows = %d, want 2", len(rows))
	}
	if got, want := rows[0].Kind, journal.KindMint; got != want {
		t.Fatalf("newest kind = %s, want %s", got, want)
	}
	if got, want := rows[1].Kind, journal.KindDeposit; got != want {
		t.Fatalf("oldest kind = %s, want %s", got, want)
	}
}

func TestReadOnlyEndpoints(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.recordPrice(t, 2_000)

	status, resp := env.call(t, "vault_listAssets", nil, "")
	if status != http.StatusOK {
		t.Fatalf("listAssets status = %d", status)
	}
	var assets []AssetResult
	decodeResult(t, resp, &assets)
	if len(assets) != 1 || assets[0].Symbol != "WETH" || assets[0].Feed != "eth-usd" {
		t.Fatalf("unexpected assets %+v", assets)
	}

	status, resp = env.call(t, "vault_constants", nil, "")
	if status != http.StatusOK {
		t.Fatalf("constants status = %d", status)
	}
	var consts ConstantsResult
	decodeResult(t, resp, &consts)
	if consts.LiquidationThreshold != engine.LiquidationThreshold {
		t.Fatalf("threshold = %d", consts.LiquidationThreshold)
	}
	if got, want := consts.MinHealthFactor, engine.MinHealthFactor.String(); got != want {
		t.Fatalf("min health factor = %s, want %s", got, want)
	}

	status, resp = env.call(t, "vault_usdValue", map[string]string{"asset": "WETH", "amount": eth(1).String()}, "")
	if status != http.StatusOK {
		t.Fatalf("usdValue status = %d", status)
	}
	var usd map[string]string
	decodeResult(t, resp, &usd)
	if got, want := usd["usd"], eth(2_000).String(); got != want {
		t.Fatalf("usd = %s, want %s", got, want)
	}

	status, resp = env.call(t, "vault_tokenAmount", map[string]string{"asset": "WETH", "usd": eth(2_000).String()}, "")
	if status != http.StatusOK {
		t.Fatalf("tokenAmount status = %d", status)
	}
	var amount map[string]string
	decodeResult(t, resp, &amount)
	if got, want := amount["amount"], eth(1).String(); got != want {
		t.Fatalf("amount = %s, want %s", got, want)
	}

	status, resp = env.call(t, "vault_protocolStatus", nil, "")
	if status != http.StatusOK {
		t.Fatalf("protocolStatus status = %d", status)
	}
	var protocol StatusResult
	decodeResult(t, resp, &protocol)
	if protocol.Accounts != 0 || !protocol.Solvent {
		t.Fatalf("unexpected status %+v", protocol)
	}
}

func TestStalePriceSurfacesAsUnavailable(t *testing.T) {
	env := newTestEnv(t, Config{})
	account := addr(0x66)
	env.fundWallet(t, account, eth(1))

	// Depositing into a debt-free account never consults the oracle.
	status, resp := env.call(t, "vault_depositCollateral", map[string]string{
		"account": account.String(),
		"asset":   "WETH",
		"amount":  eth(1).String(),
	}, "")
	if status != http.StatusOK {
		t.Fatalf("deposit status = %d (error %+v)", status, resp.Error)
	}

	status, resp = env.call(t, "vault_mintZusd", map[string]string{
		"account": account.String(),
		"amount":  eth(1).String(),
	}, "")
	requireRPCError(t, status, resp, http.StatusServiceUnavailable, codeOracleStale)
}

func TestPauseAndResume(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.recordPrice(t, 2_000)
	account := addr(0x77)
	env.fundWallet(t, account, eth(1))

	status, resp := env.call(t, "vault_pause", map[string]string{"flow": "deposit"}, "")
	if status != http.StatusOK {
		t.Fatalf("pause status = %d (error %+v)", status, resp.Error)
	}
	var toggles struct {
		Paused []string `json:"paused"`
	}
	decodeResult(t, resp, &toggles)
	if len(toggles.Paused) != 1 || toggles.Paused[0] != engine.FlowDeposit {
		t.Fatalf("paused = %v", toggles.Paused)
	}

	status, resp = env.call(t, "vault_depositCollateral", map[string]string{
		"account": account.String(),
		"asset":   "WETH",
		"amount":  eth(1).String(),
	}, "")
	requireRPCError(t, status, resp, http.StatusServiceUnavailable, codePaused)

	status, resp = env.call(t, "vault_resume", map[string]string{"flow": "deposit"}, "")
	if status != http.StatusOK {
		t.Fatalf("resume status = %d", status)
	}
	decodeResult(t, resp, &toggles)
	if len(toggles.Paused) != 0 {
		t.Fatalf("paused after resume = %v", toggles.Paused)
	}

	status, resp = env.call(t, "vault_pause", map[string]string{"flow": "trading"}, "")
	requireRPCError(t, status, resp, http.StatusBadRequest, codeInvalidParams)
}

func TestFundCollateral(t *testing.T) {
	env := newTestEnv(t, Config{})
	account := addr(0x88)

	status, resp := env.call(t, "vault_fundCollateral", map[string]string{
		"account": account.String(),
		"asset":   "WETH",
		"amount":  eth(5).String(),
	}, "")
	if status != http.StatusOK {
		t.Fatalf("fund status = %d (error %+v)", status, resp.Error)
	}
	var funded map[string]string
	decodeResult(t, resp, &funded)
	if got, want := funded["balance"], eth(5).String(); got != want {
		t.Fatalf("balance = %s, want %s", got, want)
	}

	status, resp = env.call(t, "vault_fundCollateral", map[string]string{
		"account": account.String(),
		"asset":   "DOGE",
		"amount":  eth(5).String(),
	}, "")
	requireRPCError(t, status, resp, http.StatusBadRequest, codeInvalidParams)
}

func TestParamValidation(t *testing.T) {
	env := newTestEnv(t, Config{})

	status, resp := env.call(t, "vault_depositCollateral", map[string]string{
		"account": "not-an-address",
		"asset":   "WETH",
		"amount":  "1",
	}, "")
	requireRPCError(t, status, resp, http.StatusBadRequest, codeInvalidParams)

	status, resp = env.call(t, "vault_depositCollateral", map[string]string{
		"account": addr(0x01).String(),
		"asset":   "WETH",
		"amount":  "one",
	}, "")
	requireRPCError(t, status, resp, http.StatusBadRequest, codeInvalidParams)

	status, resp = env.call(t, "vault_depositCollateral", nil, "")
	requireRPCError(t, status, resp, http.StatusBadRequest, codeInvalidParams)

	status, resp = env.call(t, "vault_doesNotExist", nil, "")
	requireRPCError(t, status, resp, http.StatusNotFound, codeMethodNotFound)
}

func TestEnvelopeValidation(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("   ")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty body status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json")))
	var resp RPCResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != codeParseError {
		t.Fatalf("parse error = %+v", resp.Error)
	}

	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"jsonrpc":"1.0","method":"vault_listAssets","id":1}`)))
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != codeInvalidRequest {
		t.Fatalf("version error = %+v", resp.Error)
	}
}

func TestBearerTokenAuth(t *testing.T) {
	env := newTestEnv(t, Config{AuthMode: AuthToken, BearerToken: "vault-secret"})
	env.recordPrice(t, 2_000)
	account := addr(0x99)
	env.fundWallet(t, account, eth(1))

	params := map[string]string{
		"account": account.String(),
		"asset":   "WETH",
		"amount":  eth(1).String(),
	}

	status, resp := env.call(t, "vault_depositCollateral", params, "")
	requireRPCError(t, status, resp, http.StatusUnauthorized, codeUnauthorized)

	status, resp = env.call(t, "vault_depositCollateral", params, "wrong-secret")
	requireRPCError(t, status, resp, http.StatusUnauthorized, codeUnauthorized)

	// Reads stay open.
	if status, _ := env.call(t, "vault_listAssets", nil, ""); status != http.StatusOK {
		t.Fatalf("unauthenticated read status = %d", status)
	}

	status, resp = env.call(t, "vault_depositCollateral", params, "vault-secret")
	if status != http.StatusOK {
		t.Fatalf("authenticated deposit status = %d (error %+v)", status, resp.Error)
	}
}

func TestJWTAuth(t *testing.T) {
	const secret = "jwt-signing-secret"
	env := newTestEnv(t, Config{AuthMode: AuthJWT, JWTSecret: secret})
	env.recordPrice(t, 2_000)
	account := addr(0xaa)
	env.fundWallet(t, account, eth(1))

	params := map[string]string{
		"account": account.String(),
		"asset":   "WETH",
		"amount":  eth(1).String(),
	}

	signed := func(secret string, expires time.Time) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "ops",
			"exp": expires.Unix(),
		})
		out, err := token.SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}
		return out
	}

	status, resp := env.call(t, "vault_depositCollateral", params, "")
	requireRPCError(t, status, resp, http.StatusUnauthorized, codeUnauthorized)

	status, resp = env.call(t, "vault_depositCollateral", params, signed("other-secret", time.Now().Add(time.Hour)))
	requireRPCError(t, status, resp, http.StatusUnauthorized, codeUnauthorized)

	status, resp = env.call(t, "vault_depositCollateral", params, signed(secret, time.Now().Add(-time.Hour)))
	requireRPCError(t, status, resp, http.StatusUnauthorized, codeUnauthorized)

	status, resp = env.call(t, "vault_depositCollateral", params, signed(secret, time.Now().Add(time.Hour)))
	if status != http.StatusOK {
		t.Fatalf("jwt deposit status = %d (error %+v)", status, resp.Error)
	}
}

func TestRateLimitPerClient(t *testing.T) {
	env := newTestEnv(t, Config{RequestsPerSecond: 1, Burst: 2})

	for i := 0; i < 2; i++ {
		if status, resp := env.call(t, "vault_listAssets", nil, ""); status != http.StatusOK {
			t.Fatalf("call %d status = %d (error %+v)", i, status, resp.Error)
		}
	}
	status, resp := env.call(t, "vault_listAssets", nil, "")
	requireRPCError(t, status, resp, http.StatusTooManyRequests, codeRateLimited)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{})
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("health body = %v", body)
	}
}

func TestMetricsEndpointExposed(t *testing.T) {
	env := newTestEnv(t, Config{})
	if status, _ := env.call(t, "vault_listAssets", nil, ""); status != http.StatusOK {
		t.Fatalf("seed call status = %d", status)
	}
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "vault_") {
		t.Fatalf("metrics body missing vault namespace")
	}
}

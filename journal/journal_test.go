package journal

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vaultd/crypto"
	"vaultd/engine"
	"vaultd/oracle"
)

func openTestDB(t *testing.T, name string) *Journal {
	t.Helper()
	j, err := Open(fmt.Sprintf("file:journal_%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("   "); !errors.Is(err, ErrPathRequired) {
		t.Fatalf("expected ErrPathRequired, got %v", err)
	}
}

func TestRecordAndListOperations(t *testing.T) {
	j := openTestDB(t, "ops")
	ctx := context.Background()
	first := OperationRecord{Kind: KindDeposit, Account: "vlt1aaa", Asset: "WETH", Amount: "1000"}
	if err := j.RecordOperation(ctx, first); err != nil {
		t.Fatalf("record deposit: %v", err)
	}
	second := OperationRecord{Kind: KindMint, Account: "vlt1aaa", Amount: "500"}
	if err := j.RecordOperation(ctx, second); err != nil {
		t.Fatalf("record mint: %v", err)
	}
	third := OperationRecord{Kind: KindBurn, Account: "vlt1bbb", Amount: "250"}
	if err := j.RecordOperation(ctx, third); err != nil {
		t.Fatalf("record burn: %v", err)
	}

	all, err := j.ListOperations(ctx, "", 0)
	if err != nil {
		t.Fatalf("list operations: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("unexpected operation count: %d", len(all))
	}
	if all[0].Kind != KindBurn || all[2].Kind != KindDeposit {
		t.Fatalf("expected newest first, got %s..%s", all[0].Kind, all[2].Kind)
	}
	for _, rec := range all {
		if strings.TrimSpace(rec.Ref) == "" {
			t.Fatalf("expected assigned ref, got %+v", rec)
		}
		if rec.RecordedAt.IsZero() {
			t.Fatalf("expected recorded timestamp, got %+v", rec)
		}
	}

	filtered, err := j.ListOperations(ctx, "vlt1aaa", 10)
	if err != nil {
		t.Fatalf("list by account: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("unexpected filtered count: %d", len(filtered))
	}
	if filtered[0].Kind != KindMint || filtered[1].Kind != KindDeposit {
		t.Fatalf("unexpected filtered order: %+v", filtered)
	}
	if filtered[1].Asset != "WETH" || filtered[1].Amount != "1000" {
		t.Fatalf("unexpected deposit row: %+v", filtered[1])
	}

	limited, err := j.ListOperations(ctx, "", 1)
	if err != nil {
		t.Fatalf("list with limit: %v", err)
	}
	if len(limited) != 1 || limited[0].Kind != KindBurn {
		t.Fatalf("unexpected limited result: %+v", limited)
	}
}

func TestRecordOperationValidation(t *testing.T) {
	j := openTestDB(t, "opsvalidate")
	ctx := context.Background()
	if err := j.RecordOperation(ctx, OperationRecord{Kind: "", Account: "vlt1aaa"}); err == nil {
		t.Fatalf("expected error for missing kind")
	}
	if err := j.RecordOperation(ctx, OperationRecord{Kind: KindMint, Account: "  "}); err == nil {
		t.Fatalf("expected error for missing account")
	}
}

func TestLiquidationRoundTrip(t *testing.T) {
	j := openTestDB(t, "liq")
	ctx := context.Background()
	rec := LiquidationRecord{
		Liquidator:  "vlt1liq",
		Account:     "vlt1under",
		Asset:       "WETH",
		DebtCovered: "5000000000000000000000",
		Seized:      "3055555555555555554",
		StartHealth: "900000000000000000",
		EndHealth:   "1250000000000000000",
	}
	if err := j.RecordLiquidation(ctx, rec); err != nil {
		t.Fatalf("record liquidation: %v", err)
	}
	rows, err := j.ListLiquidations(ctx, "vlt1under", 0)
	if err != nil {
		t.Fatalf("list liquidations: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("unexpected liquidation count: %d", len(rows))
	}
	got := rows[0]
	if got.Liquidator != rec.Liquidator || got.Account != rec.Account || got.Asset != rec.Asset {
		t.Fatalf("unexpected liquidation row: %+v", got)
	}
	if got.DebtCovered != rec.DebtCovered || got.Seized != rec.Seized {
		t.Fatalf("amount mismatch: %+v", got)
	}
	if got.StartHealth != rec.StartHealth || got.EndHealth != rec.EndHealth {
		t.Fatalf("health mismatch: %+v", got)
	}
	if strings.TrimSpace(got.Ref) == "" {
		t.Fatalf("expected assigned ref")
	}
	none, err := j.ListLiquidations(ctx, "vlt1other", 0)
	if err != nil {
		t.Fatalf("list other account: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no rows for other account, got %d", len(none))
	}
	if err := j.RecordLiquidation(ctx, LiquidationRecord{Liquidator: "vlt1liq"}); err == nil {
		t.Fatalf("expected error for incomplete record")
	}
}

func TestOracleSampleRoundTrip(t *testing.T) {
	j := openTestDB(t, "samples")
	ctx := context.Background()
	observed := time.Unix(1_700_000_000, 0).UTC()
	rec := oracle.SampleRecord{
		Asset:      "WETH",
		Feed:       "eth-usd",
		Source:     "CoinGecko",
		Price:      new(big.Int).Mul(big.NewInt(2_000), big.NewInt(1_000_000_000_000_000)),
		ObservedAt: observed,
		RecordedAt: time.Unix(1_700_000_100, 0).UTC(),
	}
	if err := j.RecordOracleSample(ctx, rec); err != nil {
		t.Fatalf("record sample: %v", err)
	}
	rows, err := j.ListOracleSamples(ctx, "WETH", 0)
	if err != nil {
		t.Fatalf("list samples: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("unexpected sample count: %d", len(rows))
	}
	got := rows[0]
	if got.Feed != "eth-usd" || got.Source != "coingecko" {
		t.Fatalf("unexpected sample row: %+v", got)
	}
	if got.Price != rec.Price.String() {
		t.Fatalf("price mismatch: got %s want %s", got.Price, rec.Price)
	}
	if !got.ObservedAt.Equal(observed) {
		t.Fatalf("observed mismatch: got %s want %s", got.ObservedAt, observed)
	}
	if err := j.RecordOracleSample(ctx, oracle.SampleRecord{Asset: "WETH"}); err == nil {
		t.Fatalf("expected error for missing price")
	}
}

type fakeEvent struct{}

func (fakeEvent) EventType() string             { return "vault.unknown" }
func (fakeEvent) Attributes() map[string]string { return nil }

func TestEventRecorderPersistsCommittedEvents(t *testing.T) {
	j := openTestDB(t, "events")
	ctx := context.Background()
	recorder := NewEventRecorder(j, nil)
	account := crypto.NewAddress(bytesOf(0xA1))
	liquidator := crypto.NewAddress(bytesOf(0xB2))

	recorder.Emit(engine.CollateralDeposited{Account: account, Asset: "WETH", Amount: big.NewInt(1_000)})
	recorder.Emit(engine.ZUSDMinted{Account: account, Amount: big.NewInt(500)})
	recorder.Emit(engine.ZUSDBurned{Account: account, Amount: big.NewInt(200)})
	recorder.Emit(engine.CollateralRedeemed{Account: account, Asset: "WETH", Amount: big.NewInt(300)})
	recorder.Emit(engine.PositionLiquidated{
		Liquidator:  liquidator,
		Account:     account,
		Asset:       "WETH",
		DebtCovered: big.NewInt(100),
		Seized:      big.NewInt(55),
		StartHealth: big.NewInt(1),
		EndHealth:   big.NewInt(2),
	})
	recorder.Emit(fakeEvent{})

	ops, err := j.ListOperations(ctx, "", 0)
	if err != nil {
		t.Fatalf("list operations: %v", err)
	}
	if len(ops) != 4 {
		t.Fatalf("unexpected operation count: %d", len(ops))
	}
	kinds := make(map[string]string, len(ops))
	for _, rec := range ops {
		kinds[rec.Kind] = rec.Amount
		if rec.Account != account.String() {
			t.Fatalf("unexpected account: %+v", rec)
		}
	}
	if kinds[KindDeposit] != "1000" || kinds[KindMint] != "500" || kinds[KindBurn] != "200" || kinds[KindRedeem] != "300" {
		t.Fatalf("unexpected kinds: %+v", kinds)
	}

	liqs, err := j.ListLiquidations(ctx, "", 0)
	if err != nil {
		t.Fatalf("list liquidations: %v", err)
	}
	if len(liqs) != 1 {
		t.Fatalf("unexpected liquidation count: %d", len(liqs))
	}
	if liqs[0].Liquidator != liquidator.String() || liqs[0].Seized != "55" {
		t.Fatalf("unexpected liquidation: %+v", liqs[0])
	}
}

func TestOperationCounts(t *testing.T) {
	j := openTestDB(t, "counts")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := j.RecordOperation(ctx, OperationRecord{Kind: KindDeposit, Account: "vlt1aaa", Asset: "WETH", Amount: "1"}); err != nil {
			t.Fatalf("record deposit: %v", err)
		}
	}
	if err := j.RecordOperation(ctx, OperationRecord{Kind: KindMint, Account: "vlt1aaa", Amount: "1"}); err != nil {
		t.Fatalf("record mint: %v", err)
	}
	counts, err := j.OperationCounts(ctx)
	if err != nil {
		t.Fatalf("operation counts: %v", err)
	}
	if counts[KindDeposit] != 3 || counts[KindMint] != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestOpenOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	dsn, err := FileDSN(path)
	if err != nil {
		t.Fatalf("file dsn: %v", err)
	}
	if !strings.HasPrefix(dsn, "file:") || !strings.Contains(dsn, "_journal_mode=WAL") {
		t.Fatalf("unexpected dsn: %s", dsn)
	}
	j, err := Open(dsn)
	if err != nil {
		t.Fatalf("open on disk: %v", err)
	}
	ctx := context.Background()
	if err := j.RecordOperation(ctx, OperationRecord{Kind: KindDeposit, Account: "vlt1aaa", Amount: "9"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	reopened, err := Open(dsn)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	rows, err := reopened.ListOperations(ctx, "", 0)
	if err != nil {
		t.Fatalf("list after reopen: %v", err)
	}
	if len(rows) != 1 || rows[0].Amount != "9" {
		t.Fatalf("unexpected rows after reopen: %+v", rows)
	}

	if _, err := FileDSN("  "); !errors.Is(err, ErrPathRequired) {
		t.Fatalf("expected ErrPathRequired, got %v", err)
	}
}

func bytesOf(b byte) []byte {
	buf := make([]byte, 20)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

package journal

import (
	"context"
	"encoding/csv"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vaultd/oracle"
)

func TestExportReturnsInsertOrder(t *testing.T) {
	j := openTestDB(t, "exportorder")
	ctx := context.Background()
	if err := j.RecordOperation(ctx, OperationRecord{Kind: KindDeposit, Account: "vlt1aaa", Asset: "WETH", Amount: "7"}); err != nil {
		t.Fatalf("record deposit: %v", err)
	}
	if err := j.RecordOperation(ctx, OperationRecord{Kind: KindMint, Account: "vlt1aaa", Amount: "3"}); err != nil {
		t.Fatalf("record mint: %v", err)
	}
	rows, err := j.ExportOperations(ctx)
	if err != nil {
		t.Fatalf("export operations: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("unexpected row count: %d", len(rows))
	}
	if rows[0].Kind != KindDeposit || rows[1].Kind != KindMint {
		t.Fatalf("expected oldest first, got %s..%s", rows[0].Kind, rows[1].Kind)
	}
}

func TestWriteArchive(t *testing.T) {
	j := openTestDB(t, "archive")
	ctx := context.Background()
	if err := j.RecordOperation(ctx, OperationRecord{Kind: KindDeposit, Account: "vlt1aaa", Asset: "WETH", Amount: "7"}); err != nil {
		t.Fatalf("record deposit: %v", err)
	}
	if err := j.RecordOperation(ctx, OperationRecord{Kind: KindMint, Account: "vlt1aaa", Amount: "3"}); err != nil {
		t.Fatalf("record mint: %v", err)
	}
	if err := j.RecordLiquidation(ctx, LiquidationRecord{
		Liquidator:  "vlt1liq",
		Account:     "vlt1under",
		Asset:       "WETH",
		DebtCovered: "100",
		Seized:      "55",
		StartHealth: "900000000000000000",
		EndHealth:   "1100000000000000000",
	}); err != nil {
		t.Fatalf("record liquidation: %v", err)
	}
	if err := j.RecordOracleSample(ctx, oracle.SampleRecord{
		Asset:      "WETH",
		Feed:       "eth-usd",
		Source:     "coingecko",
		Price:      big.NewInt(2_000_00000000),
		ObservedAt: time.Unix(1_700_000_000, 0).UTC(),
	}); err != nil {
		t.Fatalf("record sample: %v", err)
	}

	dir := t.TempDir()
	files, err := j.WriteArchive(ctx, dir)
	if err != nil {
		t.Fatalf("write archive: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("unexpected file count: %d", len(files))
	}
	byTable := make(map[string]ArchiveFile, len(files))
	for _, file := range files {
		byTable[file.Table] = file
	}
	if got := byTable["operations"].Rows; got != 2 {
		t.Fatalf("unexpected operation rows: %d", got)
	}
	if got := byTable["liquidations"].Rows; got != 1 {
		t.Fatalf("unexpected liquidation rows: %d", got)
	}
	if got := byTable["oracle_samples"].Rows; got != 1 {
		t.Fatalf("unexpected sample rows: %d", got)
	}

	opsCSV, err := os.Open(byTable["operations"].CSVPath)
	if err != nil {
		t.Fatalf("open operations csv: %v", err)
	}
	defer opsCSV.Close()
	records, err := csv.NewReader(opsCSV).ReadAll()
	if err != nil {
		t.Fatalf("read operations csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("unexpected csv line count: %d", len(records))
	}
	if records[0][0] != "ref" || records[0][1] != "kind" {
		t.Fatalf("unexpected csv header: %v", records[0])
	}
	deposit := records[1]
	if deposit[1] != KindDeposit || deposit[2] != "vlt1aaa" || deposit[3] != "WETH" || deposit[4] != "7" {
		t.Fatalf("unexpected deposit row: %v", deposit)
	}
	if deposit[0] == "" || deposit[5] == "" {
		t.Fatalf("missing ref or timestamp: %v", deposit)
	}

	for _, file := range files {
		info, err := os.Stat(file.ParquetPath)
		if err != nil {
			t.Fatalf("stat parquet %s: %v", file.Table, err)
		}
		if info.Size() == 0 {
			t.Fatalf("empty parquet file for %s", file.Table)
		}
		if filepath.Ext(file.ParquetPath) != ".parquet" {
			t.Fatalf("unexpected parquet path: %s", file.ParquetPath)
		}
	}
}

func TestWriteArchiveRequiresDir(t *testing.T) {
	j := openTestDB(t, "archivedir")
	if _, err := j.WriteArchive(context.Background(), "   "); err == nil {
		t.Fatalf("expected error for blank directory")
	}
}

// Package journal persists an append-only audit trail of vault activity
// in SQLite. It records committed engine operations, liquidations and the
// oracle samples accepted by the price manager.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
	"github.com/google/uuid"

	"vaultd/observability/metrics"
	"vaultd/oracle"
)

// Operation kinds recorded in the journal.
const (
	KindDeposit = "deposit"
	KindMint    = "mint"
	KindBurn    = "burn"
	KindRedeem  = "redeem"
)

// ErrPathRequired is returned when the backing store path is missing.
var ErrPathRequired = errors.New("journal: database path must be configured")

const (
	tableOperations   = "operations"
	tableLiquidations = "liquidations"
	tableSamples      = "oracle_samples"
)

const schema = `
CREATE TABLE IF NOT EXISTS operations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ref TEXT NOT NULL UNIQUE,
    kind TEXT NOT NULL,
    account TEXT NOT NULL,
    asset TEXT NOT NULL DEFAULT '',
    amount TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_operations_account ON operations(account);
CREATE INDEX IF NOT EXISTS idx_operations_kind ON operations(kind);
CREATE TABLE IF NOT EXISTS liquidations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ref TEXT NOT NULL UNIQUE,
    liquidator TEXT NOT NULL,
    account TEXT NOT NULL,
    asset TEXT NOT NULL,
    debt_covered TEXT NOT NULL,
    seized TEXT NOT NULL,
    start_health TEXT NOT NULL,
    end_health TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_liquidations_account ON liquidations(account);
CREATE TABLE IF NOT EXISTS oracle_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    asset TEXT NOT NULL,
    feed TEXT NOT NULL,
    source TEXT NOT NULL,
    price TEXT NOT NULL,
    observed_at INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_oracle_samples_asset ON oracle_samples(asset);
`

// Journal wraps the vault audit database.
type Journal struct {
	db *sql.DB
}

// Open initialises the journal using a sqlite-compatible DSN.
func Open(path string) (*Journal, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	for _, table := range []string{tableOperations, tableLiquidations, tableSamples} {
		metrics.Journal().InitTable(table)
	}
	return &Journal{db: db}, nil
}

// Close releases database resources.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// OperationRecord is one committed vault operation. Composite operations
// produce one record per ledger effect.
type OperationRecord struct {
	Ref        string
	Kind       string
	Account    string
	Asset      string
	Amount     string
	RecordedAt time.Time
}

// LiquidationRecord captures a completed liquidation.
type LiquidationRecord struct {
	Ref         string
	Liquidator  string
	Account     string
	Asset       string
	DebtCovered string
	Seized      string
	StartHealth string
	EndHealth   string
	RecordedAt  time.Time
}

// SampleRow is a persisted oracle observation.
type SampleRow struct {
	Asset      string
	Feed       string
	Source     string
	Price      string
	ObservedAt time.Time
	RecordedAt time.Time
}

// RecordOperation appends one operation row. A missing Ref is assigned and
// a zero RecordedAt defaults to now.
func (j *Journal) RecordOperation(ctx context.Context, rec OperationRecord) error {
	if j == nil {
		return fmt.Errorf("journal not configured")
	}
	kind := strings.TrimSpace(rec.Kind)
	account := strings.TrimSpace(rec.Account)
	if kind == "" || account == "" {
		return fmt.Errorf("operation record incomplete")
	}
	ref := strings.TrimSpace(rec.Ref)
	if ref == "" {
		ref = uuid.NewString()
	}
	amount := strings.TrimSpace(rec.Amount)
	if amount == "" {
		amount = "0"
	}
	recorded := rec.RecordedAt.UTC()
	if recorded.IsZero() {
		recorded = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx, `
        INSERT INTO operations(ref, kind, account, asset, amount, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?)
    `, ref, kind, account, strings.TrimSpace(rec.Asset), amount, recorded)
	if err != nil {
		metrics.Journal().RecordFailure(tableOperations)
		return fmt.Errorf("insert operation: %w", err)
	}
	metrics.Journal().RecordWrite(tableOperations)
	return nil
}

// RecordLiquidation appends one liquidation row.
func (j *Journal) RecordLiquidation(ctx context.Context, rec LiquidationRecord) error {
	if j == nil {
		return fmt.Errorf("journal not configured")
	}
	liquidator := strings.TrimSpace(rec.Liquidator)
	account := strings.TrimSpace(rec.Account)
	asset := strings.TrimSpace(rec.Asset)
	if liquidator == "" || account == "" || asset == "" {
		return fmt.Errorf("liquidation record incomplete")
	}
	ref := strings.TrimSpace(rec.Ref)
	if ref == "" {
		ref = uuid.NewString()
	}
	recorded := rec.RecordedAt.UTC()
	if recorded.IsZero() {
		recorded = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx, `
        INSERT INTO liquidations(ref, liquidator, account, asset, debt_covered, seized, start_health, end_health, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, ref, liquidator, account, asset, orZero(rec.DebtCovered), orZero(rec.Seized), orZero(rec.StartHealth), orZero(rec.EndHealth), recorded)
	if err != nil {
		metrics.Journal().RecordFailure(tableLiquidations)
		return fmt.Errorf("insert liquidation: %w", err)
	}
	metrics.Journal().RecordWrite(tableLiquidations)
	return nil
}

// RecordOracleSample persists an accepted source observation. Journal
// satisfies the oracle manager's recorder interface.
func (j *Journal) RecordOracleSample(ctx context.Context, rec oracle.SampleRecord) error {
	if j == nil {
		return fmt.Errorf("journal not configured")
	}
	if rec.Price == nil {
		return fmt.Errorf("sample missing price")
	}
	recorded := rec.RecordedAt.UTC()
	if recorded.IsZero() {
		recorded = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx, `
        INSERT INTO oracle_samples(asset, feed, source, price, observed_at, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?)
    `, strings.TrimSpace(rec.Asset), strings.TrimSpace(rec.Feed), strings.ToLower(strings.TrimSpace(rec.Source)), rec.Price.String(), rec.ObservedAt.UTC().Unix(), recorded)
	if err != nil {
		metrics.Journal().RecordFailure(tableSamples)
		return fmt.Errorf("insert sample: %w", err)
	}
	metrics.Journal().RecordWrite(tableSamples)
	return nil
}

// ListOperations returns the newest operations first, optionally filtered
// by account.
func (j *Journal) ListOperations(ctx context.Context, account string, limit int) ([]OperationRecord, error) {
	if j == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	query := `
        SELECT ref, kind, account, asset, amount, recorded_at
        FROM operations
    `
	args := make([]interface{}, 0, 2)
	if trimmed := strings.TrimSpace(account); trimmed != "" {
		query += ` WHERE account = ?`
		args = append(args, trimmed)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, clampLimit(limit))
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()
	var out []OperationRecord
	for rows.Next() {
		var rec OperationRecord
		if err := rows.Scan(&rec.Ref, &rec.Kind, &rec.Account, &rec.Asset, &rec.Amount, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return out, nil
}

// ListLiquidations returns the newest liquidations first, optionally
// filtered by the liquidated account.
func (j *Journal) ListLiquidations(ctx context.Context, account string, limit int) ([]LiquidationRecord, error) {
	if j == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	query := `
        SELECT ref, liquidator, account, asset, debt_covered, seized, start_health, end_health, recorded_at
        FROM liquidations
    `
	args := make([]interface{}, 0, 2)
	if trimmed := strings.TrimSpace(account); trimmed != "" {
		query += ` WHERE account = ?`
		args = append(args, trimmed)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, clampLimit(limit))
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query liquidations: %w", err)
	}
	defer rows.Close()
	var out []LiquidationRecord
	for rows.Next() {
		var rec LiquidationRecord
		if err := rows.Scan(&rec.Ref, &rec.Liquidator, &rec.Account, &rec.Asset, &rec.DebtCovered, &rec.Seized, &rec.StartHealth, &rec.EndHealth, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan liquidation: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate liquidations: %w", err)
	}
	return out, nil
}

// ListOracleSamples returns the newest samples first, optionally filtered
// by asset.
func (j *Journal) ListOracleSamples(ctx context.Context, asset string, limit int) ([]SampleRow, error) {
	if j == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	query := `
        SELECT asset, feed, source, price, observed_at, recorded_at
        FROM oracle_samples
    `
	args := make([]interface{}, 0, 2)
	if trimmed := strings.TrimSpace(asset); trimmed != "" {
		query += ` WHERE asset = ?`
		args = append(args, trimmed)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, clampLimit(limit))
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()
	var out []SampleRow
	for rows.Next() {
		var (
			rec      SampleRow
			observed int64
		)
		if err := rows.Scan(&rec.Asset, &rec.Feed, &rec.Source, &rec.Price, &observed, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		rec.ObservedAt = time.Unix(observed, 0).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}
	return out, nil
}

// OperationCounts tallies recorded operations per kind.
func (j *Journal) OperationCounts(ctx context.Context) (map[string]int64, error) {
	if j == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	rows, err := j.db.QueryContext(ctx, `
        SELECT kind, COUNT(*)
        FROM operations
        GROUP BY kind
    `)
	if err != nil {
		return nil, fmt.Errorf("query counts: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int64)
	for rows.Next() {
		var (
			kind  string
			count int64
		)
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[kind] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

func orZero(v string) string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return "0"
	}
	return trimmed
}

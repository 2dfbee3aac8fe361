package journal

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"vaultd/observability/metrics"
)

// Export formats produced by WriteArchive.
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// ArchiveFile references the artefacts generated for one journal table.
type ArchiveFile struct {
	Table       string `json:"table"`
	Rows        int    `json:"rows"`
	CSVPath     string `json:"csvPath"`
	ParquetPath string `json:"parquetPath"`
}

// ExportOperations returns every operation row in insert order.
func (j *Journal) ExportOperations(ctx context.Context) ([]OperationRecord, error) {
	if j == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	rows, err := j.db.QueryContext(ctx, `
        SELECT ref, kind, account, asset, amount, recorded_at
        FROM operations
        ORDER BY id ASC
    `)
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

// ExportLiquidations returns every liquidation row in insert order.
func (j *Journal) ExportLiquidations(ctx context.Context) ([]LiquidationRecord, error) {
	if j == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	rows, err := j.db.QueryContext(ctx, `
        SELECT ref, liquidator, account, asset, debt_covered, seized, start_health, end_health, recorded_at
        FROM liquidations
        ORDER BY id ASC
    `)
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

// ExportOracleSamples returns every oracle sample in insert order.
func (j *Journal) ExportOracleSamples(ctx context.Context) ([]SampleRow, error) {
	if j == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	rows, err := j.db.QueryContext(ctx, `
        SELECT asset, feed, source, price, observed_at, recorded_at
        FROM oracle_samples
        ORDER BY id ASC
    `)
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

// WriteArchive exports every journal table into dir as CSV and Parquet
// files, creating the directory when missing. It returns one entry per
// table describing the artefacts written.
func (j *Journal) WriteArchive(ctx context.Context, dir string) ([]ArchiveFile, error) {
	if j == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, fmt.Errorf("archive directory must be configured")
	}
	if err := os.MkdirAll(trimmed, 0o755); err != nil {
		return nil, fmt.Errorf("ensure archive dir: %w", err)
	}

	operations, err := j.ExportOperations(ctx)
	if err != nil {
		return nil, err
	}
	liquidations, err := j.ExportLiquidations(ctx)
	if err != nil {
		return nil, err
	}
	samples, err := j.ExportOracleSamples(ctx)
	if err != nil {
		return nil, err
	}

	files := make([]ArchiveFile, 0, 3)
	opsFile, err := writeOperationFiles(trimmed, operations)
	if err != nil {
		return nil, err
	}
	files = append(files, opsFile)
	liqFile, err := writeLiquidationFiles(trimmed, liquidations)
	if err != nil {
		return nil, err
	}
	files = append(files, liqFile)
	sampleFile, err := writeSampleFiles(trimmed, samples)
	if err != nil {
		return nil, err
	}
	files = append(files, sampleFile)

	for _, file := range files {
		metrics.Journal().SetExportedRows(file.Table, FormatCSV, float64(file.Rows))
		metrics.Journal().SetExportedRows(file.Table, FormatParquet, float64(file.Rows))
	}
	return files, nil
}

type operationParquet struct {
	Ref        string `parquet:"name=ref, type=UTF8"`
	Kind       string `parquet:"name=kind, type=UTF8"`
	Account    string `parquet:"name=account, type=UTF8"`
	Asset      string `parquet:"name=asset, type=UTF8"`
	Amount     string `parquet:"name=amount, type=UTF8"`
	RecordedAt string `parquet:"name=recorded_at, type=UTF8"`
}

type liquidationParquet struct {
	Ref         string `parquet:"name=ref, type=UTF8"`
	Liquidator  string `parquet:"name=liquidator, type=UTF8"`
	Account     string `parquet:"name=account, type=UTF8"`
	Asset       string `parquet:"name=asset, type=UTF8"`
	DebtCovered string `parquet:"name=debt_covered, type=UTF8"`
	Seized      string `parquet:"name=seized, type=UTF8"`
	StartHealth string `parquet:"name=start_health, type=UTF8"`
	EndHealth   string `parquet:"name=end_health, type=UTF8"`
	RecordedAt  string `parquet:"name=recorded_at, type=UTF8"`
}

type sampleParquet struct {
	Asset      string `parquet:"name=asset, type=UTF8"`
	Feed       string `parquet:"name=feed, type=UTF8"`
	Source     string `parquet:"name=source, type=UTF8"`
	Price      string `parquet:"name=price, type=UTF8"`
	ObservedAt int64  `parquet:"name=observed_at, type=INT64"`
	RecordedAt string `parquet:"name=recorded_at, type=UTF8"`
}

func writeOperationFiles(dir string, rows []OperationRecord) (ArchiveFile, error) {
	header := []string{"ref", "kind", "account", "asset", "amount", "recorded_at"}
	records := make([][]string, 0, len(rows))
	parquetRows := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		recorded := row.RecordedAt.UTC().Format(time.RFC3339)
		records = append(records, []string{row.Ref, row.Kind, row.Account, row.Asset, row.Amount, recorded})
		parquetRows = append(parquetRows, &operationParquet{
			Ref:        row.Ref,
			Kind:       row.Kind,
			Account:    row.Account,
			Asset:      row.Asset,
			Amount:     row.Amount,
			RecordedAt: recorded,
		})
	}
	return writeTableFiles(dir, tableOperations, header, records, new(operationParquet), parquetRows)
}

func writeLiquidationFiles(dir string, rows []LiquidationRecord) (ArchiveFile, error) {
	header := []string{"ref", "liquidator", "account", "asset", "debt_covered", "seized", "start_health", "end_health", "recorded_at"}
	records := make([][]string, 0, len(rows))
	parquetRows := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		recorded := row.RecordedAt.UTC().Format(time.RFC3339)
		records = append(records, []string{row.Ref, row.Liquidator, row.Account, row.Asset, row.DebtCovered, row.Seized, row.StartHealth, row.EndHealth, recorded})
		parquetRows = append(parquetRows, &liquidationParquet{
			Ref:         row.Ref,
			Liquidator:  row.Liquidator,
			Account:     row.Account,
			Asset:       row.Asset,
			DebtCovered: row.DebtCovered,
			Seized:      row.Seized,
			StartHealth: row.StartHealth,
			EndHealth:   row.EndHealth,
			RecordedAt:  recorded,
		})
	}
	return writeTableFiles(dir, tableLiquidations, header, records, new(liquidationParquet), parquetRows)
}

func writeSampleFiles(dir string, rows []SampleRow) (ArchiveFile, error) {
	header := []string{"asset", "feed", "source", "price", "observed_at", "recorded_at"}
	records := make([][]string, 0, len(rows))
	parquetRows := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		observed := row.ObservedAt.UTC()
		recorded := row.RecordedAt.UTC().Format(time.RFC3339)
		records = append(records, []string{row.Asset, row.Feed, row.Source, row.Price, observed.Format(time.RFC3339), recorded})
		parquetRows = append(parquetRows, &sampleParquet{
			Asset:      row.Asset,
			Feed:       row.Feed,
			Source:     row.Source,
			Price:      row.Price,
			ObservedAt: observed.Unix(),
			RecordedAt: recorded,
		})
	}
	return writeTableFiles(dir, tableSamples, header, records, new(sampleParquet), parquetRows)
}

func writeTableFiles(dir, table string, header []string, records [][]string, schema interface{}, parquetRows []interface{}) (ArchiveFile, error) {
	csvPath := filepath.Join(dir, table+".csv")
	if err := writeCSVFile(csvPath, header, records); err != nil {
		return ArchiveFile{}, err
	}
	parquetPath := filepath.Join(dir, table+".parquet")
	if err := writeParquetFile(parquetPath, schema, parquetRows); err != nil {
		return ArchiveFile{}, err
	}
	return ArchiveFile{Table: table, Rows: len(records), CSVPath: csvPath, ParquetPath: parquetPath}, nil
}

func writeCSVFile(path string, header []string, records [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, record := range records {
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func writeParquetFile(path string, schema interface{}, rows []interface{}) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, schema, 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close parquet: %w", err)
	}
	return nil
}

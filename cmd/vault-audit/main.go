package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"vaultd/config"
	"vaultd/journal"
)

type auditReport struct {
	Journal       string                `json:"journal"`
	Operations    map[string]int64      `json:"operations"`
	Liquidations  int                   `json:"liquidations"`
	OracleSamples int                   `json:"oracleSamples"`
	Files         []journal.ArchiveFile `json:"files,omitempty"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to daemon configuration file")
	journalPath := flag.String("journal", "", "Journal database path (overrides the configuration file)")
	outDir := flag.String("out", "", "Directory for CSV and Parquet exports; summary only when empty")
	flag.Parse()

	path := *journalPath
	if path == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		path = cfg.JournalPath
	}
	dsn, err := journal.FileDSN(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve journal path: %v\n", err)
		os.Exit(1)
	}
	jrnl, err := journal.Open(dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open journal: %v\n", err)
		os.Exit(1)
	}
	defer jrnl.Close()

	ctx := context.Background()
	counts, err := jrnl.OperationCounts(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to tally operations: %v\n", err)
		os.Exit(1)
	}
	liquidations, err := jrnl.ExportLiquidations(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load liquidations: %v\n", err)
		os.Exit(1)
	}
	samples, err := jrnl.ExportOracleSamples(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load oracle samples: %v\n", err)
		os.Exit(1)
	}

	report := auditReport{
		Journal:       path,
		Operations:    counts,
		Liquidations:  len(liquidations),
		OracleSamples: len(samples),
	}
	if *outDir != "" {
		files, err := jrnl.WriteArchive(ctx, *outDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to export journal: %v\n", err)
			os.Exit(1)
		}
		report.Files = files
	}

	output, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode report: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(output))
}

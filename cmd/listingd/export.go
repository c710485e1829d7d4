package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"homeescrow/config"
	"homeescrow/integrations/exports"
	"homeescrow/native/listing"
	"homeescrow/storage"
)

// runExport writes the offer ledger of the stored listing. The daemon must
// be stopped because leveldb holds an exclusive lock on the data directory.
func runExport(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	configFile := fs.String("config", "./config.toml", "Path to the configuration file")
	format := fs.String("format", "csv", "Export format: csv, jsonl or parquet")
	outPath := fs.String("out", "", "Output file (defaults to stdout for csv and jsonl)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.ResolvePath("state"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	manager, err := openState(cfg, db)
	if err != nil {
		return err
	}
	snapshot, ok, err := manager.Listing()
	if err != nil {
		return fmt.Errorf("load listing: %w", err)
	}
	if !ok {
		return listing.ErrListingNotFound
	}

	data, checksum, err := encodeLedger(strings.ToLower(strings.TrimSpace(*format)), snapshot)
	if err != nil {
		return err
	}
	if *outPath == "" {
		if *format == "parquet" {
			return errors.New("parquet export requires -out")
		}
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(*outPath, data, 0o644); err != nil {
		return err
	}
	if checksum != "" {
		fmt.Fprintf(stdout, "wrote %s (sha256 %s)\n", *outPath, checksum)
	} else {
		fmt.Fprintf(stdout, "wrote %s\n", *outPath)
	}
	return nil
}

func encodeLedger(format string, l *listing.Listing) ([]byte, string, error) {
	switch format {
	case "csv":
		return exports.LedgerCSV(l)
	case "jsonl":
		return exports.LedgerJSONL(l)
	case "parquet":
		var buf bytes.Buffer
		if _, err := exports.WriteLedgerParquet(&buf, l); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "", nil
	default:
		return nil, "", fmt.Errorf("unsupported export format %q", format)
	}
}

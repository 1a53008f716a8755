package cli

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/odyssey-erp/odyssey-reception/internal/catalog/reference"
)

// ReferenceSeeder stores reference catalog entries.
type ReferenceSeeder interface {
	Migrate() error
	Seed(ctx context.Context, entries []reference.Entry) error
}

// ReferenceImportOptions defines the flags of the reference import command.
type ReferenceImportOptions struct {
	Path       string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ReferenceImportSummary describes the JSON output of reference import.
type ReferenceImportSummary struct {
	OK       bool     `json:"ok"`
	Imported int      `json:"imported"`
	Skipped  []string `json:"skipped,omitempty"`
}

// ReferenceCLI loads the global reference catalog from a spreadsheet.
type ReferenceCLI struct {
	store ReferenceSeeder
}

// NewReferenceCLI constructs the helper.
func NewReferenceCLI(store ReferenceSeeder) (*ReferenceCLI, error) {
	if store == nil {
		return nil, errors.New("reference cli: store required")
	}
	return &ReferenceCLI{store: store}, nil
}

var referenceHeaders = map[string]string{
	"code":              "code",
	"legacy_code":       "legacy_code",
	"label":             "label",
	"category":          "category_code",
	"category_code":     "category_code",
	"list_price":        "list_price",
	"price":             "list_price",
	"form":              "form",
	"family":            "family",
	"lab":               "lab",
	"therapeutic_class": "therapeutic_class",
}

// ImportCommand reads a CSV or xlsx file and seeds the reference store.
func (c *ReferenceCLI) ImportCommand(ctx context.Context, opts ReferenceImportOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if strings.TrimSpace(opts.Path) == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "reference import: a file path is required")
		return 1
	}
	data, err := os.ReadFile(opts.Path)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reference import: %v\n", err)
		return 1
	}
	rows, err := readRows(filepath.Ext(opts.Path), data)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reference import: %v\n", err)
		return 1
	}
	entries, skipped, err := parseEntries(rows)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reference import: %v\n", err)
		return 1
	}
	if err := c.store.Migrate(); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reference import: migrate: %v\n", err)
		return 1
	}
	if err := c.store.Seed(ctx, entries); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reference import: seed: %v\n", err)
		return 1
	}

	summary := ReferenceImportSummary{OK: true, Imported: len(entries), Skipped: skipped}
	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "reference import: encode: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(opts.Stdout, "imported %d reference products\n", summary.Imported)
	for _, s := range skipped {
		_, _ = fmt.Fprintf(opts.Stdout, "skipped %s\n", s)
	}
	return 0
}

func readRows(ext string, data []byte) ([][]string, error) {
	switch strings.ToLower(ext) {
	case ".xlsx":
		f, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open workbook: %w", err)
		}
		defer f.Close()
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.New("workbook has no sheet")
		}
		return f.GetRows(sheets[0])
	case ".csv", ".txt":
		r := csv.NewReader(bytes.NewReader(data))
		r.FieldsPerRecord = -1
		first, _, _ := bytes.Cut(data, []byte("\n"))
		if bytes.Count(first, []byte(";")) > bytes.Count(first, []byte(",")) {
			r.Comma = ';'
		}
		return r.ReadAll()
	default:
		return nil, fmt.Errorf("unsupported file type %q", ext)
	}
}

func parseEntries(rows [][]string) ([]reference.Entry, []string, error) {
	if len(rows) == 0 {
		return nil, nil, errors.New("file is empty")
	}
	index := map[string]int{}
	for i, h := range rows[0] {
		if field, ok := referenceHeaders[strings.ToLower(strings.TrimSpace(h))]; ok {
			index[field] = i
		}
	}
	if _, ok := index["code"]; !ok {
		return nil, nil, errors.New("header must contain a code column")
	}
	cell := func(row []string, field string) string {
		i, ok := index[field]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	seen := map[string]struct{}{}
	var entries []reference.Entry
	var skipped []string
	for n, row := range rows[1:] {
		code := cell(row, "code")
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			skipped = append(skipped, fmt.Sprintf("row %d: duplicate code %s", n+2, code))
			continue
		}
		price := decimal.Zero
		if raw := strings.ReplaceAll(cell(row, "list_price"), ",", "."); raw != "" {
			p, err := decimal.NewFromString(raw)
			if err != nil {
				skipped = append(skipped, fmt.Sprintf("row %d: invalid price %q", n+2, raw))
				continue
			}
			price = p
		}
		seen[code] = struct{}{}
		entries = append(entries, reference.Entry{
			Code:             code,
			LegacyCode:       cell(row, "legacy_code"),
			Label:            cell(row, "label"),
			CategoryCode:     cell(row, "category_code"),
			ListPrice:        price,
			Form:             cell(row, "form"),
			Family:           cell(row, "family"),
			Lab:              cell(row, "lab"),
			TherapeuticClass: cell(row, "therapeutic_class"),
		})
	}
	return entries, skipped, nil
}

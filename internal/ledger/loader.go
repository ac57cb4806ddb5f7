// Package ledger loads loan ledgers and payment-type history from tabular
// (CSV, XLSX) and structured (JSON) files.
package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pik-sentinel/internal/model"
)

// Format is a supported input file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ResolveFormat returns the explicit format if given, otherwise infers it
// from the file extension.
func ResolveFormat(path, explicit string) (Format, error) {
	f := strings.ToLower(strings.TrimSpace(explicit))
	if f == "" {
		f = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	switch Format(f) {
	case FormatCSV, FormatJSON, FormatXLSX:
		return Format(f), nil
	}
	return "", eris.Wrapf(model.ErrUnsupportedFormat, "ledger: format %q (use csv, json or xlsx)", f)
}

// Result is the outcome of loading a ledger. Errors lists the records that
// failed validation; the valid remainder is in Loans.
type Result struct {
	Loans  []model.LoanRecord      `json:"loans"`
	Errors []model.ValidationError `json:"validation_errors"`
}

// Load parses the ledger at path. Per-record problems are collected in
// Result.Errors and never fail the call; only a missing file, an unsupported
// format or an unparseable file do.
func Load(ctx context.Context, path, format string) (*Result, error) {
	log := zap.L().With(zap.String("path", path))

	f, err := ResolveFormat(path, format)
	if err != nil {
		return nil, err
	}
	rows, err := readRecords(ctx, path, f, "loans")
	if err != nil {
		return nil, eris.Wrap(err, "ledger: load")
	}

	res := &Result{Loans: []model.LoanRecord{}, Errors: []model.ValidationError{}}
	for _, row := range rows {
		loan, err := row.rec.loan()
		if err != nil {
			ve := row.validationError(err)
			log.Warn("ledger: skipping invalid record", zap.String("error", ve.Error()))
			res.Errors = append(res.Errors, ve)
			continue
		}
		res.Loans = append(res.Loans, loan)
	}

	log.Info("ledger: parsed",
		zap.Int("valid", len(res.Loans)),
		zap.Int("invalid", len(res.Errors)),
	)
	return res, nil
}

// sourceRow is a raw record with its position in the file.
type sourceRow struct {
	rec   record
	raw   map[string]any
	row   int // 1-based line, CSV only
	index int
}

func (s sourceRow) validationError(err error) model.ValidationError {
	return model.ValidationError{
		Row:     s.row,
		Index:   s.index,
		Message: validationMessage(err),
		Data:    s.raw,
	}
}

// readRecords opens path and returns its raw records. wrapKey names the
// object key that may wrap a JSON array ("loans", "history").
func readRecords(ctx context.Context, path string, f Format, wrapKey string) ([]sourceRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, eris.Wrapf(model.ErrNotFound, "file %s", path)
		}
		return nil, eris.Wrapf(err, "read %s", path)
	}
	switch f {
	case FormatCSV:
		return readCSV(ctx, bytes.NewReader(data))
	case FormatXLSX:
		return readXLSX(ctx, data)
	default:
		return readJSON(data, wrapKey)
	}
}

func readCSV(ctx context.Context, r io.Reader) ([]sourceRow, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "csv: read header")
	}

	var body [][]string
	for {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "csv: context cancelled")
		}
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "csv: read row")
		}
		body = append(body, fields)
	}
	return tableRows(header, body), nil
}

// tableRows keys each body row by the header. Row numbers count the header
// as line 1; nil body rows are skipped.
func tableRows(header []string, body [][]string) []sourceRow {
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	rows := make([]sourceRow, 0, len(body))
	for idx, fields := range body {
		if fields == nil {
			continue
		}
		raw := make(map[string]any, len(header))
		for i, h := range header {
			if i < len(fields) && h != "" {
				raw[h] = strings.TrimSpace(fields[i])
			}
		}
		rows = append(rows, sourceRow{rec: newRecord(raw), raw: raw, row: idx + 2, index: idx})
	}
	return rows
}

func readJSON(data []byte, wrapKey string) ([]sourceRow, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var top any
	if err := dec.Decode(&top); err != nil {
		return nil, eris.Wrap(err, "json: decode")
	}

	var items []any
	switch t := top.(type) {
	case []any:
		items = t
	case map[string]any:
		inner, ok := t[wrapKey].([]any)
		if !ok {
			return nil, eris.Errorf("json: must be an array or an object with a %q array", wrapKey)
		}
		items = inner
	default:
		return nil, eris.Errorf("json: must be an array or an object with a %q array", wrapKey)
	}

	rows := make([]sourceRow, 0, len(items))
	for idx, item := range items {
		raw, ok := item.(map[string]any)
		if !ok {
			raw = map[string]any{"value": item}
		}
		rows = append(rows, sourceRow{rec: newRecord(raw), raw: raw, index: idx})
	}
	return rows, nil
}

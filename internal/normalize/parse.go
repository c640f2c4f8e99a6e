// Package normalize turns uploaded spreadsheets into canonical lead rows.
package normalize

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Table is a parsed tabular file: one header row plus data rows.
type Table struct {
	Headers []string
	Records [][]string
}

// UnsupportedFormatError is returned for uploads that are neither CSV nor XLSX.
type UnsupportedFormatError struct {
	Filename string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file type %q: expected .csv or .xlsx", filepath.Ext(e.Filename))
}

// ErrNoHeader is returned when a file has no header row.
var ErrNoHeader = errors.New("file has no header row")

const utf8BOM = "\ufeff"

// Parse dispatches on the file extension.
func Parse(filename string, data []byte) (*Table, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt":
		return ParseCSV(bytes.NewReader(data))
	case ".xlsx", ".xlsm":
		return ParseXLSX(bytes.NewReader(data))
	default:
		return nil, &UnsupportedFormatError{Filename: filename}
	}
}

// ParseCSV reads a comma separated file. Ragged rows are allowed.
func ParseCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	return newTable(rows)
}

// ParseXLSX reads the first worksheet of an Excel workbook.
func ParseXLSX(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoHeader
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	return newTable(rows)
}

func newTable(rows [][]string) (*Table, error) {
	// Leading empty lines before the header are common in exported sheets.
	for len(rows) > 0 && isBlank(rows[0]) {
		rows = rows[1:]
	}
	if len(rows) == 0 {
		return nil, ErrNoHeader
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		if i == 0 {
			h = strings.TrimPrefix(h, utf8BOM)
		}
		headers[i] = strings.TrimSpace(h)
	}

	return &Table{Headers: headers, Records: rows[1:]}, nil
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Package output writes report tables as CSV files and combines them into
// Excel workbooks.
package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/dataverse-reports/dataverse-reports/internal/reports"
)

// Writer implements reports.Output on the local filesystem.
type Writer struct{}

// NewWriter returns a filesystem-backed report writer.
func NewWriter() *Writer {
	return &Writer{}
}

// SaveReportCSV writes records as a CSV table with the given header row.
// Record keys outside the header list are ignored; missing keys produce empty
// cells. A declared column holding a non-scalar value is an error.
func (w *Writer) SaveReportCSV(path string, headers []string, records []reports.Record) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(headers); err != nil {
		return "", fmt.Errorf("failed to write header row: %w", err)
	}

	row := make([]string, len(headers))
	for i, record := range records {
		for col, header := range headers {
			cell, err := formatCell(record[header])
			if err != nil {
				return "", fmt.Errorf("row %d, column %q: %w", i+1, header, err)
			}
			row[col] = cell
		}
		if err := cw.Write(row); err != nil {
			return "", fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", fmt.Errorf("failed to flush report file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close report file: %w", err)
	}
	return path, nil
}

// formatCell renders a record value as a CSV cell. Absent values become the
// empty string.
func formatCell(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("unsupported cell value of type %T", value)
	}
}

// SaveReportWorkbook combines CSV tables into one Excel workbook, one
// worksheet per table. Worksheets are named after the CSV file with any
// account prefix stripped, so "example-datasets.csv" becomes "datasets".
func (w *Writer) SaveReportWorkbook(path string, worksheetCSVs []string) (string, error) {
	if len(worksheetCSVs) == 0 {
		return "", fmt.Errorf("no worksheets to combine")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	book := excelize.NewFile()
	defer book.Close()

	for i, csvPath := range worksheetCSVs {
		name := worksheetName(csvPath)
		if i == 0 {
			// Rename the default sheet instead of leaving it empty.
			if err := book.SetSheetName(book.GetSheetName(0), name); err != nil {
				return "", fmt.Errorf("failed to name worksheet %q: %w", name, err)
			}
		} else {
			if _, err := book.NewSheet(name); err != nil {
				return "", fmt.Errorf("failed to add worksheet %q: %w", name, err)
			}
		}
		if err := fillWorksheet(book, name, csvPath); err != nil {
			return "", err
		}
	}

	if err := book.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save workbook: %w", err)
	}
	return path, nil
}

// worksheetName derives a sheet name from a CSV path, dropping the
// per-account prefix before the first dash when one is present.
func worksheetName(csvPath string) string {
	name := strings.TrimSuffix(filepath.Base(csvPath), filepath.Ext(csvPath))
	if _, rest, found := strings.Cut(name, "-"); found && rest != "" {
		return rest
	}
	return name
}

// fillWorksheet copies a CSV table into a workbook sheet row by row.
func fillWorksheet(book *excelize.File, sheet, csvPath string) error {
	f, err := os.Open(csvPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", csvPath, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", csvPath, err)
	}

	for i, row := range rows {
		cells := make([]any, len(row))
		for j, cell := range row {
			cells[j] = cell
		}
		start, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("failed to address row %d: %w", i+1, err)
		}
		if err := book.SetSheetRow(sheet, start, &cells); err != nil {
			return fmt.Errorf("failed to write row %d of %s: %w", i+1, sheet, err)
		}
	}
	return nil
}

// Package sheet extracts transaction rows from spreadsheet bill exports.
// The header row is never assumed to be first: platform exports carry text
// preambles, so rows are scanned for the header signature and the grid is
// re-sliced from there.
package sheet

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/captainmuzzol/billSherlock/internal/domain/bill"
	"github.com/captainmuzzol/billSherlock/internal/domain/bill/tabular"
)

// Extract loads a spreadsheet file (.xlsx/.xls/.csv), locates the header row
// and maps the data rows to records. A sheet with no recognizable header
// yields no records and no error.
func Extract(path string) ([]bill.Record, error) {
	var (
		grid [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		grid, err = loadCSV(path)
	default:
		grid, err = loadWorkbook(path)
	}
	if err != nil {
		return nil, err
	}

	headerIdx, billType := tabular.FindHeader(grid)
	if headerIdx < 0 {
		return nil, nil
	}
	layout, ok := tabular.LayoutFor(billType)
	if !ok {
		return nil, nil
	}
	return tabular.MapGrid(grid, headerIdx, layout, filepath.Base(path)), nil
}

func loadWorkbook(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

func loadCSV(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	data = stripBOM(data)

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var grid [][]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// platform CSV exports embed free-form remark lines; skip them
			continue
		}
		grid = append(grid, record)
	}
	return grid, nil
}

func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

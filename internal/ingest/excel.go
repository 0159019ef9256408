package ingest

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// excelRowReader adapts the first sheet of an XLSX workbook to RowReader so
// spreadsheet exports run through the same pipeline as CSV.
type excelRowReader struct {
	rows [][]string
	next int
}

// NewExcelRowReader reads the first sheet of an XLSX document. The whole
// sheet is materialized up front; sensor exports are small enough for that.
func NewExcelRowReader(r io.Reader) (RowReader, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("xlsx has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}

	return &excelRowReader{rows: rows}, nil
}

func (e *excelRowReader) Read() ([]string, error) {
	if e.next >= len(e.rows) {
		return nil, io.EOF
	}
	row := e.rows[e.next]
	e.next++
	return row, nil
}

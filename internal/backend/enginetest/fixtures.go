package enginetest

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

// Sheet is one worksheet of a fixture workbook.
type Sheet struct {
	Name string
	Rows [][]any
}

// WriteWorkbook saves sheets as an .xlsx file named name inside a fresh
// temporary directory and returns its path.
func WriteWorkbook(tb testing.TB, name string, sheets ...Sheet) string {
	tb.Helper()

	f := excelize.NewFile()
	defer f.Close()

	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.Name); err != nil {
				tb.Fatalf("rename sheet: %v", err)
			}
		} else if _, err := f.NewSheet(s.Name); err != nil {
			tb.Fatalf("new sheet %q: %v", s.Name, err)
		}
		for r, row := range s.Rows {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				tb.Fatal(err)
			}
			values := row
			if err := f.SetSheetRow(s.Name, cell, &values); err != nil {
				tb.Fatalf("write %s!%s: %v", s.Name, cell, err)
			}
		}
	}

	path := filepath.Join(tb.TempDir(), name)
	if err := f.SaveAs(path); err != nil {
		tb.Fatalf("save workbook: %v", err)
	}
	return path
}

// NumberedRows builds n rows of the form {"row<i>", i, "x"} starting at 1.
func NumberedRows(n int) [][]any {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{fmt.Sprintf("row%d", i+1), i + 1, "x"}
	}
	return rows
}

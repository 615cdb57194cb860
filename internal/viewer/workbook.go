package viewer

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/kcoder666/sheetflow/internal/backend"
	"github.com/kcoder666/sheetflow/internal/core"
)

// workbookSession keeps a workbook open in memory and reads pages cell by
// cell.
type workbookSession struct {
	f          *excelize.File
	sheets     []core.WorksheetDescriptor
	sampleRows int

	current string
	total   int
	columns []core.Column
}

func openWorkbook(ctx context.Context, path string, sampleRows int) (*workbookSession, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", core.ErrSheetUnavailable, err)
	}

	s := &workbookSession{f: f, sampleRows: sampleRows}
	for _, name := range f.GetSheetList() {
		rows, cols, err := backend.Extent(f, name)
		if err != nil {
			s.sheets = append(s.sheets, core.NewWorksheetDescriptor(name, false, -1, -1))
			continue
		}
		s.sheets = append(s.sheets, core.NewWorksheetDescriptor(name, true, rows, cols))
	}
	if len(s.sheets) == 0 {
		f.Close()
		return nil, fmt.Errorf("%w: workbook has no sheets", core.ErrSheetUnavailable)
	}

	if _, err := s.selectSheet(ctx, s.sheets[0].Name); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *workbookSession) info() Info {
	return Info{
		FileType:     KindSpreadsheet,
		TotalRows:    s.total,
		Columns:      s.columns,
		Sheets:       s.sheets,
		CurrentSheet: s.current,
	}
}

// selectSheet materializes name to size it and infer its columns. Nothing
// is changed unless every step succeeds.
func (s *workbookSession) selectSheet(ctx context.Context, name string) (SheetInfo, error) {
	if idx, err := s.f.GetSheetIndex(name); err != nil || idx < 0 {
		return SheetInfo{}, fmt.Errorf("%w: sheet %s does not exist", core.ErrSheetUnavailable, name)
	}
	raw, err := s.f.GetRows(name)
	if err != nil {
		return SheetInfo{}, fmt.Errorf("%w: %v", core.ErrSheetUnavailable, err)
	}
	if err := ctx.Err(); err != nil {
		return SheetInfo{}, err
	}

	total, columns := describeRows(raw, s.sampleRows)
	s.current, s.total, s.columns = name, total, columns
	return SheetInfo{TotalRows: total, Columns: columns}, nil
}

// describeRows treats the first row as the header.
func describeRows(raw [][]string, sampleRows int) (int, []core.Column) {
	if len(raw) == 0 {
		return 0, []core.Column{}
	}
	samples := make([]core.Row, 0, sampleRows)
	for _, r := range raw[1:] {
		if len(samples) == sampleRows {
			break
		}
		samples = append(samples, core.Row(r))
	}
	return len(raw) - 1, core.InferColumns(raw[0], samples)
}

// readPage reads only the addressed cells of the requested rows.
func (s *workbookSession) readPage(ctx context.Context, start, size int) (Page, error) {
	end := min(start+size, s.total)
	width := len(s.columns)

	rows := make([]core.Row, 0, max(end-start, 0))
	for r := start; r < end; r++ {
		if err := ctx.Err(); err != nil {
			return Page{}, err
		}
		row := make(core.Row, width)
		for c := 0; c < width; c++ {
			// data row r sits below the header, at sheet row r+2
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return Page{}, err
			}
			v, err := s.f.GetCellValue(s.current, cell)
			if err != nil {
				return Page{}, fmt.Errorf("read %s!%s: %w", s.current, cell, err)
			}
			row[c] = v
		}
		rows = append(rows, row)
	}
	return newPage(rows, start, s.total, width), nil
}

func (s *workbookSession) close() error {
	return s.f.Close()
}

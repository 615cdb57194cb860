package backend

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/kcoder666/sheetflow/internal/core"
)

// Memory is the in-memory adapter. It loads the workbook with excelize and
// materializes a sheet's rows in one call.
type Memory struct{}

// NewMemory creates the in-memory adapter.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Name() string { return TierMemory }

// ListWorksheets returns every declared sheet in workbook order. A sheet
// whose rows cannot be materialized is reported with Accessible=false and
// no estimates.
func (m *Memory) ListWorksheets(ctx context.Context, path string) ([]core.WorksheetDescriptor, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	names := f.GetSheetList()
	out := make([]core.WorksheetDescriptor, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, cols, err := Extent(f, name)
		if err != nil {
			out = append(out, core.NewWorksheetDescriptor(name, false, -1, -1))
			continue
		}
		out = append(out, core.NewWorksheetDescriptor(name, true, rows, cols))
	}
	return out, nil
}

// ReadRows returns rows [start, start+count) of sheet.
func (m *Memory) ReadRows(ctx context.Context, path, sheet string, start, count int) ([]core.Row, error) {
	it, err := m.OpenRows(ctx, path, sheet)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	return readWindow(ctx, it, start, count)
}

// OpenRows materializes the whole sheet and releases the workbook before
// returning. Any failure is reported as ErrSheetUnavailable so the caller
// can fall back to a streaming reader.
func (m *Memory) OpenRows(ctx context.Context, path, sheet string) (RowIterator, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", core.ErrSheetUnavailable, err)
	}
	defer f.Close()

	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("%w: sheet %s does not exist", core.ErrSheetUnavailable, sheet)
	}

	raw, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrSheetUnavailable, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows := make([]core.Row, len(raw))
	for i, r := range raw {
		rows[i] = core.Row(r)
	}
	return NewSliceIterator(rows), nil
}

// Extent materializes sheet and returns its row count (through the last
// row holding a value) and its widest row.
func Extent(f *excelize.File, sheet string) (rows, cols int, err error) {
	raw, err := f.GetRows(sheet)
	if err != nil {
		return 0, 0, err
	}
	for _, r := range raw {
		if len(r) > cols {
			cols = len(r)
		}
	}
	return len(raw), cols, nil
}

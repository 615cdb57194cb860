package backend

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/kcoder666/sheetflow/internal/core"
)

// Stream is the streaming adapter. Rows are decoded one at a time with the
// excelize row iterator, so memory stays bounded by the widest row. The
// total row count is only known after a full pass.
type Stream struct{}

// NewStream creates the streaming adapter.
func NewStream() *Stream {
	return &Stream{}
}

func (s *Stream) Name() string { return TierStream }

// ListWorksheets walks every sheet once, so the counts are exact: rows is
// the number of non-empty rows and columns the widest row seen.
func (s *Stream) ListWorksheets(ctx context.Context, path string) ([]core.WorksheetDescriptor, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	names := f.GetSheetList()
	out := make([]core.WorksheetDescriptor, 0, len(names))
	for _, name := range names {
		rows, cols, err := countSheet(ctx, f, name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			out = append(out, core.NewWorksheetDescriptor(name, false, -1, -1))
			continue
		}
		out = append(out, core.NewWorksheetDescriptor(name, true, rows, cols))
	}
	return out, nil
}

// CountRows returns the non-empty row count and width of one sheet.
func (s *Stream) CountRows(ctx context.Context, path, sheet string) (rows, cols int, err error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return countSheet(ctx, f, sheet)
}

func countSheet(ctx context.Context, f *excelize.File, sheet string) (rows, cols int, err error) {
	it, err := f.Rows(sheet)
	if err != nil {
		return 0, 0, err
	}
	defer it.Close()

	for i := 0; it.Next(); i++ {
		if i%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return 0, 0, err
			}
		}
		cells, err := it.Columns()
		if err != nil {
			return 0, 0, err
		}
		if core.Row(cells).IsEmpty() {
			continue
		}
		rows++
		if len(cells) > cols {
			cols = len(cells)
		}
	}
	return rows, cols, it.Error()
}

// ReadRows streams forward to start and returns up to count rows.
func (s *Stream) ReadRows(ctx context.Context, path, sheet string, start, count int) ([]core.Row, error) {
	it, err := s.OpenRows(ctx, path, sheet)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	return readWindow(ctx, it, start, count)
}

// OpenRows opens sheet for a single forward pass. The returned iterator
// holds the workbook open until Close.
func (s *Stream) OpenRows(ctx context.Context, path, sheet string) (RowIterator, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", core.ErrSheetUnavailable, err)
	}
	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", core.ErrSheetUnavailable, err)
	}
	return &streamIterator{file: f, rows: rows}, nil
}

type streamIterator struct {
	file *excelize.File
	rows *excelize.Rows
	row  core.Row
	err  error
	done bool
}

func (it *streamIterator) Next() bool {
	if it.done {
		return false
	}
	if !it.rows.Next() {
		it.done = true
		it.err = it.rows.Error()
		return false
	}
	cells, err := it.rows.Columns()
	if err != nil {
		it.done = true
		it.err = err
		return false
	}
	it.row = core.Row(cells)
	return true
}

func (it *streamIterator) Row() core.Row { return it.row }

func (it *streamIterator) Err() error { return it.err }

func (it *streamIterator) Close() error {
	rerr := it.rows.Close()
	ferr := it.file.Close()
	if rerr != nil {
		return rerr
	}
	return ferr
}

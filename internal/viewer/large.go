package viewer

import (
	"context"
	"fmt"

	"github.com/kcoder666/sheetflow/internal/backend"
	"github.com/kcoder666/sheetflow/internal/core"
	"github.com/kcoder666/sheetflow/internal/logging"
)

// largeSession serves workbooks too big or too unusual for the in-memory
// reader. The external engine lists the sheets and their sizes; pages come
// from a streaming scan, or from the engine when the sheet cannot be
// streamed either. The reader is fixed when a sheet is selected and every
// page of that sheet comes from it, since the two number rows differently.
type largeSession struct {
	path       string
	engine     backend.Adapter
	stream     backend.RowSource
	sheets     []core.WorksheetDescriptor
	sampleRows int

	current string
	reader  backend.Adapter
	total   int
	columns []core.Column
}

// rowCounter reports the number of rows an adapter's ReadRows numbers,
// header included.
type rowCounter interface {
	CountRows(ctx context.Context, path, sheet string) (int, error)
}

func openEngine(ctx context.Context, path string, engine backend.Adapter, stream backend.RowSource, sampleRows int) (*largeSession, error) {
	if engine == nil {
		return nil, &core.EngineUnavailableError{Tried: []string{"no engine configured"}}
	}
	sheets, err := engine.ListWorksheets(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("list worksheets: %w", err)
	}
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", core.ErrSheetUnavailable)
	}

	s := &largeSession{path: path, engine: engine, stream: stream, sheets: sheets, sampleRows: sampleRows}
	first := sheets[0].Name
	for _, d := range sheets {
		if d.Accessible {
			first = d.Name
			break
		}
	}
	if _, err := s.selectSheet(ctx, first); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *largeSession) info() Info {
	return Info{
		FileType:     KindSpreadsheet,
		TotalRows:    s.total,
		Columns:      s.columns,
		Sheets:       s.sheets,
		CurrentSheet: s.current,
	}
}

func (s *largeSession) descriptor(name string) (core.WorksheetDescriptor, bool) {
	for _, d := range s.sheets {
		if d.Name == name {
			return d, true
		}
	}
	return core.WorksheetDescriptor{}, false
}

func (s *largeSession) selectSheet(ctx context.Context, name string) (SheetInfo, error) {
	d, ok := s.descriptor(name)
	if !ok {
		return SheetInfo{}, fmt.Errorf("%w: sheet %s does not exist", core.ErrSheetUnavailable, name)
	}
	if !d.Accessible {
		return SheetInfo{}, fmt.Errorf("%w: sheet %s is not readable", core.ErrSheetUnavailable, name)
	}

	reader, streamed, head, err := s.pickReader(ctx, name)
	if err != nil {
		return SheetInfo{}, err
	}
	raw := make([][]string, len(head))
	for i, r := range head {
		raw[i] = r
	}
	total, columns := describeRows(raw, s.sampleRows)
	if streamed {
		// Streaming counts every sheet row, as the engine listing does.
		if n := d.Rows(); n > 0 {
			total = n - 1
		}
	} else if counter, ok := reader.(rowCounter); ok {
		n, err := counter.CountRows(ctx, s.path, name)
		if err != nil {
			return SheetInfo{}, err
		}
		total = max(n-1, 0)
	}

	s.current, s.reader, s.total, s.columns = name, reader, total, columns
	return SheetInfo{TotalRows: total, Columns: columns}, nil
}

// pickReader chooses the reader for sheet and returns its first rows.
// Streaming is preferred; the engine serves sheets that cannot be streamed.
func (s *largeSession) pickReader(ctx context.Context, sheet string) (backend.Adapter, bool, []core.Row, error) {
	if s.stream != nil {
		head, err := s.stream.ReadRows(ctx, s.path, sheet, 0, s.sampleRows+1)
		if err == nil {
			return s.stream, true, head, nil
		}
		if ctx.Err() != nil {
			return nil, false, nil, ctx.Err()
		}
		logging.FromContext(ctx).Warn("streaming read failed, reading through external engine", "sheet", sheet, "error", err)
	}
	head, err := s.engine.ReadRows(ctx, s.path, sheet, 0, s.sampleRows+1)
	if err != nil {
		return nil, false, nil, err
	}
	return s.engine, false, head, nil
}

func (s *largeSession) readPage(ctx context.Context, start, size int) (Page, error) {
	if start >= s.total {
		return newPage(nil, start, s.total, len(s.columns)), nil
	}
	count := min(size, s.total-start)
	rows, err := s.reader.ReadRows(ctx, s.path, s.current, start+1, count)
	if err != nil {
		return Page{}, err
	}
	return newPage(rows, start, s.total, len(s.columns)), nil
}

func (s *largeSession) close() error { return nil }

// Package viewer serves fixed-size pages of rows from a CSV file or a
// workbook sheet without holding the whole file in memory.
//
// A Viewer holds at most one open session. Opening another file closes the
// previous session first:
//
//	v := viewer.New(cfg.Viewer, cfg.Engine.LargeFileThreshold, engine, backend.NewStream())
//	info, err := v.Open(ctx, "/data/report.csv")
//	page, err := v.ReadPage(ctx, 0, 100)
//	defer v.Close()
package viewer

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/kcoder666/sheetflow/internal/backend"
	"github.com/kcoder666/sheetflow/internal/config"
	"github.com/kcoder666/sheetflow/internal/core"
	"github.com/kcoder666/sheetflow/internal/logging"
)

// FileKind is the kind of file a session reads.
type FileKind string

const (
	KindCSV         FileKind = "csv"
	KindSpreadsheet FileKind = "spreadsheet"
)

// Info describes a freshly opened file.
type Info struct {
	FileType     FileKind                   `json:"fileType"`
	TotalRows    int                        `json:"totalRows"`
	Columns      []core.Column              `json:"columns"`
	Sheets       []core.WorksheetDescriptor `json:"sheets,omitempty"`
	CurrentSheet string                     `json:"currentSheet,omitempty"`
}

// SheetInfo describes the selected sheet.
type SheetInfo struct {
	TotalRows int           `json:"totalRows"`
	Columns   []core.Column `json:"columns"`
}

// Page is one window of data rows. Row numbers are 0-based and exclude the
// header; EndRow is exclusive.
type Page struct {
	Rows      []core.Row `json:"rows"`
	StartRow  int        `json:"startRow"`
	EndRow    int        `json:"endRow"`
	TotalRows int        `json:"totalRows"`
	HasMore   bool       `json:"hasMore"`
}

// session is one open file. Implementations need not be safe for
// concurrent use; the Viewer serializes calls.
type session interface {
	info() Info
	selectSheet(ctx context.Context, name string) (SheetInfo, error)
	readPage(ctx context.Context, start, size int) (Page, error)
	close() error
}

// Viewer is a single-session paginated reader. It is safe for concurrent
// use; calls are serialized.
type Viewer struct {
	cfg       config.ViewerConfig
	threshold int64
	engine    backend.Adapter
	stream    backend.RowSource

	mu   sync.Mutex
	path string
	sess session
}

// New creates a viewer. Workbooks at or above threshold bytes, or that the
// in-memory reader cannot open, are listed by engine and paged through
// stream. Either may be nil to disable that path.
func New(cfg config.ViewerConfig, threshold int64, engine backend.Adapter, stream backend.RowSource) *Viewer {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 100
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 5000
	}
	if cfg.TypeSampleRows <= 0 {
		cfg.TypeSampleRows = 50
	}
	return &Viewer{cfg: cfg, threshold: threshold, engine: engine, stream: stream}
}

// Open closes any current session and opens path.
func (v *Viewer) Open(ctx context.Context, path string) (Info, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.sess != nil {
		if err := v.sess.close(); err != nil {
			logging.FromContext(ctx).Warn("closing previous viewer session", "path", v.path, "error", err)
		}
		v.sess, v.path = nil, ""
	}

	info, err := os.Stat(path)
	if err != nil {
		return Info{}, core.InvalidInputf("open %s: %v", path, err)
	}
	if info.IsDir() {
		return Info{}, core.InvalidInputf("%s is a directory", path)
	}

	var sess session
	switch {
	case backend.IsCSV(path):
		sess, err = openCSV(ctx, path, v.cfg)
	case backend.IsSpreadsheet(path):
		sess, err = v.openSpreadsheet(ctx, path, info.Size())
	default:
		return Info{}, core.InvalidInputf("unsupported file type %q", path)
	}
	if err != nil {
		return Info{}, err
	}

	v.sess, v.path = sess, path
	return sess.info(), nil
}

func (v *Viewer) openSpreadsheet(ctx context.Context, path string, size int64) (session, error) {
	if v.threshold > 0 && size >= v.threshold {
		return openEngine(ctx, path, v.engine, v.stream, v.cfg.TypeSampleRows)
	}

	sess, err := openWorkbook(ctx, path, v.cfg.TypeSampleRows)
	if err == nil {
		return sess, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	logging.FromContext(ctx).Warn("in-memory open failed, using external engine", "path", path, "error", err)
	return openEngine(ctx, path, v.engine, v.stream, v.cfg.TypeSampleRows)
}

// SelectSheet switches the current sheet. On failure the previous sheet
// stays selected. A failure of the in-memory reader moves the session to
// the external engine.
func (v *Viewer) SelectSheet(ctx context.Context, name string) (SheetInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.sess == nil {
		return SheetInfo{}, core.ErrNotInitialized
	}
	if v.sess.info().FileType != KindSpreadsheet {
		return SheetInfo{}, core.InvalidInputf("csv files have no sheets")
	}

	si, err := v.sess.selectSheet(ctx, name)
	if err == nil {
		return si, nil
	}
	if _, inMemory := v.sess.(*workbookSession); !inMemory || ctx.Err() != nil {
		return SheetInfo{}, err
	}

	log := logging.FromContext(ctx)
	log.Warn("in-memory sheet read failed, trying external engine", "sheet", name, "error", err)

	fallback, ferr := openEngine(ctx, v.path, v.engine, v.stream, v.cfg.TypeSampleRows)
	if ferr != nil {
		return SheetInfo{}, fmt.Errorf("%w (engine fallback: %v)", err, ferr)
	}
	si, ferr = fallback.selectSheet(ctx, name)
	if ferr != nil {
		fallback.close()
		return SheetInfo{}, fmt.Errorf("%w (engine fallback: %v)", err, ferr)
	}

	v.sess.close()
	v.sess = fallback
	return si, nil
}

// ReadPage returns up to size data rows starting at start. A size of 0
// uses the default page size; larger sizes are capped.
func (v *Viewer) ReadPage(ctx context.Context, start, size int) (Page, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.sess == nil {
		return Page{}, core.ErrNotInitialized
	}
	if start < 0 || size < 0 {
		return Page{}, core.InvalidInputf("page %d+%d is negative", start, size)
	}
	if size == 0 {
		size = v.cfg.DefaultPageSize
	}
	if size > v.cfg.MaxPageSize {
		size = v.cfg.MaxPageSize
	}
	return v.sess.readPage(ctx, start, size)
}

// Info returns the current session's description.
func (v *Viewer) Info() (Info, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sess == nil {
		return Info{}, core.ErrNotInitialized
	}
	return v.sess.info(), nil
}

// Close releases the session. It is safe to call more than once.
func (v *Viewer) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sess == nil {
		return nil
	}
	err := v.sess.close()
	v.sess, v.path = nil, ""
	return err
}

// newPage assembles a Page, padding rows to width.
func newPage(rows []core.Row, start, total, width int) Page {
	for i, r := range rows {
		if len(r) < width {
			padded := make(core.Row, width)
			copy(padded, r)
			rows[i] = padded
		}
	}
	if rows == nil {
		rows = []core.Row{}
	}
	end := start + len(rows)
	return Page{
		Rows:      rows,
		StartRow:  start,
		EndRow:    end,
		TotalRows: total,
		HasMore:   end < total,
	}
}

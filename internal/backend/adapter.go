// Package backend provides the three spreadsheet readers the conversion
// tiers choose from:
//
//   - Memory: parses the whole workbook with excelize (fast, random access)
//   - Stream: walks rows one at a time with the excelize row iterator
//   - Engine: delegates to an external subprocess for files neither
//     in-process reader can handle
//
// Each adapter owns the workbook handle it opens and never shares it.
package backend

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/kcoder666/sheetflow/internal/core"
)

// Adapter names, used in logs and WorksheetError.Tier.
const (
	TierMemory = "memory"
	TierStream = "stream"
	TierEngine = "engine"
)

// contextCheckInterval is how many rows a scan reads between ctx checks.
const contextCheckInterval = 100

// Adapter is the contract every reader implements.
type Adapter interface {
	Name() string
	ListWorksheets(ctx context.Context, path string) ([]core.WorksheetDescriptor, error)
	ReadRows(ctx context.Context, path, sheet string, start, count int) ([]core.Row, error)
}

// RowSource is an adapter that can hand rows to the writer lazily.
type RowSource interface {
	Adapter
	OpenRows(ctx context.Context, path, sheet string) (RowIterator, error)
}

// RowIterator is a forward-only, single-pass row sequence. Callers must
// Close it. Err reports the error that stopped iteration, if any.
type RowIterator interface {
	Next() bool
	Row() core.Row
	Err() error
	Close() error
}

// sliceIterator serves rows already held in memory.
type sliceIterator struct {
	rows []core.Row
	pos  int
}

// NewSliceIterator iterates over rows.
func NewSliceIterator(rows []core.Row) RowIterator {
	return &sliceIterator{rows: rows, pos: -1}
}

func (it *sliceIterator) Next() bool {
	if it.pos+1 >= len(it.rows) {
		it.pos = len(it.rows)
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Row() core.Row {
	if it.pos < 0 || it.pos >= len(it.rows) {
		return nil
	}
	return it.rows[it.pos]
}

func (it *sliceIterator) Err() error   { return nil }
func (it *sliceIterator) Close() error { return nil }

// Len reports the total number of rows, empty ones included.
func (it *sliceIterator) Len() int { return len(it.rows) }

// readWindow skips start rows of it and collects up to count rows.
func readWindow(ctx context.Context, it RowIterator, start, count int) ([]core.Row, error) {
	if start < 0 || count < 0 {
		return nil, core.InvalidInputf("row window %d+%d is negative", start, count)
	}

	out := make([]core.Row, 0, count)
	for i := 0; len(out) < count && it.Next(); i++ {
		if i%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if i < start {
			continue
		}
		out = append(out, it.Row())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// spreadsheetExts are the workbook formats excelize opens.
var spreadsheetExts = map[string]bool{
	".xlsx": true,
	".xlsm": true,
	".xltx": true,
	".xltm": true,
}

// IsSpreadsheet reports whether path has a workbook extension.
func IsSpreadsheet(path string) bool {
	return spreadsheetExts[strings.ToLower(filepath.Ext(path))]
}

// IsCSV reports whether path has a delimited text extension.
func IsCSV(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".csv" || ext == ".txt"
}

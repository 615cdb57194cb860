package convert

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kcoder666/sheetflow/internal/core"
)

// OutputExt is the extension of every file the writer produces.
const OutputExt = ".csv"

// OutputName returns the file name of part n (1-based) of a worksheet:
// "{base}_{sheet}.csv" for the first file, "{base}_{sheet}_part{n}.csv"
// after that.
func OutputName(base, sheet string, part int) string {
	if part <= 1 {
		return fmt.Sprintf("%s_%s%s", base, sheet, OutputExt)
	}
	return fmt.Sprintf("%s_%s_part%d%s", base, sheet, part, OutputExt)
}

// BaseName strips directory and extension from an input path.
func BaseName(input string) string {
	name := filepath.Base(input)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Writer writes one worksheet's rows to a sequence of bounded files.
//
// Before a row is appended, the current file is closed and a new one started
// if it already holds maxRows rows or the row would push it past maxBytes.
// A file is never closed empty, so a single row larger than maxBytes gets a
// file of its own. Files are created lazily: a writer that receives no rows
// creates nothing.
type Writer struct {
	dir      string
	base     string
	sheet    string
	maxRows  int
	maxBytes int64

	file  *os.File
	buf   *bufio.Writer
	part  int
	count int
	size  int64
	total int
	files []core.OutputFile
}

// NewWriter creates a writer for sheet. Zero limits mean unlimited.
func NewWriter(dir, base, sheet string, maxRows int, maxBytes int64) *Writer {
	return &Writer{
		dir:      dir,
		base:     base,
		sheet:    sheet,
		maxRows:  maxRows,
		maxBytes: maxBytes,
	}
}

// Write appends one row.
func (w *Writer) Write(row core.Row) error {
	line := SerializeRow(row) + "\n"
	n := int64(len(line))

	if w.file != nil && w.count > 0 && w.full(n) {
		if err := w.closeCurrent(); err != nil {
			return err
		}
	}
	if w.file == nil {
		if err := w.openNext(); err != nil {
			return err
		}
	}

	if _, err := w.buf.WriteString(line); err != nil {
		return fmt.Errorf("write %s: %w", w.file.Name(), err)
	}
	w.count++
	w.size += n
	w.total++
	return nil
}

func (w *Writer) full(next int64) bool {
	if w.maxRows > 0 && w.count >= w.maxRows {
		return true
	}
	return w.maxBytes > 0 && w.size+next > w.maxBytes
}

func (w *Writer) openNext() error {
	w.part++
	path := filepath.Join(w.dir, OutputName(w.base, w.sheet, w.part))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	w.file = f
	w.buf = bufio.NewWriterSize(f, 64*1024)
	w.count = 0
	w.size = 0
	return nil
}

func (w *Writer) closeCurrent() error {
	path := w.file.Name()
	ferr := w.buf.Flush()
	cerr := w.file.Close()
	w.file, w.buf = nil, nil
	if err := errors.Join(ferr, cerr); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	w.files = append(w.files, core.OutputFile{Path: path, Rows: w.count})
	return nil
}

// Total returns the number of rows written so far.
func (w *Writer) Total() int {
	return w.total
}

// Close finishes the current file and returns every file written.
func (w *Writer) Close() ([]core.OutputFile, error) {
	if w.file != nil {
		if err := w.closeCurrent(); err != nil {
			return nil, err
		}
	}
	return w.files, nil
}

// Abort closes the current file and removes every file this writer
// created.
func (w *Writer) Abort() {
	if w.file != nil {
		path := w.file.Name()
		w.file.Close()
		w.file, w.buf = nil, nil
		os.Remove(path)
	}
	for _, f := range w.files {
		os.Remove(f.Path)
	}
	w.files = nil
	w.total = 0
}

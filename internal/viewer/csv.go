package viewer

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kcoder666/sheetflow/internal/config"
	"github.com/kcoder666/sheetflow/internal/core"
	"github.com/kcoder666/sheetflow/internal/logging"
)

// csvCheckInterval is how many records a scan reads between ctx checks.
const csvCheckInterval = 1000

// csvSession pages through a delimited text file. It keeps no file handle
// between calls and no row index: every page is a fresh forward scan from
// the top of the file.
type csvSession struct {
	path     string
	encoding string
	total    int
	columns  []core.Column
}

func openCSV(ctx context.Context, path string, cfg config.ViewerConfig) (*csvSession, error) {
	s := &csvSession{path: path, encoding: cfg.CSVEncoding}

	var (
		header  []string
		samples []core.Row
	)
	err := s.scan(ctx, func(rec []string) {
		header = append([]string(nil), rec...)
	}, func(_ int, rec []string) bool {
		if len(samples) < cfg.TypeSampleRows {
			samples = append(samples, core.Row(append([]string(nil), rec...)))
		}
		s.total++
		return true
	})
	if err != nil {
		return nil, err
	}

	s.columns = core.InferColumns(header, samples)
	return s, nil
}

// scan reads the file once. onHeader receives the first record, or is not
// called if that record is malformed; onRow receives each following
// well-formed record with its 0-based data row number and returns false to
// stop. Malformed records are logged and skipped. A quoted field left open
// swallows every line after it, so such a record is skipped by resuming on
// the line after the one it started on.
func (s *csvSession) scan(ctx context.Context, onHeader func([]string), onRow func(int, []string) bool) error {
	r, f, err := s.openAt(0)
	if err != nil {
		return err
	}
	defer func() { f.Close() }()

	log := logging.FromContext(ctx)
	first := true
	row := 0
	offset := 0
	for n := 0; ; n++ {
		if n%csvCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		rec, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return fmt.Errorf("read csv: %w", err)
			}
			log.Warn("skipping malformed csv row", "path", s.path, "line", offset+perr.StartLine, "error", perr.Err)
			first = false
			if perr.Line > perr.StartLine {
				offset += perr.StartLine
				f.Close()
				if r, f, err = s.openAt(offset); err != nil {
					return err
				}
			}
			continue
		}

		if first {
			first = false
			onHeader(rec)
			continue
		}
		if !onRow(row, rec) {
			return nil
		}
		row++
	}
}

// openAt returns a reader positioned after the first skip lines of the
// decoded file.
func (s *csvSession) openAt(skip int) (*csv.Reader, *os.File, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, nil, fmt.Errorf("open csv: %w", err)
	}

	src, _, err := core.WrapForStreaming(f, s.encoding)
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	br := bufio.NewReader(src)
	for skipped := 0; skipped < skip; {
		_, err := br.ReadSlice('\n')
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			break
		}
		skipped++
	}

	r := csv.NewReader(br)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true
	return r, f, nil
}

func (s *csvSession) info() Info {
	return Info{FileType: KindCSV, TotalRows: s.total, Columns: s.columns}
}

func (s *csvSession) selectSheet(context.Context, string) (SheetInfo, error) {
	return SheetInfo{}, core.InvalidInputf("csv files have no sheets")
}

func (s *csvSession) readPage(ctx context.Context, start, size int) (Page, error) {
	end := start + size
	rows := make([]core.Row, 0, size)
	err := s.scan(ctx, func([]string) {}, func(i int, rec []string) bool {
		if i >= end {
			return false
		}
		if i >= start {
			rows = append(rows, core.Row(append([]string(nil), rec...)))
		}
		return true
	})
	if err != nil {
		return Page{}, err
	}
	return newPage(rows, start, s.total, len(s.columns)), nil
}

func (s *csvSession) close() error { return nil }

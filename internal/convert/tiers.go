package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kcoder666/sheetflow/internal/backend"
	"github.com/kcoder666/sheetflow/internal/core"
	"github.com/kcoder666/sheetflow/internal/logging"
)

// DefaultCheckInterval is how many rows are written between cancellation
// checks and progress reports.
const DefaultCheckInterval = 100

// SheetConverter is the part of the engine adapter the strategy needs.
type SheetConverter interface {
	ConvertSheet(ctx context.Context, req backend.ConvertRequest, progress func(backend.EngineProgress)) (backend.ConvertOutput, error)
}

// Progress describes how far a conversion has come.
type Progress struct {
	Sheet      string
	SheetIndex int // 0-based position in the requested worksheet list
	SheetCount int
	Tier       string
	Rows       int // rows written for the current sheet
	TotalRows  int // expected rows for the current sheet, -1 if unknown
	Done       bool
}

// Fraction maps p onto [0,1] across the whole conversion.
func (p Progress) Fraction() float64 {
	if p.SheetCount <= 0 {
		return 0
	}
	within := 0.0
	switch {
	case p.Done:
		within = 1
	case p.TotalRows > 0:
		within = float64(p.Rows) / float64(p.TotalRows)
		if within > 0.99 {
			within = 0.99
		}
	}
	return (float64(p.SheetIndex) + within) / float64(p.SheetCount)
}

// ProgressFunc receives progress updates. It is called on the converting
// goroutine and must not block.
type ProgressFunc func(Progress)

// Options configure a Strategy.
type Options struct {
	// LargeFileThreshold sends inputs at or above this size straight to the
	// engine. Zero disables the shortcut.
	LargeFileThreshold int64

	// CheckInterval is the number of rows between ctx checks.
	CheckInterval int
}

// Strategy converts worksheets by trying the in-memory reader, then the
// streaming reader, then the external engine. The first tier that
// produces rows wins; files left behind by a failed tier are removed
// before the next one runs.
type Strategy struct {
	memory backend.RowSource
	stream backend.RowSource
	engine SheetConverter
	opts   Options
}

// NewStrategy creates a strategy. Any reader may be nil, in which case its
// tier is skipped; a nil engine makes the last tier report
// ErrEngineUnavailable.
func NewStrategy(memory, stream backend.RowSource, engine SheetConverter, opts Options) *Strategy {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	return &Strategy{memory: memory, stream: stream, engine: engine, opts: opts}
}

// tier is one step of the strategy. Exactly one of src or engine is set.
type tier struct {
	name   string
	src    backend.RowSource
	engine SheetConverter
}

// plan returns the tiers to try for an input of the given size, in order.
func (s *Strategy) plan(size int64) []tier {
	engine := tier{name: backend.TierEngine, engine: s.engine}
	if s.opts.LargeFileThreshold > 0 && size >= s.opts.LargeFileThreshold {
		return []tier{engine}
	}

	var tiers []tier
	if s.memory != nil {
		tiers = append(tiers, tier{name: backend.TierMemory, src: s.memory})
	}
	if s.stream != nil {
		tiers = append(tiers, tier{name: backend.TierStream, src: s.stream})
	}
	return append(tiers, engine)
}

// SheetResult is the outcome of converting one worksheet.
type SheetResult struct {
	Sheet string
	Tier  string
	Files []core.OutputFile
	Rows  int
}

// sheetJob carries the per-sheet parameters through the tiers.
type sheetJob struct {
	input    string
	sheet    string
	outDir   string
	base     string
	maxRows  int
	maxBytes int64
	progress func(rows, total int)
}

// ConvertSheet converts one worksheet of input. Errors are
// *core.WorksheetError unless they are fatal for the whole run: a cancelled
// ctx or an engine that cannot be started.
func (s *Strategy) ConvertSheet(ctx context.Context, input, sheet string, opts core.ConvertOptions, progress ProgressFunc) (SheetResult, error) {
	info, err := os.Stat(input)
	if err != nil {
		return SheetResult{}, core.InvalidInputf("input file: %v", err)
	}
	return s.convertSheet(ctx, info.Size(), sheetJob{
		input:    input,
		sheet:    sheet,
		outDir:   opts.OutputDir,
		base:     BaseName(input),
		maxRows:  opts.MaxRows,
		maxBytes: opts.MaxFileSize,
		progress: func(rows, total int) {
			if progress != nil {
				progress(Progress{Sheet: sheet, SheetCount: 1, Rows: rows, TotalRows: total})
			}
		},
	})
}

func (s *Strategy) convertSheet(ctx context.Context, size int64, job sheetJob) (SheetResult, error) {
	log := logging.FromContext(ctx).With("sheet", job.sheet)

	var (
		lastErr   error
		lastTier  string
		emptyTier string
		failed    bool
	)
	for _, t := range s.plan(size) {
		var (
			res SheetResult
			err error
		)
		if t.src != nil {
			res, err = s.runReader(ctx, t, job)
		} else {
			res, err = s.runEngine(ctx, t, job)
		}
		if err == nil {
			log.Debug("worksheet converted", "tier", t.name, "rows", res.Rows, "files", len(res.Files))
			return res, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return SheetResult{}, ctxErr
		}
		if errors.Is(err, core.ErrEngineUnavailable) {
			// The in-process readers saw the sheet and found nothing; without
			// an engine that is the answer for this worksheet.
			if emptyTier != "" && !failed {
				break
			}
			return SheetResult{}, err
		}
		if errors.Is(err, core.ErrEmptyWorksheet) {
			log.Info("conversion tier found no rows, falling back", "tier", t.name)
			emptyTier = t.name
			continue
		}

		log.Warn("conversion tier failed, falling back", "tier", t.name, "error", err)
		lastErr, lastTier, failed = err, t.name, true
	}

	if !failed {
		return SheetResult{}, core.NewWorksheetError(job.sheet, emptyTier, core.ErrEmptyWorksheet)
	}
	return SheetResult{}, core.NewWorksheetError(job.sheet, lastTier,
		fmt.Errorf("%w: %v", core.ErrWorksheetConversionFailed, lastErr))
}

// runReader drives an in-process reader through a Writer.
func (s *Strategy) runReader(ctx context.Context, t tier, job sheetJob) (SheetResult, error) {
	it, err := t.src.OpenRows(ctx, job.input, job.sheet)
	if err != nil {
		return SheetResult{}, err
	}
	defer it.Close()

	total := -1
	if sized, ok := it.(interface{ Len() int }); ok {
		total = sized.Len()
	}

	w := NewWriter(job.outDir, job.base, job.sheet, job.maxRows, job.maxBytes)
	for i := 0; it.Next(); i++ {
		if i%s.opts.CheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				w.Abort()
				return SheetResult{}, err
			}
			if i > 0 {
				job.progress(i, total)
			}
		}

		row := it.Row()
		if row.IsEmpty() {
			continue
		}
		if err := w.Write(row); err != nil {
			w.Abort()
			return SheetResult{}, err
		}
	}
	if err := it.Err(); err != nil {
		w.Abort()
		return SheetResult{}, fmt.Errorf("read rows: %w", err)
	}

	files, err := w.Close()
	if err != nil {
		w.Abort()
		return SheetResult{}, err
	}
	if len(files) == 0 {
		return SheetResult{}, core.ErrEmptyWorksheet
	}
	return SheetResult{Sheet: job.sheet, Tier: t.name, Files: files, Rows: w.Total()}, nil
}

// runEngine hands the whole sheet to the external engine.
func (s *Strategy) runEngine(ctx context.Context, t tier, job sheetJob) (SheetResult, error) {
	if t.engine == nil {
		return SheetResult{}, &core.EngineUnavailableError{Tried: []string{"no engine configured"}}
	}

	first := filepath.Join(job.outDir, OutputName(job.base, job.sheet, 1))
	out, err := t.engine.ConvertSheet(ctx, backend.ConvertRequest{
		Input:    job.input,
		Sheet:    job.sheet,
		Output:   first,
		MaxRows:  job.maxRows,
		MaxBytes: job.maxBytes,
	}, func(p backend.EngineProgress) {
		if p.RowsRead > 0 {
			job.progress(0, p.RowsRead)
		}
	})
	if err != nil {
		removeParts(job.outDir, job.base, job.sheet)
		return SheetResult{}, err
	}
	if out.Rows == 0 || len(out.Files) == 0 {
		removeParts(job.outDir, job.base, job.sheet)
		return SheetResult{}, core.ErrEmptyWorksheet
	}
	return SheetResult{Sheet: job.sheet, Tier: t.name, Files: out.Files, Rows: out.Rows}, nil
}

// removeParts deletes the first output file of a sheet and every numbered
// part after it.
func removeParts(dir, base, sheet string) {
	os.Remove(filepath.Join(dir, OutputName(base, sheet, 1)))
	for n := 2; ; n++ {
		if err := os.Remove(filepath.Join(dir, OutputName(base, sheet, n))); err != nil {
			return
		}
	}
}

// Convert converts every worksheet named in opts. A failing worksheet adds
// a "<sheet>: <reason>" entry to the result's Errors and the run moves on;
// the run fails only when every worksheet failed, or immediately on a
// fatal error.
func (s *Strategy) Convert(ctx context.Context, input string, opts core.ConvertOptions, progress ProgressFunc) (core.ConvertResult, error) {
	result := core.ConvertResult{Files: []core.OutputFile{}}
	if err := opts.Validate(); err != nil {
		result.Error = err.Error()
		return result, err
	}
	info, err := os.Stat(input)
	if err != nil {
		err = core.InvalidInputf("input file: %v", err)
		result.Error = err.Error()
		return result, err
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		err = fmt.Errorf("create output directory: %w", err)
		result.Error = err.Error()
		return result, err
	}

	report := func(p Progress) {
		if progress != nil {
			progress(p)
		}
	}

	n := len(opts.Worksheets)
	for i, sheet := range opts.Worksheets {
		if err := ctx.Err(); err != nil {
			result.Error = err.Error()
			return result, err
		}

		res, err := s.convertSheet(ctx, info.Size(), sheetJob{
			input:    input,
			sheet:    sheet,
			outDir:   opts.OutputDir,
			base:     BaseName(input),
			maxRows:  opts.MaxRows,
			maxBytes: opts.MaxFileSize,
			progress: func(rows, total int) {
				report(Progress{Sheet: sheet, SheetIndex: i, SheetCount: n, Rows: rows, TotalRows: total})
			},
		})
		if err != nil {
			var wsErr *core.WorksheetError
			if !errors.As(err, &wsErr) {
				result.Error = err.Error()
				return result, err
			}
			result.Errors = append(result.Errors, wsErr.Error())
			report(Progress{Sheet: sheet, SheetIndex: i, SheetCount: n, TotalRows: -1, Done: true})
			continue
		}

		result.Files = append(result.Files, res.Files...)
		result.TotalRows += res.Rows
		report(Progress{Sheet: sheet, SheetIndex: i, SheetCount: n, Tier: res.Tier, Rows: res.Rows, TotalRows: res.Rows, Done: true})
	}

	if len(result.Errors) == n {
		result.Error = "all worksheets failed: " + strings.Join(result.Errors, "; ")
		return result, fmt.Errorf("%w: %s", core.ErrWorksheetConversionFailed, strings.Join(result.Errors, "; "))
	}
	result.Success = true
	return result, nil
}

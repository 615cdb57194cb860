package jobs

import (
	"context"
	"fmt"
	"os"

	"github.com/kcoder666/sheetflow/internal/core"
	"github.com/kcoder666/sheetflow/internal/logging"
)

// Lister lists the worksheets of a workbook.
type Lister interface {
	Name() string
	ListWorksheets(ctx context.Context, path string) ([]core.WorksheetDescriptor, error)
}

// Analyzer discovers worksheets in two passes: a quick listing to hand the
// caller sheet names early, then an exact listing with true row counts.
// Files at or above LargeFileThreshold are listed by Engine alone.
type Analyzer struct {
	Quick              Lister
	Exact              Lister
	Engine             Lister
	LargeFileThreshold int64
}

// analyze runs the passes, calling discovered after each successful one.
func (a Analyzer) analyze(ctx context.Context, path string, discovered func([]core.WorksheetDescriptor), progress func(int, string)) ([]core.WorksheetDescriptor, error) {
	log := logging.FromContext(ctx)

	info, err := os.Stat(path)
	if err != nil {
		return nil, core.InvalidInputf("input file: %v", err)
	}

	if a.LargeFileThreshold > 0 && info.Size() >= a.LargeFileThreshold {
		progress(10, "Listing worksheets with the external engine")
		return a.final(ctx, a.Engine, path, discovered)
	}

	var quick []core.WorksheetDescriptor
	if a.Quick != nil {
		progress(5, "Reading workbook structure")
		quick, err = a.Quick.ListWorksheets(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn("quick worksheet listing failed", "lister", a.Quick.Name(), "error", err)
			quick = nil
		} else {
			discovered(quick)
		}
	}

	if a.Exact != nil {
		progress(40, "Counting rows")
		exact, err := a.final(ctx, a.Exact, path, discovered)
		if err == nil {
			return exact, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("exact worksheet listing failed", "lister", a.Exact.Name(), "error", err)
	}
	if quick != nil {
		return quick, nil
	}

	log.Warn("in-process worksheet listing failed, trying external engine", "path", path)
	progress(60, "Listing worksheets with the external engine")
	return a.final(ctx, a.Engine, path, discovered)
}

func (a Analyzer) final(ctx context.Context, l Lister, path string, discovered func([]core.WorksheetDescriptor)) ([]core.WorksheetDescriptor, error) {
	if l == nil {
		return nil, &core.EngineUnavailableError{Tried: []string{"no engine configured"}}
	}
	sheets, err := l.ListWorksheets(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%s listing: %w", l.Name(), err)
	}
	discovered(sheets)
	return sheets, nil
}

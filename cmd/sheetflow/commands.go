package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kcoder666/sheetflow/internal/application"
	"github.com/kcoder666/sheetflow/internal/core"
	"github.com/kcoder666/sheetflow/internal/jobs"
	"github.com/kcoder666/sheetflow/internal/viewer"
)

func sheetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sheets <file>",
		Short: "List the worksheets of a workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := setup()
			if err != nil {
				return err
			}
			defer shutdown(app)

			ctx, stop := signalContext()
			defer stop()

			snap, err := runJob(ctx, app, func() (int64, error) {
				return app.Jobs.SubmitAnalyze(ctx, args[0])
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(snap.Listing)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tROWS\tCOLUMNS\tCOMPLEXITY\tREADABLE")
			for _, d := range snap.Listing.Worksheets {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n",
					d.Name, count(d.EstimatedRows), count(d.EstimatedColumns), d.Complexity, d.Accessible)
			}
			return tw.Flush()
		},
	}
}

func convertCmd() *cobra.Command {
	var (
		sheets  []string
		outDir  string
		maxRows int
		maxSize int64
	)
	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Convert worksheets to CSV",
		Long: `convert writes one CSV file per worksheet, or numbered parts when
--max-rows or --max-size is reached. Without -s every worksheet is converted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := setup()
			if err != nil {
				return err
			}
			defer shutdown(app)

			ctx, stop := signalContext()
			defer stop()

			input := args[0]
			if len(sheets) == 0 {
				if sheets, err = allSheets(ctx, app, input); err != nil {
					return err
				}
			}
			if outDir == "" {
				outDir = filepath.Dir(input)
			}

			snap, err := runJob(ctx, app, func() (int64, error) {
				return app.Jobs.SubmitConvert(ctx, input, core.ConvertOptions{
					Worksheets:  sheets,
					OutputDir:   outDir,
					MaxRows:     maxRows,
					MaxFileSize: maxSize,
				})
			})
			if snap.Conversion == nil {
				return err
			}
			if jsonOutput {
				if perr := printJSON(snap.Conversion); perr != nil {
					return perr
				}
				return err
			}

			for _, f := range snap.Conversion.Files {
				fmt.Printf("%s\t%d rows\n", f.Path, f.Rows)
			}
			for _, e := range snap.Conversion.Errors {
				fmt.Fprintf(os.Stderr, "warning: %s\n", e)
			}
			fmt.Printf("%d rows in %d files\n", snap.Conversion.TotalRows, len(snap.Conversion.Files))
			return err
		},
	}
	cmd.Flags().StringArrayVarP(&sheets, "sheet", "s", nil, "Worksheet to convert (repeatable)")
	cmd.Flags().StringVarP(&outDir, "output", "o", "", "Output directory (default: next to the input)")
	cmd.Flags().IntVar(&maxRows, "max-rows", 0, "Maximum data rows per output file")
	cmd.Flags().Int64Var(&maxSize, "max-size", 0, "Maximum bytes per output file")
	return cmd
}

func viewCmd() *cobra.Command {
	var (
		sheet string
		start int
		size  int
	)
	cmd := &cobra.Command{
		Use:   "view <file>",
		Short: "Print one page of a CSV file or worksheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := setup()
			if err != nil {
				return err
			}
			defer shutdown(app)

			ctx, stop := signalContext()
			defer stop()

			v := app.NewViewer()
			defer v.Close()

			info, err := v.Open(ctx, args[0])
			if err != nil {
				return err
			}
			columns := info.Columns
			if sheet != "" && sheet != info.CurrentSheet {
				si, err := v.SelectSheet(ctx, sheet)
				if err != nil {
					return err
				}
				columns = si.Columns
			}

			page, err := v.ReadPage(ctx, start, size)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(struct {
					Info viewer.Info `json:"info"`
					Page viewer.Page `json:"page"`
				}{info, page})
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			header := make([]string, len(columns))
			for i, c := range columns {
				header[i] = fmt.Sprintf("%s (%s)", c.Name, c.Type)
			}
			fmt.Fprintf(tw, "#\t%s\n", strings.Join(header, "\t"))
			for i, row := range page.Rows {
				fmt.Fprintf(tw, "%d\t%s\n", page.StartRow+i, strings.Join(row, "\t"))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "rows %d-%d of %d\n", page.StartRow, page.EndRow, page.TotalRows)
			return nil
		},
	}
	cmd.Flags().StringVar(&sheet, "sheet", "", "Worksheet to show (default: first)")
	cmd.Flags().IntVar(&start, "start", 0, "First data row, 0-based")
	cmd.Flags().IntVar(&size, "size", 0, "Rows to show (default: VIEWER_DEFAULT_PAGE_SIZE)")
	return cmd
}

// runJob submits a job and follows its events until it ends, printing
// progress to stderr. An interrupt cancels the job. The result comes from
// the terminal event, which a subscriber always receives, so it does not
// depend on the job still being tracked afterwards.
func runJob(ctx context.Context, app *application.App, submit func() (int64, error)) (jobs.Snapshot, error) {
	id, err := submit()
	if err != nil {
		return jobs.Snapshot{}, err
	}
	events, unsubscribe, err := app.Jobs.Subscribe(id)
	if err != nil {
		return jobs.Snapshot{}, err
	}
	defer unsubscribe()

	var last jobs.Event
	for ev := range follow(events, ctx.Done(), func() {
		fmt.Fprintln(os.Stderr, "\ncancelling...")
		app.Jobs.Cancel(id)
	}) {
		if ev.Type.Terminal() {
			last = ev
		}
		if jsonOutput {
			continue
		}
		switch ev.Type {
		case jobs.EventProgress:
			fmt.Fprintf(os.Stderr, "\r%3d%% %-60.60s", ev.Percent, ev.Stage)
		case jobs.EventCompleted, jobs.EventFailed, jobs.EventCancelled:
			fmt.Fprintln(os.Stderr)
		}
	}
	return outcome(last)
}

// outcome turns a terminal event into a snapshot and the command's error.
func outcome(ev jobs.Event) (jobs.Snapshot, error) {
	snap := jobs.Snapshot{ID: ev.JobID, Percent: ev.Percent, Stage: ev.Stage, Error: ev.Error}
	switch r := ev.Result.(type) {
	case *core.ConvertResult:
		snap.Conversion = r
	case *core.WorksheetListing:
		snap.Listing = r
	}

	switch ev.Type {
	case jobs.EventCompleted:
		snap.State = jobs.StateCompleted
		return snap, nil
	case jobs.EventCancelled:
		snap.State = jobs.StateCancelled
		return snap, context.Canceled
	case jobs.EventFailed:
		snap.State = jobs.StateFailed
		return snap, errors.New(ev.Error)
	default:
		return snap, fmt.Errorf("job %d ended without a result", ev.JobID)
	}
}

// follow re-emits events until the channel closes, calling onInterrupt the
// first time interrupted fires.
func follow(events <-chan jobs.Event, interrupted <-chan struct{}, onInterrupt func()) <-chan jobs.Event {
	out := make(chan jobs.Event)
	go func() {
		defer close(out)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				out <- ev
			case <-interrupted:
				interrupted = nil
				onInterrupt()
			}
		}
	}()
	return out
}

// allSheets lists every readable worksheet of input.
func allSheets(ctx context.Context, app *application.App, input string) ([]string, error) {
	snap, err := runJob(ctx, app, func() (int64, error) {
		return app.Jobs.SubmitAnalyze(ctx, input)
	})
	if err != nil {
		return nil, err
	}
	var names []string
	for _, d := range snap.Listing.Worksheets {
		if d.Accessible {
			names = append(names, d.Name)
		}
	}
	if len(names) == 0 {
		return nil, core.InvalidInputf("%s has no readable worksheets", input)
	}
	return names, nil
}

func count(n *int) string {
	if n == nil {
		return "?"
	}
	return fmt.Sprint(*n)
}
